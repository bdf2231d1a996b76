package service

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/bookwell/schedcore/services/availability-service/internal/storage"
)

// ErrNotFound is returned when a vacation, schedule or rule set does not
// exist for the caller's provider.
var ErrNotFound = errors.New("not found")

// ErrConflict surfaces the database exclusion constraint firing on a rule
// write, which happens when another instance replaced the same day between
// our delete and insert.
var ErrConflict = errors.New("rules conflict with a concurrent edit")

// UpstreamTimeoutError means the booking-store lookup exceeded its bounded
// timeout. Availability is then unknown and the service denies rather than
// risking a double booking.
type UpstreamTimeoutError struct {
	Op  string
	Err error
}

func (e *UpstreamTimeoutError) Error() string {
	return fmt.Sprintf("%s timed out: %v", e.Op, e.Err)
}

func (e *UpstreamTimeoutError) Unwrap() error { return e.Err }

// PersistenceError wraps a storage failure. Compilation is idempotent given
// the same input slots, so the caller may retry the same payload.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func isStoreNotFound(err error) bool {
	return storage.IsNotFound(err)
}

func isStoreConflict(err error) bool {
	return storage.IsConflict(err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
