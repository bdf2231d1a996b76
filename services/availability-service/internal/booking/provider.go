package booking

import (
	"context"
	"time"

	"github.com/bookwell/schedcore/services/availability-service/internal/model"
)

// Provider is the external booking store collaborator. Only confirmed
// bookings matter to availability; the implementation filters status.
type Provider interface {
	ListBookings(ctx context.Context, providerID string, from, to time.Time) ([]model.Booking, error)
}
