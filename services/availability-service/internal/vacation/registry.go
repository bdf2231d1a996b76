package vacation

import (
	"time"

	"github.com/bookwell/schedcore/services/availability-service/internal/lifecycle"
	"github.com/bookwell/schedcore/services/availability-service/internal/model"
)

// Registry answers blackout containment queries over a provider's vacation
// periods. Periods are immutable once created; overlapping periods are
// harmless and allowed. A linear scan is fine at this scale.
type Registry struct {
	periods []model.VacationPeriod
}

func NewRegistry(periods []model.VacationPeriod) *Registry {
	return &Registry{periods: periods}
}

// IsBlackedOut reports whether the calendar date falls inside any period,
// inclusive on both ends.
func (r *Registry) IsBlackedOut(date time.Time) bool {
	for _, p := range r.periods {
		if !date.Before(p.StartDate) && !date.After(p.EndDate) {
			return true
		}
	}
	return false
}

// OverlappingBookings returns the bookings that share at least one calendar
// day (in loc) with the period. Matching is on full dates, year included.
// Used for the non-fatal conflict warning on vacation creation; the save
// still goes through and nothing is auto-cancelled.
func OverlappingBookings(p model.VacationPeriod, bookings []model.Booking, loc *time.Location) []model.Booking {
	var conflicts []model.Booking
	for _, b := range bookings {
		firstDay := lifecycle.DateOnly(b.StartTime, loc)
		// End instants at exactly midnight close the previous day.
		lastDay := lifecycle.DateOnly(b.EndTime.Add(-time.Nanosecond), loc)
		if !firstDay.After(p.EndDate) && !lastDay.Before(p.StartDate) {
			conflicts = append(conflicts, b)
		}
	}
	return conflicts
}
