package vacation

import (
	"testing"
	"time"

	"github.com/bookwell/schedcore/services/availability-service/internal/model"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestIsBlackedOut_InclusiveBounds(t *testing.T) {
	reg := NewRegistry([]model.VacationPeriod{
		{ID: "v1", StartDate: date(2025, time.March, 10), EndDate: date(2025, time.March, 14)},
	})

	for _, d := range []time.Time{
		date(2025, time.March, 10),
		date(2025, time.March, 12),
		date(2025, time.March, 14),
	} {
		if !reg.IsBlackedOut(d) {
			t.Fatalf("%s must be blacked out", d.Format("2006-01-02"))
		}
	}
	if reg.IsBlackedOut(date(2025, time.March, 15)) {
		t.Fatal("2025-03-15 must not be blacked out")
	}
	if reg.IsBlackedOut(date(2025, time.March, 9)) {
		t.Fatal("2025-03-09 must not be blacked out")
	}
}

func TestIsBlackedOut_OverlappingPeriodsAllowed(t *testing.T) {
	reg := NewRegistry([]model.VacationPeriod{
		{ID: "v1", StartDate: date(2025, time.June, 1), EndDate: date(2025, time.June, 10)},
		{ID: "v2", StartDate: date(2025, time.June, 5), EndDate: date(2025, time.June, 20)},
	})
	if !reg.IsBlackedOut(date(2025, time.June, 7)) {
		t.Fatal("date inside both periods must be blacked out")
	}
	if !reg.IsBlackedOut(date(2025, time.June, 15)) {
		t.Fatal("date inside the second period must be blacked out")
	}
}

func TestOverlappingBookings_FullDateMatch(t *testing.T) {
	period := model.VacationPeriod{
		StartDate: date(2025, time.March, 10),
		EndDate:   date(2025, time.March, 14),
	}
	bookings := []model.Booking{
		{ID: "b1", StartTime: time.Date(2025, time.March, 12, 10, 0, 0, 0, time.UTC), EndTime: time.Date(2025, time.March, 12, 11, 0, 0, 0, time.UTC)},
		{ID: "b2", StartTime: time.Date(2025, time.March, 20, 10, 0, 0, 0, time.UTC), EndTime: time.Date(2025, time.March, 20, 11, 0, 0, 0, time.UTC)},
		// Same day and month, wrong year: must not match.
		{ID: "b3", StartTime: time.Date(2024, time.March, 12, 10, 0, 0, 0, time.UTC), EndTime: time.Date(2024, time.March, 12, 11, 0, 0, 0, time.UTC)},
	}

	conflicts := OverlappingBookings(period, bookings, time.UTC)
	if len(conflicts) != 1 || conflicts[0].ID != "b1" {
		t.Fatalf("expected only b1 to conflict, got %v", conflicts)
	}
}

func TestOverlappingBookings_MidnightEndClosesPreviousDay(t *testing.T) {
	period := model.VacationPeriod{
		StartDate: date(2025, time.March, 15),
		EndDate:   date(2025, time.March, 15),
	}
	// Ends exactly at midnight on the 15th: occupies the 14th only.
	booking := model.Booking{
		ID:        "b1",
		StartTime: time.Date(2025, time.March, 14, 23, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2025, time.March, 15, 0, 0, 0, 0, time.UTC),
	}
	if got := OverlappingBookings(period, []model.Booking{booking}, time.UTC); len(got) != 0 {
		t.Fatalf("midnight-terminated booking must not conflict with the next day, got %v", got)
	}
}
