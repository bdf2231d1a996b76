package lifecycle

import (
	"fmt"
	"time"

	"github.com/bookwell/schedcore/services/availability-service/internal/model"
)

// MaxCustomMonths bounds custom schedule spans to keep runaway windows out.
const MaxCustomMonths = 24

type State string

const (
	StateDraft   State = "draft"
	StateActive  State = "active"
	StateExpired State = "expired"
)

// DurationMonths maps a schedule duration onto calendar months.
func DurationMonths(d model.ScheduleDuration, customMonths int) (int, error) {
	switch d {
	case model.DurationMonth:
		return 1, nil
	case model.DurationQuarter:
		return 3, nil
	case model.DurationYear:
		return 12, nil
	case model.DurationCustom:
		if customMonths < 1 || customMonths > MaxCustomMonths {
			return 0, &model.ValidationError{Field: "custom_months", Message: fmt.Sprintf("custom_months must be 1-%d, got %d", MaxCustomMonths, customMonths)}
		}
		return customMonths, nil
	}
	return 0, &model.ValidationError{Field: "duration", Message: fmt.Sprintf("invalid duration %q", d)}
}

// ComputeEndDate adds the duration to startDate using calendar-month
// addition with end-of-month clamping: Jan 31 + 1 month lands on the last
// day of February, not in March.
func ComputeEndDate(startDate time.Time, d model.ScheduleDuration, customMonths int) (time.Time, error) {
	months, err := DurationMonths(d, customMonths)
	if err != nil {
		return time.Time{}, err
	}
	return addMonthsClamped(startDate, months), nil
}

func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	// First of the target month; time.Date normalizes month overflow.
	first := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	lastDay := first.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	h, m, s := t.Clock()
	return time.Date(first.Year(), first.Month(), day, h, m, s, t.Nanosecond(), t.Location())
}

// StateAt reports the lifecycle state on the given date. A config without an
// id has never been persisted and is a draft. The window is half-open:
// the end date itself is already outside it.
func StateAt(cfg model.ScheduleConfig, at time.Time) State {
	if cfg.ID == "" {
		return StateDraft
	}
	day := DateOnly(at, cfg.Location())
	if day.Before(cfg.StartDate) || !day.Before(cfg.EndDate) {
		return StateExpired
	}
	return StateActive
}

// Renew advances an expired auto-renewing config: the new period starts
// exactly where the old one ended (no gap, no overlap), keeping the weekly
// template and duration unchanged. It advances repeatedly until the window
// covers now, and clears the reminder marker for the new period.
func Renew(cfg model.ScheduleConfig, now time.Time) (model.ScheduleConfig, error) {
	day := DateOnly(now, cfg.Location())
	for !day.Before(cfg.EndDate) {
		end, err := ComputeEndDate(cfg.EndDate, cfg.Duration, cfg.CustomMonths)
		if err != nil {
			return model.ScheduleConfig{}, err
		}
		cfg.StartDate = cfg.EndDate
		cfg.EndDate = end
	}
	cfg.LastReminderFor = nil
	return cfg, nil
}

// ReminderAt is the day the expiry reminder becomes due.
func ReminderAt(cfg model.ScheduleConfig) time.Time {
	return cfg.EndDate.AddDate(0, 0, -cfg.ReminderDays)
}

// ReminderDue reports whether the expiry reminder for the current period
// should be emitted now. A reminder already sent for this period's end date
// suppresses duplicates on repeated reads.
func ReminderDue(cfg model.ScheduleConfig, now time.Time) bool {
	if cfg.ID == "" || cfg.ReminderDays <= 0 {
		return false
	}
	if cfg.LastReminderFor != nil && cfg.LastReminderFor.Equal(cfg.EndDate) {
		return false
	}
	day := DateOnly(now, cfg.Location())
	return !day.Before(ReminderAt(cfg)) && day.Before(cfg.EndDate)
}

// DateOnly truncates an instant to its calendar date in loc, re-anchored at
// UTC midnight so dates compare with ==/Before/After regardless of origin.
func DateOnly(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
