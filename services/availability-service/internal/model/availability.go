package model

import (
	"fmt"
	"sort"
	"time"
)

// AvailabilityRule is one recurring weekly window a provider is bookable in.
// Times are minutes of day, interpreted in the rule's timezone.
type AvailabilityRule struct {
	ID          string
	ProviderID  string
	Weekday     int
	StartMinute int
	EndMinute   int
	Timezone    string
}

func (r AvailabilityRule) Validate() error {
	if r.Weekday < 0 || r.Weekday > 6 {
		return &ValidationError{Field: "weekday", Message: fmt.Sprintf("weekday %d out of range 0-6", r.Weekday)}
	}
	if r.StartMinute < 0 || r.StartMinute >= 1440 {
		return &ValidationError{Field: "start_time", Message: fmt.Sprintf("start minute %d out of range", r.StartMinute)}
	}
	if r.EndMinute <= 0 || r.EndMinute > 1440 {
		return &ValidationError{Field: "end_time", Message: fmt.Sprintf("end minute %d out of range", r.EndMinute)}
	}
	if r.StartMinute >= r.EndMinute {
		return &ValidationError{Field: "end_time", Message: "start_time must be before end_time"}
	}
	return nil
}

// Contains reports whether the minute of day falls inside [start, end).
func (r AvailabilityRule) Contains(minute int) bool {
	return minute >= r.StartMinute && minute < r.EndMinute
}

// ValidateRuleSet checks the per-weekday invariant for an externally supplied
// rule list: within each weekday, rules sorted by start and non-overlapping.
func ValidateRuleSet(rules []AvailabilityRule) error {
	byDay := map[int][]AvailabilityRule{}
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return err
		}
		byDay[r.Weekday] = append(byDay[r.Weekday], r)
	}
	for day, dayRules := range byDay {
		sorted := sort.SliceIsSorted(dayRules, func(i, j int) bool {
			return dayRules[i].StartMinute < dayRules[j].StartMinute
		})
		if !sorted {
			return &ValidationError{Field: "rules", Message: fmt.Sprintf("rules for weekday %d are not sorted by start_time", day)}
		}
		for i := 1; i < len(dayRules); i++ {
			if dayRules[i].StartMinute < dayRules[i-1].EndMinute {
				return &ValidationError{
					Field: "rules",
					Message: fmt.Sprintf("rules %s-%s and %s-%s overlap on weekday %d",
						FormatMinute(dayRules[i-1].StartMinute), FormatMinute(dayRules[i-1].EndMinute),
						FormatMinute(dayRules[i].StartMinute), FormatMinute(dayRules[i].EndMinute), day),
				}
			}
		}
	}
	return nil
}

// FormatMinute renders a minute of day as "HH:MM".
func FormatMinute(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// ParseMinute parses "HH:MM" into a minute of day.
func ParseMinute(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, &ValidationError{Field: "time", Message: fmt.Sprintf("invalid time %q, want HH:MM", s)}
	}
	return t.Hour()*60 + t.Minute(), nil
}

// VacationPeriod is a blackout date range. Dates are inclusive calendar days
// stored as UTC midnights; no time component is meaningful.
type VacationPeriod struct {
	ID         string
	ProviderID string
	StartDate  time.Time
	EndDate    time.Time
	Reason     string
	CreatedAt  time.Time
}

func (p VacationPeriod) Validate() error {
	if p.StartDate.IsZero() || p.EndDate.IsZero() {
		return &ValidationError{Field: "start_date", Message: "start_date and end_date are required"}
	}
	if p.EndDate.Before(p.StartDate) {
		return &ValidationError{Field: "end_date", Message: "end_date must not be before start_date"}
	}
	return nil
}

// Booking is the shape returned by the marketplace booking collaborator.
type Booking struct {
	ID         string
	ProviderID string
	StartTime  time.Time
	EndTime    time.Time
	Status     string
}
