package model

import (
	"fmt"
	"time"
)

// ScheduleDuration is the validity span of a schedule config.
type ScheduleDuration string

const (
	DurationMonth   ScheduleDuration = "month"
	DurationQuarter ScheduleDuration = "quarter"
	DurationYear    ScheduleDuration = "year"
	DurationCustom  ScheduleDuration = "custom"
)

func ParseScheduleDuration(s string) (ScheduleDuration, error) {
	switch ScheduleDuration(s) {
	case DurationMonth, DurationQuarter, DurationYear, DurationCustom:
		return ScheduleDuration(s), nil
	}
	return "", &ValidationError{Field: "duration", Message: fmt.Sprintf("invalid duration %q, want month|quarter|year|custom", s)}
}

// WeeklySlot is the default window template for one weekday.
type WeeklySlot struct {
	Enabled     bool `json:"enabled"`
	StartMinute int  `json:"start_minute"`
	EndMinute   int  `json:"end_minute"`
}

// ScheduleConfig wraps a provider's weekly rule set with a bounded validity
// window, a renewal policy and a reminder offset. EndDate is always derived
// from StartDate + duration, never edited independently.
type ScheduleConfig struct {
	ID              string
	ProviderID      string
	Weekly          [7]WeeklySlot
	Duration        ScheduleDuration
	CustomMonths    int
	StartDate       time.Time
	EndDate         time.Time
	AutoRenew       bool
	ReminderDays    int
	Timezone        string
	LastReminderFor *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Location resolves the config timezone, falling back to UTC.
func (c ScheduleConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
