package slotgrid

import (
	"fmt"

	"github.com/bookwell/schedcore/services/availability-service/internal/model"
)

// Compile turns the selected hours of one weekday into the minimal ordered
// rule list for that day: a single linear scan over the sorted hours merging
// maximal contiguous runs. An empty day yields zero rules; an isolated hour
// yields a one-hour rule. Other weekdays are never read or touched.
//
// Output is sorted and non-overlapping by construction.
func Compile(g *Grid, day int, timezone string) ([]model.AvailabilityRule, error) {
	if day < 0 || day > 6 {
		return nil, &model.ValidationError{Field: "day", Message: fmt.Sprintf("weekday %d out of range 0-6", day)}
	}
	hours := g.Hours(day)
	if len(hours) == 0 {
		return nil, nil
	}
	for _, h := range hours {
		if h < MinHour || h > MaxHour {
			return nil, &model.ValidationError{Field: "slots", Message: fmt.Sprintf("hour %d on weekday %d outside allowed window %d-%d", h, day, MinHour, MaxHour)}
		}
	}

	var rules []model.AvailabilityRule
	runStart := hours[0]
	prev := hours[0]
	for _, h := range hours[1:] {
		if h == prev+1 {
			prev = h
			continue
		}
		rules = append(rules, newRule(day, runStart, prev, timezone))
		runStart = h
		prev = h
	}
	rules = append(rules, newRule(day, runStart, prev, timezone))
	return rules, nil
}

func newRule(day, firstHour, lastHour int, timezone string) model.AvailabilityRule {
	return model.AvailabilityRule{
		Weekday:     day,
		StartMinute: firstHour * 60,
		EndMinute:   (lastHour + 1) * 60,
		Timezone:    timezone,
	}
}
