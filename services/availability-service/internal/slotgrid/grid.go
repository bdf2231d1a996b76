package slotgrid

import (
	"fmt"
	"sort"

	"github.com/bookwell/schedcore/services/availability-service/internal/model"
)

// Selectable hour window of the weekly editing grid. Hours outside this band
// are a caller bug, not a retryable condition.
const (
	MinHour = 6
	MaxHour = 21
)

// Grid is the ephemeral edit buffer for a provider's weekly availability:
// a sparse set of (weekday, hour) cells toggled on during an editing session.
// It is never persisted; it is rebuilt from stored rules when a session opens.
type Grid struct {
	selected map[int]map[int]struct{}
}

func New() *Grid {
	return &Grid{selected: make(map[int]map[int]struct{})}
}

func (g *Grid) Mark(day, hour int) error {
	if day < 0 || day > 6 {
		return &model.ValidationError{Field: "day", Message: fmt.Sprintf("weekday %d out of range 0-6", day)}
	}
	if hour < MinHour || hour > MaxHour {
		return &model.ValidationError{Field: "slots", Message: fmt.Sprintf("hour %d on weekday %d outside allowed window %d-%d", hour, day, MinHour, MaxHour)}
	}
	if g.selected[day] == nil {
		g.selected[day] = make(map[int]struct{})
	}
	g.selected[day][hour] = struct{}{}
	return nil
}

func (g *Grid) Unmark(day, hour int) {
	if cells, ok := g.selected[day]; ok {
		delete(cells, hour)
	}
}

func (g *Grid) Marked(day, hour int) bool {
	_, ok := g.selected[day][hour]
	return ok
}

// Hours returns the selected hours for one weekday in ascending order.
// The grid's backing store is never reordered; sorting happens on a copy.
func (g *Grid) Hours(day int) []int {
	cells := g.selected[day]
	if len(cells) == 0 {
		return nil
	}
	hours := make([]int, 0, len(cells))
	for h := range cells {
		hours = append(hours, h)
	}
	sort.Ints(hours)
	return hours
}

// FromRules expands persisted rules back into grid cells: each rule's
// [start, end) range becomes one cell per whole hour it spans.
func FromRules(rules []model.AvailabilityRule) *Grid {
	g := New()
	for _, r := range rules {
		for h := r.StartMinute / 60; h < (r.EndMinute+59)/60; h++ {
			if g.selected[r.Weekday] == nil {
				g.selected[r.Weekday] = make(map[int]struct{})
			}
			g.selected[r.Weekday][h] = struct{}{}
		}
	}
	return g
}
