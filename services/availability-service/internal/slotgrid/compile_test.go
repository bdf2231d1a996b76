package slotgrid

import (
	"errors"
	"reflect"
	"testing"

	"github.com/bookwell/schedcore/services/availability-service/internal/model"
)

func mustMark(t *testing.T, g *Grid, day int, hours ...int) {
	t.Helper()
	for _, h := range hours {
		if err := g.Mark(day, h); err != nil {
			t.Fatalf("mark %d/%d: %v", day, h, err)
		}
	}
}

func TestCompile_MergesContiguousRuns(t *testing.T) {
	g := New()
	mustMark(t, g, 1, 9, 10, 11, 14)

	rules, err := Compile(g, 1, "UTC")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}
	if rules[0].StartMinute != 9*60 || rules[0].EndMinute != 12*60 {
		t.Fatalf("expected 09:00-12:00, got %s-%s", model.FormatMinute(rules[0].StartMinute), model.FormatMinute(rules[0].EndMinute))
	}
	if rules[1].StartMinute != 14*60 || rules[1].EndMinute != 15*60 {
		t.Fatalf("expected 14:00-15:00, got %s-%s", model.FormatMinute(rules[1].StartMinute), model.FormatMinute(rules[1].EndMinute))
	}
}

func TestCompile_EmptyDayYieldsNoRules(t *testing.T) {
	g := New()
	mustMark(t, g, 2, 9)

	rules, err := Compile(g, 3, "UTC")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if len(rules) != 0 {
		t.Fatalf("expected no rules for untouched day, got %d", len(rules))
	}
}

func TestCompile_IsolatedHour(t *testing.T) {
	g := New()
	mustMark(t, g, 5, 7)

	rules, err := Compile(g, 5, "Europe/Berlin")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}
	if rules[0].StartMinute != 7*60 || rules[0].EndMinute != 8*60 {
		t.Fatalf("expected 07:00-08:00, got %s-%s", model.FormatMinute(rules[0].StartMinute), model.FormatMinute(rules[0].EndMinute))
	}
	if rules[0].Timezone != "Europe/Berlin" {
		t.Fatalf("timezone not carried: %s", rules[0].Timezone)
	}
}

func TestCompile_Idempotent(t *testing.T) {
	g := New()
	mustMark(t, g, 0, 8, 9, 12, 13, 14, 20)

	first, err := Compile(g, 0, "UTC")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	second, err := Compile(g, 0, "UTC")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("compile is not idempotent: %v vs %v", first, second)
	}
}

func TestCompile_OutputSatisfiesInvariant(t *testing.T) {
	g := New()
	mustMark(t, g, 4, 6, 7, 10, 11, 12, 18, 21)

	rules, err := Compile(g, 4, "UTC")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if err := model.ValidateRuleSet(rules); err != nil {
		t.Fatalf("compiled rules violate invariant: %v", err)
	}
	for i := 1; i < len(rules); i++ {
		if rules[i-1].EndMinute > rules[i].StartMinute {
			t.Fatalf("rules overlap: %v", rules)
		}
	}
}

func TestUnmark_SplitsRun(t *testing.T) {
	g := New()
	mustMark(t, g, 3, 9, 10, 11)
	g.Unmark(3, 10)

	rules, err := Compile(g, 3, "UTC")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules after deselect, got %d", len(rules))
	}
	if rules[0].EndMinute != 10*60 || rules[1].StartMinute != 11*60 {
		t.Fatalf("unexpected split: %v", rules)
	}
}

func TestMark_RejectsHourOutsideWindow(t *testing.T) {
	g := New()
	err := g.Mark(1, 22)
	var verr *model.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	if err := g.Mark(1, 5); err == nil {
		t.Fatal("expected error for hour before window")
	}
	if err := g.Mark(7, 9); err == nil {
		t.Fatal("expected error for invalid weekday")
	}
}

func TestRoundTrip_ExpandThenRecompile(t *testing.T) {
	g := New()
	mustMark(t, g, 2, 9, 10, 11, 15, 16)
	original, err := Compile(g, 2, "UTC")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	expanded := FromRules(original)
	recompiled, err := Compile(expanded, 2, "UTC")
	if err != nil {
		t.Fatalf("recompile: %v", err)
	}
	if !reflect.DeepEqual(original, recompiled) {
		t.Fatalf("expand-compile round trip changed rules:\n  was %v\n  got %v", original, recompiled)
	}
}

func TestFromRules_ExpandsWholeHours(t *testing.T) {
	rules := []model.AvailabilityRule{
		{Weekday: 1, StartMinute: 9 * 60, EndMinute: 12 * 60, Timezone: "UTC"},
	}
	g := FromRules(rules)
	for _, h := range []int{9, 10, 11} {
		if !g.Marked(1, h) {
			t.Fatalf("hour %d not marked", h)
		}
	}
	if g.Marked(1, 12) {
		t.Fatal("end hour must be exclusive")
	}
}
