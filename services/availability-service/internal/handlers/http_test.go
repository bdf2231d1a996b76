package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bookwell/schedcore/services/availability-service/internal/model"
	"github.com/bookwell/schedcore/services/availability-service/internal/service"
)

type fakeStore struct {
	rules     map[int][]model.AvailabilityRule
	vacations []model.VacationPeriod
	config    *model.ScheduleConfig
}

func newFakeStore() *fakeStore {
	return &fakeStore{rules: map[int][]model.AvailabilityRule{}}
}

func (f *fakeStore) ReplaceDayRules(_ context.Context, providerID string, weekday int, rules []model.AvailabilityRule) ([]model.AvailabilityRule, error) {
	saved := make([]model.AvailabilityRule, 0, len(rules))
	for i, r := range rules {
		r.ID = "rule-" + string(rune('a'+i))
		r.ProviderID = providerID
		r.Weekday = weekday
		saved = append(saved, r)
	}
	f.rules[weekday] = saved
	return saved, nil
}

func (f *fakeStore) ListRules(context.Context, string) ([]model.AvailabilityRule, error) {
	var out []model.AvailabilityRule
	for d := 0; d <= 6; d++ {
		out = append(out, f.rules[d]...)
	}
	return out, nil
}

func (f *fakeStore) ListDayRules(_ context.Context, _ string, weekday int) ([]model.AvailabilityRule, error) {
	return f.rules[weekday], nil
}

func (f *fakeStore) CreateVacation(_ context.Context, p model.VacationPeriod) (model.VacationPeriod, error) {
	p.ID = "vac-1"
	p.CreatedAt = time.Now().UTC()
	f.vacations = append(f.vacations, p)
	return p, nil
}

func (f *fakeStore) DeleteVacation(_ context.Context, _, vacationID string) error {
	for i, p := range f.vacations {
		if p.ID == vacationID {
			f.vacations = append(f.vacations[:i], f.vacations[i+1:]...)
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (f *fakeStore) ListVacations(context.Context, string) ([]model.VacationPeriod, error) {
	return f.vacations, nil
}

func (f *fakeStore) GetScheduleConfig(context.Context, string) (model.ScheduleConfig, bool, error) {
	if f.config == nil {
		return model.ScheduleConfig{}, false, nil
	}
	return *f.config, true, nil
}

func (f *fakeStore) SaveScheduleConfig(_ context.Context, cfg model.ScheduleConfig) (model.ScheduleConfig, error) {
	if cfg.ID == "" {
		cfg.ID = "cfg-1"
	}
	f.config = &cfg
	return cfg, nil
}

func (f *fakeStore) ClaimReminder(_ context.Context, _ string, endDate time.Time) (bool, error) {
	if f.config == nil {
		return false, nil
	}
	if f.config.LastReminderFor != nil && f.config.LastReminderFor.Equal(endDate) {
		return false, nil
	}
	f.config.LastReminderFor = &endDate
	return true, nil
}

func (f *fakeStore) ReleaseReminder(_ context.Context, _ string, endDate time.Time) error {
	if f.config != nil && f.config.LastReminderFor != nil && f.config.LastReminderFor.Equal(endDate) {
		f.config.LastReminderFor = nil
	}
	return nil
}

func newTestHandler(store service.Store) *Handler {
	return New(service.New(store, nil, nil, slog.New(slog.DiscardHandler)))
}

func TestSaveWeekly(t *testing.T) {
	store := newFakeStore()
	h := newTestHandler(store)

	body := `{"day":1,"slots":[9,10,11,14]}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/availability/weekly", strings.NewReader(body))
	req.Header.Set("X-Provider-Id", "prov-1")
	rec := httptest.NewRecorder()
	h.SaveWeekly(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Rules []struct {
			Start string `json:"start"`
			End   string `json:"end"`
		} `json:"rules"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Rules) != 2 {
		t.Fatalf("expected 2 merged rules, got %d", len(resp.Rules))
	}
	if resp.Rules[0].Start != "09:00" || resp.Rules[0].End != "12:00" {
		t.Fatalf("unexpected first rule: %+v", resp.Rules[0])
	}
}

func TestSaveWeekly_MissingProviderHeader(t *testing.T) {
	h := newTestHandler(newFakeStore())

	req := httptest.NewRequest(http.MethodPut, "/api/v1/availability/weekly", strings.NewReader(`{"day":1,"slots":[9]}`))
	rec := httptest.NewRecorder()
	h.SaveWeekly(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSaveWeekly_OutOfBoundsHour(t *testing.T) {
	h := newTestHandler(newFakeStore())

	req := httptest.NewRequest(http.MethodPut, "/api/v1/availability/weekly", strings.NewReader(`{"day":1,"slots":[5]}`))
	req.Header.Set("X-Provider-Id", "prov-1")
	rec := httptest.NewRecorder()
	h.SaveWeekly(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for hour outside grid, got %d", rec.Code)
	}
}

func TestSaveWeekly_MethodNotAllowed(t *testing.T) {
	h := newTestHandler(newFakeStore())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/availability/weekly", nil)
	rec := httptest.NewRecorder()
	h.SaveWeekly(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestGetWeekly_SingleDay(t *testing.T) {
	store := newFakeStore()
	store.rules[2] = []model.AvailabilityRule{
		{ID: "r1", ProviderID: "prov-1", Weekday: 2, StartMinute: 600, EndMinute: 720, Timezone: "UTC"},
	}
	h := newTestHandler(store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/availability/weekly?day=2", nil)
	req.Header.Set("X-Provider-Id", "prov-1")
	rec := httptest.NewRecorder()
	h.GetWeekly(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"10:00"`) {
		t.Fatalf("expected formatted start in body: %s", rec.Body.String())
	}
}

func TestCreateVacation(t *testing.T) {
	h := newTestHandler(newFakeStore())

	body := `{"start_date":"2025-03-10","end_date":"2025-03-14","reason":"spring break"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/availability/vacations", strings.NewReader(body))
	req.Header.Set("X-Provider-Id", "prov-1")
	rec := httptest.NewRecorder()
	h.CreateVacation(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "warning") {
		t.Fatal("no booking provider configured, body must not carry a warning")
	}
}

func TestCreateVacation_BadDates(t *testing.T) {
	h := newTestHandler(newFakeStore())

	for _, body := range []string{
		`{"start_date":"10/03/2025","end_date":"2025-03-14"}`,
		`{"start_date":"2025-03-14","end_date":"2025-03-10"}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/availability/vacations", strings.NewReader(body))
		req.Header.Set("X-Provider-Id", "prov-1")
		rec := httptest.NewRecorder()
		h.CreateVacation(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %s, got %d", body, rec.Code)
		}
	}
}

func TestDeleteVacation_NotFound(t *testing.T) {
	h := newTestHandler(newFakeStore())

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/availability/vacations?id=missing", nil)
	req.Header.Set("X-Provider-Id", "prov-1")
	rec := httptest.NewRecorder()
	h.DeleteVacation(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestScheduleRoundTrip(t *testing.T) {
	store := newFakeStore()
	h := newTestHandler(store)

	body := `{"duration":"quarter","auto_renew":true,"reminder_days":14,"timezone":"UTC"}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/availability/schedule", strings.NewReader(body))
	req.Header.Set("X-Provider-Id", "prov-1")
	rec := httptest.NewRecorder()
	h.SaveSchedule(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/availability/schedule", nil)
	req.Header.Set("X-Provider-Id", "prov-1")
	rec = httptest.NewRecorder()
	h.GetSchedule(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Duration     string `json:"duration"`
		AutoRenew    bool   `json:"auto_renew"`
		ReminderDays int    `json:"reminder_days"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Duration != "quarter" || !resp.AutoRenew || resp.ReminderDays != 14 {
		t.Fatalf("unexpected schedule: %+v", resp)
	}
}

func TestSaveSchedule_InvalidDuration(t *testing.T) {
	h := newTestHandler(newFakeStore())

	req := httptest.NewRequest(http.MethodPut, "/api/v1/availability/schedule", strings.NewReader(`{"duration":"fortnight"}`))
	req.Header.Set("X-Provider-Id", "prov-1")
	rec := httptest.NewRecorder()
	h.SaveSchedule(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetSchedule_NotFound(t *testing.T) {
	h := newTestHandler(newFakeStore())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/availability/schedule", nil)
	req.Header.Set("X-Provider-Id", "prov-1")
	rec := httptest.NewRecorder()
	h.GetSchedule(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCheckAvailability(t *testing.T) {
	store := newFakeStore()
	store.config = &model.ScheduleConfig{
		ID:         "cfg-1",
		ProviderID: "prov-1",
		Duration:   model.DurationYear,
		StartDate:  time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC),
		EndDate:    time.Date(2100, time.January, 1, 0, 0, 0, 0, time.UTC),
		Timezone:   "UTC",
	}
	// Every weekday 09:00-12:00.
	for d := 0; d <= 6; d++ {
		store.rules[d] = []model.AvailabilityRule{
			{ID: "r", ProviderID: "prov-1", Weekday: d, StartMinute: 540, EndMinute: 720, Timezone: "UTC"},
		}
	}
	h := newTestHandler(store)

	check := func(instant string) bool {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/availability/check?provider_id=prov-1&instant="+instant, nil)
		rec := httptest.NewRecorder()
		h.CheckAvailability(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var resp struct {
			Available bool `json:"available"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return resp.Available
	}

	if !check("2025-06-02T10:00:00Z") {
		t.Fatal("10:00 inside the window must be available")
	}
	if check("2025-06-02T13:00:00Z") {
		t.Fatal("13:00 outside the window must not be available")
	}
}

func TestCheckAvailability_BadParams(t *testing.T) {
	h := newTestHandler(newFakeStore())

	for _, target := range []string{
		"/api/v1/availability/check",
		"/api/v1/availability/check?provider_id=prov-1",
		"/api/v1/availability/check?provider_id=prov-1&instant=yesterday",
		"/api/v1/availability/check?provider_id=prov-1&instant=2025-06-02T10:00:00Z&duration_minutes=-5",
	} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rec := httptest.NewRecorder()
		h.CheckAvailability(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %s, got %d", target, rec.Code)
		}
	}
}
