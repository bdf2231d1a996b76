package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bookwell/schedcore/services/availability-service/internal/model"
	"github.com/bookwell/schedcore/services/availability-service/internal/service"
)

type Handler struct {
	svc *service.Service
}

func New(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

func providerIDFromHeader(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Provider-Id"))
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		http.Error(w, verr.Error(), http.StatusBadRequest)
		return
	}
	if errors.Is(err, service.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if errors.Is(err, service.ErrConflict) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	var terr *service.UpstreamTimeoutError
	if errors.As(err, &terr) {
		http.Error(w, "upstream timed out", http.StatusGatewayTimeout)
		return
	}
	var perr *service.PersistenceError
	if errors.As(err, &perr) {
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	http.Error(w, "internal error", http.StatusInternalServerError)
}

type ruleView struct {
	ID          string `json:"id"`
	Weekday     int    `json:"weekday"`
	StartMinute int    `json:"start_minute"`
	EndMinute   int    `json:"end_minute"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Timezone    string `json:"timezone"`
}

func ruleViews(rules []model.AvailabilityRule) []ruleView {
	out := make([]ruleView, 0, len(rules))
	for _, r := range rules {
		out = append(out, ruleView{
			ID:          r.ID,
			Weekday:     r.Weekday,
			StartMinute: r.StartMinute,
			EndMinute:   r.EndMinute,
			Start:       model.FormatMinute(r.StartMinute),
			End:         model.FormatMinute(r.EndMinute),
			Timezone:    r.Timezone,
		})
	}
	return out
}

func (h *Handler) SaveWeekly(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	providerID := providerIDFromHeader(r)
	if providerID == "" {
		http.Error(w, "missing X-Provider-Id", http.StatusBadRequest)
		return
	}

	var req struct {
		Day   int   `json:"day"`
		Slots []int `json:"slots"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.Day < 0 || req.Day > 6 {
		http.Error(w, "day must be between 0 and 6", http.StatusBadRequest)
		return
	}

	rules, err := h.svc.SaveWeeklyEdits(r.Context(), providerID, req.Day, req.Slots)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"day":   req.Day,
		"rules": ruleViews(rules),
	})
}

func (h *Handler) ApplyWeekly(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	providerID := providerIDFromHeader(r)
	if providerID == "" {
		http.Error(w, "missing X-Provider-Id", http.StatusBadRequest)
		return
	}

	var req struct {
		SourceDay  int   `json:"source_day"`
		TargetDays []int `json:"target_days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if len(req.TargetDays) == 0 {
		// Default: copy to every other weekday.
		for d := 0; d <= 6; d++ {
			if d != req.SourceDay {
				req.TargetDays = append(req.TargetDays, d)
			}
		}
	}

	if err := h.svc.ApplyToAllDays(r.Context(), providerID, req.SourceDay, req.TargetDays); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetWeekly(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	providerID := providerIDFromHeader(r)
	if providerID == "" {
		http.Error(w, "missing X-Provider-Id", http.StatusBadRequest)
		return
	}

	dayStr := strings.TrimSpace(r.URL.Query().Get("day"))
	var (
		rules []model.AvailabilityRule
		err   error
	)
	if dayStr == "" {
		rules, err = h.svc.WeekRules(r.Context(), providerID)
	} else {
		day, convErr := strconv.Atoi(dayStr)
		if convErr != nil {
			http.Error(w, "invalid day", http.StatusBadRequest)
			return
		}
		rules, err = h.svc.DayRules(r.Context(), providerID, day)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"rules": ruleViews(rules),
	})
}

func (h *Handler) CreateVacation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	providerID := providerIDFromHeader(r)
	if providerID == "" {
		http.Error(w, "missing X-Provider-Id", http.StatusBadRequest)
		return
	}

	var req struct {
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
		Reason    string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	start, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(req.StartDate), time.UTC)
	if err != nil {
		http.Error(w, "invalid start_date, want YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	end, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(req.EndDate), time.UTC)
	if err != nil {
		http.Error(w, "invalid end_date, want YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	period, conflicts, err := h.svc.CreateVacation(r.Context(), providerID, start, end, strings.TrimSpace(req.Reason))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := map[string]any{
		"vacation": vacationView(period),
	}
	if len(conflicts) > 0 {
		resp["warning"] = "vacation overlaps existing confirmed bookings"
		resp["conflicts"] = conflicts
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(resp)
}

func vacationView(p model.VacationPeriod) map[string]any {
	return map[string]any{
		"id":         p.ID,
		"start_date": p.StartDate.Format("2006-01-02"),
		"end_date":   p.EndDate.Format("2006-01-02"),
		"reason":     p.Reason,
		"created_at": p.CreatedAt,
	}
}

func (h *Handler) ListVacations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	providerID := providerIDFromHeader(r)
	if providerID == "" {
		http.Error(w, "missing X-Provider-Id", http.StatusBadRequest)
		return
	}

	periods, err := h.svc.ListVacations(r.Context(), providerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	views := make([]map[string]any, 0, len(periods))
	for _, p := range periods {
		views = append(views, vacationView(p))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"vacations": views})
}

func (h *Handler) DeleteVacation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	providerID := providerIDFromHeader(r)
	if providerID == "" {
		http.Error(w, "missing X-Provider-Id", http.StatusBadRequest)
		return
	}

	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	if err := h.svc.RemoveVacation(r.Context(), providerID, id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func scheduleView(cfg model.ScheduleConfig) map[string]any {
	return map[string]any{
		"provider_id":   cfg.ProviderID,
		"duration":      string(cfg.Duration),
		"custom_months": cfg.CustomMonths,
		"start_date":    cfg.StartDate.Format("2006-01-02"),
		"end_date":      cfg.EndDate.Format("2006-01-02"),
		"auto_renew":    cfg.AutoRenew,
		"reminder_days": cfg.ReminderDays,
		"timezone":      cfg.Timezone,
		"weekly":        cfg.Weekly,
	}
}

func (h *Handler) SaveSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	providerID := providerIDFromHeader(r)
	if providerID == "" {
		http.Error(w, "missing X-Provider-Id", http.StatusBadRequest)
		return
	}

	var req struct {
		Duration     string `json:"duration"`
		CustomMonths int    `json:"custom_months"`
		AutoRenew    bool   `json:"auto_renew"`
		ReminderDays int    `json:"reminder_days"`
		Timezone     string `json:"timezone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	cfg, err := h.svc.ConfigureSchedule(r.Context(), providerID, service.ScheduleInput{
		Duration:     strings.TrimSpace(req.Duration),
		CustomMonths: req.CustomMonths,
		AutoRenew:    req.AutoRenew,
		ReminderDays: req.ReminderDays,
		Timezone:     strings.TrimSpace(req.Timezone),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(scheduleView(cfg))
}

func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	providerID := providerIDFromHeader(r)
	if providerID == "" {
		http.Error(w, "missing X-Provider-Id", http.StatusBadRequest)
		return
	}

	cfg, err := h.svc.GetSchedule(r.Context(), providerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(scheduleView(cfg))
}

// CheckAvailability is the cross-service query surface. The provider comes
// from the query string here because the caller is another service, not the
// provider's own dashboard.
func (h *Handler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	providerID := strings.TrimSpace(r.URL.Query().Get("provider_id"))
	if providerID == "" {
		http.Error(w, "provider_id is required", http.StatusBadRequest)
		return
	}
	instantStr := strings.TrimSpace(r.URL.Query().Get("instant"))
	if instantStr == "" {
		http.Error(w, "instant is required (RFC3339)", http.StatusBadRequest)
		return
	}
	instant, err := time.Parse(time.RFC3339, instantStr)
	if err != nil {
		http.Error(w, "invalid instant", http.StatusBadRequest)
		return
	}

	var session time.Duration
	if v := strings.TrimSpace(r.URL.Query().Get("duration_minutes")); v != "" {
		mins, convErr := strconv.Atoi(v)
		if convErr != nil || mins < 0 {
			http.Error(w, "invalid duration_minutes", http.StatusBadRequest)
			return
		}
		session = time.Duration(mins) * time.Minute
	}

	available, err := h.svc.IsAvailable(r.Context(), providerID, instant, session)
	if err != nil {
		// A timed-out booking lookup still answers: not available.
		var terr *service.UpstreamTimeoutError
		if errors.As(err, &terr) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"available": false,
				"degraded":  true,
			})
			return
		}
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"available": available,
	})
}
