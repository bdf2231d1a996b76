package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bookwell/schedcore/services/availability-service/internal/booking"
	"github.com/bookwell/schedcore/services/availability-service/internal/lifecycle"
	"github.com/bookwell/schedcore/services/availability-service/internal/model"
	"github.com/bookwell/schedcore/services/availability-service/internal/outbox"
	"github.com/bookwell/schedcore/services/availability-service/internal/slotgrid"
	"github.com/bookwell/schedcore/services/availability-service/internal/vacation"
)

// Store is the persistence surface the service needs. *storage.Repository
// implements it; tests use an in-memory fake.
type Store interface {
	ReplaceDayRules(ctx context.Context, providerID string, weekday int, rules []model.AvailabilityRule) ([]model.AvailabilityRule, error)
	ListRules(ctx context.Context, providerID string) ([]model.AvailabilityRule, error)
	ListDayRules(ctx context.Context, providerID string, weekday int) ([]model.AvailabilityRule, error)
	CreateVacation(ctx context.Context, p model.VacationPeriod) (model.VacationPeriod, error)
	DeleteVacation(ctx context.Context, providerID, vacationID string) error
	ListVacations(ctx context.Context, providerID string) ([]model.VacationPeriod, error)
	GetScheduleConfig(ctx context.Context, providerID string) (model.ScheduleConfig, bool, error)
	SaveScheduleConfig(ctx context.Context, cfg model.ScheduleConfig) (model.ScheduleConfig, error)
	ClaimReminder(ctx context.Context, providerID string, endDate time.Time) (bool, error)
	ReleaseReminder(ctx context.Context, providerID string, endDate time.Time) error
}

// Events receives domain events for asynchronous delivery. A nil sink
// disables emission.
type Events interface {
	Emit(ctx context.Context, evt outbox.Event) error
}

// Service orchestrates slot compilation, vacation blackouts, lifecycle
// bookkeeping and booking conflicts behind the availability API.
type Service struct {
	store    Store
	bookings booking.Provider
	events   Events
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	dayLocks map[string]*sync.Mutex
	cfgLocks map[string]*sync.Mutex
}

func New(store Store, bookings booking.Provider, events Events, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		bookings: bookings,
		events:   events,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		dayLocks: make(map[string]*sync.Mutex),
		cfgLocks: make(map[string]*sync.Mutex),
	}
}

// dayLock serializes the read-compile-replace sequence per (provider, day).
// Edits to different weekdays or different providers proceed concurrently.
func (s *Service) dayLock(providerID string, day int) *sync.Mutex {
	return s.lockFor(s.dayLocks, fmt.Sprintf("%s/%d", providerID, day))
}

// cfgLock serializes whole-config read-modify-writes per provider. The
// schedule config is one row, so concurrent writers that each load, mutate
// one field and save would overwrite each other without it.
func (s *Service) cfgLock(providerID string) *sync.Mutex {
	return s.lockFor(s.cfgLocks, providerID)
}

func (s *Service) lockFor(locks map[string]*sync.Mutex, key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := locks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	locks[key] = l
	return l
}

// SaveWeeklyEdits compiles the selected hours for one weekday and replaces
// that day's persisted rule set atomically. Returns the new rules.
func (s *Service) SaveWeeklyEdits(ctx context.Context, providerID string, day int, hours []int) ([]model.AvailabilityRule, error) {
	grid := slotgrid.New()
	for _, h := range hours {
		if err := grid.Mark(day, h); err != nil {
			return nil, err
		}
	}

	cfg, hasCfg, err := s.store.GetScheduleConfig(ctx, providerID)
	if err != nil {
		return nil, &PersistenceError{Op: "load schedule config", Err: err}
	}
	tz := "UTC"
	if hasCfg && cfg.Timezone != "" {
		tz = cfg.Timezone
	}

	rules, err := slotgrid.Compile(grid, day, tz)
	if err != nil {
		return nil, err
	}
	// Compiler output is sorted and non-overlapping by construction; this
	// guards the invariant against future callers feeding rules directly.
	if err := model.ValidateRuleSet(rules); err != nil {
		return nil, err
	}

	lock := s.dayLock(providerID, day)
	lock.Lock()
	defer lock.Unlock()

	saved, err := s.store.ReplaceDayRules(ctx, providerID, day, rules)
	if err != nil {
		if isStoreConflict(err) {
			return nil, ErrConflict
		}
		return nil, &PersistenceError{Op: "replace day rules", Err: err}
	}

	if hasCfg {
		updated, ok, err := s.updateTemplateSlots(ctx, providerID, map[int]model.WeeklySlot{day: templateSlot(saved)})
		if err != nil {
			return nil, err
		}
		if ok {
			s.maybeEmitReminder(ctx, updated)
		}
	}
	return saved, nil
}

// updateTemplateSlots folds freshly saved day windows into the weekly
// template. The config is re-read and saved under the provider lock, so a
// concurrent edit to another weekday cannot be overwritten by our stale copy.
func (s *Service) updateTemplateSlots(ctx context.Context, providerID string, slots map[int]model.WeeklySlot) (model.ScheduleConfig, bool, error) {
	lock := s.cfgLock(providerID)
	lock.Lock()
	defer lock.Unlock()

	cfg, ok, err := s.store.GetScheduleConfig(ctx, providerID)
	if err != nil {
		return model.ScheduleConfig{}, false, &PersistenceError{Op: "load schedule config", Err: err}
	}
	if !ok {
		return model.ScheduleConfig{}, false, nil
	}
	for day, slot := range slots {
		cfg.Weekly[day] = slot
	}
	cfg, err = s.store.SaveScheduleConfig(ctx, cfg)
	if err != nil {
		return model.ScheduleConfig{}, false, &PersistenceError{Op: "update weekly template", Err: err}
	}
	return cfg, true, nil
}

// ApplyToAllDays copies one day's compiled rule set onto the enabled target
// days. The source is already merged, so this is a straight copy, not a
// re-derivation, and days that are disabled stay disabled.
func (s *Service) ApplyToAllDays(ctx context.Context, providerID string, sourceDay int, targetDays []int) error {
	if sourceDay < 0 || sourceDay > 6 {
		return &model.ValidationError{Field: "source_day", Message: fmt.Sprintf("weekday %d out of range 0-6", sourceDay)}
	}
	for _, d := range targetDays {
		if d < 0 || d > 6 {
			return &model.ValidationError{Field: "target_days", Message: fmt.Sprintf("weekday %d out of range 0-6", d)}
		}
	}

	source, err := s.store.ListDayRules(ctx, providerID, sourceDay)
	if err != nil {
		return &PersistenceError{Op: "load source day", Err: err}
	}
	if len(source) == 0 {
		return &model.ValidationError{Field: "source_day", Message: "source day has no availability to copy"}
	}

	cfg, hasCfg, err := s.store.GetScheduleConfig(ctx, providerID)
	if err != nil {
		return &PersistenceError{Op: "load schedule config", Err: err}
	}

	slots := make(map[int]model.WeeklySlot)
	for _, day := range targetDays {
		if day == sourceDay {
			continue
		}
		enabled, err := s.dayEnabled(ctx, providerID, cfg, hasCfg, day)
		if err != nil {
			return err
		}
		if !enabled {
			continue
		}

		copied := make([]model.AvailabilityRule, 0, len(source))
		for _, r := range source {
			r.ID = ""
			r.Weekday = day
			copied = append(copied, r)
		}

		lock := s.dayLock(providerID, day)
		lock.Lock()
		saved, err := s.store.ReplaceDayRules(ctx, providerID, day, copied)
		lock.Unlock()
		if err != nil {
			if isStoreConflict(err) {
				return ErrConflict
			}
			return &PersistenceError{Op: "replace day rules", Err: err}
		}
		slots[day] = templateSlot(saved)
	}

	if hasCfg && len(slots) > 0 {
		updated, ok, err := s.updateTemplateSlots(ctx, providerID, slots)
		if err != nil {
			return err
		}
		if ok {
			s.maybeEmitReminder(ctx, updated)
		}
	}
	return nil
}

func (s *Service) dayEnabled(ctx context.Context, providerID string, cfg model.ScheduleConfig, hasCfg bool, day int) (bool, error) {
	if hasCfg {
		return cfg.Weekly[day].Enabled, nil
	}
	// No template yet: a day counts as enabled if it already has rules.
	existing, err := s.store.ListDayRules(ctx, providerID, day)
	if err != nil {
		return false, &PersistenceError{Op: "load target day", Err: err}
	}
	return len(existing) > 0, nil
}

// WeekRules returns the full persisted rule set, sorted by weekday then start.
func (s *Service) WeekRules(ctx context.Context, providerID string) ([]model.AvailabilityRule, error) {
	rules, err := s.store.ListRules(ctx, providerID)
	if err != nil {
		return nil, &PersistenceError{Op: "list rules", Err: err}
	}
	return rules, nil
}

func (s *Service) DayRules(ctx context.Context, providerID string, day int) ([]model.AvailabilityRule, error) {
	if day < 0 || day > 6 {
		return nil, &model.ValidationError{Field: "day", Message: fmt.Sprintf("weekday %d out of range 0-6", day)}
	}
	rules, err := s.store.ListDayRules(ctx, providerID, day)
	if err != nil {
		return nil, &PersistenceError{Op: "list day rules", Err: err}
	}
	return rules, nil
}

// CreateVacation stores a blackout period. If the period overlaps existing
// confirmed bookings, the save still succeeds and the conflicting bookings
// are returned so a human can react; nothing is auto-cancelled. A failed or
// timed-out booking lookup degrades to saving without a conflict list.
func (s *Service) CreateVacation(ctx context.Context, providerID string, startDate, endDate time.Time, reason string) (model.VacationPeriod, []model.Booking, error) {
	period := model.VacationPeriod{
		ProviderID: providerID,
		StartDate:  startDate,
		EndDate:    endDate,
		Reason:     reason,
	}
	if err := period.Validate(); err != nil {
		return model.VacationPeriod{}, nil, err
	}

	var conflicts []model.Booking
	if s.bookings != nil {
		loc := s.providerLocation(ctx, providerID)
		from := startDate
		to := endDate.AddDate(0, 0, 1)
		booked, err := s.bookings.ListBookings(ctx, providerID, from, to)
		if err != nil {
			s.logger.Warn("booking lookup failed during vacation create; saving without conflict check",
				"provider_id", providerID, "err", err)
		} else {
			conflicts = vacation.OverlappingBookings(period, booked, loc)
		}
	}

	saved, err := s.store.CreateVacation(ctx, period)
	if err != nil {
		return model.VacationPeriod{}, nil, &PersistenceError{Op: "create vacation", Err: err}
	}

	if len(conflicts) > 0 {
		s.emit(ctx, outbox.EventVacationConflict, providerID, map[string]any{
			"vacation_id": saved.ID,
			"provider_id": providerID,
			"start_date":  saved.StartDate.Format("2006-01-02"),
			"end_date":    saved.EndDate.Format("2006-01-02"),
			"conflicts":   len(conflicts),
		})
	}
	return saved, conflicts, nil
}

func (s *Service) RemoveVacation(ctx context.Context, providerID, vacationID string) error {
	err := s.store.DeleteVacation(ctx, providerID, vacationID)
	if err == nil {
		return nil
	}
	if isStoreNotFound(err) {
		return ErrNotFound
	}
	return &PersistenceError{Op: "delete vacation", Err: err}
}

func (s *Service) ListVacations(ctx context.Context, providerID string) ([]model.VacationPeriod, error) {
	periods, err := s.store.ListVacations(ctx, providerID)
	if err != nil {
		return nil, &PersistenceError{Op: "list vacations", Err: err}
	}
	return periods, nil
}

// ScheduleInput carries the lifecycle fields of a schedule save.
type ScheduleInput struct {
	Duration     string
	CustomMonths int
	AutoRenew    bool
	ReminderDays int
	Timezone     string
}

// ConfigureSchedule creates or updates the provider's schedule config.
// EndDate is always recomputed from StartDate + duration; changing the
// duration resets StartDate to today and opens a fresh period.
func (s *Service) ConfigureSchedule(ctx context.Context, providerID string, in ScheduleInput) (model.ScheduleConfig, error) {
	duration, err := model.ParseScheduleDuration(in.Duration)
	if err != nil {
		return model.ScheduleConfig{}, err
	}
	if duration != model.DurationCustom {
		in.CustomMonths = 0
	}
	if in.ReminderDays < 0 || in.ReminderDays > 90 {
		return model.ScheduleConfig{}, &model.ValidationError{Field: "reminder_days", Message: fmt.Sprintf("reminder_days must be 0-90, got %d", in.ReminderDays)}
	}
	if in.Timezone != "" {
		if _, err := time.LoadLocation(in.Timezone); err != nil {
			return model.ScheduleConfig{}, &model.ValidationError{Field: "timezone", Message: fmt.Sprintf("unknown timezone %q", in.Timezone)}
		}
	}

	lock := s.cfgLock(providerID)
	lock.Lock()
	defer lock.Unlock()

	cfg, exists, err := s.store.GetScheduleConfig(ctx, providerID)
	if err != nil {
		return model.ScheduleConfig{}, &PersistenceError{Op: "load schedule config", Err: err}
	}
	if !exists {
		cfg = model.ScheduleConfig{
			ProviderID: providerID,
			Weekly:     defaultWeeklyTemplate(),
			Timezone:   "UTC",
		}
	}
	if in.Timezone != "" {
		cfg.Timezone = in.Timezone
	}

	today := lifecycle.DateOnly(s.now(), cfg.Location())
	durationChanged := !exists || cfg.Duration != duration || cfg.CustomMonths != in.CustomMonths
	if durationChanged {
		cfg.StartDate = today
		cfg.LastReminderFor = nil
	}
	cfg.Duration = duration
	cfg.CustomMonths = in.CustomMonths
	cfg.AutoRenew = in.AutoRenew
	cfg.ReminderDays = in.ReminderDays

	cfg.EndDate, err = lifecycle.ComputeEndDate(cfg.StartDate, duration, in.CustomMonths)
	if err != nil {
		return model.ScheduleConfig{}, err
	}

	cfg, err = s.store.SaveScheduleConfig(ctx, cfg)
	if err != nil {
		return model.ScheduleConfig{}, &PersistenceError{Op: "save schedule config", Err: err}
	}
	s.maybeEmitReminder(ctx, cfg)
	return cfg, nil
}

// GetSchedule returns the provider's schedule config, applying lazy renewal
// and the lazy reminder check on the way.
func (s *Service) GetSchedule(ctx context.Context, providerID string) (model.ScheduleConfig, error) {
	cfg, ok, err := s.loadConfig(ctx, providerID)
	if err != nil {
		return model.ScheduleConfig{}, err
	}
	if !ok {
		return model.ScheduleConfig{}, ErrNotFound
	}
	return cfg, nil
}

// IsAvailable answers whether the provider can take a session starting at
// instant, checking in order: lifecycle window, vacation blackout, weekly
// rules, booking conflicts. First "no" wins. A booking-store timeout denies
// availability rather than assuming it.
func (s *Service) IsAvailable(ctx context.Context, providerID string, instant time.Time, session time.Duration) (bool, error) {
	cfg, ok, err := s.loadConfig(ctx, providerID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if lifecycle.StateAt(cfg, instant) != lifecycle.StateActive {
		return false, nil
	}

	loc := cfg.Location()
	local := instant.In(loc)
	day := lifecycle.DateOnly(instant, loc)

	periods, err := s.store.ListVacations(ctx, providerID)
	if err != nil {
		return false, &PersistenceError{Op: "list vacations", Err: err}
	}
	if vacation.NewRegistry(periods).IsBlackedOut(day) {
		return false, nil
	}

	rules, err := s.store.ListDayRules(ctx, providerID, int(local.Weekday()))
	if err != nil {
		return false, &PersistenceError{Op: "list day rules", Err: err}
	}
	minute := local.Hour()*60 + local.Minute()
	inRule := false
	for _, r := range rules {
		if r.Contains(minute) {
			inRule = true
			break
		}
	}
	if !inRule {
		return false, nil
	}

	if s.bookings != nil {
		dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		booked, err := s.bookings.ListBookings(ctx, providerID, dayStart, dayStart.AddDate(0, 0, 1))
		if err != nil {
			if isTimeout(err) {
				return false, &UpstreamTimeoutError{Op: "booking lookup", Err: err}
			}
			return false, fmt.Errorf("booking lookup: %w", err)
		}
		for _, b := range booked {
			if overlapsSession(instant, session, b) {
				return false, nil
			}
		}
	}
	return true, nil
}

// loadConfig fetches the schedule config and applies lazy lifecycle work:
// auto-renewal once the window has passed, and the expiry reminder check.
func (s *Service) loadConfig(ctx context.Context, providerID string) (model.ScheduleConfig, bool, error) {
	cfg, ok, err := s.store.GetScheduleConfig(ctx, providerID)
	if err != nil {
		return model.ScheduleConfig{}, false, &PersistenceError{Op: "load schedule config", Err: err}
	}
	if !ok {
		return model.ScheduleConfig{}, false, nil
	}

	now := s.now()
	if renewDue(cfg, now) {
		if cfg, err = s.renew(ctx, providerID, now); err != nil {
			return model.ScheduleConfig{}, false, err
		}
	}

	s.maybeEmitReminder(ctx, cfg)
	return cfg, true, nil
}

func renewDue(cfg model.ScheduleConfig, now time.Time) bool {
	return cfg.AutoRenew &&
		lifecycle.StateAt(cfg, now) == lifecycle.StateExpired &&
		!lifecycle.DateOnly(now, cfg.Location()).Before(cfg.EndDate)
}

// renew rolls an expired auto-renewing schedule into its next period. The
// config is re-read under the provider lock and the due check repeated, so
// two concurrent readers renew the schedule once, not twice.
func (s *Service) renew(ctx context.Context, providerID string, now time.Time) (model.ScheduleConfig, error) {
	lock := s.cfgLock(providerID)
	lock.Lock()
	defer lock.Unlock()

	cfg, ok, err := s.store.GetScheduleConfig(ctx, providerID)
	if err != nil {
		return model.ScheduleConfig{}, &PersistenceError{Op: "load schedule config", Err: err}
	}
	if !ok {
		return model.ScheduleConfig{}, ErrNotFound
	}
	if !renewDue(cfg, now) {
		return cfg, nil
	}

	renewed, err := lifecycle.Renew(cfg, now)
	if err != nil {
		return model.ScheduleConfig{}, err
	}
	if renewed, err = s.store.SaveScheduleConfig(ctx, renewed); err != nil {
		return model.ScheduleConfig{}, &PersistenceError{Op: "renew schedule", Err: err}
	}
	s.emit(ctx, outbox.EventScheduleRenewed, providerID, map[string]any{
		"provider_id": providerID,
		"start_date":  renewed.StartDate.Format("2006-01-02"),
		"end_date":    renewed.EndDate.Format("2006-01-02"),
	})
	return renewed, nil
}

// maybeEmitReminder runs the lazy reminder check. The ClaimReminder update
// is the dedup point: exactly one caller per end date wins and emits. A won
// claim whose emit fails is released again, so the next caller retries it
// instead of the reminder being silently lost.
func (s *Service) maybeEmitReminder(ctx context.Context, cfg model.ScheduleConfig) {
	if !lifecycle.ReminderDue(cfg, s.now()) {
		return
	}
	won, err := s.store.ClaimReminder(ctx, cfg.ProviderID, cfg.EndDate)
	if err != nil {
		s.logger.Warn("reminder claim failed", "provider_id", cfg.ProviderID, "err", err)
		return
	}
	if !won {
		return
	}
	err = s.emitEvent(ctx, outbox.EventReminderDue, cfg.ProviderID, map[string]any{
		"provider_id":   cfg.ProviderID,
		"end_date":      cfg.EndDate.Format("2006-01-02"),
		"reminder_days": cfg.ReminderDays,
	})
	if err != nil {
		s.logger.Warn("reminder emit failed, releasing claim",
			"provider_id", cfg.ProviderID, "err", err)
		if relErr := s.store.ReleaseReminder(ctx, cfg.ProviderID, cfg.EndDate); relErr != nil {
			s.logger.Error("reminder claim release failed",
				"provider_id", cfg.ProviderID, "err", relErr)
		}
	}
}

func (s *Service) emit(ctx context.Context, eventType, providerID string, payload map[string]any) {
	if err := s.emitEvent(ctx, eventType, providerID, payload); err != nil {
		s.logger.Error("failed to emit event", "event_type", eventType, "err", err)
	}
}

func (s *Service) emitEvent(ctx context.Context, eventType, providerID string, payload map[string]any) error {
	if s.events == nil {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("build event payload: %w", err)
	}
	return s.events.Emit(ctx, outbox.Event{
		AggregateType: "availability",
		AggregateID:   providerID,
		EventType:     eventType,
		Payload:       raw,
	})
}

func (s *Service) providerLocation(ctx context.Context, providerID string) *time.Location {
	cfg, ok, err := s.store.GetScheduleConfig(ctx, providerID)
	if err != nil || !ok {
		return time.UTC
	}
	return cfg.Location()
}

func overlapsSession(instant time.Time, session time.Duration, b model.Booking) bool {
	if session <= 0 {
		// Point query: the instant itself sits inside the booking.
		return !instant.Before(b.StartTime) && instant.Before(b.EndTime)
	}
	end := instant.Add(session)
	return instant.Before(b.EndTime) && b.StartTime.Before(end)
}

func templateSlot(rules []model.AvailabilityRule) model.WeeklySlot {
	if len(rules) == 0 {
		return model.WeeklySlot{}
	}
	return model.WeeklySlot{
		Enabled:     true,
		StartMinute: rules[0].StartMinute,
		EndMinute:   rules[len(rules)-1].EndMinute,
	}
}

// defaultWeeklyTemplate seeds a new schedule config: Mon-Fri 09:00-17:00
// enabled, weekend disabled.
func defaultWeeklyTemplate() [7]model.WeeklySlot {
	var weekly [7]model.WeeklySlot
	for d := 1; d <= 5; d++ {
		weekly[d] = model.WeeklySlot{Enabled: true, StartMinute: 540, EndMinute: 1020}
	}
	return weekly
}
