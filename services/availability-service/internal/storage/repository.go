package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bookwell/schedcore/libs/db"
	"github.com/bookwell/schedcore/services/availability-service/internal/model"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// ReplaceDayRules swaps one weekday's rule set atomically: the old rows are
// discarded and the new set inserted in a single transaction, so readers
// observe either the full old set or the full new set, never a torn mix.
func (r *Repository) ReplaceDayRules(ctx context.Context, providerID string, weekday int, rules []model.AvailabilityRule) ([]model.AvailabilityRule, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		DELETE FROM availability_rules
		WHERE provider_id = $1 AND weekday = $2
	`, providerID, weekday); err != nil {
		return nil, err
	}

	out := make([]model.AvailabilityRule, 0, len(rules))
	for _, rule := range rules {
		var id string
		err := tx.QueryRow(ctx, `
			INSERT INTO availability_rules (id, provider_id, weekday, start_minute, end_minute, timezone)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id::text
		`, uuid.NewString(), providerID, weekday, rule.StartMinute, rule.EndMinute, rule.Timezone).Scan(&id)
		if err != nil {
			return nil, err
		}
		rule.ID = id
		rule.ProviderID = providerID
		rule.Weekday = weekday
		out = append(out, rule)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) ListRules(ctx context.Context, providerID string) ([]model.AvailabilityRule, error) {
	return r.queryRules(ctx, `
		SELECT id::text, provider_id::text, weekday, start_minute, end_minute, timezone
		FROM availability_rules
		WHERE provider_id = $1
		ORDER BY weekday ASC, start_minute ASC
	`, providerID)
}

func (r *Repository) ListDayRules(ctx context.Context, providerID string, weekday int) ([]model.AvailabilityRule, error) {
	return r.queryRules(ctx, `
		SELECT id::text, provider_id::text, weekday, start_minute, end_minute, timezone
		FROM availability_rules
		WHERE provider_id = $1 AND weekday = $2
		ORDER BY start_minute ASC
	`, providerID, weekday)
}

func (r *Repository) queryRules(ctx context.Context, sql string, args ...any) ([]model.AvailabilityRule, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []model.AvailabilityRule
	for rows.Next() {
		var rule model.AvailabilityRule
		if err := rows.Scan(&rule.ID, &rule.ProviderID, &rule.Weekday, &rule.StartMinute, &rule.EndMinute, &rule.Timezone); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return rules, nil
}

func (r *Repository) CreateVacation(ctx context.Context, p model.VacationPeriod) (model.VacationPeriod, error) {
	p.ID = uuid.NewString()
	err := r.pool.QueryRow(ctx, `
		INSERT INTO vacation_periods (id, provider_id, start_date, end_date, reason)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, p.ID, p.ProviderID, p.StartDate, p.EndDate, p.Reason).Scan(&p.CreatedAt)
	if err != nil {
		return model.VacationPeriod{}, err
	}
	return p, nil
}

func (r *Repository) DeleteVacation(ctx context.Context, providerID, vacationID string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM vacation_periods
		WHERE provider_id = $1 AND id = $2
	`, providerID, vacationID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *Repository) ListVacations(ctx context.Context, providerID string) ([]model.VacationPeriod, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, provider_id::text, start_date, end_date, reason, created_at
		FROM vacation_periods
		WHERE provider_id = $1
		ORDER BY start_date ASC
	`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var periods []model.VacationPeriod
	for rows.Next() {
		var p model.VacationPeriod
		if err := rows.Scan(&p.ID, &p.ProviderID, &p.StartDate, &p.EndDate, &p.Reason, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.StartDate = p.StartDate.UTC()
		p.EndDate = p.EndDate.UTC()
		periods = append(periods, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return periods, nil
}

func (r *Repository) GetScheduleConfig(ctx context.Context, providerID string) (model.ScheduleConfig, bool, error) {
	var cfg model.ScheduleConfig
	var weeklyRaw []byte
	var lastReminder *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, provider_id::text, weekly, duration, COALESCE(custom_months, 0),
			start_date, end_date, auto_renew, reminder_days, timezone, last_reminder_for,
			created_at, updated_at
		FROM schedule_configs
		WHERE provider_id = $1
	`, providerID).Scan(
		&cfg.ID,
		&cfg.ProviderID,
		&weeklyRaw,
		&cfg.Duration,
		&cfg.CustomMonths,
		&cfg.StartDate,
		&cfg.EndDate,
		&cfg.AutoRenew,
		&cfg.ReminderDays,
		&cfg.Timezone,
		&lastReminder,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ScheduleConfig{}, false, nil
	}
	if err != nil {
		return model.ScheduleConfig{}, false, err
	}
	if err := json.Unmarshal(weeklyRaw, &cfg.Weekly); err != nil {
		return model.ScheduleConfig{}, false, err
	}
	cfg.StartDate = cfg.StartDate.UTC()
	cfg.EndDate = cfg.EndDate.UTC()
	if lastReminder != nil {
		t := lastReminder.UTC()
		cfg.LastReminderFor = &t
	}
	return cfg, true, nil
}

func (r *Repository) SaveScheduleConfig(ctx context.Context, cfg model.ScheduleConfig) (model.ScheduleConfig, error) {
	weeklyRaw, err := json.Marshal(cfg.Weekly)
	if err != nil {
		return model.ScheduleConfig{}, err
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	err = r.pool.QueryRow(ctx, `
		INSERT INTO schedule_configs
			(id, provider_id, weekly, duration, custom_months, start_date, end_date, auto_renew, reminder_days, timezone, last_reminder_for)
		VALUES ($1, $2, $3, $4, NULLIF($5, 0), $6, $7, $8, $9, $10, $11)
		ON CONFLICT (provider_id) DO UPDATE
		SET weekly = EXCLUDED.weekly,
			duration = EXCLUDED.duration,
			custom_months = EXCLUDED.custom_months,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			auto_renew = EXCLUDED.auto_renew,
			reminder_days = EXCLUDED.reminder_days,
			timezone = EXCLUDED.timezone,
			last_reminder_for = EXCLUDED.last_reminder_for,
			updated_at = now()
		RETURNING id::text, created_at, updated_at
	`, cfg.ID, cfg.ProviderID, weeklyRaw, cfg.Duration, cfg.CustomMonths,
		cfg.StartDate, cfg.EndDate, cfg.AutoRenew, cfg.ReminderDays, cfg.Timezone, cfg.LastReminderFor,
	).Scan(&cfg.ID, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return model.ScheduleConfig{}, err
	}
	return cfg, nil
}

// ClaimReminder marks the reminder for this period's end date as sent and
// reports whether this caller won the claim. Concurrent readers race here;
// exactly one sees true per end date.
func (r *Repository) ClaimReminder(ctx context.Context, providerID string, endDate time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE schedule_configs
		SET last_reminder_for = $2, updated_at = now()
		WHERE provider_id = $1
			AND (last_reminder_for IS NULL OR last_reminder_for <> $2)
	`, providerID, endDate)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseReminder undoes a won claim whose downstream emit failed. The
// end-date condition keeps it from clobbering a newer period's claim.
func (r *Repository) ReleaseReminder(ctx context.Context, providerID string, endDate time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE schedule_configs
		SET last_reminder_for = NULL, updated_at = now()
		WHERE provider_id = $1 AND last_reminder_for = $2
	`, providerID, endDate)
	return err
}

func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
