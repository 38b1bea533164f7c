// Package postgres provides pgx-backed persistence for habits, completions,
// user progression, grant records, and the transactional outbox.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/habits/internal/domain"
	"example.com/habits/internal/events"
	"example.com/habits/internal/observability"
)

// Repository implements domain.Repository on Postgres. Mutating methods take
// a per-user advisory transaction lock so concurrent writers for the same
// user serialize at the database even across processes.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const lockStmt = `SELECT pg_advisory_xact_lock(hashtext($1))`

func (r *Repository) GetUser(ctx context.Context, userID string) (*domain.UserProgress, error) {
	const query = `SELECT user_id, timezone, total_xp, current_level, forgiveness_tokens, created_at, updated_at
        FROM users WHERE user_id=$1`

	row := r.pool.QueryRow(ctx, query, userID)
	var user domain.UserProgress
	if err := row.Scan(&user.UserID, &user.Timezone, &user.TotalXP, &user.CurrentLevel, &user.ForgivenessTokens, &user.CreatedAt, &user.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (r *Repository) CreateUser(ctx context.Context, user domain.UserProgress) error {
	const stmt = `INSERT INTO users (user_id, timezone, total_xp, current_level, forgiveness_tokens, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`

	level := user.CurrentLevel
	if level == 0 {
		level = 1
	}
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx, stmt, user.UserID, user.Timezone, user.TotalXP, level, user.ForgivenessTokens, now, now)
	return err
}

func (r *Repository) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id FROM users ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) GetHabit(ctx context.Context, habitID string) (*domain.Habit, error) {
	const query = `SELECT habit_id, user_id, name, frequency, custom_days, active, created_at, deactivated_at
        FROM habits WHERE habit_id=$1`

	row := r.pool.QueryRow(ctx, query, habitID)
	habit, err := scanHabit(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return habit, nil
}

func (r *Repository) CreateHabit(ctx context.Context, habit domain.Habit) error {
	const stmt = `INSERT INTO habits (habit_id, user_id, name, frequency, custom_days, active, created_at, deactivated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err := r.pool.Exec(ctx, stmt,
		habit.ID,
		habit.UserID,
		habit.Name,
		string(habit.Frequency),
		weekdaysToInts(habit.CustomDays),
		habit.Active,
		habit.CreatedAt,
		habit.DeactivatedAt,
	)
	return err
}

func (r *Repository) DeactivateHabit(ctx context.Context, habitID string, at time.Time) error {
	const stmt = `UPDATE habits SET active=false, deactivated_at=$2 WHERE habit_id=$1 AND active`

	tag, err := r.pool.Exec(ctx, stmt, habitID, at.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrHabitNotFound
	}
	return nil
}

func (r *Repository) ListHabitsByUser(ctx context.Context, userID string, includeInactive bool) ([]domain.Habit, error) {
	query := `SELECT habit_id, user_id, name, frequency, custom_days, active, created_at, deactivated_at
        FROM habits WHERE user_id=$1`
	if !includeInactive {
		query += ` AND active`
	}
	query += ` ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	habits := make([]domain.Habit, 0)
	for rows.Next() {
		habit, err := scanHabit(rows)
		if err != nil {
			return nil, err
		}
		habits = append(habits, *habit)
	}
	return habits, rows.Err()
}

const completionColumns = `completion_id, habit_id, user_id, completed_at, device_timezone, xp_earned, forgiveness_used, edited, revoked, created_at`

func (r *Repository) ListCompletions(ctx context.Context, habitID string) ([]domain.Completion, error) {
	query := `SELECT ` + completionColumns + `
        FROM completions WHERE habit_id=$1 AND NOT revoked
        ORDER BY completed_at DESC, completion_id DESC`

	rows, err := r.pool.Query(ctx, query, habitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCompletions(rows)
}

func (r *Repository) ListCompletionsPage(ctx context.Context, habitID string, cursor *domain.Cursor, limit int) ([]domain.Completion, *domain.Cursor, error) {
	args := []interface{}{habitID, limit}
	query := `SELECT ` + completionColumns + `
        FROM completions WHERE habit_id=$1 AND NOT revoked`

	if cursor != nil {
		query += ` AND (completed_at, completion_id) < ($3, $4)`
		args = append(args, cursor.CompletedAt, cursor.ID)
	}
	query += ` ORDER BY completed_at DESC, completion_id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results, err := scanCompletions(rows)
	if err != nil {
		return nil, nil, err
	}

	var next *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{CompletedAt: last.CompletedAt, ID: last.ID}
	}
	return results, next, nil
}

func (r *Repository) ListUserCompletionsBetween(ctx context.Context, userID string, from, to time.Time) ([]domain.Completion, error) {
	query := `SELECT ` + completionColumns + `
        FROM completions WHERE user_id=$1 AND NOT revoked AND completed_at >= $2 AND completed_at < $3
        ORDER BY completed_at DESC, completion_id DESC`

	rows, err := r.pool.Query(ctx, query, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCompletions(rows)
}

func (r *Repository) CountUserCompletions(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM completions WHERE user_id=$1 AND NOT revoked`, userID).Scan(&count)
	return count, err
}

func (r *Repository) CreateCompletion(ctx context.Context, completion domain.Completion, evts ...domain.Event) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, lockStmt, completion.UserID); err != nil {
		return err
	}

	const stmt = `INSERT INTO completions (` + completionColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

	_, err = tx.Exec(ctx, stmt,
		completion.ID,
		completion.HabitID,
		completion.UserID,
		completion.CompletedAt,
		completion.DeviceTimezone,
		completion.XPEarned,
		completion.ForgivenessUsed,
		completion.Edited,
		completion.Revoked,
		completion.CreatedAt,
	)
	if err != nil {
		return err
	}

	if err = insertOutbox(ctx, tx, completion.ID, evts); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return err
	}
	observability.RecordCompletionPersisted(completion.CreatedAt)
	return nil
}

func (r *Repository) RevokeCompletion(ctx context.Context, completionID string, evts ...domain.Event) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const stmt = `UPDATE completions SET revoked=true WHERE completion_id=$1 AND NOT revoked`
	tag, execErr := tx.Exec(ctx, stmt, completionID)
	if execErr != nil {
		err = execErr
		return err
	}
	if tag.RowsAffected() == 0 {
		err = domain.ErrCompletionNotFound
		return err
	}

	if err = insertOutbox(ctx, tx, completionID, evts); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return err
	}
	observability.RecordCompletionRevoked(time.Now().UTC())
	return nil
}

func (r *Repository) ApplyProgressDelta(ctx context.Context, userID string, delta domain.ProgressDelta, evts ...domain.Event) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, lockStmt, userID); err != nil {
		return err
	}

	const stmt = `UPDATE users SET
        total_xp = GREATEST(total_xp + $2, 0),
        forgiveness_tokens = LEAST(GREATEST(forgiveness_tokens + $3, 0), $4),
        current_level = CASE WHEN $5 > 0 THEN $5 ELSE current_level END,
        updated_at = NOW()
        WHERE user_id=$1`

	tag, execErr := tx.Exec(ctx, stmt, userID, delta.XP, delta.Tokens, domain.MaxForgivenessTokens, delta.NewLevel)
	if execErr != nil {
		err = execErr
		return err
	}
	if tag.RowsAffected() == 0 {
		err = domain.ErrUserNotFound
		return err
	}

	if err = insertOutbox(ctx, tx, userID, evts); err != nil {
		return err
	}
	err = tx.Commit(ctx)
	return err
}

func (r *Repository) FindGrant(ctx context.Context, userID, day string) (*domain.GrantRecord, error) {
	const query = `SELECT user_id, day, granted, created_at FROM forgiveness_grants WHERE user_id=$1 AND day=$2`

	row := r.pool.QueryRow(ctx, query, userID, day)
	var record domain.GrantRecord
	if err := row.Scan(&record.UserID, &record.Day, &record.Granted, &record.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *Repository) RecordGrant(ctx context.Context, record domain.GrantRecord, evts ...domain.Event) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, lockStmt, record.UserID); err != nil {
		return err
	}

	// ON CONFLICT DO NOTHING keeps re-runs idempotent even if two job
	// instances race past the FindGrant check in different processes.
	const stmt = `INSERT INTO forgiveness_grants (user_id, day, granted, created_at)
        VALUES ($1,$2,$3,$4) ON CONFLICT (user_id, day) DO NOTHING`

	if _, err = tx.Exec(ctx, stmt, record.UserID, record.Day, record.Granted, record.CreatedAt); err != nil {
		return err
	}

	if err = insertOutbox(ctx, tx, record.UserID, evts); err != nil {
		return err
	}
	err = tx.Commit(ctx)
	return err
}

func (r *Repository) CountForgivenessSpends(ctx context.Context, userID string, from, to time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM completions
        WHERE user_id=$1 AND forgiveness_used AND NOT revoked AND created_at >= $2 AND created_at < $3`

	var count int
	err := r.pool.QueryRow(ctx, query, userID, from, to).Scan(&count)
	return count, err
}

func insertOutbox(ctx context.Context, tx pgx.Tx, aggregateID string, evts []domain.Event) error {
	const stmt = `INSERT INTO outbox (event_type, topic, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5)`

	for _, evt := range evts {
		meta, ok := eventCatalog[evt.Type]
		if !ok {
			return fmt.Errorf("unknown event type: %s", evt.Type)
		}
		body, err := json.Marshal(evt.Payload)
		if err != nil {
			return err
		}
		dedupeKey := evt.DedupeKey
		if dedupeKey == "" {
			dedupeKey = fmt.Sprintf("%s:%s", aggregateID, evt.Type)
		}
		if _, err := tx.Exec(ctx, stmt, evt.Type, meta.Topic, evt.PartitionKey, body, dedupeKey); err != nil {
			return err
		}
	}
	return nil
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic string
}

var eventCatalog = map[string]EventMetadata{
	events.TypeHabitCompleted:     {Topic: "habit_events"},
	events.TypeCompletionRevoked:  {Topic: "habit_events"},
	events.TypeStreakMilestone:    {Topic: "habit_events"},
	events.TypeUserLeveledUp:      {Topic: "progression_events"},
	events.TypeForgivenessSpent:   {Topic: "forgiveness_events"},
	events.TypeForgivenessGranted: {Topic: "forgiveness_events"},
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHabit(row rowScanner) (*domain.Habit, error) {
	var habit domain.Habit
	var frequency string
	var customDays []int32
	if err := row.Scan(&habit.ID, &habit.UserID, &habit.Name, &frequency, &customDays, &habit.Active, &habit.CreatedAt, &habit.DeactivatedAt); err != nil {
		return nil, err
	}
	habit.Frequency = domain.Frequency(frequency)
	habit.CustomDays = intsToWeekdays(customDays)
	return &habit, nil
}

func scanCompletions(rows pgx.Rows) ([]domain.Completion, error) {
	results := make([]domain.Completion, 0)
	for rows.Next() {
		var c domain.Completion
		if err := rows.Scan(&c.ID, &c.HabitID, &c.UserID, &c.CompletedAt, &c.DeviceTimezone, &c.XPEarned, &c.ForgivenessUsed, &c.Edited, &c.Revoked, &c.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

func weekdaysToInts(days []time.Weekday) []int32 {
	if len(days) == 0 {
		return nil
	}
	out := make([]int32, len(days))
	for i, d := range days {
		out[i] = int32(d)
	}
	return out
}

func intsToWeekdays(values []int32) []time.Weekday {
	if len(values) == 0 {
		return nil
	}
	out := make([]time.Weekday, len(values))
	for i, v := range values {
		out[i] = time.Weekday(v)
	}
	return out
}
