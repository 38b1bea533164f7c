package domain

import (
	"context"
	"time"
)

// Clock supplies the current UTC instant. Injectable for deterministic tests.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock returns a Clock backed by the wall clock.
func SystemClock() Clock {
	return ClockFunc(func() time.Time { return time.Now().UTC() })
}

// Cursor models the pagination token for completion listings.
type Cursor struct {
	CompletedAt time.Time
	ID          string
}

// Event is an outbox envelope recorded in the same transaction as the
// mutation that produced it. Topic routing happens in the persistence layer.
type Event struct {
	Type         string
	PartitionKey string
	// DedupeKey makes redelivery detectable downstream. It must be unique
	// per logical event, e.g. "<completion-id>:habit.completed".
	DedupeKey string
	Payload   any
}

// Repository captures persistence operations. Implementations must provide
// read-modify-write semantics compatible with per-user serialization: all
// mutating calls for one user are expected to run under that user's lock.
type Repository interface {
	GetUser(ctx context.Context, userID string) (*UserProgress, error)
	CreateUser(ctx context.Context, user UserProgress) error
	ListUserIDs(ctx context.Context) ([]string, error)

	GetHabit(ctx context.Context, habitID string) (*Habit, error)
	CreateHabit(ctx context.Context, habit Habit) error
	DeactivateHabit(ctx context.Context, habitID string, at time.Time) error
	ListHabitsByUser(ctx context.Context, userID string, includeInactive bool) ([]Habit, error)

	// ListCompletions returns all non-revoked completions for one habit,
	// most recent first.
	ListCompletions(ctx context.Context, habitID string) ([]Completion, error)
	ListCompletionsPage(ctx context.Context, habitID string, cursor *Cursor, limit int) ([]Completion, *Cursor, error)
	// ListUserCompletionsBetween returns non-revoked completions for all of a
	// user's habits with CompletedAt in [from, to).
	ListUserCompletionsBetween(ctx context.Context, userID string, from, to time.Time) ([]Completion, error)
	CountUserCompletions(ctx context.Context, userID string) (int, error)
	CreateCompletion(ctx context.Context, completion Completion, events ...Event) error
	RevokeCompletion(ctx context.Context, completionID string, events ...Event) error

	// ApplyProgressDelta atomically applies an XP/token/level change to the
	// user's progression row, recording any events in the same transaction.
	ApplyProgressDelta(ctx context.Context, userID string, delta ProgressDelta, events ...Event) error

	// FindGrant returns the grant decision recorded for (user, day), or nil.
	FindGrant(ctx context.Context, userID, day string) (*GrantRecord, error)
	RecordGrant(ctx context.Context, record GrantRecord, events ...Event) error
	// CountForgivenessSpends counts synthetic completions created by spends
	// whose spend instant falls in [from, to).
	CountForgivenessSpends(ctx context.Context, userID string, from, to time.Time) (int, error)
}
