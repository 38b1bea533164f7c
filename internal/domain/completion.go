package domain

import "time"

// Completion records a single habit completion. Completions are immutable
// once written; a same-day undo marks Revoked instead of deleting the row so
// history is never lost.
type Completion struct {
	ID              string
	HabitID         string
	UserID          string
	CompletedAt     time.Time // UTC instant
	DeviceTimezone  string    // IANA zone id reported by the client
	XPEarned        int
	ForgivenessUsed bool
	Edited          bool
	Revoked         bool
	CreatedAt       time.Time // insert instant; differs from CompletedAt for forgiveness
}

// UserProgress is the per-user progression aggregate. TotalXP and
// ForgivenessTokens are only mutated through ProgressDelta applications.
type UserProgress struct {
	UserID            string
	Timezone          string // IANA zone id
	TotalXP           int
	CurrentLevel      int
	ForgivenessTokens int // invariant: 0..MaxForgivenessTokens
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// MaxForgivenessTokens caps the per-user forgiveness balance.
const MaxForgivenessTokens = 3

// ProgressDelta is the computed change applied to a UserProgress in one
// repository round trip.
type ProgressDelta struct {
	XP       int // may be negative for a same-day uncomplete
	Tokens   int // may be negative for a spend
	NewLevel int
}

// GrantRecord is the idempotency key for the scheduled forgiveness grant:
// at most one decision per user per zoned day.
type GrantRecord struct {
	UserID    string
	Day       string // civil day in the user's zone, formatted YYYY-MM-DD
	Granted   bool
	CreatedAt time.Time
}
