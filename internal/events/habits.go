// Package events defines the payloads published to Kafka by the outbox
// dispatcher and consumed by the notification pipeline.
package events

import "time"

// Event type identifiers used for outbox routing and consumer dispatch.
const (
	TypeHabitCompleted     = "habit.completed"
	TypeCompletionRevoked  = "completion.revoked"
	TypeUserLeveledUp      = "user.leveled_up"
	TypeForgivenessSpent   = "forgiveness.spent"
	TypeForgivenessGranted = "forgiveness.granted"
	TypeStreakMilestone    = "streak.milestone"
)

// HabitCompleted is emitted when a completion is accepted.
type HabitCompleted struct {
	CompletionID    string    `json:"completion_id"`
	HabitID         string    `json:"habit_id"`
	UserID          string    `json:"user_id"`
	CompletedAt     time.Time `json:"completed_at"`
	Day             string    `json:"day"`
	CurrentStreak   int       `json:"current_streak"`
	XPEarned        int       `json:"xp_earned"`
	ForgivenessUsed bool      `json:"forgiveness_used"`
}

// CompletionRevoked is emitted when a same-day completion is undone.
type CompletionRevoked struct {
	CompletionID string    `json:"completion_id"`
	HabitID      string    `json:"habit_id"`
	UserID       string    `json:"user_id"`
	XPReversed   int       `json:"xp_reversed"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// UserLeveledUp is emitted when an XP award crosses one or more level
// thresholds.
type UserLeveledUp struct {
	UserID        string    `json:"user_id"`
	FromLevel     int       `json:"from_level"`
	ToLevel       int       `json:"to_level"`
	LevelsCrossed []int     `json:"levels_crossed"`
	BadgeAwarded  bool      `json:"badge_awarded"`
	BonusToken    bool      `json:"bonus_token"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// ForgivenessSpent is emitted when a token bridges a missed day.
type ForgivenessSpent struct {
	UserID       string    `json:"user_id"`
	HabitID      string    `json:"habit_id"`
	TargetDay    string    `json:"target_day"`
	BalanceAfter int       `json:"balance_after"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// ForgivenessGranted is emitted when the scheduled job awards a token.
type ForgivenessGranted struct {
	UserID       string    `json:"user_id"`
	Day          string    `json:"day"`
	BalanceAfter int       `json:"balance_after"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// StreakMilestone is emitted when a completion lands on a milestone length.
type StreakMilestone struct {
	UserID     string    `json:"user_id"`
	HabitID    string    `json:"habit_id"`
	Streak     int       `json:"streak"`
	OccurredAt time.Time `json:"occurred_at"`
}
