package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrHabitNotFound is returned when a habit cannot be located.
	ErrHabitNotFound = errors.New("habit not found")
	// ErrUserNotFound is returned when a user has no progression record.
	ErrUserNotFound = errors.New("user not found")
	// ErrCompletionNotFound is returned when a same-day undo finds nothing
	// to revoke.
	ErrCompletionNotFound = errors.New("completion not found")
)

// ValidationCode identifies a malformed habit definition.
type ValidationCode string

const (
	ValidationInvalidFrequency     ValidationCode = "INVALID_FREQUENCY"
	ValidationCustomNoDaysSelected ValidationCode = "CUSTOM_NO_DAYS_SELECTED"
	ValidationInvalidDayValue      ValidationCode = "INVALID_DAY_VALUE"
	ValidationCustomDaysNotAllowed ValidationCode = "CUSTOM_DAYS_NOT_ALLOWED"
)

// ValidationError reports a construction-time habit definition failure.
type ValidationError struct {
	Code   ValidationCode
	Detail string
	Day    int // set for INVALID_DAY_VALUE
}

func (e *ValidationError) Error() string {
	switch e.Code {
	case ValidationInvalidDayValue:
		return fmt.Sprintf("invalid weekday value %d: must be 0-6", e.Day)
	case ValidationCustomNoDaysSelected:
		return "custom frequency requires at least one weekday"
	case ValidationCustomDaysNotAllowed:
		return "custom days are only valid with custom frequency"
	default:
		return fmt.Sprintf("invalid frequency: %q", e.Detail)
	}
}

// DenialReason identifies why a completion attempt was rejected.
type DenialReason string

const (
	DenialDailyAlreadyCompleted  DenialReason = "DAILY_ALREADY_COMPLETED"
	DenialWeeklyAlreadyCompleted DenialReason = "WEEKLY_ALREADY_COMPLETED"
	DenialCustomWrongDay         DenialReason = "CUSTOM_WRONG_DAY"
	DenialCustomAlreadyCompleted DenialReason = "CUSTOM_ALREADY_COMPLETED"
	DenialInvalidFrequency       DenialReason = "INVALID_FREQUENCY"
	DenialHabitNotStarted        DenialReason = "HABIT_NOT_STARTED"
	DenialHabitInactive          DenialReason = "HABIT_INACTIVE"
)

// EligibilityError carries a typed denial and, for custom-wrong-day, the set
// of weekdays on which the habit may be completed.
type EligibilityError struct {
	Reason      DenialReason
	AllowedDays []time.Weekday
}

func (e *EligibilityError) Error() string {
	if e.Reason == DenialCustomWrongDay {
		names := make([]string, 0, len(e.AllowedDays))
		for _, d := range e.AllowedDays {
			names = append(names, d.String())
		}
		return fmt.Sprintf("habit not scheduled today; allowed on %s", strings.Join(names, ", "))
	}
	return fmt.Sprintf("completion denied: %s", e.Reason)
}

// TokenFailure identifies why a forgiveness spend or grant was rejected.
type TokenFailure string

const (
	TokenFutureDate           TokenFailure = "FUTURE_DATE"
	TokenOutOfWindow          TokenFailure = "OUT_OF_WINDOW"
	TokenAlreadyCompleted     TokenFailure = "ALREADY_COMPLETED"
	TokenInsufficientTokens   TokenFailure = "INSUFFICIENT_TOKENS"
	TokenDailySpendCapReached TokenFailure = "DAILY_SPEND_CAP_REACHED"
)

// TokenError reports a ledger precondition failure.
type TokenError struct {
	Reason TokenFailure
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("forgiveness rejected: %s", e.Reason)
}
