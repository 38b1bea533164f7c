// Package domain defines the aggregates and contracts for the habit
// progression service.
package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Frequency describes how often a habit may be completed.
type Frequency string

const (
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
	FrequencyCustom Frequency = "custom"
)

// IsValid reports whether the frequency is one of the known values.
func (f Frequency) IsValid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyCustom:
		return true
	default:
		return false
	}
}

// Habit is the immutable snapshot of a habit definition used by the
// calculators. Mutation happens through Repository operations only.
type Habit struct {
	ID            string
	UserID        string
	Name          string
	Frequency     Frequency
	CustomDays    []time.Weekday // non-empty iff Frequency == custom
	Active        bool
	CreatedAt     time.Time  // UTC instant
	DeactivatedAt *time.Time // UTC instant, nil while active
}

// NewHabitInput carries the caller-supplied habit definition.
type NewHabitInput struct {
	UserID     string
	Name       string
	Frequency  Frequency
	CustomDays []int // raw weekday values 0 (Sunday) .. 6 (Saturday)
}

// NewHabit validates the definition and builds a Habit. Validation here is
// construction-time only; completion-time eligibility lives in the engine.
func NewHabit(input NewHabitInput, now time.Time) (*Habit, error) {
	if !input.Frequency.IsValid() {
		return nil, &ValidationError{Code: ValidationInvalidFrequency, Detail: string(input.Frequency)}
	}

	var days []time.Weekday
	if input.Frequency == FrequencyCustom {
		if len(input.CustomDays) == 0 {
			return nil, &ValidationError{Code: ValidationCustomNoDaysSelected}
		}
		seen := make(map[int]bool, len(input.CustomDays))
		for _, d := range input.CustomDays {
			if d < 0 || d > 6 {
				return nil, &ValidationError{Code: ValidationInvalidDayValue, Day: d}
			}
			if !seen[d] {
				seen[d] = true
				days = append(days, time.Weekday(d))
			}
		}
		sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	} else if len(input.CustomDays) > 0 {
		return nil, &ValidationError{Code: ValidationCustomDaysNotAllowed}
	}

	return &Habit{
		ID:         uuid.NewString(),
		UserID:     input.UserID,
		Name:       input.Name,
		Frequency:  input.Frequency,
		CustomDays: days,
		Active:     true,
		CreatedAt:  now.UTC(),
	}, nil
}

// AllowsWeekday reports whether a custom habit is scheduled on the given
// weekday. Non-custom habits allow every weekday.
func (h *Habit) AllowsWeekday(day time.Weekday) bool {
	if h.Frequency != FrequencyCustom {
		return true
	}
	for _, d := range h.CustomDays {
		if d == day {
			return true
		}
	}
	return false
}
