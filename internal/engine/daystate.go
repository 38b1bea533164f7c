package engine

import (
	"time"

	"example.com/habits/internal/domain"
	"example.com/habits/internal/timezone"
)

// DayState is the habit's standing for one zoned day. Day rollover is
// implicit: the state is derived from "now", never stored.
type DayState string

const (
	StateNotEligible         DayState = "not_eligible"
	StateEligibleUncompleted DayState = "eligible_uncompleted"
	StateCompleted           DayState = "completed"
)

// StateForDay derives the habit's state for the day containing nowUTC.
func StateForDay(resolver *timezone.Resolver, habit *domain.Habit, history []domain.Completion, nowUTC time.Time, zone string) DayState {
	today := resolver.DayOf(nowUTC, zone)

	if !ActiveOn(resolver, habit, today, zone) {
		return StateNotEligible
	}

	switch habit.Frequency {
	case domain.FrequencyWeekly:
		if completedInWeek(resolver, history, today, zone) {
			return StateCompleted
		}
	case domain.FrequencyCustom:
		if !habit.AllowsWeekday(today.Weekday()) {
			return StateNotEligible
		}
		if completedOnDay(resolver, history, today, zone) {
			return StateCompleted
		}
	default:
		if completedOnDay(resolver, history, today, zone) {
			return StateCompleted
		}
	}

	return StateEligibleUncompleted
}
