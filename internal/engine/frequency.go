// Package engine holds the pure calculators for habit eligibility, streaks,
// forgiveness, and XP, plus the processor that sequences them for a single
// user action. Everything here operates on explicit snapshots and may be
// called concurrently without coordination.
package engine

import (
	"time"

	"example.com/habits/internal/domain"
	"example.com/habits/internal/timezone"
)

// Decision is the outcome of a completion eligibility check.
type Decision struct {
	Allowed     bool
	Reason      domain.DenialReason
	AllowedDays []time.Weekday // populated for CUSTOM_WRONG_DAY
}

func deny(reason domain.DenialReason) Decision {
	return Decision{Reason: reason}
}

// Err converts a denial into the service error taxonomy. Returns nil for an
// allowed decision.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &domain.EligibilityError{Reason: d.Reason, AllowedDays: d.AllowedDays}
}

// ActiveOn reports whether the habit is eligible to be counted or completed
// on the given zoned day. The boundary rule is fixed: the zoned creation day
// is included, the zoned deactivation day is excluded.
func ActiveOn(resolver *timezone.Resolver, habit *domain.Habit, day timezone.Day, zone string) bool {
	created := resolver.DayOf(habit.CreatedAt, zone)
	if day.Before(created) {
		return false
	}
	if habit.DeactivatedAt != nil {
		deactivated := resolver.DayOf(*habit.DeactivatedAt, zone)
		if !day.Before(deactivated) {
			return false
		}
	}
	return true
}

// CanComplete decides whether the habit may be completed at nowUTC, given its
// full (non-revoked) completion history and the user's zone. It is pure: no
// clock reads, no repository calls.
func CanComplete(resolver *timezone.Resolver, habit *domain.Habit, history []domain.Completion, nowUTC time.Time, zone string) Decision {
	if !habit.Frequency.IsValid() {
		return deny(domain.DenialInvalidFrequency)
	}

	today := resolver.DayOf(nowUTC, zone)

	created := resolver.DayOf(habit.CreatedAt, zone)
	if today.Before(created) {
		return deny(domain.DenialHabitNotStarted)
	}
	if !habit.Active || habit.DeactivatedAt != nil {
		if habit.DeactivatedAt == nil || !today.Before(resolver.DayOf(*habit.DeactivatedAt, zone)) {
			return deny(domain.DenialHabitInactive)
		}
	}

	switch habit.Frequency {
	case domain.FrequencyDaily:
		if completedOnDay(resolver, history, today, zone) {
			return deny(domain.DenialDailyAlreadyCompleted)
		}
	case domain.FrequencyWeekly:
		if completedInWeek(resolver, history, today, zone) {
			return deny(domain.DenialWeeklyAlreadyCompleted)
		}
	case domain.FrequencyCustom:
		if !habit.AllowsWeekday(today.Weekday()) {
			d := deny(domain.DenialCustomWrongDay)
			d.AllowedDays = append([]time.Weekday(nil), habit.CustomDays...)
			return d
		}
		if completedOnDay(resolver, history, today, zone) {
			return deny(domain.DenialCustomAlreadyCompleted)
		}
	}

	return Decision{Allowed: true}
}

func completedOnDay(resolver *timezone.Resolver, history []domain.Completion, day timezone.Day, zone string) bool {
	for _, c := range history {
		if c.Revoked {
			continue
		}
		if resolver.DayOf(c.CompletedAt, zone) == day {
			return true
		}
	}
	return false
}

func completedInWeek(resolver *timezone.Resolver, history []domain.Completion, day timezone.Day, zone string) bool {
	year, week := day.ISOWeek()
	for _, c := range history {
		if c.Revoked {
			continue
		}
		cy, cw := resolver.DayOf(c.CompletedAt, zone).ISOWeek()
		if cy == year && cw == week {
			return true
		}
	}
	return false
}
