package engine

import (
	"sort"
	"time"

	"example.com/habits/internal/domain"
	"example.com/habits/internal/timezone"
)

// StreakSnapshot is the derived streak state for one habit at a point in time.
type StreakSnapshot struct {
	CurrentStreak           int
	LongestStreak           int
	DaysSinceLastCompletion int // -1 when there are no completions
	LastCompletedDay        *timezone.Day
	CanUseForgiveness       bool
}

// ForgivenessWindowDays bounds how far back a missed day can be forgiven.
const ForgivenessWindowDays = 2

// CalculateStreak walks the habit's completion history and derives current
// and longest streaks. Daily and custom habits are measured in zoned days;
// weekly habits in ISO weeks. The current streak is anchored at today: it
// only counts an unbroken run that includes today's period.
func CalculateStreak(resolver *timezone.Resolver, habit *domain.Habit, history []domain.Completion, nowUTC time.Time, zone string) StreakSnapshot {
	days := distinctDays(resolver, history, zone)
	if len(days) == 0 {
		return StreakSnapshot{DaysSinceLastCompletion: -1}
	}

	today := resolver.DayOf(nowUTC, zone)
	weekly := habit.Frequency == domain.FrequencyWeekly

	periods := make([]int, 0, len(days))
	for _, d := range days {
		periods = append(periods, periodNumber(d, weekly))
	}
	// Same-week days collapse to one period for weekly habits.
	periods = dedupeSortedDesc(periods)

	snapshot := walk(periods, periodNumber(today, weekly))

	last := days[0]
	snapshot.LastCompletedDay = &last
	snapshot.DaysSinceLastCompletion = last.DaysUntil(today)

	since := snapshot.DaysSinceLastCompletion
	snapshot.CanUseForgiveness = since > 0 && since <= ForgivenessWindowDays

	return snapshot
}

// walk runs the expected-period cursor over distinct completion periods in
// descending order. A gap of zero extends the today-anchored current streak;
// a gap of one keeps the longest-tracking segment alive but unanchors the
// current streak; a larger gap starts a fresh segment.
func walk(periods []int, today int) StreakSnapshot {
	var snapshot StreakSnapshot
	segment := 0
	anchored := true
	expected := today

	for _, p := range periods {
		gap := expected - p
		switch {
		case gap < 0:
			// Future or duplicate anomaly relative to the cursor.
			continue
		case gap == 0:
			segment++
			if anchored {
				snapshot.CurrentStreak++
			}
		case gap == 1:
			segment++
			anchored = false
		default:
			segment = 1
			anchored = false
		}
		if segment > snapshot.LongestStreak {
			snapshot.LongestStreak = segment
		}
		expected = p - 1
	}

	return snapshot
}

func periodNumber(d timezone.Day, weekly bool) int {
	if weekly {
		return d.WeekNumber()
	}
	return d.Number()
}

// distinctDays projects completions onto zoned days, de-duplicates, and
// sorts most recent first.
func distinctDays(resolver *timezone.Resolver, history []domain.Completion, zone string) []timezone.Day {
	seen := make(map[timezone.Day]bool, len(history))
	days := make([]timezone.Day, 0, len(history))
	for _, c := range history {
		if c.Revoked {
			continue
		}
		day := resolver.DayOf(c.CompletedAt, zone)
		if !seen[day] {
			seen[day] = true
			days = append(days, day)
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[j].Before(days[i]) })
	return days
}

func dedupeSortedDesc(values []int) []int {
	out := values[:0]
	for i, v := range values {
		if i == 0 || out[len(out)-1] != v {
			out = append(out, v)
		}
	}
	return out
}
