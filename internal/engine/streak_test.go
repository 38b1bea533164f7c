package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/habits/internal/domain"
	"example.com/habits/internal/timezone"
)

func historyOn(instants ...time.Time) []domain.Completion {
	out := make([]domain.Completion, 0, len(instants))
	for _, at := range instants {
		out = append(out, completionAt(at))
	}
	return out
}

func TestCalculateStreakEmptyHistory(t *testing.T) {
	r := timezone.NewResolver()
	habit := dailyHabit(time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC))
	now := time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)

	snapshot := CalculateStreak(r, habit, nil, now, "UTC")
	require.Equal(t, 0, snapshot.CurrentStreak)
	require.Equal(t, 0, snapshot.LongestStreak)
	require.Equal(t, -1, snapshot.DaysSinceLastCompletion)
	require.Nil(t, snapshot.LastCompletedDay)
	require.False(t, snapshot.CanUseForgiveness)
}

func TestCalculateStreakThreeConsecutiveDays(t *testing.T) {
	r := timezone.NewResolver()
	habit := dailyHabit(time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC))
	now := time.Date(2026, time.March, 4, 20, 0, 0, 0, time.UTC)

	history := historyOn(
		time.Date(2026, time.March, 4, 8, 0, 0, 0, time.UTC),
		time.Date(2026, time.March, 3, 8, 0, 0, 0, time.UTC),
		time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC),
	)

	snapshot := CalculateStreak(r, habit, history, now, "UTC")
	require.Equal(t, 3, snapshot.CurrentStreak)
	require.Equal(t, 3, snapshot.LongestStreak)
	require.Equal(t, 0, snapshot.DaysSinceLastCompletion)
	require.Equal(t, timezone.Day{Year: 2026, Month: time.March, Date: 4}, *snapshot.LastCompletedDay)
}

func TestCalculateStreakSingleDayGapKeepsSegment(t *testing.T) {
	r := timezone.NewResolver()
	habit := dailyHabit(time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC))
	now := time.Date(2026, time.March, 4, 20, 0, 0, 0, time.UTC)

	// Completed today and two days ago; yesterday was missed. The current
	// streak stops at today's run, but the segment survives the single gap
	// for longest-streak purposes.
	history := historyOn(
		time.Date(2026, time.March, 4, 8, 0, 0, 0, time.UTC),
		time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC),
	)

	snapshot := CalculateStreak(r, habit, history, now, "UTC")
	require.Equal(t, 1, snapshot.CurrentStreak)
	require.Equal(t, 2, snapshot.LongestStreak)
}

func TestCalculateStreakLargeGapResetsSegment(t *testing.T) {
	r := timezone.NewResolver()
	habit := dailyHabit(time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC))
	now := time.Date(2026, time.March, 4, 20, 0, 0, 0, time.UTC)

	history := historyOn(
		time.Date(2026, time.March, 4, 8, 0, 0, 0, time.UTC),
		time.Date(2026, time.March, 1, 8, 0, 0, 0, time.UTC),
	)

	snapshot := CalculateStreak(r, habit, history, now, "UTC")
	require.Equal(t, 1, snapshot.CurrentStreak)
	require.Equal(t, 1, snapshot.LongestStreak)
}

func TestCalculateStreakUnanchoredWhenTodayMissing(t *testing.T) {
	r := timezone.NewResolver()
	habit := dailyHabit(time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC))
	now := time.Date(2026, time.March, 4, 20, 0, 0, 0, time.UTC)

	history := historyOn(
		time.Date(2026, time.March, 3, 8, 0, 0, 0, time.UTC),
		time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC),
	)

	snapshot := CalculateStreak(r, habit, history, now, "UTC")
	require.Equal(t, 0, snapshot.CurrentStreak)
	require.Equal(t, 2, snapshot.LongestStreak)
	require.Equal(t, 1, snapshot.DaysSinceLastCompletion)
	require.True(t, snapshot.CanUseForgiveness)
}

func TestCalculateStreakForgivenessWindow(t *testing.T) {
	r := timezone.NewResolver()
	habit := dailyHabit(time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC))
	now := time.Date(2026, time.March, 10, 20, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		lastDay int
		canUse  bool
	}{
		{"completed today", 10, false},
		{"one day back", 9, true},
		{"two days back", 8, true},
		{"three days back", 7, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			history := historyOn(time.Date(2026, time.March, tc.lastDay, 8, 0, 0, 0, time.UTC))
			snapshot := CalculateStreak(r, habit, history, now, "UTC")
			require.Equal(t, tc.canUse, snapshot.CanUseForgiveness)
		})
	}
}

func TestCalculateStreakIgnoresRevokedAndDuplicates(t *testing.T) {
	r := timezone.NewResolver()
	habit := dailyHabit(time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC))
	now := time.Date(2026, time.March, 4, 20, 0, 0, 0, time.UTC)

	revoked := completionAt(time.Date(2026, time.March, 3, 8, 0, 0, 0, time.UTC))
	revoked.Revoked = true

	history := []domain.Completion{
		completionAt(time.Date(2026, time.March, 4, 8, 0, 0, 0, time.UTC)),
		completionAt(time.Date(2026, time.March, 4, 9, 0, 0, 0, time.UTC)),
		revoked,
	}

	snapshot := CalculateStreak(r, habit, history, now, "UTC")
	require.Equal(t, 1, snapshot.CurrentStreak)
	require.Equal(t, 1, snapshot.LongestStreak)
}

func TestCalculateStreakZonedDays(t *testing.T) {
	r := timezone.NewResolver()
	habit := dailyHabit(time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC))

	// Late-evening local completions on consecutive New York days sit only
	// hours apart in UTC and even share a UTC day.
	history := historyOn(
		time.Date(2026, time.March, 4, 3, 30, 0, 0, time.UTC), // Mar 3 22:30 local
		time.Date(2026, time.March, 3, 2, 30, 0, 0, time.UTC), // Mar 2 21:30 local
	)
	now := time.Date(2026, time.March, 4, 4, 0, 0, 0, time.UTC) // Mar 3 23:00 local

	snapshot := CalculateStreak(r, habit, history, now, "America/New_York")
	require.Equal(t, 2, snapshot.CurrentStreak)
	require.Equal(t, 2, snapshot.LongestStreak)

	// The same instants collapse differently in UTC: Mar 4 and Mar 3.
	utc := CalculateStreak(r, habit, history, now, "UTC")
	require.Equal(t, 2, utc.CurrentStreak)
}

func TestCalculateStreakWeeklyWalksISOWeeks(t *testing.T) {
	r := timezone.NewResolver()
	habit := dailyHabit(time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC))
	habit.Frequency = domain.FrequencyWeekly

	// Three completions in three consecutive ISO weeks.
	history := historyOn(
		time.Date(2026, time.March, 4, 8, 0, 0, 0, time.UTC),     // week of Mar 2
		time.Date(2026, time.February, 27, 8, 0, 0, 0, time.UTC), // week of Feb 23
		time.Date(2026, time.February, 17, 8, 0, 0, 0, time.UTC), // week of Feb 16
	)
	now := time.Date(2026, time.March, 5, 10, 0, 0, 0, time.UTC)

	snapshot := CalculateStreak(r, habit, history, now, "UTC")
	require.Equal(t, 3, snapshot.CurrentStreak)
	require.Equal(t, 3, snapshot.LongestStreak)

	// Two completions inside one week count once.
	doubled := append(history, completionAt(time.Date(2026, time.March, 3, 8, 0, 0, 0, time.UTC)))
	snapshot = CalculateStreak(r, habit, doubled, now, "UTC")
	require.Equal(t, 3, snapshot.CurrentStreak)

	// A missed week unanchors the current streak.
	lastWeekOnly := historyOn(time.Date(2026, time.February, 27, 8, 0, 0, 0, time.UTC))
	snapshot = CalculateStreak(r, habit, lastWeekOnly, now, "UTC")
	require.Equal(t, 0, snapshot.CurrentStreak)
	require.Equal(t, 1, snapshot.LongestStreak)
}
