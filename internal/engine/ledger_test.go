package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/habits/internal/domain"
	"example.com/habits/internal/events"
	"example.com/habits/internal/timezone"
)

func (f *fixture) setTokens(t *testing.T, userID string, tokens int) {
	t.Helper()
	user, err := f.repo.GetUser(context.Background(), userID)
	require.NoError(t, err)
	err = f.repo.ApplyProgressDelta(context.Background(), userID,
		domain.ProgressDelta{Tokens: tokens - user.ForgivenessTokens, NewLevel: user.CurrentLevel})
	require.NoError(t, err)
}

func (f *fixture) day(offset int) timezone.Day {
	return timezone.NewResolver().DayOf(f.now, "UTC").AddDays(offset)
}

func TestSpendBridgesMissedDay(t *testing.T) {
	now := time.Date(2026, time.March, 10, 15, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	f.addUser(t, "user-1", "UTC")
	habit := &domain.Habit{
		ID: "habit-a", UserID: "user-1", Name: "Run",
		Frequency: domain.FrequencyDaily, Active: true, CreatedAt: now.AddDate(0, 0, -30),
	}
	require.NoError(t, f.repo.CreateHabit(context.Background(), *habit))
	ledger := NewLedger(f.processor, DefaultSpendCapPerDay)
	f.setTokens(t, "user-1", 2)

	// Completed today and two days ago; yesterday is the gap.
	for _, offset := range []int{0, -2} {
		err := f.repo.CreateCompletion(context.Background(), domain.Completion{
			ID:          habit.ID + f.day(offset).String(),
			HabitID:     habit.ID,
			UserID:      "user-1",
			CompletedAt: now.AddDate(0, 0, offset),
			CreatedAt:   now.AddDate(0, 0, offset),
		})
		require.NoError(t, err)
	}

	result, err := ledger.Spend(context.Background(), "user-1", habit.ID, f.day(-1))
	require.NoError(t, err)

	// The bridge makes three consecutive days.
	require.Equal(t, 3, result.Streak.CurrentStreak)
	require.Equal(t, 1, result.BalanceAfter)
	require.True(t, result.Completion.ForgivenessUsed)

	// Half of the normal streak-3 award: (10 + 6) / 2.
	require.Equal(t, 8, result.XPEarned)

	// The synthetic completion lands on the target day.
	r := timezone.NewResolver()
	require.Equal(t, f.day(-1), r.DayOf(result.Completion.CompletedAt, "UTC"))

	balance, err := ledger.Balance(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, 1, balance)

	require.Contains(t, f.eventTypes(), events.TypeForgivenessSpent)
}

func TestSpendRejectsFutureAndOutOfWindow(t *testing.T) {
	now := time.Date(2026, time.March, 10, 15, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	f.addUser(t, "user-1", "UTC")
	habit := f.addHabit(t, "user-1", domain.FrequencyDaily)
	ledger := NewLedger(f.processor, DefaultSpendCapPerDay)
	f.setTokens(t, "user-1", 3)

	cases := []struct {
		name   string
		target timezone.Day
		reason domain.TokenFailure
	}{
		{"tomorrow", f.day(1), domain.TokenFutureDate},
		{"today", f.day(0), domain.TokenOutOfWindow},
		{"three days back", f.day(-3), domain.TokenOutOfWindow},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ledger.Spend(context.Background(), "user-1", habit.ID, tc.target)
			var tErr *domain.TokenError
			require.ErrorAs(t, err, &tErr)
			require.Equal(t, tc.reason, tErr.Reason)
		})
	}
}

func TestSpendRejectsDayBeforeCreation(t *testing.T) {
	now := time.Date(2026, time.March, 10, 15, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	f.addUser(t, "user-1", "UTC")
	habit := f.addHabit(t, "user-1", domain.FrequencyDaily)
	ledger := NewLedger(f.processor, DefaultSpendCapPerDay)
	f.setTokens(t, "user-1", 3)

	// Creation is "now": yesterday predates the habit.
	_, err := ledger.Spend(context.Background(), "user-1", habit.ID, f.day(-1))
	var tErr *domain.TokenError
	require.ErrorAs(t, err, &tErr)
	require.Equal(t, domain.TokenOutOfWindow, tErr.Reason)
}

func TestSpendRejectsAlreadyCompleted(t *testing.T) {
	now := time.Date(2026, time.March, 10, 15, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	f.addUser(t, "user-1", "UTC")
	habit := &domain.Habit{
		ID:        "habit-old",
		UserID:    "user-1",
		Name:      "Run",
		Frequency: domain.FrequencyDaily,
		Active:    true,
		CreatedAt: now.AddDate(0, 0, -30),
	}
	require.NoError(t, f.repo.CreateHabit(context.Background(), *habit))
	ledger := NewLedger(f.processor, DefaultSpendCapPerDay)
	f.setTokens(t, "user-1", 3)

	err := f.repo.CreateCompletion(context.Background(), domain.Completion{
		ID:          "yesterday",
		HabitID:     habit.ID,
		UserID:      "user-1",
		CompletedAt: now.AddDate(0, 0, -1),
		CreatedAt:   now.AddDate(0, 0, -1),
	})
	require.NoError(t, err)

	_, err = ledger.Spend(context.Background(), "user-1", habit.ID, f.day(-1))
	var tErr *domain.TokenError
	require.ErrorAs(t, err, &tErr)
	require.Equal(t, domain.TokenAlreadyCompleted, tErr.Reason)
}

func TestSpendRejectsWithoutTokens(t *testing.T) {
	now := time.Date(2026, time.March, 10, 15, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	f.addUser(t, "user-1", "UTC")
	habit := &domain.Habit{
		ID:        "habit-old",
		UserID:    "user-1",
		Name:      "Run",
		Frequency: domain.FrequencyDaily,
		Active:    true,
		CreatedAt: now.AddDate(0, 0, -30),
	}
	require.NoError(t, f.repo.CreateHabit(context.Background(), *habit))
	ledger := NewLedger(f.processor, DefaultSpendCapPerDay)

	_, err := ledger.Spend(context.Background(), "user-1", habit.ID, f.day(-1))
	var tErr *domain.TokenError
	require.ErrorAs(t, err, &tErr)
	require.Equal(t, domain.TokenInsufficientTokens, tErr.Reason)
}

func TestSpendDailyCap(t *testing.T) {
	now := time.Date(2026, time.March, 10, 15, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	f.addUser(t, "user-1", "UTC")
	first := &domain.Habit{
		ID: "habit-a", UserID: "user-1", Name: "Run",
		Frequency: domain.FrequencyDaily, Active: true, CreatedAt: now.AddDate(0, 0, -30),
	}
	second := &domain.Habit{
		ID: "habit-b", UserID: "user-1", Name: "Read",
		Frequency: domain.FrequencyDaily, Active: true, CreatedAt: now.AddDate(0, 0, -30),
	}
	require.NoError(t, f.repo.CreateHabit(context.Background(), *first))
	require.NoError(t, f.repo.CreateHabit(context.Background(), *second))

	ledger := NewLedger(f.processor, 1)
	f.setTokens(t, "user-1", 3)

	_, err := ledger.Spend(context.Background(), "user-1", first.ID, f.day(-1))
	require.NoError(t, err)

	_, err = ledger.Spend(context.Background(), "user-1", second.ID, f.day(-1))
	var tErr *domain.TokenError
	require.ErrorAs(t, err, &tErr)
	require.Equal(t, domain.TokenDailySpendCapReached, tErr.Reason)
}

func TestGrantForUserQualifies(t *testing.T) {
	now := time.Date(2026, time.March, 10, 4, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	f.addUser(t, "user-1", "UTC")
	habit := &domain.Habit{
		ID: "habit-a", UserID: "user-1", Name: "Run",
		Frequency: domain.FrequencyDaily, Active: true, CreatedAt: now.AddDate(0, 0, -30),
	}
	require.NoError(t, f.repo.CreateHabit(context.Background(), *habit))

	err := f.repo.CreateCompletion(context.Background(), domain.Completion{
		ID:          "yesterday",
		HabitID:     habit.ID,
		UserID:      "user-1",
		CompletedAt: now.AddDate(0, 0, -1),
		CreatedAt:   now.AddDate(0, 0, -1),
	})
	require.NoError(t, err)

	ledger := NewLedger(f.processor, DefaultSpendCapPerDay)

	outcome, err := ledger.GrantForUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.True(t, outcome.Granted)
	require.False(t, outcome.AlreadyRan)
	require.Equal(t, 1, outcome.BalanceAfter)
	require.Contains(t, f.eventTypes(), events.TypeForgivenessGranted)

	// Re-running the job for the same day is a no-op.
	again, err := ledger.GrantForUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.True(t, again.AlreadyRan)
	require.Equal(t, 1, again.BalanceAfter)

	balance, err := ledger.Balance(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, 1, balance)
}

func TestGrantForUserMissedHabit(t *testing.T) {
	now := time.Date(2026, time.March, 10, 4, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	f.addUser(t, "user-1", "UTC")
	habit := &domain.Habit{
		ID: "habit-a", UserID: "user-1", Name: "Run",
		Frequency: domain.FrequencyDaily, Active: true, CreatedAt: now.AddDate(0, 0, -30),
	}
	require.NoError(t, f.repo.CreateHabit(context.Background(), *habit))

	ledger := NewLedger(f.processor, DefaultSpendCapPerDay)

	outcome, err := ledger.GrantForUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.False(t, outcome.Granted)
	require.Equal(t, 0, outcome.BalanceAfter)

	// The negative decision is also recorded: a later re-run stays negative
	// even if data changes.
	again, err := ledger.GrantForUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.True(t, again.AlreadyRan)
	require.False(t, again.Granted)
}

func TestGrantForUserAtCapRecordsWithoutToken(t *testing.T) {
	now := time.Date(2026, time.March, 10, 4, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	f.addUser(t, "user-1", "UTC")
	habit := &domain.Habit{
		ID: "habit-a", UserID: "user-1", Name: "Run",
		Frequency: domain.FrequencyDaily, Active: true, CreatedAt: now.AddDate(0, 0, -30),
	}
	require.NoError(t, f.repo.CreateHabit(context.Background(), *habit))
	require.NoError(t, f.repo.CreateCompletion(context.Background(), domain.Completion{
		ID:          "yesterday",
		HabitID:     habit.ID,
		UserID:      "user-1",
		CompletedAt: now.AddDate(0, 0, -1),
		CreatedAt:   now.AddDate(0, 0, -1),
	}))

	ledger := NewLedger(f.processor, DefaultSpendCapPerDay)
	f.setTokens(t, "user-1", domain.MaxForgivenessTokens)

	outcome, err := ledger.GrantForUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.True(t, outcome.Granted)
	require.Equal(t, domain.MaxForgivenessTokens, outcome.BalanceAfter)

	balance, err := ledger.Balance(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, domain.MaxForgivenessTokens, balance)
}

func TestGrantForUserNoHabits(t *testing.T) {
	now := time.Date(2026, time.March, 10, 4, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	f.addUser(t, "user-1", "UTC")

	ledger := NewLedger(f.processor, DefaultSpendCapPerDay)

	outcome, err := ledger.GrantForUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.False(t, outcome.Granted)
	require.False(t, outcome.AlreadyRan)

	// No record is written; the user is evaluated fresh next time.
	record, err := f.repo.FindGrant(context.Background(), "user-1", outcome.Day.String())
	require.NoError(t, err)
	require.Nil(t, record)
}

func TestGrantForUserCustomOffDayNotDue(t *testing.T) {
	// Evaluated day 2026-03-09 is a Monday; the habit runs Fridays only, so
	// nothing was due and no token is granted.
	now := time.Date(2026, time.March, 10, 4, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	f.addUser(t, "user-1", "UTC")
	habit := &domain.Habit{
		ID: "habit-a", UserID: "user-1", Name: "Gym",
		Frequency: domain.FrequencyCustom, Active: true,
		CustomDays: []time.Weekday{time.Friday},
		CreatedAt:  now.AddDate(0, 0, -30),
	}
	require.NoError(t, f.repo.CreateHabit(context.Background(), *habit))

	ledger := NewLedger(f.processor, DefaultSpendCapPerDay)

	outcome, err := ledger.GrantForUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.False(t, outcome.Granted)
}
