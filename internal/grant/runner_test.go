package grant

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"example.com/habits/internal/domain"
	"example.com/habits/internal/engine"
	"example.com/habits/internal/persistence/memory"
	"example.com/habits/internal/timezone"
)

// faultyRepo fails GetUser for one user to exercise per-user isolation.
type faultyRepo struct {
	*memory.Repository
	failUser string
}

func (r *faultyRepo) GetUser(ctx context.Context, userID string) (*domain.UserProgress, error) {
	if userID == r.failUser {
		return nil, errors.New("storage unavailable")
	}
	return r.Repository.GetUser(ctx, userID)
}

func seedQualifyingUser(t *testing.T, repo domain.Repository, userID string, now time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.CreateUser(ctx, domain.UserProgress{
		UserID:       userID,
		Timezone:     "UTC",
		CurrentLevel: 1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}))
	habitID := userID + "-habit"
	require.NoError(t, repo.CreateHabit(ctx, domain.Habit{
		ID:        habitID,
		UserID:    userID,
		Name:      "Run",
		Frequency: domain.FrequencyDaily,
		Active:    true,
		CreatedAt: now.AddDate(0, 0, -30),
	}))
	require.NoError(t, repo.CreateCompletion(ctx, domain.Completion{
		ID:          habitID + "-yesterday",
		HabitID:     habitID,
		UserID:      userID,
		CompletedAt: now.AddDate(0, 0, -1),
		CreatedAt:   now.AddDate(0, 0, -1),
	}))
}

func newRunner(repo domain.Repository, now time.Time) *Runner {
	processor := engine.NewProcessor(repo, timezone.NewResolver(),
		engine.WithClock(domain.ClockFunc(func() time.Time { return now })))
	ledger := engine.NewLedger(processor, engine.DefaultSpendCapPerDay)
	return NewRunner(repo, ledger, time.Hour,
		WithLogger(log.New(io.Discard, "", 0)))
}

func batchSampleCount(t *testing.T) uint64 {
	t.Helper()
	metric := &dto.Metric{}
	require.NoError(t, batchDuration.Write(metric))
	hist := metric.GetHistogram()
	require.NotNil(t, hist)
	return hist.GetSampleCount()
}

func TestRunOnceGrantsAcrossUsers(t *testing.T) {
	now := time.Date(2026, time.March, 10, 4, 0, 0, 0, time.UTC)
	repo := memory.NewRepository()
	seedQualifyingUser(t, repo, "user-1", now)
	seedQualifyingUser(t, repo, "user-2", now)

	beforeGranted := testutil.ToFloat64(grantedCounter)
	beforeSamples := batchSampleCount(t)

	runner := newRunner(repo, now)
	require.NoError(t, runner.RunOnce(context.Background()))

	require.Equal(t, beforeGranted+2, testutil.ToFloat64(grantedCounter))
	require.Equal(t, beforeSamples+1, batchSampleCount(t))

	for _, userID := range []string{"user-1", "user-2"} {
		user, err := repo.GetUser(context.Background(), userID)
		require.NoError(t, err)
		require.Equal(t, 1, user.ForgivenessTokens)
	}

	// A second pass sees the recorded decisions and leaves balances alone.
	require.NoError(t, runner.RunOnce(context.Background()))
	user, err := repo.GetUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, 1, user.ForgivenessTokens)
}

func TestRunOnceIsolatesUserFailures(t *testing.T) {
	now := time.Date(2026, time.March, 10, 4, 0, 0, 0, time.UTC)
	mem := memory.NewRepository()
	seedQualifyingUser(t, mem, "user-1", now)
	seedQualifyingUser(t, mem, "user-2", now)
	seedQualifyingUser(t, mem, "user-3", now)
	repo := &faultyRepo{Repository: mem, failUser: "user-2"}

	beforeFailed := testutil.ToFloat64(failedCounter)

	runner := newRunner(repo, now)
	require.NoError(t, runner.RunOnce(context.Background()))

	require.Equal(t, beforeFailed+1, testutil.ToFloat64(failedCounter))

	for _, userID := range []string{"user-1", "user-3"} {
		user, err := mem.GetUser(context.Background(), userID)
		require.NoError(t, err)
		require.Equal(t, 1, user.ForgivenessTokens)
	}
	user, err := mem.GetUser(context.Background(), "user-2")
	require.NoError(t, err)
	require.Equal(t, 0, user.ForgivenessTokens)
}

func TestRunOnceStopsOnCanceledContext(t *testing.T) {
	now := time.Date(2026, time.March, 10, 4, 0, 0, 0, time.UTC)
	repo := memory.NewRepository()
	seedQualifyingUser(t, repo, "user-1", now)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := newRunner(repo, now)
	err := runner.RunOnce(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
