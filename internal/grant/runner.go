// Package grant runs the scheduled forgiveness-token grant over all users.
package grant

import (
	"context"
	"errors"
	"log"
	"time"

	"example.com/habits/internal/domain"
	"example.com/habits/internal/engine"
)

// Runner polls on an interval and evaluates the grant decision for every
// user. Failures are isolated per user: one bad record never aborts the
// batch. Each (user, zoned day) decision is idempotent, so the runner is safe
// to re-run and to overlap with a missed schedule.
type Runner struct {
	repo             domain.Repository
	ledger           *engine.Ledger
	pollInterval     time.Duration
	logger           *log.Logger
	shutdownComplete chan struct{}
}

// Option configures optional Runner behaviour.
type Option func(*Runner)

// WithLogger overrides the runner's logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner constructs a Runner.
func NewRunner(repo domain.Repository, ledger *engine.Ledger, pollInterval time.Duration, opts ...Option) *Runner {
	r := &Runner{
		repo:             repo,
		ledger:           ledger,
		pollInterval:     pollInterval,
		logger:           log.New(log.Writer(), "[grant] ", log.LstdFlags),
		shutdownComplete: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the polling loop. It should be called in a goroutine.
func (r *Runner) Start(ctx context.Context) {
	ticker := time.NewTicker(r.pollInterval)
	defer func() {
		ticker.Stop()
		close(r.shutdownComplete)
	}()

	for {
		if err := r.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Printf("grant batch error: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until the runner has stopped.
func (r *Runner) Wait() {
	<-r.shutdownComplete
}

// RunOnce evaluates the grant for every user. Exposed so tests and one-shot
// invocations can drive the batch deterministically.
func (r *Runner) RunOnce(ctx context.Context) error {
	start := time.Now()

	userIDs, err := r.repo.ListUserIDs(ctx)
	if err != nil {
		return err
	}
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	for _, userID := range userIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		outcome, err := r.ledger.GrantForUser(ctx, userID)
		if err != nil {
			r.logger.Printf("grant failed for user %s: %v", userID, err)
			failedCounter.Inc()
			continue
		}
		switch {
		case outcome.AlreadyRan:
			skippedCounter.Inc()
		case outcome.Granted:
			grantedCounter.Inc()
		default:
			notQualifiedCounter.Inc()
		}
	}
	return nil
}
