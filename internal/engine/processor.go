package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"example.com/habits/internal/domain"
	"example.com/habits/internal/events"
	"example.com/habits/internal/timezone"
)

// StreakMilestones are the streak lengths that emit a milestone event.
var StreakMilestones = map[int]bool{7: true, 30: true, 100: true, 365: true}

// Processor sequences the calculators for a single user action: resolve the
// zoned day, validate eligibility, record the completion, recompute streaks,
// award XP, and emit events. All mutations run under the user's lock.
type Processor struct {
	repo     domain.Repository
	resolver *timezone.Resolver
	clock    domain.Clock
	locks    *userLocks
	logger   *log.Logger
}

// ProcessorOption configures optional Processor behaviour.
type ProcessorOption func(*Processor)

// WithClock overrides the wall clock, for deterministic tests.
func WithClock(clock domain.Clock) ProcessorOption {
	return func(p *Processor) {
		p.clock = clock
	}
}

// WithProcessorLogger overrides the logger.
func WithProcessorLogger(logger *log.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// NewProcessor constructs a Processor.
func NewProcessor(repo domain.Repository, resolver *timezone.Resolver, opts ...ProcessorOption) *Processor {
	p := &Processor{
		repo:     repo,
		resolver: resolver,
		clock:    domain.SystemClock(),
		locks:    newUserLocks(),
		logger:   log.New(log.Writer(), "[engine] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CompleteResult is returned to the caller after a successful completion.
type CompleteResult struct {
	Completion domain.Completion
	Award      Award
	Streak     StreakSnapshot
	LevelUp    *LevelUp
	NewLevel   LevelInfo
	PerfectDay bool
}

// CreateHabit validates and persists a new habit definition.
func (p *Processor) CreateHabit(ctx context.Context, input domain.NewHabitInput) (*domain.Habit, error) {
	habit, err := domain.NewHabit(input, p.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := p.repo.CreateHabit(ctx, *habit); err != nil {
		return nil, err
	}
	return habit, nil
}

// DeactivateHabit soft-deactivates a habit. History is retained; the habit
// stops being eligible from its zoned deactivation day onward.
func (p *Processor) DeactivateHabit(ctx context.Context, userID, habitID string) error {
	unlock := p.locks.lock(userID)
	defer unlock()

	habit, err := p.loadHabit(ctx, userID, habitID)
	if err != nil {
		return err
	}
	if !habit.Active {
		return nil
	}
	return p.repo.DeactivateHabit(ctx, habitID, p.clock.Now())
}

// Complete records a completion for the habit "now", awarding XP and
// detecting level-ups.
func (p *Processor) Complete(ctx context.Context, userID, habitID, deviceTimezone string) (*CompleteResult, error) {
	unlock := p.locks.lock(userID)
	defer unlock()

	user, err := p.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	habit, err := p.loadHabit(ctx, userID, habitID)
	if err != nil {
		return nil, err
	}

	history, err := p.repo.ListCompletions(ctx, habitID)
	if err != nil {
		return nil, err
	}

	now := p.clock.Now()
	zone := user.Timezone

	if decision := CanComplete(p.resolver, habit, history, now, zone); !decision.Allowed {
		return nil, decision.Err()
	}

	completion := domain.Completion{
		ID:             uuid.NewString(),
		HabitID:        habitID,
		UserID:         userID,
		CompletedAt:    now,
		DeviceTimezone: deviceTimezone,
		CreatedAt:      now,
	}

	streak := CalculateStreak(p.resolver, habit, append(history, completion), now, zone)

	multiplier, perfect, err := p.selectMultiplier(ctx, user, habit, now)
	if err != nil {
		return nil, err
	}
	award := CalculateAward(streak.CurrentStreak, multiplier)
	completion.XPEarned = award.Total

	today := p.resolver.DayOf(now, zone)
	evts := []domain.Event{{
		Type:         events.TypeHabitCompleted,
		PartitionKey: userID,
		Payload: events.HabitCompleted{
			CompletionID:  completion.ID,
			HabitID:       habitID,
			UserID:        userID,
			CompletedAt:   now,
			Day:           today.String(),
			CurrentStreak: streak.CurrentStreak,
			XPEarned:      award.Total,
		},
	}}
	if StreakMilestones[streak.CurrentStreak] {
		evts = append(evts, domain.Event{
			Type:         events.TypeStreakMilestone,
			PartitionKey: userID,
			DedupeKey:    fmt.Sprintf("%s:streak:%d", habitID, streak.CurrentStreak),
			Payload: events.StreakMilestone{
				UserID:     userID,
				HabitID:    habitID,
				Streak:     streak.CurrentStreak,
				OccurredAt: now,
			},
		})
	}

	if err := p.repo.CreateCompletion(ctx, completion, evts...); err != nil {
		return nil, err
	}

	levelUp, newInfo, err := p.applyAward(ctx, user, award.Total, now)
	if err != nil {
		return nil, err
	}

	return &CompleteResult{
		Completion: completion,
		Award:      award,
		Streak:     streak,
		LevelUp:    levelUp,
		NewLevel:   newInfo,
		PerfectDay: perfect,
	}, nil
}

// UncompleteResult is returned after a successful same-day undo.
type UncompleteResult struct {
	Revoked    domain.Completion
	XPReversed int
	Streak     StreakSnapshot
	NewLevel   LevelInfo
}

// Uncomplete reverses today's completion for the habit. Only the current
// zoned day can be undone; past completions are immutable.
func (p *Processor) Uncomplete(ctx context.Context, userID, habitID string) (*UncompleteResult, error) {
	unlock := p.locks.lock(userID)
	defer unlock()

	user, err := p.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	habit, err := p.loadHabit(ctx, userID, habitID)
	if err != nil {
		return nil, err
	}

	history, err := p.repo.ListCompletions(ctx, habitID)
	if err != nil {
		return nil, err
	}

	now := p.clock.Now()
	zone := user.Timezone
	today := p.resolver.DayOf(now, zone)

	var target *domain.Completion
	for i := range history {
		c := &history[i]
		if !c.Revoked && p.resolver.DayOf(c.CompletedAt, zone) == today {
			target = c
			break
		}
	}
	if target == nil {
		return nil, domain.ErrCompletionNotFound
	}

	revokeEvent := domain.Event{
		Type:         events.TypeCompletionRevoked,
		PartitionKey: userID,
		Payload: events.CompletionRevoked{
			CompletionID: target.ID,
			HabitID:      habitID,
			UserID:       userID,
			XPReversed:   target.XPEarned,
			OccurredAt:   now,
		},
	}
	if err := p.repo.RevokeCompletion(ctx, target.ID, revokeEvent); err != nil {
		return nil, err
	}

	// XP reversal clamps at zero; granted tokens are never clawed back.
	newTotal := user.TotalXP - target.XPEarned
	if newTotal < 0 {
		newTotal = 0
	}
	newInfo := LevelForXP(newTotal)
	delta := domain.ProgressDelta{XP: newTotal - user.TotalXP, NewLevel: newInfo.Level}
	if err := p.repo.ApplyProgressDelta(ctx, userID, delta); err != nil {
		return nil, err
	}

	remaining := make([]domain.Completion, 0, len(history))
	for _, c := range history {
		if c.ID != target.ID {
			remaining = append(remaining, c)
		}
	}
	streak := CalculateStreak(p.resolver, habit, remaining, now, zone)

	return &UncompleteResult{
		Revoked:    *target,
		XPReversed: target.XPEarned,
		Streak:     streak,
		NewLevel:   newInfo,
	}, nil
}

// Streak returns the habit's streak snapshot and day state at "now".
func (p *Processor) Streak(ctx context.Context, userID, habitID string) (*StreakSnapshot, DayState, error) {
	user, err := p.loadUser(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	habit, err := p.loadHabit(ctx, userID, habitID)
	if err != nil {
		return nil, "", err
	}
	history, err := p.repo.ListCompletions(ctx, habitID)
	if err != nil {
		return nil, "", err
	}

	now := p.clock.Now()
	snapshot := CalculateStreak(p.resolver, habit, history, now, user.Timezone)
	state := StateForDay(p.resolver, habit, history, now, user.Timezone)
	return &snapshot, state, nil
}

// Progress returns the user's level position.
func (p *Processor) Progress(ctx context.Context, userID string) (*domain.UserProgress, LevelInfo, error) {
	user, err := p.loadUser(ctx, userID)
	if err != nil {
		return nil, LevelInfo{}, err
	}
	return user, LevelForXP(user.TotalXP), nil
}

// applyAward applies an XP gain with level-up detection and reward events.
func (p *Processor) applyAward(ctx context.Context, user *domain.UserProgress, award int, now time.Time) (*LevelUp, LevelInfo, error) {
	levelUp := DetectLevelUp(user.TotalXP, award)
	newInfo := LevelForXP(user.TotalXP + award)

	delta := domain.ProgressDelta{
		XP:       award,
		Tokens:   bonusTokens(levelUp, user.ForgivenessTokens),
		NewLevel: newInfo.Level,
	}

	var evts []domain.Event
	if levelUp != nil {
		evts = append(evts, domain.Event{
			Type:         events.TypeUserLeveledUp,
			PartitionKey: user.UserID,
			DedupeKey:    fmt.Sprintf("%s:level:%d", user.UserID, levelUp.To),
			Payload: events.UserLeveledUp{
				UserID:        user.UserID,
				FromLevel:     levelUp.From,
				ToLevel:       levelUp.To,
				LevelsCrossed: levelUp.LevelsCrossed,
				BadgeAwarded:  levelUp.BadgeAwarded,
				BonusToken:    delta.Tokens > 0,
				OccurredAt:    now,
			},
		})
	}

	if err := p.repo.ApplyProgressDelta(ctx, user.UserID, delta, evts...); err != nil {
		return nil, LevelInfo{}, err
	}
	if levelUp != nil {
		p.logger.Printf("user %s leveled up %d -> %d", user.UserID, levelUp.From, levelUp.To)
	}
	return levelUp, newInfo, nil
}

// selectMultiplier picks the award tier: first-ever completion beats perfect
// day, which beats the base tier.
func (p *Processor) selectMultiplier(ctx context.Context, user *domain.UserProgress, habit *domain.Habit, now time.Time) (Multiplier, bool, error) {
	count, err := p.repo.CountUserCompletions(ctx, user.UserID)
	if err != nil {
		return MultiplierNone, false, err
	}
	if count == 0 {
		return MultiplierFirstEver, false, nil
	}

	perfect, err := p.isPerfectDay(ctx, user, habit.ID, now)
	if err != nil {
		return MultiplierNone, false, err
	}
	if perfect {
		return MultiplierPerfectDay, true, nil
	}
	return MultiplierNone, false, nil
}

// isPerfectDay reports whether completing the given habit now satisfies
// every then-eligible active habit for the user's current zoned day.
func (p *Processor) isPerfectDay(ctx context.Context, user *domain.UserProgress, completingHabitID string, now time.Time) (bool, error) {
	habits, err := p.repo.ListHabitsByUser(ctx, user.UserID, false)
	if err != nil {
		return false, err
	}

	zone := user.Timezone
	today := p.resolver.DayOf(now, zone)
	weekStart, _ := p.resolver.Window(today.ISOWeekStart(), zone)
	_, todayEnd := p.resolver.Window(today, zone)

	// One query covers both the day check and the weekly-habit week check.
	completions, err := p.repo.ListUserCompletionsBetween(ctx, user.UserID, weekStart, todayEnd)
	if err != nil {
		return false, err
	}
	byHabit := make(map[string][]domain.Completion, len(habits))
	for _, c := range completions {
		byHabit[c.HabitID] = append(byHabit[c.HabitID], c)
	}

	for i := range habits {
		h := &habits[i]
		if h.ID == completingHabitID {
			continue
		}
		if !ActiveOn(p.resolver, h, today, zone) {
			continue
		}
		if h.Frequency == domain.FrequencyCustom && !h.AllowsWeekday(today.Weekday()) {
			continue
		}

		done := false
		if h.Frequency == domain.FrequencyWeekly {
			done = completedInWeek(p.resolver, byHabit[h.ID], today, zone)
		} else {
			done = completedOnDay(p.resolver, byHabit[h.ID], today, zone)
		}
		if !done {
			return false, nil
		}
	}
	return true, nil
}

func (p *Processor) loadUser(ctx context.Context, userID string) (*domain.UserProgress, error) {
	user, err := p.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrUserNotFound, userID)
	}
	return user, nil
}

func (p *Processor) loadHabit(ctx context.Context, userID, habitID string) (*domain.Habit, error) {
	habit, err := p.repo.GetHabit(ctx, habitID)
	if err != nil {
		return nil, err
	}
	if habit == nil || habit.UserID != userID {
		return nil, fmt.Errorf("%w: %s", domain.ErrHabitNotFound, habitID)
	}
	return habit, nil
}
