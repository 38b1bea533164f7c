package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"example.com/habits/internal/domain"
	"example.com/habits/internal/events"
	"example.com/habits/internal/timezone"
)

// DefaultSpendCapPerDay bounds how many tokens one user may spend per zoned
// day.
const DefaultSpendCapPerDay = 2

// Ledger grants and spends forgiveness tokens. It shares the processor's
// per-user locks so a spend can never race a completion or a scheduled grant
// for the same user.
type Ledger struct {
	p              *Processor
	spendCapPerDay int
}

// NewLedger constructs a Ledger on top of a Processor. capPerDay <= 0 selects
// DefaultSpendCapPerDay.
func NewLedger(p *Processor, capPerDay int) *Ledger {
	if capPerDay <= 0 {
		capPerDay = DefaultSpendCapPerDay
	}
	return &Ledger{p: p, spendCapPerDay: capPerDay}
}

// SpendResult describes a successful token spend.
type SpendResult struct {
	Completion   domain.Completion
	XPEarned     int
	BalanceAfter int
	Streak       StreakSnapshot
	LevelUp      *LevelUp
}

// Spend bridges a missed day with a synthetic completion at half XP. The
// target must be yesterday or the day before, uncompleted, with tokens and
// daily spend budget remaining.
func (l *Ledger) Spend(ctx context.Context, userID, habitID string, target timezone.Day) (*SpendResult, error) {
	unlock := l.p.locks.lock(userID)
	defer unlock()

	user, err := l.p.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	habit, err := l.p.loadHabit(ctx, userID, habitID)
	if err != nil {
		return nil, err
	}

	now := l.p.clock.Now()
	zone := user.Timezone
	today := l.p.resolver.DayOf(now, zone)

	daysBack := target.DaysUntil(today)
	switch {
	case daysBack < 0:
		return nil, &domain.TokenError{Reason: domain.TokenFutureDate}
	case daysBack == 0 || daysBack > ForgivenessWindowDays:
		return nil, &domain.TokenError{Reason: domain.TokenOutOfWindow}
	}
	if !ActiveOn(l.p.resolver, habit, target, zone) {
		return nil, &domain.TokenError{Reason: domain.TokenOutOfWindow}
	}

	history, err := l.p.repo.ListCompletions(ctx, habitID)
	if err != nil {
		return nil, err
	}
	for _, c := range history {
		if !c.Revoked && l.p.resolver.DayOf(c.CompletedAt, zone) == target {
			return nil, &domain.TokenError{Reason: domain.TokenAlreadyCompleted}
		}
	}

	if user.ForgivenessTokens <= 0 {
		return nil, &domain.TokenError{Reason: domain.TokenInsufficientTokens}
	}

	todayStart, todayEnd := l.p.resolver.Window(today, zone)
	spent, err := l.p.repo.CountForgivenessSpends(ctx, userID, todayStart, todayEnd)
	if err != nil {
		return nil, err
	}
	if spent >= l.spendCapPerDay {
		return nil, &domain.TokenError{Reason: domain.TokenDailySpendCapReached}
	}

	// Anchor the synthetic completion at local noon of the target day so it
	// projects onto that day in any nearby zone interpretation.
	loc := l.p.resolver.Location(zone)
	completedAt := time.Date(target.Year, target.Month, target.Date, 12, 0, 0, 0, loc).UTC()

	completion := domain.Completion{
		ID:              uuid.NewString(),
		HabitID:         habitID,
		UserID:          userID,
		CompletedAt:     completedAt,
		DeviceTimezone:  zone,
		ForgivenessUsed: true,
		CreatedAt:       now,
	}

	streak := CalculateStreak(l.p.resolver, habit, append(history, completion), now, zone)
	completion.XPEarned = ForgivenessAward(streak.CurrentStreak)

	balanceAfter := user.ForgivenessTokens - 1
	evts := []domain.Event{
		{
			Type:         events.TypeHabitCompleted,
			PartitionKey: userID,
			Payload: events.HabitCompleted{
				CompletionID:    completion.ID,
				HabitID:         habitID,
				UserID:          userID,
				CompletedAt:     completedAt,
				Day:             target.String(),
				CurrentStreak:   streak.CurrentStreak,
				XPEarned:        completion.XPEarned,
				ForgivenessUsed: true,
			},
		},
		{
			Type:         events.TypeForgivenessSpent,
			PartitionKey: userID,
			DedupeKey:    completion.ID + ":forgiveness.spent",
			Payload: events.ForgivenessSpent{
				UserID:       userID,
				HabitID:      habitID,
				TargetDay:    target.String(),
				BalanceAfter: balanceAfter,
				OccurredAt:   now,
			},
		},
	}

	if err := l.p.repo.CreateCompletion(ctx, completion, evts...); err != nil {
		return nil, err
	}

	levelUp := DetectLevelUp(user.TotalXP, completion.XPEarned)
	newInfo := LevelForXP(user.TotalXP + completion.XPEarned)
	delta := domain.ProgressDelta{
		XP:       completion.XPEarned,
		Tokens:   -1 + bonusTokens(levelUp, balanceAfter),
		NewLevel: newInfo.Level,
	}
	if err := l.p.repo.ApplyProgressDelta(ctx, userID, delta); err != nil {
		return nil, err
	}

	return &SpendResult{
		Completion:   completion,
		XPEarned:     completion.XPEarned,
		BalanceAfter: user.ForgivenessTokens + delta.Tokens,
		Streak:       streak,
		LevelUp:      levelUp,
	}, nil
}

// GrantOutcome describes the grant decision for one user.
type GrantOutcome struct {
	UserID       string
	Day          timezone.Day
	Granted      bool
	AlreadyRan   bool
	BalanceAfter int
}

// GrantForUser evaluates the scheduled grant for one user: if every
// then-eligible active habit was completed on the user's previous zoned day,
// the balance is incremented (capped). The decision is idempotency-keyed by
// (user, evaluated day), so re-running the job never double-grants.
func (l *Ledger) GrantForUser(ctx context.Context, userID string) (*GrantOutcome, error) {
	unlock := l.p.locks.lock(userID)
	defer unlock()

	user, err := l.p.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := l.p.clock.Now()
	zone := user.Timezone
	evalDay := l.p.resolver.DayOf(now, zone).AddDays(-1)

	existing, err := l.p.repo.FindGrant(ctx, userID, evalDay.String())
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &GrantOutcome{UserID: userID, Day: evalDay, Granted: existing.Granted, AlreadyRan: true, BalanceAfter: user.ForgivenessTokens}, nil
	}

	habits, err := l.p.repo.ListHabitsByUser(ctx, userID, false)
	if err != nil {
		return nil, err
	}
	if len(habits) == 0 {
		return &GrantOutcome{UserID: userID, Day: evalDay, BalanceAfter: user.ForgivenessTokens}, nil
	}

	qualified, anyDue, err := l.allHabitsSatisfied(ctx, user, habits, evalDay)
	if err != nil {
		return nil, err
	}
	if !anyDue {
		qualified = false
	}

	tokens := 0
	if qualified && user.ForgivenessTokens < domain.MaxForgivenessTokens {
		tokens = 1
	}
	balanceAfter := user.ForgivenessTokens + tokens

	record := domain.GrantRecord{
		UserID:    userID,
		Day:       evalDay.String(),
		Granted:   qualified,
		CreatedAt: now,
	}
	var evts []domain.Event
	if qualified {
		evts = append(evts, domain.Event{
			Type:         events.TypeForgivenessGranted,
			PartitionKey: userID,
			DedupeKey:    userID + ":grant:" + evalDay.String(),
			Payload: events.ForgivenessGranted{
				UserID:       userID,
				Day:          evalDay.String(),
				BalanceAfter: balanceAfter,
				OccurredAt:   now,
			},
		})
	}
	if err := l.p.repo.RecordGrant(ctx, record, evts...); err != nil {
		return nil, err
	}

	if tokens > 0 {
		delta := domain.ProgressDelta{Tokens: tokens, NewLevel: LevelForXP(user.TotalXP).Level}
		if err := l.p.repo.ApplyProgressDelta(ctx, userID, delta); err != nil {
			return nil, err
		}
	}

	return &GrantOutcome{UserID: userID, Day: evalDay, Granted: qualified, BalanceAfter: balanceAfter}, nil
}

// allHabitsSatisfied reports whether every habit that was eligible on day had
// a qualifying completion, and whether any habit was due at all.
func (l *Ledger) allHabitsSatisfied(ctx context.Context, user *domain.UserProgress, habits []domain.Habit, day timezone.Day) (bool, bool, error) {
	zone := user.Timezone
	weekStart, _ := l.p.resolver.Window(day.ISOWeekStart(), zone)
	_, dayEnd := l.p.resolver.Window(day, zone)

	completions, err := l.p.repo.ListUserCompletionsBetween(ctx, user.UserID, weekStart, dayEnd)
	if err != nil {
		return false, false, err
	}
	byHabit := make(map[string][]domain.Completion)
	for _, c := range completions {
		byHabit[c.HabitID] = append(byHabit[c.HabitID], c)
	}

	anyDue := false
	for i := range habits {
		h := &habits[i]
		if !ActiveOn(l.p.resolver, h, day, zone) {
			continue
		}
		if h.Frequency == domain.FrequencyCustom && !h.AllowsWeekday(day.Weekday()) {
			continue
		}
		anyDue = true

		done := false
		if h.Frequency == domain.FrequencyWeekly {
			done = completedInWeek(l.p.resolver, byHabit[h.ID], day, zone)
		} else {
			done = completedOnDay(l.p.resolver, byHabit[h.ID], day, zone)
		}
		if !done {
			return false, true, nil
		}
	}
	return true, anyDue, nil
}

// Balance returns the user's current token balance.
func (l *Ledger) Balance(ctx context.Context, userID string) (int, error) {
	user, err := l.p.loadUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return user.ForgivenessTokens, nil
}
