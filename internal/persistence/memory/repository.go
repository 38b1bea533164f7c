// Package memory provides an in-memory Repository for local development and
// unit tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"example.com/habits/internal/domain"
)

// Repository stores aggregates in memory. All methods are safe for
// concurrent use. Events passed to mutating calls are captured in Events for
// test assertions instead of an outbox table.
type Repository struct {
	mu          sync.RWMutex
	users       map[string]domain.UserProgress
	habits      map[string]domain.Habit
	completions map[string]domain.Completion
	grants      map[string]domain.GrantRecord

	Events []domain.Event
}

// NewRepository constructs an empty Repository.
func NewRepository() *Repository {
	return &Repository{
		users:       make(map[string]domain.UserProgress),
		habits:      make(map[string]domain.Habit),
		completions: make(map[string]domain.Completion),
		grants:      make(map[string]domain.GrantRecord),
	}
}

func (r *Repository) GetUser(ctx context.Context, userID string) (*domain.UserProgress, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[userID]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

func (r *Repository) CreateUser(ctx context.Context, user domain.UserProgress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.users[user.UserID]; exists {
		return fmt.Errorf("user %s already exists", user.UserID)
	}
	if user.CurrentLevel == 0 {
		user.CurrentLevel = 1
	}
	r.users[user.UserID] = user
	return nil
}

func (r *Repository) ListUserIDs(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *Repository) GetHabit(ctx context.Context, habitID string) (*domain.Habit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	habit, ok := r.habits[habitID]
	if !ok {
		return nil, nil
	}
	return &habit, nil
}

func (r *Repository) CreateHabit(ctx context.Context, habit domain.Habit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.habits[habit.ID] = habit
	return nil
}

func (r *Repository) DeactivateHabit(ctx context.Context, habitID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	habit, ok := r.habits[habitID]
	if !ok {
		return domain.ErrHabitNotFound
	}
	at = at.UTC()
	habit.Active = false
	habit.DeactivatedAt = &at
	r.habits[habitID] = habit
	return nil
}

func (r *Repository) ListHabitsByUser(ctx context.Context, userID string, includeInactive bool) ([]domain.Habit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Habit, 0)
	for _, h := range r.habits {
		if h.UserID != userID {
			continue
		}
		if !includeInactive && !h.Active {
			continue
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *Repository) ListCompletions(ctx context.Context, habitID string) ([]domain.Completion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Completion, 0)
	for _, c := range r.completions {
		if c.HabitID == habitID && !c.Revoked {
			out = append(out, c)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *Repository) ListCompletionsPage(ctx context.Context, habitID string, cursor *domain.Cursor, limit int) ([]domain.Completion, *domain.Cursor, error) {
	all, err := r.ListCompletions(ctx, habitID)
	if err != nil {
		return nil, nil, err
	}
	if cursor != nil {
		filtered := all[:0]
		for _, c := range all {
			if c.CompletedAt.Before(cursor.CompletedAt) ||
				(c.CompletedAt.Equal(cursor.CompletedAt) && c.ID < cursor.ID) {
				filtered = append(filtered, c)
			}
		}
		all = filtered
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	var next *domain.Cursor
	if limit > 0 && len(all) == limit {
		last := all[len(all)-1]
		next = &domain.Cursor{CompletedAt: last.CompletedAt, ID: last.ID}
	}
	return all, next, nil
}

func (r *Repository) ListUserCompletionsBetween(ctx context.Context, userID string, from, to time.Time) ([]domain.Completion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Completion, 0)
	for _, c := range r.completions {
		if c.UserID != userID || c.Revoked {
			continue
		}
		if c.CompletedAt.Before(from) || !c.CompletedAt.Before(to) {
			continue
		}
		out = append(out, c)
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *Repository) CountUserCompletions(ctx context.Context, userID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, c := range r.completions {
		if c.UserID == userID && !c.Revoked {
			count++
		}
	}
	return count, nil
}

func (r *Repository) CreateCompletion(ctx context.Context, completion domain.Completion, events ...domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.completions[completion.ID]; exists {
		return fmt.Errorf("completion %s already exists", completion.ID)
	}
	r.completions[completion.ID] = completion
	r.Events = append(r.Events, events...)
	return nil
}

func (r *Repository) RevokeCompletion(ctx context.Context, completionID string, events ...domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	completion, ok := r.completions[completionID]
	if !ok {
		return domain.ErrCompletionNotFound
	}
	completion.Revoked = true
	r.completions[completionID] = completion
	r.Events = append(r.Events, events...)
	return nil
}

func (r *Repository) ApplyProgressDelta(ctx context.Context, userID string, delta domain.ProgressDelta, events ...domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	user.TotalXP += delta.XP
	if user.TotalXP < 0 {
		user.TotalXP = 0
	}
	user.ForgivenessTokens += delta.Tokens
	if user.ForgivenessTokens < 0 {
		user.ForgivenessTokens = 0
	}
	if user.ForgivenessTokens > domain.MaxForgivenessTokens {
		user.ForgivenessTokens = domain.MaxForgivenessTokens
	}
	if delta.NewLevel > 0 {
		user.CurrentLevel = delta.NewLevel
	}
	user.UpdatedAt = time.Now().UTC()
	r.users[userID] = user
	r.Events = append(r.Events, events...)
	return nil
}

func (r *Repository) FindGrant(ctx context.Context, userID, day string) (*domain.GrantRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.grants[grantKey(userID, day)]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (r *Repository) RecordGrant(ctx context.Context, record domain.GrantRecord, events ...domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := grantKey(record.UserID, record.Day)
	if _, exists := r.grants[key]; exists {
		return fmt.Errorf("grant already recorded for %s", key)
	}
	r.grants[key] = record
	r.Events = append(r.Events, events...)
	return nil
}

func (r *Repository) CountForgivenessSpends(ctx context.Context, userID string, from, to time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, c := range r.completions {
		if c.UserID != userID || !c.ForgivenessUsed || c.Revoked {
			continue
		}
		if c.CreatedAt.Before(from) || !c.CreatedAt.Before(to) {
			continue
		}
		count++
	}
	return count, nil
}

func grantKey(userID, day string) string {
	return userID + "|" + day
}

func sortNewestFirst(completions []domain.Completion) {
	sort.Slice(completions, func(i, j int) bool {
		if completions[i].CompletedAt.Equal(completions[j].CompletedAt) {
			return completions[i].ID > completions[j].ID
		}
		return completions[i].CompletedAt.After(completions[j].CompletedAt)
	})
}
