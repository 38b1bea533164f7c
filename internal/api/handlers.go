// Package api exposes HTTP handlers for the habit service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/habits/internal/auth"
	"example.com/habits/internal/domain"
	"example.com/habits/internal/engine"
	"example.com/habits/internal/persistence"
	"example.com/habits/internal/timezone"
)

// Handler coordinates HTTP requests with the completion engine.
type Handler struct {
	processor *engine.Processor
	ledger    *engine.Ledger
	repo      domain.Repository
	clock     domain.Clock
}

// NewHandler builds a Handler.
func NewHandler(processor *engine.Processor, ledger *engine.Ledger, repo domain.Repository) *Handler {
	return &Handler{
		processor: processor,
		ledger:    ledger,
		repo:      repo,
		clock:     domain.SystemClock(),
	}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/users", h.users)
	mux.HandleFunc("/v1/habits", h.habits)
	mux.HandleFunc("/v1/habits/", h.habitByID)
	mux.HandleFunc("/v1/progress", h.progress)
	mux.HandleFunc("/v1/forgiveness", h.forgivenessBalance)
	mux.HandleFunc("/v1/forgiveness/spend", h.spendForgiveness)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) users(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := requireScope(w, r, auth.ScopeHabitsWrite)
	if !ok {
		return
	}

	var req RegisterUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if strings.TrimSpace(req.Timezone) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "timezone is required")
		return
	}
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "unknown IANA timezone")
		return
	}

	now := h.clock.Now()
	user := domain.UserProgress{
		UserID:       claims.Subject,
		Timezone:     req.Timezone,
		CurrentLevel: 1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.repo.CreateUser(r.Context(), user); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, toProgressView(user, engine.LevelForXP(0)))
}

func (h *Handler) habits(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createHabit(w, r)
	case http.MethodGet:
		h.listHabits(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

// habitByID dispatches /v1/habits/{id} and its sub-resources: complete,
// completions, streak.
func (h *Handler) habitByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/habits/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing habit id")
		return
	}

	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodDelete:
		h.deactivateHabit(w, r, id)
	case action == "complete" && r.Method == http.MethodPost:
		h.complete(w, r, id)
	case action == "complete" && r.Method == http.MethodDelete:
		h.uncomplete(w, r, id)
	case action == "completions" && r.Method == http.MethodGet:
		h.listCompletions(w, r, id)
	case action == "streak" && r.Method == http.MethodGet:
		h.streak(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) createHabit(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeHabitsWrite)
	if !ok {
		return
	}

	var req CreateHabitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "name is required")
		return
	}

	habit, err := h.processor.CreateHabit(r.Context(), domain.NewHabitInput{
		UserID:     claims.Subject,
		Name:       req.Name,
		Frequency:  domain.Frequency(req.Frequency),
		CustomDays: req.CustomDays,
	})
	if err != nil {
		var vErr *domain.ValidationError
		if errors.As(err, &vErr) {
			writeError(w, http.StatusBadRequest, string(vErr.Code), vErr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, toHabitView(*habit))
}

func (h *Handler) listHabits(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeHabitsRead, auth.ScopeHabitsWrite)
	if !ok {
		return
	}

	includeInactive := r.URL.Query().Get("include_inactive") == "true"
	habits, err := h.repo.ListHabitsByUser(r.Context(), claims.Subject, includeInactive)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]HabitView, 0, len(habits))
	for _, habit := range habits {
		items = append(items, toHabitView(habit))
	}
	writeJSON(w, http.StatusOK, ListHabitsResponse{Items: items})
}

func (h *Handler) deactivateHabit(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := requireScope(w, r, auth.ScopeHabitsWrite)
	if !ok {
		return
	}

	if err := h.processor.DeactivateHabit(r.Context(), claims.Subject, id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := requireScope(w, r, auth.ScopeHabitsWrite)
	if !ok {
		return
	}

	var req CompleteRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
			return
		}
	}

	result, err := h.processor.Complete(r.Context(), claims.Subject, id, req.DeviceTimezone)
	if err != nil {
		var eErr *domain.EligibilityError
		if errors.As(err, &eErr) {
			writeJSON(w, http.StatusConflict, eligibilityErrorBody(eErr))
			return
		}
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toCompleteResponse(result))
}

func (h *Handler) uncomplete(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := requireScope(w, r, auth.ScopeHabitsWrite)
	if !ok {
		return
	}

	result, err := h.processor.Uncomplete(r.Context(), claims.Subject, id)
	if err != nil {
		if errors.Is(err, domain.ErrCompletionNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no completion today")
			return
		}
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, UncompleteResponse{
		CompletionID:  result.Revoked.ID,
		XPReversed:    result.XPReversed,
		CurrentStreak: result.Streak.CurrentStreak,
		LongestStreak: result.Streak.LongestStreak,
		Level:         result.NewLevel.Level,
	})
}

func (h *Handler) listCompletions(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := requireScope(w, r, auth.ScopeHabitsRead, auth.ScopeHabitsWrite)
	if !ok {
		return
	}

	// Ownership check before exposing history.
	habit, err := h.repo.GetHabit(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	if habit == nil || habit.UserID != claims.Subject {
		writeError(w, http.StatusNotFound, "not_found", "habit not found")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			if parsed > 100 {
				parsed = 100
			}
			limit = parsed
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	completions, next, err := h.repo.ListCompletionsPage(r.Context(), id, cursor, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]CompletionView, 0, len(completions))
	for _, completion := range completions {
		items = append(items, toCompletionView(completion))
	}
	writeJSON(w, http.StatusOK, ListCompletionsResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) streak(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := requireScope(w, r, auth.ScopeHabitsRead, auth.ScopeHabitsWrite)
	if !ok {
		return
	}

	snapshot, state, err := h.processor.Streak(r.Context(), claims.Subject, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := StreakResponse{
		CurrentStreak:           snapshot.CurrentStreak,
		LongestStreak:           snapshot.LongestStreak,
		DaysSinceLastCompletion: snapshot.DaysSinceLastCompletion,
		CanUseForgiveness:       snapshot.CanUseForgiveness,
		TodayState:              string(state),
	}
	if snapshot.LastCompletedDay != nil {
		day := snapshot.LastCompletedDay.String()
		resp.LastCompletedDay = &day
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) progress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := requireScope(w, r, auth.ScopeHabitsRead, auth.ScopeHabitsWrite)
	if !ok {
		return
	}

	user, level, err := h.processor.Progress(r.Context(), claims.Subject)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProgressView(*user, level))
}

func (h *Handler) forgivenessBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := requireScope(w, r, auth.ScopeHabitsRead, auth.ScopeHabitsWrite)
	if !ok {
		return
	}

	balance, err := h.ledger.Balance(r.Context(), claims.Subject)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{
		Balance: balance,
		Max:     domain.MaxForgivenessTokens,
	})
}

func (h *Handler) spendForgiveness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := requireScope(w, r, auth.ScopeHabitsWrite)
	if !ok {
		return
	}

	var req SpendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if strings.TrimSpace(req.HabitID) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "habit_id is required")
		return
	}
	target, err := timezone.ParseDay(req.TargetDay)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "target_day must be YYYY-MM-DD")
		return
	}

	result, err := h.ledger.Spend(r.Context(), claims.Subject, req.HabitID, target)
	if err != nil {
		var tErr *domain.TokenError
		if errors.As(err, &tErr) {
			writeError(w, http.StatusConflict, string(tErr.Reason), tErr.Error())
			return
		}
		writeDomainError(w, err)
		return
	}

	resp := SpendResponse{
		CompletionID:  result.Completion.ID,
		TargetDay:     req.TargetDay,
		XPEarned:      result.XPEarned,
		BalanceAfter:  result.BalanceAfter,
		CurrentStreak: result.Streak.CurrentStreak,
		LongestStreak: result.Streak.LongestStreak,
	}
	if result.LevelUp != nil {
		resp.LevelUp = toLevelUpView(result.LevelUp)
	}
	writeJSON(w, http.StatusCreated, resp)
}

// requireScope resolves claims and enforces that at least one of the scopes
// is present. It writes the error response itself on failure.
func requireScope(w http.ResponseWriter, r *http.Request, scopes ...string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	for _, scope := range scopes {
		if claims.HasScope(scope) {
			return claims, true
		}
	}
	writeError(w, http.StatusForbidden, "forbidden", "scope "+scopes[0]+" required")
	return nil, false
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrHabitNotFound):
		writeError(w, http.StatusNotFound, "not_found", "habit not found")
	case errors.Is(err, domain.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "not_found", "user not registered")
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func eligibilityErrorBody(e *domain.EligibilityError) map[string]interface{} {
	body := map[string]interface{}{
		"type":   string(e.Reason),
		"detail": e.Error(),
	}
	if len(e.AllowedDays) > 0 {
		days := make([]string, 0, len(e.AllowedDays))
		for _, d := range e.AllowedDays {
			days = append(days, d.String())
		}
		body["allowed_days"] = days
	}
	return body
}

// RegisterUserRequest is the payload for POST /v1/users.
type RegisterUserRequest struct {
	Timezone string `json:"timezone"`
}

// CreateHabitRequest is the payload for POST /v1/habits.
type CreateHabitRequest struct {
	Name       string `json:"name"`
	Frequency  string `json:"frequency"`
	CustomDays []int  `json:"custom_days,omitempty"`
}

// CompleteRequest carries the client-reported zone for audit purposes.
type CompleteRequest struct {
	DeviceTimezone string `json:"device_timezone"`
}

// SpendRequest is the payload for POST /v1/forgiveness/spend.
type SpendRequest struct {
	HabitID   string `json:"habit_id"`
	TargetDay string `json:"target_day"`
}

// HabitView exposes a habit definition.
type HabitView struct {
	HabitID       string     `json:"habit_id"`
	Name          string     `json:"name"`
	Frequency     string     `json:"frequency"`
	CustomDays    []string   `json:"custom_days,omitempty"`
	Active        bool       `json:"active"`
	CreatedAt     time.Time  `json:"created_at"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
}

// ListHabitsResponse packages habit list results.
type ListHabitsResponse struct {
	Items []HabitView `json:"items"`
}

// CompletionView exposes one completion record.
type CompletionView struct {
	CompletionID    string    `json:"completion_id"`
	HabitID         string    `json:"habit_id"`
	CompletedAt     time.Time `json:"completed_at"`
	XPEarned        int       `json:"xp_earned"`
	ForgivenessUsed bool      `json:"forgiveness_used"`
	Revoked         bool      `json:"revoked"`
}

// ListCompletionsResponse packages paginated completion results.
type ListCompletionsResponse struct {
	Items      []CompletionView `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// CompleteResponse describes a successful completion.
type CompleteResponse struct {
	CompletionID  string       `json:"completion_id"`
	XPEarned      int          `json:"xp_earned"`
	Multiplier    float64      `json:"multiplier"`
	PerfectDay    bool         `json:"perfect_day"`
	CurrentStreak int          `json:"current_streak"`
	LongestStreak int          `json:"longest_streak"`
	Level         int          `json:"level"`
	LevelUp       *LevelUpView `json:"level_up,omitempty"`
}

// UncompleteResponse describes a successful same-day undo.
type UncompleteResponse struct {
	CompletionID  string `json:"completion_id"`
	XPReversed    int    `json:"xp_reversed"`
	CurrentStreak int    `json:"current_streak"`
	LongestStreak int    `json:"longest_streak"`
	Level         int    `json:"level"`
}

// LevelUpView describes levels crossed by one award.
type LevelUpView struct {
	From         int   `json:"from"`
	To           int   `json:"to"`
	Crossed      []int `json:"crossed"`
	BadgeAwarded bool  `json:"badge_awarded"`
	BonusToken   bool  `json:"bonus_token"`
}

// StreakResponse is the streak snapshot plus today's derived state.
type StreakResponse struct {
	CurrentStreak           int     `json:"current_streak"`
	LongestStreak           int     `json:"longest_streak"`
	DaysSinceLastCompletion int     `json:"days_since_last_completion"`
	LastCompletedDay        *string `json:"last_completed_day,omitempty"`
	CanUseForgiveness       bool    `json:"can_use_forgiveness"`
	TodayState              string  `json:"today_state"`
}

// ProgressView is the user's progression position.
type ProgressView struct {
	UserID            string  `json:"user_id"`
	Timezone          string  `json:"timezone"`
	TotalXP           int     `json:"total_xp"`
	Level             int     `json:"level"`
	XPIntoLevel       int     `json:"xp_into_level"`
	XPForNextLevel    int     `json:"xp_for_next_level"`
	ProgressPercent   float64 `json:"progress_percent"`
	ForgivenessTokens int     `json:"forgiveness_tokens"`
}

// BalanceResponse is the forgiveness token balance.
type BalanceResponse struct {
	Balance int `json:"balance"`
	Max     int `json:"max"`
}

// SpendResponse describes a successful forgiveness spend.
type SpendResponse struct {
	CompletionID  string       `json:"completion_id"`
	TargetDay     string       `json:"target_day"`
	XPEarned      int          `json:"xp_earned"`
	BalanceAfter  int          `json:"balance_after"`
	CurrentStreak int          `json:"current_streak"`
	LongestStreak int          `json:"longest_streak"`
	LevelUp       *LevelUpView `json:"level_up,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toHabitView(habit domain.Habit) HabitView {
	view := HabitView{
		HabitID:       habit.ID,
		Name:          habit.Name,
		Frequency:     string(habit.Frequency),
		Active:        habit.Active,
		CreatedAt:     habit.CreatedAt,
		DeactivatedAt: habit.DeactivatedAt,
	}
	for _, d := range habit.CustomDays {
		view.CustomDays = append(view.CustomDays, d.String())
	}
	return view
}

func toCompletionView(completion domain.Completion) CompletionView {
	return CompletionView{
		CompletionID:    completion.ID,
		HabitID:         completion.HabitID,
		CompletedAt:     completion.CompletedAt,
		XPEarned:        completion.XPEarned,
		ForgivenessUsed: completion.ForgivenessUsed,
		Revoked:         completion.Revoked,
	}
}

func toCompleteResponse(result *engine.CompleteResult) CompleteResponse {
	resp := CompleteResponse{
		CompletionID:  result.Completion.ID,
		XPEarned:      result.Award.Total,
		Multiplier:    float64(result.Award.Multiplier),
		PerfectDay:    result.PerfectDay,
		CurrentStreak: result.Streak.CurrentStreak,
		LongestStreak: result.Streak.LongestStreak,
		Level:         result.NewLevel.Level,
	}
	if result.LevelUp != nil {
		resp.LevelUp = toLevelUpView(result.LevelUp)
	}
	return resp
}

func toLevelUpView(levelUp *engine.LevelUp) *LevelUpView {
	return &LevelUpView{
		From:         levelUp.From,
		To:           levelUp.To,
		Crossed:      levelUp.LevelsCrossed,
		BadgeAwarded: levelUp.BadgeAwarded,
		BonusToken:   levelUp.BonusToken,
	}
}

func toProgressView(user domain.UserProgress, level engine.LevelInfo) ProgressView {
	return ProgressView{
		UserID:            user.UserID,
		Timezone:          user.Timezone,
		TotalXP:           user.TotalXP,
		Level:             level.Level,
		XPIntoLevel:       level.XPIntoLevel,
		XPForNextLevel:    level.XPForNextLevel,
		ProgressPercent:   level.ProgressPercent,
		ForgivenessTokens: user.ForgivenessTokens,
	}
}
