// Package assistant turns user prompts into role-specialized LLM
// completions with per-user daily budget enforcement and durable
// interaction logging.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jaceberelen/jace/internal/llm"
	"github.com/jaceberelen/jace/internal/storage"
)

// ErrBudgetExceeded is returned when a user's spend for the current UTC
// day has reached their daily budget.
var ErrBudgetExceeded = errors.New("daily AI budget exceeded")

// ErrUserInactive is returned for users that have been deactivated.
var ErrUserInactive = errors.New("user is deactivated")

// ErrUnknownRole is returned for roles not in the catalog.
var ErrUnknownRole = errors.New("unknown assistant role")

// Request is one prompt to process.
type Request struct {
	Role        Role
	Prompt      string
	SlackUserID string // empty = anonymous; no budget check, no logging
	TaskID      string
}

// Result is the outcome of a processed prompt.
type Result struct {
	Content    string        `json:"content"`
	Role       Role          `json:"role"`
	Model      string        `json:"model"`
	TokensUsed int           `json:"tokens_used"`
	CostUSD    float64       `json:"cost_usd"`
	Duration   time.Duration `json:"duration"`
}

// Assistant processes prompts through an LLM provider. store may be nil,
// which disables budget enforcement and interaction logging.
type Assistant struct {
	provider llm.Provider
	store    storage.Store
	logger   *slog.Logger
}

// New creates an Assistant.
func New(provider llm.Provider, store storage.Store, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{provider: provider, store: store, logger: logger}
}

// Process answers one request. Budget is checked before the provider call;
// the interaction is logged after it, attributed to the stored user.
func (a *Assistant) Process(ctx context.Context, req Request) (*Result, error) {
	spec, ok := roleSpecs[req.Role]
	if !ok {
		if req.Role == "" {
			spec = roleSpecs[RoleGeneral]
			req.Role = RoleGeneral
		} else {
			return nil, fmt.Errorf("%w: %q", ErrUnknownRole, req.Role)
		}
	}

	var user *storage.User
	if req.SlackUserID != "" && a.store != nil {
		var err error
		user, err = a.store.Users().EnsureUser(ctx, req.SlackUserID, req.SlackUserID)
		if err != nil {
			return nil, fmt.Errorf("resolve user: %w", err)
		}
		if !user.Active {
			return nil, ErrUserInactive
		}
		spent, err := a.store.Interactions().DailyCost(ctx, user.ID, time.Now().UTC())
		if err != nil {
			return nil, fmt.Errorf("daily cost lookup: %w", err)
		}
		if spent >= user.DailyBudgetUSD {
			a.logger.Warn("daily budget exhausted",
				slog.String("user", req.SlackUserID),
				slog.Float64("spent_usd", spent),
				slog.Float64("budget_usd", user.DailyBudgetUSD),
			)
			return nil, fmt.Errorf("%w: $%.4f of $%.2f spent today", ErrBudgetExceeded, spent, user.DailyBudgetUSD)
		}
	}

	start := time.Now()
	resp, err := a.provider.Complete(ctx, &llm.Request{
		SystemPrompt: spec.systemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: req.Prompt}},
	})
	elapsed := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", a.provider.Name(), err)
	}

	result := &Result{
		Content:    resp.Content,
		Role:       req.Role,
		Model:      resp.Model,
		TokensUsed: resp.Usage.TotalTokens(),
		CostUSD:    resp.CostUSD,
		Duration:   elapsed,
	}

	if user != nil {
		a.logInteraction(ctx, user, req, result)
	}
	return result, nil
}

// logInteraction appends the completed exchange to the audit log. Failures
// are logged and swallowed so persistence problems never eat a response
// the user already paid for.
func (a *Assistant) logInteraction(ctx context.Context, user *storage.User, req Request, res *Result) {
	var taskID *uuid.UUID
	if req.TaskID != "" {
		id, err := uuid.Parse(req.TaskID)
		if err != nil {
			a.logger.Debug("interaction task id is not a uuid, storing unlinked",
				slog.String("task_id", req.TaskID),
			)
		} else {
			taskID = &id
		}
	}

	rec := &storage.Interaction{
		UserID:       user.ID,
		TaskID:       taskID,
		Type:         "agent_" + string(req.Role),
		Prompt:       req.Prompt,
		Response:     res.Content,
		Model:        res.Model,
		TokensUsed:   res.TokensUsed,
		CostUSD:      res.CostUSD,
		ResponseTime: res.Duration,
	}
	if err := a.store.Interactions().Append(ctx, rec); err != nil {
		a.logger.Error("interaction log append failed",
			slog.String("user", req.SlackUserID),
			slog.String("error", err.Error()),
		)
	}
}

// DailySpend reports how much of the user's budget is used for the
// current UTC day. Returns (0, budget, nil) for users not yet seen.
func (a *Assistant) DailySpend(ctx context.Context, slackUserID string) (spent, budget float64, err error) {
	if a.store == nil {
		return 0, 0, errors.New("no store configured")
	}
	user, err := a.store.Users().GetBySlackID(ctx, slackUserID)
	if err != nil {
		return 0, 0, err
	}
	spent, err = a.store.Interactions().DailyCost(ctx, user.ID, time.Now().UTC())
	if err != nil {
		return 0, 0, err
	}
	return spent, user.DailyBudgetUSD, nil
}
