package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jkaninda/okapi"

	"github.com/jaceberelen/jace/internal/assistant"
	"github.com/jaceberelen/jace/internal/command"
	"github.com/jaceberelen/jace/internal/executor"
	"github.com/jaceberelen/jace/internal/storage"
)

// --- Chat ---

// ChatRequest is the JSON body for POST /v1/chat.
type ChatRequest struct {
	Message string `json:"message"`
	Role    string `json:"role,omitempty"` // empty = keyword routing
	TaskID  string `json:"task_id,omitempty"`
}

// ChatResponse is the JSON response for POST /v1/chat.
type ChatResponse struct {
	Reply         string  `json:"reply"`
	Role          string  `json:"role"`
	Model         string  `json:"model"`
	TokensUsed    int     `json:"tokens_used"`
	CostUSD       float64 `json:"cost_usd"`
	CorrelationID string  `json:"correlation_id"`
}

func (g *Gateway) handleChat(c *okapi.Context) error {
	userID := c.GetString("userID")

	if g.limiter != nil {
		if err := g.limiter.Allow(userID); err != nil {
			return c.AbortTooManyRequests(err.Error())
		}
	}

	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("message is required")
	}
	if req.Message == "" {
		return c.AbortBadRequest("message is required")
	}

	role := assistant.Role(req.Role)
	if role == "" {
		role = assistant.RouteRole(req.Message)
	}

	correlationID := newCorrelationID()
	g.logger.Info("http chat",
		slog.String("user_id", userID),
		slog.String("correlation_id", correlationID),
		slog.String("role", string(role)),
	)

	reply, err := g.assistant.Process(c.Context(), assistant.Request{
		Role:        role,
		Prompt:      req.Message,
		SlackUserID: userID,
		TaskID:      req.TaskID,
	})
	if err != nil {
		switch {
		case errors.Is(err, assistant.ErrBudgetExceeded):
			return c.JSON(http.StatusPaymentRequired, ErrorBody{Error: err.Error()})
		case errors.Is(err, assistant.ErrUserInactive):
			return c.JSON(http.StatusForbidden, ErrorBody{Error: "user is deactivated"})
		case errors.Is(err, assistant.ErrUnknownRole):
			return c.AbortBadRequest("unknown role")
		}
		g.logger.Error("chat processing failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("processing failed")
	}

	return c.OK(ChatResponse{
		Reply:         reply.Content,
		Role:          string(reply.Role),
		Model:         reply.Model,
		TokensUsed:    reply.TokensUsed,
		CostUSD:       reply.CostUSD,
		CorrelationID: correlationID,
	})
}

func (g *Gateway) handleRoles(c *okapi.Context) error {
	return c.OK(assistant.AvailableRoles())
}

// --- Commands ---

// CommandRequest is the JSON body for POST /v1/commands.
type CommandRequest struct {
	Command        string `json:"command"`
	TaskID         string `json:"task_id,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// AWSCommandRequest is the JSON body for POST /v1/commands/aws.
type AWSCommandRequest struct {
	Subcommand     string `json:"subcommand"`
	Profile        string `json:"profile,omitempty"`
	Region         string `json:"region,omitempty"`
	TaskID         string `json:"task_id,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// CommandResponse mirrors one command execution result.
type CommandResponse struct {
	Success          bool      `json:"success"`
	Stdout           string    `json:"stdout"`
	Stderr           string    `json:"stderr"`
	ReturnCode       int       `json:"return_code"`
	DurationMS       int64     `json:"duration_ms"`
	Command          string    `json:"command"`
	WorkingDirectory string    `json:"working_directory"`
	Timestamp        time.Time `json:"timestamp"`
}

func toCommandResponse(r *executor.CommandResult) CommandResponse {
	return CommandResponse{
		Success:          r.Success,
		Stdout:           r.Stdout,
		Stderr:           r.Stderr,
		ReturnCode:       r.ReturnCode,
		DurationMS:       r.ExecutionTime.Milliseconds(),
		Command:          r.Command,
		WorkingDirectory: r.WorkingDirectory,
		Timestamp:        r.Timestamp,
	}
}

func (g *Gateway) handleCommandExecute(c *okapi.Context) error {
	userID := c.GetString("userID")

	if g.limiter != nil {
		if err := g.limiter.Allow(userID); err != nil {
			return c.AbortTooManyRequests(err.Error())
		}
	}

	var req CommandRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("command is required")
	}
	if req.Command == "" {
		return c.AbortBadRequest("command is required")
	}

	g.logger.Info("http command",
		slog.String("user_id", userID),
		slog.String("command", req.Command),
	)

	result := g.commands.Execute(c.Context(), command.Request{
		Command: req.Command,
		UserID:  userID,
		TaskID:  req.TaskID,
		Timeout: time.Duration(req.TimeoutSeconds) * time.Second,
	})
	return c.OK(toCommandResponse(result))
}

func (g *Gateway) handleAWSCommand(c *okapi.Context) error {
	userID := c.GetString("userID")

	if g.limiter != nil {
		if err := g.limiter.Allow(userID); err != nil {
			return c.AbortTooManyRequests(err.Error())
		}
	}

	var req AWSCommandRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("subcommand is required")
	}
	if req.Subcommand == "" {
		return c.AbortBadRequest("subcommand is required")
	}

	result := g.commands.ExecuteAWS(c.Context(), req.Subcommand, req.Profile, req.Region, command.Request{
		UserID:  userID,
		TaskID:  req.TaskID,
		Timeout: time.Duration(req.TimeoutSeconds) * time.Second,
	})
	return c.OK(toCommandResponse(result))
}

// HistoryQuery carries the query parameters for GET /v1/commands/history.
type HistoryQuery struct {
	Limit int `query:"limit"`
}

func (g *Gateway) handleCommandHistory(c *okapi.Context) error {
	var q HistoryQuery
	_ = c.Bind(&q)

	history := g.commands.History(q.Limit)
	resp := make([]CommandResponse, len(history))
	for i, r := range history {
		resp[i] = toCommandResponse(r)
	}
	return c.OK(resp)
}

func (g *Gateway) handleAllowedCommands(c *okapi.Context) error {
	return c.OK(g.commands.AllowedCommands())
}

// --- Workspaces ---

// WorkspaceRequest is the JSON body for POST /v1/workspaces.
type WorkspaceRequest struct {
	TaskID string `json:"task_id"`
}

// WorkspaceResponse is the JSON response for POST /v1/workspaces.
type WorkspaceResponse struct {
	Path string `json:"path"`
}

// WorkspaceFilesResponse is the JSON response for GET /v1/workspaces/files.
type WorkspaceFilesResponse struct {
	Files []string `json:"files"`
}

// WorkspaceCleanupResponse is the JSON response for DELETE /v1/workspaces/{taskID}.
type WorkspaceCleanupResponse struct {
	Removed bool `json:"removed"`
}

func (g *Gateway) handleWorkspaceSet(c *okapi.Context) error {
	userID := c.GetString("userID")

	var req WorkspaceRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("task_id is required")
	}
	if req.TaskID == "" {
		return c.AbortBadRequest("task_id is required")
	}

	path, err := g.commands.Executor().SetWorkspace(req.TaskID, userID)
	if err != nil {
		g.logger.Error("workspace creation failed",
			slog.String("task_id", req.TaskID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("workspace creation failed")
	}
	return c.OK(WorkspaceResponse{Path: path})
}

// FilesQuery carries the query parameters for GET /v1/workspaces/files.
type FilesQuery struct {
	Pattern string `query:"pattern"`
}

func (g *Gateway) handleWorkspaceFiles(c *okapi.Context) error {
	var q FilesQuery
	_ = c.Bind(&q)

	return c.OK(WorkspaceFilesResponse{Files: g.commands.Executor().ListWorkspaceFiles(q.Pattern)})
}

func (g *Gateway) handleWorkspaceCleanup(c *okapi.Context) error {
	userID := c.GetString("userID")
	taskID := c.Param("taskID")
	if taskID == "" {
		return c.AbortBadRequest("taskID is required")
	}

	removed := g.commands.Executor().CleanupWorkspace(taskID, userID)
	return c.OK(WorkspaceCleanupResponse{Removed: removed})
}

// --- Tasks ---

// TaskCreateRequest is the JSON body for POST /v1/tasks.
type TaskCreateRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// TaskResponse is a stored task.
type TaskResponse struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	Workspace   string    `json:"workspace,omitempty"`
	Result      string    `json:"result,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func toTaskResponse(t *storage.Task) TaskResponse {
	return TaskResponse{
		ID:          t.ID.String(),
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		Workspace:   t.WorkspacePath,
		Result:      t.Result,
		CreatedAt:   t.CreatedAt,
	}
}

func (g *Gateway) handleTaskCreate(c *okapi.Context) error {
	userID := c.GetString("userID")

	var req TaskCreateRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("title is required")
	}
	if req.Title == "" {
		return c.AbortBadRequest("title is required")
	}

	user, err := g.store.Users().EnsureUser(c.Context(), userID, userID)
	if err != nil {
		return c.AbortInternalServerError("user resolution failed")
	}

	task := &storage.Task{
		UserID:      user.ID,
		Title:       req.Title,
		Description: req.Description,
	}
	if err := g.store.Tasks().Create(c.Context(), task); err != nil {
		g.logger.Error("task creation failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("task creation failed")
	}
	return c.JSON(http.StatusCreated, toTaskResponse(task))
}

// TaskListQuery carries the query parameters for GET /v1/tasks.
type TaskListQuery struct {
	Limit int `query:"limit"`
}

func (g *Gateway) handleTaskList(c *okapi.Context) error {
	userID := c.GetString("userID")

	var q TaskListQuery
	_ = c.Bind(&q)

	user, err := g.store.Users().EnsureUser(c.Context(), userID, userID)
	if err != nil {
		return c.AbortInternalServerError("user resolution failed")
	}

	tasks, err := g.store.Tasks().ListByUser(c.Context(), user.ID, q.Limit)
	if err != nil {
		g.logger.Error("task listing failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("task listing failed")
	}
	resp := make([]TaskResponse, len(tasks))
	for i, t := range tasks {
		resp[i] = toTaskResponse(t)
	}
	return c.OK(resp)
}

// --- Usage ---

// UsageResponse reports the caller's AI spend for the current UTC day.
type UsageResponse struct {
	SpentUSD  float64 `json:"spent_usd"`
	BudgetUSD float64 `json:"budget_usd"`
}

func (g *Gateway) handleUsage(c *okapi.Context) error {
	userID := c.GetString("userID")

	spent, budget, err := g.assistant.DailySpend(c.Context(), userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.OK(UsageResponse{SpentUSD: 0, BudgetUSD: 0})
		}
		g.logger.Error("usage lookup failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("usage lookup failed")
	}
	return c.OK(UsageResponse{SpentUSD: spent, BudgetUSD: budget})
}

// --- Health ---

// HealthResponse is the JSON response for the health endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}
