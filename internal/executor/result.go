package executor

import (
	"context"
	"time"
)

// CommandResult is the immutable outcome of one command execution attempt.
// Every call to ExecuteCommand produces exactly one of these — validation
// rejections, timeouts, and spawn failures included. Results are never
// mutated after creation.
type CommandResult struct {
	Success          bool          `json:"success"`
	Stdout           string        `json:"stdout"`
	Stderr           string        `json:"stderr"`
	ReturnCode       int           `json:"return_code"`
	ExecutionTime    time.Duration `json:"execution_time"`
	Command          string        `json:"command"`
	WorkingDirectory string        `json:"working_directory"`
	Timestamp        time.Time     `json:"timestamp"`
}

// Interaction is the audit record forwarded to an external interaction log
// when the caller's identity is known. Field layout mirrors the
// ai_interactions persistence schema.
type Interaction struct {
	UserID       string
	TaskID       string
	Type         string
	Prompt       string
	Response     string
	Model        string
	TokensUsed   int
	CostUSD      float64
	ResponseTime time.Duration
}

// AuditSink receives interaction records for durable storage. The executor
// treats the sink as fire-and-forget: a sink error is logged and swallowed,
// never reflected in the CommandResult returned to the caller.
type AuditSink interface {
	LogInteraction(ctx context.Context, rec Interaction) error
}
