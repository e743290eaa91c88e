// Package command wires the sandboxed executor into the rest of the
// assistant: durable audit logging, metrics, and the event hub consumed by
// WebSocket subscribers. The gateways talk to Service, never to the
// executor directly.
package command

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jaceberelen/jace/internal/events"
	"github.com/jaceberelen/jace/internal/executor"
	"github.com/jaceberelen/jace/internal/observability"
)

// Request carries one command execution on behalf of a user.
type Request struct {
	Command string
	UserID  string // Slack user ID; empty disables audit logging
	TaskID  string
	Timeout time.Duration // zero = executor default
}

// Service executes commands and fans out the outcome to the audit log,
// metrics, and event subscribers.
type Service struct {
	exec    *executor.Executor
	hub     *events.Hub
	metrics *observability.MetricsCollector // nil disables instrumentation
	logger  *slog.Logger
}

// NewService wires the executor to the event hub and metrics. hub and
// metrics may be nil.
func NewService(exec *executor.Executor, hub *events.Hub, metrics *observability.MetricsCollector, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{exec: exec, hub: hub, metrics: metrics, logger: logger}
}

// Executor exposes the underlying executor for workspace management.
func (s *Service) Executor() *executor.Executor { return s.exec }

// Execute runs the command through the executor and publishes the outcome.
// Like the executor itself, it always returns a result and never an error.
func (s *Service) Execute(ctx context.Context, req Request) *executor.CommandResult {
	result := s.exec.ExecuteCommand(ctx, req.Command, executor.ExecOptions{
		Timeout: req.Timeout,
		UserID:  req.UserID,
		TaskID:  req.TaskID,
	})
	s.observe(req, result)
	return result
}

// ExecuteAWS composes and runs an aws CLI invocation with optional
// --profile and --region flags.
func (s *Service) ExecuteAWS(ctx context.Context, subcommand, profile, region string, req Request) *executor.CommandResult {
	result := s.exec.ExecuteAWSCommand(ctx, subcommand, profile, region, executor.ExecOptions{
		Timeout: req.Timeout,
		UserID:  req.UserID,
		TaskID:  req.TaskID,
	})
	s.observe(req, result)
	return result
}

// History returns up to limit recent results, oldest-first.
func (s *Service) History(limit int) []*executor.CommandResult {
	return s.exec.CommandHistory(limit)
}

// AllowedCommands returns a snapshot of the whitelist.
func (s *Service) AllowedCommands() map[string][]string {
	return s.exec.AllowedCommands()
}

func (s *Service) observe(req Request, result *executor.CommandResult) {
	status := classify(result)

	if s.metrics != nil {
		base := baseCommand(result.Command)
		s.metrics.CommandExecutionsTotal.WithLabelValues(base, status).Inc()
		if status == "rejected" {
			s.metrics.CommandValidationsTotal.WithLabelValues("rejected").Inc()
		} else {
			s.metrics.CommandValidationsTotal.WithLabelValues("allowed").Inc()
			s.metrics.CommandExecutionDuration.WithLabelValues(base).Observe(result.ExecutionTime.Seconds())
		}
	}

	if s.hub != nil {
		s.hub.Publish(events.Event{
			Type:       events.EventCommandExecuted,
			UserID:     req.UserID,
			TaskID:     req.TaskID,
			Command:    result.Command,
			Success:    result.Success,
			ReturnCode: result.ReturnCode,
			Duration:   result.ExecutionTime,
		})
	}
}

// classify buckets a result for the metrics status label. Validation and
// workspace rejections never spawn a process, so they carry a -1 return
// code with zero execution time.
func classify(r *executor.CommandResult) string {
	switch {
	case r.Success:
		return "success"
	case r.ReturnCode == -1 && r.ExecutionTime == 0:
		return "rejected"
	case strings.HasPrefix(r.Stderr, "Command timed out"):
		return "timeout"
	case strings.HasPrefix(r.Stderr, "Execution error:"):
		return "error"
	default:
		return "failure"
	}
}

// baseCommand extracts the first token for the metric label, keeping label
// cardinality bounded to whitelisted commands.
func baseCommand(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "unknown"
	}
	return fields[0]
}
