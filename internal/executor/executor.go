// Package executor implements the sandboxed shell-command execution
// subsystem: whitelist/blocklist validation, per-task workspace isolation
// with containment re-checks, timeout-bounded subprocess execution, and an
// append-only in-memory audit history.
//
// The executor never propagates an error past its public call boundary —
// every ExecuteCommand path, including malicious input and OS-level spawn
// failures, yields a structured CommandResult.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	// defaultMaxOutputBytes caps captured stdout/stderr per stream. The cap
	// is part of the contract: a runaway command cannot exhaust memory, and
	// excess output is silently discarded rather than erroring.
	defaultMaxOutputBytes = 1 << 20 // 1 MB

	defaultTimeout = 30 * time.Second

	// reapDelay bounds how long a killed process group may hold the output
	// pipes open before Run gives up on the copiers.
	reapDelay = 5 * time.Second

	// auditSummaryLimit truncates stdout/stderr in the forwarded audit
	// record, matching the interaction log's response column budget.
	auditSummaryLimit = 500
)

// Config configures an Executor instance.
type Config struct {
	// BaseDir is the root under which all task workspaces are created.
	// Empty = "workspaces" under the current directory.
	BaseDir string

	// Whitelist overrides the default command whitelist. Nil = default.
	Whitelist map[string][]string

	// Blocklist overrides the default dangerous-pattern list. Nil = default.
	Blocklist []string

	// DefaultTimeout applies when ExecOptions.Timeout is zero. Zero = 30s.
	DefaultTimeout time.Duration

	// MaxOutputBytes caps captured output per stream. Zero = 1 MB.
	MaxOutputBytes int
}

// ExecOptions carries per-call execution parameters.
type ExecOptions struct {
	// Timeout bounds the wall-clock runtime of the spawned process.
	// Zero = executor default.
	Timeout time.Duration

	// UserID, when non-empty, enables forwarding an audit record to the
	// configured AuditSink. TaskID is carried along for attribution.
	UserID string
	TaskID string
}

// Executor validates, executes, and audits shell commands inside isolated
// per-task working directories. Construct one instance per host process or
// per test — there is no package-level singleton.
//
// The whitelist and blocklist are immutable after construction and read
// concurrently without locking. The command history is append-only under a
// mutex; concurrent executions against different workspaces proceed without
// contending on any shared lock beyond the history append.
type Executor struct {
	baseDir        string
	whitelist      map[string][]string
	blocklist      []string
	defaultTimeout time.Duration
	maxOutput      int
	logger         *slog.Logger
	sink           AuditSink

	mu        sync.Mutex
	workspace string // active workspace; empty until SetWorkspace
	history   []*CommandResult
}

// New creates an Executor rooted at cfg.BaseDir, creating the base
// directory if absent.
func New(cfg Config, logger *slog.Logger) (*Executor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	base := cfg.BaseDir
	if base == "" {
		base = "workspaces"
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("resolving base workspace path %q: %w", base, err)
	}
	if err := os.MkdirAll(abs, 0750); err != nil {
		return nil, fmt.Errorf("creating base workspace directory: %w", err)
	}

	whitelist := cfg.Whitelist
	if whitelist == nil {
		whitelist = DefaultWhitelist()
	}
	blocklist := cfg.Blocklist
	if blocklist == nil {
		blocklist = DefaultBlocklist()
	}
	// Blocklist matching is case-insensitive; normalize once.
	lowered := make([]string, len(blocklist))
	for i, p := range blocklist {
		lowered[i] = strings.ToLower(p)
	}

	timeout := cfg.DefaultTimeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	maxOutput := cfg.MaxOutputBytes
	if maxOutput == 0 {
		maxOutput = defaultMaxOutputBytes
	}

	logger.Info("command executor initialized", slog.String("base_workspace", abs))

	return &Executor{
		baseDir:        abs,
		whitelist:      whitelist,
		blocklist:      lowered,
		defaultTimeout: timeout,
		maxOutput:      maxOutput,
		logger:         logger,
	}, nil
}

// WithAuditSink attaches an interaction log sink. Sink failures are logged
// and swallowed; they never affect returned results.
func (e *Executor) WithAuditSink(sink AuditSink) *Executor {
	e.sink = sink
	return e
}

// BaseDir returns the resolved base workspace directory.
func (e *Executor) BaseDir() string {
	return e.baseDir
}

// --- Workspace management ---

// workspacePath is a pure function of the two identifiers: repeated calls
// for the same pair always resolve to the same directory.
func (e *Executor) workspacePath(taskID, userID string) string {
	if userID == "" {
		userID = "default"
	}
	return filepath.Join(e.baseDir, fmt.Sprintf("user_%s_task_%s", userID, taskID))
}

// SetWorkspace resolves and lazily creates the isolated directory for the
// given (taskID, userID) pair and records it as the active workspace for
// subsequent executions. Idempotent: an existing directory is not an error.
func (e *Executor) SetWorkspace(taskID, userID string) (string, error) {
	path := e.workspacePath(taskID, userID)
	if err := os.MkdirAll(path, 0750); err != nil {
		return "", fmt.Errorf("creating workspace %s: %w", path, err)
	}

	e.mu.Lock()
	e.workspace = path
	e.mu.Unlock()

	e.logger.Info("workspace set", slog.String("path", path))
	return path, nil
}

// CleanupWorkspace recursively deletes the workspace for (taskID, userID).
// Returns true on success, including when the directory was already absent.
// Deletion errors are logged and reported as false, never raised.
func (e *Executor) CleanupWorkspace(taskID, userID string) bool {
	path := e.workspacePath(taskID, userID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return true
	}
	if err := os.RemoveAll(path); err != nil {
		e.logger.Error("workspace cleanup failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return false
	}

	e.mu.Lock()
	if e.workspace == path {
		e.workspace = ""
	}
	e.mu.Unlock()

	e.logger.Info("workspace cleaned up", slog.String("path", path))
	return true
}

// ListWorkspaceFiles returns glob matches rooted at the active workspace.
// Returns an empty slice — never an error — when no workspace is active,
// the directory is missing, or the pattern is malformed.
func (e *Executor) ListWorkspaceFiles(pattern string) []string {
	e.mu.Lock()
	ws := e.workspace
	e.mu.Unlock()

	if ws == "" {
		return nil
	}
	if _, err := os.Stat(ws); err != nil {
		return nil
	}
	if pattern == "" {
		pattern = "*"
	}
	matches, err := filepath.Glob(filepath.Join(ws, pattern))
	if err != nil {
		e.logger.Error("listing workspace files failed", slog.String("error", err.Error()))
		return nil
	}
	return matches
}

// validateWorkspace confirms, immediately before execution, that the active
// workspace is set, exists on disk, and — after resolving symlinks — is
// still a descendant of the base directory. Containment is re-verified on
// every call: a previous command may have replaced the workspace with a
// symlink pointing outside the base.
func (e *Executor) validateWorkspace(ws string) (bool, string) {
	if ws == "" {
		return false, "No workspace set - call SetWorkspace first"
	}
	if _, err := os.Stat(ws); err != nil {
		return false, fmt.Sprintf("Workspace does not exist: %s", ws)
	}

	resolvedWS, err := filepath.EvalSymlinks(ws)
	if err != nil {
		return false, fmt.Sprintf("Workspace does not exist: %s", ws)
	}
	resolvedBase, err := filepath.EvalSymlinks(e.baseDir)
	if err != nil {
		return false, "Workspace outside allowed base path"
	}

	rel, err := filepath.Rel(resolvedBase, resolvedWS)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false, "Workspace outside allowed base path"
	}

	return true, "Workspace validated"
}

// --- Execution ---

// ExecuteCommand runs a command inside the active workspace under the given
// options. It always returns a CommandResult; no path raises. Validation
// runs strictly before any process is spawned.
func (e *Executor) ExecuteCommand(ctx context.Context, command string, opts ExecOptions) *CommandResult {
	start := time.Now()

	e.mu.Lock()
	ws := e.workspace
	e.mu.Unlock()

	// Gate: command policy. Checked before the workspace so malicious input
	// is rejected with its policy reason even when no workspace is set.
	if ok, reason := validateCommand(command, e.whitelist, e.blocklist); !ok {
		e.logger.Warn("command validation failed",
			slog.String("command", command),
			slog.String("reason", reason),
		)
		return e.record(ctx, &CommandResult{
			Success:          false,
			Stderr:           reason,
			ReturnCode:       -1,
			Command:          command,
			WorkingDirectory: ws,
			Timestamp:        time.Now().UTC(),
		}, opts)
	}

	// Gate: workspace preconditions, re-checked on every call.
	if ok, reason := e.validateWorkspace(ws); !ok {
		e.logger.Warn("workspace validation failed",
			slog.String("workspace", ws),
			slog.String("reason", reason),
		)
		return e.record(ctx, &CommandResult{
			Success:          false,
			Stderr:           reason,
			ReturnCode:       -1,
			Command:          command,
			WorkingDirectory: ws,
			Timestamp:        time.Now().UTC(),
		}, opts)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// The whole command string is handed to the shell deliberately: pipes
	// and redirection are a supported capability for whitelisted tools.
	// The validation gates above are the only defense — they must never be
	// reordered after the spawn.
	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
	cmd.Dir = ws
	cmd.Env = append(os.Environ(), "JACE_WORKSPACE="+ws, "PWD="+ws)

	// Own process group so the timeout kill reaches children spawned by
	// the command, not just the shell.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = reapDelay

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, remaining: e.maxOutput}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, remaining: e.maxOutput}

	e.logger.Info("executing command",
		slog.String("command", command),
		slog.String("workspace", ws),
		slog.Duration("timeout", timeout),
	)

	runErr := cmd.Run()
	elapsed := time.Since(start)

	result := &CommandResult{
		Command:          command,
		WorkingDirectory: ws,
		ExecutionTime:    elapsed,
		Timestamp:        time.Now().UTC(),
	}

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		// The process group was killed and reaped by Run before it
		// returned; nothing is left dangling.
		result.ReturnCode = -1
		// Round up so sub-second timeouts never read "0 seconds".
		result.Stderr = fmt.Sprintf("Command timed out after %d seconds", int(math.Ceil(timeout.Seconds())))
		e.logger.Warn("command timed out",
			slog.String("command", command),
			slog.Duration("timeout", timeout),
		)

	case runErr == nil:
		result.Success = true
		result.ReturnCode = 0
		result.Stdout = decodeOutput(stdoutBuf.Bytes())
		result.Stderr = decodeOutput(stderrBuf.Bytes())

	default:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			// Non-zero exit is a result, not an execution error.
			result.ReturnCode = exitErr.ExitCode()
			result.Stdout = decodeOutput(stdoutBuf.Bytes())
			result.Stderr = decodeOutput(stderrBuf.Bytes())
			e.logger.Warn("command failed",
				slog.String("command", command),
				slog.Int("return_code", result.ReturnCode),
			)
		} else {
			// Spawn/runtime failure (shell missing, fd exhaustion, ...).
			result.ReturnCode = -1
			result.Stderr = fmt.Sprintf("Execution error: %v", runErr)
			e.logger.Error("command execution error",
				slog.String("command", command),
				slog.String("error", runErr.Error()),
			)
		}
	}

	if result.Success {
		e.logger.Info("command executed",
			slog.String("command", command),
			slog.Duration("duration", elapsed),
		)
	}

	return e.record(ctx, result, opts)
}

// ExecuteAWSCommand prepends "aws" with optional --profile and --region
// flags and delegates to ExecuteCommand. The composed string passes through
// the same validation gates as any other command.
func (e *Executor) ExecuteAWSCommand(ctx context.Context, subcommand, profile, region string, opts ExecOptions) *CommandResult {
	parts := []string{"aws"}
	if profile != "" {
		parts = append(parts, "--profile", profile)
	}
	if region != "" {
		parts = append(parts, "--region", region)
	}
	parts = append(parts, subcommand)
	return e.ExecuteCommand(ctx, strings.Join(parts, " "), opts)
}

// --- History and introspection ---

// record appends the result to the in-process history and, when caller
// identity is known, forwards an audit record to the sink. Always returns
// its argument.
func (e *Executor) record(ctx context.Context, result *CommandResult, opts ExecOptions) *CommandResult {
	e.mu.Lock()
	e.history = append(e.history, result)
	e.mu.Unlock()

	if opts.UserID != "" && e.sink != nil {
		rec := Interaction{
			UserID:       opts.UserID,
			TaskID:       opts.TaskID,
			Type:         "command_execution",
			Prompt:       result.Command,
			Response:     auditSummary(result),
			Model:        "command_executor",
			ResponseTime: result.ExecutionTime,
		}
		if err := e.sink.LogInteraction(ctx, rec); err != nil {
			e.logger.Error("audit sink append failed", slog.String("error", err.Error()))
		}
	}

	return result
}

// CommandHistory returns up to limit of the most recent results,
// oldest-first within that window.
func (e *Executor) CommandHistory(limit int) []*CommandResult {
	if limit <= 0 {
		limit = 50
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	start := len(e.history) - limit
	if start < 0 {
		start = 0
	}
	out := make([]*CommandResult, len(e.history)-start)
	copy(out, e.history[start:])
	return out
}

// AllowedCommands returns a read-only snapshot of the whitelist mapping.
func (e *Executor) AllowedCommands() map[string][]string {
	out := make(map[string][]string, len(e.whitelist))
	for base, subs := range e.whitelist {
		out[base] = append([]string(nil), subs...)
	}
	return out
}

// --- Helpers ---

// auditSummary condenses a result for the interaction log.
func auditSummary(r *CommandResult) string {
	return fmt.Sprintf("Exit code: %d\nSTDOUT: %s\nSTDERR: %s",
		r.ReturnCode, truncate(r.Stdout, auditSummaryLimit), truncate(r.Stderr, auditSummaryLimit))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// decodeOutput converts captured bytes to text, replacing undecodable
// sequences instead of failing.
func decodeOutput(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}

// limitedWriter stops writing after a byte limit. Excess output is silently
// discarded — the cap is a contract, not an error.
type limitedWriter struct {
	w         io.Writer
	remaining int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.remaining <= 0 {
		return len(p), nil
	}
	n := len(p)
	if n > lw.remaining {
		p = p[:lw.remaining]
	}
	written, err := lw.w.Write(p)
	lw.remaining -= written
	if err != nil {
		return written, err
	}
	return n, nil
}
