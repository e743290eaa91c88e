// Package pipeline implements file-based task orchestration: markdown task
// files dropped into todo/ are claimed, sent to the LLM, and filed into
// done/ or failed/ with their results. A cron schedule drives the scan;
// batches never overlap.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/jaceberelen/jace/internal/executor"
	"github.com/jaceberelen/jace/internal/llm"
	"github.com/jaceberelen/jace/internal/observability"
)

const (
	dirTodo   = "todo"
	dirDoing  = "doing"
	dirDone   = "done"
	dirFailed = "failed"

	defaultSchedule = "@every 1m"

	taskSystemPrompt = `You are Jace, an autonomous task runner. The user
message is a task file. Complete the task and reply with the deliverable
only, formatted as markdown.`
)

// Config configures a Pipeline.
type Config struct {
	// Schedule is a cron expression for the scan. Empty = every minute.
	Schedule string

	// GitCommit commits the pipeline tree after each non-empty batch,
	// through the sandboxed executor.
	GitCommit bool
}

// Pipeline scans a workspace for task files and processes them through the
// LLM provider. The workspace layout is todo/, doing/, done/, failed/
// under the executor workspace root.
type Pipeline struct {
	root      string
	schedule  string
	gitCommit bool
	provider  llm.Provider
	exec      *executor.Executor // dedicated instance; owns the pipeline workspace
	metrics   *observability.MetricsCollector
	logger    *slog.Logger

	runMu sync.Mutex // serializes batches
	cron  *cron.Cron
}

// New creates a Pipeline rooted in a dedicated executor workspace,
// creating the stage directories if absent. The executor must not be
// shared with request-serving paths: the pipeline owns its workspace.
func New(cfg Config, provider llm.Provider, exec *executor.Executor, metrics *observability.MetricsCollector, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	root, err := exec.SetWorkspace("pipeline", "system")
	if err != nil {
		return nil, fmt.Errorf("pipeline workspace: %w", err)
	}
	for _, d := range []string{dirTodo, dirDoing, dirDone, dirFailed} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o750); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", d, err)
		}
	}
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = defaultSchedule
	}
	return &Pipeline{
		root:      root,
		schedule:  schedule,
		gitCommit: cfg.GitCommit,
		provider:  provider,
		exec:      exec,
		metrics:   metrics,
		logger:    logger,
	}, nil
}

// Root returns the pipeline workspace directory.
func (p *Pipeline) Root() string { return p.root }

// Start schedules periodic scans. Returns a stop function.
func (p *Pipeline) Start(ctx context.Context) (func(), error) {
	c := cron.New()
	_, err := c.AddFunc(p.schedule, func() {
		if n := p.RunBatch(ctx); n > 0 {
			p.logger.InfoContext(ctx, "pipeline batch complete", slog.Int("tasks", n))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid pipeline schedule %q: %w", p.schedule, err)
	}
	c.Start()
	p.cron = c
	p.logger.InfoContext(ctx, "pipeline started",
		slog.String("root", p.root),
		slog.String("schedule", p.schedule),
	)
	return func() {
		<-c.Stop().Done()
		p.logger.Info("pipeline stopped")
	}, nil
}

// RunBatch processes every task currently in todo/, oldest name first, and
// returns how many were attempted. Safe to call concurrently with the
// scheduled scans; only one batch runs at a time.
func (p *Pipeline) RunBatch(ctx context.Context) int {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	names, err := p.pending()
	if err != nil {
		p.logger.ErrorContext(ctx, "pipeline scan failed", slog.String("error", err.Error()))
		return 0
	}

	attempted := 0
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		attempted++
		if err := p.processTask(ctx, name); err != nil {
			p.logger.ErrorContext(ctx, "pipeline task failed",
				slog.String("task", name),
				slog.String("error", err.Error()),
			)
			p.count("failed")
		} else {
			p.count("completed")
		}
	}

	if attempted > 0 && p.gitCommit {
		p.commitBatch(ctx, attempted)
	}
	return attempted
}

// pending lists claimable task files in todo/, sorted by name.
func (p *Pipeline) pending() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(p.root, dirTodo))
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".md") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// processTask claims one task file, completes it, and files the outcome.
func (p *Pipeline) processTask(ctx context.Context, name string) error {
	doing := filepath.Join(p.root, dirDoing, name)

	// Claim: rename is atomic, so a concurrent scanner cannot double-claim.
	if err := os.Rename(filepath.Join(p.root, dirTodo, name), doing); err != nil {
		return fmt.Errorf("claim: %w", err)
	}

	body, err := os.ReadFile(doing)
	if err != nil {
		p.fail(name, err)
		return err
	}

	resp, err := p.provider.Complete(ctx, &llm.Request{
		SystemPrompt: taskSystemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: string(body)}},
	})
	if err != nil {
		p.fail(name, err)
		return fmt.Errorf("complete: %w", err)
	}

	resultName := strings.TrimSuffix(name, filepath.Ext(name)) + ".result.md"
	if err := os.WriteFile(filepath.Join(p.root, dirDone, resultName), []byte(resp.Content), 0o640); err != nil {
		p.fail(name, err)
		return fmt.Errorf("write result: %w", err)
	}
	if err := os.Rename(doing, filepath.Join(p.root, dirDone, name)); err != nil {
		return fmt.Errorf("move to done: %w", err)
	}
	return nil
}

// fail moves a claimed task into failed/ with an error note alongside it.
func (p *Pipeline) fail(name string, cause error) {
	doing := filepath.Join(p.root, dirDoing, name)
	if err := os.Rename(doing, filepath.Join(p.root, dirFailed, name)); err != nil {
		p.logger.Error("could not move failed task",
			slog.String("task", name),
			slog.String("error", err.Error()),
		)
		return
	}
	errName := strings.TrimSuffix(name, filepath.Ext(name)) + ".error.md"
	note := fmt.Sprintf("Task failed: %v\n", cause)
	if err := os.WriteFile(filepath.Join(p.root, dirFailed, errName), []byte(note), 0o640); err != nil {
		p.logger.Error("could not write failure note", slog.String("error", err.Error()))
	}
}

// commitBatch records the batch outcome in git, through the same validated
// execution path as user commands.
func (p *Pipeline) commitBatch(ctx context.Context, tasks int) {
	opts := executor.ExecOptions{}
	if r := p.exec.ExecuteCommand(ctx, "git add .", opts); !r.Success {
		p.logger.WarnContext(ctx, "pipeline git add failed", slog.String("stderr", r.Stderr))
		return
	}
	commit := fmt.Sprintf("git commit -m 'pipeline: %d tasks processed'", tasks)
	if r := p.exec.ExecuteCommand(ctx, commit, opts); !r.Success {
		// No changes to commit is the common benign case.
		p.logger.DebugContext(ctx, "pipeline git commit skipped", slog.String("stderr", r.Stderr))
	}
}

func (p *Pipeline) count(outcome string) {
	if p.metrics != nil {
		p.metrics.PipelineTasksTotal.WithLabelValues(outcome).Inc()
	}
}
