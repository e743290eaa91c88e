package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jaceberelen/jace/internal/executor"
	"github.com/jaceberelen/jace/internal/llm"
	"github.com/jaceberelen/jace/internal/observability"
)

type fakeProvider struct {
	reply string
	err   error
	seen  []string
}

func (f *fakeProvider) Complete(_ context.Context, req *llm.Request) (*llm.Response, error) {
	f.seen = append(f.seen, req.Messages[0].Content)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Content: f.reply, Model: "fake"}, nil
}

func (f *fakeProvider) Name() string { return "fake" }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPipeline(t *testing.T, provider llm.Provider, cfg Config) *Pipeline {
	t.Helper()
	exec, err := executor.New(executor.Config{BaseDir: t.TempDir()}, testLogger())
	if err != nil {
		t.Fatalf("executor.New: %v", err)
	}
	p, err := New(cfg, provider, exec, observability.NewMetricsCollector(), testLogger())
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	return p
}

func dropTask(t *testing.T, p *Pipeline, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(p.Root(), "todo", name), []byte(body), 0o640); err != nil {
		t.Fatalf("write task: %v", err)
	}
}

func TestNewCreatesStageDirs(t *testing.T) {
	p := newTestPipeline(t, &fakeProvider{reply: "ok"}, Config{})

	for _, d := range []string{"todo", "doing", "done", "failed"} {
		if fi, err := os.Stat(filepath.Join(p.Root(), d)); err != nil || !fi.IsDir() {
			t.Errorf("stage dir %s missing: %v", d, err)
		}
	}
}

func TestRunBatchProcessesTasks(t *testing.T) {
	fp := &fakeProvider{reply: "# Done\nAll set."}
	p := newTestPipeline(t, fp, Config{})

	dropTask(t, p, "01-report.md", "Write the weekly report.")
	dropTask(t, p, "02-cleanup.md", "List stale branches.")

	if n := p.RunBatch(context.Background()); n != 2 {
		t.Fatalf("attempted = %d, want 2", n)
	}

	// Oldest name first.
	if len(fp.seen) != 2 || !strings.Contains(fp.seen[0], "weekly report") {
		t.Errorf("unexpected processing order: %q", fp.seen)
	}

	for _, want := range []string{"01-report.md", "01-report.result.md", "02-cleanup.md", "02-cleanup.result.md"} {
		if _, err := os.Stat(filepath.Join(p.Root(), "done", want)); err != nil {
			t.Errorf("done/%s missing: %v", want, err)
		}
	}
	result, err := os.ReadFile(filepath.Join(p.Root(), "done", "01-report.result.md"))
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if string(result) != "# Done\nAll set." {
		t.Errorf("result content = %q", result)
	}

	// todo/ and doing/ drained.
	for _, d := range []string{"todo", "doing"} {
		entries, _ := os.ReadDir(filepath.Join(p.Root(), d))
		if len(entries) != 0 {
			t.Errorf("%s not empty: %d entries", d, len(entries))
		}
	}
}

func TestRunBatchProviderFailure(t *testing.T) {
	p := newTestPipeline(t, &fakeProvider{err: errors.New("model offline")}, Config{})
	dropTask(t, p, "task.md", "Do something.")

	if n := p.RunBatch(context.Background()); n != 1 {
		t.Fatalf("attempted = %d, want 1", n)
	}

	if _, err := os.Stat(filepath.Join(p.Root(), "failed", "task.md")); err != nil {
		t.Fatalf("failed/task.md missing: %v", err)
	}
	note, err := os.ReadFile(filepath.Join(p.Root(), "failed", "task.error.md"))
	if err != nil {
		t.Fatalf("error note missing: %v", err)
	}
	if !strings.Contains(string(note), "model offline") {
		t.Errorf("error note = %q", note)
	}
}

func TestRunBatchEmptyTodo(t *testing.T) {
	p := newTestPipeline(t, &fakeProvider{reply: "ok"}, Config{})
	if n := p.RunBatch(context.Background()); n != 0 {
		t.Errorf("attempted = %d, want 0", n)
	}
}

func TestRunBatchIgnoresNonMarkdown(t *testing.T) {
	p := newTestPipeline(t, &fakeProvider{reply: "ok"}, Config{})
	if err := os.WriteFile(filepath.Join(p.Root(), "todo", "notes.txt"), []byte("x"), 0o640); err != nil {
		t.Fatalf("write: %v", err)
	}
	if n := p.RunBatch(context.Background()); n != 0 {
		t.Errorf("attempted = %d, want 0", n)
	}
}

func TestStartAndStop(t *testing.T) {
	p := newTestPipeline(t, &fakeProvider{reply: "ok"}, Config{Schedule: "@every 1h"})

	stop, err := p.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	stop()
}

func TestStartInvalidSchedule(t *testing.T) {
	p := newTestPipeline(t, &fakeProvider{reply: "ok"}, Config{Schedule: "not a schedule"})

	if _, err := p.Start(context.Background()); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}
