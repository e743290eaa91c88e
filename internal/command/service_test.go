package command

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/jaceberelen/jace/internal/events"
	"github.com/jaceberelen/jace/internal/executor"
	"github.com/jaceberelen/jace/internal/observability"
	"github.com/jaceberelen/jace/internal/storage"
	"github.com/jaceberelen/jace/internal/storage/sqlite"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T) (*Service, *events.Hub, *observability.MetricsCollector) {
	t.Helper()
	exec, err := executor.New(executor.Config{BaseDir: t.TempDir()}, testLogger())
	if err != nil {
		t.Fatalf("executor.New: %v", err)
	}
	if _, err := exec.SetWorkspace("task-1", "U12345"); err != nil {
		t.Fatalf("SetWorkspace: %v", err)
	}
	hub := events.NewHub()
	metrics := observability.NewMetricsCollector()
	return NewService(exec, hub, metrics, testLogger()), hub, metrics
}

func counterValue(t *testing.T, m *observability.MetricsCollector, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if matchLabels(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matchLabels(m *dto.Metric, want map[string]string) bool {
	got := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestExecutePublishesEvent(t *testing.T) {
	svc, hub, _ := newTestService(t)

	ch, cancel := hub.Subscribe()
	defer cancel()

	result := svc.Execute(context.Background(), Request{
		Command: "echo hello",
		UserID:  "U12345",
		TaskID:  "task-1",
	})
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}

	select {
	case ev := <-ch:
		if ev.Type != events.EventCommandExecuted {
			t.Errorf("event type = %q", ev.Type)
		}
		if ev.Command != "echo hello" || !ev.Success || ev.UserID != "U12345" {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}

func TestExecuteMetrics(t *testing.T) {
	svc, _, metrics := newTestService(t)
	ctx := context.Background()

	svc.Execute(ctx, Request{Command: "echo ok"})
	svc.Execute(ctx, Request{Command: "sudo rm -rf /tmp/x"})

	success := counterValue(t, metrics, "jace_command_executions_total",
		map[string]string{"base_command": "echo", "status": "success"})
	if success != 1 {
		t.Errorf("success counter = %v, want 1", success)
	}
	rejected := counterValue(t, metrics, "jace_command_validations_total",
		map[string]string{"result": "rejected"})
	if rejected != 1 {
		t.Errorf("rejected counter = %v, want 1", rejected)
	}
}

func TestExecuteNilHubAndMetrics(t *testing.T) {
	exec, err := executor.New(executor.Config{BaseDir: t.TempDir()}, testLogger())
	if err != nil {
		t.Fatalf("executor.New: %v", err)
	}
	if _, err := exec.SetWorkspace("t", "u"); err != nil {
		t.Fatalf("SetWorkspace: %v", err)
	}
	svc := NewService(exec, nil, nil, testLogger())

	result := svc.Execute(context.Background(), Request{Command: "echo bare"})
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		result *executor.CommandResult
		want   string
	}{
		{"success", &executor.CommandResult{Success: true}, "success"},
		{"rejected", &executor.CommandResult{ReturnCode: -1}, "rejected"},
		{"timeout", &executor.CommandResult{ReturnCode: -1, ExecutionTime: time.Second, Stderr: "Command timed out after 1 seconds"}, "timeout"},
		{"spawn error", &executor.CommandResult{ReturnCode: -1, ExecutionTime: time.Millisecond, Stderr: "Execution error: fork failed"}, "error"},
		{"nonzero exit", &executor.CommandResult{ReturnCode: 2, ExecutionTime: time.Millisecond}, "failure"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.result); got != tt.want {
				t.Errorf("classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStoreSink(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.Open(storage.SQLiteConfig{Path: t.TempDir() + "/jace.db"}, testLogger())
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	sink := NewStoreSink(store, testLogger())
	err = sink.LogInteraction(ctx, executor.Interaction{
		UserID:   "U777",
		TaskID:   "not-a-uuid",
		Type:     "command_execution",
		Prompt:   "ls -la",
		Response: "Exit code: 0",
		Model:    "command_executor",
	})
	if err != nil {
		t.Fatalf("LogInteraction: %v", err)
	}

	user, err := store.Users().GetBySlackID(ctx, "U777")
	if err != nil {
		t.Fatalf("GetBySlackID: %v", err)
	}
	recs, err := store.Interactions().RecentByUser(ctx, user.ID, 10)
	if err != nil {
		t.Fatalf("RecentByUser: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d interactions, want 1", len(recs))
	}
	if recs[0].Type != "command_execution" || recs[0].Prompt != "ls -la" {
		t.Errorf("unexpected record: %+v", recs[0])
	}
	if recs[0].TaskID != nil {
		t.Errorf("non-uuid task id should be stored unlinked, got %v", recs[0].TaskID)
	}
}
