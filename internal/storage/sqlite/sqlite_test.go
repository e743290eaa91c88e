package sqlite

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jaceberelen/jace/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(storage.SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "jace.db"),
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func TestDriver(t *testing.T) {
	s := openTestStore(t)
	if s.Driver() != storage.DriverSQLite {
		t.Errorf("Driver() = %q", s.Driver())
	}
}

func TestEnsureUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u, err := s.Users().EnsureUser(ctx, "U123", "alice")
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if u.ID == uuid.Nil {
		t.Error("user ID not assigned")
	}
	if !u.Active {
		t.Error("new user should be active")
	}
	if u.DailyBudgetUSD <= 0 {
		t.Error("new user should have a default daily budget")
	}

	// Second call is a lookup, not a duplicate insert.
	again, err := s.Users().EnsureUser(ctx, "U123", "alice-renamed")
	if err != nil {
		t.Fatalf("second EnsureUser: %v", err)
	}
	if again.ID != u.ID {
		t.Errorf("EnsureUser created a duplicate: %s vs %s", again.ID, u.ID)
	}
	if again.Username != "alice" {
		t.Errorf("existing username overwritten: %q", again.Username)
	}

	got, err := s.Users().GetBySlackID(ctx, "U123")
	if err != nil {
		t.Fatalf("GetBySlackID: %v", err)
	}
	if got.ID != u.ID {
		t.Error("lookup returned wrong user")
	}
}

func TestUserUpdates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u, err := s.Users().EnsureUser(ctx, "U1", "alice")
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Users().SetDailyBudget(ctx, u.ID, 25.5); err != nil {
		t.Fatalf("SetDailyBudget: %v", err)
	}
	if err := s.Users().SetActive(ctx, u.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	got, err := s.Users().GetBySlackID(ctx, "U1")
	if err != nil {
		t.Fatal(err)
	}
	if got.DailyBudgetUSD != 25.5 {
		t.Errorf("budget = %v, want 25.5", got.DailyBudgetUSD)
	}
	if got.Active {
		t.Error("user should be deactivated")
	}
}

func TestTaskLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u, err := s.Users().EnsureUser(ctx, "U1", "alice")
	if err != nil {
		t.Fatal(err)
	}

	task := &storage.Task{
		UserID:      u.ID,
		Title:       "deploy staging",
		Description: "run the terraform plan",
		Priority:    2,
	}
	if err := s.Tasks().Create(ctx, task); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if task.ID == uuid.Nil {
		t.Fatal("task ID not assigned")
	}
	if task.Status != storage.TaskPending {
		t.Errorf("status = %q, want pending", task.Status)
	}

	if err := s.Tasks().SetWorkspace(ctx, task.ID, "/srv/workspaces/user_u1_task_1"); err != nil {
		t.Fatalf("SetWorkspace: %v", err)
	}
	if err := s.Tasks().UpdateStatus(ctx, task.ID, storage.TaskInProgress, ""); err != nil {
		t.Fatalf("UpdateStatus in_progress: %v", err)
	}
	if err := s.Tasks().UpdateStatus(ctx, task.ID, storage.TaskCompleted, "plan applied"); err != nil {
		t.Fatalf("UpdateStatus completed: %v", err)
	}

	got, err := s.Tasks().Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != storage.TaskCompleted {
		t.Errorf("status = %q", got.Status)
	}
	if got.Result != "plan applied" {
		t.Errorf("result = %q", got.Result)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not stamped")
	}
	if got.WorkspacePath == "" {
		t.Error("workspace path not persisted")
	}
}

func TestTaskListing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u, err := s.Users().EnsureUser(ctx, "U1", "alice")
	if err != nil {
		t.Fatal(err)
	}
	other, err := s.Users().EnsureUser(ctx, "U2", "bob")
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if err := s.Tasks().Create(ctx, &storage.Task{UserID: u.ID, Title: "t"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Tasks().Create(ctx, &storage.Task{UserID: other.ID, Title: "other"}); err != nil {
		t.Fatal(err)
	}

	mine, err := s.Tasks().ListByUser(ctx, u.ID, 10)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(mine) != 3 {
		t.Errorf("ListByUser = %d tasks, want 3", len(mine))
	}

	pending, err := s.Tasks().ListByStatus(ctx, storage.TaskPending, 10)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(pending) != 4 {
		t.Errorf("ListByStatus = %d tasks, want 4", len(pending))
	}

	limited, err := s.Tasks().ListByUser(ctx, u.ID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Errorf("limit ignored: %d tasks", len(limited))
	}
}

func TestUpdateStatusUnknownTask(t *testing.T) {
	s := openTestStore(t)
	err := s.Tasks().UpdateStatus(context.Background(), uuid.New(), storage.TaskCompleted, "")
	if err == nil {
		t.Error("expected error for unknown task")
	}
}

func TestInteractionsAndDailyCost(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u, err := s.Users().EnsureUser(ctx, "U1", "alice")
	if err != nil {
		t.Fatal(err)
	}
	other, err := s.Users().EnsureUser(ctx, "U2", "bob")
	if err != nil {
		t.Fatal(err)
	}

	records := []*storage.Interaction{
		{UserID: u.ID, Type: "chat", Prompt: "hello", Response: "hi", Model: "claude-3-haiku", TokensUsed: 12, CostUSD: 0.002},
		{UserID: u.ID, Type: "command_execution", Prompt: "git status", Response: "Exit code: 0", Model: "command_executor"},
		{UserID: u.ID, Type: "chat", Prompt: "plan", Response: "...", Model: "gpt-4o", TokensUsed: 900, CostUSD: 0.05},
		{UserID: other.ID, Type: "chat", Prompt: "x", Response: "y", Model: "gpt-4o", CostUSD: 1.0},
	}
	for _, rec := range records {
		if err := s.Interactions().Append(ctx, rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	recent, err := s.Interactions().RecentByUser(ctx, u.ID, 2)
	if err != nil {
		t.Fatalf("RecentByUser: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("recent = %d records, want 2", len(recent))
	}

	cost, err := s.Interactions().DailyCost(ctx, u.ID, time.Now())
	if err != nil {
		t.Fatalf("DailyCost: %v", err)
	}
	if cost < 0.0519 || cost > 0.0521 {
		t.Errorf("daily cost = %v, want 0.052", cost)
	}

	// Yesterday has no spend.
	empty, err := s.Interactions().DailyCost(ctx, u.ID, time.Now().AddDate(0, 0, -1))
	if err != nil {
		t.Fatal(err)
	}
	if empty != 0 {
		t.Errorf("yesterday cost = %v, want 0", empty)
	}
}
