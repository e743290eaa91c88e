// Package storage defines the unified Store interface that abstracts all
// persistence operations. Two backends are provided: SQLite (default,
// zero-config) and PostgreSQL (production).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a lookup matches no record. Backends
// translate their driver-level not-found errors to this sentinel.
var ErrNotFound = errors.New("record not found")

// Store is the unified persistence interface. Both backends implement it;
// sub-store accessors share the same underlying connection.
type Store interface {
	Users() UserStore
	Tasks() TaskStore
	Interactions() InteractionStore

	// Lifecycle.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// Driver returns the storage driver name ("sqlite" or "postgres").
	Driver() string
}

// UserStore manages assistant users keyed by their Slack identity.
type UserStore interface {
	// EnsureUser creates the user on first sight and returns it either way.
	EnsureUser(ctx context.Context, slackUserID, username string) (*User, error)
	GetBySlackID(ctx context.Context, slackUserID string) (*User, error)
	SetDailyBudget(ctx context.Context, id uuid.UUID, budgetUSD float64) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	List(ctx context.Context) ([]*User, error)
}

// TaskStore manages units of delegated work.
type TaskStore interface {
	Create(ctx context.Context, t *Task) error
	Get(ctx context.Context, id uuid.UUID) (*Task, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*Task, error)
	ListByStatus(ctx context.Context, status TaskStatus, limit int) ([]*Task, error)
	SetWorkspace(ctx context.Context, id uuid.UUID, path string) error
	// UpdateStatus records the transition; completed/failed also stamp
	// CompletedAt and store the result text.
	UpdateStatus(ctx context.Context, id uuid.UUID, status TaskStatus, result string) error
}

// InteractionStore is the append-only audit log of AI and command activity.
type InteractionStore interface {
	Append(ctx context.Context, rec *Interaction) error
	RecentByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*Interaction, error)
	// DailyCost sums cost_usd for the user over the UTC day containing day.
	DailyCost(ctx context.Context, userID uuid.UUID, day time.Time) (float64, error)
}

// User is an assistant user mapped from Slack.
type User struct {
	ID             uuid.UUID `json:"id"`
	SlackUserID    string    `json:"slack_user_id"`
	Username       string    `json:"username"`
	Email          string    `json:"email,omitempty"`
	Role           string    `json:"role"`
	Active         bool      `json:"active"`
	DailyBudgetUSD float64   `json:"daily_budget_usd"`
	CreatedAt      time.Time `json:"created_at"`
}

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Task is a unit of delegated work with an optional isolated workspace.
type Task struct {
	ID            uuid.UUID  `json:"id"`
	UserID        uuid.UUID  `json:"user_id"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Status        TaskStatus `json:"status"`
	Priority      int        `json:"priority"`
	AssignedRole  string     `json:"assigned_role,omitempty"`
	WorkspacePath string     `json:"workspace_path,omitempty"`
	Result        string     `json:"result,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Interaction is one audit record: an LLM call or a command execution.
type Interaction struct {
	ID           uuid.UUID     `json:"id"`
	UserID       uuid.UUID     `json:"user_id"`
	TaskID       *uuid.UUID    `json:"task_id,omitempty"`
	Type         string        `json:"type"` // "chat", "task", "command_execution"
	Prompt       string        `json:"prompt"`
	Response     string        `json:"response"`
	Model        string        `json:"model"`
	TokensUsed   int           `json:"tokens_used"`
	CostUSD      float64       `json:"cost_usd"`
	ResponseTime time.Duration `json:"response_time"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Config holds storage configuration for driver selection.
type Config struct {
	Driver   string         `yaml:"driver" json:"driver"` // "sqlite" (default) or "postgres"
	SQLite   SQLiteConfig   `yaml:"sqlite" json:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres" json:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path        string `yaml:"path" json:"path,omitempty"`
	JournalMode string `yaml:"journal_mode" json:"journal_mode"` // "wal" (default)
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN              string `yaml:"dsn" json:"dsn"`
	MaxOpenConns     int    `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns     int    `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetimeS int    `yaml:"conn_max_lifetime_s" json:"conn_max_lifetime_s"`
}

const (
	// DefaultDriver is used when Config.Driver is empty.
	DefaultDriver = "sqlite"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)
