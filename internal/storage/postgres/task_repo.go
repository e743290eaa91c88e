package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jaceberelen/jace/internal/storage"
)

// TaskRepository manages delegated work items.
type TaskRepository struct {
	db *gorm.DB
}

// NewTaskRepository creates a TaskRepository.
func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Create persists a new task, assigning an ID and pending status when unset.
func (r *TaskRepository) Create(ctx context.Context, t *storage.Task) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = storage.TaskPending
	}
	model := TaskModel{
		ID:            t.ID,
		UserID:        t.UserID,
		Title:         t.Title,
		Description:   t.Description,
		Status:        string(t.Status),
		Priority:      t.Priority,
		AssignedRole:  t.AssignedRole,
		WorkspacePath: t.WorkspacePath,
		Result:        t.Result,
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("creating task %q: %w", t.Title, err)
	}
	t.CreatedAt = model.CreatedAt
	t.UpdatedAt = model.UpdatedAt
	return nil
}

// Get retrieves a task by ID.
func (r *TaskRepository) Get(ctx context.Context, id uuid.UUID) (*storage.Task, error) {
	var model TaskModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("task %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return toTaskDomain(&model), nil
}

// ListByUser returns the user's most recent tasks, newest first.
func (r *TaskRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*storage.Task, error) {
	return r.list(ctx, r.db.Where("user_id = ?", userID), limit)
}

// ListByStatus returns tasks in the given state, newest first.
func (r *TaskRepository) ListByStatus(ctx context.Context, status storage.TaskStatus, limit int) ([]*storage.Task, error) {
	return r.list(ctx, r.db.Where("status = ?", string(status)), limit)
}

func (r *TaskRepository) list(ctx context.Context, q *gorm.DB, limit int) ([]*storage.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []TaskModel
	err := q.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]*storage.Task, len(models))
	for i := range models {
		out[i] = toTaskDomain(&models[i])
	}
	return out, nil
}

// SetWorkspace records the isolated directory assigned to a task.
func (r *TaskRepository) SetWorkspace(ctx context.Context, id uuid.UUID, path string) error {
	return r.db.WithContext(ctx).
		Model(&TaskModel{}).
		Where("id = ?", id).
		Update("workspace_path", path).Error
}

// UpdateStatus records a lifecycle transition. Terminal states stamp
// CompletedAt and persist the result text.
func (r *TaskRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status storage.TaskStatus, result string) error {
	updates := map[string]any{"status": string(status)}
	if result != "" {
		updates["result"] = result
	}
	if status == storage.TaskCompleted || status == storage.TaskFailed {
		now := time.Now().UTC()
		updates["completed_at"] = &now
	}
	res := r.db.WithContext(ctx).
		Model(&TaskModel{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("task %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

var _ storage.TaskStore = (*TaskRepository)(nil)
