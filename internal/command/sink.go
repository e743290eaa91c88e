package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jaceberelen/jace/internal/executor"
	"github.com/jaceberelen/jace/internal/storage"
)

// StoreSink adapts the interaction store to the executor's audit sink.
// It resolves the Slack user ID to a stored user, creating one on first
// sight, so command audit rows share the users table with chat activity.
type StoreSink struct {
	store  storage.Store
	logger *slog.Logger
}

var _ executor.AuditSink = (*StoreSink)(nil)

// NewStoreSink creates a sink backed by the given store.
func NewStoreSink(store storage.Store, logger *slog.Logger) *StoreSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreSink{store: store, logger: logger}
}

// LogInteraction persists one audit record.
func (s *StoreSink) LogInteraction(ctx context.Context, rec executor.Interaction) error {
	user, err := s.store.Users().EnsureUser(ctx, rec.UserID, rec.UserID)
	if err != nil {
		return fmt.Errorf("resolve user %q: %w", rec.UserID, err)
	}

	var taskID *uuid.UUID
	if rec.TaskID != "" {
		id, err := uuid.Parse(rec.TaskID)
		if err != nil {
			// Ad-hoc task labels are allowed; keep the row, drop the link.
			s.logger.Debug("interaction task id is not a uuid, storing unlinked",
				slog.String("task_id", rec.TaskID))
		} else {
			taskID = &id
		}
	}

	return s.store.Interactions().Append(ctx, &storage.Interaction{
		UserID:       user.ID,
		TaskID:       taskID,
		Type:         rec.Type,
		Prompt:       rec.Prompt,
		Response:     rec.Response,
		Model:        rec.Model,
		TokensUsed:   rec.TokensUsed,
		CostUSD:      rec.CostUSD,
		ResponseTime: rec.ResponseTime,
	})
}
