package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jaceberelen/jace/internal/storage"
)

// InteractionRepository is the append-only audit log of AI and command
// activity, and the source of truth for per-user daily spend.
type InteractionRepository struct {
	db *gorm.DB
}

// NewInteractionRepository creates an InteractionRepository.
func NewInteractionRepository(db *gorm.DB) *InteractionRepository {
	return &InteractionRepository{db: db}
}

// Append persists one audit record. Records are never updated or deleted.
func (r *InteractionRepository) Append(ctx context.Context, rec *storage.Interaction) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	model := fromInteractionDomain(rec)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("appending interaction: %w", err)
	}
	rec.CreatedAt = model.CreatedAt
	return nil
}

// RecentByUser returns the user's latest records, newest first.
func (r *InteractionRepository) RecentByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*storage.Interaction, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []InteractionModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]*storage.Interaction, len(models))
	for i := range models {
		out[i] = toInteractionDomain(&models[i])
	}
	return out, nil
}

// DailyCost sums cost_usd over the UTC day containing day.
func (r *InteractionRepository) DailyCost(ctx context.Context, userID uuid.UUID, day time.Time) (float64, error) {
	dayStart := day.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)

	var total float64
	err := r.db.WithContext(ctx).
		Model(&InteractionModel{}).
		Select("COALESCE(SUM(cost_usd), 0)").
		Where("user_id = ? AND created_at >= ? AND created_at < ?", userID, dayStart, dayEnd).
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("summing daily cost: %w", err)
	}
	return total, nil
}

var _ storage.InteractionStore = (*InteractionRepository)(nil)
