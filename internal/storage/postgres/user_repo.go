package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jaceberelen/jace/internal/storage"
)

// defaultDailyBudgetUSD caps per-user spending on first registration.
const defaultDailyBudgetUSD = 10.0

// UserRepository manages assistant user records.
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a UserRepository.
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// EnsureUser creates a user on first sight, keyed by Slack user ID, and
// returns the record either way.
func (r *UserRepository) EnsureUser(ctx context.Context, slackUserID, username string) (*storage.User, error) {
	var user UserModel
	err := r.db.WithContext(ctx).
		Where("slack_user_id = ?", slackUserID).
		First(&user).Error
	if err == nil {
		return toUserDomain(&user), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("looking up user %q: %w", slackUserID, err)
	}

	user = UserModel{
		ID:             uuid.New(),
		SlackUserID:    slackUserID,
		Username:       username,
		Role:           "member",
		Active:         true,
		DailyBudgetUSD: defaultDailyBudgetUSD,
	}
	if err := r.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, fmt.Errorf("creating user %q: %w", slackUserID, err)
	}
	return toUserDomain(&user), nil
}

// GetBySlackID retrieves a user by Slack user ID.
func (r *UserRepository) GetBySlackID(ctx context.Context, slackUserID string) (*storage.User, error) {
	var user UserModel
	err := r.db.WithContext(ctx).
		Where("slack_user_id = ?", slackUserID).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("user %q: %w", slackUserID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return toUserDomain(&user), nil
}

// SetDailyBudget updates the per-day spending cap.
func (r *UserRepository) SetDailyBudget(ctx context.Context, id uuid.UUID, budgetUSD float64) error {
	return r.db.WithContext(ctx).
		Model(&UserModel{}).
		Where("id = ?", id).
		Update("daily_budget_usd", budgetUSD).Error
}

// SetActive enables or disables a user.
func (r *UserRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	return r.db.WithContext(ctx).
		Model(&UserModel{}).
		Where("id = ?", id).
		Update("active", active).Error
}

// List returns all users ordered by creation time.
func (r *UserRepository) List(ctx context.Context) ([]*storage.User, error) {
	var models []UserModel
	if err := r.db.WithContext(ctx).Order("created_at").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*storage.User, len(models))
	for i := range models {
		out[i] = toUserDomain(&models[i])
	}
	return out, nil
}

var _ storage.UserStore = (*UserRepository)(nil)
