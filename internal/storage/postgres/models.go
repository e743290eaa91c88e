package postgres

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserModel maps to the "users" table.
type UserModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	SlackUserID    string    `gorm:"not null;uniqueIndex"`
	Username       string    `gorm:"not null"`
	Email          string
	Role           string  `gorm:"not null;default:'member'"`
	Active         bool    `gorm:"not null;default:true"`
	DailyBudgetUSD float64 `gorm:"type:numeric(14,6);not null;default:10"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      gorm.DeletedAt `gorm:"index"`
}

func (UserModel) TableName() string { return "users" }

// TaskModel maps to the "tasks" table.
type TaskModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID        uuid.UUID `gorm:"type:uuid;not null;index"`
	Title         string    `gorm:"not null"`
	Description   string    `gorm:"type:text"`
	Status        string    `gorm:"not null;default:'pending';index"`
	Priority      int       `gorm:"not null;default:0"`
	AssignedRole  string
	WorkspacePath string
	Result        string `gorm:"type:text"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

func (TaskModel) TableName() string { return "tasks" }

// InteractionModel maps to the "ai_interactions" table.
type InteractionModel struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey"`
	UserID         uuid.UUID  `gorm:"type:uuid;not null;index:idx_interactions_user_created"`
	TaskID         *uuid.UUID `gorm:"type:uuid;index"`
	Type           string     `gorm:"not null"`
	Prompt         string     `gorm:"type:text"`
	Response       string     `gorm:"type:text"`
	Model          string
	TokensUsed     int
	CostUSD        float64 `gorm:"type:numeric(14,6);not null;default:0"`
	ResponseTimeMS int64
	CreatedAt      time.Time `gorm:"index:idx_interactions_user_created"`
}

func (InteractionModel) TableName() string { return "ai_interactions" }
