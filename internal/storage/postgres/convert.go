package postgres

import (
	"time"

	"github.com/jaceberelen/jace/internal/storage"
)

func toUserDomain(m *UserModel) *storage.User {
	return &storage.User{
		ID:             m.ID,
		SlackUserID:    m.SlackUserID,
		Username:       m.Username,
		Email:          m.Email,
		Role:           m.Role,
		Active:         m.Active,
		DailyBudgetUSD: m.DailyBudgetUSD,
		CreatedAt:      m.CreatedAt,
	}
}

func toTaskDomain(m *TaskModel) *storage.Task {
	return &storage.Task{
		ID:            m.ID,
		UserID:        m.UserID,
		Title:         m.Title,
		Description:   m.Description,
		Status:        storage.TaskStatus(m.Status),
		Priority:      m.Priority,
		AssignedRole:  m.AssignedRole,
		WorkspacePath: m.WorkspacePath,
		Result:        m.Result,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
		CompletedAt:   m.CompletedAt,
	}
}

func toInteractionDomain(m *InteractionModel) *storage.Interaction {
	return &storage.Interaction{
		ID:           m.ID,
		UserID:       m.UserID,
		TaskID:       m.TaskID,
		Type:         m.Type,
		Prompt:       m.Prompt,
		Response:     m.Response,
		Model:        m.Model,
		TokensUsed:   m.TokensUsed,
		CostUSD:      m.CostUSD,
		ResponseTime: time.Duration(m.ResponseTimeMS) * time.Millisecond,
		CreatedAt:    m.CreatedAt,
	}
}

func fromInteractionDomain(rec *storage.Interaction) *InteractionModel {
	return &InteractionModel{
		ID:             rec.ID,
		UserID:         rec.UserID,
		TaskID:         rec.TaskID,
		Type:           rec.Type,
		Prompt:         rec.Prompt,
		Response:       rec.Response,
		Model:          rec.Model,
		TokensUsed:     rec.TokensUsed,
		CostUSD:        rec.CostUSD,
		ResponseTimeMS: rec.ResponseTime.Milliseconds(),
		CreatedAt:      rec.CreatedAt,
	}
}
