// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the append-only
// Assignment audit trail.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/wa-inbound-gateway/internal/domain"
)

// CreateAssignment appends an assignment audit row. A nil actor means the
// system acted.
func CreateAssignment(ctx context.Context, db *gorm.DB, workspaceID, conversationID string, from, to, actor *string, action string) (*domain.Assignment, error) {
	a := &domain.Assignment{
		ID:             uuid.NewString(),
		WorkspaceID:    workspaceID,
		ConversationID: conversationID,
		FromUserID:     from,
		ToUserID:       to,
		ActorID:        actor,
		Action:         action,
		CreatedAt:      time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(a).Error; err != nil {
		return nil, err
	}
	return a, nil
}

// ListAssignments returns the audit trail of a conversation, oldest first.
func ListAssignments(ctx context.Context, db *gorm.DB, conversationID string) ([]domain.Assignment, error) {
	var out []domain.Assignment
	err := db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}
