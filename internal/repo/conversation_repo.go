// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Conversation model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a conversation is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - A unique violation on (workspace_id, contact_id) is returned as ErrDuplicate.
//   - On other DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/wa-inbound-gateway/internal/domain"
)

// FindLatestConversation returns the most recently created conversation for
// (workspaceID, contactID), irrespective of connection or status.
func FindLatestConversation(ctx context.Context, db *gorm.DB, workspaceID, contactID string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := db.WithContext(ctx).
		Where("workspace_id = ? AND contact_id = ?", workspaceID, contactID).
		Order("created_at DESC, id DESC").
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetConversation fetches a conversation by id within a workspace.
func GetConversation(ctx context.Context, db *gorm.DB, workspaceID, id string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := db.WithContext(ctx).
		Where("id = ? AND workspace_id = ?", id, workspaceID).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateConversation inserts an open conversation bound to connectionID (may be nil).
func CreateConversation(ctx context.Context, db *gorm.DB, workspaceID, contactID string, connectionID *string) (*domain.Conversation, error) {
	now := time.Now().UTC()
	c := &domain.Conversation{
		ID:             uuid.NewString(),
		WorkspaceID:    workspaceID,
		ContactID:      contactID,
		ConnectionID:   connectionID,
		Status:         domain.StatusOpen,
		LastActivityAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		if IsDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return c, nil
}

// UpdateConversationFields patches the given columns of a conversation and
// bumps updated_at. It returns ErrNotFound when no row matched.
func UpdateConversationFields(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	if _, ok := fields["updated_at"]; !ok {
		fields["updated_at"] = time.Now().UTC()
	}
	res := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", id).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// TouchConversation advances last_activity_at and updated_at to at.
func TouchConversation(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return UpdateConversationFields(ctx, db, id, map[string]any{
		"last_activity_at": at,
		"updated_at":       at,
	})
}

// AssignConversation records an accepted assignment: assigned_user_id and
// assigned_at are set and the status is forced to open.
func AssignConversation(ctx context.Context, db *gorm.DB, id, userID string, queueID *string, at time.Time) error {
	fields := map[string]any{
		"assigned_user_id": userID,
		"assigned_at":      at,
		"status":           domain.StatusOpen,
	}
	if queueID != nil {
		fields["queue_id"] = *queueID
	}
	return UpdateConversationFields(ctx, db, id, fields)
}
