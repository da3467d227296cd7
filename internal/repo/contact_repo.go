// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Contact model.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/wa-inbound-gateway/internal/domain"
)

// FindContactByPhone returns the contact for (workspaceID, phone) or ErrNotFound.
func FindContactByPhone(ctx context.Context, db *gorm.DB, workspaceID, phone string) (*domain.Contact, error) {
	var c domain.Contact
	err := db.WithContext(ctx).
		Where("workspace_id = ? AND phone = ?", workspaceID, phone).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateContact inserts a new contact. A unique violation on (workspace_id,
// phone) is returned as ErrDuplicate so callers can re-read the winner.
func CreateContact(ctx context.Context, db *gorm.DB, workspaceID, phone, name string) (*domain.Contact, error) {
	now := time.Now().UTC()
	c := &domain.Contact{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Phone:       phone,
		Name:        name,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		if IsDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return c, nil
}
