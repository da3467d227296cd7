// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides read-only lookups for channel
// configuration owned by the administration surface.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/wa-inbound-gateway/internal/domain"
)

// GetConnectionByInstance resolves the tenant connection for a provider
// instance name, or ErrNotFound.
func GetConnectionByInstance(ctx context.Context, db *gorm.DB, instance string) (*domain.Connection, error) {
	var c domain.Connection
	if err := db.WithContext(ctx).Where("instance_name = ?", instance).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetConnection fetches a connection by id within a workspace.
func GetConnection(ctx context.Context, db *gorm.DB, workspaceID, id string) (*domain.Connection, error) {
	var c domain.Connection
	err := db.WithContext(ctx).Where("id = ? AND workspace_id = ?", id, workspaceID).First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetWorkspaceWebhook returns the active forwarding target of a workspace.
// A missing or inactive row yields (nil, nil).
func GetWorkspaceWebhook(ctx context.Context, db *gorm.DB, workspaceID string) (*domain.WorkspaceWebhook, error) {
	var w domain.WorkspaceWebhook
	err := db.WithContext(ctx).Where("workspace_id = ? AND active = ?", workspaceID, true).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}
