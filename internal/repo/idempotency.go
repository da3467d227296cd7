// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the idempotency guard lookup and the
// unique-violation classification shared by every create path.
package repo

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/wa-inbound-gateway/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates that a row with the same natural key already exists.
var ErrDuplicate = errors.New("duplicate")

// IsDuplicate reports whether err is a unique-constraint violation. TranslateError
// maps most drivers to gorm.ErrDuplicatedKey; glebarez/sqlite and some pgx
// paths still surface plain-text errors.
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDuplicate) || errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key value") ||
		strings.Contains(low, "sqlstate 23505")
}

// FindMessageByExternalID returns the message persisted for (workspaceID,
// externalID) or ErrNotFound. Presence alone classifies a delivery as a
// duplicate; content is not compared.
func FindMessageByExternalID(ctx context.Context, db *gorm.DB, workspaceID, externalID string) (*domain.Message, error) {
	if strings.TrimSpace(externalID) == "" {
		return nil, ErrNotFound
	}
	var m domain.Message
	err := db.WithContext(ctx).
		Where("workspace_id = ? AND external_id = ?", workspaceID, externalID).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}
