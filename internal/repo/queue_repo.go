// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides queue configuration reads and the atomic
// rotation-cursor advance.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/wa-inbound-gateway/internal/domain"
)

// GetQueue fetches a queue by id.
func GetQueue(ctx context.Context, db *gorm.DB, id string) (*domain.Queue, error) {
	var q domain.Queue
	if err := db.WithContext(ctx).Where("id = ?", id).First(&q).Error; err != nil {
		return nil, err
	}
	return &q, nil
}

// ListActiveMembers returns the queue's memberships whose user is active,
// ordered by order_position (ties broken by user id for determinism).
func ListActiveMembers(ctx context.Context, db *gorm.DB, queueID string) ([]domain.QueueUser, error) {
	var out []domain.QueueUser
	err := db.WithContext(ctx).
		Joins("JOIN users ON users.id = queue_users.user_id").
		Where("queue_users.queue_id = ? AND users.active = ?", queueID, true).
		Order("queue_users.order_position ASC, queue_users.user_id ASC").
		Find(&out).Error
	return out, err
}

// AdvanceCursor moves the queue's last_assigned_index from `from` to `to` only
// if it still holds `from`. It reports whether this caller won the swap; a
// false result means a concurrent distribution advanced the cursor first and
// the caller must re-read and retry.
func AdvanceCursor(ctx context.Context, db *gorm.DB, queueID string, from, to int) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Queue{}).
		Where("id = ? AND last_assigned_index = ?", queueID, from).
		Updates(map[string]any{
			"last_assigned_index": to,
			"updated_at":          time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
