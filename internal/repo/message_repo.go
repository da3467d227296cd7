// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message model.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/wa-inbound-gateway/internal/domain"
)

func prepareMessage(m *domain.Message) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = m.CreatedAt
	if m.Metadata == nil {
		m.Metadata = domain.Metadata{}
	}
}

// CreateMessage inserts m with a fresh internal id. A unique violation on
// (workspace_id, external_id) is returned as ErrDuplicate.
func CreateMessage(ctx context.Context, db *gorm.DB, m *domain.Message) error {
	prepareMessage(m)
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		if IsDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// UpsertMessage inserts m unless a row with the same (workspace_id,
// external_id) exists. It reports whether this call inserted the row; when it
// did not, m is overwritten with the stored winner.
func UpsertMessage(ctx context.Context, db *gorm.DB, m *domain.Message) (bool, error) {
	prepareMessage(m)
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "workspace_id"}, {Name: "external_id"}},
			DoNothing: true,
		}).
		Create(m)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	if m.ExternalID == nil {
		return false, ErrNotFound
	}
	winner, err := FindMessageByExternalID(ctx, db, m.WorkspaceID, *m.ExternalID)
	if err != nil {
		return false, err
	}
	*m = *winner
	return false, nil
}

// ErrAmbiguous is returned by an unscoped lookup whose reference matches
// messages of more than one workspace.
var ErrAmbiguous = errors.New("reference matches several workspaces")

// FindMessageForUpdate resolves an update target by external id or internal
// id. An empty workspaceID searches across workspaces and fails with
// ErrAmbiguous when more than one workspace matches.
func FindMessageForUpdate(ctx context.Context, db *gorm.DB, workspaceID, ref string) (*domain.Message, error) {
	var m domain.Message
	q := db.WithContext(ctx).Where("(external_id = ? OR id = ?)", ref, ref)
	if workspaceID != "" {
		q = q.Where("workspace_id = ?", workspaceID)
	} else {
		var owners []string
		err := db.WithContext(ctx).Model(&domain.Message{}).
			Where("(external_id = ? OR id = ?)", ref, ref).
			Distinct("workspace_id").
			Limit(2).
			Pluck("workspace_id", &owners).Error
		if err != nil {
			return nil, err
		}
		if len(owners) > 1 {
			return nil, ErrAmbiguous
		}
	}
	if err := q.Order("created_at ASC").First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMessage fetches a message by internal id.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// PatchMessage applies whitelisted column updates to a message.
func PatchMessage(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	fields["updated_at"] = time.Now().UTC()
	res := db.WithContext(ctx).Model(&domain.Message{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
