// Package services – Resolver
//
// Resolver finds or creates the contact and the single logical conversation
// for an inbound event. Creation relies on the store's unique indexes on
// (workspace_id, phone) and (workspace_id, contact_id): a create that loses a
// concurrent first-contact race gets ErrDuplicate and re-reads the winner, so
// both callers converge on the same rows without an explicit lock.
package services

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/wa-inbound-gateway/internal/domain"
	"github.com/tbourn/wa-inbound-gateway/internal/observability"
	"github.com/tbourn/wa-inbound-gateway/internal/repo"
)

// Resolver resolves contacts and conversations. The zero value is ready to use.
type Resolver struct {
	// afterMiss, when set, runs between a lookup miss and the create attempt.
	// Tests use it to force two callers to miss before either creates.
	afterMiss func(kind string)
}

func (r *Resolver) missed(kind string) {
	if r != nil && r.afterMiss != nil {
		r.afterMiss(kind)
	}
}

// Contact returns the contact for (workspaceID, phone), creating it with name
// on a miss. created reports whether this call inserted the row.
func (r *Resolver) Contact(ctx context.Context, db *gorm.DB, workspaceID, phone, name string) (c *domain.Contact, created bool, err error) {
	ctx, span := observability.Tracer("services/Resolver").Start(ctx, "Contact",
		trace.WithAttributes(attribute.String("workspace.id", workspaceID)),
	)
	defer span.End()

	c, err = repo.FindContactByPhone(ctx, db, workspaceID, phone)
	if err == nil {
		return c, false, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, false, storeErr("find contact", err)
	}

	r.missed("contact")
	err = db.Transaction(func(tx *gorm.DB) error {
		var cerr error
		c, cerr = repo.CreateContact(ctx, tx, workspaceID, phone, name)
		return cerr
	})
	if err == nil {
		return c, true, nil
	}
	if !errors.Is(err, repo.ErrDuplicate) {
		return nil, false, storeErr("create contact", err)
	}
	zerolog.Ctx(ctx).Debug().Str("workspace_id", workspaceID).Msg("contact create lost race; re-reading")
	c, err = repo.FindContactByPhone(ctx, db, workspaceID, phone)
	if err != nil {
		return nil, false, storeErr("re-read contact", err)
	}
	return c, false, nil
}

// Conversation returns the most recently created conversation for
// (workspaceID, contactID), creating an open one on a miss. An existing
// conversation is re-linked to connectionID when it differs and reopened when
// closed; it is never duplicated per connection.
func (r *Resolver) Conversation(ctx context.Context, db *gorm.DB, workspaceID, contactID string, connectionID *string) (conv *domain.Conversation, created bool, err error) {
	ctx, span := observability.Tracer("services/Resolver").Start(ctx, "Conversation",
		trace.WithAttributes(
			attribute.String("workspace.id", workspaceID),
			attribute.String("contact.id", contactID),
		),
	)
	defer span.End()

	conv, err = repo.FindLatestConversation(ctx, db, workspaceID, contactID)
	switch {
	case err == nil:
		return conv, false, r.refresh(ctx, db, conv, connectionID)
	case !errors.Is(err, repo.ErrNotFound):
		return nil, false, storeErr("find conversation", err)
	}

	r.missed("conversation")
	err = db.Transaction(func(tx *gorm.DB) error {
		var cerr error
		conv, cerr = repo.CreateConversation(ctx, tx, workspaceID, contactID, connectionID)
		return cerr
	})
	if err == nil {
		return conv, true, nil
	}
	if !errors.Is(err, repo.ErrDuplicate) {
		return nil, false, storeErr("create conversation", err)
	}
	conv, err = repo.FindLatestConversation(ctx, db, workspaceID, contactID)
	if err != nil {
		return nil, false, storeErr("re-read conversation", err)
	}
	return conv, false, r.refresh(ctx, db, conv, connectionID)
}

// refresh applies the connection re-link and reopen rules to an existing
// conversation, updating conv in place.
func (r *Resolver) refresh(ctx context.Context, db *gorm.DB, conv *domain.Conversation, connectionID *string) error {
	fields := map[string]any{}
	if connectionID != nil && *connectionID != "" && (conv.ConnectionID == nil || *conv.ConnectionID != *connectionID) {
		fields["connection_id"] = *connectionID
	}
	if conv.Status == domain.StatusClosed {
		fields["status"] = domain.StatusOpen
	}
	if len(fields) == 0 {
		return nil
	}
	if err := repo.UpdateConversationFields(ctx, db, conv.ID, fields); err != nil {
		return storeErr("refresh conversation", err)
	}
	if v, ok := fields["connection_id"].(string); ok {
		zerolog.Ctx(ctx).Info().Str("conversation_id", conv.ID).Str("connection_id", v).Msg("conversation re-linked")
		conv.ConnectionID = &v
	}
	if _, ok := fields["status"]; ok {
		conv.Status = domain.StatusOpen
	}
	return nil
}
