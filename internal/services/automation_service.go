// Package services – AutomationService
//
// AutomationService runs the automation path: the caller already speaks the
// normalized schema, so the service validates it strictly and then either
// patches an existing message (update branch) or creates a new one.
//
// The update branch refuses to overwrite a freshly ingested inbound fact
// (sender_type=contact, message_flow=inbound_original); that is the automation
// engine replaying the very event it was forwarded and is reported as
// duplicate_skipped.
package services

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/wa-inbound-gateway/internal/domain"
	"github.com/tbourn/wa-inbound-gateway/internal/normalize"
	"github.com/tbourn/wa-inbound-gateway/internal/observability"
	"github.com/tbourn/wa-inbound-gateway/internal/repo"
)

// AutomationService creates or updates messages on behalf of the automation engine.
type AutomationService struct {
	DB       *gorm.DB
	Resolver *Resolver

	// IdempotentInsert switches message creation to an upsert keyed on
	// (workspace_id, external_id).
	IdempotentInsert bool
}

// Handle processes one automation webhook body.
func (s *AutomationService) Handle(ctx context.Context, body []byte, requestID string) (*Result, error) {
	ctx, span := observability.Tracer("services/AutomationService").Start(ctx, "Handle")
	defer span.End()

	p, err := normalize.ParseAutomationPayload(body)
	if err != nil {
		return nil, errors.Join(ErrInvalidPayload, err)
	}
	if err := p.Validate(ctx); err != nil {
		return nil, newValidationError(err)
	}
	span.SetAttributes(
		attribute.String("automation.direction", p.Direction),
		attribute.String("workspace.id", p.WorkspaceID),
	)

	if p.ExternalID != "" {
		target, err := repo.FindMessageForUpdate(ctx, s.DB, p.WorkspaceID, p.ExternalID)
		switch {
		case err == nil:
			return s.update(ctx, target, p)
		case errors.Is(err, repo.ErrAmbiguous):
			return nil, &ValidationError{Fields: map[string]string{
				"workspace_id": "required when external_id matches messages in several workspaces",
			}}
		case !errors.Is(err, repo.ErrNotFound):
			return nil, storeErr("find update target", err)
		}
	}

	if err := p.ValidateCreate(ctx); err != nil {
		return nil, newValidationError(err)
	}
	return s.create(ctx, p, requestID)
}

func (s *AutomationService) update(ctx context.Context, target *domain.Message, p normalize.AutomationPayload) (*Result, error) {
	ctx, span := observability.Tracer("services/AutomationService").Start(ctx, "update",
		trace.WithAttributes(attribute.String("message.id", target.ID)),
	)
	defer span.End()

	res := &Result{
		Action:         ActionUpdated,
		MessageID:      target.ID,
		WorkspaceID:    target.WorkspaceID,
		ConversationID: target.ConversationID,
		PhoneNumber:    p.PhoneNumber,
	}
	if target.SenderType == domain.SenderContact && target.Metadata.Flow() == domain.FlowInboundOriginal {
		zerolog.Ctx(ctx).Info().Str("message_id", target.ID).Msg("update of ingested inbound fact ignored")
		res.Action = ActionDuplicateSkipped
		return res, nil
	}

	fields := map[string]any{}
	if p.Content != "" {
		fields["content"] = p.Content
	}
	if p.FileURL != "" {
		fields["file_url"] = p.FileURL
	}
	if p.FileName != "" {
		fields["file_name"] = p.FileName
	}
	if p.MimeType != "" {
		fields["mime_type"] = p.MimeType
	}
	meta := target.Metadata.Merge(p.Metadata)
	meta[domain.MetaMessageFlow] = domain.FlowAutomationUpdated
	fields["metadata"] = meta

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.PatchMessage(ctx, tx, target.ID, fields); err != nil {
			return storeErr("patch message", err)
		}
		if err := repo.TouchConversation(ctx, tx, target.ConversationID, nowUTC()); err != nil {
			return storeErr("touch conversation", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if conv, err := repo.GetConversation(ctx, s.DB, target.WorkspaceID, target.ConversationID); err == nil {
		res.ContactID = conv.ContactID
		if conv.ConnectionID != nil {
			res.ConnectionID = *conv.ConnectionID
		}
	}
	return res, nil
}

func (s *AutomationService) create(ctx context.Context, p normalize.AutomationPayload, requestID string) (*Result, error) {
	ctx, span := observability.Tracer("services/AutomationService").Start(ctx, "create")
	defer span.End()

	res := &Result{
		Action:       ActionCreated,
		WorkspaceID:  p.WorkspaceID,
		PhoneNumber:  p.PhoneNumber,
		ConnectionID: p.ConnectionID,
	}
	var connID *string
	if p.ConnectionID != "" {
		_, err := repo.GetConnection(ctx, s.DB, p.WorkspaceID, p.ConnectionID)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			return nil, &ValidationError{Fields: map[string]string{"connection_id": "unknown connection for workspace"}}
		case err != nil:
			return nil, storeErr("resolve connection", err)
		}
		connID = &p.ConnectionID
	}

	msg := &domain.Message{
		WorkspaceID: p.WorkspaceID,
		Content:     p.Content,
		MessageType: messageType(p),
		SenderType:  senderType(p),
		Direction:   p.Direction,
		Status:      statusFor(p.Direction),
		FileURL:     p.FileURL,
		FileName:    p.FileName,
		MimeType:    p.MimeType,
		Metadata:    domain.Metadata{}.Merge(p.Metadata),
	}
	msg.Metadata[domain.MetaMessageFlow] = domain.FlowAutomationCreated
	msg.Metadata["request_id"] = requestID
	if p.ExternalID != "" {
		ext := p.ExternalID
		msg.ExternalID = &ext
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		name := normalize.DisplayName(p.ContactName, p.PhoneNumber)
		contact, _, err := s.Resolver.Contact(ctx, tx, p.WorkspaceID, p.PhoneNumber, name)
		if err != nil {
			return err
		}
		res.ContactID = contact.ID

		conv, _, err := s.Resolver.Conversation(ctx, tx, p.WorkspaceID, contact.ID, connID)
		if err != nil {
			return err
		}
		res.ConversationID = conv.ID
		if conv.ConnectionID != nil {
			res.ConnectionID = *conv.ConnectionID
		}

		msg.ConversationID = conv.ID
		if err := persist(ctx, tx, msg, s.IdempotentInsert); err != nil {
			return err
		}
		res.MessageID = msg.ID
		if err := repo.TouchConversation(ctx, tx, conv.ID, msg.CreatedAt); err != nil {
			return storeErr("touch conversation", err)
		}
		return nil
	})
	if errors.Is(err, errLostRace) {
		winner, ferr := repo.FindMessageByExternalID(ctx, s.DB, p.WorkspaceID, p.ExternalID)
		if ferr != nil {
			return nil, storeErr("re-read duplicate", ferr)
		}
		res.Action = ActionDuplicatePrevented
		res.MessageID = winner.ID
		res.ConversationID = winner.ConversationID
		// Ids from the rolled-back transaction were never committed.
		res.ContactID, res.ConnectionID = "", ""
		if conv, err := repo.GetConversation(ctx, s.DB, p.WorkspaceID, winner.ConversationID); err == nil {
			res.ContactID = conv.ContactID
			if conv.ConnectionID != nil {
				res.ConnectionID = *conv.ConnectionID
			}
		}
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func senderType(p normalize.AutomationPayload) string {
	if p.SenderType != "" {
		return p.SenderType
	}
	if p.Direction == domain.DirectionInbound {
		return domain.SenderContact
	}
	return domain.SenderAgent
}

func statusFor(direction string) string {
	if direction == domain.DirectionInbound {
		return domain.MessageReceived
	}
	return domain.MessageSent
}

func messageType(p normalize.AutomationPayload) string {
	switch {
	case p.MessageType != "":
		return p.MessageType
	case p.Content == "" && p.FileURL != "":
		return "document"
	default:
		return "text"
	}
}
