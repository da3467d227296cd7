// Package services – IngestService
//
// IngestService runs the provider path: tenant resolution by instance,
// outbound-echo and group exclusion, the idempotency guard, contact and
// conversation resolution, queue distribution for new conversations, message
// persistence and finally the fire-and-forget forward.
//
// Persistence of one event happens in a single transaction so a failure
// leaves no contact without its conversation or conversation without its
// message. Forwarding is dispatched after commit and never awaited.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/tbourn/wa-inbound-gateway/internal/dedupe"
	"github.com/tbourn/wa-inbound-gateway/internal/domain"
	"github.com/tbourn/wa-inbound-gateway/internal/events"
	"github.com/tbourn/wa-inbound-gateway/internal/forward"
	"github.com/tbourn/wa-inbound-gateway/internal/normalize"
	"github.com/tbourn/wa-inbound-gateway/internal/observability"
	"github.com/tbourn/wa-inbound-gateway/internal/repo"
)

// Dispatcher starts an asynchronous forward. *forward.Forwarder implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev forward.Event) <-chan error
}

const eventPublishTimeout = 2 * time.Second

// IngestService persists inbound provider events.
type IngestService struct {
	DB          *gorm.DB
	Resolver    *Resolver
	Distributor *Distributor
	Forwarder   Dispatcher
	Cache       dedupe.Cache
	Events      events.Publisher

	// IdempotentInsert switches message creation to an upsert keyed on
	// (workspace_id, external_id).
	IdempotentInsert bool
}

// Ingest processes one provider webhook body.
func (s *IngestService) Ingest(ctx context.Context, body []byte, requestID string) (*Result, error) {
	ctx, span := observability.Tracer("services/IngestService").Start(ctx, "Ingest")
	defer span.End()
	lg := zerolog.Ctx(ctx)

	ev, err := normalize.ParseProviderEvent(body)
	if err != nil {
		return nil, errors.Join(ErrInvalidPayload, err)
	}
	span.SetAttributes(attribute.String("provider.event", ev.Event), attribute.String("provider.instance", ev.Instance))
	res := &Result{Action: ActionProcessedAndForwarded, Instance: ev.Instance}

	var conn *domain.Connection
	if ev.Instance != "" {
		conn, err = repo.GetConnectionByInstance(ctx, s.DB, ev.Instance)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			conn = nil
		case err != nil:
			return nil, storeErr("resolve connection", err)
		}
	}
	if conn == nil {
		lg.Info().Str("instance", ev.Instance).Msg("no tenant for instance; forwarding only")
		s.forward(ctx, body, requestID, res)
		return res, nil
	}
	res.WorkspaceID = conn.WorkspaceID
	res.ConnectionID = conn.ID
	span.SetAttributes(attribute.String("workspace.id", conn.WorkspaceID))

	if !ev.IsMessageEvent() {
		s.forward(ctx, body, requestID, res)
		return res, nil
	}

	in := ev.Normalize()
	res.PhoneNumber = in.Phone
	if !in.Persistable() {
		lg.Debug().
			Bool("from_me", in.FromMe).
			Bool("group", in.Group).
			Bool("has_content", in.Content != "").
			Msg("event not persisted")
		s.forward(ctx, body, requestID, res)
		return res, nil
	}

	if dup, err := s.guard(ctx, conn.WorkspaceID, in.ExternalID, res); err != nil {
		return nil, err
	} else if dup {
		return res, nil
	}

	var dist Distribution
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		contact, _, err := s.Resolver.Contact(ctx, tx, conn.WorkspaceID, in.Phone, in.PushName)
		if err != nil {
			return err
		}
		res.ContactID = contact.ID

		conv, created, err := s.Resolver.Conversation(ctx, tx, conn.WorkspaceID, contact.ID, &conn.ID)
		if err != nil {
			return err
		}
		res.ConversationID = conv.ID

		if created && conn.QueueID != nil && *conn.QueueID != "" && s.Distributor != nil {
			dist, err = s.Distributor.Distribute(ctx, tx, conv, *conn.QueueID)
			if err != nil {
				return err
			}
			res.AssignedUserID = dist.UserID
		}

		ext := in.ExternalID
		msg := &domain.Message{
			WorkspaceID:    conn.WorkspaceID,
			ConversationID: conv.ID,
			ExternalID:     &ext,
			Content:        in.Content,
			MessageType:    in.MessageType,
			SenderType:     domain.SenderContact,
			Direction:      domain.DirectionInbound,
			Status:         domain.MessageReceived,
			FileURL:        in.FileURL,
			FileName:       in.FileName,
			MimeType:       in.MimeType,
			Metadata: domain.Metadata{
				domain.MetaMessageFlow: domain.FlowInboundOriginal,
				"instance":             in.Instance,
				"remote_jid":           in.RemoteJID,
				"push_name":            in.PushName,
				"request_id":           requestID,
				"raw":                  rawJSON(body),
			},
		}
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
		lg.Info().Str("external_id", in.ExternalID).Msg("concurrent delivery won; reporting duplicate")
		res.AssignedUserID = ""
		if _, err := s.guard(ctx, conn.WorkspaceID, in.ExternalID, res); err != nil {
			return nil, err
		}
		return res, nil
	}
	if err != nil {
		return nil, err
	}

	s.remember(ctx, conn.WorkspaceID, in.ExternalID, res)
	s.publish(ctx, requestID, res, dist)
	s.forward(ctx, body, requestID, res)
	return res, nil
}

// guard consults the cache and then the store for an already persisted
// message. On a hit res is rewritten as duplicate_skipped.
func (s *IngestService) guard(ctx context.Context, workspaceID, externalID string, res *Result) (bool, error) {
	if s.Cache != nil {
		e, hit, err := s.Cache.Lookup(ctx, workspaceID, externalID)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("dedupe cache lookup failed; using store")
		} else if hit {
			res.Action = ActionDuplicateSkipped
			res.MessageID = e.MessageID
			res.ConversationID = e.ConversationID
			res.ContactID = e.ContactID
			return true, nil
		}
	}
	m, err := repo.FindMessageByExternalID(ctx, s.DB, workspaceID, externalID)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, storeErr("idempotency lookup", err)
	}
	res.Action = ActionDuplicateSkipped
	res.MessageID = m.ID
	res.ConversationID = m.ConversationID
	if conv, err := repo.GetConversation(ctx, s.DB, workspaceID, m.ConversationID); err == nil {
		res.ContactID = conv.ContactID
	}
	s.remember(ctx, workspaceID, externalID, res)
	return true, nil
}

func (s *IngestService) remember(ctx context.Context, workspaceID, externalID string, res *Result) {
	if s.Cache == nil {
		return
	}
	e := dedupe.Entry{MessageID: res.MessageID, ConversationID: res.ConversationID, ContactID: res.ContactID}
	if err := s.Cache.Remember(ctx, workspaceID, externalID, e); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("dedupe cache write failed")
	}
}

func (s *IngestService) publish(ctx context.Context, requestID string, res *Result, dist Distribution) {
	if s.Events == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventPublishTimeout)
	defer cancel()
	lg := zerolog.Ctx(ctx)

	env := events.NewEnvelope(events.MessageReceived, res.WorkspaceID, requestID, res.processed())
	if err := s.Events.Publish(pctx, events.MessageReceived, env); err != nil {
		lg.Warn().Err(err).Str("key", events.MessageReceived).Msg("event publish failed")
	}
	if dist.Assigned {
		env := events.NewEnvelope(events.ConversationAssigned, res.WorkspaceID, requestID, map[string]any{
			"conversation_id": res.ConversationID,
			"queue_id":        dist.QueueID,
			"policy":          dist.Policy,
			"user_id":         dist.UserID,
		})
		if err := s.Events.Publish(pctx, events.ConversationAssigned, env); err != nil {
			lg.Warn().Err(err).Str("key", events.ConversationAssigned).Msg("event publish failed")
		}
	}
}

// forward dispatches the relay and deliberately drops the result channel.
func (s *IngestService) forward(ctx context.Context, body []byte, requestID string, res *Result) {
	if s.Forwarder == nil {
		return
	}
	_ = s.Forwarder.Dispatch(ctx, forward.Event{
		WorkspaceID: res.WorkspaceID,
		RequestID:   requestID,
		Payload:     body,
		Processed:   res.processed(),
	})
}

// persist writes msg in a savepoint so a unique violation does not poison the
// enclosing transaction. A lost race is reported as errLostRace.
func persist(ctx context.Context, tx *gorm.DB, msg *domain.Message, upsert bool) error {
	if upsert {
		inserted, err := repo.UpsertMessage(ctx, tx, msg)
		if err != nil {
			return storeErr("upsert message", err)
		}
		if !inserted {
			return errLostRace
		}
		return nil
	}
	err := tx.Transaction(func(sp *gorm.DB) error {
		return repo.CreateMessage(ctx, sp, msg)
	})
	if errors.Is(err, repo.ErrDuplicate) {
		return errLostRace
	}
	if err != nil {
		return storeErr("create message", err)
	}
	return nil
}
