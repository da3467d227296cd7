// Package events publishes best-effort domain events (message received,
// conversation assigned) to a RabbitMQ topic exchange. When no broker is
// configured the Noop publisher is used.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Routing keys.
const (
	MessageReceived      = "message.received.v1"
	ConversationAssigned = "conversation.assigned.v1"
)

const producer = "wa-inbound-gateway"

// Meta describes an emitted event.
type Meta struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Time          time.Time `json:"time"`
	Producer      string    `json:"producer"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	WorkspaceID   string    `json:"workspace_id"`
}

// Envelope is the wire format of every event.
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// NewEnvelope stamps an event with a fresh id and the current UTC time.
func NewEnvelope(eventType, workspaceID, correlationID string, data any) Envelope {
	return Envelope{
		Meta: Meta{
			ID:            uuid.NewString(),
			Type:          eventType,
			Time:          time.Now().UTC(),
			Producer:      producer,
			CorrelationID: correlationID,
			WorkspaceID:   workspaceID,
		},
		Data: data,
	}
}

// Publisher emits envelopes under a routing key.
type Publisher interface {
	Publish(ctx context.Context, key string, env Envelope) error
	Close() error
}

// Noop discards every event.
type Noop struct{}

// Publish implements Publisher.
func (Noop) Publish(context.Context, string, Envelope) error { return nil }

// Close implements Publisher.
func (Noop) Close() error { return nil }

type rmqPublisher struct {
	conn     *amqp091.Connection
	exchange string
}

// NewAMQP dials url and declares a durable topic exchange.
func NewAMQP(url, exchange string) (Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}
	return &rmqPublisher{conn: conn, exchange: exchange}, nil
}

// Publish opens a short-lived channel per message; channels are not safe for
// concurrent publishing.
func (r *rmqPublisher) Publish(ctx context.Context, key string, env Envelope) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, r.exchange, key, false, false, amqp091.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: env.Meta.CorrelationID,
		Timestamp:     env.Meta.Time,
		Body:          body,
	})
	if err == nil {
		log.Debug().Str("key", key).Str("exchange", r.exchange).Msg("event published")
	}
	return err
}

func (r *rmqPublisher) Close() error { return r.conn.Close() }
