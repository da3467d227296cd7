// Package services – Distributor
//
// Distributor assigns a brand-new conversation to an agent of its
// connection's queue according to the queue policy:
//
//   - sequential: new_index = (last_index + 1) mod n; the cursor is advanced
//     with a compare-and-swap so concurrent distributions never reuse a slot.
//   - random:     uniform pick; the cursor is left untouched.
//   - ordered:    always the first member by order_position.
//   - disabled:   no selection.
//
// Only active members take part. An empty queue is not an error: the
// conversation stays unassigned and visible to every agent.
package services

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/wa-inbound-gateway/internal/domain"
	"github.com/tbourn/wa-inbound-gateway/internal/observability"
	"github.com/tbourn/wa-inbound-gateway/internal/repo"
)

const defaultCursorRetries = 8

// Distribution is the outcome of one distribution attempt.
type Distribution struct {
	QueueID  string
	Policy   string
	Assigned bool
	UserID   string
	Index    int
	Members  int
}

// Distributor selects agents for new conversations.
type Distributor struct {
	// IntN returns a uniform int in [0, n). Defaults to math/rand/v2.IntN.
	IntN func(n int) int
	// MaxRetries bounds the compare-and-swap attempts of the sequential policy.
	MaxRetries int
	// Now is the assignment clock. Defaults to time.Now in UTC.
	Now func() time.Time
}

// NormalizePolicy maps stored policy spellings onto the four known policies.
// Unknown values are treated as disabled.
func NormalizePolicy(p string) string {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "", "sequential", "round_robin", "round-robin", "sequencial":
		return domain.PolicySequential
	case "random", "aleatorio", "aleatório":
		return domain.PolicyRandom
	case "ordered", "fixed", "fixed_order", "ordem", "ordenado":
		return domain.PolicyOrdered
	default:
		return domain.PolicyDisabled
	}
}

// Distribute runs the queue policy for conv inside db (normally the ingest
// transaction). On selection the conversation is assigned directly as
// accepted and one Assignment audit row is appended.
func (d *Distributor) Distribute(ctx context.Context, db *gorm.DB, conv *domain.Conversation, queueID string) (Distribution, error) {
	ctx, span := observability.Tracer("services/Distributor").Start(ctx, "Distribute",
		trace.WithAttributes(
			attribute.String("queue.id", queueID),
			attribute.String("conversation.id", conv.ID),
		),
	)
	defer span.End()
	lg := zerolog.Ctx(ctx).With().Str("queue_id", queueID).Str("conversation_id", conv.ID).Logger()

	out := Distribution{QueueID: queueID, Index: -1}
	q, err := repo.GetQueue(ctx, db, queueID)
	if errors.Is(err, repo.ErrNotFound) {
		lg.Warn().Msg("connection bound to missing queue; distribution skipped")
		return out, nil
	}
	if err != nil {
		return out, storeErr("load queue", err)
	}
	out.Policy = NormalizePolicy(q.Policy)
	span.SetAttributes(attribute.String("queue.policy", out.Policy))

	if out.Policy == domain.PolicyDisabled {
		observability.QueueAssignments.WithLabelValues(out.Policy, "disabled").Inc()
		return out, nil
	}

	members, err := repo.ListActiveMembers(ctx, db, q.ID)
	if err != nil {
		return out, storeErr("list queue members", err)
	}
	out.Members = len(members)
	if len(members) == 0 {
		lg.Info().Str("policy", out.Policy).Msg("queue has no active members; conversation left unassigned")
		observability.QueueAssignments.WithLabelValues(out.Policy, "skipped_empty").Inc()
		return out, nil
	}

	switch out.Policy {
	case domain.PolicySequential:
		out.Index, err = d.advance(ctx, db, q, len(members))
		if err != nil {
			observability.QueueAssignments.WithLabelValues(out.Policy, "error").Inc()
			return out, err
		}
	case domain.PolicyRandom:
		out.Index = d.intN(len(members))
	case domain.PolicyOrdered:
		out.Index = 0
	}

	out.UserID = members[out.Index].UserID
	now := d.now()
	if err := repo.AssignConversation(ctx, db, conv.ID, out.UserID, &q.ID, now); err != nil {
		return out, storeErr("assign conversation", err)
	}
	to := out.UserID
	if _, err := repo.CreateAssignment(ctx, db, conv.WorkspaceID, conv.ID, nil, &to, nil, domain.ActionAssign); err != nil {
		return out, storeErr("append assignment", err)
	}

	conv.AssignedUserID = &to
	conv.AssignedAt = &now
	conv.QueueID = &q.ID
	conv.Status = domain.StatusOpen
	out.Assigned = true

	observability.QueueAssignments.WithLabelValues(out.Policy, "assigned").Inc()
	lg.Info().Str("policy", out.Policy).Str("user_id", out.UserID).Int("index", out.Index).Msg("conversation assigned")
	return out, nil
}

// advance moves the sequential cursor one slot and returns the selected index.
// A lost swap re-reads the cursor and retries.
func (d *Distributor) advance(ctx context.Context, db *gorm.DB, q *domain.Queue, n int) (int, error) {
	retries := d.MaxRetries
	if retries <= 0 {
		retries = defaultCursorRetries
	}
	from := q.LastAssignedIndex
	for attempt := 0; attempt < retries; attempt++ {
		next := ((from+1)%n + n) % n
		won, err := repo.AdvanceCursor(ctx, db, q.ID, from, next)
		if err != nil {
			return -1, storeErr("advance cursor", err)
		}
		if won {
			q.LastAssignedIndex = next
			return next, nil
		}
		fresh, err := repo.GetQueue(ctx, db, q.ID)
		if err != nil {
			return -1, storeErr("reload queue", err)
		}
		from = fresh.LastAssignedIndex
	}
	return -1, ErrCursorContention
}

func (d *Distributor) intN(n int) int {
	if d.IntN != nil {
		return d.IntN(n)
	}
	return rand.IntN(n)
}

func (d *Distributor) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}
