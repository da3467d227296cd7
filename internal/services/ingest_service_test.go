package services

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"gorm.io/gorm"

	"github.com/tbourn/wa-inbound-gateway/internal/dedupe"
	"github.com/tbourn/wa-inbound-gateway/internal/domain"
	"github.com/tbourn/wa-inbound-gateway/internal/events"
	"github.com/tbourn/wa-inbound-gateway/internal/repo"
)

const mariaEvent = `{
	"event": "messages.upsert",
	"instance": "wa1",
	"data": {
		"key": {"remoteJid": "5511999990000@s.whatsapp.net", "id": "EVT1", "fromMe": false},
		"message": {"conversation": "oi"},
		"pushName": "Maria"
	}
}`

// recordingPublisher captures published routing keys.
type recordingPublisher struct {
	keys []string
}

func (p *recordingPublisher) Publish(_ context.Context, key string, _ events.Envelope) error {
	p.keys = append(p.keys, key)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func newIngest(t *testing.T) (*IngestService, *fakeDispatcher) {
	t.Helper()
	db := newTestDB(t)
	fwd := &fakeDispatcher{}
	return &IngestService{
		DB:          db,
		Resolver:    &Resolver{},
		Distributor: &Distributor{},
		Forwarder:   fwd,
		Cache:       dedupe.Noop{},
		Events:      events.Noop{},
	}, fwd
}

func TestIngest_NewInboundMessage(t *testing.T) {
	s, fwd := newIngest(t)
	ctx := context.Background()
	seedConnection(t, s.DB, "conn-1", "wa1", "")

	res, err := s.Ingest(ctx, []byte(mariaEvent), "req-1")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Action != ActionProcessedAndForwarded {
		t.Fatalf("action = %q", res.Action)
	}
	if res.WorkspaceID != "w1" || res.ConnectionID != "conn-1" || res.PhoneNumber != "5511999990000" {
		t.Fatalf("unexpected result: %+v", res)
	}

	c, err := repo.FindContactByPhone(ctx, s.DB, "w1", "5511999990000")
	if err != nil || c.Name != "Maria" || c.ID != res.ContactID {
		t.Fatalf("contact = %+v, %v", c, err)
	}
	conv, err := repo.GetConversation(ctx, s.DB, "w1", res.ConversationID)
	if err != nil || conv.ContactID != c.ID || conv.ConnectionID == nil || *conv.ConnectionID != "conn-1" {
		t.Fatalf("conversation = %+v, %v", conv, err)
	}
	m, err := repo.GetMessage(ctx, s.DB, res.MessageID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if m.Content != "oi" || m.SenderType != domain.SenderContact || m.Direction != domain.DirectionInbound {
		t.Fatalf("message = %+v", m)
	}
	if m.ExternalID == nil || *m.ExternalID != "EVT1" || m.ID == "EVT1" {
		t.Fatalf("internal id must differ from external id: %+v", m)
	}
	if m.Metadata.Flow() != domain.FlowInboundOriginal {
		t.Fatalf("message_flow = %v", m.Metadata.Flow())
	}

	sent := fwd.sent()
	if len(sent) != 1 {
		t.Fatalf("forwards = %d, want 1", len(sent))
	}
	if sent[0].WorkspaceID != "w1" || sent[0].RequestID != "req-1" || sent[0].Processed["message_id"] != res.MessageID {
		t.Fatalf("forward event = %+v", sent[0])
	}
}

func TestIngest_DuplicateReturnsSameMessage(t *testing.T) {
	s, fwd := newIngest(t)
	ctx := context.Background()
	seedConnection(t, s.DB, "conn-1", "wa1", "")

	first, err := s.Ingest(ctx, []byte(mariaEvent), "req-1")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := s.Ingest(ctx, []byte(mariaEvent), "req-2")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.Action != ActionDuplicateSkipped {
		t.Fatalf("action = %q, want duplicate_skipped", second.Action)
	}
	if second.MessageID != first.MessageID || second.ConversationID != first.ConversationID || second.ContactID != first.ContactID {
		t.Fatalf("duplicate ids differ: %+v vs %+v", first, second)
	}
	if n := count(t, s.DB, &domain.Message{}); n != 1 {
		t.Fatalf("messages = %d, want 1", n)
	}
	if n := len(fwd.sent()); n != 1 {
		t.Fatalf("duplicate must not forward again; forwards = %d", n)
	}
}

func TestIngest_OutboundEchoForwardedOnly(t *testing.T) {
	s, fwd := newIngest(t)
	seedConnection(t, s.DB, "conn-1", "wa1", "")
	body := `{"event":"messages.upsert","instance":"wa1","data":{"key":{"remoteJid":"5511999990000@s.whatsapp.net","id":"OUT1","fromMe":true},"message":{"conversation":"hello"}}}`

	res, err := s.Ingest(context.Background(), []byte(body), "r")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.MessageID != "" || res.Action != ActionProcessedAndForwarded {
		t.Fatalf("echo persisted: %+v", res)
	}
	if n := count(t, s.DB, &domain.Message{}); n != 0 {
		t.Fatalf("messages = %d, want 0", n)
	}
	if n := count(t, s.DB, &domain.Contact{}); n != 0 {
		t.Fatalf("contacts = %d, want 0", n)
	}
	if len(fwd.sent()) != 1 {
		t.Fatalf("echo must still be forwarded")
	}
}

func TestIngest_NotActionableEvents(t *testing.T) {
	cases := map[string]string{
		"unknown instance": `{"event":"messages.upsert","instance":"ghost","data":{"key":{"remoteJid":"5511@s.whatsapp.net","id":"E","fromMe":false},"message":{"conversation":"x"}}}`,
		"group chat":       `{"event":"messages.upsert","instance":"wa1","data":{"key":{"remoteJid":"1203630@g.us","id":"E","fromMe":false},"message":{"conversation":"x"}}}`,
		"empty content":    `{"event":"messages.upsert","instance":"wa1","data":{"key":{"remoteJid":"5511@s.whatsapp.net","id":"E","fromMe":false},"message":{}}}`,
		"other event":      `{"event":"connection.update","instance":"wa1","data":{}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			s, fwd := newIngest(t)
			seedConnection(t, s.DB, "conn-1", "wa1", "")
			res, err := s.Ingest(context.Background(), []byte(body), "r")
			if err != nil {
				t.Fatalf("Ingest: %v", err)
			}
			if res.Action != ActionProcessedAndForwarded || res.MessageID != "" {
				t.Fatalf("unexpected result: %+v", res)
			}
			if n := count(t, s.DB, &domain.Message{}); n != 0 {
				t.Fatalf("messages = %d, want 0", n)
			}
			if len(fwd.sent()) != 1 {
				t.Fatalf("event must be forwarded")
			}
		})
	}
}

func TestIngest_InvalidJSON(t *testing.T) {
	s, _ := newIngest(t)
	_, err := s.Ingest(context.Background(), []byte(`{nope`), "r")
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("err = %v, want ErrInvalidPayload", err)
	}
}

func TestIngest_DistributesNewConversationOnly(t *testing.T) {
	s, _ := newIngest(t)
	ctx := context.Background()
	seedQueue(t, s.DB, domain.PolicySequential, "A", "B")
	seedConnection(t, s.DB, "conn-1", "wa1", "q1")
	pub := &recordingPublisher{}
	s.Events = pub

	res, err := s.Ingest(ctx, []byte(mariaEvent), "r1")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.AssignedUserID != "B" {
		t.Fatalf("assigned = %q, want B", res.AssignedUserID)
	}
	if len(pub.keys) != 2 || pub.keys[0] != events.MessageReceived || pub.keys[1] != events.ConversationAssigned {
		t.Fatalf("published = %v", pub.keys)
	}

	// A follow-up message lands in the same conversation and is not redistributed.
	next := `{"event":"messages.upsert","instance":"wa1","data":{"key":{"remoteJid":"5511999990000@s.whatsapp.net","id":"EVT2","fromMe":false},"message":{"conversation":"tudo bem?"}}}`
	res2, err := s.Ingest(ctx, []byte(next), "r2")
	if err != nil {
		t.Fatalf("Ingest #2: %v", err)
	}
	if res2.ConversationID != res.ConversationID || res2.AssignedUserID != "" {
		t.Fatalf("follow-up = %+v", res2)
	}
	if n := count(t, s.DB, &domain.Assignment{}); n != 1 {
		t.Fatalf("assignments = %d, want 1", n)
	}
	q, _ := repo.GetQueue(ctx, s.DB, "q1")
	if q.LastAssignedIndex != 1 {
		t.Fatalf("cursor = %d, want 1", q.LastAssignedIndex)
	}
}

func TestIngest_CacheHitShortCircuits(t *testing.T) {
	s, fwd := newIngest(t)
	ctx := context.Background()
	seedConnection(t, s.DB, "conn-1", "wa1", "")
	mr := miniredis.RunT(t)
	cache, err := dedupe.NewRedis(ctx, mr.Addr(), "", 0, time.Hour)
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })
	s.Cache = cache

	first, err := s.Ingest(ctx, []byte(mariaEvent), "r1")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if e, hit, _ := cache.Lookup(ctx, "w1", "EVT1"); !hit || e.MessageID != first.MessageID {
		t.Fatalf("cache not populated: %+v %v", e, hit)
	}

	// With the row gone the cache alone still answers the duplicate.
	s.DB.Exec("DELETE FROM messages")
	second, err := s.Ingest(ctx, []byte(mariaEvent), "r2")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.Action != ActionDuplicateSkipped || second.MessageID != first.MessageID {
		t.Fatalf("cache hit = %+v", second)
	}
	if len(fwd.sent()) != 1 {
		t.Fatalf("cache hit must not forward")
	}
}

func TestIngest_UpsertModeCollapsesLostRace(t *testing.T) {
	s, _ := newIngest(t)
	ctx := context.Background()
	s.IdempotentInsert = true
	seedConnection(t, s.DB, "conn-1", "wa1", "")

	first, err := s.Ingest(ctx, []byte(mariaEvent), "r1")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	conv, _ := repo.GetConversation(ctx, s.DB, "w1", first.ConversationID)
	ext := "EVT1"
	m := &domain.Message{
		WorkspaceID: "w1", ConversationID: conv.ID, ExternalID: &ext,
		Content: "late", SenderType: domain.SenderContact,
		Direction: domain.DirectionInbound, Status: domain.MessageReceived,
	}
	if err := persist(ctx, s.DB, m, true); !errors.Is(err, errLostRace) {
		t.Fatalf("persist = %v, want errLostRace", err)
	}
	if m.ID != first.MessageID {
		t.Fatalf("upsert must surface the winner: %q vs %q", m.ID, first.MessageID)
	}
	if n := count(t, s.DB, &domain.Message{}); n != 1 {
		t.Fatalf("messages = %d, want 1", n)
	}
}

func TestPersist_PlainInsertDetectsDuplicate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	conv := newConversation(t, db, "5511999990000")
	mk := func() *domain.Message {
		ext := "EVT9"
		return &domain.Message{
			WorkspaceID: "w1", ConversationID: conv.ID, ExternalID: &ext,
			Content: "x", SenderType: domain.SenderContact,
			Direction: domain.DirectionInbound, Status: domain.MessageReceived,
		}
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := persist(ctx, tx, mk(), false); err != nil {
			return err
		}
		if err := persist(ctx, tx, mk(), false); !errors.Is(err, errLostRace) {
			t.Errorf("second persist = %v, want errLostRace", err)
		}
		// The savepoint keeps the enclosing transaction usable.
		return repo.TouchConversation(ctx, tx, conv.ID, time.Now().UTC())
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if n := count(t, db, &domain.Message{}); n != 1 {
		t.Fatalf("messages = %d, want 1", n)
	}
}
