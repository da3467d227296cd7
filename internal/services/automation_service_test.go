package services

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/wa-inbound-gateway/internal/domain"
	"github.com/tbourn/wa-inbound-gateway/internal/normalize"
	"github.com/tbourn/wa-inbound-gateway/internal/repo"
)

func newAutomation(t *testing.T) *AutomationService {
	t.Helper()
	return &AutomationService{DB: newTestDB(t), Resolver: &Resolver{}}
}

func TestAutomation_CreateOutbound(t *testing.T) {
	s := newAutomation(t)
	ctx := context.Background()
	seedConnection(t, s.DB, "conn-1", "wa1", "")
	body := `{"direction":"outbound","phone_number":"+55 11 99999-0000","content":"Olá!","workspace_id":"w1","connection_id":"conn-1","contact_name":"Maria","metadata":{"bot":"faq"}}`

	res, err := s.Handle(ctx, []byte(body), "req-9")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Action != ActionCreated || !res.Created() {
		t.Fatalf("action = %q", res.Action)
	}
	if res.PhoneNumber != "5511999990000" || res.ConnectionID != "conn-1" {
		t.Fatalf("result = %+v", res)
	}
	m, err := repo.GetMessage(ctx, s.DB, res.MessageID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if m.SenderType != domain.SenderAgent || m.Status != domain.MessageSent || m.MessageType != "text" {
		t.Fatalf("message = %+v", m)
	}
	if m.ExternalID != nil {
		t.Fatalf("external_id = %v, want nil", *m.ExternalID)
	}
	if m.Metadata.Flow() != domain.FlowAutomationCreated || m.Metadata["bot"] != "faq" {
		t.Fatalf("metadata = %v", m.Metadata)
	}
	c, _ := repo.FindContactByPhone(ctx, s.DB, "w1", "5511999990000")
	if c == nil || c.Name != "Maria" {
		t.Fatalf("contact = %+v", c)
	}
	if n := count(t, s.DB, &domain.Assignment{}); n != 0 {
		t.Fatalf("automation path must not distribute")
	}
}

func TestAutomation_CreateReusesConversationAndRelinks(t *testing.T) {
	s := newAutomation(t)
	ctx := context.Background()
	seedConnection(t, s.DB, "conn-a", "wa-a", "")
	seedConnection(t, s.DB, "conn-b", "wa-b", "")
	first := `{"direction":"inbound","phone_number":"5511999990000","content":"a","workspace_id":"w1","connection_id":"conn-a"}`
	second := `{"direction":"outbound","phone_number":"5511999990000","content":"b","workspace_id":"w1","connection_id":"conn-b"}`

	r1, err := s.Handle(ctx, []byte(first), "r1")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	r2, err := s.Handle(ctx, []byte(second), "r2")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if r1.ConversationID != r2.ConversationID {
		t.Fatalf("conversation not reused")
	}
	conv, _ := repo.GetConversation(ctx, s.DB, "w1", r2.ConversationID)
	if conv.ConnectionID == nil || *conv.ConnectionID != "conn-b" {
		t.Fatalf("connection_id = %v, want conn-b", conv.ConnectionID)
	}
	m, _ := repo.GetMessage(ctx, s.DB, r1.MessageID)
	if m.SenderType != domain.SenderContact || m.Status != domain.MessageReceived {
		t.Fatalf("inbound message = %+v", m)
	}
}

func TestAutomation_UnknownConnection(t *testing.T) {
	s := newAutomation(t)
	body := `{"direction":"outbound","phone_number":"5511999990000","content":"x","workspace_id":"w1","connection_id":"ghost"}`

	_, err := s.Handle(context.Background(), []byte(body), "r")
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Fields["connection_id"] == "" {
		t.Fatalf("err = %v, want connection_id validation error", err)
	}
	if n := count(t, s.DB, &domain.Contact{}); n != 0 {
		t.Fatalf("contact created for a rejected call")
	}
}

func TestAutomation_UpdatePlaceholder(t *testing.T) {
	s := newAutomation(t)
	ctx := context.Background()
	create := `{"direction":"outbound","external_id":"BOT1","phone_number":"5511999990000","content":"...","workspace_id":"w1","sender_type":"bot","metadata":{"step":1}}`
	created, err := s.Handle(ctx, []byte(create), "r1")
	if err != nil || created.Action != ActionCreated {
		t.Fatalf("create = %+v, %v", created, err)
	}

	update := `{"direction":"outbound","external_id":"BOT1","phone_number":"5511999990000","content":"Resposta final","mime_type":"text/plain","metadata":{"step":2}}`
	res, err := s.Handle(ctx, []byte(update), "r2")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if res.Action != ActionUpdated || res.MessageID != created.MessageID {
		t.Fatalf("update result = %+v", res)
	}
	if res.ContactID != created.ContactID {
		t.Fatalf("update contact_id = %q", res.ContactID)
	}
	m, _ := repo.GetMessage(ctx, s.DB, created.MessageID)
	if m.Content != "Resposta final" || m.MimeType != "text/plain" || m.SenderType != domain.SenderBot {
		t.Fatalf("patched message = %+v", m)
	}
	if m.Metadata.Flow() != domain.FlowAutomationUpdated || m.Metadata["step"] != float64(2) {
		t.Fatalf("metadata = %v", m.Metadata)
	}
	if n := count(t, s.DB, &domain.Message{}); n != 1 {
		t.Fatalf("messages = %d, want 1", n)
	}
}

func TestAutomation_UpdateByInternalID(t *testing.T) {
	s := newAutomation(t)
	ctx := context.Background()
	created, err := s.Handle(ctx, []byte(`{"direction":"outbound","phone_number":"5511999990000","content":"x","workspace_id":"w1"}`), "r1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	body := `{"direction":"outbound","external_id":"` + created.MessageID + `","phone_number":"5511999990000","file_url":"https://cdn/x.pdf"}`
	res, err := s.Handle(ctx, []byte(body), "r2")
	if err != nil || res.Action != ActionUpdated {
		t.Fatalf("update = %+v, %v", res, err)
	}
	m, _ := repo.GetMessage(ctx, s.DB, created.MessageID)
	if m.FileURL != "https://cdn/x.pdf" || m.Content != "x" {
		t.Fatalf("patched message = %+v", m)
	}
}

func TestAutomation_UpdateIsolationForIngestedFacts(t *testing.T) {
	ing, _ := newIngest(t)
	ctx := context.Background()
	seedConnection(t, ing.DB, "conn-1", "wa1", "")
	in, err := ing.Ingest(ctx, []byte(mariaEvent), "r1")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	s := &AutomationService{DB: ing.DB, Resolver: &Resolver{}}
	body := `{"direction":"inbound","external_id":"EVT1","phone_number":"5511999990000","content":"overwritten"}`
	res, err := s.Handle(ctx, []byte(body), "r2")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Action != ActionDuplicateSkipped || res.MessageID != in.MessageID {
		t.Fatalf("result = %+v", res)
	}
	m, _ := repo.GetMessage(ctx, s.DB, in.MessageID)
	if m.Content != "oi" || m.Metadata.Flow() != domain.FlowInboundOriginal {
		t.Fatalf("ingested fact mutated: %+v", m)
	}
}

func TestAutomation_UnmatchedExternalIDCreates(t *testing.T) {
	s := newAutomation(t)
	ctx := context.Background()
	body := `{"direction":"inbound","external_id":"NEW1","phone_number":"5511999990000","workspace_id":"w1"}`
	res, err := s.Handle(ctx, []byte(body), "r")
	if err != nil || res.Action != ActionCreated {
		t.Fatalf("create = %+v, %v", res, err)
	}
	m, _ := repo.GetMessage(ctx, s.DB, res.MessageID)
	if m.ExternalID == nil || *m.ExternalID != "NEW1" || m.ID == "NEW1" {
		t.Fatalf("message ids = %+v", m)
	}
}

func TestAutomation_DuplicatePrevented(t *testing.T) {
	s := newAutomation(t)
	ctx := context.Background()
	first, err := s.Handle(ctx, []byte(`{"direction":"outbound","external_id":"X1","phone_number":"5511999990000","content":"a","workspace_id":"w1"}`), "r1")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	// Same external id in another workspace is not an update target there and
	// creates independently.
	other, err := s.Handle(ctx, []byte(`{"direction":"outbound","external_id":"X1","phone_number":"5511999990000","content":"a","workspace_id":"w2"}`), "r2")
	if err != nil {
		t.Fatalf("other workspace: %v", err)
	}
	if other.Action != ActionCreated || other.MessageID == first.MessageID {
		t.Fatalf("workspaces collided: %+v", other)
	}

	// A create losing the insert race reports the winner.
	p := `{"direction":"outbound","external_id":"X2","phone_number":"5511999990000","content":"a","workspace_id":"w1"}`
	r1, err := s.Handle(ctx, []byte(p), "r3")
	if err != nil {
		t.Fatalf("create X2: %v", err)
	}
	s.IdempotentInsert = true
	res, err := s.create(ctx, mustParse(t, p), "r4")
	if err != nil {
		t.Fatalf("racing create: %v", err)
	}
	if res.Action != ActionDuplicatePrevented || res.MessageID != r1.MessageID {
		t.Fatalf("racing create = %+v", res)
	}
}

func TestAutomation_DuplicatePreventedReportsWinnerIDs(t *testing.T) {
	s := newAutomation(t)
	ctx := context.Background()
	seedConnection(t, s.DB, "conn-a", "wa-a", "")
	seedConnection(t, s.DB, "conn-b", "wa-b", "")

	winner, err := s.Handle(ctx, []byte(`{"direction":"outbound","external_id":"X3","phone_number":"5511999990000","content":"a","workspace_id":"w1","connection_id":"conn-a"}`), "r1")
	if err != nil {
		t.Fatalf("winner: %v", err)
	}

	s.IdempotentInsert = true
	loser := `{"direction":"outbound","external_id":"X3","phone_number":"5521888880000","content":"b","workspace_id":"w1","connection_id":"conn-b"}`
	res, err := s.create(ctx, mustParse(t, loser), "r2")
	if err != nil {
		t.Fatalf("racing create: %v", err)
	}
	if res.Action != ActionDuplicatePrevented || res.MessageID != winner.MessageID || res.ConversationID != winner.ConversationID {
		t.Fatalf("racing create = %+v", res)
	}
	if res.ContactID != winner.ContactID || res.ConnectionID != "conn-a" {
		t.Fatalf("ids from the losing transaction leaked: %+v", res)
	}
	if _, err := repo.FindContactByPhone(ctx, s.DB, "w1", "5521888880000"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("losing contact committed: %v", err)
	}
}

func TestAutomation_UnscopedUpdateAcrossWorkspaces(t *testing.T) {
	s := newAutomation(t)
	ctx := context.Background()
	for _, ws := range []string{"w1", "w2"} {
		body := `{"direction":"outbound","external_id":"SHARED","phone_number":"5511999990000","content":"a","workspace_id":"` + ws + `"}`
		if _, err := s.Handle(ctx, []byte(body), "seed-"+ws); err != nil {
			t.Fatalf("seed %s: %v", ws, err)
		}
	}

	_, err := s.Handle(ctx, []byte(`{"direction":"outbound","external_id":"SHARED","phone_number":"5511999990000","content":"reply"}`), "r")
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Fields["workspace_id"] == "" {
		t.Fatalf("err = %v, want workspace_id validation error", err)
	}
	var patched int64
	s.DB.Model(&domain.Message{}).Where("content = ?", "reply").Count(&patched)
	if patched != 0 {
		t.Fatalf("ambiguous update patched %d rows", patched)
	}
}

func TestAutomation_Validation(t *testing.T) {
	cases := map[string]struct {
		body  string
		field string
	}{
		"missing direction": {`{"phone_number":"5511","content":"x","workspace_id":"w1"}`, "direction"},
		"invalid direction": {`{"direction":"sideways","phone_number":"5511","content":"x","workspace_id":"w1"}`, "direction"},
		"missing phone":     {`{"direction":"inbound","content":"x","workspace_id":"w1"}`, "phone_number"},
		"invalid sender":    {`{"direction":"inbound","phone_number":"5511","content":"x","workspace_id":"w1","sender_type":"robot"}`, "sender_type"},
		"missing body":      {`{"direction":"inbound","phone_number":"5511","workspace_id":"w1"}`, "content"},
		"missing workspace": {`{"direction":"inbound","phone_number":"5511","content":"x"}`, "workspace_id"},
		"no update target":  {`{"direction":"inbound","external_id":"nope","phone_number":"5511","content":"x"}`, "workspace_id"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			s := newAutomation(t)
			_, err := s.Handle(context.Background(), []byte(tc.body), "r")
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want *ValidationError", err)
			}
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("errors.Is(err, ErrValidation) = false")
			}
			if _, ok := verr.Fields[tc.field]; !ok {
				t.Fatalf("fields = %v, want key %q", verr.Fields, tc.field)
			}
			if n := count(t, s.DB, &domain.Message{}); n != 0 {
				t.Fatalf("validation failure wrote %d messages", n)
			}
		})
	}
}

func TestAutomation_InvalidJSON(t *testing.T) {
	s := newAutomation(t)
	if _, err := s.Handle(context.Background(), []byte(`[`), "r"); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("err = %v, want ErrInvalidPayload", err)
	}
}

func mustParse(t *testing.T, body string) normalize.AutomationPayload {
	t.Helper()
	p, err := normalize.ParseAutomationPayload([]byte(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return p
}
