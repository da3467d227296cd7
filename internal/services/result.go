package services

import (
	"encoding/json"
	"time"
)

// Actions reported to webhook callers.
const (
	ActionCreated               = "created"
	ActionUpdated               = "updated"
	ActionDuplicateSkipped      = "duplicate_skipped"
	ActionDuplicatePrevented    = "duplicate_prevented"
	ActionProcessedAndForwarded = "processed_and_forwarded"
)

// Result is the caller-visible outcome of one webhook call. Empty identifiers
// mean the step did not run (e.g. no tenant resolved).
type Result struct {
	Action         string
	MessageID      string
	WorkspaceID    string
	ConversationID string
	ContactID      string
	ConnectionID   string
	Instance       string
	PhoneNumber    string
	AssignedUserID string
}

// Created reports whether the call inserted a new message row.
func (r *Result) Created() bool { return r != nil && r.Action == ActionCreated }

// processed is the processed_data block attached to forwarded events.
func (r *Result) processed() map[string]any {
	m := map[string]any{"action": r.Action}
	add := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	add("message_id", r.MessageID)
	add("workspace_id", r.WorkspaceID)
	add("conversation_id", r.ConversationID)
	add("contact_id", r.ContactID)
	add("connection_id", r.ConnectionID)
	add("instance", r.Instance)
	add("phone_number", r.PhoneNumber)
	add("assigned_user_id", r.AssignedUserID)
	return m
}

// rawJSON keeps a valid JSON body verbatim inside message metadata.
func rawJSON(body []byte) any {
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	return string(body)
}

func nowUTC() time.Time { return time.Now().UTC() }
