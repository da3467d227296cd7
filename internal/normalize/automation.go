package normalize

import (
	"context"
	"encoding/json"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// AutomationPayload is the pre-normalized message shape sent by the automation
// engine.
type AutomationPayload struct {
	Direction    string         `json:"direction"`
	ExternalID   string         `json:"external_id,omitempty"`
	PhoneNumber  string         `json:"phone_number"`
	Content      string         `json:"content,omitempty"`
	MessageType  string         `json:"message_type,omitempty"`
	SenderType   string         `json:"sender_type,omitempty"`
	FileURL      string         `json:"file_url,omitempty"`
	FileName     string         `json:"file_name,omitempty"`
	MimeType     string         `json:"mime_type,omitempty"`
	WorkspaceID  string         `json:"workspace_id,omitempty"`
	ConnectionID string         `json:"connection_id,omitempty"`
	ContactName  string         `json:"contact_name,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// ParseAutomationPayload decodes and trims an automation body. The phone number
// is reduced to digits.
func ParseAutomationPayload(body []byte) (AutomationPayload, error) {
	var p AutomationPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return AutomationPayload{}, err
	}
	p.Direction = strings.ToLower(strings.TrimSpace(p.Direction))
	p.ExternalID = strings.TrimSpace(p.ExternalID)
	p.PhoneNumber = Phone(p.PhoneNumber)
	p.MessageType = strings.ToLower(strings.TrimSpace(p.MessageType))
	p.SenderType = strings.ToLower(strings.TrimSpace(p.SenderType))
	p.FileURL = strings.TrimSpace(p.FileURL)
	p.WorkspaceID = strings.TrimSpace(p.WorkspaceID)
	p.ConnectionID = strings.TrimSpace(p.ConnectionID)
	p.ContactName = strings.TrimSpace(p.ContactName)
	return p, nil
}

// Validate checks the fields required on every automation call.
func (p AutomationPayload) Validate(ctx context.Context) error {
	return validation.ValidateStructWithContext(ctx, &p,
		validation.Field(&p.Direction, validation.Required, validation.In("inbound", "outbound")),
		validation.Field(&p.PhoneNumber, validation.Required),
		validation.Field(&p.SenderType, validation.In("contact", "agent", "bot")),
	)
}

// ValidateCreate checks the additional fields required when no update target
// exists and a new message is created.
func (p AutomationPayload) ValidateCreate(ctx context.Context) error {
	hasBody := p.Content != "" || p.FileURL != "" || p.ExternalID != ""
	return validation.ValidateStructWithContext(ctx, &p,
		validation.Field(&p.WorkspaceID, validation.Required),
		validation.Field(&p.Content, validation.When(!hasBody,
			validation.Required.Error("content, file_url or external_id is required"))),
	)
}
