package normalize

import (
	"encoding/json"
	"strings"
)

// EventMessagesUpsert is the provider event that carries a new chat message.
const EventMessagesUpsert = "messages.upsert"

// AttachmentPlaceholder is the content stored for media without a caption.
const AttachmentPlaceholder = "[attachment]"

// ProviderEvent is the subset of the provider webhook body the pipeline reads.
type ProviderEvent struct {
	Event    string       `json:"event"`
	Instance string       `json:"instance"`
	Data     ProviderData `json:"data"`
}

// ProviderData is the "data" block of a message event.
type ProviderData struct {
	Key         MessageKey       `json:"key"`
	PushName    string           `json:"pushName"`
	Message     *ProviderMessage `json:"message"`
	MessageType string           `json:"messageType"`
}

// MessageKey identifies a message on the provider side.
type MessageKey struct {
	RemoteJID string `json:"remoteJid"`
	ID        string `json:"id"`
	FromMe    bool   `json:"fromMe"`
}

// ProviderMessage is the nested message object. Exactly one content field is
// normally set.
type ProviderMessage struct {
	Conversation        string        `json:"conversation"`
	ExtendedTextMessage *TextMessage  `json:"extendedTextMessage"`
	ImageMessage        *MediaMessage `json:"imageMessage"`
	VideoMessage        *MediaMessage `json:"videoMessage"`
	AudioMessage        *MediaMessage `json:"audioMessage"`
	DocumentMessage     *MediaMessage `json:"documentMessage"`
	StickerMessage      *MediaMessage `json:"stickerMessage"`
	LocationMessage     *struct {
		DegreesLatitude  float64 `json:"degreesLatitude"`
		DegreesLongitude float64 `json:"degreesLongitude"`
		Name             string  `json:"name"`
	} `json:"locationMessage"`
	ContactMessage *struct {
		DisplayName string `json:"displayName"`
	} `json:"contactMessage"`
	DocumentWithCaptionMessage *struct {
		Message *ProviderMessage `json:"message"`
	} `json:"documentWithCaptionMessage"`
}

// TextMessage is a text body with formatting or link preview.
type TextMessage struct {
	Text string `json:"text"`
}

// MediaMessage is any binary attachment descriptor.
type MediaMessage struct {
	Caption  string `json:"caption"`
	URL      string `json:"url"`
	Mimetype string `json:"mimetype"`
	FileName string `json:"fileName"`
}

// Inbound is the canonical record extracted from a provider message event.
type Inbound struct {
	Instance    string
	ExternalID  string
	RemoteJID   string
	Phone       string
	FromMe      bool
	Group       bool
	PushName    string
	Content     string
	MessageType string
	FileURL     string
	FileName    string
	MimeType    string
}

// Persistable reports whether the record carries enough to be stored locally:
// an inbound, non-group message with a provider id, a phone and content.
func (in Inbound) Persistable() bool {
	return !in.FromMe && !in.Group && in.ExternalID != "" && in.Phone != "" && in.Content != ""
}

// ParseProviderEvent decodes a provider webhook body.
func ParseProviderEvent(body []byte) (ProviderEvent, error) {
	var ev ProviderEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return ProviderEvent{}, err
	}
	ev.Event = strings.ToLower(strings.TrimSpace(ev.Event))
	ev.Instance = strings.TrimSpace(ev.Instance)
	return ev, nil
}

// IsMessageEvent reports whether ev carries a new message. Providers emit both
// "messages.upsert" and "MESSAGES_UPSERT".
func (ev ProviderEvent) IsMessageEvent() bool {
	e := strings.ReplaceAll(ev.Event, "_", ".")
	return e == EventMessagesUpsert
}

// Normalize turns the event into an Inbound record.
func (ev ProviderEvent) Normalize() Inbound {
	d := ev.Data
	in := Inbound{
		Instance:   ev.Instance,
		ExternalID: strings.TrimSpace(d.Key.ID),
		RemoteJID:  d.Key.RemoteJID,
		FromMe:     d.Key.FromMe,
		Group:      IsGroupJID(d.Key.RemoteJID),
		Phone:      PhoneFromJID(d.Key.RemoteJID),
	}
	in.PushName = DisplayName(d.PushName, in.Phone)
	in.Content, in.MessageType = ExtractContent(d.Message)
	if in.MessageType == "" && d.MessageType != "" {
		in.MessageType = d.MessageType
	}
	if media := mediaOf(d.Message); media != nil {
		in.FileURL = media.URL
		in.FileName = media.FileName
		in.MimeType = media.Mimetype
	}
	return in
}

// ExtractContent applies the content fallback chain and returns the content
// string together with the detected message type:
//
//	conversation → extendedTextMessage.text → image/video/document caption →
//	"[attachment]" for uncaptioned media
//
// A nil or unrecognized message yields empty content.
func ExtractContent(m *ProviderMessage) (content, msgType string) {
	if m == nil {
		return "", ""
	}
	if s := strings.TrimSpace(m.Conversation); s != "" {
		return s, "text"
	}
	if m.ExtendedTextMessage != nil {
		if s := strings.TrimSpace(m.ExtendedTextMessage.Text); s != "" {
			return s, "text"
		}
	}
	captioned := []captionedMedia{
		{m.ImageMessage, "image"},
		{m.VideoMessage, "video"},
		{m.DocumentMessage, "document"},
	}
	if m.DocumentWithCaptionMessage != nil && m.DocumentWithCaptionMessage.Message != nil {
		captioned = append(captioned, captionedMedia{m.DocumentWithCaptionMessage.Message.DocumentMessage, "document"})
	}
	for _, c := range captioned {
		if c.media != nil {
			if s := strings.TrimSpace(c.media.Caption); s != "" {
				return s, c.kind
			}
		}
	}
	switch {
	case m.ImageMessage != nil:
		return AttachmentPlaceholder, "image"
	case m.VideoMessage != nil:
		return AttachmentPlaceholder, "video"
	case m.DocumentMessage != nil:
		return AttachmentPlaceholder, "document"
	case m.DocumentWithCaptionMessage != nil:
		return AttachmentPlaceholder, "document"
	case m.AudioMessage != nil:
		return AttachmentPlaceholder, "audio"
	case m.StickerMessage != nil:
		return AttachmentPlaceholder, "sticker"
	case m.LocationMessage != nil:
		if n := strings.TrimSpace(m.LocationMessage.Name); n != "" {
			return n, "location"
		}
		return AttachmentPlaceholder, "location"
	case m.ContactMessage != nil:
		if n := strings.TrimSpace(m.ContactMessage.DisplayName); n != "" {
			return n, "contact"
		}
		return AttachmentPlaceholder, "contact"
	}
	return "", ""
}

type captionedMedia struct {
	media *MediaMessage
	kind  string
}

func mediaOf(m *ProviderMessage) *MediaMessage {
	if m == nil {
		return nil
	}
	for _, mm := range []*MediaMessage{m.ImageMessage, m.VideoMessage, m.DocumentMessage, m.AudioMessage, m.StickerMessage} {
		if mm != nil {
			return mm
		}
	}
	if m.DocumentWithCaptionMessage != nil && m.DocumentWithCaptionMessage.Message != nil {
		return m.DocumentWithCaptionMessage.Message.DocumentMessage
	}
	return nil
}
