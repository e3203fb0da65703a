package domain

import (
	"strings"
	"time"
)

// MessageKind classifies what a message carries.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindFile  MessageKind = "file"
	KindVoice MessageKind = "voice"
)

// PendingIDPrefix marks locally synthesized placeholder identifiers.
const PendingIDPrefix = "pending:"

// Sender is the display profile attached to a message.
type Sender struct {
	ID          string `json:"id" validate:"required"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Attachment describes an uploaded file referenced by a message.
type Attachment struct {
	Name     string `json:"name" validate:"required,min=1,max=255"`
	MIMEType string `json:"mime_type" validate:"required"`
	Size     int64  `json:"size" validate:"gte=0"`
	Ref      string `json:"ref" validate:"required"`
}

// Kind infers the message kind from the attachment MIME type.
func (a *Attachment) Kind() MessageKind {
	if a == nil {
		return KindText
	}
	switch {
	case strings.HasPrefix(a.MIMEType, "image/"):
		return KindImage
	case strings.HasPrefix(a.MIMEType, "audio/"):
		return KindVoice
	default:
		return KindFile
	}
}

// Message is a chat message as held in a session's cache.
//
// Pending and Seq only exist on the client-local projection between
// submission and acknowledgment; neither is ever written to the store.
type Message struct {
	ID             string      `json:"id" validate:"required"`
	ConversationID string      `json:"conversation_id" validate:"required"`
	Sender         Sender      `json:"sender"`
	Content        string      `json:"content"`
	CreatedAt      time.Time   `json:"created_at" validate:"required"`
	Kind           MessageKind `json:"kind" validate:"oneof=text image file voice"`
	AttachmentRef  string      `json:"attachment_ref,omitempty"`
	Pending        bool        `json:"pending,omitempty"`
	Seq            uint64      `json:"-"`
}

// IsPlaceholder reports whether m is a locally synthesized placeholder.
func (m Message) IsPlaceholder() bool {
	return m.Pending && strings.HasPrefix(m.ID, PendingIDPrefix)
}

// MessageDraft is what the send pipeline hands to the store.
type MessageDraft struct {
	ConversationID string
	Sender         Sender
	Content        string
	Kind           MessageKind
	Attachment     *Attachment
}

// Summary is the "last message" preview shown in a conversation list.
type Summary struct {
	ConversationID string    `json:"conversation_id"`
	Preview        string    `json:"preview"`
	SenderName     string    `json:"sender_name"`
	At             time.Time `json:"at"`
}

// SummaryOf builds the preview for a message, truncating long content.
func SummaryOf(m Message) Summary {
	preview := m.Content
	if preview == "" && m.Kind != KindText {
		preview = "[" + string(m.Kind) + "]"
	}
	if r := []rune(preview); len(r) > 80 {
		preview = string(r[:79]) + "…"
	}
	return Summary{
		ConversationID: m.ConversationID,
		Preview:        preview,
		SenderName:     m.Sender.DisplayName,
		At:             m.CreatedAt,
	}
}
