package database

import (
	"fmt"
	"time"

	"github.com/nfrund/collegeos/internal/domain"
	"github.com/surrealdb/surrealdb.go/pkg/models"
)

// DecodeMessage converts a realtime payload into a validated message.
// Payloads arrive untyped from the driver; anything that does not satisfy the
// message schema is rejected with domain.ErrInvalidRecord.
func DecodeMessage(data any) (*domain.Message, error) {
	fields, err := asFields(data)
	if err != nil {
		return nil, err
	}

	created, err := timeField(fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("%w: created_at: %v", domain.ErrInvalidRecord, err)
	}

	m := &domain.Message{
		ID:             recordIDString(fields["id"]),
		ConversationID: stringField(fields["conversation_id"]),
		Sender: domain.Sender{
			ID:          recordIDString(fields["sender_id"]),
			DisplayName: stringField(fields["sender_name"]),
			AvatarURL:   stringField(fields["sender_avatar"]),
		},
		Content:       stringField(fields["content"]),
		CreatedAt:     created,
		Kind:          domain.MessageKind(stringField(fields["kind"])),
		AttachmentRef: stringField(fields["attachment_ref"]),
	}
	if m.Kind == "" {
		m.Kind = domain.KindText
	}

	if err := domain.Validate(m); err != nil {
		return nil, err
	}
	return m, nil
}

// DecodeTypingStatus converts a typing_status row into its domain form.
func DecodeTypingStatus(data any) (*domain.TypingStatus, error) {
	fields, err := asFields(data)
	if err != nil {
		return nil, err
	}
	updated, err := timeField(fields["last_updated_at"])
	if err != nil {
		return nil, fmt.Errorf("%w: last_updated_at: %v", domain.ErrInvalidRecord, err)
	}
	isTyping, _ := fields["is_typing"].(bool)

	s := &domain.TypingStatus{
		ConversationID: stringField(fields["conversation_id"]),
		UserID:         recordIDString(fields["user_id"]),
		DisplayName:    stringField(fields["display_name"]),
		IsTyping:       isTyping,
		LastUpdatedAt:  updated,
	}
	if err := domain.Validate(s); err != nil {
		return nil, err
	}
	return s, nil
}

func asFields(data any) (map[string]any, error) {
	switch v := data.(type) {
	case map[string]any:
		return v, nil
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			key, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("%w: non-string key %v", domain.ErrInvalidRecord, k)
			}
			out[key] = val
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unexpected payload type %T", domain.ErrInvalidRecord, data)
	}
}

func stringField(v any) string {
	s, _ := v.(string)
	return s
}

// recordIDString renders a record reference as "table:id". The driver yields
// RecordID values for links and plain strings for text fields.
func recordIDString(v any) string {
	switch id := v.(type) {
	case models.RecordID:
		return id.String()
	case *models.RecordID:
		if id == nil {
			return ""
		}
		return id.String()
	case string:
		return id
	default:
		return ""
	}
}

func timeField(v any) (time.Time, error) {
	switch t := v.(type) {
	case models.CustomDateTime:
		return t.Time, nil
	case *models.CustomDateTime:
		if t == nil {
			return time.Time{}, fmt.Errorf("missing")
		}
		return t.Time, nil
	case time.Time:
		return t, nil
	case string:
		return time.Parse(time.RFC3339Nano, t)
	case nil:
		return time.Time{}, fmt.Errorf("missing")
	default:
		return time.Time{}, fmt.Errorf("unexpected type %T", v)
	}
}
