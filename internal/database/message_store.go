package database

import (
	"context"
	"fmt"
	"slices"

	"github.com/nfrund/collegeos/internal/domain"
	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/models"
)

// MessageTable is the table chat messages are stored in and watched on.
const MessageTable = "message"

// messageRow is the stored shape of a message. Pending and sequence state are
// client-local and never written.
type messageRow struct {
	ID             *models.RecordID       `json:"id,omitempty"`
	ConversationID string                 `json:"conversation_id"`
	SenderID       string                 `json:"sender_id"`
	SenderName     string                 `json:"sender_name"`
	SenderAvatar   string                 `json:"sender_avatar"`
	Content        string                 `json:"content"`
	Kind           string                 `json:"kind"`
	AttachmentRef  string                 `json:"attachment_ref"`
	CreatedAt      *models.CustomDateTime `json:"created_at"`
}

func (r messageRow) toDomain() (*domain.Message, error) {
	m := &domain.Message{
		ConversationID: r.ConversationID,
		Sender: domain.Sender{
			ID:          r.SenderID,
			DisplayName: r.SenderName,
			AvatarURL:   r.SenderAvatar,
		},
		Content:       r.Content,
		Kind:          domain.MessageKind(r.Kind),
		AttachmentRef: r.AttachmentRef,
	}
	if r.ID != nil {
		m.ID = r.ID.String()
	}
	if r.CreatedAt != nil {
		m.CreatedAt = r.CreatedAt.Time
	}
	if m.Kind == "" {
		m.Kind = domain.KindText
	}
	if err := domain.Validate(m); err != nil {
		return nil, err
	}
	return m, nil
}

// MessageStore persists and lists chat messages in SurrealDB.
type MessageStore struct {
	conn DBConnection
}

// NewMessageStore creates a MessageStore over a managed connection.
func NewMessageStore(conn DBConnection) *MessageStore {
	return &MessageStore{conn: conn}
}

// Insert writes a new message and returns the authoritative record with its
// server-assigned ID and timestamp.
func (s *MessageStore) Insert(ctx context.Context, draft domain.MessageDraft) (*domain.Message, error) {
	ctx, cancel := writeContext(ctx, s.conn.GetDBExecuteTimeout())
	defer cancel()

	kind := draft.Kind
	if kind == "" {
		kind = draft.Attachment.Kind()
	}
	attachmentRef := ""
	if draft.Attachment != nil {
		attachmentRef = draft.Attachment.Ref
	}

	query := `CREATE message SET
		conversation_id = $conversation,
		sender_id = $sender_id,
		sender_name = $sender_name,
		sender_avatar = $sender_avatar,
		content = $content,
		kind = $kind,
		attachment_ref = $attachment_ref,
		created_at = time::now()`
	params := map[string]any{
		"conversation":   draft.ConversationID,
		"sender_id":      draft.Sender.ID,
		"sender_name":    draft.Sender.DisplayName,
		"sender_avatar":  draft.Sender.AvatarURL,
		"content":        draft.Content,
		"kind":           string(kind),
		"attachment_ref": attachmentRef,
	}

	var row *messageRow
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		row, err = QueryOne[messageRow](ctx, db, query, params)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: insert message: %w", domain.ErrBackend, err)
	}
	if row == nil {
		return nil, fmt.Errorf("%w: insert message: no record returned", domain.ErrBackend)
	}
	return row.toDomain()
}

// ListRecent returns up to limit of the newest messages in a conversation,
// oldest first.
func (s *MessageStore) ListRecent(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	ctx, cancel := readContext(ctx, s.conn.GetDBQueryTimeout())
	defer cancel()

	query := "SELECT * FROM message WHERE conversation_id = $conversation ORDER BY created_at DESC LIMIT $limit"
	params := map[string]any{"conversation": conversationID, "limit": limit}

	var rows []messageRow
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		rows, err = Query[messageRow](ctx, db, query, params)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list messages: %w", domain.ErrBackend, err)
	}

	messages := make([]domain.Message, 0, len(rows))
	for _, r := range rows {
		m, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	slices.Reverse(messages)
	return messages, nil
}

// LastMessage returns the newest message in a conversation, or nil when the
// conversation is empty.
func (s *MessageStore) LastMessage(ctx context.Context, conversationID string) (*domain.Message, error) {
	recent, err := s.ListRecent(ctx, conversationID, 1)
	if err != nil {
		return nil, err
	}
	if len(recent) == 0 {
		return nil, nil
	}
	return &recent[0], nil
}
