package database

import (
	"context"
	"fmt"
	"time"

	"github.com/nfrund/collegeos/internal/domain"
	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/models"
)

// TypingTable holds one row per (conversation, user) while that user types.
const TypingTable = "typing_status"

type typingRow struct {
	ConversationID string                 `json:"conversation_id"`
	UserID         string                 `json:"user_id"`
	DisplayName    string                 `json:"display_name"`
	IsTyping       bool                   `json:"is_typing"`
	LastUpdatedAt  *models.CustomDateTime `json:"last_updated_at"`
}

// TypingStore reads and writes typing_status rows. The record ID is the
// composite [conversation, user] so an upsert always targets the same row.
type TypingStore struct {
	conn DBConnection
}

// NewTypingStore creates a TypingStore over a managed connection.
func NewTypingStore(conn DBConnection) *TypingStore {
	return &TypingStore{conn: conn}
}

// Upsert creates or refreshes the row for status.ConversationID/UserID.
func (s *TypingStore) Upsert(ctx context.Context, status domain.TypingStatus) error {
	ctx, cancel := writeContext(ctx, s.conn.GetDBExecuteTimeout())
	defer cancel()

	query := `UPSERT type::thing("typing_status", [$conversation, $user]) CONTENT {
		conversation_id: $conversation,
		user_id: $user,
		display_name: $name,
		is_typing: $typing,
		last_updated_at: $at
	}`
	params := map[string]any{
		"conversation": status.ConversationID,
		"user":         status.UserID,
		"name":         status.DisplayName,
		"typing":       status.IsTyping,
		"at":           models.CustomDateTime{Time: status.LastUpdatedAt.UTC()},
	}

	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		return Execute(ctx, db, query, params)
	})
	if err != nil {
		return fmt.Errorf("%w: upsert typing status: %w", domain.ErrBackend, err)
	}
	return nil
}

// Delete removes the row for (conversationID, userID). Deleting a missing row
// is not an error.
func (s *TypingStore) Delete(ctx context.Context, conversationID, userID string) error {
	ctx, cancel := writeContext(ctx, s.conn.GetDBExecuteTimeout())
	defer cancel()

	query := `DELETE type::thing("typing_status", [$conversation, $user])`
	params := map[string]any{"conversation": conversationID, "user": userID}

	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		return Execute(ctx, db, query, params)
	})
	if err != nil {
		return fmt.Errorf("%w: delete typing status: %w", domain.ErrBackend, err)
	}
	return nil
}

// ListActive returns the rows of a conversation that are flagged as typing and
// were refreshed after since. Callers still apply the staleness filter
// in process.
func (s *TypingStore) ListActive(ctx context.Context, conversationID string, since time.Time) ([]domain.TypingStatus, error) {
	ctx, cancel := readContext(ctx, s.conn.GetDBQueryTimeout())
	defer cancel()

	query := `SELECT * FROM typing_status
		WHERE conversation_id = $conversation AND is_typing = true AND last_updated_at > $since`
	params := map[string]any{
		"conversation": conversationID,
		"since":        models.CustomDateTime{Time: since.UTC()},
	}

	var rows []typingRow
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		rows, err = Query[typingRow](ctx, db, query, params)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list typing status: %w", domain.ErrBackend, err)
	}

	statuses := make([]domain.TypingStatus, 0, len(rows))
	for _, r := range rows {
		st := domain.TypingStatus{
			ConversationID: r.ConversationID,
			UserID:         r.UserID,
			DisplayName:    r.DisplayName,
			IsTyping:       r.IsTyping,
		}
		if r.LastUpdatedAt != nil {
			st.LastUpdatedAt = r.LastUpdatedAt.Time
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}
