package database

import (
	"context"
	"fmt"
	"time"

	"github.com/nfrund/collegeos/internal/domain"
	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/models"
)

// MemberTable holds one row per (conversation, user) participation.
const MemberTable = "conversation_member"

type memberRow struct {
	ConversationID string                 `json:"conversation_id"`
	UserID         string                 `json:"user_id"`
	JoinedAt       *models.CustomDateTime `json:"joined_at,omitempty"`
}

// MembershipStore reads and writes conversation_member rows, keyed like
// typing_status on [conversation, user].
type MembershipStore struct {
	conn DBConnection
}

// NewMembershipStore creates a MembershipStore over a managed connection.
func NewMembershipStore(conn DBConnection) *MembershipStore {
	return &MembershipStore{conn: conn}
}

// Add makes userID a participant of conversationID. Adding twice is a no-op.
func (s *MembershipStore) Add(ctx context.Context, conversationID, userID string) error {
	ctx, cancel := writeContext(ctx, s.conn.GetDBExecuteTimeout())
	defer cancel()

	query := `UPSERT type::thing("conversation_member", [$conversation, $user]) MERGE {
		conversation_id: $conversation,
		user_id: $user,
		joined_at: $at
	}`
	params := map[string]any{
		"conversation": conversationID,
		"user":         userID,
		"at":           models.CustomDateTime{Time: time.Now().UTC()},
	}
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		return Execute(ctx, db, query, params)
	})
	if err != nil {
		return fmt.Errorf("%w: add member: %w", domain.ErrBackend, err)
	}
	return nil
}

// Remove ends a participation. Removing a missing row is not an error.
func (s *MembershipStore) Remove(ctx context.Context, conversationID, userID string) error {
	ctx, cancel := writeContext(ctx, s.conn.GetDBExecuteTimeout())
	defer cancel()

	query := `DELETE type::thing("conversation_member", [$conversation, $user])`
	params := map[string]any{"conversation": conversationID, "user": userID}
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		return Execute(ctx, db, query, params)
	})
	if err != nil {
		return fmt.Errorf("%w: remove member: %w", domain.ErrBackend, err)
	}
	return nil
}

// ConversationsOf lists the conversations userID participates in.
func (s *MembershipStore) ConversationsOf(ctx context.Context, userID string) ([]string, error) {
	ctx, cancel := readContext(ctx, s.conn.GetDBQueryTimeout())
	defer cancel()

	var rows []memberRow
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		rows, err = Query[memberRow](ctx, db,
			"SELECT conversation_id, user_id FROM conversation_member WHERE user_id = $user",
			map[string]any{"user": userID})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list memberships: %w", domain.ErrBackend, err)
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ConversationID)
	}
	return ids, nil
}

// IsMember reports whether userID participates in conversationID.
func (s *MembershipStore) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	ctx, cancel := readContext(ctx, s.conn.GetDBQueryTimeout())
	defer cancel()

	var row *memberRow
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		row, err = QueryOne[memberRow](ctx, db,
			"SELECT conversation_id, user_id FROM conversation_member WHERE conversation_id = $conversation AND user_id = $user",
			map[string]any{"conversation": conversationID, "user": userID})
		return err
	})
	if err != nil {
		return false, fmt.Errorf("%w: check membership: %w", domain.ErrBackend, err)
	}
	return row != nil, nil
}
