package domain

import (
	"context"
	"errors"
)

// ErrNotMember is returned when a user acts on a conversation they do not
// belong to.
var ErrNotMember = errors.New("not a member of the conversation")

// MembershipRepository answers which conversations a user participates in.
type MembershipRepository interface {
	ConversationsOf(ctx context.Context, userID string) ([]string, error)
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)
}
