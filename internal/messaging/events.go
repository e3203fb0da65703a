package messaging

import "github.com/nfrund/collegeos/internal/pubsub"

// SendFailed is published when a send's persist call fails and its
// placeholder has been rolled back.
type SendFailed struct {
	SessionID      string `json:"session_id"`
	ConversationID string `json:"conversation_id"`
	PlaceholderID  string `json:"placeholder_id"`
	Content        string `json:"content"`
	Reason         string `json:"reason"`
}

// SummaryInvalidated is published after a send lands, so every session of
// the sender drops its cached preview for the conversation.
type SummaryInvalidated struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

var (
	SendFailedEvent         = pubsub.NewEvent[SendFailed]("chat.send.failed")
	SummaryInvalidatedEvent = pubsub.NewEvent[SummaryInvalidated]("chat.summary.invalidated")
)
