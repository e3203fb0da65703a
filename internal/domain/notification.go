package domain

// SuppressReason records why a notification was not shown.
type SuppressReason string

const (
	ReasonNone               SuppressReason = ""
	ReasonActiveConversation SuppressReason = "active_conversation"
	ReasonPermission         SuppressReason = "permission"
)

// NotificationIntent is the ephemeral decision made for one incoming event.
type NotificationIntent struct {
	Title                string         `json:"title"`
	Body                 string         `json:"body"`
	TargetConversationID string         `json:"target_conversation_id,omitempty"`
	ShouldSuppress       bool           `json:"should_suppress"`
	Reason               SuppressReason `json:"reason,omitempty"`
}
