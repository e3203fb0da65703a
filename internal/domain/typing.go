package domain

import "time"

// DefaultTypingStaleWindow is the read-time cutoff after which a typing row
// no longer counts, whether or not it was ever deleted.
const DefaultTypingStaleWindow = 10 * time.Second

// TypingStatus is the per (conversation, user) "is typing" row.
type TypingStatus struct {
	ConversationID string    `json:"conversation_id" validate:"required"`
	UserID         string    `json:"user_id" validate:"required"`
	DisplayName    string    `json:"display_name"`
	IsTyping       bool      `json:"is_typing"`
	LastUpdatedAt  time.Time `json:"last_updated_at"`
}

// IsActive applies the staleness filter: the row counts only while IsTyping
// is set and it was refreshed less than window ago.
func (s TypingStatus) IsActive(now time.Time, window time.Duration) bool {
	return s.IsTyping && now.Sub(s.LastUpdatedAt) < window
}

// ActiveTypists filters statuses down to the ones that are currently active,
// dropping excludeUserID (normally the local user).
func ActiveTypists(statuses []TypingStatus, now time.Time, window time.Duration, excludeUserID string) []TypingStatus {
	active := make([]TypingStatus, 0, len(statuses))
	for _, s := range statuses {
		if s.UserID == excludeUserID {
			continue
		}
		if s.IsActive(now, window) {
			active = append(active, s)
		}
	}
	return active
}
