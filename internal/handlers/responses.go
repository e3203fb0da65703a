package handlers

import "github.com/nfrund/collegeos/internal/domain"

// ErrorResponse is the standard format for API error responses.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// UserResponse is the public view of the signed-in user.
type UserResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// NewUserResponse creates a UserResponse from a domain.User.
func NewUserResponse(u *domain.User) UserResponse {
	p := u.Profile()
	return UserResponse{ID: u.ID, Email: u.Email, DisplayName: p.DisplayName, AvatarURL: u.AvatarURL}
}

// TypingUser is one entry of a typing response.
type TypingUser struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// TypingResponse lists who is typing in a conversation.
type TypingResponse struct {
	ConversationID string       `json:"conversation_id"`
	Users          []TypingUser `json:"users"`
	Text           string       `json:"text"`
}

func errorJSON(code, message string) ErrorResponse {
	return ErrorResponse{Code: code, Message: message}
}
