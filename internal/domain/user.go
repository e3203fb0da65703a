package domain

import (
	"context"
	"strings"
)

// User is the signed-in account as seen by the session core.
type User struct {
	ID          string `json:"id" validate:"required"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Profile returns the best-known display profile for the user. When no
// display name is set it falls back to the local part of the email, then the ID.
func (u User) Profile() Sender {
	name := strings.TrimSpace(u.DisplayName)
	if name == "" && u.Email != "" {
		name, _, _ = strings.Cut(u.Email, "@")
	}
	if name == "" {
		name = u.ID
	}
	return Sender{ID: u.ID, DisplayName: name, AvatarURL: u.AvatarURL}
}

// UserRepository is the contract for resolving users from auth tokens.
type UserRepository interface {
	Authenticate(ctx context.Context, token string) (*User, error)
	FindUserByID(ctx context.Context, id string) (*User, error)
}

type userContextKey struct{}

// WithUser returns a context carrying the authenticated user.
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userContextKey{}, u)
}

// UserFromContext returns the authenticated user stored by WithUser, if any.
func UserFromContext(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(userContextKey{}).(*User)
	return u, ok && u != nil
}

// ContextIdentity resolves the current user from the request context.
type ContextIdentity struct{}

// CurrentUser returns the user carried by ctx or ErrUnauthenticated.
func (ContextIdentity) CurrentUser(ctx context.Context) (*User, error) {
	if u, ok := UserFromContext(ctx); ok {
		return u, nil
	}
	return nil, ErrUnauthenticated
}
