package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nfrund/collegeos/internal/config"
	"github.com/nfrund/collegeos/internal/domain"
	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/models"
)

type userRow struct {
	ID          *models.RecordID `json:"id,omitempty"`
	Email       string           `json:"email"`
	Name        string           `json:"name"`
	DisplayName string           `json:"display_name"`
	AvatarURL   string           `json:"avatar_url"`
}

func (r userRow) toDomain() *domain.User {
	u := &domain.User{
		Email:       r.Email,
		DisplayName: r.DisplayName,
		AvatarURL:   r.AvatarURL,
	}
	if u.DisplayName == "" {
		u.DisplayName = r.Name
	}
	if r.ID != nil {
		u.ID = r.ID.String()
	}
	return u
}

// UserStore resolves users. Tokens are verified by SurrealDB itself.
type UserStore struct {
	conn DBConnection
	cfg  config.Provider
}

// NewUserStore creates a new UserStore.
func NewUserStore(conn DBConnection, cfg config.Provider) *UserStore {
	return &UserStore{conn: conn, cfg: cfg}
}

// Authenticate validates a record access token and returns its user.
//
// The token is checked on a short-lived connection of its own: authenticating
// changes the auth state of the socket, and the shared connection must stay
// on the service credentials.
func (s *UserStore) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, domain.ErrUnauthenticated
	}

	ctx, cancel := readContext(ctx, s.cfg.GetDBQueryTimeout())
	defer cancel()

	db, err := surrealdb.FromEndpointURLString(ctx, s.cfg.GetDBURL())
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %w", domain.ErrBackend, err)
	}
	defer db.Close(context.WithoutCancel(ctx))

	if err := db.Authenticate(ctx, token); err != nil {
		slog.DebugContext(ctx, "Token rejected", "event", "auth_token_rejected", "error", err)
		return nil, domain.ErrUnauthenticated
	}
	if err := db.Use(ctx, s.cfg.GetDBNs(), s.cfg.GetDBDb()); err != nil {
		return nil, fmt.Errorf("%w: use namespace: %w", domain.ErrBackend, err)
	}

	row, err := QueryOne[userRow](ctx, db, "SELECT * FROM $auth", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: load authenticated user: %w", domain.ErrBackend, err)
	}
	if row == nil || row.ID == nil {
		return nil, domain.ErrUnauthenticated
	}
	return row.toDomain(), nil
}

// FindUserByID loads a user by its "table:id" record ID. It returns
// domain.ErrNotFound when the record does not exist.
func (s *UserStore) FindUserByID(ctx context.Context, id string) (*domain.User, error) {
	rid, err := parseRecordID(id)
	if err != nil {
		return nil, err
	}

	ctx, cancel := readContext(ctx, s.conn.GetDBQueryTimeout())
	defer cancel()

	var row *userRow
	err = s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		row, err = QueryOne[userRow](ctx, db, "SELECT * FROM $id", map[string]any{"id": rid})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: find user: %w", domain.ErrBackend, err)
	}
	if row == nil {
		return nil, domain.ErrNotFound
	}
	return row.toDomain(), nil
}

// parseRecordID splits "table:id" into a RecordID.
func parseRecordID(id string) (models.RecordID, error) {
	table, key, ok := strings.Cut(id, ":")
	if !ok || table == "" || key == "" {
		return models.RecordID{}, NewDBError(ErrInvalidInput, fmt.Sprintf("invalid record id %q", id))
	}
	return models.NewRecordID(table, key), nil
}
