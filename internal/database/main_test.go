package database

import (
	"context"
	"testing"

	"github.com/nfrund/collegeos/internal/testutils"
	"github.com/stretchr/testify/require"
	"github.com/surrealdb/surrealdb.go"
)

// setupTestConn connects to the test database and returns a cleanup function.
// It skips the calling test in short mode or when no database is configured.
func setupTestConn(t *testing.T) (*Connection, testutils.DBConfig, func()) {
	t.Helper()

	cfg := testutils.DBConfigForTests(t)

	ctx := context.Background()
	conn := NewConnection(cfg)
	require.NoError(t, conn.Connect(ctx), "failed to connect to test database")

	return conn, cfg, func() {
		_ = conn.WithConnection(ctx, func(db *surrealdb.DB) error {
			_, _ = surrealdb.Query[any](ctx, db, "DELETE message; DELETE typing_status; DELETE conversation_member;", nil)
			return nil
		})
		_ = conn.Close(ctx)
	}
}
