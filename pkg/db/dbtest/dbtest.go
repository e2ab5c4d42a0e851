// Package dbtest opens a migrated test database for integration tests.
package dbtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/penf-chat/pkg/db"
)

// EnvURL names the variable holding the test database URL.
const EnvURL = "TEST_DATABASE_URL"

// Open connects to TEST_DATABASE_URL, applies migrations and empties the
// chat tables. The test is skipped when the variable is unset.
func Open(t *testing.T) *pgxpool.Pool {
	t.Helper()

	url := os.Getenv(EnvURL)
	if url == "" {
		t.Skipf("%s not set", EnvURL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.Connect(ctx, &db.Config{URL: url})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = db.Migrate(ctx, pool, db.Migrations())
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `TRUNCATE mentions, messages, clones`)
	require.NoError(t, err)

	return pool
}

// InsertClone inserts a clone row and returns its id.
func InsertClone(t *testing.T, pool *pgxpool.Pool, name string, workspaceID *string, visibility, basePrompt string) string {
	t.Helper()

	var id string
	err := pool.QueryRow(context.Background(), `
		INSERT INTO clones (name, workspace_id, visibility, base_prompt)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		name, workspaceID, visibility, basePrompt,
	).Scan(&id)
	require.NoError(t, err)
	return id
}
