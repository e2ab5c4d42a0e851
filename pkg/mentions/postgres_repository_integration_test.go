//go:build integration

package mentions_test

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/penf-chat/pkg/db/dbtest"
	pferrors "github.com/otherjamesbrown/penf-chat/pkg/errors"
	"github.com/otherjamesbrown/penf-chat/pkg/mentions"
)

func insertMessage(t *testing.T, pool *pgxpool.Pool, content string) string {
	t.Helper()
	var id string
	err := pool.QueryRow(context.Background(), `
		INSERT INTO messages (workspace_id, channel_id, author_id, content)
		VALUES ('ws1', 'ch1', 'u1', $1)
		RETURNING id`, content).Scan(&id)
	require.NoError(t, err)
	return id
}

func TestPostgresRepository_Lifecycle(t *testing.T) {
	pool := dbtest.Open(t)
	repo := mentions.NewPostgresRepository(pool)
	ctx := context.Background()

	msgID := insertMessage(t, pool, "Hello @Helper")
	reply := insertMessage(t, pool, "Hi")

	m, err := repo.Create(ctx, msgID, "e1", mentions.ScopeWorkspace)
	require.NoError(t, err)
	assert.True(t, m.IsPending())
	assert.Equal(t, mentions.ScopeWorkspace, m.Scope)

	pending, err := repo.ListPending(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	done, err := repo.MarkResponded(ctx, m.ID, reply)
	require.NoError(t, err)
	assert.Equal(t, mentions.MentionStatusResponded, done.Status())
	require.NotNil(t, done.RespondedAt)
	require.NotNil(t, done.ResponseMessageID)
	assert.Equal(t, reply, *done.ResponseMessageID)

	_, err = repo.MarkError(ctx, m.ID, "late")
	assert.ErrorIs(t, err, pferrors.ErrInvalidState)

	_, err = repo.MarkResponded(ctx, "missing", reply)
	assert.ErrorIs(t, err, pferrors.ErrNotFound)

	pending, err = repo.ListPending(ctx, "e1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPostgresRepository_PendingOrderAndEntities(t *testing.T) {
	pool := dbtest.Open(t)
	repo := mentions.NewPostgresRepository(pool)
	ctx := context.Background()

	msgID := insertMessage(t, pool, "@A @B")

	first, err := repo.Create(ctx, msgID, "e2", mentions.ScopeGlobal)
	require.NoError(t, err)
	second, err := repo.Create(ctx, msgID, "e1", mentions.ScopeWorkspace)
	require.NoError(t, err)
	third, err := repo.Create(ctx, insertMessage(t, pool, "@A again"), "e2", mentions.ScopeGlobal)
	require.NoError(t, err)

	pending, err := repo.ListPending(ctx, "e2")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, third.ID, pending[1].ID)

	entities, err := repo.ListPendingEntities(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"e2", "e1"}, entities)

	_, err = repo.MarkError(ctx, second.ID, "entity not found")
	require.NoError(t, err)

	status := mentions.MentionStatusErrored
	errored, err := repo.List(ctx, mentions.MentionFilter{Status: &status})
	require.NoError(t, err)
	require.Len(t, errored, 1)
	assert.Equal(t, second.ID, errored[0].ID)

	entities, err = repo.ListPendingEntities(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"e2"}, entities)
}

func TestPostgresRepository_MessageDeleteCascades(t *testing.T) {
	pool := dbtest.Open(t)
	repo := mentions.NewPostgresRepository(pool)
	ctx := context.Background()

	msgID := insertMessage(t, pool, "@Helper")
	_, err := repo.Create(ctx, msgID, "e1", mentions.ScopeWorkspace)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, msgID)
	require.NoError(t, err)

	left, err := repo.ListForMessage(ctx, msgID)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestPostgresRepository_SchemaRejectsDoubleTerminal(t *testing.T) {
	pool := dbtest.Open(t)
	ctx := context.Background()

	msgID := insertMessage(t, pool, "@Helper")
	_, err := pool.Exec(ctx, `
		INSERT INTO mentions (message_id, entity_id, scope, responded, response_message_id, error)
		VALUES ($1, 'e1', 'workspace', true, $1, 'boom')`, msgID)
	assert.Error(t, err)
}
