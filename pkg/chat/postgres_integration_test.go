//go:build integration

package chat_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/penf-chat/pkg/chat"
	"github.com/otherjamesbrown/penf-chat/pkg/db"
	"github.com/otherjamesbrown/penf-chat/pkg/db/dbtest"
	"github.com/otherjamesbrown/penf-chat/pkg/directory"
	"github.com/otherjamesbrown/penf-chat/pkg/logging"
	"github.com/otherjamesbrown/penf-chat/pkg/mentions"
)

func TestPostgresWriter_PostEditDelete(t *testing.T) {
	pool := dbtest.Open(t)
	ctx := context.Background()
	ws := "ws-1"
	helper := dbtest.InsertClone(t, pool, "Helper", &ws, "private", "You are Helper.")
	scout := dbtest.InsertClone(t, pool, "Scout", nil, "global", "")

	logger := logging.NewNopLogger()
	ing := mentions.NewIngestor(mentions.NewResolver(directory.NewPostgresDirectory(pool), logger), logger)
	w := chat.NewWriter(chat.NewPostgresUnitOfWork(pool), ing, logger)
	repo := mentions.NewPostgresRepository(pool)

	posted, err := w.Post(ctx, chat.NewMessage{
		WorkspaceID: ws,
		ChannelID:   "general",
		AuthorID:    "user-1",
		Content:     "@Helper and @Scout, and @Helper again",
	})
	require.NoError(t, err)
	assert.Equal(t,
		"@Helper[id:"+helper+"] and @Scout[id:"+scout+"], and @Helper[id:"+helper+"] again",
		posted.Message.Content)
	require.Len(t, posted.Mentions, 2)

	stored, err := repo.ListForMessage(ctx, posted.Message.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	edited, err := w.Edit(ctx, posted.Message.ID, "only @Scout now")
	require.NoError(t, err)
	require.Len(t, edited.Mentions, 1)
	assert.Equal(t, scout, edited.Mentions[0].EntityID)
	assert.Equal(t, mentions.ScopeGlobal, edited.Mentions[0].Scope)

	pending, err := repo.ListPending(ctx, helper)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, w.Delete(ctx, posted.Message.ID))

	gone, err := chat.NewPostgresMessageStore(pool).GetByID(ctx, posted.Message.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	left, err := repo.ListForMessage(ctx, posted.Message.ID)
	require.NoError(t, err)
	assert.Empty(t, left)
}

var errMentionWrite = errors.New("mention write refused")

// refusingMentions fails every Create after the message row is written.
type refusingMentions struct {
	mentions.Store
}

func (refusingMentions) Create(context.Context, string, string, mentions.Scope) (*mentions.Mention, error) {
	return nil, errMentionWrite
}

// recordingMessages remembers the id of the last message it created.
type recordingMessages struct {
	chat.MessageStore
	created *string
}

func (m recordingMessages) Create(ctx context.Context, msg chat.NewMessage) (*chat.Message, error) {
	out, err := m.MessageStore.Create(ctx, msg)
	if err == nil {
		*m.created = out.ID
	}
	return out, err
}

// refusingUnitOfWork is PostgresUnitOfWork with mention creation failing.
type refusingUnitOfWork struct {
	db      db.TxBeginner
	created string
}

func (u *refusingUnitOfWork) InTx(ctx context.Context, fn func(msgs chat.MessageStore, store mentions.Store) error) error {
	return db.WithTx(ctx, u.db, func(tx pgx.Tx) error {
		msgs := recordingMessages{MessageStore: chat.NewPostgresMessageStore(tx), created: &u.created}
		return fn(msgs, refusingMentions{mentions.NewPostgresRepository(tx)})
	})
}

func TestPostgresWriter_PostRollsBackMessageWhenMentionsFail(t *testing.T) {
	pool := dbtest.Open(t)
	ctx := context.Background()
	ws := "ws-1"
	dbtest.InsertClone(t, pool, "Helper", &ws, "private", "")

	logger := logging.NewNopLogger()
	ing := mentions.NewIngestor(mentions.NewResolver(directory.NewPostgresDirectory(pool), logger), logger)
	uow := &refusingUnitOfWork{db: pool}
	w := chat.NewWriter(uow, ing, logger)

	_, err := w.Post(ctx, chat.NewMessage{
		WorkspaceID: ws,
		ChannelID:   "general",
		AuthorID:    "user-1",
		Content:     "Hello @Helper",
	})
	require.ErrorIs(t, err, errMentionWrite)
	require.NotEmpty(t, uow.created, "message insert must have run before the mention write")

	msg, err := chat.NewPostgresMessageStore(pool).GetByID(ctx, uow.created)
	require.NoError(t, err)
	assert.Nil(t, msg, "message row must roll back with its mentions")
}

func TestPostgresWriter_FailedEditKeepsOldMentions(t *testing.T) {
	pool := dbtest.Open(t)
	ctx := context.Background()
	ws := "ws-1"
	helper := dbtest.InsertClone(t, pool, "Helper", &ws, "private", "")
	dbtest.InsertClone(t, pool, "Scout", nil, "global", "")

	logger := logging.NewNopLogger()
	ing := mentions.NewIngestor(mentions.NewResolver(directory.NewPostgresDirectory(pool), logger), logger)

	posted, err := chat.NewWriter(chat.NewPostgresUnitOfWork(pool), ing, logger).Post(ctx, chat.NewMessage{
		WorkspaceID: ws,
		ChannelID:   "general",
		AuthorID:    "user-1",
		Content:     "Hello @Helper",
	})
	require.NoError(t, err)
	require.Len(t, posted.Mentions, 1)

	_, err = chat.NewWriter(&refusingUnitOfWork{db: pool}, ing, logger).Edit(ctx, posted.Message.ID, "only @Scout now")
	require.ErrorIs(t, err, errMentionWrite)

	msg, err := chat.NewPostgresMessageStore(pool).GetByID(ctx, posted.Message.ID)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, posted.Message.Content, msg.Content)

	kept, err := mentions.NewPostgresRepository(pool).ListForMessage(ctx, posted.Message.ID)
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, posted.Mentions[0].ID, kept[0].ID)
	assert.Equal(t, helper, kept[0].EntityID)
	assert.Equal(t, mentions.MentionStatusPending, kept[0].Status())
}
