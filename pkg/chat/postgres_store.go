package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/otherjamesbrown/penf-chat/pkg/db"
	pferrors "github.com/otherjamesbrown/penf-chat/pkg/errors"
)

const messageColumns = `id, workspace_id, channel_id, author_id, author_kind,
	content, parent_id, created_at, updated_at`

// PostgresMessageStore implements MessageStore on the messages table.
type PostgresMessageStore struct {
	db db.DBTX
}

var _ MessageStore = (*PostgresMessageStore)(nil)

// NewPostgresMessageStore creates a store over a pool, connection or transaction.
func NewPostgresMessageStore(conn db.DBTX) *PostgresMessageStore {
	return &PostgresMessageStore{db: conn}
}

// GetByID retrieves a message, or nil when absent.
func (s *PostgresMessageStore) GetByID(ctx context.Context, id string) (*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`

	m, err := scanMessage(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting message: %w", err)
	}
	return m, nil
}

// Create inserts a message.
func (s *PostgresMessageStore) Create(ctx context.Context, msg NewMessage) (*Message, error) {
	query := `
		INSERT INTO messages (id, workspace_id, channel_id, author_id, author_kind, content, parent_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + messageColumns

	kind := msg.AuthorKind
	if kind == "" {
		kind = AuthorUser
	}

	m, err := scanMessage(s.db.QueryRow(ctx, query,
		uuid.NewString(),
		msg.WorkspaceID,
		msg.ChannelID,
		msg.AuthorID,
		string(kind),
		msg.Content,
		msg.ParentID,
	))
	if err != nil {
		return nil, fmt.Errorf("creating message: %w: %w", pferrors.ErrPersistence, err)
	}
	return m, nil
}

// UpdateContent replaces a message body.
func (s *PostgresMessageStore) UpdateContent(ctx context.Context, id, content string) (*Message, error) {
	query := `
		UPDATE messages
		SET content = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + messageColumns

	m, err := scanMessage(s.db.QueryRow(ctx, query, id, content))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", id, pferrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("updating message: %w: %w", pferrors.ErrPersistence, err)
	}
	return m, nil
}

// Delete removes a message. Its mentions go with it through ON DELETE CASCADE.
func (s *PostgresMessageStore) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting message: %w: %w", pferrors.ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("message %s: %w", id, pferrors.ErrNotFound)
	}
	return nil
}

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	var kind string

	err := row.Scan(
		&m.ID,
		&m.WorkspaceID,
		&m.ChannelID,
		&m.AuthorID,
		&kind,
		&m.Content,
		&m.ParentID,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.AuthorKind = AuthorKind(kind)
	return &m, nil
}
