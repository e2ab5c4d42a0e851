package mentions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/otherjamesbrown/penf-chat/pkg/db"
	pferrors "github.com/otherjamesbrown/penf-chat/pkg/errors"
)

const mentionColumns = `id, message_id, entity_id, scope, responded,
	responded_at, response_message_id, error, created_at`

// PostgresRepository implements Store on the mentions table.
type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository creates a repository over a pool, connection or transaction.
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

// WithTx returns a repository bound to tx.
func (r *PostgresRepository) WithTx(tx pgx.Tx) *PostgresRepository {
	return &PostgresRepository{db: tx}
}

// Create inserts a pending mention.
func (r *PostgresRepository) Create(ctx context.Context, messageID, entityID string, scope Scope) (*Mention, error) {
	query := `
		INSERT INTO mentions (id, message_id, entity_id, scope)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + mentionColumns

	row := r.db.QueryRow(ctx, query, uuid.NewString(), messageID, entityID, string(scope))
	m, err := scanMention(row)
	if err != nil {
		return nil, fmt.Errorf("creating mention: %w: %w", pferrors.ErrPersistence, err)
	}
	return m, nil
}

// Get retrieves a mention by id.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Mention, error) {
	query := `SELECT ` + mentionColumns + ` FROM mentions WHERE id = $1`

	m, err := scanMention(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("mention %s: %w", id, pferrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting mention: %w", err)
	}
	return m, nil
}

// MarkResponded sets responded, responded_at and response_message_id.
func (r *PostgresRepository) MarkResponded(ctx context.Context, id, responseMessageID string) (*Mention, error) {
	query := `
		UPDATE mentions
		SET responded = true,
			responded_at = NOW(),
			response_message_id = $2
		WHERE id = $1 AND responded = false AND error IS NULL
		RETURNING ` + mentionColumns

	m, err := scanMention(r.db.QueryRow(ctx, query, id, responseMessageID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, r.missingOrTerminal(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("marking mention responded: %w: %w", pferrors.ErrPersistence, err)
	}
	return m, nil
}

// MarkError records message as the mention's terminal error.
func (r *PostgresRepository) MarkError(ctx context.Context, id, message string) (*Mention, error) {
	query := `
		UPDATE mentions
		SET error = $2
		WHERE id = $1 AND responded = false AND error IS NULL
		RETURNING ` + mentionColumns

	m, err := scanMention(r.db.QueryRow(ctx, query, id, message))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, r.missingOrTerminal(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("marking mention error: %w: %w", pferrors.ErrPersistence, err)
	}
	return m, nil
}

// ListPending returns pending mentions for entityID ordered by creation time.
func (r *PostgresRepository) ListPending(ctx context.Context, entityID string) ([]Mention, error) {
	query := `
		SELECT ` + mentionColumns + `
		FROM mentions
		WHERE entity_id = $1 AND responded = false AND error IS NULL
		ORDER BY created_at ASC, id ASC
	`
	return r.query(ctx, "listing pending mentions", query, entityID)
}

// ListPendingEntities returns distinct entity ids with pending mentions.
func (r *PostgresRepository) ListPendingEntities(ctx context.Context) ([]string, error) {
	query := `
		SELECT entity_id
		FROM mentions
		WHERE responded = false AND error IS NULL
		GROUP BY entity_id
		ORDER BY MIN(created_at) ASC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing pending entities: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("iterating pending entities: %w", err)
	}
	return ids, nil
}

// ListForMessage returns all mentions for messageID in creation order.
func (r *PostgresRepository) ListForMessage(ctx context.Context, messageID string) ([]Mention, error) {
	query := `
		SELECT ` + mentionColumns + `
		FROM mentions
		WHERE message_id = $1
		ORDER BY created_at ASC, id ASC
	`
	return r.query(ctx, "listing message mentions", query, messageID)
}

// List lists mentions based on filter criteria.
func (r *PostgresRepository) List(ctx context.Context, filter MentionFilter) ([]Mention, error) {
	query := `SELECT ` + mentionColumns + ` FROM mentions WHERE 1=1`
	args := []any{}
	argNum := 1

	if filter.MessageID != nil {
		query += fmt.Sprintf(" AND message_id = $%d", argNum)
		args = append(args, *filter.MessageID)
		argNum++
	}

	if filter.EntityID != nil {
		query += fmt.Sprintf(" AND entity_id = $%d", argNum)
		args = append(args, *filter.EntityID)
		argNum++
	}

	if filter.Status != nil {
		switch *filter.Status {
		case MentionStatusPending:
			query += " AND responded = false AND error IS NULL"
		case MentionStatusResponded:
			query += " AND responded = true"
		case MentionStatusErrored:
			query += " AND error IS NOT NULL"
		default:
			return nil, fmt.Errorf("unknown mention status %q: %w", *filter.Status, pferrors.ErrValidation)
		}
	}

	query += " ORDER BY created_at DESC, id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	return r.query(ctx, "listing mentions", query, args...)
}

// Delete removes a mention by id.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM mentions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting mention: %w: %w", pferrors.ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mention %s: %w", id, pferrors.ErrNotFound)
	}
	return nil
}

// DeleteForMessage removes every mention of messageID.
func (r *PostgresRepository) DeleteForMessage(ctx context.Context, messageID string) (int, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM mentions WHERE message_id = $1`, messageID)
	if err != nil {
		return 0, fmt.Errorf("deleting message mentions: %w: %w", pferrors.ErrPersistence, err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PostgresRepository) query(ctx context.Context, op, query string, args ...any) ([]Mention, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var mentions []Mention
	for rows.Next() {
		m, err := scanMention(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		mentions = append(mentions, *m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating mentions: %w", err)
	}

	return mentions, nil
}

// missingOrTerminal explains why a guarded lifecycle update matched no row.
func (r *PostgresRepository) missingOrTerminal(ctx context.Context, id string) error {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM mentions WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking mention: %w: %w", pferrors.ErrPersistence, err)
	}
	if !exists {
		return fmt.Errorf("mention %s: %w", id, pferrors.ErrNotFound)
	}
	return fmt.Errorf("mention %s already terminal: %w", id, pferrors.ErrInvalidState)
}

// scanMention scans from either pgx.Row or pgx.Rows.
func scanMention(row pgx.Row) (*Mention, error) {
	var m Mention
	var scope string
	var respondedAt *time.Time

	err := row.Scan(
		&m.ID,
		&m.MessageID,
		&m.EntityID,
		&scope,
		&m.Responded,
		&respondedAt,
		&m.ResponseMessageID,
		&m.Error,
		&m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.Scope = Scope(scope)
	m.RespondedAt = respondedAt
	return &m, nil
}
