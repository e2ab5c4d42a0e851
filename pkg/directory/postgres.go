// Package directory looks up clones for mention resolution and processing.
package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/otherjamesbrown/penf-chat/pkg/db"
	"github.com/otherjamesbrown/penf-chat/pkg/mentions"
)

const cloneColumns = `id, name, workspace_id, visibility, base_prompt`

// PostgresDirectory reads clones from the clones table.
type PostgresDirectory struct {
	db db.DBTX
}

var _ mentions.Directory = (*PostgresDirectory)(nil)

// NewPostgresDirectory creates a directory over conn.
func NewPostgresDirectory(conn db.DBTX) *PostgresDirectory {
	return &PostgresDirectory{db: conn}
}

// GetByID returns a clone by id, or nil.
func (d *PostgresDirectory) GetByID(ctx context.Context, id string) (*mentions.Entity, error) {
	query := `SELECT ` + cloneColumns + ` FROM clones WHERE id = $1`
	return d.one(ctx, "getting clone", query, id)
}

// FindByName returns the clone named name in workspaceID, or nil. Names
// compare case-insensitively; the oldest clone wins a tie.
func (d *PostgresDirectory) FindByName(ctx context.Context, name, workspaceID string) (*mentions.Entity, error) {
	query := `
		SELECT ` + cloneColumns + `
		FROM clones
		WHERE lower(name) = lower($1) AND workspace_id = $2
		ORDER BY created_at ASC
		LIMIT 1
	`
	return d.one(ctx, "finding workspace clone", query, name, workspaceID)
}

// FindGlobalByName returns the unowned clone named name, or nil.
func (d *PostgresDirectory) FindGlobalByName(ctx context.Context, name string) (*mentions.Entity, error) {
	query := `
		SELECT ` + cloneColumns + `
		FROM clones
		WHERE lower(name) = lower($1) AND workspace_id IS NULL
		ORDER BY created_at ASC
		LIMIT 1
	`
	return d.one(ctx, "finding global clone", query, name)
}

// List returns clones visible to workspaceID, or every clone when it is empty.
func (d *PostgresDirectory) List(ctx context.Context, workspaceID string) ([]mentions.Entity, error) {
	query := `SELECT ` + cloneColumns + ` FROM clones`
	var args []any
	if workspaceID != "" {
		query += ` WHERE workspace_id IS NULL OR workspace_id = $1 OR visibility = 'global'`
		args = append(args, workspaceID)
	}
	query += ` ORDER BY name ASC, created_at ASC`

	rows, err := d.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing clones: %w", err)
	}
	defer rows.Close()

	var out []mentions.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("listing clones: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating clones: %w", err)
	}
	return out, nil
}

func (d *PostgresDirectory) one(ctx context.Context, op, query string, args ...any) (*mentions.Entity, error) {
	e, err := scanEntity(d.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return e, nil
}

func scanEntity(row pgx.Row) (*mentions.Entity, error) {
	var e mentions.Entity
	var visibility string

	if err := row.Scan(&e.ID, &e.Name, &e.WorkspaceID, &visibility, &e.BasePrompt); err != nil {
		return nil, err
	}
	e.Visibility = mentions.Visibility(visibility)
	return &e, nil
}
