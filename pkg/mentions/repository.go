package mentions

import (
	"context"
)

// Store persists mention records and drives their lifecycle.
//
// Write failures wrap errors.ErrPersistence and missing rows wrap
// errors.ErrNotFound. Terminal transitions assume the mention is pending;
// callers only pass mentions obtained from ListPending.
type Store interface {
	// Create records a pending mention of entityID in messageID.
	Create(ctx context.Context, messageID, entityID string, scope Scope) (*Mention, error)

	// Get returns a single mention.
	Get(ctx context.Context, id string) (*Mention, error)

	// MarkResponded moves a pending mention to responded.
	MarkResponded(ctx context.Context, id, responseMessageID string) (*Mention, error)

	// MarkError moves a pending mention to errored with a human-readable cause.
	MarkError(ctx context.Context, id, message string) (*Mention, error)

	// ListPending returns entityID's pending mentions, oldest first.
	ListPending(ctx context.Context, entityID string) ([]Mention, error)

	// ListPendingEntities returns the ids of clones with at least one pending mention.
	ListPendingEntities(ctx context.Context) ([]string, error)

	// ListForMessage returns every mention recorded for messageID.
	ListForMessage(ctx context.Context, messageID string) ([]Mention, error)

	// List returns mentions matching filter, newest first.
	List(ctx context.Context, filter MentionFilter) ([]Mention, error)

	// Delete removes a single mention.
	Delete(ctx context.Context, id string) error

	// DeleteForMessage removes every mention for messageID and returns how many were removed.
	DeleteForMessage(ctx context.Context, messageID string) (int, error)
}
