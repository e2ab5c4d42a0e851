// Package chat holds the message records mentions are attached to, and the
// write path that keeps message content and mention records consistent.
package chat

import (
	"context"
	"time"
)

// AuthorKind distinguishes people from clones.
type AuthorKind string

const (
	AuthorUser  AuthorKind = "user"
	AuthorClone AuthorKind = "clone"
)

// Message is a chat message.
type Message struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspace_id"`
	ChannelID   string     `json:"channel_id"`
	AuthorID    string     `json:"author_id"`
	AuthorKind  AuthorKind `json:"author_kind"`
	Content     string     `json:"content"`
	ParentID    *string    `json:"parent_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsReply reports whether the message has a parent.
func (m *Message) IsReply() bool {
	return m.ParentID != nil && *m.ParentID != ""
}

// NewMessage is the input for creating a message.
type NewMessage struct {
	WorkspaceID string     `json:"workspace_id"`
	ChannelID   string     `json:"channel_id"`
	AuthorID    string     `json:"author_id"`
	AuthorKind  AuthorKind `json:"author_kind"`
	Content     string     `json:"content"`
	ParentID    *string    `json:"parent_id,omitempty"`
}

// MessageStore reads and writes messages. GetByID returns (nil, nil) when
// the message does not exist.
type MessageStore interface {
	GetByID(ctx context.Context, id string) (*Message, error)
	Create(ctx context.Context, msg NewMessage) (*Message, error)
	UpdateContent(ctx context.Context, id, content string) (*Message, error)
	Delete(ctx context.Context, id string) error
}
