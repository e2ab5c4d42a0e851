// Package chattest provides in-memory chat stores for tests.
package chattest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/otherjamesbrown/penf-chat/pkg/chat"
	pferrors "github.com/otherjamesbrown/penf-chat/pkg/errors"
	"github.com/otherjamesbrown/penf-chat/pkg/mentions"
)

// MemoryMessageStore is a goroutine-safe chat.MessageStore.
type MemoryMessageStore struct {
	mu       sync.Mutex
	messages map[string]*chat.Message
	order    []string

	// CreateErr, when set, is returned by Create.
	CreateErr error
}

var _ chat.MessageStore = (*MemoryMessageStore)(nil)

// NewMemoryMessageStore returns an empty store.
func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{messages: make(map[string]*chat.Message)}
}

// Put stores m as is, keeping its id.
func (s *MemoryMessageStore) Put(m chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[m.ID]; !ok {
		s.order = append(s.order, m.ID)
	}
	s.messages[m.ID] = &m
}

// GetByID returns the message or nil.
func (s *MemoryMessageStore) GetByID(_ context.Context, id string) (*chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.messages[id]; ok {
		out := *m
		return &out, nil
	}
	return nil, nil
}

// Create stores a new message.
func (s *MemoryMessageStore) Create(_ context.Context, msg chat.NewMessage) (*chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.CreateErr != nil {
		return nil, fmt.Errorf("creating message: %w: %w", pferrors.ErrPersistence, s.CreateErr)
	}

	kind := msg.AuthorKind
	if kind == "" {
		kind = chat.AuthorUser
	}
	now := time.Now().UTC()
	m := &chat.Message{
		ID:          uuid.NewString(),
		WorkspaceID: msg.WorkspaceID,
		ChannelID:   msg.ChannelID,
		AuthorID:    msg.AuthorID,
		AuthorKind:  kind,
		Content:     msg.Content,
		ParentID:    msg.ParentID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.messages[m.ID] = m
	s.order = append(s.order, m.ID)
	out := *m
	return &out, nil
}

// UpdateContent replaces a message body.
func (s *MemoryMessageStore) UpdateContent(_ context.Context, id, content string) (*chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, pferrors.ErrNotFound)
	}
	m.Content = content
	m.UpdatedAt = time.Now().UTC()
	out := *m
	return &out, nil
}

// Delete removes a message.
func (s *MemoryMessageStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[id]; !ok {
		return fmt.Errorf("message %s: %w", id, pferrors.ErrNotFound)
	}
	delete(s.messages, id)
	return nil
}

// Replies returns messages parented to parentID in creation order.
func (s *MemoryMessageStore) Replies(parentID string) []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []chat.Message
	for _, id := range s.order {
		m, ok := s.messages[id]
		if ok && m.ParentID != nil && *m.ParentID == parentID {
			out = append(out, *m)
		}
	}
	return out
}

// MemoryUnitOfWork runs functions against in-memory stores. Nothing is
// rolled back on error.
type MemoryUnitOfWork struct {
	Messages *MemoryMessageStore
	Mentions mentions.Store
}

var _ chat.UnitOfWork = (*MemoryUnitOfWork)(nil)

// InTx implements chat.UnitOfWork.
func (u *MemoryUnitOfWork) InTx(_ context.Context, fn func(msgs chat.MessageStore, store mentions.Store) error) error {
	return fn(u.Messages, u.Mentions)
}
