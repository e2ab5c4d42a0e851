// Package mentionstest provides in-memory implementations of the mentions
// interfaces for tests.
package mentionstest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	pferrors "github.com/otherjamesbrown/penf-chat/pkg/errors"
	"github.com/otherjamesbrown/penf-chat/pkg/mentions"
)

// MemoryStore is a goroutine-safe mentions.Store.
type MemoryStore struct {
	mu       sync.Mutex
	mentions map[string]*mentions.Mention
	clock    time.Time

	// CreateErr, when set, is returned (wrapped in ErrPersistence) by Create.
	CreateErr error
}

var _ mentions.Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mentions: make(map[string]*mentions.Mention),
		clock:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Create records a pending mention. CreatedAt strictly increases per call.
func (s *MemoryStore) Create(_ context.Context, messageID, entityID string, scope mentions.Scope) (*mentions.Mention, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.CreateErr != nil {
		return nil, fmt.Errorf("creating mention: %w: %w", pferrors.ErrPersistence, s.CreateErr)
	}

	s.clock = s.clock.Add(time.Millisecond)
	m := &mentions.Mention{
		ID:        uuid.NewString(),
		MessageID: messageID,
		EntityID:  entityID,
		Scope:     scope,
		CreatedAt: s.clock,
	}
	s.mentions[m.ID] = m
	out := *m
	return &out, nil
}

// Get returns a copy of the mention.
func (s *MemoryStore) Get(_ context.Context, id string) (*mentions.Mention, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.mentions[id]
	if !ok {
		return nil, fmt.Errorf("mention %s: %w", id, pferrors.ErrNotFound)
	}
	out := *m
	return &out, nil
}

// MarkResponded moves a pending mention to responded.
func (s *MemoryStore) MarkResponded(_ context.Context, id, responseMessageID string) (*mentions.Mention, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.pendingLocked(id)
	if err != nil {
		return nil, err
	}
	now := s.clock
	m.Responded = true
	m.RespondedAt = &now
	m.ResponseMessageID = &responseMessageID
	out := *m
	return &out, nil
}

// MarkError moves a pending mention to errored.
func (s *MemoryStore) MarkError(_ context.Context, id, message string) (*mentions.Mention, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.pendingLocked(id)
	if err != nil {
		return nil, err
	}
	m.Error = &message
	out := *m
	return &out, nil
}

// ListPending returns entityID's pending mentions, oldest first.
func (s *MemoryStore) ListPending(_ context.Context, entityID string) ([]mentions.Mention, error) {
	return s.filter(func(m *mentions.Mention) bool {
		return m.EntityID == entityID && m.IsPending()
	}), nil
}

// ListPendingEntities returns entities with pending mentions, by oldest mention.
func (s *MemoryStore) ListPendingEntities(_ context.Context) ([]string, error) {
	var ids []string
	seen := make(map[string]struct{})
	for _, m := range s.filter(func(m *mentions.Mention) bool { return m.IsPending() }) {
		if _, ok := seen[m.EntityID]; ok {
			continue
		}
		seen[m.EntityID] = struct{}{}
		ids = append(ids, m.EntityID)
	}
	return ids, nil
}

// ListForMessage returns messageID's mentions in creation order.
func (s *MemoryStore) ListForMessage(_ context.Context, messageID string) ([]mentions.Mention, error) {
	return s.filter(func(m *mentions.Mention) bool { return m.MessageID == messageID }), nil
}

// List applies filter; results are newest first.
func (s *MemoryStore) List(_ context.Context, filter mentions.MentionFilter) ([]mentions.Mention, error) {
	out := s.filter(func(m *mentions.Mention) bool {
		if filter.MessageID != nil && m.MessageID != *filter.MessageID {
			return false
		}
		if filter.EntityID != nil && m.EntityID != *filter.EntityID {
			return false
		}
		if filter.Status != nil && m.Status() != *filter.Status {
			return false
		}
		return true
	})
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Delete removes a mention.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mentions[id]; !ok {
		return fmt.Errorf("mention %s: %w", id, pferrors.ErrNotFound)
	}
	delete(s.mentions, id)
	return nil
}

// DeleteForMessage removes all of messageID's mentions.
func (s *MemoryStore) DeleteForMessage(_ context.Context, messageID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, m := range s.mentions {
		if m.MessageID == messageID {
			delete(s.mentions, id)
			n++
		}
	}
	return n, nil
}

// All returns every mention in creation order.
func (s *MemoryStore) All() []mentions.Mention {
	return s.filter(func(*mentions.Mention) bool { return true })
}

func (s *MemoryStore) pendingLocked(id string) (*mentions.Mention, error) {
	m, ok := s.mentions[id]
	if !ok {
		return nil, fmt.Errorf("mention %s: %w", id, pferrors.ErrNotFound)
	}
	if !m.IsPending() {
		return nil, fmt.Errorf("mention %s already terminal: %w", id, pferrors.ErrInvalidState)
	}
	return m, nil
}

func (s *MemoryStore) filter(keep func(*mentions.Mention) bool) []mentions.Mention {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []mentions.Mention
	for _, m := range s.mentions {
		if keep(m) {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// MemoryDirectory is a mentions.Directory over a fixed set of clones.
// Name lookups are case-insensitive.
type MemoryDirectory struct {
	mu       sync.RWMutex
	entities map[string]*mentions.Entity

	// Err, when set, is returned by every lookup.
	Err error
}

var _ mentions.Directory = (*MemoryDirectory)(nil)

// NewMemoryDirectory returns a directory holding entities.
func NewMemoryDirectory(entities ...mentions.Entity) *MemoryDirectory {
	d := &MemoryDirectory{entities: make(map[string]*mentions.Entity)}
	for _, e := range entities {
		d.Add(e)
	}
	return d
}

// Add inserts or replaces a clone.
func (d *MemoryDirectory) Add(e mentions.Entity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entities[e.ID] = &e
}

// Remove deletes a clone.
func (d *MemoryDirectory) Remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entities, id)
}

// GetByID returns the clone with id.
func (d *MemoryDirectory) GetByID(_ context.Context, id string) (*mentions.Entity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.Err != nil {
		return nil, d.Err
	}
	if e, ok := d.entities[id]; ok {
		out := *e
		return &out, nil
	}
	return nil, nil
}

// FindByName returns the clone named name owned by workspaceID.
func (d *MemoryDirectory) FindByName(_ context.Context, name, workspaceID string) (*mentions.Entity, error) {
	return d.find(name, func(e *mentions.Entity) bool { return e.OwnedBy(workspaceID) })
}

// FindGlobalByName returns the unowned clone named name.
func (d *MemoryDirectory) FindGlobalByName(_ context.Context, name string) (*mentions.Entity, error) {
	return d.find(name, func(e *mentions.Entity) bool { return e.IsGlobal() })
}

func (d *MemoryDirectory) find(name string, match func(*mentions.Entity) bool) (*mentions.Entity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.Err != nil {
		return nil, d.Err
	}
	for _, e := range d.entities {
		if strings.EqualFold(e.Name, name) && match(e) {
			out := *e
			return &out, nil
		}
	}
	return nil, nil
}

// MemoryLocker is a non-blocking per-key lock shared by every processor
// given the same instance, standing in for a database advisory lock.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]bool

	// Refused counts TryLock calls that found the key held.
	Refused int
}

// NewMemoryLocker returns a locker with nothing held.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]bool)}
}

// TryLock takes key if it is free.
func (l *MemoryLocker) TryLock(_ context.Context, key string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[key] {
		l.Refused++
		return nil, false, nil
	}
	l.held[key] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, true, nil
}

// Held reports whether key is currently locked.
func (l *MemoryLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[key]
}
