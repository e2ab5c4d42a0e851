package directory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/penf-chat/pkg/mentions"
	"github.com/otherjamesbrown/penf-chat/pkg/mentions/mentionstest"
)

type countingDirectory struct {
	mentions.Directory
	calls atomic.Int64
}

func (c *countingDirectory) GetByID(ctx context.Context, id string) (*mentions.Entity, error) {
	c.calls.Add(1)
	return c.Directory.GetByID(ctx, id)
}

func (c *countingDirectory) FindByName(ctx context.Context, name, workspaceID string) (*mentions.Entity, error) {
	c.calls.Add(1)
	return c.Directory.FindByName(ctx, name, workspaceID)
}

func (c *countingDirectory) FindGlobalByName(ctx context.Context, name string) (*mentions.Entity, error) {
	c.calls.Add(1)
	return c.Directory.FindGlobalByName(ctx, name)
}

func newCounting(entities ...mentions.Entity) (*countingDirectory, *mentionstest.MemoryDirectory) {
	mem := mentionstest.NewMemoryDirectory(entities...)
	return &countingDirectory{Directory: mem}, mem
}

func TestCached_HitsSkipBackend(t *testing.T) {
	ws := "ws-1"
	backend, _ := newCounting(
		mentions.Entity{ID: "h1", Name: "Helper", WorkspaceID: &ws},
	)
	c, err := NewCached(backend, DefaultCacheConfig())
	require.NoError(t, err)
	ctx := context.Background()

	for _, name := range []string{"Helper", "helper", "HELPER"} {
		e, err := c.FindByName(ctx, name, ws)
		require.NoError(t, err)
		require.NotNil(t, e)
		assert.Equal(t, "h1", e.ID)
	}
	assert.Equal(t, int64(1), backend.calls.Load())

	_, err = c.GetByID(ctx, "h1")
	require.NoError(t, err)
	_, err = c.GetByID(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), backend.calls.Load(), "id lookups read through")
	assert.Equal(t, 1, c.Len())
}

func TestCached_GetByIDSeesVisibilityChange(t *testing.T) {
	ws, other := "ws-1", "ws-2"
	backend, mem := newCounting(mentions.Entity{ID: "h1", Name: "Helper", Visibility: mentions.VisibilityGlobal})
	c, err := NewCached(backend, DefaultCacheConfig())
	require.NoError(t, err)
	r := mentions.NewResolver(c, nil)
	ctx := context.Background()

	res := r.Resolve(ctx, mentions.Extract("@Helper[id:h1]")[0], other)
	require.True(t, res.OK())

	mem.Add(mentions.Entity{ID: "h1", Name: "Helper", WorkspaceID: &ws, Visibility: mentions.VisibilityPrivate})

	res = r.Resolve(ctx, mentions.Extract("@Helper[id:h1]")[0], other)
	assert.False(t, res.OK(), "a clone made private must stop resolving across workspaces")
}

func TestCached_MissesNotCached(t *testing.T) {
	backend, mem := newCounting()
	c, err := NewCached(backend, DefaultCacheConfig())
	require.NoError(t, err)
	ctx := context.Background()

	e, err := c.FindGlobalByName(ctx, "Bot")
	require.NoError(t, err)
	assert.Nil(t, e)

	mem.Add(mentions.Entity{ID: "b1", Name: "Bot", Visibility: mentions.VisibilityGlobal})

	e, err = c.FindGlobalByName(ctx, "Bot")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "b1", e.ID)
	assert.Equal(t, int64(2), backend.calls.Load())
}

func TestCached_ErrorsNotCached(t *testing.T) {
	backend, mem := newCounting(mentions.Entity{ID: "b1", Name: "Bot"})
	c, err := NewCached(backend, DefaultCacheConfig())
	require.NoError(t, err)
	ctx := context.Background()

	mem.Err = errors.New("db down")
	_, err = c.GetByID(ctx, "b1")
	require.Error(t, err)

	mem.Err = nil
	e, err := c.GetByID(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "b1", e.ID)
}

func TestCached_TTLExpiry(t *testing.T) {
	backend, _ := newCounting(mentions.Entity{ID: "b1", Name: "Bot"})
	c, err := NewCached(backend, CacheConfig{Size: 8, TTL: time.Minute})
	require.NoError(t, err)

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_, err = c.FindGlobalByName(ctx, "Bot")
	require.NoError(t, err)
	_, err = c.FindGlobalByName(ctx, "Bot")
	require.NoError(t, err)
	assert.Equal(t, int64(1), backend.calls.Load())

	now = now.Add(2 * time.Minute)
	_, err = c.FindGlobalByName(ctx, "Bot")
	require.NoError(t, err)
	assert.Equal(t, int64(2), backend.calls.Load())
}

func TestCached_Invalidate(t *testing.T) {
	backend, _ := newCounting(mentions.Entity{ID: "b1", Name: "Bot"})
	c, err := NewCached(backend, DefaultCacheConfig())
	require.NoError(t, err)

	_, err = c.FindGlobalByName(context.Background(), "Bot")
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())

	c.Invalidate()
	assert.Equal(t, 0, c.Len())
}

func TestCached_WithResolver(t *testing.T) {
	ws := "ws-1"
	backend, _ := newCounting(
		mentions.Entity{ID: "bot-ws", Name: "Bot", WorkspaceID: &ws},
		mentions.Entity{ID: "bot-global", Name: "Bot"},
	)
	c, err := NewCached(backend, DefaultCacheConfig())
	require.NoError(t, err)

	r := mentions.NewResolver(c, nil)
	for i := 0; i < 3; i++ {
		res := r.Resolve(context.Background(), mentions.Extract("@bot")[0], ws)
		require.True(t, res.OK())
		assert.Equal(t, "bot-ws", res.Mention.EntityID)
	}
	assert.Equal(t, int64(1), backend.calls.Load())
}
