package directory

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/cases"

	"github.com/otherjamesbrown/penf-chat/pkg/mentions"
)

const (
	defaultCacheSize = 1024
	defaultCacheTTL  = 30 * time.Second
)

// CacheConfig configures a Cached directory.
type CacheConfig struct {
	Size int           `yaml:"cache_size"`
	TTL  time.Duration `yaml:"cache_ttl"`
}

// DefaultCacheConfig returns the default cache settings.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{Size: defaultCacheSize, TTL: defaultCacheTTL}
}

type cacheEntry struct {
	entity   mentions.Entity
	storedAt time.Time
}

// Cached wraps a Directory with an LRU of recent name hits. Misses and errors
// are never cached, so a newly created clone is visible on the next lookup.
// GetByID always reads through: explicit-id visibility checks and base
// prompts must see a clone's current workspace and visibility.
type Cached struct {
	next  mentions.Directory
	cache *lru.Cache[string, cacheEntry]
	ttl   time.Duration
	now   func() time.Time
}

var _ mentions.Directory = (*Cached)(nil)

// NewCached wraps next. Zero config values fall back to the defaults.
func NewCached(next mentions.Directory, cfg CacheConfig) (*Cached, error) {
	if cfg.Size <= 0 {
		cfg.Size = defaultCacheSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultCacheTTL
	}

	cache, err := lru.New[string, cacheEntry](cfg.Size)
	if err != nil {
		return nil, err
	}
	return &Cached{
		next:  next,
		cache: cache,
		ttl:   cfg.TTL,
		now:   time.Now,
	}, nil
}

// GetByID implements mentions.Directory. It is never cached.
func (c *Cached) GetByID(ctx context.Context, id string) (*mentions.Entity, error) {
	return c.next.GetByID(ctx, id)
}

// FindByName implements mentions.Directory.
func (c *Cached) FindByName(ctx context.Context, name, workspaceID string) (*mentions.Entity, error) {
	return c.lookup("ws:"+workspaceID+":"+foldName(name), func() (*mentions.Entity, error) {
		return c.next.FindByName(ctx, name, workspaceID)
	})
}

// FindGlobalByName implements mentions.Directory.
func (c *Cached) FindGlobalByName(ctx context.Context, name string) (*mentions.Entity, error) {
	return c.lookup("global:"+foldName(name), func() (*mentions.Entity, error) {
		return c.next.FindGlobalByName(ctx, name)
	})
}

// Invalidate drops every cached entry. Call it after clones change; in a
// multi-replica deployment every replica must be told (see events).
func (c *Cached) Invalidate() {
	c.cache.Purge()
}

// Len returns the number of cached entries.
func (c *Cached) Len() int {
	return c.cache.Len()
}

func (c *Cached) lookup(key string, load func() (*mentions.Entity, error)) (*mentions.Entity, error) {
	if entry, ok := c.cache.Get(key); ok {
		if c.now().Sub(entry.storedAt) < c.ttl {
			e := entry.entity
			return &e, nil
		}
		c.cache.Remove(key)
	}

	e, err := load()
	if err != nil || e == nil {
		return e, err
	}
	c.cache.Add(key, cacheEntry{entity: *e, storedAt: c.now()})
	return e, nil
}

// foldName returns the case-folded cache key for a clone name.
func foldName(name string) string {
	return cases.Fold().String(name)
}
