package hlscache

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/jmylchreest/mediahls/internal/source"
)

// BuildFunc runs the full preparation pipeline for a media file identity and
// returns the resulting PreparedMedia. Callers supply this so Cache stays
// independent of how a source file is opened (tests can substitute a fake).
type BuildFunc func(ctx context.Context, mediaFileID string, identity source.Identity) (*PreparedMedia, error)

// Cache is an in-memory map in front of the persistent Repository, with a
// single-flight barrier deduplicating concurrent builds for the same
// uncached key. The barrier is an optimization, not a correctness
// requirement: the artifact is content-deterministic, so last write wins.
type Cache struct {
	mu   sync.RWMutex
	hot  map[string]*PreparedMedia
	repo *Repository
	sf   singleflight.Group

	// OnStore, if set, is called whenever an entry is added to the hot map
	// (after a repo hit or a fresh build). The Sweeper hooks in here to
	// track insertion order without Cache depending on it directly.
	OnStore func(mediaFileID string)
}

// NewCache constructs an empty Cache backed by repo.
func NewCache(repo *Repository) *Cache {
	return &Cache{hot: make(map[string]*PreparedMedia), repo: repo}
}

// GetOrBuild returns the PreparedMedia for mediaFileID, building it via
// build if neither the in-memory map nor the persistent store has it yet.
func (c *Cache) GetOrBuild(ctx context.Context, mediaFileID string, identity source.Identity, build BuildFunc) (*PreparedMedia, error) {
	if pm, ok := c.lookupHot(mediaFileID); ok {
		return pm, nil
	}

	result, err, _ := c.sf.Do(mediaFileID, func() (interface{}, error) {
		if pm, ok := c.lookupHot(mediaFileID); ok {
			return pm, nil
		}

		if pm, found, err := c.repo.Get(ctx, mediaFileID); err == nil && found {
			c.storeHot(mediaFileID, pm)
			return pm, nil
		}
		// A decode failure or a missing row both fall through to a fresh
		// build; a corrupt blob must be recoverable, not fatal.

		pm, err := build(ctx, mediaFileID, identity)
		if err != nil {
			return nil, err
		}
		if err := c.repo.Put(ctx, pm); err != nil {
			return nil, err
		}
		c.storeHot(mediaFileID, pm)
		return pm, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*PreparedMedia), nil
}

// Invalidate drops mediaFileID from both the in-memory map and the
// persistent store. Callers invoke it after any file-mutating operation;
// the cache never polls source-file mtimes itself.
func (c *Cache) Invalidate(ctx context.Context, mediaFileID string) error {
	c.mu.Lock()
	delete(c.hot, mediaFileID)
	c.mu.Unlock()
	return c.repo.Delete(ctx, mediaFileID)
}

// Forget drops mediaFileID from the in-memory map only, leaving the
// persisted blob intact. Used by the Sweeper to bound memory without
// forcing a rebuild on the next request.
func (c *Cache) Forget(mediaFileID string) {
	c.mu.Lock()
	delete(c.hot, mediaFileID)
	c.mu.Unlock()
}

// Len reports how many entries are currently held in memory.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.hot)
}

func (c *Cache) lookupHot(mediaFileID string) (*PreparedMedia, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pm, ok := c.hot[mediaFileID]
	return pm, ok
}

func (c *Cache) storeHot(mediaFileID string, pm *PreparedMedia) {
	c.mu.Lock()
	c.hot[mediaFileID] = pm
	c.mu.Unlock()
	if c.OnStore != nil {
		c.OnStore(mediaFileID)
	}
}
