package hlscache

import (
	"context"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically bounds the in-memory hot set to MaxEntries by
// evicting the oldest-inserted entries beyond that bound. It never touches the
// persistent store — an evicted entry is simply reloaded (or, if its blob
// was also removed, rebuilt) on its next request.
type Sweeper struct {
	cache      *Cache
	maxEntries int
	logger     *slog.Logger

	mu    sync.Mutex
	order []string

	cronSched *cron.Cron
}

// NewSweeper constructs a Sweeper bounding cache to maxEntries in-memory
// entries. maxEntries <= 0 disables eviction entirely.
func NewSweeper(cache *Cache, maxEntries int, logger *slog.Logger) *Sweeper {
	return &Sweeper{cache: cache, maxEntries: maxEntries, logger: logger}
}

// Track records that mediaFileID was just inserted into the hot set, so the
// sweep can evict it in insertion order once the bound is exceeded. Cache
// callers invoke this after a successful GetOrBuild.
func (s *Sweeper) Track(mediaFileID string) {
	if s.maxEntries <= 0 {
		return
	}
	s.mu.Lock()
	s.order = append(s.order, mediaFileID)
	s.mu.Unlock()
}

// Sweep evicts entries beyond maxEntries, oldest first.
func (s *Sweeper) Sweep() {
	if s.maxEntries <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.cache.Len() > s.maxEntries && len(s.order) > 0 {
		oldest := s.order[0]
		s.order = s.order[1:]
		s.cache.Forget(oldest)
		if s.logger != nil {
			s.logger.Debug("evicted prepared media from hot cache", "media_file_id", oldest)
		}
	}
}

// Start schedules Sweep to run on the given cron expression (e.g.
// "@every 5m"), returning the running *cron.Cron so the caller can Stop it
// on shutdown.
func (s *Sweeper) Start(_ context.Context, schedule string) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(schedule, s.Sweep); err != nil {
		return nil, err
	}
	c.Start()
	s.cronSched = c
	return c, nil
}

// Stop halts the scheduled sweep, if one was started.
func (s *Sweeper) Stop() {
	if s.cronSched != nil {
		s.cronSched.Stop()
	}
}
