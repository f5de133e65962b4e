package schedule

import (
	"context"
	"errors"
	"sync"
	"time"

	appLog "actwaste/internal/log"
	"actwaste/internal/model"
)

// DefaultMinRefresh is how long a successful fetch stays fresh.
const DefaultMinRefresh = 6 * time.Hour

// ErrEmptyResult is recorded when the upstream source returns no records.
var ErrEmptyResult = errors.New("upstream returned no records")

// Cache holds the latest schedule record for one suburb and refreshes it
// at most once per minimum interval. All sensors of a suburb share one
// Cache so a refresh pass costs a single request.
type Cache struct {
	name       string
	suburb     string
	fetcher    Fetcher
	minRefresh time.Duration
	now        func() time.Time

	mu        sync.RWMutex
	record    model.Record
	lastFetch time.Time
	lastErr   error
}

// CacheOption customizes a Cache.
type CacheOption func(*Cache)

// WithMinRefresh overrides DefaultMinRefresh; d <= 0 is ignored.
func WithMinRefresh(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.minRefresh = d
		}
	}
}

// WithClock injects the time source, used by tests.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCache builds an empty cache for a suburb. The suburb is upper-cased.
func NewCache(name, suburb string, fetcher Fetcher, opts ...CacheOption) *Cache {
	c := &Cache{
		name:       name,
		suburb:     NormalizeSuburb(suburb),
		fetcher:    fetcher,
		minRefresh: DefaultMinRefresh,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) Name() string   { return c.name }
func (c *Cache) Suburb() string { return c.suburb }

// stale reports whether a fetch is due. Caller must hold c.mu.
func (c *Cache) stale(now time.Time) bool {
	if len(c.record) == 0 || c.lastFetch.IsZero() {
		return true
	}
	return now.Sub(c.lastFetch) > c.minRefresh
}

// RefreshIfStale fetches a new record when nothing is cached or the last
// successful fetch is older than the minimum interval. Failures and empty
// results clear the cache and leave the timestamp untouched so the next
// call tries again; they are logged, never returned.
func (c *Cache) RefreshIfStale(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.stale(c.now()) {
		return
	}

	records, err := c.fetcher.Fetch(ctx, c.suburb)
	switch {
	case err != nil:
		c.record = model.Record{}
		c.lastErr = err
		appLog.Error("failed to retrieve schedule", err, "name", c.name, "suburb", c.suburb)
	case len(records) == 0:
		c.record = model.Record{}
		c.lastErr = ErrEmptyResult
		appLog.Error("failed to retrieve schedule", ErrEmptyResult, "name", c.name, "suburb", c.suburb)
	default:
		c.record = records[0]
		c.lastFetch = c.now()
		c.lastErr = nil
		appLog.Info("retrieved new schedule", "name", c.name, "suburb", c.suburb)
	}
}

// Field returns the cached string value of f. It reports false when the
// cache is empty or the field is absent or null.
func (c *Cache) Field(f model.Field) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.record.String(f)
}

// Record returns a copy of the cached record, empty if nothing is cached.
func (c *Cache) Record() model.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.record.Clone()
}

// LastFetch is the time of the last successful, non-empty fetch.
func (c *Cache) LastFetch() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastFetch
}

// LastError is the error of the most recent fetch attempt, nil after a
// success or before any attempt.
func (c *Cache) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}
