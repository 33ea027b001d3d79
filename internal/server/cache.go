package server

import (
	"context"
	"sync"
	"time"

	"github.com/mj1618/support-roster/internal/model"
	"github.com/mj1618/support-roster/internal/platform"
)

// SnapshotCache wraps a SnapshotSource and reuses the last enumeration for
// ttl. A ttl of 0 disables caching.
type SnapshotCache struct {
	src platform.SnapshotSource
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	windows []model.RawWindow
	taken   time.Time
	valid   bool
}

// NewSnapshotCache creates a new cache in front of src.
func NewSnapshotCache(src platform.SnapshotSource, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{src: src, ttl: ttl, now: time.Now}
}

// Detect returns the cached windows if within TTL, otherwise enumerates
// fresh. Errors are never cached.
func (c *SnapshotCache) Detect(ctx context.Context) ([]model.RawWindow, error) {
	if c.ttl == 0 {
		return c.src.Detect(ctx)
	}

	c.mu.Lock()
	if c.valid && c.now().Sub(c.taken) < c.ttl {
		windows := c.windows
		c.mu.Unlock()
		return windows, nil
	}
	c.mu.Unlock()

	windows, err := c.src.Detect(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.windows, c.taken, c.valid = windows, c.now(), true
	c.mu.Unlock()
	return windows, nil
}

// Invalidate drops the cached enumeration.
func (c *SnapshotCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.windows, c.valid = nil, false
}
