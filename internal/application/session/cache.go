package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/basecamp-labs/progress-hub/internal/domain/progress"
	"github.com/basecamp-labs/progress-hub/pkg/logger"
)

// Cache is the in-memory mirror of module flags per identity, backed by the
// persisted progress_snapshot key.
//
// Every mutation is persisted while the lock is held, so the stored snapshot
// never goes backwards.
type Cache struct {
	mu        sync.Mutex
	state     *LocalState
	catalog   *progress.Catalog
	snapshots map[progress.Identity]*progress.Snapshot
	logger    *slog.Logger
}

// NewCache creates an empty cache.
func NewCache(state *LocalState, catalog *progress.Catalog, l *slog.Logger) *Cache {
	return &Cache{
		state:     state,
		catalog:   catalog,
		snapshots: make(map[progress.Identity]*progress.Snapshot),
		logger:    logger.OrDefault(l).With(logger.Component("cache")),
	}
}

// Get returns a copy of the identity's snapshot.
func (c *Cache) Get(ctx context.Context, id progress.Identity) *progress.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(ctx, id).Clone()
}

// SetOptimistic marks the module complete before the remote store confirms.
// It returns false when the module was already confirmed.
func (c *Cache) SetOptimistic(ctx context.Context, id progress.Identity, m progress.ModuleName) (bool, error) {
	if err := c.catalog.ValidateModule(m); err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.load(ctx, id)
	if !snap.SetOptimistic(m) {
		return false, nil
	}
	c.persist(ctx, snap)
	return true, nil
}

// Confirm records a successful remote write.
func (c *Cache) Confirm(ctx context.Context, id progress.Identity, m progress.ModuleName) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.load(ctx, id)
	snap.Confirm(m)
	c.persist(ctx, snap)
}

// Merge folds a remote flag set into the cache and returns the merged
// snapshot along with any modules it newly shows as complete.
func (c *Cache) Merge(ctx context.Context, remote progress.RemoteProgress) (*progress.Snapshot, []progress.ModuleName) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.load(ctx, remote.Identity)
	gained := snap.Merge(remote.Normalize(c.catalog))
	c.persist(ctx, snap)
	return snap.Clone(), gained
}

// Forget drops the in-memory snapshot for the identity.
func (c *Cache) Forget(id progress.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snapshots, id)
}

// load returns the live snapshot, reading persisted state on first access.
// Caller must hold c.mu.
func (c *Cache) load(ctx context.Context, id progress.Identity) *progress.Snapshot {
	if snap, ok := c.snapshots[id]; ok {
		return snap
	}

	snap, err := c.state.LoadSnapshot(ctx, id)
	if err != nil {
		c.logger.Warn("persisted snapshot unreadable, starting empty",
			logger.Identity(id.Short()),
			logger.Err(err),
		)
	}
	if snap == nil {
		snap = progress.NewSnapshot(id)
	}
	c.snapshots[id] = snap
	return snap
}

// persist writes the snapshot. Caller must hold c.mu.
func (c *Cache) persist(ctx context.Context, snap *progress.Snapshot) {
	if err := c.state.SaveSnapshot(context.WithoutCancel(ctx), snap); err != nil {
		c.logger.Warn("failed to persist snapshot",
			logger.Identity(snap.Identity.Short()),
			logger.Err(err),
		)
	}
}
