package snapshot

import (
	"context"
	"sync"
)

// CachedStore layers an in-memory cache over a backing Store. Writes go
// through to the backing store; reads are served from cache when
// possible. Watch passes the backing store's feed through and uses it to
// invalidate cached listings touched by other processes.
type CachedStore struct {
	backing Store

	mu    sync.Mutex
	snaps map[string]Snapshot
	lists map[string][]Snapshot
}

// NewCachedStore creates a cache over backing.
func NewCachedStore(backing Store) *CachedStore {
	return &CachedStore{
		backing: backing,
		snaps:   make(map[string]Snapshot),
		lists:   make(map[string][]Snapshot),
	}
}

// Save writes through to the backing store and caches the result.
func (c *CachedStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := c.backing.Save(ctx, snap); err != nil {
		return err
	}

	c.mu.Lock()
	c.snaps[snap.ID] = *snap
	delete(c.lists, snap.RoomID)
	c.mu.Unlock()

	return nil
}

// Get serves from cache, falling back to the backing store on a miss.
func (c *CachedStore) Get(ctx context.Context, id string) (Snapshot, error) {
	c.mu.Lock()
	snap, ok := c.snaps[id]
	c.mu.Unlock()

	if ok {
		return snap, nil
	}

	snap, err := c.backing.Get(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}

	c.mu.Lock()
	c.snaps[id] = snap
	c.mu.Unlock()

	return snap, nil
}

// List serves the room's listing from cache when present.
func (c *CachedStore) List(ctx context.Context, roomID string) ([]Snapshot, error) {
	c.mu.Lock()
	cached, ok := c.lists[roomID]
	c.mu.Unlock()

	if ok {
		result := make([]Snapshot, len(cached))
		copy(result, cached)

		return result, nil
	}

	snaps, err := c.backing.List(ctx, roomID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.lists[roomID] = snaps

	for _, snap := range snaps {
		c.snaps[snap.ID] = snap
	}
	c.mu.Unlock()

	result := make([]Snapshot, len(snaps))
	copy(result, snaps)

	return result, nil
}

// Delete writes through and evicts.
func (c *CachedStore) Delete(ctx context.Context, id string) error {
	err := c.backing.Delete(ctx, id)

	// Evict even on ErrNotFound so the cache cannot resurrect a record
	// another process already removed.
	c.mu.Lock()

	if snap, ok := c.snaps[id]; ok {
		delete(c.snaps, id)
		delete(c.lists, snap.RoomID)
	}

	c.mu.Unlock()

	return err
}

// Watch passes the backing feed through, invalidating cached state as
// events arrive so later reads observe other writers.
func (c *CachedStore) Watch(ctx context.Context, roomID string) (<-chan Event, error) {
	in, err := c.backing.Watch(ctx, roomID)
	if err != nil {
		return nil, err
	}

	out := make(chan Event, 16)

	go func() {
		defer close(out)

		for ev := range in {
			c.mu.Lock()
			delete(c.lists, ev.Snapshot.RoomID)

			if ev.Kind == EventDeleted {
				delete(c.snaps, ev.Snapshot.ID)
			}
			c.mu.Unlock()

			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Ensure CachedStore implements Store.
var _ Store = (*CachedStore)(nil)
