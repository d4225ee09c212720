package snapshot_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/collabcode/collabsync/internal/snapshot"
)

// countingStore wraps a Store and counts reads against the backing.
type countingStore struct {
	snapshot.Store

	gets  atomic.Int64
	lists atomic.Int64
}

func (c *countingStore) Get(ctx context.Context, id string) (snapshot.Snapshot, error) {
	c.gets.Add(1)

	return c.Store.Get(ctx, id)
}

func (c *countingStore) List(ctx context.Context, roomID string) ([]snapshot.Snapshot, error) {
	c.lists.Add(1)

	return c.Store.List(ctx, roomID)
}

func TestCachedStore_GetServedFromCacheAfterSave(t *testing.T) {
	t.Parallel()

	backing := &countingStore{Store: snapshot.NewMemoryStore()}
	cached := snapshot.NewCachedStore(backing)

	snap := snapshot.Snapshot{RoomID: "r1", Name: "v1", Content: "hello"}
	require.NoError(t, cached.Save(context.Background(), &snap))

	got, err := cached.Get(context.Background(), snap.ID)
	require.NoError(t, err)
	require.Equal(t, "hello", got.Content)
	require.EqualValues(t, 0, backing.gets.Load(), "write-through save should warm the cache")
}

func TestCachedStore_GetFallsBackOnMiss(t *testing.T) {
	t.Parallel()

	backing := &countingStore{Store: snapshot.NewMemoryStore()}

	snap := snapshot.Snapshot{RoomID: "r1", Name: "v1"}
	require.NoError(t, backing.Save(context.Background(), &snap))

	cached := snapshot.NewCachedStore(backing)

	_, err := cached.Get(context.Background(), snap.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, backing.gets.Load())

	_, err = cached.Get(context.Background(), snap.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, backing.gets.Load(), "second read should hit the cache")
}

func TestCachedStore_ListCachedUntilWrite(t *testing.T) {
	t.Parallel()

	backing := &countingStore{Store: snapshot.NewMemoryStore()}
	cached := snapshot.NewCachedStore(backing)

	snap := snapshot.Snapshot{RoomID: "r1", Name: "v1"}
	require.NoError(t, cached.Save(context.Background(), &snap))

	_, err := cached.List(context.Background(), "r1")
	require.NoError(t, err)

	_, err = cached.List(context.Background(), "r1")
	require.NoError(t, err)
	require.EqualValues(t, 1, backing.lists.Load())

	// A write invalidates the listing.
	second := snapshot.Snapshot{RoomID: "r1", Name: "v2"}
	require.NoError(t, cached.Save(context.Background(), &second))

	snaps, err := cached.List(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	require.EqualValues(t, 2, backing.lists.Load())
}

// Cancelling a watch must release the forwarding goroutine and close the
// channel even when the consumer stopped reading with events pending.
func TestCachedStore_WatchReleasedOnCancel(t *testing.T) {
	t.Parallel()

	backing := snapshot.NewMemoryStore()
	cached := snapshot.NewCachedStore(backing)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := cached.Watch(ctx, "r1")
	require.NoError(t, err)

	// Produce more events than the channel buffers while nobody reads,
	// so the forwarder is blocked on a send when the cancel lands.
	for i := 0; i < 40; i++ {
		snap := snapshot.Snapshot{RoomID: "r1", Name: "v"}
		require.NoError(t, cached.Save(context.Background(), &snap))
	}

	cancel()

	require.Eventually(t, func() bool {
		for {
			select {
			case _, open := <-events:
				if !open {
					return true
				}
			default:
				return false
			}
		}
	}, time.Second, 10*time.Millisecond)
}

func TestCachedStore_DeleteEvicts(t *testing.T) {
	t.Parallel()

	backing := &countingStore{Store: snapshot.NewMemoryStore()}
	cached := snapshot.NewCachedStore(backing)

	snap := snapshot.Snapshot{RoomID: "r1", Name: "v1"}
	require.NoError(t, cached.Save(context.Background(), &snap))
	require.NoError(t, cached.Delete(context.Background(), snap.ID))

	_, err := cached.Get(context.Background(), snap.ID)
	require.ErrorIs(t, err, snapshot.ErrNotFound)
}
