package snapshot

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
)

// MemoryStore is an in-memory implementation of the Store interface.
// Useful for testing and for running without a database.
type MemoryStore struct {
	mu       sync.RWMutex
	snaps    map[string]Snapshot
	watchers map[int]*watcher
	nextID   int
}

type watcher struct {
	roomID string
	ch     chan Event
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snaps:    make(map[string]Snapshot),
		watchers: make(map[int]*watcher),
	}
}

// Save persists the snapshot, assigning ID and CreatedAt when unset.
func (m *MemoryStore) Save(_ context.Context, snap *Snapshot) error {
	if snap.ID == "" {
		snap.ID = ksuid.New().String()
	}

	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now()
	}

	m.mu.Lock()
	m.snaps[snap.ID] = *snap
	m.mu.Unlock()

	m.notify(Event{Kind: EventSaved, Snapshot: *snap})

	return nil
}

// Get retrieves one snapshot by ID.
func (m *MemoryStore) Get(_ context.Context, id string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, ok := m.snaps[id]
	if !ok {
		return Snapshot{}, ErrNotFound
	}

	return snap, nil
}

// List returns all snapshots for a room, newest first.
func (m *MemoryStore) List(_ context.Context, roomID string) ([]Snapshot, error) {
	m.mu.RLock()

	result := make([]Snapshot, 0)

	for _, snap := range m.snaps {
		if snap.RoomID == roomID {
			result = append(result, snap)
		}
	}

	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}

		// ksuids are time-ordered, so this keeps same-instant saves stable.
		return result[i].ID > result[j].ID
	})

	return result, nil
}

// Delete removes a snapshot by ID.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()

	snap, ok := m.snaps[id]
	if !ok {
		m.mu.Unlock()

		return ErrNotFound
	}

	delete(m.snaps, id)
	m.mu.Unlock()

	m.notify(Event{Kind: EventDeleted, Snapshot: snap})

	return nil
}

// Watch emits an event for every change to the room's snapshots.
func (m *MemoryStore) Watch(ctx context.Context, roomID string) (<-chan Event, error) {
	w := &watcher{roomID: roomID, ch: make(chan Event, 16)}

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.watchers[id] = w
	m.mu.Unlock()

	go func() {
		<-ctx.Done()

		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()

		close(w.ch)
	}()

	return w.ch, nil
}

func (m *MemoryStore) notify(ev Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, w := range m.watchers {
		if w.roomID != ev.Snapshot.RoomID {
			continue
		}

		select {
		case w.ch <- ev:
		default:
			// Watcher is not keeping up; drop rather than block saves.
		}
	}
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
