// Package snapshot persists named versions of room content and restores
// them. Stores hold the durable records; the Manager ties a store to a
// live document so saves and reverts flow through the same replication
// path as ordinary edits.
package snapshot

import (
	"context"
	"errors"
	"time"
)

// Common errors.
var (
	// ErrNotFound is returned when the requested snapshot does not exist.
	ErrNotFound = errors.New("snapshot not found")

	// ErrStorage wraps backend failures so callers can distinguish
	// transient storage trouble from missing records.
	ErrStorage = errors.New("snapshot storage error")
)

// Snapshot is a point-in-time capture of a room's content.
type Snapshot struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// EventKind classifies a change observed on a store.
type EventKind string

// Change feed event kinds.
const (
	EventSaved   EventKind = "saved"
	EventDeleted EventKind = "deleted"
)

// Event is one change on a room's snapshot set.
type Event struct {
	Kind     EventKind
	Snapshot Snapshot
}

// Store persists snapshots. Implementations can be in-memory, backed by
// Postgres, or a cache layered over either.
type Store interface {
	// Save persists the snapshot. The store assigns ID and CreatedAt if
	// they are zero.
	Save(ctx context.Context, snap *Snapshot) error

	// Get retrieves one snapshot by ID.
	// Returns ErrNotFound if it does not exist.
	Get(ctx context.Context, id string) (Snapshot, error)

	// List returns all snapshots for a room, newest first.
	List(ctx context.Context, roomID string) ([]Snapshot, error)

	// Delete removes a snapshot by ID.
	// Returns ErrNotFound if it does not exist.
	Delete(ctx context.Context, id string) error

	// Watch emits an event for every change to the room's snapshots
	// until ctx is cancelled. The returned channel is closed on cancel.
	Watch(ctx context.Context, roomID string) (<-chan Event, error)
}
