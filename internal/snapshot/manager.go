package snapshot

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/collabcode/collabsync/internal/crdt"
)

// AutosaveName is the name given to snapshots taken by the autosave loop.
const AutosaveName = "autosave"

// Config configures a Manager.
type Config struct {
	// Doc is the live document whose content is captured and restored.
	Doc *crdt.Document

	// Store persists the snapshots.
	Store Store

	// RoomID scopes the snapshots.
	RoomID string

	// Send broadcasts the operations produced by a revert. May be nil
	// for an offline manager.
	Send func([]crdt.Operation)

	// AutosaveInterval enables periodic background saves when positive.
	AutosaveInterval time.Duration
}

// Manager captures and restores snapshots of one room's document.
// Reverts go through the document's replicated replace, so every
// connected peer converges on the restored content.
type Manager struct {
	doc    *crdt.Document
	store  Store
	roomID string
	send   func([]crdt.Operation)

	mu       sync.Mutex
	lastHash [sha256.Size]byte

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewManager creates a Manager and starts the autosave loop if an
// interval is configured.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		doc:    cfg.Doc,
		store:  cfg.Store,
		roomID: cfg.RoomID,
		send:   cfg.Send,
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	// Seed the hash so autosave only fires once something changes.
	m.lastHash = sha256.Sum256([]byte(cfg.Doc.Text()))

	if cfg.AutosaveInterval > 0 {
		go m.autosaveLoop(cfg.AutosaveInterval)
	} else {
		close(m.done)
	}

	return m
}

// Save captures the document's current content under the given name.
func (m *Manager) Save(ctx context.Context, name string) (Snapshot, error) {
	content := m.doc.Text()

	snap := Snapshot{
		RoomID:  m.roomID,
		Name:    name,
		Content: content,
	}

	if err := m.store.Save(ctx, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("save snapshot %q: %w", name, err)
	}

	m.mu.Lock()
	m.lastHash = sha256.Sum256([]byte(content))
	m.mu.Unlock()

	return snap, nil
}

// List returns the room's snapshots, newest first.
func (m *Manager) List(ctx context.Context) ([]Snapshot, error) {
	snaps, err := m.store.List(ctx, m.roomID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	return snaps, nil
}

// Delete removes a snapshot. Deleting a snapshot that is already gone is
// not an error, so concurrent deletes from two clients both succeed.
func (m *Manager) Delete(ctx context.Context, id string) error {
	err := m.store.Delete(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete snapshot %s: %w", id, err)
	}

	return nil
}

// Revert replaces the document's content with the snapshot's. The
// produced operations are broadcast so peers converge on the same text.
// If the snapshot cannot be fetched the document is left untouched.
func (m *Manager) Revert(ctx context.Context, id string) error {
	snap, err := m.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("revert to snapshot %s: %w", id, err)
	}

	ops := m.doc.ReplaceAll(snap.Content)
	if len(ops) > 0 && m.send != nil {
		m.send(ops)
	}

	return nil
}

// Watch exposes the store's change feed for this room.
func (m *Manager) Watch(ctx context.Context) (<-chan Event, error) {
	return m.store.Watch(ctx, m.roomID)
}

// Stop halts the autosave loop. Safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.quit) })
	<-m.done
}

// autosaveLoop periodically saves the document. Ticks where the content
// has not changed since the last save are skipped.
func (m *Manager) autosaveLoop(interval time.Duration) {
	defer close(m.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.quit:
			return
		case <-ticker.C:
			m.autosaveTick()
		}
	}
}

func (m *Manager) autosaveTick() {
	content := m.doc.Text()
	hash := sha256.Sum256([]byte(content))

	m.mu.Lock()
	unchanged := hash == m.lastHash
	m.mu.Unlock()

	if unchanged {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snap := Snapshot{
		RoomID:  m.roomID,
		Name:    AutosaveName,
		Content: content,
	}

	if err := m.store.Save(ctx, &snap); err != nil {
		log.Printf("snapshot: autosave for room %s failed: %v", m.roomID, err)

		return
	}

	m.mu.Lock()
	m.lastHash = hash
	m.mu.Unlock()
}
