// Package session assembles the pieces of one client's room membership:
// the replicated document, the relay connection, the editor binding,
// presence tracking, and snapshot management. One Session corresponds to
// one client in one room; its lifetime runs from Join to Close.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/collabcode/collabsync/internal/crdt"
	"github.com/collabcode/collabsync/internal/editor"
	"github.com/collabcode/collabsync/internal/presence"
	"github.com/collabcode/collabsync/internal/relay"
	"github.com/collabcode/collabsync/internal/snapshot"
)

// Config holds everything needed to join a room.
type Config struct {
	// RelayURL is the relay base URL, e.g. ws://localhost:8080.
	RelayURL string

	// Room identifies the shared document.
	Room string

	// ClientName is the human-readable name shown to peers.
	ClientName string

	// Surface is the editing surface bound to the document.
	Surface editor.Surface

	// SnapshotStore enables snapshot management when set.
	SnapshotStore snapshot.Store

	// AutosaveInterval enables periodic snapshots when positive. Only
	// meaningful with a SnapshotStore.
	AutosaveInterval time.Duration

	// Reconnect tuning; zero values use the relay defaults.
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// Dialer overrides the websocket dialer. Leave nil outside tests.
	Dialer relay.Dialer
}

// Session is one client's live membership in a room.
type Session struct {
	clientID string
	name     string

	doc       *crdt.Document
	client    *relay.Client
	peers     *presence.Table
	binding   *editor.Binding
	snapshots *snapshot.Manager

	closeOnce sync.Once
}

// Join connects to the relay, loads the document into the surface, and
// starts replicating. The returned session is live until Close.
func Join(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Surface == nil {
		return nil, fmt.Errorf("session: surface is required")
	}

	if cfg.Room == "" {
		return nil, fmt.Errorf("session: room is required")
	}

	clientID := uuid.NewString()

	s := &Session{
		clientID: clientID,
		name:     cfg.ClientName,
		doc:      crdt.NewDocument(clientID),
		peers:    presence.NewTable(),
	}

	s.client = relay.NewClient(relay.Config{
		URL:         cfg.RelayURL,
		Room:        cfg.Room,
		ClientID:    clientID,
		Dialer:      cfg.Dialer,
		MaxAttempts: cfg.MaxAttempts,
		BaseBackoff: cfg.BaseBackoff,
		MaxBackoff:  cfg.MaxBackoff,
	})

	s.client.OnOperation(func(op crdt.Operation) {
		s.doc.ApplyRemote(op)
	})

	s.client.OnPresence(func(state presence.State) {
		s.peers.Update(state)
	})

	s.client.OnLeave(func(clientID string) {
		s.peers.Remove(clientID)
	})

	if err := s.client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("session: join room %s: %w", cfg.Room, err)
	}

	s.binding = editor.Attach(s.doc, cfg.Surface, s.client.BroadcastOperations)

	if cfg.SnapshotStore != nil {
		s.snapshots = snapshot.NewManager(snapshot.Config{
			Doc:              s.doc,
			Store:            cfg.SnapshotStore,
			RoomID:           cfg.Room,
			Send:             s.client.BroadcastOperations,
			AutosaveInterval: cfg.AutosaveInterval,
		})
	}

	return s, nil
}

// ClientID returns the session's generated replica identifier.
func (s *Session) ClientID() string { return s.clientID }

// Document returns the replicated document.
func (s *Session) Document() *crdt.Document { return s.doc }

// ConnectionState returns the relay connection state.
func (s *Session) ConnectionState() relay.State { return s.client.State() }

// OnConnectionState registers a callback for relay state transitions.
func (s *Session) OnConnectionState(fn func(relay.State)) {
	s.client.OnStateChange(fn)
}

// Snapshots returns the snapshot manager, or nil when no store was
// configured.
func (s *Session) Snapshots() *snapshot.Manager { return s.snapshots }

// Peers returns the currently known peer presence states.
func (s *Session) Peers() []presence.State { return s.peers.All() }

// UpdatePresence publishes the local cursor and selection to the room.
func (s *Session) UpdatePresence(cursor, selStart, selEnd int) {
	state := presence.State{
		ClientID:  s.clientID,
		Name:      s.name,
		Cursor:    cursor,
		SelStart:  selStart,
		SelEnd:    selEnd,
		UpdatedAt: time.Now(),
	}

	s.peers.Update(state)
	s.client.BroadcastPresence(state)
}

// Close tears the session down: autosave stops, the surface is detached,
// and the relay connection is released. Close is idempotent.
func (s *Session) Close() error {
	var err error

	s.closeOnce.Do(func() {
		if s.snapshots != nil {
			s.snapshots.Stop()
		}

		s.binding.Detach()

		err = s.client.Close()
	})

	return err
}
