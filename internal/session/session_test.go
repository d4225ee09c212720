package session_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/collabcode/collabsync/internal/editor"
	"github.com/collabcode/collabsync/internal/relay"
	"github.com/collabcode/collabsync/internal/session"
	"github.com/collabcode/collabsync/internal/snapshot"
)

func startRelay(t *testing.T) string {
	t.Helper()

	srv := httptest.NewServer(relay.NewHub().Handler())
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func join(t *testing.T, url, room, name string, surface editor.Surface, store snapshot.Store) *session.Session {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := session.Join(ctx, session.Config{
		RelayURL:      url,
		Room:          room,
		ClientName:    name,
		Surface:       surface,
		SnapshotStore: store,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestJoin_RequiresSurface(t *testing.T) {
	t.Parallel()

	_, err := session.Join(context.Background(), session.Config{Room: "r1"})
	require.Error(t, err)
}

func TestSession_TypingConvergesAcrossClients(t *testing.T) {
	t.Parallel()

	url := startRelay(t)

	aliceSurface := editor.NewMemorySurface()
	bobSurface := editor.NewMemorySurface()

	alice := join(t, url, "doc", "alice", aliceSurface, nil)
	bob := join(t, url, "doc", "bob", bobSurface, nil)

	require.NotEqual(t, alice.ClientID(), bob.ClientID())

	aliceSurface.InsertAt(0, "hello")

	require.Eventually(t, func() bool {
		return bobSurface.Text() == "hello"
	}, 3*time.Second, 10*time.Millisecond)

	bobSurface.InsertAt(5, " world")

	require.Eventually(t, func() bool {
		return aliceSurface.Text() == "hello world" && bobSurface.Text() == "hello world"
	}, 3*time.Second, 10*time.Millisecond)
}

func TestSession_PresencePropagates(t *testing.T) {
	t.Parallel()

	url := startRelay(t)

	alice := join(t, url, "doc", "alice", editor.NewMemorySurface(), nil)
	bob := join(t, url, "doc", "bob", editor.NewMemorySurface(), nil)

	alice.UpdatePresence(3, 3, 7)

	require.Eventually(t, func() bool {
		for _, peer := range bob.Peers() {
			if peer.ClientID == alice.ClientID() {
				return peer.Name == "alice" && peer.Cursor == 3 && peer.SelEnd == 7
			}
		}

		return false
	}, 3*time.Second, 10*time.Millisecond)
}

func TestSession_PeerRemovedOnClose(t *testing.T) {
	t.Parallel()

	url := startRelay(t)

	alice := join(t, url, "doc", "alice", editor.NewMemorySurface(), nil)
	bob := join(t, url, "doc", "bob", editor.NewMemorySurface(), nil)

	alice.UpdatePresence(0, 0, 0)

	require.Eventually(t, func() bool {
		return hasPeer(bob, alice.ClientID())
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.Close())

	require.Eventually(t, func() bool {
		return !hasPeer(bob, alice.ClientID())
	}, 3*time.Second, 10*time.Millisecond)
}

func TestSession_RevertPropagatesToPeers(t *testing.T) {
	t.Parallel()

	url := startRelay(t)
	store := snapshot.NewMemoryStore()

	aliceSurface := editor.NewMemorySurface()
	bobSurface := editor.NewMemorySurface()

	alice := join(t, url, "doc", "alice", aliceSurface, store)
	_ = join(t, url, "doc", "bob", bobSurface, nil)

	aliceSurface.InsertAt(0, "stable draft")

	require.Eventually(t, func() bool {
		return bobSurface.Text() == "stable draft"
	}, 3*time.Second, 10*time.Millisecond)

	snap, err := alice.Snapshots().Save(context.Background(), "stable")
	require.NoError(t, err)

	bobSurface.DeleteAt(0, 7)

	require.Eventually(t, func() bool {
		return aliceSurface.Text() == "draft"
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.Snapshots().Revert(context.Background(), snap.ID))

	require.Eventually(t, func() bool {
		return aliceSurface.Text() == "stable draft" && bobSurface.Text() == "stable draft"
	}, 3*time.Second, 10*time.Millisecond)
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	url := startRelay(t)
	s := join(t, url, "doc", "alice", editor.NewMemorySurface(), nil)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.Equal(t, relay.Disconnected, s.ConnectionState())
}

func hasPeer(s *session.Session, clientID string) bool {
	for _, peer := range s.Peers() {
		if peer.ClientID == clientID {
			return true
		}
	}

	return false
}
