// Command agent is a headless room client. It joins a room with an
// in-memory surface, replicates edits, and, when a database is
// configured, keeps autosave snapshots of the room's content.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/collabcode/collabsync/internal/config"
	"github.com/collabcode/collabsync/internal/editor"
	"github.com/collabcode/collabsync/internal/relay"
	"github.com/collabcode/collabsync/internal/session"
	"github.com/collabcode/collabsync/internal/snapshot"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var store snapshot.Store

	if cfg.DBEnabled {
		pg, err := snapshot.NewPostgresStore(cfg.DatabaseDSN())
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}

		store = snapshot.NewCachedStore(pg)

		log.Println("snapshots persisted to postgres")
	} else {
		store = snapshot.NewMemoryStore()
	}

	surface := editor.NewMemorySurface()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	sess, err := session.Join(ctx, session.Config{
		RelayURL:         cfg.RelayURL,
		Room:             cfg.Room,
		ClientName:       cfg.ClientName,
		Surface:          surface,
		SnapshotStore:    store,
		AutosaveInterval: cfg.AutosaveInterval,
		MaxAttempts:      cfg.MaxAttempts,
		BaseBackoff:      cfg.BaseBackoff,
		MaxBackoff:       cfg.MaxBackoff,
	})

	cancel()

	if err != nil {
		log.Fatalf("join: %v", err)
	}

	log.Printf("joined room %s as %s", cfg.Room, sess.ClientID())

	sess.OnConnectionState(func(state relay.State) {
		log.Printf("connection %s", state)
	})

	// Periodically report the replicated content so the agent's view can
	// be compared against other clients.
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			log.Printf("room %s content: %d chars, %d peers",
				cfg.Room, len([]rune(surface.Text())), len(sess.Peers()))
		case <-stop:
			log.Println("leaving room")

			if err := sess.Close(); err != nil {
				log.Printf("close: %v", err)
			}

			return
		}
	}
}
