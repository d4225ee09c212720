package presence_test

import (
	"testing"
	"time"

	"github.com/collabcode/collabsync/internal/presence"
)

func TestTable_LastWriteWins(t *testing.T) {
	t.Parallel()

	table := presence.NewTable()
	base := time.Now()

	table.Update(presence.State{ClientID: "c1", Cursor: 5, UpdatedAt: base})
	table.Update(presence.State{ClientID: "c1", Cursor: 9, UpdatedAt: base.Add(time.Second)})

	s, ok := table.Get("c1")
	if !ok {
		t.Fatal("expected state for c1")
	}

	if s.Cursor != 9 {
		t.Errorf("expected cursor 9, got %d", s.Cursor)
	}
}

func TestTable_StaleUpdateDiscarded(t *testing.T) {
	t.Parallel()

	table := presence.NewTable()
	base := time.Now()

	table.Update(presence.State{ClientID: "c1", Cursor: 9, UpdatedAt: base.Add(time.Second)})
	table.Update(presence.State{ClientID: "c1", Cursor: 5, UpdatedAt: base})

	s, _ := table.Get("c1")
	if s.Cursor != 9 {
		t.Errorf("stale update overwrote newer state, cursor %d", s.Cursor)
	}
}

func TestTable_Remove(t *testing.T) {
	t.Parallel()

	table := presence.NewTable()
	table.Update(presence.State{ClientID: "c1"})
	table.Remove("c1")

	if _, ok := table.Get("c1"); ok {
		t.Error("expected c1 to be removed")
	}
}

func TestTable_AllSortedByClientID(t *testing.T) {
	t.Parallel()

	table := presence.NewTable()
	table.Update(presence.State{ClientID: "b"})
	table.Update(presence.State{ClientID: "a"})
	table.Update(presence.State{ClientID: "c"})

	all := table.All()
	if len(all) != 3 {
		t.Fatalf("expected 3 states, got %d", len(all))
	}

	if all[0].ClientID != "a" || all[1].ClientID != "b" || all[2].ClientID != "c" {
		t.Errorf("states not sorted: %v", all)
	}
}

func TestTable_Evict(t *testing.T) {
	t.Parallel()

	table := presence.NewTable()
	now := time.Now()

	table.Update(presence.State{ClientID: "fresh", UpdatedAt: now})
	table.Update(presence.State{ClientID: "stale", UpdatedAt: now.Add(-time.Minute)})

	dropped := table.Evict(30 * time.Second)
	if dropped != 1 {
		t.Fatalf("expected 1 eviction, got %d", dropped)
	}

	if _, ok := table.Get("stale"); ok {
		t.Error("stale client survived eviction")
	}

	if _, ok := table.Get("fresh"); !ok {
		t.Error("fresh client evicted")
	}
}
