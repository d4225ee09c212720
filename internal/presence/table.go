// Package presence tracks ephemeral per-client awareness state: who is in
// the room, where their cursor is. State lives only for the lifetime of a
// connection and is never persisted.
package presence

import (
	"sort"
	"sync"
	"time"
)

// State is one client's awareness record. Updates replace the whole
// record; last write wins per client id.
type State struct {
	ClientID  string    `json:"clientId"`
	Name      string    `json:"name"`
	Cursor    int       `json:"cursor"`
	SelStart  int       `json:"selStart"`
	SelEnd    int       `json:"selEnd"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Table holds the awareness state of every known client in a room.
// It is safe for concurrent use.
type Table struct {
	mu     sync.RWMutex
	states map[string]State
	now    func() time.Time
}

// NewTable creates an empty presence table.
func NewTable() *Table {
	return &Table{
		states: make(map[string]State),
		now:    time.Now,
	}
}

// Update records a client's state. Older updates for the same client are
// discarded; there is no ordering guarantee beyond last-write-wins.
func (t *Table) Update(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = t.now()
	}

	if prev, ok := t.states[s.ClientID]; ok && prev.UpdatedAt.After(s.UpdatedAt) {
		return
	}

	t.states[s.ClientID] = s
}

// Remove drops a client's state, typically on disconnect.
func (t *Table) Remove(clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.states, clientID)
}

// Get returns a client's state if present.
func (t *Table) Get(clientID string) (State, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.states[clientID]

	return s, ok
}

// All returns every known state ordered by client id.
func (t *Table) All() []State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	all := make([]State, 0, len(t.states))
	for _, s := range t.states {
		all = append(all, s)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].ClientID < all[j].ClientID })

	return all
}

// Evict removes every state not refreshed within maxAge and returns how
// many were dropped. Covers peers that vanished without a leave message.
func (t *Table) Evict(maxAge time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-maxAge)
	dropped := 0

	for id, s := range t.states {
		if s.UpdatedAt.Before(cutoff) {
			delete(t.states, id)

			dropped++
		}
	}

	return dropped
}
