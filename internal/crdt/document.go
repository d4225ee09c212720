package crdt

import (
	"log"
	"strings"
	"sync"
)

// DeltaOrigin says what caused a change to the resolved text.
type DeltaOrigin int

const (
	// OriginLocal marks changes made through the local Apply* methods.
	OriginLocal DeltaOrigin = iota
	// OriginRemote marks changes merged from a peer operation.
	OriginRemote
	// OriginRevert marks a whole-document replacement.
	OriginRevert
)

// Delta describes a minimal edit to the resolved text: delete DeleteLen
// characters at Offset, then insert Insert at Offset.
type Delta struct {
	Offset    int
	Insert    string
	DeleteLen int
	Origin    DeltaOrigin
}

// element is one entry in the replicated sequence. Deleted elements are
// kept as tombstones so concurrent operations can still address them.
type element struct {
	Char
	deleted bool
}

// Document is a replicated sequence of characters. Concurrent edits from
// any number of replicas merge deterministically: two replicas that have
// seen the same set of operations resolve to identical text regardless of
// arrival order. It is safe for concurrent use.
type Document struct {
	mu      sync.Mutex
	site    string
	clock   uint64
	elems   []element
	index   map[ID]int
	pending map[ID][]Operation

	subs    map[int]func(Delta)
	nextSub int
}

// NewDocument creates an empty document for the given replica site id.
func NewDocument(site string) *Document {
	return &Document{
		site:    site,
		index:   make(map[ID]int),
		pending: make(map[ID][]Operation),
		subs:    make(map[int]func(Delta)),
	}
}

// Site returns the replica's site id.
func (d *Document) Site() string {
	return d.site
}

// Text returns the current resolved text.
func (d *Document) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.textLocked()
}

// Len returns the number of visible characters.
func (d *Document) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.visibleLenLocked()
}

// Subscribe registers a change callback and returns a function that
// removes it. Callbacks run outside the document lock, after local and
// remote changes alike.
func (d *Document) Subscribe(fn func(Delta)) func() {
	d.mu.Lock()
	id := d.nextSub
	d.nextSub++
	d.subs[id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
	}
}

// ApplyLocalInsert inserts text at the given visible offset and returns
// the operations to broadcast, one per character. The local state is
// updated immediately; no round trip is involved.
func (d *Document) ApplyLocalInsert(offset int, text string) []Operation {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	d.mu.Lock()

	if offset < 0 {
		offset = 0
	}

	if max := d.visibleLenLocked(); offset > max {
		offset = max
	}

	origin := ID{}
	if offset > 0 {
		origin = d.elems[d.visibleIndexLocked(offset-1)].ID
	}

	ops := make([]Operation, 0, len(runes))

	for _, r := range runes {
		d.clock++
		c := Char{ID: ID{Site: d.site, Clock: d.clock}, Origin: origin, Value: string(r)}
		d.integrateLocked(c)
		ops = append(ops, NewInsert(c))
		origin = c.ID
	}

	subs := d.subsLocked()
	d.mu.Unlock()

	notify(subs, Delta{Offset: offset, Insert: text, Origin: OriginLocal})

	return ops
}

// ApplyLocalDelete tombstones up to length visible characters starting at
// offset and returns the operations to broadcast.
func (d *Document) ApplyLocalDelete(offset, length int) []Operation {
	if length <= 0 {
		return nil
	}

	d.mu.Lock()

	if offset < 0 {
		offset = 0
	}

	var ops []Operation

	seen := 0

	for i := range d.elems {
		if d.elems[i].deleted {
			continue
		}

		if seen >= offset {
			d.elems[i].deleted = true
			ops = append(ops, NewDelete(d.elems[i].ID))

			if len(ops) == length {
				seen++

				break
			}
		}

		seen++
	}

	if len(ops) == 0 {
		d.mu.Unlock()

		return nil
	}

	subs := d.subsLocked()
	d.mu.Unlock()

	notify(subs, Delta{Offset: offset, DeleteLen: len(ops), Origin: OriginLocal})

	return ops
}

// ReplaceAll tombstones every visible character and inserts text as a
// single causally ordered batch. The returned operation is broadcast like
// any other edit, so all peers converge to the replacement content.
func (d *Document) ReplaceAll(text string) []Operation {
	d.mu.Lock()

	oldLen := d.visibleLenLocked()

	var deletes []ID

	for i := range d.elems {
		if !d.elems[i].deleted {
			d.elems[i].deleted = true
			deletes = append(deletes, d.elems[i].ID)
		}
	}

	origin := ID{}

	var chain []Char

	for _, r := range []rune(text) {
		d.clock++
		c := Char{ID: ID{Site: d.site, Clock: d.clock}, Origin: origin, Value: string(r)}
		d.integrateLocked(c)
		chain = append(chain, c)
		origin = c.ID
	}

	subs := d.subsLocked()
	d.mu.Unlock()

	if oldLen > 0 || text != "" {
		notify(subs, Delta{Offset: 0, Insert: text, DeleteLen: oldLen, Origin: OriginRevert})
	}

	return []Operation{{Type: OpReplaceAll, Deletes: deletes, Chain: chain}}
}

// ApplyRemote merges an operation received from a peer. It is idempotent
// and commutative with causally concurrent operations. Operations whose
// causal dependency has not arrived yet are buffered, never dropped; an
// unrecognized operation type is discarded with a logged warning.
func (d *Document) ApplyRemote(op Operation) {
	d.mu.Lock()
	deltas := d.applyRemoteLocked(op)
	subs := d.subsLocked()
	d.mu.Unlock()

	for _, delta := range deltas {
		notify(subs, delta)
	}
}

func (d *Document) applyRemoteLocked(op Operation) []Delta {
	switch op.Type {
	case OpInsert:
		return d.remoteInsertLocked(op.Char)
	case OpDelete:
		return d.remoteDeleteLocked(op.Target)
	case OpReplaceAll:
		return d.remoteReplaceLocked(op)
	default:
		log.Printf("crdt: discarding operation with unknown type %q", op.Type)

		return nil
	}
}

// remoteInsertLocked integrates a single remote element. If its origin is
// unknown the operation is parked until the origin arrives.
func (d *Document) remoteInsertLocked(c Char) []Delta {
	if _, exists := d.index[c.ID]; exists {
		return nil
	}

	if !c.Origin.IsZero() {
		if _, known := d.index[c.Origin]; !known {
			d.pending[c.Origin] = append(d.pending[c.Origin], NewInsert(c))

			return nil
		}
	}

	if c.ID.Clock > d.clock {
		d.clock = c.ID.Clock
	}

	pos := d.integrateLocked(c)
	deltas := []Delta{{Offset: d.visibleOffsetLocked(pos), Insert: c.Value, Origin: OriginRemote}}

	// The new element may unblock parked operations.
	for _, parked := range d.takePendingLocked(c.ID) {
		deltas = append(deltas, d.applyRemoteLocked(parked)...)
	}

	return deltas
}

// remoteDeleteLocked tombstones the target element. Deleting an element
// that is already a tombstone is a no-op; deleting one that has not been
// seen yet is parked until its insert arrives.
func (d *Document) remoteDeleteLocked(target ID) []Delta {
	idx, known := d.index[target]
	if !known {
		d.pending[target] = append(d.pending[target], NewDelete(target))

		return nil
	}

	if d.elems[idx].deleted {
		return nil
	}

	offset := d.visibleOffsetLocked(idx)
	d.elems[idx].deleted = true

	return []Delta{{Offset: offset, DeleteLen: 1, Origin: OriginRemote}}
}

// remoteReplaceLocked applies a replaceAll batch: tombstone the listed
// elements, then integrate the replacement chain. Unknown delete targets
// are parked individually so convergence survives reordered delivery.
func (d *Document) remoteReplaceLocked(op Operation) []Delta {
	oldLen := d.visibleLenLocked()
	changed := false

	for _, target := range op.Deletes {
		idx, known := d.index[target]
		if !known {
			d.pending[target] = append(d.pending[target], NewDelete(target))

			continue
		}

		if !d.elems[idx].deleted {
			d.elems[idx].deleted = true
			changed = true
		}
	}

	for _, c := range op.Chain {
		if _, exists := d.index[c.ID]; exists {
			continue
		}

		if c.ID.Clock > d.clock {
			d.clock = c.ID.Clock
		}

		d.integrateLocked(c)

		changed = true
	}

	if !changed {
		return nil
	}

	return []Delta{{Offset: 0, Insert: d.textLocked(), DeleteLen: oldLen, Origin: OriginRevert}}
}

// integrateLocked places c into the sequence and returns its index.
// Among siblings sharing an origin, placement follows before(): the
// element with the higher (clock, site) pair comes first, and a losing
// sibling skips the winner's whole subtree. This yields the same total
// order on every replica.
func (d *Document) integrateLocked(c Char) int {
	oIdx := -1
	if !c.Origin.IsZero() {
		oIdx = d.index[c.Origin]
	}

	i := oIdx + 1

	for i < len(d.elems) {
		eoIdx := -1
		if !d.elems[i].Origin.IsZero() {
			eoIdx = d.index[d.elems[i].Origin]
		}

		if eoIdx < oIdx {
			break
		}

		if eoIdx == oIdx {
			if !before(d.elems[i].ID, c.ID) {
				break
			}
		}

		i++
	}

	d.elems = append(d.elems, element{})
	copy(d.elems[i+1:], d.elems[i:])
	d.elems[i] = element{Char: c}

	for j := i; j < len(d.elems); j++ {
		d.index[d.elems[j].ID] = j
	}

	return i
}

// takePendingLocked removes and returns operations parked on the given id.
func (d *Document) takePendingLocked(id ID) []Operation {
	parked := d.pending[id]
	if parked != nil {
		delete(d.pending, id)
	}

	return parked
}

func (d *Document) textLocked() string {
	var b strings.Builder

	for i := range d.elems {
		if !d.elems[i].deleted {
			b.WriteString(d.elems[i].Value)
		}
	}

	return b.String()
}

func (d *Document) visibleLenLocked() int {
	n := 0

	for i := range d.elems {
		if !d.elems[i].deleted {
			n++
		}
	}

	return n
}

// visibleOffsetLocked counts the visible elements before index idx.
func (d *Document) visibleOffsetLocked(idx int) int {
	n := 0

	for i := 0; i < idx; i++ {
		if !d.elems[i].deleted {
			n++
		}
	}

	return n
}

// visibleIndexLocked returns the element index of the visible character
// at the given visible offset. The caller must ensure offset is in range.
func (d *Document) visibleIndexLocked(offset int) int {
	seen := 0

	for i := range d.elems {
		if d.elems[i].deleted {
			continue
		}

		if seen == offset {
			return i
		}

		seen++
	}

	return len(d.elems) - 1
}

func (d *Document) subsLocked() []func(Delta) {
	subs := make([]func(Delta), 0, len(d.subs))
	for _, fn := range d.subs {
		subs = append(subs, fn)
	}

	return subs
}

func notify(subs []func(Delta), delta Delta) {
	for _, fn := range subs {
		fn(delta)
	}
}
