package editor

import (
	"sync"

	"github.com/collabcode/collabsync/internal/crdt"
)

// Binding is the two-way adapter between a Surface and a replicated
// document. Surface edits become document operations handed to send for
// broadcast; remote document changes are applied back to the surface as
// minimal ranged edits so local cursor and undo state survive.
type Binding struct {
	doc     *crdt.Document
	surface Surface
	send    func([]crdt.Operation)

	mu       sync.Mutex
	applying bool
	detached bool

	unsubSurface func()
	unsubDoc     func()
}

// Attach loads the document's text into the surface and wires both
// directions. The send hook receives the operations produced by local
// edits; it may be nil.
func Attach(doc *crdt.Document, surface Surface, send func([]crdt.Operation)) *Binding {
	b := &Binding{
		doc:     doc,
		surface: surface,
		send:    send,
	}

	// Initial load happens before the change subscriptions exist, so it
	// cannot echo.
	surface.SetText(doc.Text())

	b.unsubSurface = surface.OnChange(b.onSurfaceChange)
	b.unsubDoc = doc.Subscribe(b.onDocDelta)

	return b
}

// Detach severs both subscriptions. After Detach the surface is never
// mutated again. Detach is idempotent.
func (b *Binding) Detach() {
	b.mu.Lock()

	if b.detached {
		b.mu.Unlock()

		return
	}

	b.detached = true
	b.mu.Unlock()

	b.unsubSurface()
	b.unsubDoc()
}

// onSurfaceChange turns a user edit into document operations. Edits the
// binding itself made to the surface are guarded out, so a remote change
// is never re-emitted as a local one.
func (b *Binding) onSurfaceChange(ch SurfaceChange) {
	b.mu.Lock()
	skip := b.applying || b.detached
	b.mu.Unlock()

	if skip {
		return
	}

	var ops []crdt.Operation

	if ch.DeleteLen > 0 {
		ops = append(ops, b.doc.ApplyLocalDelete(ch.Offset, ch.DeleteLen)...)
	}

	if ch.Insert != "" {
		ops = append(ops, b.doc.ApplyLocalInsert(ch.Offset, ch.Insert)...)
	}

	if len(ops) > 0 && b.send != nil {
		b.send(ops)
	}
}

// onDocDelta reflects merged document changes into the surface. Local
// deltas are skipped: the surface already shows what the user typed.
// A revert replaces the whole buffer.
func (b *Binding) onDocDelta(d crdt.Delta) {
	b.mu.Lock()

	if b.detached || d.Origin == crdt.OriginLocal {
		b.mu.Unlock()

		return
	}

	b.applying = true
	b.mu.Unlock()

	switch d.Origin {
	case crdt.OriginRemote:
		if d.DeleteLen > 0 {
			b.surface.DeleteAt(d.Offset, d.DeleteLen)
		}

		if d.Insert != "" {
			b.surface.InsertAt(d.Offset, d.Insert)
		}
	case crdt.OriginRevert:
		b.surface.SetText(b.doc.Text())
	}

	b.mu.Lock()
	b.applying = false
	b.mu.Unlock()
}
