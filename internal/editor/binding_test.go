package editor_test

import (
	"testing"

	"github.com/collabcode/collabsync/internal/crdt"
	"github.com/collabcode/collabsync/internal/editor"
)

func TestBinding_LoadsDocumentOnAttach(t *testing.T) {
	t.Parallel()

	doc := crdt.NewDocument("a")
	doc.ApplyLocalInsert(0, "existing")

	surface := editor.NewMemorySurface()
	binding := editor.Attach(doc, surface, nil)

	defer binding.Detach()

	if surface.Text() != "existing" {
		t.Errorf("expected existing, got %q", surface.Text())
	}
}

// A single keystroke must produce exactly one broadcast operation: the
// surface edit goes into the document once, and the resulting local delta
// must not loop back as a second edit.
func TestBinding_LocalEchoSuppression(t *testing.T) {
	t.Parallel()

	doc := crdt.NewDocument("a")
	surface := editor.NewMemorySurface()

	var sent []crdt.Operation

	binding := editor.Attach(doc, surface, func(ops []crdt.Operation) {
		sent = append(sent, ops...)
	})
	defer binding.Detach()

	surface.InsertAt(0, "x")

	if len(sent) != 1 {
		t.Fatalf("expected exactly 1 operation for one keystroke, got %d", len(sent))
	}

	if doc.Text() != "x" {
		t.Errorf("expected x in document, got %q", doc.Text())
	}

	if surface.Text() != "x" {
		t.Errorf("expected x on surface, got %q", surface.Text())
	}
}

func TestBinding_LocalDelete(t *testing.T) {
	t.Parallel()

	doc := crdt.NewDocument("a")
	surface := editor.NewMemorySurface()

	var sent []crdt.Operation

	binding := editor.Attach(doc, surface, func(ops []crdt.Operation) {
		sent = append(sent, ops...)
	})
	defer binding.Detach()

	surface.InsertAt(0, "abc")
	sent = nil

	surface.DeleteAt(1, 1)

	if len(sent) != 1 {
		t.Fatalf("expected 1 delete operation, got %d", len(sent))
	}

	if doc.Text() != "ac" {
		t.Errorf("expected ac, got %q", doc.Text())
	}
}

// A remote operation updates the surface but is never re-broadcast.
func TestBinding_RemoteAppliedWithoutRebroadcast(t *testing.T) {
	t.Parallel()

	peer := crdt.NewDocument("peer")
	ops := peer.ApplyLocalInsert(0, "hi")

	doc := crdt.NewDocument("a")
	surface := editor.NewMemorySurface()

	var sent []crdt.Operation

	binding := editor.Attach(doc, surface, func(o []crdt.Operation) {
		sent = append(sent, o...)
	})
	defer binding.Detach()

	for _, op := range ops {
		doc.ApplyRemote(op)
	}

	if surface.Text() != "hi" {
		t.Errorf("expected hi on surface, got %q", surface.Text())
	}

	if len(sent) != 0 {
		t.Errorf("remote change re-broadcast as local: %d ops", len(sent))
	}
}

// Remote deltas land as ranged edits, not full-buffer replacement.
func TestBinding_RemoteMinimalEdit(t *testing.T) {
	t.Parallel()

	peer := crdt.NewDocument("peer")
	baseOps := peer.ApplyLocalInsert(0, "ab")

	doc := crdt.NewDocument("a")
	surface := editor.NewMemorySurface()
	binding := editor.Attach(doc, surface, nil)

	defer binding.Detach()

	for _, op := range baseOps {
		doc.ApplyRemote(op)
	}

	var last editor.SurfaceChange

	unsubscribe := surface.OnChange(func(ch editor.SurfaceChange) { last = ch })
	defer unsubscribe()

	for _, op := range peer.ApplyLocalInsert(1, "X") {
		doc.ApplyRemote(op)
	}

	if surface.Text() != "aXb" {
		t.Errorf("expected aXb, got %q", surface.Text())
	}

	if last.Offset != 1 || last.Insert != "X" || last.DeleteLen != 0 {
		t.Errorf("expected minimal edit at offset 1, got %+v", last)
	}
}

// A revert replaces the whole buffer.
func TestBinding_RevertReplacesBuffer(t *testing.T) {
	t.Parallel()

	peer := crdt.NewDocument("peer")
	doc := crdt.NewDocument("a")
	surface := editor.NewMemorySurface()

	binding := editor.Attach(doc, surface, nil)
	defer binding.Detach()

	for _, op := range peer.ApplyLocalInsert(0, "before") {
		doc.ApplyRemote(op)
	}

	for _, op := range peer.ReplaceAll("after") {
		doc.ApplyRemote(op)
	}

	if surface.Text() != "after" {
		t.Errorf("expected after, got %q", surface.Text())
	}

	if doc.Text() != "after" {
		t.Errorf("expected after in document, got %q", doc.Text())
	}
}

func TestBinding_DetachStopsBothDirections(t *testing.T) {
	t.Parallel()

	peer := crdt.NewDocument("peer")
	doc := crdt.NewDocument("a")
	surface := editor.NewMemorySurface()

	var sent []crdt.Operation

	binding := editor.Attach(doc, surface, func(o []crdt.Operation) {
		sent = append(sent, o...)
	})

	binding.Detach()
	binding.Detach() // idempotent

	surface.InsertAt(0, "typed after detach")

	if len(sent) != 0 {
		t.Errorf("surface edit forwarded after detach")
	}

	for _, op := range peer.ApplyLocalInsert(0, "remote") {
		doc.ApplyRemote(op)
	}

	if surface.Text() != "typed after detach" {
		t.Errorf("surface mutated after detach: %q", surface.Text())
	}
}
