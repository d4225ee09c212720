// Package editor adapts a text-editing surface to a replicated document.
// The surface is an abstract contract: anything with ranged edits and a
// change stream can be bound, from a GUI editor model to the in-memory
// buffer used by tests and the headless agent.
package editor

// SurfaceChange describes one edit made on a surface: delete DeleteLen
// characters at Offset, then insert Insert at Offset.
type SurfaceChange struct {
	Offset    int
	Insert    string
	DeleteLen int
}

// Surface is the editing surface contract. Offsets are in characters.
type Surface interface {
	// Text returns the surface's full content.
	Text() string

	// SetText replaces the full content. Implementations reset cursor
	// and undo state; it is used for initial load and revert.
	SetText(text string)

	// InsertAt inserts text at the given offset.
	InsertAt(offset int, text string)

	// DeleteAt removes length characters starting at offset.
	DeleteAt(offset, length int)

	// OnChange registers a callback for every edit, from any source, and
	// returns a function that removes it.
	OnChange(fn func(SurfaceChange)) (unsubscribe func())
}
