package editor

import "sync"

// MemorySurface is an in-memory Surface. It backs the headless agent and
// tests; a real editor model satisfies the same contract.
type MemorySurface struct {
	mu      sync.Mutex
	content []rune
	subs    map[int]func(SurfaceChange)
	nextSub int
}

// NewMemorySurface creates an empty surface.
func NewMemorySurface() *MemorySurface {
	return &MemorySurface{subs: make(map[int]func(SurfaceChange))}
}

// Text returns the full content.
func (s *MemorySurface) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return string(s.content)
}

// SetText replaces the full content.
func (s *MemorySurface) SetText(text string) {
	s.mu.Lock()
	oldLen := len(s.content)
	s.content = []rune(text)
	subs := s.subsLocked()
	s.mu.Unlock()

	emit(subs, SurfaceChange{Offset: 0, Insert: text, DeleteLen: oldLen})
}

// InsertAt inserts text at the given offset, clamped to the content.
func (s *MemorySurface) InsertAt(offset int, text string) {
	runes := []rune(text)
	if len(runes) == 0 {
		return
	}

	s.mu.Lock()

	offset = clamp(offset, len(s.content))

	updated := make([]rune, 0, len(s.content)+len(runes))
	updated = append(updated, s.content[:offset]...)
	updated = append(updated, runes...)
	updated = append(updated, s.content[offset:]...)
	s.content = updated

	subs := s.subsLocked()
	s.mu.Unlock()

	emit(subs, SurfaceChange{Offset: offset, Insert: text})
}

// DeleteAt removes up to length characters starting at offset.
func (s *MemorySurface) DeleteAt(offset, length int) {
	if length <= 0 {
		return
	}

	s.mu.Lock()

	offset = clamp(offset, len(s.content))

	if offset+length > len(s.content) {
		length = len(s.content) - offset
	}

	if length <= 0 {
		s.mu.Unlock()

		return
	}

	s.content = append(s.content[:offset], s.content[offset+length:]...)

	subs := s.subsLocked()
	s.mu.Unlock()

	emit(subs, SurfaceChange{Offset: offset, DeleteLen: length})
}

// OnChange registers an edit callback and returns its remover.
func (s *MemorySurface) OnChange(fn func(SurfaceChange)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *MemorySurface) subsLocked() []func(SurfaceChange) {
	subs := make([]func(SurfaceChange), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}

	return subs
}

func emit(subs []func(SurfaceChange), ch SurfaceChange) {
	for _, fn := range subs {
		fn(ch)
	}
}

func clamp(offset, max int) int {
	if offset < 0 {
		return 0
	}

	if offset > max {
		return max
	}

	return offset
}

// Ensure MemorySurface implements Surface.
var _ Surface = (*MemorySurface)(nil)
