package checklist

import (
	"context"
	"sync"
)

// Cursor is the index of the question presented to the user.
// Data refreshes never move it; only navigation calls do.
type Cursor struct {
	index  int
	length int
}

func NewCursor(length int) *Cursor {
	if length < 0 {
		length = 0
	}
	return &Cursor{length: length}
}

func (c *Cursor) Current() int { return c.index }

func (c *Cursor) Len() int { return c.length }

// GoTo moves to index, clamped into [0, length). It returns the applied index.
func (c *Cursor) GoTo(index int) int {
	c.index = c.clamp(index)
	return c.index
}

// Advance moves forward one step; it is a no-op on the last index.
func (c *Cursor) Advance() bool {
	if c.IsLast() || c.length == 0 {
		return false
	}
	c.index++
	return true
}

// Retreat moves back one step; it is a no-op at index 0.
func (c *Cursor) Retreat() bool {
	if c.index == 0 {
		return false
	}
	c.index--
	return true
}

func (c *Cursor) IsLast() bool {
	return c.length > 0 && c.index == c.length-1
}

// Resize adopts a new sequence length, keeping the index unless it no longer fits.
func (c *Cursor) Resize(length int) {
	if length < 0 {
		length = 0
	}
	c.length = length
	c.index = c.clamp(c.index)
}

// Restore applies a persisted position if it is within range, otherwise resets to 0.
func (c *Cursor) Restore(saved int, ok bool) bool {
	if ok && saved >= 0 && saved < c.length {
		c.index = saved
		return true
	}
	c.index = 0
	return false
}

func (c *Cursor) clamp(i int) int {
	if c.length == 0 || i < 0 {
		return 0
	}
	if i >= c.length {
		return c.length - 1
	}
	return i
}

// CursorStore persists cursor positions keyed by checklist instance id.
type CursorStore interface {
	LoadCursor(ctx context.Context, checklistID string) (int, bool, error)
	SaveCursor(ctx context.Context, checklistID string, position int) error
	DeleteCursor(ctx context.Context, checklistID string) error
}

// MemoryCursorStore keeps positions for the lifetime of the process.
type MemoryCursorStore struct {
	mu        sync.Mutex
	positions map[string]int
}

func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{positions: map[string]int{}}
}

func (s *MemoryCursorStore) LoadCursor(_ context.Context, checklistID string) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[checklistID]
	return pos, ok, nil
}

func (s *MemoryCursorStore) SaveCursor(_ context.Context, checklistID string, position int) error {
	s.mu.Lock()
	s.positions[checklistID] = position
	s.mu.Unlock()
	return nil
}

func (s *MemoryCursorStore) DeleteCursor(_ context.Context, checklistID string) error {
	s.mu.Lock()
	delete(s.positions, checklistID)
	s.mu.Unlock()
	return nil
}
