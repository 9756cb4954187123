package monitor

import "sync"

// DefaultHistorySize is the rolling window kept per sample stream.
const DefaultHistorySize = 60

// History is a fixed-capacity ring. Pushing past capacity evicts the oldest
// entry.
type History[T any] struct {
	mu    sync.RWMutex
	buf   []T
	start int
	size  int
}

// NewHistory creates a ring holding at most capacity entries.
// A non-positive capacity uses DefaultHistorySize.
func NewHistory[T any](capacity int) *History[T] {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest entry when full.
func (h *History[T]) Push(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = v
		h.size++
		return
	}
	h.buf[h.start] = v
	h.start = (h.start + 1) % len(h.buf)
}

// Snapshot returns the entries from oldest to newest.
func (h *History[T]) Snapshot() []T {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]T, h.size)
	for i := range out {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

// Last returns the newest entry.
func (h *History[T]) Last() (T, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var zero T
	if h.size == 0 {
		return zero, false
	}
	return h.buf[(h.start+h.size-1)%len(h.buf)], true
}

func (h *History[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

func (h *History[T]) Cap() int { return len(h.buf) }

// Reset drops all entries.
func (h *History[T]) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.buf)
	h.start, h.size = 0, 0
}
