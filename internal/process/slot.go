package process

import "sync/atomic"

// Slot holds the session's current handle. Attach and detach replace it in
// a single atomic swap so readers never observe a half-replaced handle.
type Slot struct {
	current atomic.Pointer[Handle]
}

// Current returns the attached handle or nil.
func (s *Slot) Current() *Handle {
	return s.current.Load()
}

// Swap installs h and returns the previous handle.
func (s *Slot) Swap(h *Handle) *Handle {
	return s.current.Swap(h)
}

// Release clears the slot only if it still holds h.
func (s *Slot) Release(h *Handle) bool {
	return s.current.CompareAndSwap(h, nil)
}

// State reports the state of the held handle, or StateUnattached.
func (s *Slot) State() State {
	return s.Current().State()
}
