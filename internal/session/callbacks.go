package session

import "github.com/jkaninda/procward/internal/domain"

// Callbacks is the function-field form of a subscription. Nil fields are
// skipped.
type Callbacks struct {
	OnSystemSample  func(domain.SystemSample)
	OnProcessSample func(domain.ProcessSample)
	OnOutputLine    func(string)
}

// Register subscribes cb to the session's events and dispatches them from
// a dedicated goroutine. The returned function unsubscribes; it does not
// wait for an in-flight callback.
func (s *Session) Register(cb Callbacks, buffer int) func() {
	events, cancel := s.Subscribe(buffer)
	go func() {
		for ev := range events {
			cb.dispatch(ev)
		}
	}()
	return cancel
}

func (cb Callbacks) dispatch(ev Event) {
	switch ev.Type {
	case EventSystemSample:
		if cb.OnSystemSample != nil && ev.System != nil {
			cb.OnSystemSample(*ev.System)
		}
	case EventProcessSample:
		if cb.OnProcessSample != nil && ev.Process != nil {
			cb.OnProcessSample(*ev.Process)
		}
	case EventOutputLine:
		if cb.OnOutputLine != nil {
			cb.OnOutputLine(ev.Line)
		}
	}
}
