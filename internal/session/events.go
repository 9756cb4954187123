package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/procward/internal/domain"
)

// EventType identifies the payload carried by an Event.
type EventType string

const (
	EventSystemSample  EventType = "system_sample"
	EventProcessSample EventType = "process_sample"
	EventOutputLine    EventType = "output_line"
)

// Event is one observation emitted by the session.
type Event struct {
	ID      uuid.UUID
	Type    EventType
	Time    time.Time
	System  *domain.SystemSample
	Process *domain.ProcessSample
	Line    string
}

// Bus fans events out to subscribers. Publish never blocks. Each
// subscriber has its own ordered queue drained by a pump goroutine: output
// lines are always queued, while sample events beyond the subscriber's
// buffer are dropped.
type Bus struct {
	mu      sync.Mutex
	subs    map[uint64]*subscriber
	next    uint64
	closed  bool
	dropped func()
}

type subscriber struct {
	ch    chan Event
	wake  chan struct{}
	stop  chan struct{}
	limit int

	mu       sync.Mutex
	queue    []Event
	samples  int // sample events queued or being delivered
	draining bool
}

// NewBus creates a bus. onDrop is called once per dropped delivery and
// may be nil.
func NewBus(onDrop func()) *Bus {
	if onDrop == nil {
		onDrop = func() {}
	}
	return &Bus{subs: make(map[uint64]*subscriber), dropped: onDrop}
}

// Subscribe returns a channel receiving every subsequent event and a
// cancel function that closes it. buffer bounds the sample events held
// for a slow consumer; output lines are never dropped.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &subscriber{
		ch:    make(chan Event),
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
		limit: buffer,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = sub
	go sub.pump()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.stop)
		})
	}
}

// Publish queues ev for every subscriber.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if !sub.push(ev) {
			b.dropped()
		}
	}
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription. Events already queued are still
// delivered before a channel closes. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		sub.drain()
	}
}

func (s *subscriber) push(ev Event) bool {
	sample := ev.Type != EventOutputLine
	s.mu.Lock()
	if sample && s.samples >= s.limit {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, ev)
	if sample {
		s.samples++
	}
	s.mu.Unlock()
	s.signal()
	return true
}

func (s *subscriber) drain() {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()
	s.signal()
}

func (s *subscriber) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump delivers queued events in order until cancelled, or until the bus
// closes and the queue is empty.
func (s *subscriber) pump() {
	defer close(s.ch)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			draining := s.draining
			s.mu.Unlock()
			if draining {
				return
			}
			select {
			case <-s.wake:
			case <-s.stop:
				return
			}
			continue
		}
		ev := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.ch <- ev:
		case <-s.stop:
			return
		}
		if ev.Type != EventOutputLine {
			s.mu.Lock()
			s.samples--
			s.mu.Unlock()
		}
	}
}

func newEvent(t EventType, at time.Time) Event {
	return Event{ID: uuid.New(), Type: t, Time: at}
}
