// Package notification announces finished session exports to external
// endpoints. All traffic goes through the caller-supplied HTTP client, so
// the network gate decides whether a notification can leave the process.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Sender is the interface for a single notification backend.
type Sender interface {
	// Type returns the backend identifier ("webhook", "slack").
	Type() string
	// Send delivers one message.
	Send(ctx context.Context, msg *Message) error
}

// Message is the payload sent to every backend.
type Message struct {
	Subject  string            // Short title.
	Body     string            // Plain text body.
	Metadata map[string]string // Report metadata (PID, Command, ...).
}

// Dispatcher fans a message out to every registered sender.
type Dispatcher struct {
	mu      sync.RWMutex
	senders []Sender
	logger  *slog.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{logger: logger}
}

// Register adds a sender.
func (d *Dispatcher) Register(s Sender) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.senders = append(d.senders, s)
}

// Len returns the number of registered senders.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.senders)
}

// Notify sends msg through every sender and joins their errors.
func (d *Dispatcher) Notify(ctx context.Context, msg *Message) error {
	d.mu.RLock()
	senders := append([]Sender(nil), d.senders...)
	d.mu.RUnlock()

	var errs []error
	for _, s := range senders {
		if err := s.Send(ctx, msg); err != nil {
			d.logger.Warn("notification failed",
				slog.String("type", s.Type()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Type(), err))
			continue
		}
		d.logger.Debug("notification sent", slog.String("type", s.Type()))
	}
	return errors.Join(errs...)
}
