// Package protocol defines the WebSocket message types of the event stream
// served at /v1/events. All messages are JSON-encoded and wrapped in an
// Envelope for uniform routing.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/procward/internal/domain"
)

// MessageType identifies the kind of message on the stream.
type MessageType string

const (
	// Server → client
	MsgHello         MessageType = "session.hello"
	MsgSystemSample  MessageType = "sample.system"
	MsgProcessSample MessageType = "sample.process"
	MsgOutputLine    MessageType = "output.line"
	MsgPong          MessageType = "pong"

	// Client → server
	MsgPing   MessageType = "ping"
	MsgFilter MessageType = "filter"

	// Bidirectional
	MsgError MessageType = "error"
)

// Envelope is the top-level message wrapper for all stream traffic.
type Envelope struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id"` // Event ID, or a fresh ID for control messages.
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope creates an Envelope with a fresh ID and current timestamp.
func NewEnvelope(msgType MessageType, payload any) (*Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", msgType, err)
		}
		raw = data
	}
	return &Envelope{
		Type:      msgType,
		ID:        uuid.New().String(),
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the Payload into the given target.
func (e *Envelope) Decode(target any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	return json.Unmarshal(e.Payload, target)
}

// --- Server → client payloads ---

// Hello is sent once when a stream opens.
type Hello struct {
	SessionID      string             `json:"session_id"`
	Process        domain.ProcessInfo `json:"process"`
	NetworkBlocked bool               `json:"network_blocked"`
	Cores          int                `json:"cores"`
}

// OutputLine carries one line of sandbox output or one status marker.
type OutputLine struct {
	Line string `json:"line"`
}

// ErrorPayload is sent on protocol errors.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// --- Client → server payloads ---

// Filter narrows the stream to the listed message types. An empty list
// restores the full stream.
type Filter struct {
	Types []MessageType `json:"types"`
}

// Wants reports whether t passes the filter. Control messages always pass.
func (f *Filter) Wants(t MessageType) bool {
	if f == nil || len(f.Types) == 0 {
		return true
	}
	switch t {
	case MsgHello, MsgPong, MsgError:
		return true
	}
	for _, want := range f.Types {
		if want == t {
			return true
		}
	}
	return false
}

// Streamable reports whether t is a server-side data message a client may
// filter on.
func Streamable(t MessageType) bool {
	switch t {
	case MsgSystemSample, MsgProcessSample, MsgOutputLine:
		return true
	}
	return false
}
