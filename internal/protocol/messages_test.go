package protocol

import (
	"encoding/json"
	"testing"
)

func TestEnvelopePayloadDecode(t *testing.T) {
	env, err := NewEnvelope(MsgOutputLine, OutputLine{Line: "[Running] echo hello"})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if env.ID == "" || env.Timestamp.IsZero() {
		t.Fatalf("envelope missing id or timestamp: %+v", env)
	}

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Envelope
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	var line OutputLine
	if err := back.Decode(&line); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if line.Line != "[Running] echo hello" {
		t.Errorf("line = %q", line.Line)
	}
}

func TestDecodeEmptyPayload(t *testing.T) {
	env, err := NewEnvelope(MsgPing, nil)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	var f Filter
	if err := env.Decode(&f); err == nil {
		t.Fatal("expected error decoding an empty payload")
	}
}

func TestFilterWants(t *testing.T) {
	tests := []struct {
		name   string
		filter *Filter
		msg    MessageType
		want   bool
	}{
		{"nil filter passes all", nil, MsgSystemSample, true},
		{"empty filter passes all", &Filter{}, MsgOutputLine, true},
		{"listed type", &Filter{Types: []MessageType{MsgOutputLine}}, MsgOutputLine, true},
		{"unlisted type", &Filter{Types: []MessageType{MsgOutputLine}}, MsgProcessSample, false},
		{"control always passes", &Filter{Types: []MessageType{MsgOutputLine}}, MsgError, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Wants(tt.msg); got != tt.want {
				t.Errorf("Wants(%s) = %v, want %v", tt.msg, got, tt.want)
			}
		})
	}
}

func TestStreamable(t *testing.T) {
	if !Streamable(MsgProcessSample) {
		t.Error("process samples should be streamable")
	}
	if Streamable(MsgPing) {
		t.Error("ping is not a data message")
	}
}
