package session

import (
	"strings"
	"sync"
	"time"
)

// DefaultTranscriptLimit bounds the lines kept in memory. The on-disk log
// of each run is not affected.
const DefaultTranscriptLimit = 10000

// Entry is one transcript line.
type Entry struct {
	Time time.Time `json:"time"`
	Line string    `json:"line"`
}

// Transcript is the ordered, bounded record of session output.
type Transcript struct {
	mu      sync.Mutex
	entries []Entry
	limit   int
}

// NewTranscript creates a transcript keeping at most limit entries.
func NewTranscript(limit int) *Transcript {
	if limit <= 0 {
		limit = DefaultTranscriptLimit
	}
	return &Transcript{limit: limit}
}

// Append records line and returns the stored entry.
func (t *Transcript) Append(at time.Time, line string) Entry {
	e := Entry{Time: at, Line: line}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.entries) == t.limit {
		copy(t.entries, t.entries[1:])
		t.entries = t.entries[:len(t.entries)-1]
	}
	t.entries = append(t.entries, e)
	return e
}

// Entries returns a copy of the stored entries.
func (t *Transcript) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Lines returns the bare lines without timestamps.
func (t *Transcript) Lines() []string {
	entries := t.Entries()
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Line
	}
	return out
}

// Text renders every entry as "[HH:MM:SS] line".
func (t *Transcript) Text() string {
	var b strings.Builder
	for _, e := range t.Entries() {
		b.WriteString(e.Time.Format("[15:04:05] "))
		b.WriteString(e.Line)
		b.WriteByte('\n')
	}
	return b.String()
}

// Len returns the number of stored entries.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
