// Package report renders a finished session into a paginated document.
package report

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Metadata keys supplied by the session.
const (
	KeyPID      = "PID"
	KeyCommand  = "Command"
	KeyPriority = "Priority"
	KeyAffinity = "Affinity"
	KeyStarted  = "Started"
)

const (
	defaultLinesPerPage = 50
	defaultMaxPages     = 20
)

// Input is everything a report is built from.
type Input struct {
	Metadata   map[string]string
	Transcript string
	// ChartPath is optional. A missing or unreadable image is omitted.
	ChartPath string
}

// Generator renders an Input and returns the path of the written document.
type Generator interface {
	Generate(ctx context.Context, in Input) (string, error)
}

// Options controls layout shared by all formats.
type Options struct {
	OutputDir    string
	LinesPerPage int
	MaxPages     int
	Now          func() time.Time
}

func (o Options) withDefaults() Options {
	if o.OutputDir == "" {
		o.OutputDir = "reports"
	}
	if o.LinesPerPage <= 0 {
		o.LinesPerPage = defaultLinesPerPage
	}
	if o.MaxPages <= 0 {
		o.MaxPages = defaultMaxPages
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// outputPath returns reports/sandbox_report_<unix>.<ext>.
func (o Options) outputPath(ext string) string {
	return filepath.Join(o.OutputDir, fmt.Sprintf("sandbox_report_%d.%s", o.Now().Unix(), ext))
}

// New returns the generator for format ("html" or "markdown").
func New(format string, opts Options) (Generator, error) {
	switch strings.ToLower(format) {
	case "", "html":
		return NewHTMLGenerator(opts), nil
	case "markdown", "md":
		return NewMarkdownGenerator(opts), nil
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}
}

// orderedKeys lists the well-known keys first, then the rest sorted.
func orderedKeys(meta map[string]string) []string {
	known := []string{KeyPID, KeyCommand, KeyPriority, KeyAffinity, KeyStarted}
	var keys, rest []string
	for _, k := range known {
		if _, ok := meta[k]; ok {
			keys = append(keys, k)
		}
	}
	for k := range meta {
		if !slices.Contains(known, k) {
			rest = append(rest, k)
		}
	}
	slices.Sort(rest)
	return append(keys, rest...)
}

// paginate splits the transcript into pages. When it exceeds the page
// budget only the most recent lines are kept; dropped reports how many
// were cut.
func paginate(transcript string, perPage, maxPages int) (pages [][]string, dropped int) {
	transcript = strings.TrimRight(transcript, "\n")
	if transcript == "" {
		return nil, 0
	}
	lines := strings.Split(transcript, "\n")
	if limit := perPage * maxPages; len(lines) > limit {
		dropped = len(lines) - limit
		lines = lines[dropped:]
	}
	for len(lines) > 0 {
		n := min(perPage, len(lines))
		pages = append(pages, lines[:n])
		lines = lines[n:]
	}
	return pages, dropped
}

// chartDataURI returns the image as a data URI, or "" if it cannot be read.
func chartDataURI(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return ""
	}
	typ := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if typ == "" {
		typ = "image/png"
	}
	return "data:" + typ + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func writeFile(path string, data []byte) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating report dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}
	return path, nil
}
