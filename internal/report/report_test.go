package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var fixedNow = func() time.Time { return time.Unix(1700000000, 0) }

func sampleInput() Input {
	return Input{
		Metadata: map[string]string{
			KeyAffinity: "[0, 1]",
			KeyPID:      "4242",
			KeyCommand:  "echo hello",
			KeyPriority: "Below Normal",
			"Network":   "Blocked",
		},
		Transcript: "[10:00:00] [Running] echo hello\n[10:00:00] hello\n",
	}
}

func TestOrderedKeys(t *testing.T) {
	got := orderedKeys(sampleInput().Metadata)
	want := []string{KeyPID, KeyCommand, KeyPriority, KeyAffinity, "Network"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("orderedKeys = %v, want %v", got, want)
	}
}

func TestPaginateKeepsTail(t *testing.T) {
	var lines []string
	for i := 1; i <= 25; i++ {
		lines = append(lines, fmt.Sprintf("line %d", i))
	}
	pages, dropped := paginate(strings.Join(lines, "\n"), 10, 2)
	if dropped != 5 {
		t.Errorf("dropped = %d, want 5", dropped)
	}
	if len(pages) != 2 || pages[0][0] != "line 6" || pages[1][9] != "line 25" {
		t.Errorf("pages = %v", pages)
	}

	if pages, _ := paginate("", 10, 2); pages != nil {
		t.Errorf("empty transcript pages = %v", pages)
	}
}

func TestMarkdownGenerator(t *testing.T) {
	dir := t.TempDir()
	g := NewMarkdownGenerator(Options{OutputDir: dir, Now: fixedNow})
	path, err := g.Generate(context.Background(), sampleInput())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if filepath.Base(path) != "sandbox_report_1700000000.md" {
		t.Errorf("path = %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	for _, want := range []string{"| PID | 4242 |", "| Command | echo hello |", "hello", "page 1 of 1"} {
		if !strings.Contains(text, want) {
			t.Errorf("report missing %q", want)
		}
	}
	if strings.Contains(text, "Resource Usage") {
		t.Error("chart section rendered without a chart")
	}
}

func TestHTMLGeneratorChart(t *testing.T) {
	dir := t.TempDir()
	chart := filepath.Join(dir, "chart.png")
	if err := os.WriteFile(chart, []byte("\x89PNG\r\n\x1a\nfake"), 0o644); err != nil {
		t.Fatal(err)
	}

	in := sampleInput()
	in.ChartPath = chart
	g := NewHTMLGenerator(Options{OutputDir: dir, Now: fixedNow})
	path, err := g.Generate(context.Background(), in)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	html := string(data)
	if !strings.Contains(html, "<table>") || !strings.Contains(html, "data:image/png;base64,") {
		t.Errorf("html missing table or chart:\n%s", html)
	}

	in.ChartPath = filepath.Join(dir, "missing.png")
	path, err = g.Generate(context.Background(), in)
	if err != nil {
		t.Fatalf("Generate with missing chart: %v", err)
	}
	data, _ = os.ReadFile(path)
	if strings.Contains(string(data), "<img") {
		t.Error("missing chart should be omitted")
	}
}

func TestNewUnknownFormat(t *testing.T) {
	if _, err := New("pdf", Options{}); err == nil {
		t.Error("New(pdf) should fail")
	}
	if g, err := New("md", Options{}); err != nil || g == nil {
		t.Errorf("New(md) = %v, %v", g, err)
	}
}

func TestCodeFence(t *testing.T) {
	if got := codeFence([]string{"a ```` b"}); got != "`````" {
		t.Errorf("codeFence = %q", got)
	}
}
