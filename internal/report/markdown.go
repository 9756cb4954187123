package report

import (
	"context"
	"fmt"
	"strings"
)

// MarkdownGenerator writes the report as a Markdown document with one
// section per transcript page.
type MarkdownGenerator struct {
	opts Options
}

func NewMarkdownGenerator(opts Options) *MarkdownGenerator {
	return &MarkdownGenerator{opts: opts.withDefaults()}
}

func (g *MarkdownGenerator) Generate(ctx context.Context, in Input) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return writeFile(g.opts.outputPath("md"), []byte(g.render(in)))
}

func (g *MarkdownGenerator) render(in Input) string {
	return renderMarkdown(in, g.opts, g.opts.Now().Format("2006-01-02 15:04:05"))
}

func renderMarkdown(in Input, opts Options, generated string) string {
	var b strings.Builder
	b.WriteString("# Sandbox Session Report\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", generated)

	b.WriteString("## Session\n\n| Field | Value |\n|---|---|\n")
	for _, k := range orderedKeys(in.Metadata) {
		fmt.Fprintf(&b, "| %s | %s |\n", escapeCell(k), escapeCell(in.Metadata[k]))
	}
	b.WriteString("\n")

	if uri := chartDataURI(in.ChartPath); uri != "" {
		fmt.Fprintf(&b, "## Resource Usage\n\n![resource usage chart](%s)\n\n", uri)
	}

	pages, dropped := paginate(in.Transcript, opts.LinesPerPage, opts.MaxPages)
	if len(pages) == 0 {
		b.WriteString("## Log Output\n\n_No output captured._\n")
		return b.String()
	}
	if dropped > 0 {
		fmt.Fprintf(&b, "_%d earlier lines omitted._\n\n", dropped)
	}
	for i, page := range pages {
		fmt.Fprintf(&b, "## Log Output (page %d of %d)\n\n", i+1, len(pages))
		fence := codeFence(page)
		b.WriteString(fence + "text\n")
		for _, line := range page {
			b.WriteString(line + "\n")
		}
		b.WriteString(fence + "\n\n")
	}
	return b.String()
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

// codeFence returns a backtick fence longer than any run inside lines.
func codeFence(lines []string) string {
	longest := 0
	for _, line := range lines {
		run := 0
		for _, r := range line {
			if r == '`' {
				run++
				longest = max(longest, run)
			} else {
				run = 0
			}
		}
	}
	return strings.Repeat("`", max(3, longest+1))
}
