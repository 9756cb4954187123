package report

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
)

var htmlPage = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Sandbox Session Report</title>
<style>
body { font-family: Helvetica, Arial, sans-serif; margin: 2em; }
table { border-collapse: collapse; }
td, th { border: 1px solid #999; padding: 4px 8px; text-align: left; }
pre { font-size: 10px; background: #f6f6f6; padding: 8px; }
img { max-width: 100%; }
h2 { page-break-before: auto; }
@media print { h2[id^="log-output-page"] { page-break-before: always; } }
</style>
</head>
<body>
{{.}}
</body>
</html>
`))

// HTMLGenerator renders the Markdown report through goldmark into a
// standalone, print-paginated HTML document.
type HTMLGenerator struct {
	opts Options
	md   goldmark.Markdown
}

func NewHTMLGenerator(opts Options) *HTMLGenerator {
	return &HTMLGenerator{
		opts: opts.withDefaults(),
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		),
	}
}

func (g *HTMLGenerator) Generate(ctx context.Context, in Input) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	body, err := g.render(in)
	if err != nil {
		return "", err
	}
	return writeFile(g.opts.outputPath("html"), body)
}

func (g *HTMLGenerator) render(in Input) ([]byte, error) {
	source := renderMarkdown(in, g.opts, g.opts.Now().Format("2006-01-02 15:04:05"))
	var body bytes.Buffer
	if err := g.md.Convert([]byte(source), &body); err != nil {
		return nil, fmt.Errorf("rendering report: %w", err)
	}
	var out bytes.Buffer
	// goldmark escapes raw HTML by default, so the converted body is safe.
	if err := htmlPage.Execute(&out, template.HTML(body.String())); err != nil {
		return nil, fmt.Errorf("rendering report page: %w", err)
	}
	return out.Bytes(), nil
}
