package digest

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/ryosukesatoh/news-digest/internal/summarizer"
)

const (
	DefaultSubject = "🗞️ Your Daily News Digest"
	DefaultTitle   = "📰 Your Daily News Digest"
)

// ErrNoSummaries is returned when Compose is called without any summaries.
var ErrNoSummaries = errors.New("digest: no summaries to compose")

// Digest is the rendered email, built once per run and sent once.
type Digest struct {
	Subject   string
	Body      string
	Summaries []summarizer.Summary
}

// Composer renders summaries into an HTML digest. It performs no I/O and reads
// no clock, so equal input always yields byte-identical output.
type Composer struct {
	Subject string
	Title   string

	md goldmark.Markdown
}

func NewComposer(subject, title string) *Composer {
	if subject == "" {
		subject = DefaultSubject
	}
	if title == "" {
		title = DefaultTitle
	}
	return &Composer{
		Subject: subject,
		Title:   title,
		md: goldmark.New(
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
	}
}

type section struct {
	Number int
	Title  string
	URL    string
	Source string
	Body   template.HTML
}

var page = template.Must(template.New("digest").Parse(`<!DOCTYPE html><html><head><meta charset="UTF-8"><style>
body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 700px; margin: 0 auto; padding: 20px; color: #333; }
h2 { color: #1a1a2e; border-bottom: 2px solid #e94560; padding-bottom: 10px; }
h3 { color: #0f3460; margin-bottom: 4px; }
.source { color: #666; font-size: 0.9em; margin-top: 0; }
.summary li { margin-bottom: 5px; }
</style></head><body>
<h2>{{.Title}}</h2>
{{range .Sections}}<div class="article">
<h3>Article {{.Number}}</h3>
<p class="source"><a href="{{.URL}}">{{.Title}}</a>{{if .Source}} | {{.Source}}{{end}}</p>
<div class="summary">{{.Body}}</div>
</div>
<hr>
{{end}}</body></html>
`))

// Compose renders one numbered section per summary, in input order.
func (c *Composer) Compose(summaries []summarizer.Summary) (*Digest, error) {
	if len(summaries) == 0 {
		return nil, ErrNoSummaries
	}

	sections := make([]section, 0, len(summaries))
	for i, s := range summaries {
		body, err := c.render(s.BulletText)
		if err != nil {
			return nil, fmt.Errorf("digest: article %d: %w", i+1, err)
		}
		title := s.Article.Title
		if title == "" {
			title = s.Article.URL
		}
		sections = append(sections, section{
			Number: i + 1,
			Title:  title,
			URL:    s.Article.URL,
			Source: s.Article.Source,
			Body:   body,
		})
	}

	var buf bytes.Buffer
	err := page.Execute(&buf, struct {
		Title    string
		Sections []section
	}{c.Title, sections})
	if err != nil {
		return nil, fmt.Errorf("digest: failed to render: %w", err)
	}

	kept := make([]summarizer.Summary, len(summaries))
	copy(kept, summaries)

	return &Digest{
		Subject:   c.Subject,
		Body:      buf.String(),
		Summaries: kept,
	}, nil
}

// render converts model output to HTML. Raw HTML in the text is dropped by
// goldmark's default renderer.
func (c *Composer) render(text string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := c.md.Convert([]byte(text), &buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}
