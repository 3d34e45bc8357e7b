package digest

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ryosukesatoh/news-digest/internal/fetcher"
	"github.com/ryosukesatoh/news-digest/internal/summarizer"
)

func makeSummaries(n int) []summarizer.Summary {
	out := make([]summarizer.Summary, n)
	for i := range out {
		url := fmt.Sprintf("https://example.com/story-%d", i+1)
		out[i] = summarizer.Summary{
			Article: fetcher.Article{
				ID:     url,
				Title:  fmt.Sprintf("Story %d", i+1),
				URL:    url,
				Source: "Example Wire",
			},
			BulletText:  fmt.Sprintf("- point %d.a\n- point %d.b", i+1, i+1),
			GeneratedAt: time.Date(2025, 1, 15, 8, i, 0, 0, time.UTC),
		}
	}
	return out
}

func TestComposeEmpty(t *testing.T) {
	c := NewComposer("", "")

	for _, in := range [][]summarizer.Summary{nil, {}} {
		d, err := c.Compose(in)
		if !errors.Is(err, ErrNoSummaries) {
			t.Errorf("Expected ErrNoSummaries, got: %v", err)
		}
		if d != nil {
			t.Error("Expected nil digest on empty input")
		}
	}
}

func TestComposeDeterministic(t *testing.T) {
	in := makeSummaries(3)

	first, err := NewComposer("", "").Compose(in)
	if err != nil {
		t.Fatalf("Compose returned error: %v", err)
	}
	second, err := NewComposer("", "").Compose(in)
	if err != nil {
		t.Fatalf("Compose returned error: %v", err)
	}

	if first.Body != second.Body {
		t.Error("Expected byte-identical bodies for identical input")
	}
	if first.Subject != "🗞️ Your Daily News Digest" {
		t.Errorf("Expected default subject, got %q", first.Subject)
	}
}

func TestComposeOrderAndSections(t *testing.T) {
	d, err := NewComposer("Morning news", "Headlines").Compose(makeSummaries(3))
	if err != nil {
		t.Fatalf("Compose returned error: %v", err)
	}

	if d.Subject != "Morning news" {
		t.Errorf("Expected custom subject, got %q", d.Subject)
	}
	if !strings.Contains(d.Body, "<h2>Headlines</h2>") {
		t.Error("Expected custom title heading")
	}
	if got := strings.Count(d.Body, "<hr>"); got != 3 {
		t.Errorf("Expected 3 separators, got %d", got)
	}

	last := -1
	for i := 1; i <= 3; i++ {
		heading := fmt.Sprintf("<h3>Article %d</h3>", i)
		idx := strings.Index(d.Body, heading)
		if idx < 0 {
			t.Fatalf("Missing section %q", heading)
		}
		if idx < last {
			t.Errorf("Section %d is out of order", i)
		}
		last = idx

		link := fmt.Sprintf(`<a href="https://example.com/story-%d">Story %d</a>`, i, i)
		if !strings.Contains(d.Body, link) {
			t.Errorf("Expected link %q", link)
		}
	}

	if len(d.Summaries) != 3 || d.Summaries[0].Article.Title != "Story 1" {
		t.Error("Expected digest to carry its summaries in order")
	}
}

func TestComposeRendersBullets(t *testing.T) {
	in := makeSummaries(1)
	d, err := NewComposer("", "").Compose(in)
	if err != nil {
		t.Fatalf("Compose returned error: %v", err)
	}

	if !strings.Contains(d.Body, "<li>point 1.a</li>") {
		t.Errorf("Expected bullet list items, got:\n%s", d.Body)
	}
}

func TestComposeHardWraps(t *testing.T) {
	in := makeSummaries(1)
	in[0].BulletText = "first line\nsecond line"

	d, err := NewComposer("", "").Compose(in)
	if err != nil {
		t.Fatalf("Compose returned error: %v", err)
	}

	if !strings.Contains(d.Body, "first line<br>") {
		t.Errorf("Expected line break to become <br>, got:\n%s", d.Body)
	}
}

func TestComposeDropsRawHTML(t *testing.T) {
	in := makeSummaries(1)
	in[0].BulletText = "<script>alert(1)</script>\n\n- safe"
	in[0].Article.Title = "<b>bold</b>"

	d, err := NewComposer("", "").Compose(in)
	if err != nil {
		t.Fatalf("Compose returned error: %v", err)
	}

	if strings.Contains(d.Body, "<script>") {
		t.Error("Expected raw HTML from model output to be dropped")
	}
	if strings.Contains(d.Body, "<b>bold</b>") {
		t.Error("Expected article title to be escaped")
	}
}

func TestComposeDoesNotAliasInput(t *testing.T) {
	in := makeSummaries(2)
	d, err := NewComposer("", "").Compose(in)
	if err != nil {
		t.Fatalf("Compose returned error: %v", err)
	}

	in[0].BulletText = "changed"
	if d.Summaries[0].BulletText == "changed" {
		t.Error("Expected digest to hold its own copy of the summaries")
	}
}
