package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/ryosukesatoh/news-digest/internal/retry"
)

// RSSFetcher reads articles from a fixed list of RSS/Atom feeds. Feeds are
// read in configuration order and items keep the order the feed lists them in.
type RSSFetcher struct {
	parser *gofeed.Parser
	feeds  []string
}

func NewRSSFetcher(feeds []string, timeout time.Duration) *RSSFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: timeout}
	parser.UserAgent = "news-digest/1.0"
	return &RSSFetcher{parser: parser, feeds: feeds}
}

func (f *RSSFetcher) Fetch(ctx context.Context, query string, maxResults int) ([]Article, error) {
	maxResults = clampResults(maxResults)
	query = strings.ToLower(strings.TrimSpace(query))

	var (
		articles []Article
		seen     = make(map[string]bool)
		failures []error
	)

	for _, feedURL := range f.feeds {
		if len(articles) == maxResults {
			break
		}

		feed, err := f.parser.ParseURLWithContext(feedURL, ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			perr := feedError(feedURL, err)
			log.Printf("WARNING: %v", perr)
			failures = append(failures, perr)
			continue
		}

		for _, item := range feed.Items {
			if len(articles) == maxResults {
				break
			}
			link := strings.TrimSpace(item.Link)
			title := strings.TrimSpace(item.Title)
			if link == "" || title == "" || seen[link] {
				continue
			}

			description := item.Description
			if description == "" {
				description = item.Content
			}
			description = PlainText(description)

			if query != "" && !matches(query, title, description) {
				continue
			}

			var published time.Time
			if item.PublishedParsed != nil {
				published = *item.PublishedParsed
			} else if item.UpdatedParsed != nil {
				published = *item.UpdatedParsed
			}

			seen[link] = true
			articles = append(articles, Article{
				ID:          link,
				Title:       title,
				Description: description,
				URL:         link,
				Source:      feed.Title,
				PublishedAt: published,
			})
		}
	}

	// Partial feed outages are tolerated; only a total outage is reported.
	if len(articles) == 0 && len(failures) > 0 && len(failures) == len(f.feeds) {
		return nil, errors.Join(failures...)
	}

	return articles, nil
}

func feedError(feedURL string, err error) error {
	var httpErr gofeed.HTTPError
	if errors.As(err, &httpErr) {
		perr := &ProviderError{Provider: "rss " + feedURL, StatusCode: httpErr.StatusCode, Err: errors.New(httpErr.Status)}
		if retry.HTTPStatusRetryable(httpErr.StatusCode) {
			return retry.Transient(perr)
		}
		return perr
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return retry.Transient(&ProviderError{Provider: "rss " + feedURL, Err: fmt.Errorf("request failed: %w", err)})
	}
	// Anything else came out of the parser: the payload is malformed.
	return &ProviderError{Provider: "rss " + feedURL, Err: err}
}

func matches(query, title, description string) bool {
	return strings.Contains(strings.ToLower(title), query) ||
		strings.Contains(strings.ToLower(description), query)
}
