package fetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/ryosukesatoh/news-digest/internal/config"
)

// DefaultMaxResults bounds summarization cost when the caller does not say otherwise.
const DefaultMaxResults = 3

// Article is a candidate news story. The ID is the article URL.
type Article struct {
	ID          string
	Title       string
	Description string
	URL         string
	Source      string
	PublishedAt time.Time
}

// Fetcher retrieves an ordered list of articles. An empty query means top
// headlines; a non-empty query means relevance-ranked matches.
type Fetcher interface {
	Fetch(ctx context.Context, query string, maxResults int) ([]Article, error)
}

// ProviderError reports a non-2xx response or an unreadable payload from a
// news provider. Callers treat it as "no articles".
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: unexpected status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// New creates a new fetcher based on the configuration
func New(cfg *config.Config) (Fetcher, error) {
	switch cfg.News.Type {
	case "newsapi":
		f := NewNewsAPIFetcher(cfg.News.APIKey, cfg.News.Language, cfg.News.Timeout)
		if cfg.News.BaseURL != "" {
			f.baseURL = cfg.News.BaseURL
		}
		return f, nil
	case "rss":
		return NewRSSFetcher(cfg.News.Feeds, cfg.News.Timeout), nil
	default:
		return nil, ErrUnsupportedFetcherType
	}
}

// ErrUnsupportedFetcherType is returned when an unsupported fetcher type is specified
var ErrUnsupportedFetcherType = fmt.Errorf("unsupported fetcher type")

func clampResults(maxResults int) int {
	if maxResults <= 0 {
		return DefaultMaxResults
	}
	if maxResults > config.MaxPageSize {
		return config.MaxPageSize
	}
	return maxResults
}
