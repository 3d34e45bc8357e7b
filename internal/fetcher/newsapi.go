package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ryosukesatoh/news-digest/internal/retry"
)

// NewsAPI JSON structures

type newsAPIResponse struct {
	Status   string           `json:"status"`
	Code     string           `json:"code"`
	Message  string           `json:"message"`
	Articles []newsAPIArticle `json:"articles"`
}

type newsAPIArticle struct {
	Source      newsAPISource `json:"source"`
	Title       string        `json:"title"`
	Description *string       `json:"description"`
	URL         string        `json:"url"`
	PublishedAt string        `json:"publishedAt"`
}

type newsAPISource struct {
	Name string `json:"name"`
}

// removedMarker is what NewsAPI substitutes for articles pulled by the publisher.
const removedMarker = "[Removed]"

// NewsAPIFetcher fetches articles from newsapi.org.
type NewsAPIFetcher struct {
	client   *http.Client
	baseURL  string
	apiKey   string
	language string
}

func NewNewsAPIFetcher(apiKey, language string, timeout time.Duration) *NewsAPIFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &NewsAPIFetcher{
		client:   &http.Client{Timeout: timeout},
		baseURL:  "https://newsapi.org/v2",
		apiKey:   apiKey,
		language: language,
	}
}

func (f *NewsAPIFetcher) Fetch(ctx context.Context, query string, maxResults int) ([]Article, error) {
	maxResults = clampResults(maxResults)

	params := url.Values{}
	params.Set("language", f.language)
	params.Set("pageSize", strconv.Itoa(maxResults))
	params.Set("apiKey", f.apiKey)

	endpoint := "top-headlines"
	if query = strings.TrimSpace(query); query != "" {
		endpoint = "everything"
		params.Set("q", query)
		params.Set("sortBy", "relevancy")
	}

	reqURL := fmt.Sprintf("%s/%s?%s", strings.TrimSuffix(f.baseURL, "/"), endpoint, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("newsapi: failed to create request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, retry.Transient(&ProviderError{Provider: "newsapi", Err: fmt.Errorf("request failed: %w", stripURL(err))})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retry.Transient(&ProviderError{Provider: "newsapi", Err: fmt.Errorf("failed to read response: %w", err)})
	}

	if resp.StatusCode != http.StatusOK {
		perr := &ProviderError{Provider: "newsapi", StatusCode: resp.StatusCode, Err: errors.New(apiMessage(body))}
		if retry.HTTPStatusRetryable(resp.StatusCode) {
			return nil, retry.Transient(perr)
		}
		return nil, perr
	}

	var payload newsAPIResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &ProviderError{Provider: "newsapi", Err: fmt.Errorf("failed to parse JSON: %w", err)}
	}
	if payload.Status != "" && payload.Status != "ok" {
		return nil, &ProviderError{Provider: "newsapi", Err: fmt.Errorf("%s: %s", payload.Code, payload.Message)}
	}

	articles := make([]Article, 0, len(payload.Articles))
	for _, a := range payload.Articles {
		title := strings.TrimSpace(a.Title)
		if title == "" || a.URL == "" || title == removedMarker {
			continue
		}

		var description string
		if a.Description != nil {
			description = PlainText(*a.Description)
		}

		published, _ := time.Parse(time.RFC3339, a.PublishedAt)

		articles = append(articles, Article{
			ID:          a.URL,
			Title:       title,
			Description: description,
			URL:         a.URL,
			Source:      a.Source.Name,
			PublishedAt: published,
		})
		if len(articles) == maxResults {
			break
		}
	}

	return articles, nil
}

// apiMessage extracts NewsAPI's error message, falling back to the raw body.
func apiMessage(body []byte) string {
	var payload newsAPIResponse
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		msg = "empty response body"
	}
	return msg
}

// stripURL drops the request URL, which carries the API key, from transport errors.
func stripURL(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s: %w", uerr.Op, uerr.Err)
	}
	return err
}
