package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/ryosukesatoh/news-digest/internal/fetcher"
	"github.com/ryosukesatoh/news-digest/internal/retry"
)

// OpenAISummarizer summarizes articles with the chat completions API.
type OpenAISummarizer struct {
	client  openai.Client
	model   string
	timeout time.Duration
	now     func() time.Time
}

func NewOpenAISummarizer(apiKey, model, baseURL string, timeout time.Duration, extra ...option.RequestOption) *OpenAISummarizer {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Retries belong to the pipeline so backoff is not layered twice.
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	opts = append(opts, extra...)

	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAISummarizer{
		client:  openai.NewClient(opts...),
		model:   model,
		timeout: timeout,
		now:     time.Now,
	}
}

func (s *OpenAISummarizer) Summarize(ctx context.Context, article fetcher.Article) (Summary, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.Chat.Completions.New(callCtx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(s.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(BuildPrompt(article)),
		},
	})
	if err != nil {
		return Summary{}, classify(ctx, err)
	}

	if len(resp.Choices) == 0 {
		return Summary{}, fmt.Errorf("%w: openai: empty choices", ErrSummarizationFailed)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return Summary{}, fmt.Errorf("%w: openai: empty response content", ErrSummarizationFailed)
	}

	return Summary{
		Article:     article,
		BulletText:  text,
		GeneratedAt: s.now(),
	}, nil
}

// classify wraps err as ErrSummarizationFailed and marks the failures worth
// retrying: 5xx, 429, per-call timeouts and transport errors.
func classify(parent context.Context, err error) error {
	wrapped := fmt.Errorf("%w: openai: %w", ErrSummarizationFailed, err)

	if parent.Err() != nil {
		return wrapped
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if retry.HTTPStatusRetryable(apiErr.StatusCode) {
			return retry.Transient(wrapped)
		}
		return wrapped
	}
	// No API error means no answer arrived: per-call timeout or transport failure.
	return retry.Transient(wrapped)
}
