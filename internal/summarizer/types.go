package summarizer

import (
	"context"
	"errors"
	"time"

	"github.com/ryosukesatoh/news-digest/internal/fetcher"
)

// Summary is the model's bullet-point digest of a single article.
type Summary struct {
	Article     fetcher.Article `json:"article"`
	BulletText  string          `json:"bullet_text"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// Summarizer turns one article into one Summary. Implementations do not retry.
type Summarizer interface {
	Summarize(ctx context.Context, article fetcher.Article) (Summary, error)
}

// ErrSummarizationFailed wraps every provider error, timeout or empty completion.
var ErrSummarizationFailed = errors.New("summarization failed")
