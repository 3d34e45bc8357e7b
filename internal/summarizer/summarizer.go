package summarizer

import (
	"fmt"

	"github.com/ryosukesatoh/news-digest/internal/config"
)

// New creates a new summarizer based on the configuration
func New(cfg *config.Config) (Summarizer, error) {
	switch cfg.Summarizer.Type {
	case "openai":
		return NewOpenAISummarizer(cfg.Summarizer.APIKey, cfg.Summarizer.Model, cfg.Summarizer.BaseURL, cfg.Summarizer.Timeout), nil
	default:
		return nil, ErrUnsupportedSummarizerType
	}
}

// ErrUnsupportedSummarizerType is returned when an unsupported summarizer type is specified
var ErrUnsupportedSummarizerType = fmt.Errorf("unsupported summarizer type")
