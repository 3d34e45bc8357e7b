package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/ryosukesatoh/news-digest/internal/credential"
	"github.com/ryosukesatoh/news-digest/internal/digest"
	"github.com/ryosukesatoh/news-digest/internal/fetcher"
	"github.com/ryosukesatoh/news-digest/internal/mailer"
	"github.com/ryosukesatoh/news-digest/internal/retry"
	"github.com/ryosukesatoh/news-digest/internal/summarizer"
)

// State is the pipeline stage a run is in or ended in.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateSummarizing
	StateComposing
	StateSending
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateSummarizing:
		return "summarizing"
	case StateComposing:
		return "composing"
	case StateSending:
		return "sending"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Reason classifies how a run ended when it did not send a digest.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonNoArticles          Reason = "no_articles"
	ReasonSummarizationFailed Reason = "summarization_failed"
	ReasonComposeFailed       Reason = "compose_failed"
	ReasonReauthRequired      Reason = "reauth_required"
	ReasonAuthRejected        Reason = "auth_rejected"
	ReasonDeliveryFailed      Reason = "delivery_failed"
	ReasonInvalidRecipients   Reason = "invalid_recipients"
	ReasonCancelled           Reason = "cancelled"
)

// Outcome is the result of one run. State is always StateDone or StateFailed.
type Outcome struct {
	RunID     string
	State     State
	Reason    Reason
	MessageID string
	Articles  int
	Summaries int
	Err       error
}

func (o Outcome) String() string {
	s := fmt.Sprintf("run %s %s", o.RunID, o.State)
	if o.Reason != ReasonNone {
		s += fmt.Sprintf(" (%s)", o.Reason)
	}
	if o.MessageID != "" {
		s += fmt.Sprintf(", message id %s", o.MessageID)
	}
	return s
}

type Composer interface {
	Compose(summaries []summarizer.Summary) (*digest.Digest, error)
}

type Mailer interface {
	Send(ctx context.Context, d *digest.Digest, recipients []string) (string, error)
}

// CredentialStore is the part of the credential store the runner needs to
// recover from a rejected token.
type CredentialStore interface {
	Current(ctx context.Context) (*credential.Credential, error)
	Invalidate() error
}

// Observer is offered every composed digest before it is sent. Errors are
// logged and never fail the run.
type Observer interface {
	Publish(ctx context.Context, d *digest.Digest) error
}

type Options struct {
	Query       string
	MaxResults  int
	Concurrency int
	Recipients  []string
	Retry       retry.Config
}

// Runner orchestrates the fetch -> summarize -> compose -> send pipeline.
type Runner struct {
	opts       Options
	fetcher    fetcher.Fetcher
	summarizer summarizer.Summarizer
	composer   Composer
	mailer     Mailer
	creds      CredentialStore
	observers  []Observer
	newID      func() string
}

func New(opts Options, f fetcher.Fetcher, s summarizer.Summarizer, c Composer, m Mailer, creds CredentialStore, observers ...Observer) *Runner {
	return &Runner{
		opts:       opts,
		fetcher:    f,
		summarizer: s,
		composer:   c,
		mailer:     m,
		creds:      creds,
		observers:  observers,
		newID:      uuid.NewString,
	}
}

// Run executes the full pipeline once.
func (r *Runner) Run(ctx context.Context) Outcome {
	out := Outcome{RunID: r.newID(), State: StateIdle}
	logger := log.New(log.Writer(), fmt.Sprintf("[run %s] ", out.RunID), log.Flags()|log.Lmsgprefix)

	fail := func(reason Reason, err error) Outcome {
		if ctx.Err() != nil {
			reason, err = ReasonCancelled, ctx.Err()
		}
		logger.Printf("Run failed while %s: %s: %v", out.State, reason, err)
		out.State = StateFailed
		out.Reason = reason
		out.Err = err
		return out
	}

	logger.Printf("Starting pipeline (query=%q, max_results=%d)", r.opts.Query, r.opts.MaxResults)

	// Step 1: Fetch articles
	out.State = StateFetching
	articles, err := r.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return fail(ReasonCancelled, err)
		}
		logger.Printf("WARNING: fetch failed, continuing with no articles: %v", err)
		articles = nil
	}
	out.Articles = len(articles)
	if len(articles) == 0 {
		logger.Println("No articles found")
		out.State = StateDone
		out.Reason = ReasonNoArticles
		return out
	}
	logger.Printf("Fetched %d articles", len(articles))

	// Step 2: Summarize
	out.State = StateSummarizing
	summaries := r.summarize(ctx, articles, logger)
	if ctx.Err() != nil {
		return fail(ReasonCancelled, ctx.Err())
	}
	out.Summaries = len(summaries)
	if len(summaries) == 0 {
		return fail(ReasonSummarizationFailed, fmt.Errorf("runner: all %d summaries failed", len(articles)))
	}
	logger.Printf("Summarized %d of %d articles", len(summaries), len(articles))

	// Step 3: Compose
	out.State = StateComposing
	d, err := r.composer.Compose(summaries)
	if err != nil {
		return fail(ReasonComposeFailed, err)
	}
	for _, o := range r.observers {
		if err := o.Publish(ctx, d); err != nil {
			logger.Printf("WARNING: observer %T failed: %v", o, err)
		}
	}

	// Step 4: Send
	out.State = StateSending
	id, err := r.mailer.Send(ctx, d, r.opts.Recipients)
	if err != nil && errors.Is(err, mailer.ErrAuthRejected) && r.creds != nil && ctx.Err() == nil {
		logger.Printf("Credential rejected, re-authorizing and retrying once")
		id, err = r.resend(ctx, d, logger)
	}
	if err != nil {
		return fail(sendReason(err), err)
	}

	out.State = StateDone
	out.MessageID = id
	logger.Printf("Pipeline completed, message id %s", id)
	return out
}

func (r *Runner) fetch(ctx context.Context) ([]fetcher.Article, error) {
	var articles []fetcher.Article
	err := retry.WithBackoff(ctx, r.opts.Retry, func(ctx context.Context) error {
		a, err := r.fetcher.Fetch(ctx, r.opts.Query, r.opts.MaxResults)
		if err != nil {
			return err
		}
		articles = a
		return nil
	})
	return articles, err
}

// summarize fans out one call per article, bounded by Concurrency. Failed
// articles are dropped; survivors keep fetch order.
func (r *Runner) summarize(ctx context.Context, articles []fetcher.Article, logger *log.Logger) []summarizer.Summary {
	concurrency := r.opts.Concurrency
	if concurrency < 1 {
		concurrency = len(articles)
	}

	results := make([]*summarizer.Summary, len(articles))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, article := range articles {
		wg.Add(1)
		go func(i int, article fetcher.Article) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			var s summarizer.Summary
			err := retry.WithBackoff(ctx, r.opts.Retry, func(ctx context.Context) error {
				var err error
				s, err = r.summarizer.Summarize(ctx, article)
				return err
			})
			if err != nil {
				logger.Printf("WARNING: dropping article %q: %v", article.Title, err)
				return
			}
			results[i] = &s
		}(i, article)
	}
	wg.Wait()

	summaries := make([]summarizer.Summary, 0, len(articles))
	for _, s := range results {
		if s != nil {
			summaries = append(summaries, *s)
		}
	}
	return summaries
}

func (r *Runner) resend(ctx context.Context, d *digest.Digest, logger *log.Logger) (string, error) {
	if err := r.creds.Invalidate(); err != nil {
		logger.Printf("WARNING: failed to invalidate credential: %v", err)
	}
	if _, err := r.creds.Current(ctx); err != nil {
		return "", err
	}
	return r.mailer.Send(ctx, d, r.opts.Recipients)
}

func sendReason(err error) Reason {
	switch {
	case errors.Is(err, mailer.ErrRecipientListEmpty), errors.Is(err, mailer.ErrInvalidRecipient):
		return ReasonInvalidRecipients
	case errors.Is(err, credential.ErrReauthRequired), errors.Is(err, credential.ErrAuthorizationFailed):
		return ReasonReauthRequired
	case errors.Is(err, mailer.ErrAuthRejected):
		return ReasonAuthRejected
	default:
		return ReasonDeliveryFailed
	}
}
