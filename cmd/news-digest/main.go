package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ryosukesatoh/news-digest/internal/config"
	"github.com/ryosukesatoh/news-digest/internal/credential"
	"github.com/ryosukesatoh/news-digest/internal/digest"
	"github.com/ryosukesatoh/news-digest/internal/fetcher"
	"github.com/ryosukesatoh/news-digest/internal/mailer"
	"github.com/ryosukesatoh/news-digest/internal/preview"
	"github.com/ryosukesatoh/news-digest/internal/retry"
	"github.com/ryosukesatoh/news-digest/internal/runner"
	"github.com/ryosukesatoh/news-digest/internal/summarizer"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "news-digest",
		Short:         "Email a daily digest of summarized news",
		Long:          "news-digest fetches current news, summarizes each story with a language model, and emails the digest through Gmail.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to config file")

	loadConfig := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		return cfg, nil
	}

	root.AddCommand(
		newRunCmd(loadConfig),
		newScheduleCmd(loadConfig),
		newAuthCmd(loadConfig),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "news-digest %s\n", version)
			},
		},
	)
	return root
}

// pipeline holds a built runner and the resources it owns.
type pipeline struct {
	runner  *runner.Runner
	store   *credential.Store
	preview *preview.Server
}

// buildPipeline wires cfg into a runner. The preview server is attached only
// when serve is set, since only a long-running process can serve it.
func buildPipeline(cfg *config.Config, serve bool) (*pipeline, error) {
	f, err := fetcher.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("fetcher %q: %w", cfg.News.Type, err)
	}
	s, err := summarizer.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("summarizer %q: %w", cfg.Summarizer.Type, err)
	}

	p := &pipeline{}
	var creds runner.CredentialStore
	var source mailer.CredentialSource
	if cfg.Mailer.Type == "gmail" {
		p.store, err = credential.Open(cfg)
		if err != nil {
			return nil, err
		}
		creds, source = p.store, p.store
	}

	m, err := mailer.New(cfg, source)
	if err != nil {
		p.close()
		return nil, fmt.Errorf("mailer %q: %w", cfg.Mailer.Type, err)
	}

	var observers []runner.Observer
	if serve && cfg.Preview.Addr != "" {
		p.preview = preview.NewServer(cfg.Preview.Addr)
		observers = append(observers, p.preview)
	}

	p.runner = runner.New(runner.Options{
		Query:       cfg.News.Query,
		MaxResults:  cfg.MaxResults,
		Concurrency: cfg.Summarizer.Concurrency,
		Recipients:  cfg.Mailer.To,
		Retry:       retry.Config{MaxRetries: cfg.Retry.MaxRetries, BaseDelay: cfg.Retry.BaseDelay},
	}, f, s, digest.NewComposer(cfg.Mailer.Subject, ""), m, creds, observers...)

	return p, nil
}

func (p *pipeline) close() {
	if p.store != nil {
		p.store.Close()
	}
}
