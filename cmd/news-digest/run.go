package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/ryosukesatoh/news-digest/internal/config"
	"github.com/ryosukesatoh/news-digest/internal/runner"
)

func newRunCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			p, err := buildPipeline(cfg, false)
			if err != nil {
				return err
			}
			defer p.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Println("Running digest (once mode)...")
			out := p.runner.Run(ctx)
			if out.State == runner.StateFailed {
				return fmt.Errorf("pipeline failed: %s: %w", out, out.Err)
			}
			log.Printf("Done: %s", out)
			return nil
		},
	}
}

func newScheduleCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	var runOnStart bool

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the pipeline on the configured cron schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("run-on-start") {
				cfg.RunOnStart = runOnStart
			}

			p, err := buildPipeline(cfg, true)
			if err != nil {
				return err
			}
			defer p.close()

			if p.preview != nil {
				if err := p.preview.Start(); err != nil {
					return err
				}
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := p.preview.Shutdown(shutdownCtx); err != nil {
						log.Printf("Preview server shutdown error: %v", err)
					}
				}()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return schedule(ctx, cfg, p.runner)
		},
	}
	cmd.Flags().BoolVar(&runOnStart, "run-on-start", false, "run the pipeline immediately before waiting for the schedule")
	return cmd
}

// schedule runs r on cfg.Schedule until ctx is cancelled. A run still in
// progress when the next tick fires makes that tick a no-op.
func schedule(ctx context.Context, cfg *config.Config, r *runner.Runner) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err := c.AddFunc(cfg.Schedule, func() {
		log.Println("Cron triggered, running digest...")
		out := r.Run(ctx)
		if out.State == runner.StateFailed {
			log.Printf("Scheduled run failed: %s: %v", out, out.Err)
			return
		}
		log.Printf("Scheduled run finished: %s", out)
	})
	if err != nil {
		return fmt.Errorf("failed to set up cron schedule %q: %w", cfg.Schedule, err)
	}

	// Run immediately on startup if configured
	if cfg.RunOnStart {
		log.Println("Running initial digest...")
		if out := r.Run(ctx); out.State == runner.StateFailed {
			log.Printf("Initial run failed: %s: %v", out, out.Err)
		}
	}

	c.Start()
	log.Printf("Scheduled digest with cron expression: %s", cfg.Schedule)

	<-ctx.Done()
	log.Println("Shutting down...")
	<-c.Stop().Done()
	log.Println("Shutdown complete")
	return nil
}
