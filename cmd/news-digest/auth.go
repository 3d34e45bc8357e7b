package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ryosukesatoh/news-digest/internal/config"
	"github.com/ryosukesatoh/news-digest/internal/credential"
	"github.com/ryosukesatoh/news-digest/internal/digest"
	"github.com/ryosukesatoh/news-digest/internal/mailer"
	"github.com/ryosukesatoh/news-digest/internal/retry"
)

func newAuthCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	var (
		force  bool
		testTo string
	)

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authorize Gmail access and store the credential",
		Long:  "auth runs the browser consent flow when no usable credential is stored, and refreshes an expired one.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := credential.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if force {
				if err := store.Invalidate(); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cred, err := store.Current(ctx)
			if err != nil {
				return err
			}
			expiry := "never"
			if !cred.Expiry.IsZero() {
				expiry = cred.Expiry.Local().Format("2006-01-02 15:04 MST")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Credential stored at %s (access token expires %s)\n", cfg.Credential.Path, expiry)

			if testTo == "" {
				return nil
			}
			m := mailer.NewMailer(store, mailer.NewGmailTransport(cfg.Mailer.Timeout), cfg.Mailer.From,
				retry.Config{MaxRetries: cfg.Retry.MaxRetries, BaseDelay: cfg.Retry.BaseDelay})
			id, err := sendTestMessage(ctx, m, testTo)
			if err != nil {
				return fmt.Errorf("test message: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Test message sent to %s (id %s)\n", testTo, id)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "discard the stored credential and authorize again")
	cmd.Flags().StringVar(&testTo, "test-to", "", "send a test message to this address after authorizing")

	cmd.AddCommand(&cobra.Command{
		Use:   "logout",
		Short: "Delete the stored credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			p, err := credential.OpenPersister(cfg.Credential)
			if err != nil {
				return err
			}
			store := credential.NewStore(p, nil, nil)
			defer store.Close()

			if err := store.Invalidate(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed credential at %s\n", cfg.Credential.Path)
			return nil
		},
	})
	return cmd
}

// sendTestMessage mails a one-line message to check the grant end to end.
func sendTestMessage(ctx context.Context, m *mailer.Mailer, to string) (string, error) {
	return m.Send(ctx, &digest.Digest{
		Subject: "news-digest test message",
		Body:    "<p>Gmail access for news-digest is working.</p>",
	}, []string{to})
}
