// Package cli implements the bank-cli commands.
package cli

import (
	"context"
	"fmt"
	"time"

	"monobank/internal/client"
	"monobank/internal/config"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	BaseURL   string
	StateFile string
	Locale    string
	Format    string // "text" | "json"
	Vibrate   bool
	AlertTTL  time.Duration

	rejoiner *client.Rejoiner
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	defaults, err := config.LoadClient()
	if err != nil {
		defaults = config.ClientConfig{BaseURL: "http://localhost:8080", Locale: client.DefaultLocale, Vibrate: true, AlertTTL: 4 * time.Second}
	}
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "bank-cli",
		Short: "Shared table bank",
		Long:  "Keeps everyone's balance for a board game night. One player creates a session and acts as the banker, the rest join with its five-character code.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			opts.rejoiner = client.NewRejoiner(opts.StateFile)
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.BaseURL, "url", defaults.BaseURL, "bank server URL")
	cmd.PersistentFlags().StringVar(&opts.StateFile, "state", defaults.StateFile, "file remembering the last joined session")
	cmd.PersistentFlags().StringVar(&opts.Locale, "locale", defaults.Locale, "locale for amounts")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVar(&opts.Vibrate, "bell", defaults.Vibrate, "ring the terminal bell on incoming payments")
	cmd.PersistentFlags().DurationVar(&opts.AlertTTL, "alert-ttl", defaults.AlertTTL, "how long payment alerts stay visible")

	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewJoinCommand(opts))
	cmd.AddCommand(NewLeaveCommand(opts))
	cmd.AddCommand(NewPayCommand(opts))
	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewBonusCommand(opts))
	cmd.AddCommand(NewUndoCommand(opts))
	cmd.AddCommand(NewResetCommand(opts))
	cmd.AddCommand(NewResyncCommand(opts))
	cmd.AddCommand(NewBalancesCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (o *RootOptions) amounts() client.AmountFormat {
	return client.NewAmountFormat(o.Locale)
}

func (o *RootOptions) newClient() *client.Client {
	return client.New(o.BaseURL)
}

// attached is a client joined to the remembered session.
type attached struct {
	client  *client.Client
	session client.LastSession
	info    client.SessionInfo
}

// attach rejoins the remembered session. The join is replayed at most once
// per process.
func (o *RootOptions) attach(ctx context.Context) (*attached, error) {
	c := o.newClient()
	ls, info, err := o.rejoiner.Rejoin(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("rejoin last session: %w", err)
	}
	if ls == nil {
		return nil, fmt.Errorf("no session joined; run create or join first")
	}
	return &attached{client: c, session: *ls, info: info}, nil
}

// principal returns a client holding the remembered identity or a new one.
func (o *RootOptions) principal(ctx context.Context) (*client.Client, error) {
	if ls, err := client.LoadLastSession(o.StateFile); err == nil && ls != nil {
		return client.New(o.BaseURL, client.WithCredentials(ls.PrincipalID, ls.Token)), nil
	}
	c := o.newClient()
	if _, err := c.Anonymous(ctx); err != nil {
		return nil, fmt.Errorf("obtain identity: %w", err)
	}
	return c, nil
}
