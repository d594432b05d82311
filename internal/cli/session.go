package cli

import (
	"fmt"

	"monobank/internal/client"
	"monobank/internal/ledger"

	"github.com/spf13/cobra"
)

type createOptions struct {
	*RootOptions
	Name         string
	Password     string
	StartBalance int64
	StartBonus   int64
}

func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &createOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a session and become its banker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, err := opts.principal(ctx)
			if err != nil {
				return err
			}
			params := client.CreateSessionParams{Name: opts.Name, Password: opts.Password}
			if cmd.Flags().Changed("start-balance") {
				params.StartBalance = &opts.StartBalance
			}
			if cmd.Flags().Changed("start-bonus") {
				params.StartBonus = &opts.StartBonus
			}
			info, err := c.CreateSession(ctx, params)
			if err != nil {
				return err
			}
			if err := client.SaveLastSession(opts.StateFile, client.LastSession{
				SessionID:   info.Session.ID,
				Name:        opts.Name,
				Password:    opts.Password,
				PrincipalID: c.Principal(),
				Token:       c.Token(),
			}); err != nil {
				return err
			}
			out := newOutput(cmd, opts.RootOptions)
			return out.result(info, func() {
				out.printf("Session %s created. Start balance %s, start bonus %s.\n",
					info.Session.ID,
					opts.amounts().Format(info.Session.StartBalance),
					opts.amounts().Format(info.Session.StartBonus))
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "your display name")
	cmd.Flags().StringVar(&opts.Password, "password", "", "session password (empty for none)")
	cmd.Flags().Int64Var(&opts.StartBalance, "start-balance", ledger.DefaultStartBalance, "balance of every new account")
	cmd.Flags().Int64Var(&opts.StartBonus, "start-bonus", ledger.DefaultStartBonus, "amount of the start bonus (0 disables it)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

type joinOptions struct {
	*RootOptions
	Name     string
	Password string
}

func NewJoinCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &joinOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "join <session-id>",
		Short: "Join a session with its code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := opts.principal(ctx)
			if err != nil {
				return err
			}
			info, err := c.JoinSession(ctx, args[0], opts.Name, opts.Password)
			if err != nil {
				return err
			}
			if err := client.SaveLastSession(opts.StateFile, client.LastSession{
				SessionID:   info.Session.ID,
				Name:        opts.Name,
				Password:    opts.Password,
				PrincipalID: c.Principal(),
				Token:       c.Token(),
			}); err != nil {
				return err
			}
			out := newOutput(cmd, opts.RootOptions)
			return out.result(info, func() {
				verb := "Joined"
				if !info.Created {
					verb = "Rejoined"
				}
				balance := int64(0)
				if info.Account != nil {
					balance = info.Account.Balance
				}
				out.printf("%s session %s. Balance %s.\n", verb, info.Session.ID, opts.amounts().Format(balance))
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "your display name")
	cmd.Flags().StringVar(&opts.Password, "password", "", "session password")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func NewLeaveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "leave",
		Short: "Forget the remembered session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := client.ClearLastSession(opts.StateFile); err != nil {
				return err
			}
			newOutput(cmd, opts).printf("Session forgotten.\n")
			return nil
		},
	}
}

type resetOptions struct {
	*RootOptions
	Confirm string
}

func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &resetOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the session and all of its history (banker only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := opts.attach(ctx)
			if err != nil {
				return err
			}
			if opts.Confirm == "" {
				return fmt.Errorf("repeat the session id with --confirm %s", a.session.SessionID)
			}
			if err := a.client.Reset(ctx, a.session.SessionID, opts.Confirm); err != nil {
				return err
			}
			if err := client.ClearLastSession(opts.StateFile); err != nil {
				return err
			}
			newOutput(cmd, opts.RootOptions).printf("Session %s deleted.\n", a.session.SessionID)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Confirm, "confirm", "", "the session id, to confirm")
	return cmd
}

func NewResyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resync",
		Short: "Make every connected client reload the session (banker only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := opts.attach(ctx)
			if err != nil {
				return err
			}
			if err := a.client.Resync(ctx, a.session.SessionID); err != nil {
				return err
			}
			newOutput(cmd, opts).printf("Resync requested.\n")
			return nil
		},
	}
}
