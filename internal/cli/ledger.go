package cli

import (
	"context"
	"fmt"
	"strings"

	"monobank/internal/client"
	"monobank/internal/ledger"

	"github.com/spf13/cobra"
)

// resolvePlayer finds a member by principal id or by case-insensitive
// display name.
func resolvePlayer(ctx context.Context, a *attached, who string) (ledger.Account, error) {
	accounts, err := a.client.Accounts(ctx, a.session.SessionID)
	if err != nil {
		return ledger.Account{}, err
	}
	var match []ledger.Account
	for _, acc := range accounts {
		if acc.PrincipalID == who {
			return acc, nil
		}
		if strings.EqualFold(acc.Name, strings.TrimSpace(who)) {
			match = append(match, acc)
		}
	}
	switch len(match) {
	case 0:
		return ledger.Account{}, fmt.Errorf("%w: no player %q", ledger.ErrUnknownAccount, who)
	case 1:
		return match[0], nil
	default:
		return ledger.Account{}, fmt.Errorf("several players are called %q; use the principal id", who)
	}
}

func submit(ctx context.Context, key string, fn func(ctx context.Context, requestID string) (client.Result, error)) (client.Result, error) {
	var res client.Result
	err := client.NewSubmitter().Submit(ctx, key, func(ctx context.Context, requestID string) error {
		var err error
		res, err = fn(ctx, requestID)
		return err
	})
	return res, err
}

func (o *RootOptions) printResult(cmd *cobra.Command, res client.Result, text string) error {
	out := newOutput(cmd, o)
	return out.result(res, func() {
		suffix := ""
		if res.Replayed {
			suffix = " (already applied)"
		}
		out.printf("%s%s [%s]\n", text, suffix, res.TransactionID)
		for _, an := range res.Anomalies {
			out.printf("warning: %s no longer exists, %s not reverted\n", an.PrincipalID, o.amounts().Format(an.Amount))
		}
	})
}

type payOptions struct {
	*RootOptions
	To   string
	Bank bool
}

func NewPayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &payOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "pay <amount>",
		Short: "Pay another player or the bank",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Bank == (opts.To != "") {
				return fmt.Errorf("pass exactly one of --to or --bank")
			}
			amount, err := opts.amounts().Parse(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := opts.attach(ctx)
			if err != nil {
				return err
			}
			to := ledger.Bank()
			label := "the bank"
			if !opts.Bank {
				acc, err := resolvePlayer(ctx, a, opts.To)
				if err != nil {
					return err
				}
				to, label = ledger.AccountOf(acc.PrincipalID), acc.Name
			}
			res, err := submit(ctx, "pay:"+to.String(), func(ctx context.Context, requestID string) (client.Result, error) {
				return a.client.Transfer(ctx, a.session.SessionID, to, amount, requestID)
			})
			if err != nil {
				return err
			}
			return opts.printResult(cmd, res, fmt.Sprintf("Paid %s to %s.", opts.amounts().Format(amount), label))
		},
	}
	cmd.Flags().StringVar(&opts.To, "to", "", "player name or principal id")
	cmd.Flags().BoolVar(&opts.Bank, "bank", false, "pay the bank")
	return cmd
}

func NewAddCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <player> <amount>",
		Short: "Credit a player from the bank (banker only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := opts.amounts().Parse(args[1])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := opts.attach(ctx)
			if err != nil {
				return err
			}
			acc, err := resolvePlayer(ctx, a, args[0])
			if err != nil {
				return err
			}
			res, err := submit(ctx, "add:"+acc.PrincipalID, func(ctx context.Context, requestID string) (client.Result, error) {
				return a.client.AdminAdd(ctx, a.session.SessionID, acc.PrincipalID, amount, requestID)
			})
			if err != nil {
				return err
			}
			return opts.printResult(cmd, res, fmt.Sprintf("Added %s to %s.", opts.amounts().Format(amount), acc.Name))
		},
	}
}

func NewBonusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "bonus <player>",
		Short: "Grant the start bonus to a player (banker only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := opts.attach(ctx)
			if err != nil {
				return err
			}
			acc, err := resolvePlayer(ctx, a, args[0])
			if err != nil {
				return err
			}
			res, err := submit(ctx, "bonus:"+acc.PrincipalID, func(ctx context.Context, requestID string) (client.Result, error) {
				return a.client.GrantStartBonus(ctx, a.session.SessionID, acc.PrincipalID, requestID)
			})
			if err != nil {
				return err
			}
			amount := int64(0)
			if res.Transaction != nil {
				amount = res.Transaction.Amount()
			}
			return opts.printResult(cmd, res, fmt.Sprintf("Start bonus %s granted to %s.", opts.amounts().Format(amount), acc.Name))
		},
	}
}

func NewUndoCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "undo <transaction-id>",
		Short: "Remove a transaction and reverse it (banker only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := opts.attach(ctx)
			if err != nil {
				return err
			}
			res, err := submit(ctx, "undo:"+args[0], func(ctx context.Context, requestID string) (client.Result, error) {
				return a.client.Undo(ctx, a.session.SessionID, args[0], requestID)
			})
			if err != nil {
				return err
			}
			return opts.printResult(cmd, res, "Transaction undone.")
		},
	}
}

func NewBalancesCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balances",
		Short: "Show every player's balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := opts.attach(ctx)
			if err != nil {
				return err
			}
			accounts, err := a.client.Accounts(ctx, a.session.SessionID)
			if err != nil {
				return err
			}
			out := newOutput(cmd, opts)
			return out.result(accounts, func() {
				for _, acc := range accounts {
					marker := " "
					if acc.PrincipalID == a.client.Principal() {
						marker = "*"
					}
					role := ""
					if acc.IsAdmin {
						role = " (banker)"
					}
					out.printf("%s %-20s %12s%s\n", marker, acc.Name, opts.amounts().Format(acc.Balance), role)
				}
			})
		},
	}
}

type historyOptions struct {
	*RootOptions
	Limit int
}

func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &historyOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the transactions you can see, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := opts.attach(ctx)
			if err != nil {
				return err
			}
			txs, total, err := a.client.Transactions(ctx, a.session.SessionID, opts.Limit, 0)
			if err != nil {
				return err
			}
			accounts, err := a.client.Accounts(ctx, a.session.SessionID)
			if err != nil {
				return err
			}
			names := map[string]string{}
			for _, acc := range accounts {
				names[acc.PrincipalID] = acc.Name
			}
			out := newOutput(cmd, opts.RootOptions)
			return out.result(txs, func() {
				for _, t := range txs {
					out.printf("%s  %-26s %-12s %s -> %s %12s\n",
						t.CreatedAt.Local().Format("15:04:05"), t.ID, t.Kind(),
						endpointName(t.From(), names), endpointName(t.To(), names),
						opts.amounts().Format(t.Amount()))
				}
				if total > len(txs) {
					out.printf("(%d more)\n", total-len(txs))
				}
			})
		},
	}
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of transactions")
	return cmd
}

func endpointName(e ledger.Endpoint, names map[string]string) string {
	id, ok := e.PrincipalID()
	if !ok {
		return "bank"
	}
	if n, ok := names[id]; ok {
		return n
	}
	return id
}
