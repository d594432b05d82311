package cli

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"

	"monobank/internal/client"
	"monobank/internal/ledger"
	"monobank/internal/notify"
	"monobank/internal/syncchan"

	"github.com/spf13/cobra"
)

// alertPrinter is a notify.AlertSink that writes alerts as lines.
type alertPrinter struct {
	mu      sync.Mutex
	out     *output
	amounts client.AmountFormat
}

type alertLine struct {
	Event         string `json:"event"`
	TransactionID string `json:"transaction_id"`
	From          string `json:"from,omitempty"`
	Amount        int64  `json:"amount,omitempty"`
}

func (p *alertPrinter) Show(a notify.Alert) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out.json() {
		_ = json.NewEncoder(p.out.w).Encode(alertLine{Event: "alert", TransactionID: a.TransactionID, From: a.FromName, Amount: a.Amount})
		return
	}
	p.out.printf("+ %s from %s\n", p.amounts.Format(a.Amount), a.FromName)
}

func (p *alertPrinter) Dismiss(transactionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out.json() {
		_ = json.NewEncoder(p.out.w).Encode(alertLine{Event: "dismiss", TransactionID: transactionID})
	}
}

type watchOptions struct {
	*RootOptions
	WS bool
}

func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &watchOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the session live and announce incoming payments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := opts.attach(ctx)
			if err != nil {
				return err
			}
			return opts.watch(ctx, cmd, a, newBell(os.Stdout))
		},
	}
	cmd.Flags().BoolVar(&opts.WS, "ws", false, "use a WebSocket instead of server-sent events")
	return cmd
}

func (o *watchOptions) watch(ctx context.Context, cmd *cobra.Command, a *attached, haptics notify.Haptics) error {
	out := newOutput(cmd, o.RootOptions)
	amounts := o.amounts()
	me := a.client.Principal()

	view := client.NewView()
	disp := notify.NewDispatcher(me, &alertPrinter{out: out, amounts: amounts}, view,
		notify.WithTTL(o.AlertTTL),
		notify.WithHaptics(haptics, o.Vibrate))
	defer disp.Close()

	transport := client.TransportSSE
	if o.WS {
		transport = client.TransportWS
	}
	last := int64(-1)
	w := client.NewWatcher(a.client, a.session.SessionID, view,
		client.WithDispatcher(disp),
		client.WithTransport(transport),
		client.WithBatchHandler(func(b syncchan.Batch) {
			if b.Initial {
				out.printf("Watching session %s as %s.\n", a.session.SessionID, a.session.Name)
			}
			acc, ok := view.Account(me)
			if !ok || acc.Balance == last {
				return
			}
			last = acc.Balance
			out.printf("Balance %s\n", amounts.Format(acc.Balance))
		}))

	err := w.Run(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		return nil
	case errors.Is(err, syncchan.ErrSessionReset):
		_ = client.ClearLastSession(o.StateFile)
		out.printf("The session was deleted by the banker.\n")
		return nil
	case errors.Is(err, ledger.ErrSessionNotFound):
		_ = client.ClearLastSession(o.StateFile)
		return err
	}
	return err
}
