package client

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"monobank/internal/ledger"
	"monobank/internal/notify"
	"monobank/internal/syncchan"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	alerts []notify.Alert
}

func (s *recordingSink) Show(a notify.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
}

func (s *recordingSink) Dismiss(string) {}

func (s *recordingSink) snapshot() []notify.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Alert(nil), s.alerts...)
}

func TestWatcherDeliversAlertsAcrossResync(t *testing.T) {
	for _, transport := range []Transport{TransportSSE, TransportWS} {
		t.Run(string(transport), func(t *testing.T) {
			srv := startServer(t)
			tb := newTable(t, srv)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			view := NewView()
			sink := &recordingSink{}
			disp := notify.NewDispatcher("p2", sink, view, notify.WithTTL(time.Hour))
			defer disp.Close()
			var initials atomic.Int32
			w := NewWatcher(tb.p2, strings.ToLower(tb.id), view,
				WithTransport(transport),
				WithDispatcher(disp),
				WithReconnectBackoff(10*time.Millisecond),
				WithBatchHandler(func(b syncchan.Batch) {
					if b.Initial {
						initials.Add(1)
					}
				}))
			done := make(chan error, 1)
			go func() { done <- w.Run(ctx) }()

			require.Eventually(t, func() bool { return initials.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
			assert.Equal(t, notify.Live, disp.State())
			assert.Len(t, view.Accounts(), 3)

			_, err := tb.p1.Transfer(ctx, tb.id, ledger.AccountOf("p2"), 100, "pay-1")
			require.NoError(t, err)
			require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, 5*time.Second, 10*time.Millisecond)
			alert := sink.snapshot()[0]
			assert.Equal(t, "Alice", alert.FromName)
			assert.Equal(t, int64(100), alert.Amount)

			require.NoError(t, tb.admin.Resync(ctx, tb.id))
			require.Eventually(t, func() bool { return initials.Load() == 2 }, 5*time.Second, 10*time.Millisecond)

			_, err = tb.admin.AdminAdd(ctx, tb.id, "p2", 40, "add-1")
			require.NoError(t, err)
			require.Eventually(t, func() bool { return len(sink.snapshot()) == 2 }, 5*time.Second, 10*time.Millisecond)
			assert.True(t, sink.snapshot()[1].FromBank)

			w.Resync()
			require.Eventually(t, func() bool { return initials.Load() == 3 }, 5*time.Second, 10*time.Millisecond)
			acc, ok := view.Account("p2")
			require.True(t, ok)
			assert.Equal(t, int64(1640), acc.Balance)
			assert.Len(t, sink.snapshot(), 2)

			require.NoError(t, tb.admin.Reset(ctx, tb.id, tb.id))
			select {
			case err := <-done:
				assert.ErrorIs(t, err, syncchan.ErrSessionReset)
			case <-time.After(5 * time.Second):
				t.Fatal("watcher did not stop after reset")
			}
		})
	}
}

func TestWatcherStopsOnRefusal(t *testing.T) {
	srv := startServer(t)
	tb := newTable(t, srv)
	w := NewWatcher(as(t, srv, "stranger"), tb.id, NewView())

	err := w.Run(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.ErrorIs(t, err, ledger.ErrNotAuthorized)
}

func TestReadSSEParsesFrames(t *testing.T) {
	stream := "event: batch\nid: 4\ndata: {\"type\":\"batch\",\"batch\":{\"initial\":true,\"seq\":4,\"changes\":[]}}\n\n" +
		": comment\n\n" +
		"event: ping\ndata: {\"type\":\"ping\"}\n\n" +
		"event: closed\ndata: {\"type\":\"closed\",\"reason\":\"lagging\"}\n\n"
	var frames []syncchan.Frame
	err := readSSE(strings.NewReader(stream), func(f syncchan.Frame) error {
		frames = append(frames, f)
		return f.Err()
	})
	assert.ErrorIs(t, err, syncchan.ErrLagging)
	require.Len(t, frames, 3)
	assert.Equal(t, int64(4), frames[0].Batch.Seq)
}
