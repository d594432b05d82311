package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"monobank/internal/notify"
	"monobank/internal/syncchan"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Transport string

const (
	TransportSSE Transport = "sse"
	TransportWS  Transport = "ws"
)

const maxFrameBytes = 4 << 20

// Watcher keeps a View and an optional notification Dispatcher attached to
// a session. It reconnects after lagging or network failures from the last
// seen seq, and restarts from a fresh snapshot after a resync.
type Watcher struct {
	client    *Client
	sessionID string
	view      *View
	disp      *notify.Dispatcher
	onBatch   func(syncchan.Batch)
	transport Transport
	backoff   time.Duration
	stream    *http.Client

	mu        sync.Mutex
	cancel    context.CancelFunc
	resyncReq bool
}

type WatcherOption func(*Watcher)

func WithDispatcher(d *notify.Dispatcher) WatcherOption {
	return func(w *Watcher) { w.disp = d }
}

// WithBatchHandler is called after every batch has been applied to the view.
func WithBatchHandler(fn func(syncchan.Batch)) WatcherOption {
	return func(w *Watcher) { w.onBatch = fn }
}

func WithTransport(t Transport) WatcherOption {
	return func(w *Watcher) { w.transport = t }
}

func WithReconnectBackoff(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.backoff = d }
}

func NewWatcher(c *Client, sessionID string, view *View, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		client:    c,
		sessionID: strings.ToUpper(strings.TrimSpace(sessionID)),
		view:      view,
		transport: TransportSSE,
		backoff:   time.Second,
		// Streams outlive any per-request timeout.
		stream: &http.Client{Transport: c.http.Transport},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run streams until ctx is done, the session is reset, or the server
// refuses the subscription.
func (w *Watcher) Run(ctx context.Context) error {
	var after int64
	for {
		streamCtx, cancel := context.WithCancel(ctx)
		w.mu.Lock()
		w.cancel = cancel
		w.mu.Unlock()

		var err error
		if w.transport == TransportWS {
			err = w.runWS(streamCtx, after)
		} else {
			err = w.runSSE(streamCtx, after)
		}
		cancel()
		if ctx.Err() != nil {
			return ctx.Err()
		}

		logger := log.With().Str("session_id", w.sessionID).Str("transport", string(w.transport)).Logger()
		var apiErr *APIError
		switch {
		case errors.Is(err, syncchan.ErrSessionReset):
			return err
		case w.takeResync() || errors.Is(err, syncchan.ErrResync):
			logger.Info().Msg("resync, reloading snapshot")
			after = 0
			if w.disp != nil {
				w.disp.Reattach()
			}
			continue
		case errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError:
			return err
		case errors.Is(err, syncchan.ErrLagging):
			after = w.view.Seq()
			logger.Warn().Int64("seq", after).Msg("lagging, resuming")
			continue
		}
		after = w.view.Seq()
		logger.Warn().Err(err).Int64("seq", after).Dur("backoff", w.backoff).Msg("stream lost, reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.backoff):
		}
	}
}

// Resync drops the current stream and re-subscribes from a full snapshot.
func (w *Watcher) Resync() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resyncReq = true
	if w.cancel != nil {
		w.cancel()
	}
}

func (w *Watcher) takeResync() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	r := w.resyncReq
	w.resyncReq = false
	return r
}

func (w *Watcher) deliver(b syncchan.Batch) {
	w.view.Apply(b)
	if w.disp != nil {
		w.disp.Handle(b)
	}
	if w.onBatch != nil {
		w.onBatch(b)
	}
}

// handle processes one frame. It returns a non-nil error when the stream
// ended.
func (w *Watcher) handle(f syncchan.Frame) error {
	switch f.Type {
	case syncchan.FrameBatch:
		if f.Batch != nil {
			w.deliver(*f.Batch)
		}
	case syncchan.FrameClosed:
		return f.Err()
	}
	return nil
}

func (w *Watcher) runSSE(ctx context.Context, after int64) error {
	req, err := w.client.newRequest(ctx, http.MethodGet, sessionPath(w.sessionID, "/events"), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if after > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatInt(after, 10))
	}
	resp, err := w.stream.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}
	return readSSE(resp.Body, w.handle)
}

func readSSE(r io.Reader, handle func(syncchan.Frame) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxFrameBytes)
	var data strings.Builder
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var f syncchan.Frame
			if err := json.Unmarshal([]byte(data.String()), &f); err != nil {
				return fmt.Errorf("decode frame: %w", err)
			}
			data.Reset()
			if err := handle(f); err != nil {
				return err
			}
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return io.ErrUnexpectedEOF
}

func (w *Watcher) runWS(ctx context.Context, after int64) error {
	u := w.client.baseURL + sessionPath(w.sessionID, "/ws")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	if after > 0 {
		u += "?after=" + strconv.FormatInt(after, 10)
	}
	header := http.Header{}
	w.client.authorize(header)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			defer resp.Body.Close()
			return decodeAPIError(resp)
		}
		return err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	conn.SetReadLimit(maxFrameBytes)
	for {
		var f syncchan.Frame
		if err := conn.ReadJSON(&f); err != nil {
			return err
		}
		if err := w.handle(f); err != nil {
			return err
		}
	}
}
