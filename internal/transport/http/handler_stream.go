package httptransport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"monobank/internal/app/bank"
	"monobank/internal/syncchan"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const wsWriteWait = 10 * time.Second

type StreamHandlers struct {
	svc          *bank.Service
	pingInterval time.Duration
	upgrader     websocket.Upgrader
}

func NewStreamHandlers(svc *bank.Service, pingInterval time.Duration) *StreamHandlers {
	if pingInterval <= 0 {
		pingInterval = 15 * time.Second
	}
	return &StreamHandlers{
		svc:          svc,
		pingInterval: pingInterval,
		upgrader:     websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

// Events streams session changes as server-sent events.
func (h *StreamHandlers) Events() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		after, ok := resumeSeq(r)
		if !ok {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_last_event_id")
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			WriteHTTPError(w, http.StatusInternalServerError, "stream_not_supported")
			return
		}
		sub, err := h.svc.Subscribe(r.Context(), sessionContext(r), after)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		defer sub.Close()

		SetSSEHeaders(w)
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		h.pump(r, sub, "sse", func(f syncchan.Frame) error {
			if err := WriteSSE(w, f); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		})
	}
}

// WS streams the same frames over a WebSocket. Incoming messages are
// ignored; a read error ends the stream.
func (h *StreamHandlers) WS() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		after, ok := resumeSeq(r)
		if !ok {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_last_event_id")
			return
		}
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		sub, err := h.svc.Subscribe(ctx, sessionContext(r), after)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		defer sub.Close()

		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		h.pump(r.WithContext(ctx), sub, "ws", func(f syncchan.Frame) error {
			data, err := json.Marshal(f)
			if err != nil {
				return err
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return err
			}
			if f.Type == syncchan.FrameClosed {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, f.Reason)
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
			}
			return nil
		})
	}
}

// pump forwards batches and pings until the subscription or the request
// ends. A subscription closed by the hub gets a final closed frame naming
// the reason.
func (h *StreamHandlers) pump(r *http.Request, sub *syncchan.Subscription, transport string, write func(syncchan.Frame) error) {
	metricStreamConnectionsTotal.Add(transport, 1)
	metricStreamConnectionsActive.Add(1)
	defer metricStreamConnectionsActive.Add(-1)

	logger := log.With().
		Str("request_id", chimw.GetReqID(r.Context())).
		Str("session_id", sub.SessionID()).
		Str("principal_id", sub.PrincipalID()).
		Str("view", sub.View().String()).
		Str("transport", transport).
		Logger()
	logger.Info().Msg("stream opened")

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			logger.Info().Int64("seq", sub.LastSeq()).Msg("stream closed by client")
			return
		case b, ok := <-sub.C():
			if !ok {
				reason := syncchan.ReasonOf(sub.Err())
				if reason == "" {
					return
				}
				metricStreamClosed.Add(reason, 1)
				logger.Info().Str("reason", reason).Int64("seq", sub.LastSeq()).Msg("stream closed by hub")
				_ = write(syncchan.Frame{Type: syncchan.FrameClosed, Reason: reason, ServerTS: time.Now().UnixMilli()})
				return
			}
			batch := b
			if err := write(syncchan.Frame{Type: syncchan.FrameBatch, Batch: &batch, ServerTS: time.Now().UnixMilli()}); err != nil {
				logger.Debug().Err(err).Msg("stream write failed")
				return
			}
			metricStreamBatchesSent.Add(1)
			logger.Debug().Bool("initial", b.Initial).Int64("seq", b.Seq).Int("changes", len(b.Changes)).Msg("batch sent")
		case <-ticker.C:
			if err := write(syncchan.Frame{Type: syncchan.FramePing, ServerTS: time.Now().UnixMilli()}); err != nil {
				return
			}
		}
	}
}
