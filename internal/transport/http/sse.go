package httptransport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"monobank/internal/syncchan"
)

// SetSSEHeaders applies headers that keep event streams stable across proxies.
func SetSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("X-Content-Type-Options", "nosniff")
}

// WriteSSE writes one frame. Batch frames carry their seq as the event id
// so that a reconnecting EventSource resumes through Last-Event-ID.
func WriteSSE(w http.ResponseWriter, f syncchan.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if f.Type == syncchan.FrameBatch && f.Batch != nil {
		if _, err := fmt.Fprintf(w, "id: %d\n", f.Batch.Seq); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", f.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}

// resumeSeq reads the seq to resume after from Last-Event-ID or the after
// query parameter.
func resumeSeq(r *http.Request) (int64, bool) {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("after")
	}
	if raw == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
