package syncchan

import "errors"

type FrameType string

const (
	FrameBatch  FrameType = "batch"
	FramePing   FrameType = "ping"
	FrameClosed FrameType = "closed"
)

// Frame is the wire unit of the SSE and WebSocket streams.
type Frame struct {
	Type     FrameType `json:"type"`
	Batch    *Batch    `json:"batch,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	ServerTS int64     `json:"server_ts"`
}

var reasons = []struct {
	err  error
	code string
}{
	{ErrResync, "resync"},
	{ErrLagging, "lagging"},
	{ErrSessionReset, "session_reset"},
	{ErrHubClosed, "shutdown"},
}

// ReasonOf returns the wire code for why a subscription ended. A nil error
// maps to the empty string.
func ReasonOf(err error) string {
	if err == nil {
		return ""
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.code
		}
	}
	return "closed"
}

// Err maps a closed frame back to the subscription error. Unknown reasons
// are treated like a resync request.
func (f Frame) Err() error {
	if f.Type != FrameClosed {
		return nil
	}
	for _, r := range reasons {
		if r.code == f.Reason {
			return r.err
		}
	}
	return ErrResync
}
