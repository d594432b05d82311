// Package syncchan fans committed ledger changes out to live subscribers.
// Every subscriber first receives a batch describing the whole session (or
// the changes it missed) and then the live changes in seq order.
package syncchan

import (
	"context"
	"errors"

	"monobank/internal/ledger"
	"monobank/internal/store"
)

var (
	ErrResync       = errors.New("resync requested")
	ErrLagging      = errors.New("subscriber lagging")
	ErrSessionReset = errors.New("session reset")
	ErrHubClosed    = errors.New("hub closed")
)

type View uint8

const (
	ViewPlayer View = iota
	ViewAdmin
)

func (v View) String() string {
	if v == ViewAdmin {
		return "admin"
	}
	return "player"
}

// Batch is one delivery to a subscriber. Seq is the highest session seq the
// subscriber has seen once the batch is applied.
type Batch struct {
	Initial bool            `json:"initial"`
	Seq     int64           `json:"seq"`
	Changes []ledger.Change `json:"changes"`
}

// Source is the read side of the session store the hub needs.
type Source interface {
	Snapshot(ctx context.Context, sessionID string) (store.SessionState, error)
	ChangesAfter(ctx context.Context, sessionID string, afterSeq int64) ([]ledger.Change, error)
}

type MessageKind string

const (
	MessageChanges MessageKind = "changes"
	MessageResync  MessageKind = "resync"
	MessageReset   MessageKind = "reset"
)

// Message travels over a Bus between the service and every hub.
type Message struct {
	Kind      MessageKind     `json:"kind"`
	SessionID string          `json:"session_id"`
	Changes   []ledger.Change `json:"changes,omitempty"`
}

type Handler func(Message)

// Bus carries messages to the hubs of every server instance.
type Bus interface {
	Publish(ctx context.Context, msg Message) error
	// Run delivers messages to the handler until ctx is done.
	Run(ctx context.Context) error
	Close() error
}
