package syncchan

import (
	"context"
	"sync"
	"time"

	"monobank/internal/ledger"
	"monobank/internal/store"

	"github.com/rs/zerolog/log"
)

const (
	defaultBufferSize = 64
	defaultGapGrace   = 250 * time.Millisecond
)

type Option func(*Hub)

// WithBufferSize bounds the number of undelivered batches per subscriber.
func WithBufferSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.bufSize = n
		}
	}
}

// WithGapGrace sets how long a subscriber waits for a missing seq before the
// hub reads it back from the change log.
func WithGapGrace(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.gapGrace = d
		}
	}
}

type Hub struct {
	src      Source
	bufSize  int
	gapGrace time.Duration

	mu       sync.Mutex
	sessions map[string]map[*Subscription]struct{}
	closed   bool
}

func NewHub(src Source, opts ...Option) *Hub {
	h := &Hub{
		src:      src,
		bufSize:  defaultBufferSize,
		gapGrace: defaultGapGrace,
		sessions: map[string]map[*Subscription]struct{}{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers a subscriber for sc.SessionID. With afterSeq == 0 the
// first batch is a snapshot of every visible document; otherwise it replays
// the change log after afterSeq. The principal must hold an account in the
// session, and only admins may use ViewAdmin.
func (h *Hub) Subscribe(ctx context.Context, sc ledger.SessionContext, view View, afterSeq int64) (*Subscription, error) {
	sub := &Subscription{
		hub:       h,
		sessionID: sc.SessionID,
		principal: sc.PrincipalID,
		view:      view,
		ch:        make(chan Batch, h.bufSize),
		held:      map[int64]ledger.Change{},
	}
	if err := h.add(sub); err != nil {
		return nil, err
	}

	state, err := h.src.Snapshot(ctx, sc.SessionID)
	if err != nil {
		h.remove(sub)
		return nil, err
	}
	me, ok := findAccount(state.Accounts, sc.PrincipalID)
	if !ok {
		h.remove(sub)
		return nil, ledger.ErrUnknownAccount
	}
	if view == ViewAdmin && !me.IsAdmin {
		h.remove(sub)
		return nil, ledger.ErrNotAuthorized
	}

	var first Batch
	if afterSeq > 0 && afterSeq <= state.Seq {
		replay, err := h.src.ChangesAfter(ctx, sc.SessionID, afterSeq)
		if err != nil {
			h.remove(sub)
			return nil, err
		}
		first = Batch{Seq: afterSeq}
		for _, c := range replay {
			if c.Seq != first.Seq+1 {
				break
			}
			first.Seq = c.Seq
			if sub.visible(c) {
				first.Changes = append(first.Changes, c)
			}
		}
	} else {
		first = snapshotBatch(state, sub)
	}
	if first.Changes == nil {
		first.Changes = []ledger.Change{}
	}
	sub.start(first)

	sub.watch(ctx)
	log.Debug().Str("session_id", sc.SessionID).Str("principal_id", sc.PrincipalID).
		Str("view", view.String()).Int64("seq", first.Seq).Msg("subscriber attached")
	return sub, nil
}

func snapshotBatch(state store.SessionState, sub *Subscription) Batch {
	b := Batch{Initial: true, Seq: state.Seq}
	for _, a := range state.Accounts {
		c := ledger.AccountChange(ledger.OpAdded, a)
		c.Seq = state.Seq
		b.Changes = append(b.Changes, c)
	}
	for _, t := range state.Transactions {
		c := ledger.TransactionChange(ledger.OpAdded, t)
		c.Seq = state.Seq
		if sub.visible(c) {
			b.Changes = append(b.Changes, c)
		}
	}
	return b
}

func findAccount(accounts []ledger.Account, principalID string) (ledger.Account, bool) {
	for _, a := range accounts {
		if a.PrincipalID == principalID {
			return a, true
		}
	}
	return ledger.Account{}, false
}

// Handle applies a bus message to the local subscribers.
func (h *Hub) Handle(msg Message) {
	switch msg.Kind {
	case MessageChanges:
		h.Publish(msg.SessionID, msg.Changes)
	case MessageResync:
		h.Resync(msg.SessionID)
	case MessageReset:
		h.closeSession(msg.SessionID, ErrSessionReset)
	default:
		log.Warn().Str("kind", string(msg.Kind)).Msg("unknown bus message")
	}
}

// Publish offers committed changes to every subscriber of the session.
func (h *Hub) Publish(sessionID string, changes []ledger.Change) {
	if len(changes) == 0 {
		return
	}
	for _, sub := range h.subscribers(sessionID) {
		sub.offer(changes)
	}
}

// Resync closes every subscription of the session with ErrResync.
func (h *Hub) Resync(sessionID string) {
	h.closeSession(sessionID, ErrResync)
}

// Close detaches every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var subs []*Subscription
	for _, set := range h.sessions {
		for sub := range set {
			subs = append(subs, sub)
		}
	}
	h.mu.Unlock()
	for _, sub := range subs {
		sub.closeWith(ErrHubClosed)
	}
}

// Subscribers reports the number of live subscriptions of a session.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions[sessionID])
}

func (h *Hub) closeSession(sessionID string, reason error) {
	subs := h.subscribers(sessionID)
	for _, sub := range subs {
		sub.closeWith(reason)
	}
	if len(subs) > 0 {
		log.Info().Str("session_id", sessionID).Int("subscribers", len(subs)).Err(reason).Msg("subscriptions closed")
	}
}

func (h *Hub) subscribers(sessionID string) []*Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.sessions[sessionID]
	out := make([]*Subscription, 0, len(set))
	for sub := range set {
		out = append(out, sub)
	}
	return out
}

func (h *Hub) add(sub *Subscription) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	set, ok := h.sessions[sub.sessionID]
	if !ok {
		set = map[*Subscription]struct{}{}
		h.sessions[sub.sessionID] = set
	}
	set[sub] = struct{}{}
	return nil
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.sessions[sub.sessionID]
	delete(set, sub)
	if len(set) == 0 {
		delete(h.sessions, sub.sessionID)
	}
}

// fillGap reads missing changes back from the change log when a subscriber
// is still waiting for them after the grace period.
func (h *Hub) fillGap(sub *Subscription) {
	last, waiting := sub.gap()
	if !waiting {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	changes, err := h.src.ChangesAfter(ctx, sub.sessionID, last)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sub.sessionID).Int64("seq", last).Msg("gap fill failed")
		sub.closeWith(ErrLagging)
		return
	}
	sub.offer(changes)
	if _, still := sub.gap(); still {
		sub.closeWith(ErrLagging)
	}
}
