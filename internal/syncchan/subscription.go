package syncchan

import (
	"context"
	"sort"
	"sync"
	"time"

	"monobank/internal/ledger"

	"github.com/rs/zerolog/log"
)

// Subscription is one subscriber's ordered stream of batches. C is closed
// when the subscription ends; Err then reports why.
type Subscription struct {
	hub       *Hub
	sessionID string
	principal string
	view      View
	ch        chan Batch
	stopCtx   func() bool

	mu       sync.Mutex
	started  bool
	last     int64
	held     map[int64]ledger.Change
	gapTimer *time.Timer
	closed   bool
	err      error
}

func (s *Subscription) C() <-chan Batch { return s.ch }

func (s *Subscription) View() View { return s.view }

func (s *Subscription) SessionID() string { return s.sessionID }

func (s *Subscription) PrincipalID() string { return s.principal }

// LastSeq is the highest seq processed for this subscriber. Reconnecting
// with it as afterSeq resumes without loss.
func (s *Subscription) LastSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the subscription without an error.
func (s *Subscription) Close() {
	s.closeWith(nil)
}

// watch closes the subscription when ctx is done.
func (s *Subscription) watch(ctx context.Context) {
	stop := context.AfterFunc(ctx, s.Close)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		stop()
		return
	}
	s.stopCtx = stop
}

func (s *Subscription) visible(c ledger.Change) bool {
	return c.VisibleTo(s.principal, s.view == ViewAdmin)
}

// start delivers the first batch and then whatever arrived meanwhile.
func (s *Subscription) start(first Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.started = true
	s.last = first.Seq
	if !s.sendLocked(first) {
		return
	}
	s.drainLocked()
}

func (s *Subscription) offer(changes []ledger.Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, c := range changes {
		if s.started && c.Seq <= s.last {
			continue
		}
		s.held[c.Seq] = c
	}
	if len(s.held) > s.hub.bufSize*4 {
		s.closeLocked(ErrLagging)
		return
	}
	if s.started {
		s.drainLocked()
	}
}

// drainLocked emits the contiguous run of held changes after s.last.
func (s *Subscription) drainLocked() {
	for seq := range s.held {
		if seq <= s.last {
			delete(s.held, seq)
		}
	}
	var out []ledger.Change
	for {
		c, ok := s.held[s.last+1]
		if !ok {
			break
		}
		delete(s.held, c.Seq)
		s.last = c.Seq
		if s.visible(c) {
			out = append(out, c)
		}
	}
	if len(out) > 0 {
		if !s.sendLocked(Batch{Seq: s.last, Changes: out}) {
			return
		}
	}
	s.armGapTimerLocked()
}

func (s *Subscription) armGapTimerLocked() {
	if len(s.held) == 0 {
		if s.gapTimer != nil {
			s.gapTimer.Stop()
			s.gapTimer = nil
		}
		return
	}
	if s.gapTimer == nil {
		s.gapTimer = time.AfterFunc(s.hub.gapGrace, func() { s.hub.fillGap(s) })
	}
}

// gap reports whether changes are held back by a missing seq.
func (s *Subscription) gap() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.started {
		return 0, false
	}
	s.gapTimer = nil
	if len(s.held) == 0 {
		return s.last, false
	}
	seqs := make([]int64, 0, len(s.held))
	for seq := range s.held {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return s.last, seqs[0] > s.last+1
}

func (s *Subscription) sendLocked(b Batch) bool {
	select {
	case s.ch <- b:
		return true
	default:
		log.Warn().Str("session_id", s.sessionID).Str("principal_id", s.principal).
			Int64("seq", b.Seq).Msg("subscriber lagging")
		s.closeLocked(ErrLagging)
		return false
	}
}

func (s *Subscription) closeWith(reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked(reason)
}

func (s *Subscription) closeLocked(reason error) {
	if s.closed {
		return
	}
	s.closed = true
	s.err = reason
	if s.gapTimer != nil {
		s.gapTimer.Stop()
		s.gapTimer = nil
	}
	if s.stopCtx != nil {
		s.stopCtx()
	}
	close(s.ch)
	s.hub.remove(s)
}
