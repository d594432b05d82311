package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrInFlight is returned when the same operation is submitted again before
// the first submission finished.
var ErrInFlight = errors.New("operation already in flight")

// Submitter guards ledger operations against double submission. Each
// Submit call gets one request id, reused across its retries, so the server
// applies the operation at most once.
type Submitter struct {
	attempts int
	backoff  time.Duration
	newID    func() string

	mu       sync.Mutex
	inFlight map[string]struct{}
}

type SubmitterOption func(*Submitter)

// WithRetries sets how many times a retryable failure is retried.
func WithRetries(n int, backoff time.Duration) SubmitterOption {
	return func(s *Submitter) {
		if n >= 0 {
			s.attempts = n + 1
		}
		s.backoff = backoff
	}
}

func WithRequestIDs(gen func() string) SubmitterOption {
	return func(s *Submitter) { s.newID = gen }
}

func NewSubmitter(opts ...SubmitterOption) *Submitter {
	s := &Submitter{
		attempts: 3,
		backoff:  200 * time.Millisecond,
		newID:    uuid.NewString,
		inFlight: map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit runs fn under key. A second Submit with the same key fails with
// ErrInFlight until the first returns.
func (s *Submitter) Submit(ctx context.Context, key string, fn func(ctx context.Context, requestID string) error) error {
	s.mu.Lock()
	if _, busy := s.inFlight[key]; busy {
		s.mu.Unlock()
		return ErrInFlight
	}
	s.inFlight[key] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, key)
		s.mu.Unlock()
	}()

	requestID := s.newID()
	var err error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		err = fn(ctx, requestID)
		if err == nil || !IsRetryable(err) || attempt == s.attempts {
			return err
		}
		log.Debug().Err(err).Str("key", key).Str("request_id", requestID).Int("attempt", attempt).Msg("retrying submit")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.backoff * time.Duration(attempt)):
		}
	}
	return err
}

// Busy reports whether key is in flight.
func (s *Submitter) Busy(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[key]
	return ok
}
