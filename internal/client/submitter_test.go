package client

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"monobank/internal/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitterRejectsDoubleSubmit(t *testing.T) {
	s := NewSubmitter()
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- s.Submit(context.Background(), "pay", func(context.Context, string) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	assert.True(t, s.Busy("pay"))
	err := s.Submit(context.Background(), "pay", func(context.Context, string) error {
		t.Fatal("second submit must not run")
		return nil
	})
	assert.ErrorIs(t, err, ErrInFlight)
	require.NoError(t, s.Submit(context.Background(), "other", func(context.Context, string) error { return nil }))

	close(release)
	require.NoError(t, <-done)
	assert.False(t, s.Busy("pay"))
}

func TestSubmitterRetriesWithSameRequestID(t *testing.T) {
	var n atomic.Int32
	s := NewSubmitter(WithRetries(2, time.Millisecond), WithRequestIDs(func() string {
		return "req-" + string(rune('a'+n.Add(1)-1))
	}))
	var seen []string
	err := s.Submit(context.Background(), "pay", func(_ context.Context, id string) error {
		seen = append(seen, id)
		if len(seen) < 3 {
			return ledger.ErrStoreUnavailable
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"req-a", "req-a", "req-a"}, seen)

	err = s.Submit(context.Background(), "pay", func(_ context.Context, id string) error {
		seen = append(seen, id)
		return ledger.ErrInsufficientFunds
	})
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	assert.Equal(t, "req-b", seen[len(seen)-1])
	assert.Len(t, seen, 4)
}

func TestSubmitterGivesUpAfterRetries(t *testing.T) {
	s := NewSubmitter(WithRetries(1, time.Millisecond))
	calls := 0
	err := s.Submit(context.Background(), "k", func(context.Context, string) error {
		calls++
		return errors.Join(ledger.ErrStoreUnavailable)
	})
	assert.ErrorIs(t, err, ledger.ErrStoreUnavailable)
	assert.Equal(t, 2, calls)
}
