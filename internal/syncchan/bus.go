package syncchan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// LocalBus hands messages straight to the handler of this process.
type LocalBus struct {
	handler Handler
	mu      sync.RWMutex
	closed  bool
}

func NewLocalBus(h Handler) *LocalBus {
	return &LocalBus{handler: h}
}

func (b *LocalBus) Publish(_ context.Context, msg Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrHubClosed
	}
	b.handler(msg)
	return nil
}

func (b *LocalBus) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

const DefaultChannelPrefix = "monobank:session:"

// RedisBus publishes every message on a per-session Redis channel and
// delivers what any instance published to the local handler.
type RedisBus struct {
	client  *redis.Client
	prefix  string
	handler Handler
}

func NewRedisBus(client *redis.Client, prefix string, h Handler) *RedisBus {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &RedisBus{client: client, prefix: prefix, handler: h}
}

func (b *RedisBus) Channel(sessionID string) string {
	return b.prefix + sessionID
}

func (b *RedisBus) Publish(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode bus message: %w", err)
	}
	if err := b.client.Publish(ctx, b.Channel(msg.SessionID), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Kind, err)
	}
	return nil
}

// Run subscribes to every session channel and blocks until ctx is done.
func (b *RedisBus) Run(ctx context.Context) error {
	ps := b.client.PSubscribe(ctx, b.prefix+"*")
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("psubscribe %s*: %w", b.prefix, err)
	}
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return errors.New("redis bus subscription closed")
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				log.Warn().Err(err).Str("channel", m.Channel).Msg("drop malformed bus message")
				continue
			}
			if msg.SessionID == "" {
				msg.SessionID = strings.TrimPrefix(m.Channel, b.prefix)
			}
			b.handler(msg)
		}
	}
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}
