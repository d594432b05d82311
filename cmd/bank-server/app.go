package main

import (
	"context"
	"fmt"

	"monobank/internal/app/bank"
	"monobank/internal/auth"
	"monobank/internal/config"
	"monobank/internal/store"
	"monobank/internal/store/memstore"
	"monobank/internal/syncchan"
	httptransport "monobank/internal/transport/http"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type app struct {
	backend store.Backend
	hub     *syncchan.Hub
	bus     syncchan.Bus
	svc     *bank.Service
	router  *chi.Mux
}

func newApp(ctx context.Context, cfg config.ServerConfig) (*app, error) {
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	hub := syncchan.NewHub(backend, syncchan.WithBufferSize(cfg.SubscriberBuffer))
	bus, err := openBus(ctx, cfg, hub)
	if err != nil {
		hub.Close()
		backend.Close()
		return nil, err
	}
	signer, err := newSigner(cfg)
	if err != nil {
		_ = bus.Close()
		hub.Close()
		backend.Close()
		return nil, err
	}
	svc := bank.NewService(backend, hub, bus)
	return &app{
		backend: backend,
		hub:     hub,
		bus:     bus,
		svc:     svc,
		router:  httptransport.NewRouter(svc, backend, signer, cfg),
	}, nil
}

func newSigner(cfg config.ServerConfig) (*auth.Signer, error) {
	if cfg.AuthSecret == "" {
		ev := log.Warn()
		if cfg.RedisURL != "" {
			ev = log.Error()
		}
		ev.Msg("AUTH_SECRET not set; using a random key, tokens are lost on restart and not shared between instances")
	}
	return auth.NewSigner(cfg.AuthSecret)
}

func (a *app) Close() {
	a.hub.Close()
	if err := a.bus.Close(); err != nil {
		log.Warn().Err(err).Msg("close bus")
	}
	a.backend.Close()
}

func openBackend(ctx context.Context, cfg config.ServerConfig) (store.Backend, error) {
	if cfg.StoreDriver == config.StoreMemory {
		log.Warn().Msg("using in-memory store; sessions are lost on restart")
		return memstore.New(), nil
	}
	if cfg.MigrateOnStart {
		if err := store.Migrate(cfg.PostgresDSN); err != nil {
			return nil, err
		}
	}
	st, err := store.New(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Ping(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}
	return st, nil
}

// openBus fans changes out through Redis when REDIS_URL is set, so several
// instances can serve one session. Otherwise delivery stays in process.
func openBus(ctx context.Context, cfg config.ServerConfig, hub *syncchan.Hub) (syncchan.Bus, error) {
	if cfg.RedisURL == "" {
		return syncchan.NewLocalBus(hub.Handle), nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return syncchan.NewRedisBus(client, cfg.RedisChannelPrefix, hub.Handle), nil
}
