package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type ServerConfig struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	StoreDriver    string `env:"STORE_DRIVER" envDefault:"postgres"`
	PostgresDSN    string `env:"POSTGRES_DSN"`
	MigrateOnStart bool   `env:"MIGRATE_ON_START" envDefault:"true"`

	// AuthSecret signs principal tokens. Instances sharing a Redis bus
	// must share it.
	AuthSecret string `env:"AUTH_SECRET"`

	RedisURL           string `env:"REDIS_URL"`
	RedisChannelPrefix string `env:"REDIS_CHANNEL_PREFIX" envDefault:"monobank:session:"`

	SSEPingInterval  time.Duration `env:"SSE_PING_INTERVAL" envDefault:"15s"`
	SubscriberBuffer int           `env:"SUBSCRIBER_BUFFER" envDefault:"64"`
}

func LoadServer() (ServerConfig, error) {
	var cfg ServerConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c ServerConfig) Validate() error {
	switch c.StoreDriver {
	case StorePostgres:
		if c.PostgresDSN == "" {
			return errors.New("POSTGRES_DSN is required for the postgres store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.SSEPingInterval <= 0 {
		return errors.New("SSE_PING_INTERVAL must be positive")
	}
	if c.SubscriberBuffer <= 0 {
		return errors.New("SUBSCRIBER_BUFFER must be positive")
	}
	return nil
}
