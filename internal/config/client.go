package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

type ClientConfig struct {
	BaseURL   string        `env:"BANK_URL" envDefault:"http://localhost:8080"`
	StateFile string        `env:"BANK_STATE_FILE"`
	Locale    string        `env:"BANK_LOCALE" envDefault:"cs"`
	Vibrate   bool          `env:"BANK_VIBRATE" envDefault:"true"`
	AlertTTL  time.Duration `env:"BANK_ALERT_TTL" envDefault:"4s"`
}

func LoadClient() (ClientConfig, error) {
	var cfg ClientConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	if cfg.StateFile == "" {
		cfg.StateFile = defaultStateFile()
	}
	return cfg, nil
}

func defaultStateFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "monobank-session.yaml"
	}
	return filepath.Join(dir, "monobank", "session.yaml")
}
