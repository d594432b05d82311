package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"monobank/internal/config"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	mu     sync.RWMutex
	output io.Writer = os.Stdout
	file   *limitedFile
)

// Init configures the global zerolog logger. When cfg.File is set, log lines
// are also written to that file, which is rotated once it reaches cfg.MaxMB.
func Init(cfg config.LogConfig) error {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var console io.Writer = os.Stdout
	if cfg.Pretty {
		console = zerolog.ConsoleWriter{Out: os.Stdout}
	}
	writers := []io.Writer{console}
	raw := []io.Writer{os.Stdout}

	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		_ = file.Close()
		file = nil
	}
	if cfg.File != "" {
		f, err := newLimitedFile(cfg.File, cfg.MaxMB)
		if err != nil {
			return err
		}
		file = f
		writers = append(writers, f)
		raw = append(raw, f)
	}
	output = io.MultiWriter(raw...)

	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	if cfg.SampleEvery > 1 {
		logger = logger.Sample(&zerolog.BasicSampler{N: uint32(cfg.SampleEvery)})
	}
	log.Logger = logger
	return nil
}

// Writer is the destination for loggers outside zerolog, such as the HTTP
// request logger.
func Writer() io.Writer {
	mu.RLock()
	defer mu.RUnlock()
	return output
}

// Close flushes and closes the log file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	output = os.Stdout
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}
