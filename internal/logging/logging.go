// File: internal/logging/logging.go
// Package logging
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Process-wide zerolog setup and per-component child loggers.

package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config selects level, encoding and destination of the process logger.
type Config struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"` // json | console
	Output string `env:"OUTPUT" envDefault:"stderr"` // stdout | stderr | file path
}

var (
	mu   sync.RWMutex
	root = zerolog.Nop()
)

// Init builds the process logger. Until it is called every logger returned
// by For discards its events.
func Init(cfg Config) error {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var out io.Writer
	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
		out = os.Stderr
	case "stdout":
		out = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file %q: %w", cfg.Output, err)
		}
		out = f
	}

	switch strings.ToLower(cfg.Format) {
	case "", "json":
	case "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	default:
		return fmt.Errorf("invalid log format %q", cfg.Format)
	}

	l := zerolog.New(out).Level(level).With().Timestamp().Logger()
	mu.Lock()
	root = l
	mu.Unlock()
	log.Logger = l
	return nil
}

// Set replaces the process logger.
func Set(l zerolog.Logger) {
	mu.Lock()
	root = l
	mu.Unlock()
}

// For returns a child of the process logger tagged with component.
func For(component string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root.With().Str("component", component).Logger()
}
