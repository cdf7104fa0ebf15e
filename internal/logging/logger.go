// Package logging configures structured logging with zerolog.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logging configuration.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, console
}

// DefaultConfig returns the desktop defaults.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "console"}
}

// Init configures the global zerolog logger. Output goes to stderr so the
// CLI can keep stdout for user-facing text.
func Init(cfg Config) {
	InitWriter(cfg, os.Stderr)
}

// InitWriter configures the global logger to write to out.
func InitWriter(cfg Config, out io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := out
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Logger()
}

// WithComponent returns a logger with a component tag.
func WithComponent(component string) zerolog.Logger {
	return log.With().
		Str("component", component).
		Logger()
}

// WithSession returns a logger tagged with a listening session id.
func WithSession(base zerolog.Logger, sessionID string) zerolog.Logger {
	return base.With().
		Str("sessionId", sessionID).
		Logger()
}
