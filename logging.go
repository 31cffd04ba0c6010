package queue

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// LogConfig configures NewLogger, mirroring the console/JSON switch the
// kotahorii-merchant-tails logging wrapper exposes, trimmed to the one field
// a queue actually needs at construction time.
type LogConfig struct {
	Level  string // "debug", "info", "warn", "error"; defaults to "info"
	JSON   bool
	Writer io.Writer // defaults to os.Stdout
}

// NewLogger builds a zerolog.Logger ready to pass into Config.Logger.
func NewLogger(cfg LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	out := cfg.Writer
	if out == nil {
		out = os.Stdout
	}
	if !cfg.JSON {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Str("component", "jobqueue").Logger()
}
