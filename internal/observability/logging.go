package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond
}

// NewLogger returns the process logger for component. POOL_LOG_LEVEL sets the
// level (default info) and POOL_LOG_FORMAT=console switches from JSON to a
// human-readable writer for local runs.
func NewLogger(component string) zerolog.Logger {
	var w io.Writer = os.Stdout
	if strings.EqualFold(os.Getenv("POOL_LOG_FORMAT"), "console") {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.TimeOnly}
	}
	return newLogger(w, component, ParseLogLevel(os.Getenv("POOL_LOG_LEVEL")))
}

// NewNopLogger discards everything.
func NewNopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func newLogger(w io.Writer, component string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", "poolledger").
		Str("component", component).
		Logger()
}

// ParseLogLevel accepts any zerolog level name, case-insensitively. Unknown
// or empty input is info.
func ParseLogLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}
