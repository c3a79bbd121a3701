package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog to provide subsystem-scoped child loggers.
type Logger struct {
	zl zerolog.Logger
}

// New creates a root logger writing to w at the given level. A nil w means
// pretty console output on stderr; an unknown level means info.
func New(w io.Writer, level string) *Logger {
	if w == nil {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	lvl, err := ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return &Logger{zl: zerolog.New(w).With().Timestamp().Logger().Level(lvl)}
}

// NewStyled creates a root logger on stderr using the configured console style.
// "json" emits one JSON object per line and "compact" drops colors.
// Anything else is pretty.
func NewStyled(style, level string) *Logger {
	var w io.Writer
	switch style {
	case "json":
		w = os.Stderr
	case "compact":
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen, NoColor: true}
	}
	return New(w, level)
}

// ParseLevel maps a config level name to a zerolog level. Names are case
// insensitive; "silent" disables output and "" is info.
func ParseLevel(s string) (zerolog.Level, error) {
	switch s = strings.ToLower(strings.TrimSpace(s)); s {
	case "":
		return zerolog.InfoLevel, nil
	case "silent":
		return zerolog.Disabled, nil
	case "trace", "debug", "info", "warn", "error", "fatal":
		return zerolog.ParseLevel(s)
	}
	return zerolog.NoLevel, fmt.Errorf("unknown log level %q", s)
}

// Sub returns a child logger tagged with a subsystem name.
func (l *Logger) Sub(subsystem string) *Logger {
	return &Logger{zl: l.zl.With().Str("subsystem", subsystem).Logger()}
}

// With returns a child logger carrying fixed string fields given as
// key, value pairs. A trailing odd key is dropped.
func (l *Logger) With(keyvals ...string) *Logger {
	ctx := l.zl.With()
	for i := 0; i+1 < len(keyvals); i += 2 {
		ctx = ctx.Str(keyvals[i], keyvals[i+1])
	}
	return &Logger{zl: ctx.Logger()}
}

func (l *Logger) Trace() *zerolog.Event { return l.zl.Trace() }
func (l *Logger) Debug() *zerolog.Event { return l.zl.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.zl.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.zl.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.zl.Error() }
