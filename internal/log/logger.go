// Package log carries the service's slog conventions: a component-tagged
// logger, shared field names and request-scoped loggers for HTTP handlers.
package log

import (
	"log/slog"
	"os"
	"strings"
)

// Logger is a slog.Logger that always carries a component attribute.
type Logger struct {
	*slog.Logger
	root      *slog.Logger
	component string
	attrs     []any
}

type Config struct {
	Level     slog.Level
	Component string
	Handler   slog.Handler // nil means text on stdout at Level
}

// DefaultConfig logs text to stdout at LOG_LEVEL, tagged as the app component.
func DefaultConfig() Config {
	return Config{
		Level:     ParseLevel(os.Getenv("LOG_LEVEL")),
		Component: ComponentApp,
	}
}

func New(config Config) *Logger {
	handler := config.Handler
	if handler == nil {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: config.Level})
	}
	return newLogger(slog.New(handler), config.Component, nil)
}

func newLogger(root *slog.Logger, component string, attrs []any) *Logger {
	base := root
	if component != "" {
		base = base.With(FieldComponent, component)
	}
	if len(attrs) > 0 {
		base = base.With(attrs...)
	}
	return &Logger{Logger: base, root: root, component: component, attrs: attrs}
}

func (l *Logger) With(args ...any) *Logger {
	attrs := append(append([]any(nil), l.attrs...), args...)
	return &Logger{Logger: l.Logger.With(args...), root: l.root, component: l.component, attrs: attrs}
}

// WithComponent re-tags the logger and keeps attributes added with With.
func (l *Logger) WithComponent(component string) *Logger {
	return newLogger(l.root, component, l.attrs)
}

func (l *Logger) Component() string {
	return l.component
}

// ParseLevel maps a LOG_LEVEL value to a slog level. Unknown values mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
