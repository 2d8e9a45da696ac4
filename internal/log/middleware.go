package log

import (
	"context"
	"log/slog"
	"net/http"

	"creatorbank/internal/core"
)

type ctxKey struct{}

// NewContext returns ctx carrying logger.
func NewContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the request logger, or one wrapping slog.Default
// tagged "unknown" when none was installed.
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return logger
	}
	return &Logger{Logger: slog.Default(), root: slog.Default(), component: "unknown"}
}

// Middleware installs logger on every request context.
func Middleware(logger *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), logger)))
		})
	}
}

// RequestIDMiddleware adds the request ID to the request logger. It must run
// after Middleware.
func RequestIDMiddleware(requestID func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := FromContext(r.Context()).With(FieldRequestID, requestID(r))
			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), logger)))
		})
	}
}

// StructuredLogger writes the fixed-shape events: request start and end and
// recorded earnings.
type StructuredLogger struct {
	logger *Logger
}

func NewStructuredLogger(logger *Logger) *StructuredLogger {
	return &StructuredLogger{logger: logger}
}

func (sl *StructuredLogger) LogHTTPStart(ctx context.Context, r *http.Request, clientIP string) {
	attrs := append(requestAttrs(r, clientIP), FieldUserAgent, r.UserAgent())
	sl.logger.DebugContext(ctx, "HTTP request started", attrs...)
}

// LogHTTPEnd logs at warn for 4xx and error for 5xx responses.
func (sl *StructuredLogger) LogHTTPEnd(ctx context.Context, r *http.Request, statusCode int, durationMs int64, clientIP string) {
	level := slog.LevelInfo
	switch {
	case statusCode >= 500:
		level = slog.LevelError
	case statusCode >= 400:
		level = slog.LevelWarn
	}
	attrs := append(requestAttrs(r, clientIP), FieldStatusCode, statusCode, FieldDuration, durationMs)
	sl.logger.Log(ctx, level, "HTTP request completed", attrs...)
}

func (sl *StructuredLogger) LogEarningRecorded(ctx context.Context, e core.Earning) {
	sl.logger.WithComponent(ComponentEarnings).InfoContext(ctx, "Earning recorded", EarningAttrs(e)...)
}
