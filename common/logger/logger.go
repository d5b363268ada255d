package logger

import (
	"context"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"github.com/lmittmann/tint"
	"go.opentelemetry.io/otel/trace"
)

// Logger wraps slog.Logger with the helpers shared by every Weft
// service. Derivation methods return a new Logger; the receiver is
// never mutated.
type Logger struct {
	*slog.Logger
}

// New builds a logger for the given level and format. The text format
// uses tint's console handler for local development; anything else
// writes one JSON object per line for log shippers.
func New(level, format string) *Logger {
	lvl := parseLevel(level)

	var handler slog.Handler
	switch format {
	case "text", "console":
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      lvl,
			TimeFormat: time.Kitchen,
		})
	default:
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: lvl,
		})
	}

	return &Logger{Logger: slog.New(handler)}
}

// WithService stamps every line with the owning service name.
func (l *Logger) WithService(name string) *Logger {
	return &Logger{Logger: l.Logger.With("service", name)}
}

// WithContext returns a logger carrying the IDs of the span active in
// ctx, so lines can be joined with traces in the collector. Returns l
// unchanged when ctx carries no span.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return l
	}
	return &Logger{Logger: l.Logger.With(
		"trace_id", sc.TraceID().String(),
		"span_id", sc.SpanID().String(),
	)}
}

// Error logs at error level with the current goroutine's stack
// attached.
func (l *Logger) Error(msg string, args ...any) {
	args = append(args, "stack", string(debug.Stack()))
	l.Logger.Error(msg, args...)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
