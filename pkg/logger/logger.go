// Package logger configures structured logging for the progress hub.
// It builds log/slog handlers and provides attribute helpers for the
// values that show up in almost every log line.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// ParseLevel parses a string into a slog level. Unknown values map to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Options configures the logger.
type Options struct {
	Output    io.Writer
	Level     slog.Level
	JSON      bool
	AddSource bool
}

// ForEnvironment returns options for the given app environment.
// Production writes JSON, everything else writes text.
func ForEnvironment(env, level string) Options {
	prod := env == "production"
	return Options{
		Output:    os.Stdout,
		Level:     ParseLevel(level),
		JSON:      prod,
		AddSource: prod,
	}
}

// New creates a new slog.Logger with the given options.
func New(opts Options) *slog.Logger {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	handlerOpts := &slog.HandlerOptions{
		Level:     opts.Level,
		AddSource: opts.AddSource,
	}
	var h slog.Handler
	if opts.JSON {
		h = slog.NewJSONHandler(opts.Output, handlerOpts)
	} else {
		h = slog.NewTextHandler(opts.Output, handlerOpts)
	}
	return slog.New(h)
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// OrDefault returns l, or slog.Default() when l is nil.
func OrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

// Context key for logger.
type ctxKey struct{}

// WithContext returns a new context with the logger attached.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext retrieves the logger from context, or returns slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// Err creates an error attribute.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Any("error", nil)
	}
	return slog.String("error", err.Error())
}

// Progress-hub logging helpers.
func Identity(id string) slog.Attr { return slog.String("identity", id) }
func Module(name string) slog.Attr { return slog.String("module", name) }
func Verdict(v string) slog.Attr { return slog.String("verdict", v) }
func Network(id string) slog.Attr { return slog.String("network", id) }
func PageToken(token string) slog.Attr { return slog.String("page", token) }
func Component(name string) slog.Attr { return slog.String("component", name) }
func Operation(name string) slog.Attr { return slog.String("operation", name) }
func RequestID(id string) slog.Attr { return slog.String("request_id", id) }
func Latency(d time.Duration) slog.Attr { return slog.Duration("latency", d) }
func Modules(names []string) slog.Attr { return slog.Any("modules", names) }
