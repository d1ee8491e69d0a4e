package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the global logger instance configured for the application.
var Logger *slog.Logger

// InitLogger configures the global logger to write JSON records to stderr,
// leaving stdout to command output such as rendered rule tables.
func InitLogger(level string, service string) {
	Logger = New(os.Stderr, level, service)
	slog.SetDefault(Logger)
}

// New builds a JSON logger that stamps every record with service and status.
func New(w io.Writer, level string, service string) *slog.Logger {
	options := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}
	return slog.New(&serviceHandler{
		next:    slog.NewJSONHandler(w, options),
		service: service,
	})
}

// GetLogger returns the global logger instance.
func GetLogger() *slog.Logger {
	return Logger
}

// ParseLevel maps a level name to a slog level, defaulting to info.
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

type serviceHandler struct {
	next    slog.Handler
	service string
}

func (h *serviceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *serviceHandler) Handle(ctx context.Context, record slog.Record) error {
	clone := record.Clone()
	clone.AddAttrs(
		slog.String("service", h.service),
		slog.String("status", levelToStatus(clone.Level)),
	)
	if id, ok := RequestID(ctx); ok {
		clone.AddAttrs(slog.String("request_id", id))
	}
	return h.next.Handle(ctx, clone)
}

func (h *serviceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &serviceHandler{
		next:    h.next.WithAttrs(attrs),
		service: h.service,
	}
}

func (h *serviceHandler) WithGroup(name string) slog.Handler {
	return &serviceHandler{
		next:    h.next.WithGroup(name),
		service: h.service,
	}
}

func levelToStatus(level slog.Level) string {
	switch level {
	case slog.LevelDebug:
		return "debug"
	case slog.LevelWarn:
		return "warning"
	case slog.LevelError:
		return "error"
	default:
		return "info"
	}
}

type requestIDKey struct{}

// WithRequestID returns a context whose log records carry id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request id stored by WithRequestID.
func RequestID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok && id != ""
}
