package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// Log record keys added by TracingHandler.
const (
	logKeyTraceID = "trace_id"
	logKeySpanID  = "span_id"
	logKeyService = "service"
	logKeyEnv     = "env"
	logKeyMode    = "mode"
)

// TracingHandler stamps records logged with a span in their context with
// trace_id and span_id so logs and traces can be joined.
type TracingHandler struct {
	next slog.Handler
}

// NewTracingHandler wraps next. The service, mode and, when set,
// environment of cfg are attached up front, outside any later group.
func NewTracingHandler(next slog.Handler, cfg Config) *TracingHandler {
	static := []slog.Attr{
		slog.String(logKeyService, cfg.ServiceName),
		slog.String(logKeyMode, string(cfg.Mode)),
	}

	if cfg.Environment != "" {
		static = append(static, slog.String(logKeyEnv, cfg.Environment))
	}

	return &TracingHandler{next: next.WithAttrs(static)}
}

// Enabled reports whether the wrapped handler logs level.
func (th *TracingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return th.next.Enabled(ctx, level)
}

// Handle adds the span ids, if any, and passes the record on.
func (th *TracingHandler) Handle(ctx context.Context, record slog.Record) error {
	span := trace.SpanContextFromContext(ctx)
	if span.IsValid() {
		record.AddAttrs(
			slog.String(logKeyTraceID, span.TraceID().String()),
			slog.String(logKeySpanID, span.SpanID().String()),
		)
	}

	err := th.next.Handle(ctx, record)
	if err != nil {
		return fmt.Errorf("tracing handler: %w", err)
	}

	return nil
}

// WithAttrs implements slog.Handler.
func (th *TracingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TracingHandler{next: th.next.WithAttrs(attrs)}
}

// WithGroup implements slog.Handler.
func (th *TracingHandler) WithGroup(name string) slog.Handler {
	return &TracingHandler{next: th.next.WithGroup(name)}
}

// NewLogger returns a logger writing text, or JSON with cfg.LogJSON, to w
// at cfg.LogLevel and above.
func NewLogger(cfg Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var base slog.Handler = slog.NewTextHandler(w, opts)
	if cfg.LogJSON {
		base = slog.NewJSONHandler(w, opts)
	}

	return slog.New(NewTracingHandler(base, cfg))
}
