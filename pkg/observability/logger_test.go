package observability_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/histree/pkg/observability"
)

// jsonLogger logs JSON at debug level into buf through a TracingHandler.
func jsonLogger(buf *bytes.Buffer, cfg observability.Config) *slog.Logger {
	return slog.New(observability.NewTracingHandler(
		slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}), cfg))
}

func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")

	var record map[string]any

	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &record))

	return record
}

func TestTracingHandler_SpanIDs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	cfg := observability.DefaultConfig()
	cfg.ServiceName = "histree-test"
	cfg.Environment = "ci"
	cfg.Mode = observability.ModeServe

	traceID, err := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	require.NoError(t, err)

	spanID, err := trace.SpanIDFromHex("0102030405060708")
	require.NoError(t, err)

	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	jsonLogger(&buf, cfg).InfoContext(ctx, "query served", "attribute", 3)

	record := lastRecord(t, &buf)
	assert.Equal(t, traceID.String(), record["trace_id"])
	assert.Equal(t, spanID.String(), record["span_id"])
	assert.Equal(t, "histree-test", record["service"])
	assert.Equal(t, "ci", record["env"])
	assert.Equal(t, "serve", record["mode"])
	assert.InDelta(t, 3.0, record["attribute"], 0)
}

func TestTracingHandler_WithoutSpan(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	jsonLogger(&buf, observability.DefaultConfig()).Info("store opened")

	record := lastRecord(t, &buf)
	assert.NotContains(t, record, "trace_id")
	assert.NotContains(t, record, "env")
	assert.Equal(t, "cli", record["mode"])
}

func TestTracingHandler_GroupsKeepServiceAtTop(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	jsonLogger(&buf, observability.DefaultConfig()).
		WithGroup("tree").With("height", 3).Info("branch created")

	record := lastRecord(t, &buf)
	assert.Equal(t, "histree", record["service"])

	group, ok := record["tree"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 3.0, group["height"], 0)
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	var text bytes.Buffer

	cfg := observability.DefaultConfig()
	cfg.LogLevel = slog.LevelWarn

	logger := observability.NewLogger(cfg, &text)
	logger.Info("hidden")
	logger.Warn("history store was not closed", "path", "a.ht")

	assert.NotContains(t, text.String(), "hidden")
	assert.Contains(t, text.String(), `msg="history store was not closed"`)
	assert.Contains(t, text.String(), "path=a.ht")

	var js bytes.Buffer

	cfg.LogJSON = true
	observability.NewLogger(cfg, &js).Error("corrupt")

	assert.True(t, strings.HasPrefix(js.String(), "{"))
	assert.Equal(t, "corrupt", lastRecord(t, &js)["msg"])
}
