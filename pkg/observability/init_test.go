package observability_test

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/histree/pkg/observability"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := observability.DefaultConfig()

	assert.Equal(t, observability.Config{
		ServiceName:        "histree",
		Mode:               observability.ModeCLI,
		LogLevel:           slog.LevelInfo,
		ShutdownTimeoutSec: 5,
	}, cfg)
}

func TestParseOTLPHeaders(t *testing.T) {
	t.Parallel()

	for raw, want := range map[string]map[string]string{
		"":                     nil,
		"novalue":              nil,
		"api-key=abc":          {"api-key": "abc"},
		" a = 1 , b=2 ,broken": {"a": "1", "b": "2"},
		"token=x=y":            {"token": "x=y"},
	} {
		assert.Equal(t, want, observability.ParseOTLPHeaders(raw), "raw %q", raw)
	}
}

func TestInit_NoExportersIsNoop(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer

	cfg := observability.DefaultConfig()
	cfg.LogOutput = &logs

	providers, err := observability.Init(cfg)
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, providers.Shutdown(context.Background())) })

	assert.Nil(t, providers.MetricsHandler)

	_, span := providers.Tracer.Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	providers.Logger.Info("store opened")
	assert.Contains(t, logs.String(), "store opened")
}

func TestInit_PrometheusExposesStoreMetrics(t *testing.T) {
	t.Parallel()

	cfg := observability.DefaultConfig()
	cfg.Mode = observability.ModeServe
	cfg.Prometheus = true
	cfg.LogOutput = &bytes.Buffer{}

	providers, err := observability.Init(cfg)
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, providers.Shutdown(context.Background())) })
	require.NotNil(t, providers.MetricsHandler)

	sm, err := observability.NewStoreMetrics(providers.Meter)
	require.NoError(t, err)

	sm.RecordInsert(context.Background())

	rec := httptest.NewRecorder()
	providers.MetricsHandler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "histree_store_inserts")
}
