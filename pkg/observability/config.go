// Package observability wires OpenTelemetry tracing and metrics and the
// structured slog logger used by histree stores and the histree CLI.
package observability

import (
	"io"
	"log/slog"
)

// AppMode identifies how the binary was launched.
type AppMode string

// Launch modes.
const (
	ModeCLI   AppMode = "cli"
	ModeServe AppMode = "serve"
)

const (
	defaultServiceName        = "histree"
	defaultShutdownTimeoutSec = 5
)

// Config selects exporters, sampling and log format.
type Config struct {
	// LogOutput receives log records. Nil means standard error.
	LogOutput io.Writer

	// OTLPHeaders are sent as gRPC metadata with every export.
	OTLPHeaders map[string]string

	ServiceName    string
	ServiceVersion string
	Environment    string
	Mode           AppMode

	// OTLPEndpoint is a collector address such as "localhost:4317". Empty
	// disables OTLP export.
	OTLPEndpoint string

	// SampleRatio samples root spans by trace id when positive. Ignored
	// with DebugTrace.
	SampleRatio float64

	ShutdownTimeoutSec int
	LogLevel           slog.Level

	OTLPInsecure bool
	// DebugTrace samples every span and logs span attributes the export
	// filter drops.
	DebugTrace bool
	LogJSON    bool
	// Prometheus adds a pull reader served by Providers.MetricsHandler.
	Prometheus bool
}

// DefaultConfig returns text logging at info level with every exporter off.
func DefaultConfig() Config {
	return Config{
		ServiceName:        defaultServiceName,
		Mode:               ModeCLI,
		LogLevel:           slog.LevelInfo,
		ShutdownTimeoutSec: defaultShutdownTimeoutSec,
	}
}
