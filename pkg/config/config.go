// Package config loads histree configuration from a YAML file, HISTREE_*
// environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/spf13/viper"

	"github.com/Sumatoshi-tech/histree/pkg/htree"
	"github.com/Sumatoshi-tech/histree/pkg/observability"
	"github.com/Sumatoshi-tech/histree/pkg/units"
)

// Sentinel validation errors.
var (
	ErrInvalidBlockSize    = errors.New("invalid block size")
	ErrInvalidMaxChildren  = errors.New("max children must be at least 2")
	ErrInvalidCacheSize    = errors.New("invalid node cache size")
	ErrInvalidCheckpoint   = errors.New("checkpoint interval must not be negative")
	ErrInvalidBranchPolicy = errors.New("unknown branch policy")
	ErrInvalidLogLevel     = errors.New("invalid log level")
	ErrInvalidLogFormat    = errors.New("invalid log format")
	ErrInvalidSampleRatio  = errors.New("sample ratio must be within [0, 1]")
)

// envPrefix prefixes environment overrides, e.g. HISTREE_STORE_BLOCK_SIZE.
const envPrefix = "HISTREE"

// Config holds all histree configuration.
type Config struct {
	Store         StoreConfig         `mapstructure:"store"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Server        ServerConfig        `mapstructure:"server"`
}

// StoreConfig holds the tree geometry and tuning of new and opened stores.
type StoreConfig struct {
	// BlockSize is a human readable size such as "64KiB".
	BlockSize string `mapstructure:"block_size"`
	// CacheBytes bounds the sealed node cache by size; "0" disables the bound.
	CacheBytes   string `mapstructure:"cache_bytes"`
	BranchPolicy string `mapstructure:"branch_policy"`
	MaxChildren  int    `mapstructure:"max_children"`
	CacheNodes   int    `mapstructure:"cache_nodes"`
	// CheckpointInterval is the number of inserts between checkpoints; 0 disables them.
	CheckpointInterval int    `mapstructure:"checkpoint_interval"`
	ProviderVersion    uint32 `mapstructure:"provider_version"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ObservabilityConfig holds OpenTelemetry export settings.
type ObservabilityConfig struct {
	ServiceName  string  `mapstructure:"service_name"`
	Environment  string  `mapstructure:"environment"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	OTLPHeaders  string  `mapstructure:"otlp_headers"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure"`
	DebugTrace   bool    `mapstructure:"debug_trace"`
}

// ServerConfig holds the query server configuration.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoadConfig loads configuration from configPath, or from histree.yaml in
// the working directory or $HOME/.config/histree when configPath is empty.
// A missing default file is not an error.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName("histree")
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
		viperCfg.AddConfigPath("$HOME/.config/histree")
	}

	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viperCfg.AutomaticEnv()

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	var config Config

	unmarshalErr := viperCfg.Unmarshal(&config)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	validateErr := config.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &config, nil
}

// Default returns the configuration used when nothing is configured.
func Default() *Config {
	viperCfg := viper.New()
	setDefaults(viperCfg)

	var config Config

	// Defaults always decode.
	_ = viperCfg.Unmarshal(&config)

	return &config
}

func setDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("store.block_size", DefaultBlockSize)
	viperCfg.SetDefault("store.max_children", DefaultMaxChildren)
	viperCfg.SetDefault("store.cache_nodes", DefaultCacheNodes)
	viperCfg.SetDefault("store.cache_bytes", DefaultCacheBytes)
	viperCfg.SetDefault("store.checkpoint_interval", DefaultCheckpointInterval)
	viperCfg.SetDefault("store.branch_policy", DefaultBranchPolicy)
	viperCfg.SetDefault("store.provider_version", DefaultProviderVersion)

	viperCfg.SetDefault("logging.level", DefaultLogLevel)
	viperCfg.SetDefault("logging.format", DefaultLogFormat)

	viperCfg.SetDefault("observability.service_name", DefaultServiceName)
	viperCfg.SetDefault("observability.environment", "")
	viperCfg.SetDefault("observability.otlp_endpoint", "")
	viperCfg.SetDefault("observability.otlp_headers", "")
	viperCfg.SetDefault("observability.otlp_insecure", false)
	viperCfg.SetDefault("observability.debug_trace", false)
	viperCfg.SetDefault("observability.sample_ratio", DefaultSampleRatio)

	viperCfg.SetDefault("server.addr", DefaultServerAddr)
}

// Validate checks every section.
func (c *Config) Validate() error {
	_, err := c.Store.BlockSizeBytes()
	if err != nil {
		return err
	}

	if c.Store.MaxChildren < 2 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxChildren, c.Store.MaxChildren)
	}

	if c.Store.CacheNodes < 0 {
		return fmt.Errorf("%w: %d nodes", ErrInvalidCacheSize, c.Store.CacheNodes)
	}

	_, err = c.Store.CacheBytesValue()
	if err != nil {
		return err
	}

	if c.Store.CheckpointInterval < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCheckpoint, c.Store.CheckpointInterval)
	}

	if _, ok := htree.PolicyByName(c.Store.BranchPolicy); !ok {
		return fmt.Errorf("%w: %q", ErrInvalidBranchPolicy, c.Store.BranchPolicy)
	}

	_, err = c.Logging.SlogLevel()
	if err != nil {
		return err
	}

	if c.Logging.Format != LogFormatText && c.Logging.Format != LogFormatJSON {
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Logging.Format)
	}

	if c.Observability.SampleRatio < 0 || c.Observability.SampleRatio > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidSampleRatio, c.Observability.SampleRatio)
	}

	return nil
}

// BlockSizeBytes parses the configured block size.
func (s StoreConfig) BlockSizeBytes() (int, error) {
	n, err := units.ParseSize(s.BlockSize)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidBlockSize, err)
	}

	if n <= 0 || n > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d bytes", ErrInvalidBlockSize, n)
	}

	return int(n), nil
}

// CacheBytesValue parses the configured cache size bound.
func (s StoreConfig) CacheBytesValue() (int64, error) {
	n, err := units.ParseSize(s.CacheBytes)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidCacheSize, err)
	}

	return n, nil
}

// SlogLevel parses the configured level name.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level

	err := level.UnmarshalText([]byte(l.Level))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLogLevel, l.Level)
	}

	return level, nil
}

// ObservabilityConfig maps the loaded configuration onto observability.Config.
func (c *Config) ObservabilityConfig(mode observability.AppMode, serviceVersion string) observability.Config {
	out := observability.DefaultConfig()

	out.Mode = mode
	out.ServiceVersion = serviceVersion
	out.LogJSON = c.Logging.Format == LogFormatJSON
	out.Environment = c.Observability.Environment
	out.OTLPEndpoint = c.Observability.OTLPEndpoint
	out.OTLPHeaders = observability.ParseOTLPHeaders(c.Observability.OTLPHeaders)
	out.OTLPInsecure = c.Observability.OTLPInsecure
	out.DebugTrace = c.Observability.DebugTrace
	out.SampleRatio = c.Observability.SampleRatio
	out.Prometheus = mode == observability.ModeServe

	if c.Observability.ServiceName != "" {
		out.ServiceName = c.Observability.ServiceName
	}

	if level, err := c.Logging.SlogLevel(); err == nil {
		out.LogLevel = level
	}

	return out
}
