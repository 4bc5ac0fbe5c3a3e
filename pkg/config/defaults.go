package config

// Store defaults.
const (
	DefaultBlockSize          = "64KiB"
	DefaultMaxChildren        = 50
	DefaultCacheNodes         = 1024
	DefaultCacheBytes         = "0"
	DefaultCheckpointInterval = 0
	DefaultBranchPolicy       = "interval-start"
	DefaultProviderVersion    = 1
)

// Logging defaults.
const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)

// Observability and server defaults.
const (
	DefaultServiceName = "histree"
	DefaultServerAddr  = ":8080"
	DefaultSampleRatio = 0.0
)

// Log formats accepted in logging.format.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)
