package config

// Default values for configuration options, chosen to be safe, reasonable
// starting points so `claudesync sync` works with no config file edits
// once `config-init` has written the managed directory and server URL.
const (
	defaultMaxFileSize      = "50MB"
	defaultIgnoreMarker     = ".csyncignore"
	defaultSyncMode         = "incremental"
	defaultPollInterval     = "5m"
	defaultDebounceInterval = "500ms"
	defaultConflictStrategy = "keep_merged"
	defaultChunkSize        = "4MiB"
	defaultLogLevel         = "info"
	defaultLogFormat        = "auto"
	defaultConnectTimeout   = "10s"
	defaultReconnectSecs    = 5
	defaultMaxReconnects    = 0 // unbounded, per spec.md §4.6
	defaultUserAgent        = "claudesync/" // no version is appended
)

// DefaultConfig returns a Config populated with every default value. Used
// both as the TOML decode target (so unset fields keep their default) and
// as the fallback when no config file exists yet.
func DefaultConfig() *Config {
	return &Config{
		Filter:  defaultFilterConfig(),
		Sync:    defaultSyncConfig(),
		Logging: defaultLoggingConfig(),
		Network: defaultNetworkConfig(),
	}
}

func defaultFilterConfig() FilterConfig {
	return FilterConfig{
		MaxFileSize:  defaultMaxFileSize,
		IgnoreMarker: defaultIgnoreMarker,
	}
}

func defaultSyncConfig() SyncConfig {
	return SyncConfig{
		Mode:             defaultSyncMode,
		PollInterval:     defaultPollInterval,
		DebounceInterval: defaultDebounceInterval,
		ConflictStrategy: defaultConflictStrategy,
		ChunkSize:        defaultChunkSize,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
	}
}

func defaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		ConnectTimeout:       defaultConnectTimeout,
		ReconnectIntervalS:   defaultReconnectSecs,
		MaxReconnectAttempts: defaultMaxReconnects,
		UserAgent:            defaultUserAgent,
	}
}
