// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for claudesync. Generalizes the
// teacher's multi-profile, multi-drive Config down to the single managed
// directory + single sync server this system's client talks to.
package config

// Config is the top-level configuration structure, loaded from a single
// TOML file at a platform-specific default location (see paths.go).
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Filter  FilterConfig  `toml:"filter"`
	Sync    SyncConfig    `toml:"sync"`
	Logging LoggingConfig `toml:"logging"`
	Network NetworkConfig `toml:"network"`
	Rules   []RuleConfig  `toml:"rule"`
}

// ServerConfig identifies the sync server and the local paths the client
// operates against.
type ServerConfig struct {
	URL       string `toml:"url"`
	WebsocketURL string `toml:"websocket_url"`
	SyncDir   string `toml:"sync_dir"`
	TokenFile string `toml:"token_file"`
	StateFile string `toml:"state_file"`
}

// FilterConfig controls which files are included in sync before the rule
// engine (C1) applies its own glob/regex rules.
type FilterConfig struct {
	SkipDotfiles bool   `toml:"skip_dotfiles"`
	SkipSymlinks bool   `toml:"skip_symlinks"`
	MaxFileSize  string `toml:"max_file_size"`
	IgnoreMarker string `toml:"ignore_marker"`
}

// SyncConfig controls the sync engine's (C9) run cadence and conflict
// defaults.
type SyncConfig struct {
	Mode             string `toml:"mode"`
	PollInterval     string `toml:"poll_interval"`
	DebounceInterval string `toml:"debounce_interval"`
	ConflictStrategy string `toml:"conflict_strategy"`
	ChunkSize        string `toml:"chunk_size"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFile   string `toml:"log_file"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls the transport layer's (C6) retry and connection
// pool behavior.
type NetworkConfig struct {
	ConnectTimeout       string `toml:"connect_timeout"`
	ReconnectIntervalS   int    `toml:"reconnect_interval_s"`
	MaxReconnectAttempts int    `toml:"max_reconnect_attempts"`
	UserAgent            string `toml:"user_agent"`
}

// RuleConfig is one `[[rule]]` table, mirroring internal/rules.Rule's TOML
// shape so config-loaded rules can be fed straight to rules.NewFromRules.
type RuleConfig struct {
	ID          string `toml:"id"`
	Name        string `toml:"name"`
	Kind        string `toml:"kind"`
	Pattern     string `toml:"pattern"`
	PatternKind string `toml:"pattern_kind"`
	Priority    int    `toml:"priority"`
	Enabled     bool   `toml:"enabled"`
	FileType    string `toml:"file_type"`
}
