package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, starting from DefaultConfig so
// unset fields keep their defaults, then validates the result.
func Load(path string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Debug("config: loading", "path", path)

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		logger.Warn("config: unrecognized keys ignored", "keys", undecoded)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads path if it exists, otherwise returns DefaultConfig.
// Supports running `claudesync sync` before `config-init` has ever run.
func LoadOrDefault(path string, logger *slog.Logger) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path, logger)
}

// CLIOverrides holds config values the caller set explicitly on the
// command line, taking precedence over both the file and environment.
type CLIOverrides struct {
	ConfigPath string
	SyncDir    string
	ServerURL  string
}

// ResolveConfigPath picks the effective config file path: CLI flag > env
// var > platform default.
func ResolveConfigPath(env EnvOverrides, cli CLIOverrides) string {
	if cli.ConfigPath != "" {
		return cli.ConfigPath
	}

	if env.ConfigPath != "" {
		return env.ConfigPath
	}

	return DefaultConfigPath()
}

// Resolve loads the config file (or defaults) and applies environment and
// CLI overrides, in that priority order.
func Resolve(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) (*Config, error) {
	path := ResolveConfigPath(env, cli)

	cfg, err := LoadOrDefault(path, logger)
	if err != nil {
		return nil, err
	}

	if env.SyncDir != "" {
		cfg.Server.SyncDir = env.SyncDir
	}

	if cli.SyncDir != "" {
		cfg.Server.SyncDir = cli.SyncDir
	}

	if cli.ServerURL != "" {
		cfg.Server.URL = cli.ServerURL
	}

	cfg.Server.SyncDir = expandTilde(cfg.Server.SyncDir)

	return cfg, nil
}
