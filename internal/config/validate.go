package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validation range constants.
const (
	minChunkBytes     = 1 << 20  // 1 MiB
	maxChunkBytes     = 64 << 20 // 64 MiB
	minPollInterval   = 1 * time.Second
	minConnectTimeout = 1 * time.Second
	minReconnectSecs  = 1
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateFilter(&cfg.Filter)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)
	errs = append(errs, validateRules(cfg.Rules)...)

	return errors.Join(errs...)
}

func validateServer(s *ServerConfig) []error {
	var errs []error

	if s.SyncDir != "" && !strings.HasPrefix(expandTilde(s.SyncDir), "/") {
		errs = append(errs, fmt.Errorf("sync_dir: must be an absolute path (or ~-relative), got %q", s.SyncDir))
	}

	return errs
}

func validateFilter(f *FilterConfig) []error {
	var errs []error

	if f.MaxFileSize != "" && f.MaxFileSize != "0" {
		if _, err := parseSize(f.MaxFileSize); err != nil {
			errs = append(errs, fmt.Errorf("max_file_size: %w", err))
		}
	}

	if f.IgnoreMarker == "" {
		errs = append(errs, errors.New("ignore_marker: must not be empty"))
	}

	return errs
}

var validSyncModes = map[string]bool{
	"incremental": true,
	"full":        true,
	"selective":   true,
}

var validConflictStrategies = map[string]bool{
	"keep_both":   true,
	"keep_merged": true,
	"keep_mine":   true,
	"keep_theirs": true,
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	if !validSyncModes[s.Mode] {
		errs = append(errs, fmt.Errorf("mode: must be one of incremental, full, selective; got %q", s.Mode))
	}

	if !validConflictStrategies[s.ConflictStrategy] {
		errs = append(errs, fmt.Errorf(
			"conflict_strategy: must be one of keep_both, keep_merged, keep_mine, keep_theirs; got %q",
			s.ConflictStrategy))
	}

	errs = append(errs, validateDurationMin("poll_interval", s.PollInterval, minPollInterval)...)
	errs = append(errs, validateDurationNonNeg("debounce_interval", s.DebounceInterval)...)

	if s.ChunkSize != "" {
		bytes, err := parseSize(s.ChunkSize)
		if err != nil {
			errs = append(errs, fmt.Errorf("chunk_size: %w", err))
		} else if bytes < minChunkBytes || bytes > maxChunkBytes {
			errs = append(errs, fmt.Errorf("chunk_size: must be between 1MiB and 64MiB, got %s", s.ChunkSize))
		}
	}

	return errs
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)}
	}

	return nil
}

func validateDurationNonNeg(field, value string) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < 0 {
		return []error{fmt.Errorf("%s: must be >= 0, got %s", field, d)}
	}

	return nil
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("connect_timeout", n.ConnectTimeout, minConnectTimeout)...)

	if n.ReconnectIntervalS < minReconnectSecs {
		errs = append(errs, fmt.Errorf("reconnect_interval_s: must be >= %d, got %d",
			minReconnectSecs, n.ReconnectIntervalS))
	}

	if n.MaxReconnectAttempts < 0 {
		errs = append(errs, fmt.Errorf("max_reconnect_attempts: must be >= 0 (0 means unbounded), got %d",
			n.MaxReconnectAttempts))
	}

	return errs
}

var validRuleKinds = map[string]bool{
	"include": true,
	"exclude": true,
}

var validPatternKinds = map[string]bool{
	"glob":  true,
	"regex": true,
}

func validateRules(rules []RuleConfig) []error {
	var errs []error

	seen := make(map[string]bool, len(rules))

	for i, r := range rules {
		if r.ID == "" {
			errs = append(errs, fmt.Errorf("rule[%d]: id must not be empty", i))
		} else if seen[r.ID] {
			errs = append(errs, fmt.Errorf("rule[%d]: duplicate id %q", i, r.ID))
		} else {
			seen[r.ID] = true
		}

		if r.Kind != "" && !validRuleKinds[r.Kind] {
			errs = append(errs, fmt.Errorf("rule[%d]: kind must be include or exclude, got %q", i, r.Kind))
		}

		if r.PatternKind != "" && !validPatternKinds[r.PatternKind] {
			errs = append(errs, fmt.Errorf("rule[%d]: pattern_kind must be glob or regex, got %q", i, r.PatternKind))
		}

		if r.Pattern == "" {
			errs = append(errs, fmt.Errorf("rule[%d]: pattern must not be empty", i))
		}
	}

	return errs
}
