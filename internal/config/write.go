package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// configFilePermissions is the standard permission mode for config files.
// Owner read/write, group and others read-only.
const configFilePermissions = 0o644

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// configTemplate is the default config file content written by config-init.
// All settings are present as commented-out defaults so users can discover
// every option without reading docs.
const configTemplate = `# claudesync configuration

# ── Server ──
[server]
url = %q
websocket_url = %q
sync_dir = %q
# token_file = ""
# state_file = ""

# ── Filter ──
[filter]
# skip_dotfiles = true
# skip_symlinks = true
# max_file_size = %q
# ignore_marker = %q

# ── Sync ──
[sync]
# mode = %q
# poll_interval = %q
# debounce_interval = %q
# conflict_strategy = %q
# chunk_size = %q

# ── Logging ──
[logging]
# log_level = %q
# log_file = ""
# log_format = %q

# ── Network ──
[network]
# connect_timeout = %q
# reconnect_interval_s = %d
# max_reconnect_attempts = %d
# user_agent = %q

# ── Rules ──
# Add one [[rule]] section per rule ('rules add' does not write this file).
`

// CreateDefault writes a fresh config file with serverURL/wsURL/syncDir
// filled in and every other setting commented out at its default value.
// Used by the config-init subcommand on first run.
func CreateDefault(path, serverURL, wsURL, syncDir string) error {
	slog.Info("creating config file", "path", path, "sync_dir", syncDir)

	content := fmt.Sprintf(configTemplate,
		serverURL, wsURL, syncDir,
		defaultMaxFileSize, defaultIgnoreMarker,
		defaultSyncMode, defaultPollInterval, defaultDebounceInterval, defaultConflictStrategy, defaultChunkSize,
		defaultLogLevel, defaultLogFormat,
		defaultConnectTimeout, defaultReconnectSecs, defaultMaxReconnects, defaultUserAgent,
	)

	return atomicWriteFile(path, []byte(content))
}

// expandTilde expands a leading "~" or "~/" to the user's home directory.
func expandTilde(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	if path == "~" {
		return home
	}

	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}

	return path
}

// atomicWriteFile writes data to a temporary file in the same directory as
// path, then renames it to the target path. This prevents partial writes
// from corrupting the config file on crash. Parent directories are created
// as needed. Files are created with configFilePermissions (0644).
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	// Clean up the temp file on any error path.
	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	// Flush data to disk before rename. Without fsync, a power loss after
	// rename could leave the file empty (rename is metadata-only on POSIX).
	if err := f.Sync(); err != nil {
		f.Close()

		return fmt.Errorf("syncing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
