package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/claudesync/claudesync/internal/config"
)

func newConfigInitCmd() *cobra.Command {
	var (
		serverURL string
		wsURL     string
		syncDir   string
		force     bool
	)

	cmd := &cobra.Command{
		Use:   "config-init",
		Short: "Write a new configuration file with default settings",
		Annotations: map[string]string{
			skipConfigAnnotation: "true",
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := flagConfigPath
			if path == "" {
				path = config.DefaultConfigPath()
			}

			if path == "" {
				return fmt.Errorf("config-init: could not determine a default config path; pass --config")
			}

			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("config-init: %s already exists (pass --force to overwrite)", path)
				}
			}

			if syncDir == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return fmt.Errorf("config-init: determining home directory: %w", err)
				}

				syncDir = home + "/.claude"
			}

			if err := config.CreateDefault(path, serverURL, wsURL, syncDir); err != nil {
				return fmt.Errorf("config-init: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote configuration to %s\n", path)

			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "https://sync.example.com", "sync server base URL")
	cmd.Flags().StringVar(&wsURL, "websocket-url", "wss://sync.example.com", "sync server websocket URL")
	cmd.Flags().StringVar(&syncDir, "sync-dir", "", "managed directory to sync (default: ~/.claude)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	return cmd
}
