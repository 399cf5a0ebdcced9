package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/claudesync/claudesync/internal/engine"
	"github.com/claudesync/claudesync/internal/localstate"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show this device's per-path sync status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			stateFile := cc.Cfg.Server.StateFile
			if stateFile == "" {
				stateFile = cc.Cfg.Server.SyncDir + "/.claudesync-state.db"
			}

			store, err := localstate.Open(stateFile, cc.Logger)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			defer store.Close()

			states, err := store.LoadAll(context.Background())
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}

			paths := make([]string, 0, len(states))
			for p := range states {
				paths = append(paths, p)
			}

			sort.Strings(paths)

			for _, p := range paths {
				st := states[p]
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", st.Status, p)

				if st.LastError != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "         error: %s\n", st.LastError)
				}
			}

			summary := engine.Summarize(states)
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d path(s): synced=%d failed=%d conflicts=%d\n",
				len(states), summary.Synced, summary.Failed, summary.Conflicts)

			return nil
		},
	}
}
