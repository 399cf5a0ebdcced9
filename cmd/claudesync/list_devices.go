package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newListDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-devices",
		Short: "List this account's currently-online devices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			remote, err := cc.remoteClient()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			devices, err := remote.ListDevices(ctx)
			if err != nil {
				return fmt.Errorf("list-devices: %w", err)
			}

			if len(devices) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no devices online")
				return nil
			}

			for _, d := range devices {
				fmt.Fprintln(cmd.OutOrStdout(), d)
			}

			return nil
		},
	}
}
