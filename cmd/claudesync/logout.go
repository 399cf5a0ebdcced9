package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

type logoutRequest struct {
	DeviceID string `json:"device_id"`
}

func newLogoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Revoke this device's credentials and remove them locally",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			bundle, err := cc.Tokens.Load()
			if err != nil {
				return cc.Tokens.Delete()
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			if err := doLogout(ctx, cc.Cfg.Server.URL, bundle.AccessToken, bundle.DeviceID); err != nil {
				cc.Logger.Warn("logout: server-side revocation failed, clearing local credentials anyway", "error", err)
			}

			if err := cc.Tokens.Delete(); err != nil {
				return fmt.Errorf("logout: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")

			return nil
		},
	}

	return cmd
}

func doLogout(ctx context.Context, baseURL, accessToken, deviceID string) error {
	encoded, err := json.Marshal(logoutRequest{DeviceID: deviceID})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/auth/logout", bytes.NewReader(encoded))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	return nil
}
