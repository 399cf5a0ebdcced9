package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/claudesync/claudesync/internal/tokenstore"
)

// loginRequest is the payload claudesync-server's (external) auth login
// endpoint accepts — spec.md §6's transport surface lists
// register/login/refresh/logout/revoke as part of the authentication
// service, though issuing and verifying credentials is outside this
// repo's module map (DESIGN.md: C-auth scope decision).
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	DeviceID string `json:"device_id"`
}

type loginResponse struct {
	AccessToken   string `json:"access_token"`
	RefreshToken  string `json:"refresh_token"`
	UserID        string `json:"user_id"`
	DeviceID      string `json:"device_id"`
	AccessExpiry  int64  `json:"access_expiry"`
	RefreshExpiry int64  `json:"refresh_expiry"`
}

func newLoginCmd() *cobra.Command {
	var (
		username string
		deviceID string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate this device against the sync server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if username == "" {
				fmt.Fprint(cmd.OutOrStdout(), "Username: ")

				if _, err := fmt.Fscanln(cmd.InOrStdin(), &username); err != nil {
					return fmt.Errorf("login: reading username: %w", err)
				}
			}

			password, err := readPassword(cmd)
			if err != nil {
				return fmt.Errorf("login: reading password: %w", err)
			}

			if deviceID == "" {
				host, _ := os.Hostname()
				deviceID = host
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			resp, err := doLogin(ctx, cc.Cfg.Server.URL, loginRequest{
				Username: username,
				Password: password,
				DeviceID: deviceID,
			})
			if err != nil {
				return fmt.Errorf("login: %w", err)
			}

			bundle := tokenstore.Bundle{
				AccessToken:   resp.AccessToken,
				RefreshToken:  resp.RefreshToken,
				UserID:        resp.UserID,
				DeviceID:      resp.DeviceID,
				AccessExpiry:  resp.AccessExpiry,
				RefreshExpiry: resp.RefreshExpiry,
			}

			if err := cc.Tokens.Save(bundle); err != nil {
				return fmt.Errorf("login: saving credentials: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s on device %s\n", bundle.UserID, bundle.DeviceID)

			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "account username (prompted if omitted)")
	cmd.Flags().StringVar(&deviceID, "device-id", "", "device identifier (default: hostname)")

	return cmd
}

func doLogin(ctx context.Context, baseURL string, req loginRequest) (*loginResponse, error) {
	encoded, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/auth/login", bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding login response: %w", err)
	}

	return &out, nil
}

// doRefresh exchanges a refresh credential for a new bundle, used by
// tokenstore.OAuth2TokenSource whenever the cached access credential has
// expired. refreshToken travels as the request body, not a bearer
// header, since there is no valid access token to present yet.
func doRefresh(ctx context.Context, baseURL, refreshToken string) (tokenstore.Bundle, error) {
	encoded, err := json.Marshal(struct {
		RefreshToken string `json:"refresh_token"`
	}{RefreshToken: refreshToken})
	if err != nil {
		return tokenstore.Bundle{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/auth/refresh", bytes.NewReader(encoded))
	if err != nil {
		return tokenstore.Bundle{}, err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return tokenstore.Bundle{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return tokenstore.Bundle{}, fmt.Errorf("refresh: server returned status %d", resp.StatusCode)
	}

	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return tokenstore.Bundle{}, fmt.Errorf("decoding refresh response: %w", err)
	}

	return tokenstore.Bundle{
		AccessToken:   out.AccessToken,
		RefreshToken:  out.RefreshToken,
		UserID:        out.UserID,
		DeviceID:      out.DeviceID,
		AccessExpiry:  out.AccessExpiry,
		RefreshExpiry: out.RefreshExpiry,
	}, nil
}

// readPassword reads a password from stdin. CLAUDESYNC_PASSWORD lets
// scripted logins (and tests) avoid an interactive prompt entirely.
func readPassword(cmd *cobra.Command) (string, error) {
	if pw := os.Getenv("CLAUDESYNC_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(cmd.OutOrStdout(), "Password: ")

	var password string
	_, err := fmt.Fscanln(cmd.InOrStdin(), &password)

	return password, err
}
