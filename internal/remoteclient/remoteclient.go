// Package remoteclient implements internal/engine.RemoteStore over the
// network: the JSON request-reply API for change metadata and the
// websocket frame stream for chunked transfer, mirroring the split
// internal/server/httpapi exposes on the server side.
package remoteclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/claudesync/claudesync/internal/engine"
	"github.com/claudesync/claudesync/internal/rpcconn"
	"github.com/claudesync/claudesync/internal/server/syncsvc"
	"github.com/claudesync/claudesync/internal/transfer"
	"github.com/claudesync/claudesync/internal/wire"
)

// TokenSource supplies the bearer token remoteclient attaches to every
// request, letting callers refresh credentials without remoteclient
// knowing about internal/tokenstore directly.
type TokenSource interface {
	AccessToken() (string, error)
}

// Client implements engine.RemoteStore against a running
// internal/server/httpapi server, using state for the per-path base hash
// spec.md §4.9's Stat needs (the server has no notion of "this client's
// last synced hash" — only this client's own local state does).
type Client struct {
	baseURL     string
	wsURL       string
	userID      string
	deviceID    string
	tokens      TokenSource
	http        *http.Client
	state       *engine.StateMap
	logger      *slog.Logger
	transferMgr *transfer.Manager
	progress    *transfer.StateStore
	scratchDir  string
}

// Config wires a Client's collaborators. TransferManager and
// TransferStatePath are optional: a default manager (concurrency 4, size
// cap MaxFileSize, where 0 means no cap) and an
// unpersisted progress sink are used when left zero, matching the
// teacher's nil-logger-defaults-to-slog.Default() pattern.
type Config struct {
	BaseURL         string
	WSBaseURL       string
	UserID          string
	DeviceID        string
	Tokens          TokenSource
	HTTPClient      *http.Client
	State           *engine.StateMap
	Logger          *slog.Logger
	TransferManager *transfer.Manager
	// TransferStatePath, if set, is where transfer progress persists
	// across restarts, per spec.md §6's <state-dir>/transfer_state.json.
	TransferStatePath string
	MaxFileSize       int64
}

// New constructs a Client.
func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.TransferManager == nil {
		cfg.TransferManager = transfer.NewManager(4, cfg.MaxFileSize, cfg.Logger)
	}

	scratchDir := os.TempDir()
	if cfg.TransferStatePath != "" {
		scratchDir = filepath.Dir(cfg.TransferStatePath)
	}

	return &Client{
		baseURL:     cfg.BaseURL,
		wsURL:       cfg.WSBaseURL,
		userID:      cfg.UserID,
		deviceID:    cfg.DeviceID,
		tokens:      cfg.Tokens,
		http:        cfg.HTTPClient,
		state:       cfg.State,
		logger:      cfg.Logger,
		transferMgr: cfg.TransferManager,
		progress:    transfer.NewStateStore(cfg.TransferStatePath),
		scratchDir:  scratchDir,
	}
}

func (c *Client) authHeaders(req *http.Request) error {
	token, err := c.tokens.AccessToken()
	if err != nil {
		return fmt.Errorf("remoteclient: loading access token: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-User-ID", c.userID)
	req.Header.Set("X-Device-ID", c.deviceID)

	return nil
}

// wsHeader builds the Authorization/X-User-ID/X-Device-ID headers the
// server's authMiddleware expects on a websocket upgrade request.
func (c *Client) wsHeader() (http.Header, error) {
	token, err := c.tokens.AccessToken()
	if err != nil {
		return nil, fmt.Errorf("remoteclient: loading access token: %w", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("X-User-ID", c.userID)
	header.Set("X-Device-ID", c.deviceID)

	return header, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader

	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("remoteclient: encoding request: %w", err)
		}

		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("remoteclient: building request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if err := c.authHeaders(req); err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return transportErr(fmt.Sprintf("%s %s", method, path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}

		_ = json.NewDecoder(resp.Body).Decode(&apiErr)

		op := fmt.Sprintf("%s %s", method, path)

		return statusErr(op, resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, apiErr.Error))
	}

	if out == nil {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// Stat implements engine.RemoteStore: the latest version's hash and
// existence come from GetFileHistory; the base hash comes from this
// client's own state map, since the server tracks no per-device baseline.
func (c *Client) Stat(ctx context.Context, path string) (remoteHash, baseHash string, exists bool, err error) {
	if c.state != nil {
		if st, ok := c.state.Get(path); ok {
			baseHash = st.LastRemoteHash
		}
	}

	q := url.Values{"path": {path}, "limit": {"1"}}

	var versions []versionDTO
	if err := c.doJSON(ctx, http.MethodGet, "/v1/files/history?"+q.Encode(), nil, &versions); err != nil {
		return "", baseHash, false, err
	}

	if len(versions) == 0 {
		return "", baseHash, false, nil
	}

	return versions[0].Sha256Hex, baseHash, !versions[0].Deleted, nil
}

// versionDTO mirrors catalog.Version's JSON shape (the fields Stat and
// Download need), avoiding an import of internal/server/catalog from the
// client binary.
type versionDTO struct {
	ID        string `json:"ID"`
	Sha256Hex string `json:"Sha256Hex"`
	Deleted   bool   `json:"Deleted"`
}

// Download implements engine.RemoteStore by dialing the transfer
// websocket in download mode and delegating the metadata+chunk framing,
// hash verification, and progress/resume-state persistence to
// internal/transfer.Manager — writing to a scratch file rather than
// buffering the whole transfer in memory, then reading it back once
// complete since RemoteStore's contract returns content as bytes.
func (c *Client) Download(ctx context.Context, path string) ([]byte, error) {
	header, err := c.wsHeader()
	if err != nil {
		return nil, err
	}

	addr := c.wsURL + "/v1/ws/transfer?direction=download&path=" + url.QueryEscape(path)

	conn, err := rpcconn.DialClientWithHeader(ctx, addr, header)
	if err != nil {
		return nil, transportErr("dialing download stream", err)
	}
	defer conn.Close()

	scratch, err := os.CreateTemp(c.scratchDir, "claudesync-download-*")
	if err != nil {
		return nil, fmt.Errorf("remoteclient: creating scratch file: %w", err)
	}
	scratchPath := scratch.Name()
	scratch.Close()
	defer os.Remove(scratchPath)
	defer os.Remove(scratchPath + ".partial")

	if _, err := c.transferMgr.Download(ctx, conn, scratchPath, c.progress); err != nil {
		return nil, transferErr(fmt.Sprintf("downloading %s", path), err)
	}

	_ = c.progress.Clear()

	content, err := os.ReadFile(scratchPath)
	if err != nil {
		return nil, fmt.Errorf("remoteclient: reading scratch file for %s: %w", path, err)
	}

	return content, nil
}

// Upload implements engine.RemoteStore by dialing the transfer websocket
// in upload mode and delegating framing, hashing, and progress
// persistence to internal/transfer.Manager, which streams srcPath from
// disk rather than requiring the whole file resident in memory —
// content is first spilled to a scratch file since RemoteStore's
// contract hands Upload already-read bytes.
func (c *Client) Upload(ctx context.Context, path string, content []byte) error {
	header, err := c.wsHeader()
	if err != nil {
		return err
	}

	addr := c.wsURL + "/v1/ws/transfer"

	conn, err := rpcconn.DialClientWithHeader(ctx, addr, header)
	if err != nil {
		return transportErr("dialing upload stream", err)
	}
	defer conn.Close()

	scratch, err := os.CreateTemp(c.scratchDir, "claudesync-upload-*")
	if err != nil {
		return fmt.Errorf("remoteclient: creating scratch file: %w", err)
	}
	scratchPath := scratch.Name()
	defer os.Remove(scratchPath)

	if _, err := scratch.Write(content); err != nil {
		scratch.Close()
		return fmt.Errorf("remoteclient: writing scratch file: %w", err)
	}

	if err := scratch.Close(); err != nil {
		return fmt.Errorf("remoteclient: closing scratch file: %w", err)
	}

	if _, err := c.transferMgr.Upload(ctx, conn, scratchPath, path, c.progress); err != nil {
		return transferErr(fmt.Sprintf("uploading %s", path), err)
	}

	ack, err := conn.Recv(ctx)
	if err != nil {
		return transportErr("receiving upload ack", err)
	}

	if ack.Kind == wire.KindError {
		var ef wire.ErrorFrame
		_ = wire.DecodeJSON(ack, wire.KindError, &ef)
		return appErr(fmt.Sprintf("uploading %s", path), fmt.Errorf("%w: %s: %s", transfer.ErrServerRejected, ef.Code, ef.Message))
	}

	_ = c.progress.Clear()

	return nil
}

// Delete implements engine.RemoteStore by reporting a deleted entry
// through ReportChanges.
func (c *Client) Delete(ctx context.Context, path string) error {
	req := struct {
		Files []syncsvc.ReportedFile `json:"files"`
	}{
		Files: []syncsvc.ReportedFile{{Path: path, Deleted: true}},
	}

	return c.doJSON(ctx, http.MethodPost, "/v1/changes", req, nil)
}

// ListDevices reports the user's currently-online device IDs.
func (c *Client) ListDevices(ctx context.Context) ([]string, error) {
	var devices []string
	if err := c.doJSON(ctx, http.MethodGet, "/v1/devices", nil, &devices); err != nil {
		return nil, err
	}

	return devices, nil
}

// FetchChanges reports the server's versions newer than sinceVersion,
// optionally filtered by glob.
func (c *Client) FetchChanges(ctx context.Context, sinceVersion int64, pathGlob string) ([]versionDTO, error) {
	q := url.Values{"since": {strconv.FormatInt(sinceVersion, 10)}}
	if pathGlob != "" {
		q.Set("glob", pathGlob)
	}

	var versions []versionDTO
	if err := c.doJSON(ctx, http.MethodGet, "/v1/changes?"+q.Encode(), nil, &versions); err != nil {
		return nil, err
	}

	return versions, nil
}

// Healthz pings the server's health endpoint, backing the CLI's
// health-check subcommand.
func (c *Client) Healthz(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("remoteclient: health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("remoteclient: health check returned status %d", resp.StatusCode)
	}

	return nil
}
