package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/claudesync/claudesync/internal/config"
	"github.com/claudesync/claudesync/internal/remoteclient"
	"github.com/claudesync/claudesync/internal/tokenstore"
)

// oauth2TokenSource adapts an oauth2.TokenSource to remoteclient.TokenSource,
// so remoteclient's requests trigger refresh through tokenstore's refresh
// endpoint wiring without remoteclient depending on oauth2 directly.
type oauth2TokenSource struct {
	src oauth2.TokenSource
}

func (t oauth2TokenSource) AccessToken() (string, error) {
	tok, err := t.src.Token()
	if err != nil {
		return "", err
	}

	return tok.AccessToken, nil
}

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd.
var (
	flagConfigPath string
	flagSyncDir    string
	flagServerURL  string
	flagJSON       bool
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
)

// skipConfigAnnotation marks commands that handle config loading themselves
// (config-init runs before any config file exists).
const skipConfigAnnotation = "skipConfig"

// CLIContext bundles resolved config, logger, and token store. Created
// once in PersistentPreRunE; eliminates redundant setup in RunE handlers.
type CLIContext struct {
	Cfg    *config.Config
	Logger *slog.Logger
	Tokens *tokenstore.Store
}

// cliContextKey is the context key for CLIContext.
type cliContextKey struct{}

func cliContextFrom(ctx context.Context) *CLIContext {
	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)
	return cc
}

func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in context — ensure the command " +
			"does not skip config loading (no skipConfigAnnotation)")
	}

	return cc
}

// remoteClient builds a remoteclient.Client from the CLIContext's
// resolved config and token store, used by every command that talks to
// the sync server (sync, list-devices, health-check).
func (cc *CLIContext) remoteClient() (*remoteclient.Client, error) {
	bundle, err := cc.Tokens.Load()
	if err != nil {
		return nil, fmt.Errorf("loading credentials (run 'claudesync login' first): %w", err)
	}

	src := tokenstore.OAuth2TokenSource(context.Background(), cc.Tokens, func(ctx context.Context, refreshToken string) (tokenstore.Bundle, error) {
		return doRefresh(ctx, cc.Cfg.Server.URL, refreshToken)
	})

	maxFileSize, err := config.ParseSize(cc.Cfg.Filter.MaxFileSize)
	if err != nil {
		return nil, fmt.Errorf("parsing filter.max_file_size: %w", err)
	}

	return remoteclient.New(remoteclient.Config{
		BaseURL:           cc.Cfg.Server.URL,
		WSBaseURL:         cc.Cfg.Server.WebsocketURL,
		UserID:            bundle.UserID,
		DeviceID:          bundle.DeviceID,
		Tokens:            oauth2TokenSource{src: src},
		Logger:            cc.Logger,
		MaxFileSize:       maxFileSize,
		TransferStatePath: filepath.Join(config.DefaultDataDir(), "transfer_state.json"),
	}), nil
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "claudesync",
		Short:   "Multi-device configuration sync client",
		Long:    "claudesync keeps a CLI assistant's managed configuration directory in sync across devices.",
		Version: version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfigAnnotation] == "true" {
				return nil
			}

			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagSyncDir, "sync-dir", "", "managed directory to sync")
	cmd.PersistentFlags().StringVar(&flagServerURL, "server", "", "sync server base URL")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show detailed output")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newListDevicesCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newRulesCmd())
	cmd.AddCommand(newHealthCheckCmd())
	cmd.AddCommand(newMetricsCmd())

	return cmd
}

// loadConfig resolves the effective configuration and token store, and
// stores the result in the command's context for use by subcommands.
func loadConfig(cmd *cobra.Command) error {
	logger := buildLogger(nil)

	env := config.ReadEnvOverrides()
	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
		SyncDir:    flagSyncDir,
		ServerURL:  flagServerURL,
	}

	cfg, err := config.Resolve(env, cli, logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	finalLogger := buildLogger(cfg)

	tokenPath := cfg.Server.TokenFile
	if tokenPath == "" {
		tokenPath = config.DefaultDataDir() + "/token.json"
	}

	cc := &CLIContext{
		Cfg:    cfg,
		Logger: finalLogger,
		Tokens: tokenstore.New(tokenPath, ""),
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// buildLogger creates an slog.Logger configured by the resolved config
// and CLI flags. Pass nil for pre-config bootstrap. Config-file log level
// provides the baseline; --verbose, --debug, and --quiet override it
// because CLI flags always win (mutually exclusive, enforced by Cobra).
func buildLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelWarn

	if cfg != nil {
		switch cfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelInfo
	}

	if flagDebug {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
