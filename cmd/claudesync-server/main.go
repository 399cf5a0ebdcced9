// Command claudesync-server runs the multi-device sync backend: the
// catalog (Postgres), object store (filesystem), fan-out cache (Redis),
// and the HTTP/websocket API in front of internal/server/syncsvc.
// Configuration is read from the environment via spf13/viper, matching
// alert-history's server configuration pattern rather than the client
// CLI's TOML file.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/viper"

	"github.com/claudesync/claudesync/internal/server/catalog"
	"github.com/claudesync/claudesync/internal/server/fanout"
	"github.com/claudesync/claudesync/internal/server/httpapi"
	"github.com/claudesync/claudesync/internal/server/objectstore"
	"github.com/claudesync/claudesync/internal/server/syncsvc"
)

// minJWTSecretLen is the §7 startup-abort threshold for JWT_SECRET.
const minJWTSecretLen = 32

type config struct {
	Host                 string
	Port                 int
	DatabaseURL          string
	RedisURL             string
	RedisPassword        string
	RedisDB              int
	JWTSecret            string
	ObjectStoreRoot      string
	ObjectCacheSize      int
	MaxFileSize          int64
	TokenLifetimeMinutes int
	VersionRetentionDays int
	MaxVersionsPerFile   int
	CompressionEnabled   bool
}

func loadConfig() (config, error) {
	v := viper.New()
	v.SetEnvPrefix("CLAUDESYNC")
	v.AutomaticEnv()

	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 8443)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("OBJECT_STORE_ROOT", "./data/objects")
	v.SetDefault("OBJECT_CACHE_SIZE", 4096)
	v.SetDefault("MAX_FILE_SIZE", syncsvc.DefaultMaxFileSize)
	v.SetDefault("TOKEN_LIFETIME_MINUTES", 60)
	v.SetDefault("VERSION_RETENTION_DAYS", 90)
	v.SetDefault("MAX_VERSIONS_PER_FILE", 100)
	v.SetDefault("COMPRESSION_ENABLED", true)

	cfg := config{
		Host:                 v.GetString("HOST"),
		Port:                 v.GetInt("PORT"),
		DatabaseURL:          v.GetString("DATABASE_URL"),
		RedisURL:             v.GetString("REDIS_URL"),
		RedisPassword:        v.GetString("REDIS_PASSWORD"),
		RedisDB:              v.GetInt("REDIS_DB"),
		JWTSecret:            v.GetString("JWT_SECRET"),
		ObjectStoreRoot:      v.GetString("OBJECT_STORE_ROOT"),
		ObjectCacheSize:      v.GetInt("OBJECT_CACHE_SIZE"),
		MaxFileSize:          v.GetInt64("MAX_FILE_SIZE"),
		TokenLifetimeMinutes: v.GetInt("TOKEN_LIFETIME_MINUTES"),
		VersionRetentionDays: v.GetInt("VERSION_RETENTION_DAYS"),
		MaxVersionsPerFile:   v.GetInt("MAX_VERSIONS_PER_FILE"),
		CompressionEnabled:   v.GetBool("COMPRESSION_ENABLED"),
	}

	if cfg.DatabaseURL == "" {
		return config{}, errors.New("claudesync-server: DATABASE_URL is required")
	}

	if cfg.RedisURL == "" {
		return config{}, errors.New("claudesync-server: REDIS_URL is required")
	}

	if len(cfg.JWTSecret) < minJWTSecretLen {
		return config{}, fmt.Errorf("claudesync-server: JWT_SECRET must be at least %d bytes", minJWTSecretLen)
	}

	return cfg, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := run(logger); err != nil {
		logger.Error("claudesync-server: exiting", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("claudesync-server: opening database: %w", err)
	}
	defer db.Close()

	if err := catalog.RunMigrations(ctx, db, logger); err != nil {
		return err
	}

	pool, err := catalog.OpenPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	repo := catalog.NewPostgresRepository(pool, logger)

	cache, err := fanout.NewRedisCache(ctx, cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB, logger)
	if err != nil {
		return err
	}

	fan := fanout.New(cache, logger)

	objects, err := objectstore.NewFSStore(cfg.ObjectStoreRoot, cfg.ObjectCacheSize, logger)
	if err != nil {
		return err
	}

	svc := syncsvc.New(syncsvc.Config{
		Repository:  repo,
		Objects:     objects,
		Fanout:      fan,
		MaxFileSize: cfg.MaxFileSize,
		Logger:      logger,
	})

	api := httpapi.New(svc, fan, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		logger.Info("claudesync-server: listening", "addr", srv.Addr)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("claudesync-server: shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return srv.Shutdown(shutdownCtx)

	case err := <-errCh:
		return err
	}
}
