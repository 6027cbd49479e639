// ABOUTME: Entry point for the postbox messaging store server
// ABOUTME: Wires config, SQLite store, auth registry, and the HTTP facade

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/2389/postbox/internal/auth"
	"github.com/2389/postbox/internal/config"
	"github.com/2389/postbox/internal/httpapi"
	"github.com/2389/postbox/internal/store"
)

// version is set by goreleaser at build time.
var version = "dev"

// getConfigPath returns the path to the server config file.
// Priority: POSTBOX_CONFIG env var > XDG_CONFIG_HOME/postbox/server.yaml > ~/.config/postbox/server.yaml
func getConfigPath() string {
	if envPath := os.Getenv("POSTBOX_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "server.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "postbox", "server.yaml")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg := config.Default()
	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	setupLogging(cfg.Logging)
	slog.Info("starting postbox-server", "version", version, "config", configPath)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	registry := auth.NewRegistry(cfg.Auth.SessionTTL)
	go sweepLoop(ctx, registry)

	var verifier auth.CredentialVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.NewCredentialIssuer([]byte(cfg.Auth.JWTSecret))
	} else {
		slog.Warn("no jwt_secret configured; session exchange at /v1/sessions is disabled")
	}

	api := httpapi.NewServer(st, registry, verifier)
	server := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.Server.HTTPAddr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// sweepLoop periodically drops expired auth sessions.
func sweepLoop(ctx context.Context, registry *auth.Registry) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			registry.SweepExpired()
		}
	}
}

func setupLogging(cfg config.LoggingConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
