package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	oauth "github.com/planvia/agent-oauth"
	"github.com/planvia/agent-oauth/identity"
	"github.com/planvia/agent-oauth/instrumentation"
	"github.com/planvia/agent-oauth/security"
	"github.com/planvia/agent-oauth/server"
	"github.com/planvia/agent-oauth/storage"
	memorystore "github.com/planvia/agent-oauth/storage/memory"
	redisstore "github.com/planvia/agent-oauth/storage/redis"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the authorization server",
	Long: `Starts the HTTP server with the discovery, registration, authorization
and token endpoints.

Configuration is read from agent-oauth.yaml in the working directory or
/etc/agent-oauth, overridden by AGENT_OAUTH_* environment variables. Use
--config to point at a specific file.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to the configuration file")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig(serveConfigPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:    "agent-oauth",
		ServiceVersion: version,
		Enabled:        cfg.Telemetry.Enabled,
	})
	if err != nil {
		return fmt.Errorf("initializing instrumentation: %w", err)
	}

	clientStore, codeStore, tokenStore, stopStorage, err := buildStorage(cfg, logger, inst)
	if err != nil {
		return err
	}
	defer stopStorage()

	resolver := buildResolver(cfg)

	srv, err := server.New(resolver, clientStore, codeStore, tokenStore, cfg.serverConfig(), logger)
	if err != nil {
		return fmt.Errorf("initializing server: %w", err)
	}
	srv.SetInstrumentation(inst)
	srv.SetAuditor(security.NewAuditor(logger, cfg.AuditEnabled))

	var limiter *security.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = security.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, logger)
		srv.SetRateLimiter(limiter)
		defer limiter.Stop()
	}

	handler := oauth.NewHandler(srv, logger)

	mux := http.NewServeMux()
	handler.Routes(mux)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           security.RequestIDMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Authorization server listening",
			"address", cfg.ListenAddress,
			"issuer", cfg.Issuer,
			"storage", cfg.Storage.Backend,
			"identity", cfg.Identity.Resolver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	if err := inst.Shutdown(shutdownCtx); err != nil {
		logger.Error("Instrumentation shutdown failed", "error", err)
	}

	return nil
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
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
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// buildStorage constructs the configured backend. The returned stop
// function releases backend resources and is safe to call once.
func buildStorage(cfg *Config, logger *slog.Logger, inst *instrumentation.Instrumentation) (
	storage.ClientStore, storage.CodeStore, storage.RefreshTokenStore, func(), error,
) {
	switch cfg.Storage.Backend {
	case "redis":
		store, err := redisstore.New(redisstore.Config{
			Address:   cfg.Storage.Redis.Address,
			Password:  cfg.Storage.Redis.Password,
			DB:        cfg.Storage.Redis.DB,
			KeyPrefix: cfg.Storage.Redis.KeyPrefix,
			Logger:    logger,
		})
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		stop := func() {
			if err := store.Close(); err != nil {
				logger.Error("Closing redis store failed", "error", err)
			}
		}
		return store, store, store, stop, nil

	default:
		store := memorystore.New()
		store.SetLogger(logger)
		store.SetInstrumentation(inst)
		return store, store, store, store.Stop, nil
	}
}

func buildResolver(cfg *Config) identity.Resolver {
	if cfg.Identity.Resolver == "header" {
		return identity.NewHeaderResolver()
	}
	return identity.NewAPIResolver(cfg.Identity.SessionEndpoint)
}
