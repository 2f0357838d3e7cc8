// Package main is the entry point for the emulator binary. It serves an
// in-memory stand-in for the query execution API so the client and CLI can
// be run locally without credentials.
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

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"dune-client/internal/config"
	"dune-client/internal/emulator"
	"dune-client/internal/middleware"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not load .env: %v\n", err)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	for _, w := range cfg.Warnings {
		// The emulator never calls the real API.
		if w == config.WarnMissingAPIKey {
			continue
		}
		logger.Warn(w)
	}

	fixtures := &emulator.FixtureSet{}
	if cfg.Emulator.FixturesPath != "" {
		fixtures, err = emulator.LoadFixtures(cfg.Emulator.FixturesPath)
		if err != nil {
			return err
		}
		logger.Info("fixtures loaded", "path", cfg.Emulator.FixturesPath,
			"sql", len(fixtures.SQL), "queries", len(fixtures.Queries))
	}

	srv, err := emulator.New(emulator.Options{
		APIKey:    cfg.Emulator.APIKey,
		CancelLag: cfg.Emulator.CancelLag,
		Fixtures:  fixtures,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	httpSrv := &http.Server{
		Addr:              cfg.Emulator.ListenAddr,
		Handler:           newHandler(cfg.Emulator, srv, logger),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down emulator")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("emulator listening", "addr", cfg.Emulator.ListenAddr, "cancel_lag", cfg.Emulator.CancelLag)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// newHandler wraps the emulator with request IDs, access logging, panic
// recovery, CORS and the optional per-client rate limit.
func newHandler(cfg config.EmulatorConfig, api http.Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog(logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Dune-Api-Key", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
		MaxAge:         300,
	}))
	if cfg.RateLimitRPS > 0 {
		r.Use(middleware.RateLimiter(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
		}))
	}
	r.Mount("/", api)
	return r
}
