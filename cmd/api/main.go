package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aggrlabs/event-aggregator/internal/config"
	"github.com/aggrlabs/event-aggregator/internal/dedup"
	"github.com/aggrlabs/event-aggregator/internal/httpserver"
	"github.com/aggrlabs/event-aggregator/internal/logger"
	"github.com/aggrlabs/event-aggregator/internal/store"
)

// main boots the aggregator: config → logger → DB → schema → HTTP server.
func main() {
	cfg, err := config.New()
	if err != nil {
		bootLog := logger.New("", "info")
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}

	log := logger.New(cfg.App.Env, cfg.Log.Level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Connect to durable storage using a connection pool.
	st, err := store.New(cfg.Postgres.URL, store.Options{
		RetryAttempts: cfg.Postgres.RetryAttempts,
		RetryBackoff:  cfg.Postgres.RetryBackoff,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer st.Close()

	// Ensure required tables/indexes exist so `docker compose up --build` is enough.
	if err := st.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to apply schema")
	}

	eng := dedup.NewEngine(st, log)
	router := httpserver.NewRouter(cfg, st, eng, log)

	srv := &http.Server{
		Addr:    ":" + cfg.HTTP.Port,
		Handler: router,
	}

	go func() {
		log.Info().Str("port", cfg.HTTP.Port).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}
	log.Info().Msg("server exited")
}
