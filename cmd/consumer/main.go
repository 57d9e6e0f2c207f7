package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aggrlabs/event-aggregator/internal/config"
	"github.com/aggrlabs/event-aggregator/internal/consumer"
	"github.com/aggrlabs/event-aggregator/internal/dedup"
	"github.com/aggrlabs/event-aggregator/internal/logger"
	"github.com/aggrlabs/event-aggregator/internal/store"
)

// main boots the channel ingestion path: config → logger → DB → Redis
// subscription. Shares the database (and therefore dedup correctness)
// with any number of API instances.
func main() {
	cfg, err := config.New()
	if err != nil {
		bootLog := logger.New("", "info")
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}

	log := logger.New(cfg.App.Env, cfg.Log.Level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := store.New(cfg.Postgres.URL, store.Options{
		RetryAttempts: cfg.Postgres.RetryAttempts,
		RetryBackoff:  cfg.Postgres.RetryBackoff,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer st.Close()

	if err := st.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to apply schema")
	}

	rdb, err := consumer.NewRedisClient(ctx, cfg.Redis.Addr)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rdb.Close()

	eng := dedup.NewEngine(st, log)
	cons := consumer.New(rdb, cfg.Redis.Channel, cfg.Consumer.Workers, eng, log)

	if err := cons.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("consumer stopped")
	}
	log.Info().Msg("consumer exited")
}
