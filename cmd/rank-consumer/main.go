package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltedev/amazon-rank-scraper/internal/config"
	"github.com/maltedev/amazon-rank-scraper/internal/events"
	"github.com/maltedev/amazon-rank-scraper/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// rank-consumer tails the keyword run stream and logs every completed run.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("failed to connect to Redis", "addr", cfg.Redis.Addr, "error", err)
		os.Exit(1)
	}
	log.Info("connected to Redis", "addr", cfg.Redis.Addr)

	consumer := events.NewConsumer(rdb, events.ConsumerConfig{
		Stream: cfg.Redis.Stream,
		Group:  cfg.Redis.ConsumerGroup,
		Name:   cfg.Redis.ConsumerName,
	}, log)
	consumer.Handle(events.EventTypeKeywordRunCompleted, events.LogKeywordRuns(log))
	consumer.Handle(events.EventTypeRunCompleted, events.LogRunSummaries(log))

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("consumer stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("consumer stopped")
}
