package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltedev/amazon-rank-scraper/internal/api"
	"github.com/maltedev/amazon-rank-scraper/internal/app"
	"github.com/maltedev/amazon-rank-scraper/internal/config"
	"github.com/maltedev/amazon-rank-scraper/internal/database"
	"github.com/maltedev/amazon-rank-scraper/internal/jobs"
	"github.com/maltedev/amazon-rank-scraper/internal/locale"
	"github.com/maltedev/amazon-rank-scraper/internal/metrics"
	"github.com/maltedev/amazon-rank-scraper/internal/queue"
	"github.com/maltedev/amazon-rank-scraper/internal/runner"
	"github.com/maltedev/amazon-rank-scraper/internal/storage"
	"github.com/maltedev/amazon-rank-scraper/pkg/logger"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	stack, err := app.NewStack(ctx, cfg, m, log)
	if err != nil {
		log.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer stack.Close()

	sinks, err := stack.Sinks("")
	if err != nil {
		log.Error("failed to open sinks", "error", err)
		os.Exit(1)
	}

	var backlog api.OutboxBacklog
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}

		relay := database.NewRelay(database.NewOutboxRepository(stack.DB), redisClient, m, log, database.RelayConfig{
			PollInterval: cfg.Redis.RelayInterval,
			BatchSize:    cfg.Redis.RelayBatchSize,
		})
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("relay stopped with error", "error", err)
			}
		}()
		backlog = relay
	}

	q := queue.NewInMemoryQueue(cfg.Queue.MaxSize)
	factory := func(loc *locale.Locale, maxProducts int, progress storage.Sink) (*runner.Coordinator, error) {
		return stack.Coordinator(loc, maxProducts, append(storage.MultiSink{progress}, sinks...))
	}
	jobManager := jobs.NewManager(q, factory, log)
	go jobManager.StartWorker(ctx)

	handlers := api.NewHandlers(jobManager, backlog, log)
	routerOpts := api.RouterOptions{MetricsPath: cfg.Metrics.Path}
	if cfg.Metrics.Enabled {
		routerOpts.Metrics = m.Handler()
	}

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(handlers, routerOpts),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Info("shutting down server...")
		_ = q.Close()
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	}()

	log.Info("server starting", "addr", server.Addr, "provider", cfg.Fetch.Provider)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
