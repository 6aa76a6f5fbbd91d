package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"verifyme/internal/audit"
	"verifyme/internal/config"
	"verifyme/internal/logging"
	"verifyme/internal/queue"
	"verifyme/internal/store"
	"verifyme/internal/student"
)

// Worker drains the scan-audit queue into the scan log table.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Env).With("component", "audit-worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.App, logger *slog.Logger) error {
	if cfg.QueueBackend != "redis" {
		return errors.New("standalone worker needs QUEUE_BACKEND=redis; the memory queue is drained inside the api process")
	}

	db, err := store.NewDB(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		logger.Warn("redis not reachable yet, consumer will retry", "addr", cfg.RedisAddr)
	}

	q := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey, logger)
	repo := student.NewRepository(db.Client)

	logger.Info("waiting for scan audit entries", "queue", cfg.QueueKey)
	return audit.NewWorker(q, repo, logger).Run(ctx)
}
