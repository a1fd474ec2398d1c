// Command worker processes queued storage migrations and expires stale order
// intents on a schedule.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/VaultShop/internal/app"
	"github.com/dharsanguruparan/VaultShop/internal/config"
	"github.com/dharsanguruparan/VaultShop/internal/queue"
	"github.com/dharsanguruparan/VaultShop/internal/worker"
)

const expireSchedule = "@every 15m"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := app.NewLogger(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("init app", zap.Error(err))
	}
	defer a.Close()

	redisOpt := app.RedisOpt(cfg)
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Logger:      logger.Named("asynq").Sugar(),
	})
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Logger: logger.Named("scheduler").Sugar(),
	})
	if _, err := scheduler.Register(expireSchedule, queue.NewExpireIntentsTask()); err != nil {
		logger.Fatal("register expire schedule", zap.Error(err))
	}
	if err := scheduler.Start(); err != nil {
		logger.Fatal("start scheduler", zap.Error(err))
	}

	processor := worker.NewProcessor(a.Migrator, a.Ledger, logger.Named("worker"))
	go func() {
		<-ctx.Done()
		scheduler.Shutdown()
		server.Shutdown()
	}()

	logger.Info("worker started", zap.Int("concurrency", cfg.WorkerConcurrency))
	if err := server.Run(processor.Handler()); err != nil {
		logger.Error("worker stopped", zap.Error(err))
	}
}
