package main

import (
	"context"
	"errors"
	"os"
	"time"

	"bizdash/internal/amqp"
	"bizdash/internal/backend"
	"bizdash/internal/cli"
	applog "bizdash/internal/log"
	"bizdash/internal/services"
	"bizdash/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	cfg, err := cli.LoadConfig()
	if err != nil {
		applog.Default(applog.ComponentWorker).Error("Startup failed", "error", err)
		os.Exit(1)
	}
	logger := cli.SetupLogger(cfg, applog.ComponentWorker)
	logger.Info("Starting bizdash-worker", "mirror", cfg.MirrorBackend, "schedule", cfg.SyncSchedule)

	repo, err := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Startup failed", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	mirror, err := backend.NewFactory(logger.Logger).CreateMirror(ctx, backend.FromAppConfig(cfg))
	if err != nil {
		logger.Error("Failed to initialize mirror", "error", err)
		os.Exit(1)
	}
	defer mirror.Cleanup()

	procCfg := services.DefaultSyncProcessorConfig()
	procCfg.BatchSize = cfg.SyncBatchSize
	procCfg.MaxRetries = cfg.SyncMaxRetries
	procCfg.PollInterval = cfg.SyncInterval
	processor := services.NewSyncProcessor(repo, mirror.Mirror, procCfg)
	syncWorker := worker.NewSyncWorker(processor, cfg.SyncSchedule)

	logger.Info("Performing startup sync check...")
	syncWorker.StartupSyncCheck(ctx)

	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, falling back to polling", "error", err)
			amqpClient = nil
		} else {
			defer amqpClient.Close()
		}
	}

	if amqpClient != nil {
		// Deliveries drive the mirror; the cron sweep catches anything missed.
		if err := syncWorker.Start(ctx); err != nil {
			logger.Error("Failed to start scheduled sync", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := amqpClient.ConsumeChanges(ctx, syncWorker.HandleChange); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Message consumption failed", "error", err)
				cancel()
			}
		}()
		logger.Info("Consuming change messages", "queue", cfg.AMQPQueue)
	} else {
		if err := processor.Start(ctx); err != nil {
			logger.Error("Failed to start sync processor", "error", err)
			os.Exit(1)
		}
		logger.Info("Polling sync queue", "interval", cfg.SyncInterval)
	}

	<-ctx.Done()
	logger.Info("Shutting down worker...")

	shutdownCtx, shutdownCancel := cli.ShutdownContext(30 * time.Second)
	defer shutdownCancel()
	if err := syncWorker.Stop(shutdownCtx); err != nil {
		logger.Warn("Scheduled sync did not stop cleanly", "error", err)
	}
	if err := processor.Stop(shutdownCtx); err != nil {
		logger.Warn("Sync processor did not stop cleanly", "error", err)
	}
	logger.Info("Worker shutdown complete")
}
