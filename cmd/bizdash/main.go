package main

import (
	"errors"
	"net/http"
	"os"
	"time"

	"bizdash/internal/amqp"
	"bizdash/internal/attachments"
	"bizdash/internal/cli"
	apphttp "bizdash/internal/http"
	applog "bizdash/internal/log"
	"bizdash/internal/services"
)

func main() {
	cli.LoadEnvFile()

	cfg, err := cli.LoadConfig()
	if err != nil {
		applog.Default(applog.ComponentApp).Error("Startup failed", "error", err)
		os.Exit(1)
	}
	logger := cli.SetupLogger(cfg, applog.ComponentApp)
	logger.Info("Starting bizdash", "port", cfg.Port, "mirror", cfg.MirrorBackend)

	repo, err := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Startup failed", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	blobs, err := attachments.NewDiskStore(cfg.FilesDir)
	if err != nil {
		logger.Error("Failed to prepare attachment directory", "error", err, "dir", cfg.FilesDir)
		os.Exit(1)
	}

	// Without AMQP the worker still finds every change by polling the queue.
	var svc *services.ProjectService
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without change notifications", "error", err)
			svc = services.NewProjectService(repo, blobs, nil)
		} else {
			defer amqpClient.Close()
			logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
			svc = services.NewProjectService(repo, blobs, amqpClient)
		}
	} else {
		logger.Info("AMQP disabled, the worker will poll the sync queue")
		svc = services.NewProjectService(repo, blobs, nil)
	}

	opts := apphttp.OptionsFromConfig(cfg)
	opts.Logger = logger.WithComponent(applog.ComponentHTTP)
	srv := apphttp.NewServer(opts, svc)
	srv.ReadTimeout = 30 * time.Second
	srv.WriteTimeout = 60 * time.Second
	srv.IdleTimeout = 120 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error("Server error", "error", err, "addr", srv.Addr)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := cli.ShutdownContext(30 * time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}
	logger.Info("Server stopped gracefully")
}
