package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"creatorbank/internal/amqp"
	"creatorbank/internal/cli"
	"creatorbank/internal/metrics"
	"creatorbank/internal/tax"
	"creatorbank/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))

	logger.Info("Starting withholding-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	// The worker shares state with the API only through the database.
	if cfg.DataBackend != "sqlite" {
		logger.Error("withholding-worker requires DATA_BACKEND=sqlite", "backend", cfg.DataBackend)
		os.Exit(1)
	}
	if !cfg.MessagingEnabled() {
		logger.Error("withholding-worker requires AMQP_URL")
		os.Exit(1)
	}

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	m := metrics.New()
	engine := tax.NewEngine(repo, cli.TaxConfig(logger, cfg), tax.WithRecorder(m))
	w := worker.NewWithholdingWorker(engine, repo, cfg.SyncBatchSize)
	sweeper := worker.NewSweeper(w, worker.SweeperConfig{
		PollInterval: cfg.SyncInterval,
		OnSweep:      m.ObserveSweep,
	})

	metricsSrv := m.NewServer(":"+cfg.MetricsPort, repo.Ping)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
		defer cancel()
		if err := sweeper.Stop(stopCtx); err != nil {
			logger.Error("Sweeper shutdown error", "error", err)
		}
		if err := metricsSrv.Shutdown(stopCtx); err != nil {
			logger.Error("Metrics server shutdown error", "error", err)
		}
	})

	// Catch up on anything recorded while the worker was down.
	logger.Info("Performing startup withholding check...")
	if n, err := w.StartupCheck(ctx); err != nil {
		logger.Error("Failed startup withholding check", "error", err)
	} else if n > 0 {
		logger.Info("Startup withholding check complete", "processed", n)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Metrics server listening", "addr", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		// Stops the listener when another goroutine fails first.
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return amqpClient.ConsumeEarningRecorded(gctx, w.HandleEarningRecorded)
	})
	g.Go(func() error {
		if err := sweeper.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", "error", err)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped gracefully")
}
