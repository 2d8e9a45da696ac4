package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"creatorbank/internal/amqp"
	"creatorbank/internal/backend"
	"creatorbank/internal/cli"
	"creatorbank/internal/earnings"
	apphttp "creatorbank/internal/http"
	applog "creatorbank/internal/log"
	"creatorbank/internal/metrics"
	"creatorbank/internal/services"
	"creatorbank/internal/tax"
	"creatorbank/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	result, err := backend.NewFactory(logger).CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	store := result.Store

	m := metrics.New()
	engine := tax.NewEngine(store, cli.TaxConfig(logger, cfg), tax.WithRecorder(m))
	aggregator := earnings.NewAggregator(store, earnings.Config{
		MaxPageSize:      cfg.MaxPageSize,
		PayoutWindowDays: cfg.PayoutWindowDays,
	})

	var publisher services.Publisher
	if cfg.MessagingEnabled() {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		publisher = client
		logger.Info("AMQP publisher initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		logger.Info("AMQP disabled - withholding runs inline")
	}
	intake := services.NewEarningService(store, publisher, engine, cfg.DefaultWithholdingRate)

	// Without a broker nothing else picks up earnings whose inline
	// withholding failed, so sweep them here.
	var sweeper *worker.Sweeper
	if !cfg.MessagingEnabled() {
		w := worker.NewWithholdingWorker(engine, store, cfg.SyncBatchSize)
		sweeper = worker.NewSweeper(w, worker.SweeperConfig{
			PollInterval: cfg.SyncInterval,
			OnSweep:      m.ObserveSweep,
		})
	}

	appLogger := applog.New(applog.Config{
		Level:     applog.ParseLevel(cfg.LogLevel),
		Component: applog.ComponentHTTP,
		Handler:   logger.Handler(),
	})

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Earnings:         aggregator,
		Tax:              engine,
		Intake:           intake,
		Ledger:           store,
		Logger:           appLogger,
		Metrics:          m.Handler(),
		Observer:         m,
		Ready:            readiness(store),
		MaxPageSize:      cfg.MaxPageSize,
		PayoutWindowDays: cfg.PayoutWindowDays,
		CORSOrigins:      cfg.CORSAllowedOrigins,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		if sweeper != nil {
			if err := sweeper.Stop(shutdownCtx); err != nil {
				logger.Error("Sweeper shutdown error", "error", err)
			}
		}
		if err := intake.Close(); err != nil {
			logger.Error("Failed to close publisher", "error", err)
		}
		if err := result.Cleanup(); err != nil {
			logger.Error("Failed to close backend", "error", err)
		}
	})

	if sweeper != nil {
		if err := sweeper.Start(ctx); err != nil {
			logger.Error("Failed to start withholding sweeper", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("Starting creatorbank server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"messaging", cfg.MessagingEnabled())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}

// readiness reports the backend as ready when it answers a ping. The memory
// backend has nothing to ping.
func readiness(store backend.Store) func(context.Context) error {
	pinger, ok := store.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	return pinger.Ping
}
