package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/artmorph/photo-transformer/internal/api/handlers/transform"
	"github.com/artmorph/photo-transformer/internal/api/router"
	"github.com/artmorph/photo-transformer/internal/api/server"
	"github.com/artmorph/photo-transformer/internal/config"
	"github.com/artmorph/photo-transformer/internal/events"
	"github.com/artmorph/photo-transformer/internal/orchestrator"
	"github.com/artmorph/photo-transformer/internal/orchestrator/queue"
	"github.com/artmorph/photo-transformer/internal/orchestrator/quota"
	"github.com/artmorph/photo-transformer/internal/orchestrator/status"
	"github.com/artmorph/photo-transformer/internal/orchestrator/worker"
	"github.com/artmorph/photo-transformer/internal/processor"
	"github.com/artmorph/photo-transformer/internal/provider/ai"
	jobrepo "github.com/artmorph/photo-transformer/internal/repository/job"
	photorepo "github.com/artmorph/photo-transformer/internal/repository/photo"
	"github.com/artmorph/photo-transformer/internal/storage/file"
)

func main() {
	// Context & signals: used for graceful shutdown on system interrupts.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize logger and load application configuration.
	zlog.Init()
	cfg := config.MustLoad("./config")

	// Connect to PostgreSQL (master and slaves).
	opts := &dbpg.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	slaveDSNs := make([]string, 0, len(cfg.Database.Slaves))
	for _, s := range cfg.Database.Slaves {
		slaveDSNs = append(slaveDSNs, s.DSN())
	}

	db, err := dbpg.New(cfg.Database.Master.DSN(), slaveDSNs, opts)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	// Retry strategy for Kafka and other infra calls.
	strategy := retry.Strategy{
		Attempts: cfg.Retry.Attempts,
		Delay:    cfg.Retry.Delay,
		Backoff:  cfg.Retry.Backoff,
	}

	// Object storage (MinIO).
	storage, err := file.NewStorage(ctx, cfg.Storage.Endpoint, cfg.Storage.AccessKey, cfg.Storage.SecretKey, cfg.Storage.BucketName, cfg.Storage.UseSSL)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to storage")
	}

	// AI transformation provider.
	provider, err := ai.NewClient(ai.Options{
		BaseURL: cfg.Provider.BaseURL,
		APIKey:  cfg.Provider.APIKey,
		Model:   cfg.Provider.Model,
		Timeout: cfg.Orchestrator.CallTimeout,
	})
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to configure ai provider")
	}

	// Repositories, scheduling state and lifecycle event publisher.
	jobs := jobrepo.NewRepository(db)
	photos := photorepo.NewRepository(db)
	publisher := events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, strategy)

	ledger := quota.New(cfg.Orchestrator.QuotaLimit, cfg.Orchestrator.QuotaPeriod)
	taskQueue := queue.New()
	tracker := status.NewTracker(cfg.Orchestrator.ETAWindow)
	projector := status.NewProjector(jobs, taskQueue, tracker, cfg.Orchestrator.Workers)
	finalizer := processor.New(storage, cfg.Orchestrator.WatermarkText)

	pool := worker.New(worker.Config{
		Size:            cfg.Orchestrator.Workers,
		PollInterval:    cfg.Orchestrator.PollInterval,
		CallTimeout:     cfg.Orchestrator.CallTimeout,
		MaxAttempts:     cfg.Orchestrator.MaxAttempts,
		ProgressCeiling: cfg.Orchestrator.ProgressCeiling,
	}, jobs, taskQueue, provider, finalizer, storage, publisher, tracker)

	svc := orchestrator.New(jobs, taskQueue, ledger, photos, provider, storage, projector, publisher, cfg.Storage.URLTTL)

	// Rebuild queue state from the durable store before workers start.
	if err := svc.Recover(ctx); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to recover queue state")
	}

	// Start the worker pool in a separate goroutine.
	var wg sync.WaitGroup
	wg.Add(1)
	go pool.Run(ctx, &wg)

	// Start HTTP server in a separate goroutine.
	h := transform.NewHandler(svc)
	r := router.Setup(h)
	s := server.New(server.Config{
		Addr:         cfg.Server.HTTPPort,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}, r)
	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Block until context is canceled (SIGINT/SIGTERM).
	<-ctx.Done()
	zlog.Logger.Info().Msg("context done")

	// Wait for the worker pool to drain in-flight jobs.
	wg.Wait()

	// Graceful shutdown with timeout for HTTP server.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	zlog.Logger.Info().Msg("shutting down server")
	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		zlog.Logger.Info().Msg("timeout exceeded, forcing shutdown")
	}

	// Close master and slave databases.
	if err := db.Master.Close(); err != nil {
		zlog.Logger.Printf("failed to close master DB: %v", err)
	}
	for i, s := range db.Slaves {
		if err := s.Close(); err != nil {
			zlog.Logger.Printf("failed to close slave DB %d: %v", i, err)
		}
	}

	// Close Kafka producer client.
	if err := publisher.Client.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close kafka producer client")
	}
}
