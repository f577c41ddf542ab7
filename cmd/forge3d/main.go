package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/forgectl/forge3d/internal/adapters/eventbus"
	"github.com/forgectl/forge3d/internal/adapters/httpapi"
	"github.com/forgectl/forge3d/internal/adapters/objectstore"
	"github.com/forgectl/forge3d/internal/adapters/pgqueue"
	"github.com/forgectl/forge3d/internal/adapters/postgres"
	"github.com/forgectl/forge3d/internal/adapters/providers"
	"github.com/forgectl/forge3d/internal/config"
	"github.com/forgectl/forge3d/internal/core/services"
	"github.com/forgectl/forge3d/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	logger := logging.New("forge3d", cfg.AppEnv, cfg.LogLevel)
	logger.Info("starting forge3d engine")

	if err := run(cfg, logger); err != nil {
		logger.Error("forge3d exited with error", "error", err)
		os.Exit(1)
	}
}

// run wires every adapter behind its port and starts the background
// engine: the two job queues, the subscription registry, the orphan
// sweeper, and the one HTTP surface this process exposes, the SSE
// progress stream (§6 — a general request/response API is an explicit
// non-goal; createRequest and friends are the services.Orchestrator's
// exported methods, driven by an out-of-process caller).
func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutdown signal received")
		cancel()
	}()

	store, err := postgres.New(cfg.DatabaseURL, cfg.ProxyBaseURL)
	if err != nil {
		return fmt.Errorf("connect data store: %w", err)
	}
	defer store.Close()

	storage, err := objectstore.New(cfg.S3Endpoint, cfg.S3Region, cfg.S3Bucket, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3PublicURL)
	if err != nil {
		return fmt.Errorf("connect object storage: %w", err)
	}

	bus, err := eventbus.New(cfg.RedisURL, logger)
	if err != nil {
		return fmt.Errorf("connect event bus: %w", err)
	}

	imageQueue := pgqueue.NewImageQueue(store.DB(), cfg.DatabaseURL, logger, store)
	modelQueue := pgqueue.NewModelQueue(store.DB(), cfg.DatabaseURL, logger, store)

	provSet, err := providers.Build(cfg)
	if err != nil {
		return fmt.Errorf("build providers: %w", err)
	}

	imageWorker := services.NewImageWorker(store, storage, bus, provSet.Image, logger)
	modelWorker := services.NewModelWorker(store, storage, bus, provSet.Model3D, logger)

	// The Orchestrator is the production entry point for createRequest,
	// selectImageAndGenerateModel, deleteRequest, submitPrintTask and
	// getPrintStatus; this process only wires it, it does not expose it
	// over HTTP (§1 deliberately keeps the API surface external).
	_ = services.NewOrchestrator(store, storage, imageQueue, modelQueue, bus, provSet.LLM, provSet.Slicer, logger)

	registry := services.NewRegistry(logger, store.GetRequestSnapshot)
	sweeper := services.NewSweeper(logger, store, storage, cfg.SweeperInterval, cfg.SweeperBatchSize, cfg.SweeperMaxRetries)
	printPoller := services.NewPrintPoller(logger, store, provSet.Slicer, cfg.PrintPollInterval, cfg.PrintPollBatchSize)

	sseHandler := httpapi.NewSSEHandler(registry, logger)
	mux := http.NewServeMux()
	mux.Handle("/v1/requests/", sseHandler)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
	})

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: c.Handler(mux),
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting sse server", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("sse server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down sse server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return registry.Run(gCtx, bus)
	})

	g.Go(func() error {
		return sweeper.Run(gCtx)
	})

	g.Go(func() error {
		return printPoller.Run(gCtx)
	})

	g.Go(func() error {
		logger.Info("starting image worker pool", "concurrency", cfg.ImageWorkerConcurrency)
		return imageQueue.Run(gCtx, cfg.ImageWorkerConcurrency, imageWorker.Handle)
	})

	g.Go(func() error {
		logger.Info("starting model worker pool", "concurrency", cfg.ModelWorkerConcurrency)
		return modelQueue.Run(gCtx, cfg.ModelWorkerConcurrency, modelWorker.Handle)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("forge3d stopped cleanly")
	return nil
}
