package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuongbtq/dvt-pipeline/internal/api/handler"
	"github.com/cuongbtq/dvt-pipeline/internal/api/router"
	"github.com/cuongbtq/dvt-pipeline/internal/bootstrap"
	"github.com/cuongbtq/dvt-pipeline/internal/config"
	"github.com/cuongbtq/dvt-pipeline/internal/ingest"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("TRIGGER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/trigger-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateTriggerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting trigger service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queueNames := []string{cfg.Queue.ValidationQueue}
	if cfg.Trigger.EnableProfiling {
		queueNames = append(queueNames, cfg.Queue.ProfilingQueue)
	}

	res, err := bootstrap.Open(ctx, cfg, appLogger.Logger, queueNames...)
	if err != nil {
		return fmt.Errorf("failed to initialize backends: %w", err)
	}
	defer func() {
		if err := res.Close(); err != nil {
			appLogger.Warn("Failed to close backends", slog.Any("error", err))
		}
	}()

	triggerCfg := &ingest.TriggerConfig{
		Logger:          appLogger.Logger,
		Jobs:            res.Jobs,
		ValidationQueue: res.Queue(cfg.Queue.ValidationQueue),
		Delay:           cfg.Trigger.EnqueueDelay,
	}
	if cfg.Trigger.EnableProfiling {
		triggerCfg.ProfilingQueue = res.Queue(cfg.Queue.ProfilingQueue)
	}

	deps := &handler.Dependencies{
		Logger:       appLogger.Logger,
		Trigger:      ingest.NewTrigger(triggerCfg),
		Source:       res.Blobs,
		SourceBucket: cfg.Storage.SourceBucket,
		HealthCheck:  res.HealthCheck,
	}
	if cfg.Storage.StageBucket != "" {
		deps.Stager = ingest.NewStager(res.Blobs, cfg.Storage.SourceBucket,
			res.Blobs, cfg.Storage.StageBucket, res.Jobs, appLogger.Logger)
	}

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router.SetupRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		appLogger.Info("Starting HTTP server",
			slog.String("address", addr),
			slog.Duration("read_timeout", cfg.Server.ReadTimeout),
			slog.Duration("write_timeout", cfg.Server.WriteTimeout),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		appLogger.Error("Trigger service stopped with error", slog.Any("error", err))
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}
