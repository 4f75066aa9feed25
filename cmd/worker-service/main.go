package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/dvt-pipeline/internal/bootstrap"
	"github.com/cuongbtq/dvt-pipeline/internal/config"
	"github.com/cuongbtq/dvt-pipeline/internal/profiling"
	"github.com/cuongbtq/dvt-pipeline/internal/report"
	"github.com/cuongbtq/dvt-pipeline/internal/validation"
	"github.com/cuongbtq/dvt-pipeline/internal/worker"
	"github.com/joho/godotenv"
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

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("kind", cfg.Worker.Kind),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queueName := cfg.Queue.ValidationQueue
	if cfg.Worker.Kind == config.WorkerKindProfiling {
		queueName = cfg.Queue.ProfilingQueue
	}

	res, err := bootstrap.Open(ctx, cfg, appLogger.Logger, queueName)
	if err != nil {
		return fmt.Errorf("failed to initialize backends: %w", err)
	}
	defer func() {
		if err := res.Close(); err != nil {
			appLogger.Warn("Failed to close backends", slog.Any("error", err))
		}
	}()

	if cfg.Worker.StagingDir != "" {
		if err := os.MkdirAll(cfg.Worker.StagingDir, 0o755); err != nil {
			return fmt.Errorf("failed to create staging dir: %w", err)
		}
	}

	writer := report.NewWriter(res.Blobs, cfg.Storage.TargetBucket, cfg.Storage.PublicBaseURL, appLogger.Logger)

	var processor worker.Processor
	switch cfg.Worker.Kind {
	case config.WorkerKindProfiling:
		profiler, err := profiling.NewDuckDBProfiler(cfg.Profiling.SampleSize, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize profiler: %w", err)
		}
		defer profiler.Close()
		processor = worker.NewProfilingProcessor(res.Jobs, profiler, writer, appLogger.Logger)
	default:
		processor = worker.NewValidationProcessor(res.Jobs, validation.DefaultEngine(), writer, appLogger.Logger)
	}

	pool := worker.NewPool(cfg.Worker.Concurrency, appLogger.Logger, func(n int) *worker.Worker {
		return worker.NewWorker(&worker.Config{
			Name:            fmt.Sprintf("%s-%d", processor.Name(), n),
			Logger:          appLogger.Logger,
			Jobs:            res.Jobs,
			Queue:           res.Queue(queueName),
			Source:          res.Blobs,
			Processor:       processor,
			SourceBucket:    cfg.Storage.SourceBucket,
			Lease:           cfg.Worker.Lease,
			PollWait:        cfg.Worker.PollWait,
			IdleSleep:       cfg.Worker.IdleSleep,
			MaxReceiveCount: cfg.Worker.MaxReceiveCount,
			StagingDir:      cfg.Worker.StagingDir,
		})
	})

	errChan := make(chan error, 1)
	go func() {
		errChan <- pool.Run(ctx)
	}()

	appLogger.Info("Worker service started successfully",
		slog.Int("concurrency", pool.Size()),
		slog.String("queue", queueName),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		if err != nil {
			appLogger.Error("Worker error", slog.Any("error", err))
		}
		return err
	}

	// Workers finish their current iteration before returning.
	cancel()

	select {
	case err := <-errChan:
		if err != nil {
			return err
		}
		appLogger.Info("Worker stopped gracefully")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	return nil
}
