// Package bootstrap builds the logger and backends both services share
// from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/dvt-pipeline/internal/blobstore"
	"github.com/cuongbtq/dvt-pipeline/internal/config"
	"github.com/cuongbtq/dvt-pipeline/internal/jobstore"
	"github.com/cuongbtq/dvt-pipeline/internal/queue"
	"github.com/cuongbtq/dvt-pipeline/shared/logger"
	"github.com/cuongbtq/dvt-pipeline/shared/postgresql"
	"github.com/cuongbtq/dvt-pipeline/shared/rabbitmq"
	sharedredis "github.com/cuongbtq/dvt-pipeline/shared/redis"
	goredis "github.com/redis/go-redis/v9"
)

// NewLogger builds the process logger from the logging section
func NewLogger(cfg config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableSource,
		TimeFormat:   cfg.TimeFormat,
	})
}

// Resources holds the opened backends. Close releases all of them.
type Resources struct {
	Jobs  jobstore.Store
	Blobs blobstore.Store

	queues map[string]queue.Queue
	db     *postgresql.Client
	redis  *goredis.Client
	rabbit *rabbitmq.Client
	logger *slog.Logger
}

// Open connects the job store, the blob store and one queue per name
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, queueNames ...string) (*Resources, error) {
	r := &Resources{queues: make(map[string]queue.Queue, len(queueNames)), logger: logger}

	if err := r.openJobStore(ctx, cfg, logger); err != nil {
		return nil, errors.Join(err, r.Close())
	}

	blobs, err := blobstore.NewFSStore(cfg.Storage.Root)
	if err != nil {
		return nil, errors.Join(err, r.Close())
	}
	r.Blobs = blobs

	if err := r.openQueues(ctx, cfg, logger, queueNames); err != nil {
		return nil, errors.Join(err, r.Close())
	}

	return r, nil
}

func (r *Resources) openJobStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	switch cfg.Database.Driver {
	case config.DriverMemory:
		r.Jobs = jobstore.NewMemoryStore()
		return nil
	case config.DriverPostgres:
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}

	db, err := postgresql.NewClient(ctx, &postgresql.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		ApplicationName: cfg.App.Name,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnectTimeout:  cfg.Database.ConnectTimeout,
	}, logger)
	if err != nil {
		return err
	}
	r.db = db

	store := jobstore.NewPostgresStore(db.GetDB(), logger)
	if cfg.Database.AutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
	}
	r.Jobs = store

	logger.Debug("Database pool ready", db.Stats())
	return nil
}

func (r *Resources) openQueues(ctx context.Context, cfg *config.Config, logger *slog.Logger, names []string) error {
	switch cfg.Queue.Driver {
	case config.DriverMemory:
		for _, name := range names {
			r.queues[name] = queue.NewMemoryQueue()
		}

	case config.DriverRedis:
		client, err := sharedredis.NewClient(ctx, &sharedredis.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			PoolSize:     cfg.Redis.PoolSize,
		}, logger)
		if err != nil {
			return err
		}
		r.redis = client
		for _, name := range names {
			r.queues[name] = queue.NewRedisQueue(client, cfg.Redis.KeyPrefix, name)
		}

	case config.DriverRabbitMQ:
		client, err := rabbitmq.NewClient(&rabbitmq.Config{
			Host:               cfg.RabbitMQ.Host,
			Port:               cfg.RabbitMQ.Port,
			User:               cfg.RabbitMQ.User,
			Password:           cfg.RabbitMQ.Password,
			VHost:              cfg.RabbitMQ.VHost,
			Queues:             names,
			QueueDurable:       cfg.RabbitMQ.Durable,
			DelayQueueSuffix:   cfg.RabbitMQ.DelayQueueSuffix,
			RetryAttempts:      cfg.RabbitMQ.Connection.RetryAttempts,
			RetryInterval:      cfg.RabbitMQ.Connection.RetryInterval,
			Heartbeat:          cfg.RabbitMQ.Connection.Heartbeat,
			PublishRetries:     cfg.RabbitMQ.Publish.RetryAttempts,
			PublishRetryDelay:  cfg.RabbitMQ.Publish.RetryInterval,
			PublishBackoffMult: cfg.RabbitMQ.Publish.BackoffMultiplier,
		}, logger)
		if err != nil {
			return err
		}
		r.rabbit = client
		for _, name := range names {
			r.queues[name] = queue.NewRabbitQueue(client, name)
		}

	default:
		return fmt.Errorf("unsupported queue driver %q", cfg.Queue.Driver)
	}
	return nil
}

// Queue returns the queue opened under name, or nil
func (r *Resources) Queue(name string) queue.Queue {
	return r.queues[name]
}

// HealthCheck reports the first unreachable backend
func (r *Resources) HealthCheck(ctx context.Context) error {
	if r.db != nil {
		if err := r.db.HealthCheck(ctx); err != nil {
			return err
		}
	}
	if r.redis != nil {
		if err := r.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
	}
	if r.rabbit != nil {
		if err := r.rabbit.Check(); err != nil {
			return fmt.Errorf("rabbitmq check failed: %w", err)
		}
	}
	return nil
}

// Close releases every opened backend
func (r *Resources) Close() error {
	var errs []error
	if r.rabbit != nil {
		errs = append(errs, r.rabbit.Close())
	}
	if r.redis != nil {
		errs = append(errs, r.redis.Close())
	}
	if r.db != nil {
		errs = append(errs, r.db.Close())
	}
	return errors.Join(errs...)
}
