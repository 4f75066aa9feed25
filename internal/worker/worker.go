// Package worker runs the queue consumption loop shared by the validation
// and profiling stages.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/dvt-pipeline/internal/blobstore"
	"github.com/cuongbtq/dvt-pipeline/internal/domain"
	"github.com/cuongbtq/dvt-pipeline/internal/jobstore"
	"github.com/cuongbtq/dvt-pipeline/internal/queue"
)

// Defaults applied by NewWorker to zero-valued Config fields
const (
	DefaultLease     = 12 * time.Hour
	DefaultPollWait  = 1 * time.Second
	DefaultIdleSleep = 2 * time.Second
)

// Config holds worker configuration and dependencies
type Config struct {
	Name      string
	Logger    *slog.Logger
	Jobs      jobstore.Store
	Queue     queue.Queue
	Source    blobstore.Store
	Processor Processor

	SourceBucket string
	Lease        time.Duration
	PollWait     time.Duration
	IdleSleep    time.Duration
	// MaxReceiveCount > 0 abandons messages delivered more often than this.
	MaxReceiveCount int
	StagingDir      string
}

// Worker leases one message at a time and drives it through its processor
type Worker struct {
	name      string
	logger    *slog.Logger
	jobs      jobstore.Store
	queue     queue.Queue
	source    blobstore.Store
	processor Processor

	sourceBucket    string
	lease           time.Duration
	pollWait        time.Duration
	idleSleep       time.Duration
	maxReceiveCount int
	stagingDir      string
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	w := &Worker{
		name:            cfg.Name,
		logger:          cfg.Logger,
		jobs:            cfg.Jobs,
		queue:           cfg.Queue,
		source:          cfg.Source,
		processor:       cfg.Processor,
		sourceBucket:    cfg.SourceBucket,
		lease:           cfg.Lease,
		pollWait:        cfg.PollWait,
		idleSleep:       cfg.IdleSleep,
		maxReceiveCount: cfg.MaxReceiveCount,
		stagingDir:      cfg.StagingDir,
	}
	if w.name == "" {
		w.name = cfg.Processor.Name()
	}
	if w.lease <= 0 {
		w.lease = DefaultLease
	}
	if w.pollWait < 0 {
		w.pollWait = 0
	}
	if w.idleSleep <= 0 {
		w.idleSleep = DefaultIdleSleep
	}
	w.logger = w.logger.With(slog.String("worker", w.name))
	return w
}

// Run loops until ctx is canceled. Iteration failures are logged and the
// message is left to reappear after its lease.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("processor", w.processor.Name()),
		slog.Duration("lease", w.lease),
		slog.Duration("poll_wait", w.pollWait),
		slog.Duration("idle_sleep", w.idleSleep),
		slog.Int("max_receive_count", w.maxReceiveCount),
	)

	for {
		if ctx.Err() != nil {
			w.logger.Info("Worker context canceled, stopping")
			return nil
		}

		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("Iteration failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			w.logger.Info("Worker context canceled, stopping")
			return nil
		case <-time.After(w.idleSleep):
		}
	}
}

// RunOnce performs one poll. It reports whether a message was leased; the
// message is acknowledged only when the returned error is nil.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	msg, err := w.queue.Receive(ctx, w.lease, w.pollWait)
	if err != nil {
		return false, domain.NewRetryableError(fmt.Errorf("failed to receive message: %w", err))
	}
	if msg == nil {
		return false, nil
	}

	log := w.logger.With(
		slog.String("message_id", msg.ID),
		slog.Int("receive_count", msg.ReceiveCount),
	)
	log.Debug("Message leased")

	if err := w.handle(ctx, msg, log); err != nil {
		w.release(ctx, msg, log)
		return true, err
	}

	if err := w.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		return true, domain.NewRetryableError(fmt.Errorf("failed to acknowledge message %s: %w", msg.ID, err))
	}
	log.Debug("Message acknowledged")
	return true, nil
}

// release hands a failed message back to queues that support it; others
// redeliver it when the lease runs out.
func (w *Worker) release(ctx context.Context, msg *queue.Message, log *slog.Logger) {
	releaser, ok := w.queue.(queue.Releaser)
	if !ok {
		return
	}
	if err := releaser.Release(context.WithoutCancel(ctx), msg.ReceiptHandle); err != nil {
		log.Warn("Failed to release message", slog.String("error", err.Error()))
		return
	}
	log.Debug("Message released for redelivery")
}

func (w *Worker) handle(ctx context.Context, msg *queue.Message, log *slog.Logger) error {
	jobID, err := w.processor.JobID(msg)
	if err != nil {
		// Redelivery cannot fix a message without a job id.
		log.Error("Dropping malformed message", slog.String("error", err.Error()))
		return nil
	}
	log = log.With(slog.String("job_id", jobID))

	job, err := w.jobs.Get(ctx, jobID)
	if err != nil {
		return domain.NewRetryableError(fmt.Errorf("failed to load job %s: %w", jobID, err))
	}
	log.Debug("Job loaded", slog.String("status", string(job.Status)))

	if w.processor.Done(job) {
		log.Info("Job already processed, acknowledging redelivery")
		return nil
	}

	if w.maxReceiveCount > 0 && msg.ReceiveCount > w.maxReceiveCount {
		cause := fmt.Errorf("%w: received %d times, limit %d",
			domain.ErrMaxReceivesExceeded, msg.ReceiveCount, w.maxReceiveCount)
		log.Warn("Abandoning job", slog.String("reason", cause.Error()))
		return w.processor.Abandon(ctx, job, cause)
	}

	staged, err := w.stage(ctx, job)
	if err != nil {
		return domain.NewRetryableError(err)
	}
	defer func() {
		if cerr := staged.Close(); cerr != nil {
			log.Warn("Failed to remove staged file", slog.String("error", cerr.Error()))
		}
	}()
	log.Debug("Source staged",
		slog.String("filename", job.Filename),
		slog.String("version", job.FilenameVersion),
		slog.Int64("bytes", staged.Size()),
	)

	if err := w.processor.Process(ctx, job, staged); err != nil {
		if errors.Is(err, domain.ErrTerminalState) {
			log.Info("Job reached a terminal state concurrently, acknowledging")
			return nil
		}
		return err
	}
	return nil
}
