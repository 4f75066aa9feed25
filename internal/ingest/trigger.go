package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/dvt-pipeline/internal/domain"
	"github.com/cuongbtq/dvt-pipeline/internal/jobstore"
	"github.com/cuongbtq/dvt-pipeline/internal/queue"
	"github.com/google/uuid"
)

// DefaultEnqueueDelay lets the job record settle before a worker can see it.
const DefaultEnqueueDelay = 10 * time.Second

// TriggerConfig holds the trigger's dependencies
type TriggerConfig struct {
	Logger          *slog.Logger
	Jobs            jobstore.Store
	ValidationQueue queue.Queue
	// ProfilingQueue, when set, also receives every new job.
	ProfilingQueue queue.Queue
	Delay          time.Duration
}

// Trigger creates a pending job per notification and enqueues it
type Trigger struct {
	logger          *slog.Logger
	jobs            jobstore.Store
	validationQueue queue.Queue
	profilingQueue  queue.Queue
	delay           time.Duration
	newID           func() string
	now             func() time.Time
}

// Outcome is the result of ingesting one notification
type Outcome struct {
	Notification Notification `json:"notification"`
	JobID        string       `json:"job_id,omitempty"`
	Err          error        `json:"-"`
}

// NewTrigger creates a new Trigger instance
func NewTrigger(cfg *TriggerConfig) *Trigger {
	delay := cfg.Delay
	if delay < 0 {
		delay = 0
	}
	return &Trigger{
		logger:          cfg.Logger,
		jobs:            cfg.Jobs,
		validationQueue: cfg.ValidationQueue,
		profilingQueue:  cfg.ProfilingQueue,
		delay:           delay,
		newID:           uuid.NewString,
		now:             time.Now,
	}
}

// Handle ingests every notification independently. A failure on one does
// not stop the others and is not retried.
func (t *Trigger) Handle(ctx context.Context, notes []Notification) []Outcome {
	outcomes := make([]Outcome, 0, len(notes))
	for _, n := range notes {
		id, err := t.Ingest(ctx, n)
		if err != nil {
			t.logger.Error("Failed to ingest object",
				slog.String("key", n.Key),
				slog.String("version", n.Version),
				slog.String("error", err.Error()),
			)
		}
		outcomes = append(outcomes, Outcome{Notification: n, JobID: id, Err: err})
	}
	return outcomes
}

// Ingest creates the pending job for n and enqueues it. The job id is
// returned even when enqueueing fails after the record was written.
func (t *Trigger) Ingest(ctx context.Context, n Notification) (string, error) {
	if n.Key == "" {
		return "", fmt.Errorf("notification without object key")
	}

	job := domain.NewPendingJob(t.newID(), n.Key, n.Version, t.now())
	if err := t.jobs.Create(ctx, job); err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}

	if err := t.validationQueue.Send(ctx, job.ID, nil, t.delay); err != nil {
		return job.ID, fmt.Errorf("failed to enqueue validation: %w", err)
	}

	if t.profilingQueue != nil {
		attrs := map[string]string{domain.JobIDAttribute: job.ID}
		if err := t.profilingQueue.Send(ctx, job.ID, attrs, t.delay); err != nil {
			return job.ID, fmt.Errorf("failed to enqueue profiling: %w", err)
		}
	}

	t.logger.Info("Job created",
		slog.String("job_id", job.ID),
		slog.String("key", n.Key),
		slog.String("version", n.Version),
		slog.Bool("profiling", t.profilingQueue != nil),
	)
	return job.ID, nil
}
