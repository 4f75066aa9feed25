package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/dvt-pipeline/internal/domain"
	"github.com/cuongbtq/dvt-pipeline/internal/jobstore"
	"github.com/cuongbtq/dvt-pipeline/internal/profiling"
	"github.com/cuongbtq/dvt-pipeline/internal/queue"
	"github.com/cuongbtq/dvt-pipeline/internal/report"
	"github.com/cuongbtq/dvt-pipeline/internal/validation"
)

// Processor is the stage-specific part of an iteration
type Processor interface {
	Name() string
	// JobID extracts the job id from msg or returns ErrInvalidMessage.
	JobID(msg *queue.Message) (string, error)
	// Done reports whether a redelivery for job can be acknowledged as is.
	Done(job *domain.Job) bool
	// Process runs the stage on the staged file and records the outcome.
	Process(ctx context.Context, job *domain.Job, file *StagedFile) error
	// Abandon records that job will not be retried because of cause.
	Abandon(ctx context.Context, job *domain.Job, cause error) error
}

// ValidationProcessor runs the rule engine and performs the terminal transition
type ValidationProcessor struct {
	jobs   jobstore.Store
	engine *validation.Engine
	writer *report.Writer
	logger *slog.Logger
	now    func() time.Time
}

// NewValidationProcessor creates a ValidationProcessor
func NewValidationProcessor(jobs jobstore.Store, engine *validation.Engine, writer *report.Writer, logger *slog.Logger) *ValidationProcessor {
	return &ValidationProcessor{
		jobs:   jobs,
		engine: engine,
		writer: writer,
		logger: logger,
		now:    time.Now,
	}
}

func (p *ValidationProcessor) Name() string { return "validation" }

// JobID reads the job id from the message body
func (p *ValidationProcessor) JobID(msg *queue.Message) (string, error) {
	id := strings.TrimSpace(msg.Body)
	if id == "" {
		return "", fmt.Errorf("%w: empty body", domain.ErrInvalidMessage)
	}
	return id, nil
}

func (p *ValidationProcessor) Done(job *domain.Job) bool {
	return job.Status.IsTerminal()
}

func (p *ValidationProcessor) Process(ctx context.Context, job *domain.Job, file *StagedFile) error {
	verdict, err := p.engine.Run(ctx, file.Input())
	if err != nil {
		return fmt.Errorf("failed to validate %s: %w", job.Filename, err)
	}

	warnings, errs := verdict.Counts()
	p.logger.Info("Rules run",
		slog.String("job_id", job.ID),
		slog.Bool("failed", verdict.HasFailed),
		slog.Int("findings", len(verdict.Findings)),
	)

	var update domain.JobUpdate
	if verdict.HasFailed {
		uri, err := p.writer.WriteValidation(ctx, job.ID, verdict.Findings)
		if err != nil {
			return domain.NewRetryableError(err)
		}

		status := domain.JobStatusSuccess
		if errs > 0 {
			status = domain.JobStatusFailed
		}
		update = domain.TerminalUpdate(status, warnings, errs, uri, p.now())
	} else {
		update = domain.TerminalUpdate(domain.JobStatusSuccess, 0, 0, "", p.now())
	}

	updated, err := p.jobs.Update(ctx, job.ID, update)
	if err != nil {
		if errors.Is(err, domain.ErrTerminalState) {
			return err
		}
		return domain.NewRetryableError(fmt.Errorf("failed to update job %s: %w", job.ID, err))
	}

	p.logger.Info("Job record updated",
		slog.String("job_id", job.ID),
		slog.String("status", string(updated.Status)),
		slog.Int("warnings", updated.Warnings),
		slog.Int("errors", updated.Errors),
	)
	return nil
}

// Abandon fails the job without an artifact
func (p *ValidationProcessor) Abandon(ctx context.Context, job *domain.Job, cause error) error {
	update := domain.TerminalUpdate(domain.JobStatusFailed, 0, 0, "", p.now())
	if _, err := p.jobs.Update(ctx, job.ID, update); err != nil && !errors.Is(err, domain.ErrTerminalState) {
		return domain.NewRetryableError(fmt.Errorf("failed to abandon job %s: %w", job.ID, err))
	}

	p.logger.Warn("Job failed without validation",
		slog.String("job_id", job.ID),
		slog.String("reason", cause.Error()),
	)
	return nil
}

// ProfilingProcessor profiles the staged file and fills the profile fields only
type ProfilingProcessor struct {
	jobs     jobstore.Store
	profiler profiling.Profiler
	writer   *report.Writer
	logger   *slog.Logger
	now      func() time.Time
}

// NewProfilingProcessor creates a ProfilingProcessor
func NewProfilingProcessor(jobs jobstore.Store, profiler profiling.Profiler, writer *report.Writer, logger *slog.Logger) *ProfilingProcessor {
	return &ProfilingProcessor{
		jobs:     jobs,
		profiler: profiler,
		writer:   writer,
		logger:   logger,
		now:      time.Now,
	}
}

func (p *ProfilingProcessor) Name() string { return "profiling" }

// JobID reads the job id from the jobid attribute
func (p *ProfilingProcessor) JobID(msg *queue.Message) (string, error) {
	id := strings.TrimSpace(msg.Attributes[domain.JobIDAttribute])
	if id == "" {
		return "", fmt.Errorf("%w: missing %s attribute", domain.ErrInvalidMessage, domain.JobIDAttribute)
	}
	return id, nil
}

func (p *ProfilingProcessor) Done(job *domain.Job) bool {
	return job.ProfileURI != nil
}

func (p *ProfilingProcessor) Process(ctx context.Context, job *domain.Job, file *StagedFile) error {
	start := p.now()

	profile, err := p.profiler.Profile(ctx, file.Path())
	if err != nil {
		return fmt.Errorf("failed to profile %s: %w", job.Filename, err)
	}
	profile.Filename = job.Filename
	profile.FilenameVersion = job.FilenameVersion

	uri, err := p.writer.WriteProfile(ctx, job.ID, profile)
	if err != nil {
		return domain.NewRetryableError(err)
	}

	if _, err := p.jobs.Update(ctx, job.ID, domain.ProfileUpdate(uri, start, p.now())); err != nil {
		return domain.NewRetryableError(fmt.Errorf("failed to update job %s: %w", job.ID, err))
	}

	p.logger.Info("Profile recorded",
		slog.String("job_id", job.ID),
		slog.String("profile_uri", uri),
		slog.Int("columns", len(profile.Columns)),
	)
	return nil
}

// Abandon leaves the record untouched; profiling has no terminal status.
func (p *ProfilingProcessor) Abandon(_ context.Context, job *domain.Job, cause error) error {
	p.logger.Warn("Profiling abandoned",
		slog.String("job_id", job.ID),
		slog.String("reason", cause.Error()),
	)
	return nil
}

var (
	_ Processor = (*ValidationProcessor)(nil)
	_ Processor = (*ProfilingProcessor)(nil)
)
