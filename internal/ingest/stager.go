package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/dvt-pipeline/internal/blobstore"
	"github.com/cuongbtq/dvt-pipeline/internal/domain"
	"github.com/cuongbtq/dvt-pipeline/internal/jobstore"
)

// StageRequest names a pinned source object to copy into the stage bucket
type StageRequest struct {
	SourceObject  string
	SourceVersion string
	JobID         string
}

// Stager copies pinned source versions into the stage bucket
type Stager struct {
	source       blobstore.Store
	sourceBucket string
	stage        blobstore.Store
	stageBucket  string
	jobs         jobstore.Store
	logger       *slog.Logger
}

// NewStager creates a new Stager instance
func NewStager(source blobstore.Store, sourceBucket string, stage blobstore.Store, stageBucket string, jobs jobstore.Store, logger *slog.Logger) *Stager {
	return &Stager{
		source:       source,
		sourceBucket: sourceBucket,
		stage:        stage,
		stageBucket:  stageBucket,
		jobs:         jobs,
		logger:       logger,
	}
}

// Stage copies the object under the same key and returns the staged
// version. With a job id, the job is marked staged.
func (s *Stager) Stage(ctx context.Context, req StageRequest) (string, error) {
	version, err := blobstore.Copy(ctx,
		s.source, s.sourceBucket, req.SourceObject, req.SourceVersion,
		s.stage, s.stageBucket, req.SourceObject)
	if err != nil {
		return "", fmt.Errorf("failed to stage %s@%s: %w", req.SourceObject, req.SourceVersion, err)
	}

	if req.JobID != "" {
		staged := domain.StagedYes
		if _, err := s.jobs.Update(ctx, req.JobID, domain.JobUpdate{Staged: &staged}); err != nil {
			return version, fmt.Errorf("failed to mark job %s staged: %w", req.JobID, err)
		}
	}

	s.logger.Info("Object staged",
		slog.String("key", req.SourceObject),
		slog.String("source_version", req.SourceVersion),
		slog.String("staged_version", version),
		slog.String("job_id", req.JobID),
	)
	return version, nil
}
