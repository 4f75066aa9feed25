package ingest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cuongbtq/dvt-pipeline/internal/blobstore"
	"github.com/cuongbtq/dvt-pipeline/internal/domain"
	"github.com/cuongbtq/dvt-pipeline/internal/jobstore"
	"github.com/cuongbtq/dvt-pipeline/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStager_CopiesPinnedVersion(t *testing.T) {
	ctx := context.Background()
	source := blobstore.NewMemoryStore()
	stage := blobstore.NewMemoryStore()
	jobs := jobstore.NewMemoryStore()

	v1, err := source.Put(ctx, "uploads", "in.csv", strings.NewReader("first"))
	require.NoError(t, err)
	_, err = source.Put(ctx, "uploads", "in.csv", strings.NewReader("second"))
	require.NoError(t, err)

	require.NoError(t, jobs.Create(ctx, domain.NewPendingJob("job-1", "in.csv", v1, time.Now())))

	s := NewStager(source, "uploads", stage, "staged", jobs, logger.NewDiscard())
	version, err := s.Stage(ctx, StageRequest{SourceObject: "in.csv", SourceVersion: v1, JobID: "job-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, version)

	assert.Equal(t, "first", string(stage.Bytes("staged", "in.csv")))

	job, err := jobs.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StagedYes, job.Staged)
	assert.Equal(t, domain.JobStatusPending, job.Status)
}

func TestStager_WithoutJob(t *testing.T) {
	ctx := context.Background()
	source := blobstore.NewMemoryStore()
	stage := blobstore.NewMemoryStore()
	jobs := jobstore.NewMemoryStore()

	v1, err := source.Put(ctx, "uploads", "in.csv", strings.NewReader("data"))
	require.NoError(t, err)

	s := NewStager(source, "uploads", stage, "staged", jobs, logger.NewDiscard())
	_, err = s.Stage(ctx, StageRequest{SourceObject: "in.csv", SourceVersion: v1})
	require.NoError(t, err)
	assert.Equal(t, 0, jobs.Calls)
}

func TestStager_MissingVersion(t *testing.T) {
	s := NewStager(blobstore.NewMemoryStore(), "uploads", blobstore.NewMemoryStore(), "staged",
		jobstore.NewMemoryStore(), logger.NewDiscard())

	_, err := s.Stage(context.Background(), StageRequest{SourceObject: "in.csv", SourceVersion: "v9"})
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestStager_UnknownJob(t *testing.T) {
	ctx := context.Background()
	source := blobstore.NewMemoryStore()
	v1, err := source.Put(ctx, "uploads", "in.csv", strings.NewReader("data"))
	require.NoError(t, err)

	s := NewStager(source, "uploads", blobstore.NewMemoryStore(), "staged", jobstore.NewMemoryStore(), logger.NewDiscard())
	_, err = s.Stage(ctx, StageRequest{SourceObject: "in.csv", SourceVersion: v1, JobID: "missing"})
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}
