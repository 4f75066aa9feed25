// Package jobstore persists job records keyed by job id.
package jobstore

import (
	"context"

	"github.com/cuongbtq/dvt-pipeline/internal/domain"
)

// Store is a durable mapping from job id to job record
type Store interface {
	// Create inserts a new record. It returns domain.ErrJobExists if the id is taken.
	Create(ctx context.Context, job *domain.Job) error
	// Get returns the record or domain.ErrJobNotFound.
	Get(ctx context.Context, id string) (*domain.Job, error)
	// Update applies a partial update and returns the updated record.
	Update(ctx context.Context, id string, update domain.JobUpdate) (*domain.Job, error)
}
