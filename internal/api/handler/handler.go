package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/dvt-pipeline/internal/blobstore"
	"github.com/cuongbtq/dvt-pipeline/internal/ingest"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	Trigger      *ingest.Trigger
	Stager       *ingest.Stager
	Source       blobstore.Store
	SourceBucket string
	// HealthCheck, when set, backs GET /health.
	HealthCheck func(ctx context.Context) error
}

// IngestHandler handles ingestion-related HTTP requests
type IngestHandler struct {
	logger       *slog.Logger
	trigger      *ingest.Trigger
	stager       *ingest.Stager
	source       blobstore.Store
	sourceBucket string
}

// NewIngestHandler creates a new IngestHandler instance
func NewIngestHandler(deps *Dependencies) *IngestHandler {
	return &IngestHandler{
		logger:       deps.Logger,
		trigger:      deps.Trigger,
		stager:       deps.Stager,
		source:       deps.Source,
		sourceBucket: deps.SourceBucket,
	}
}
