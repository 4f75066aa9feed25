package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cuongbtq/dvt-pipeline/internal/api/dto"
	"github.com/cuongbtq/dvt-pipeline/internal/blobstore"
	"github.com/cuongbtq/dvt-pipeline/internal/domain"
	"github.com/cuongbtq/dvt-pipeline/internal/ingest"
	"github.com/gin-gonic/gin"
)

// maxEventBytes bounds notification documents
const maxEventBytes = 1 << 20

// HandleEvent handles POST /api/v1/events
// Creates one job per object-created notification in the document
func (h *IngestHandler) HandleEvent(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEventBytes+1))
	if err != nil {
		h.logger.Error("Failed to read event", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Failed to read request body"})
		return
	}
	if len(body) > maxEventBytes {
		c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{Error: "Event document too large"})
		return
	}

	notes, err := ingest.DecodeEvent(body)
	if err != nil {
		h.logger.Error("Invalid event", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	outcomes := h.trigger.Handle(c.Request.Context(), notes)

	status := http.StatusOK
	resp := dto.EventResponse{Results: make([]dto.IngestResult, 0, len(outcomes))}
	for _, o := range outcomes {
		result := dto.IngestResult{
			Bucket:  o.Notification.Bucket,
			Key:     o.Notification.Key,
			Version: o.Notification.Version,
			JobID:   o.JobID,
		}
		if o.Err != nil {
			result.Error = o.Err.Error()
			status = http.StatusInternalServerError
		}
		resp.Results = append(resp.Results, result)
	}

	c.JSON(status, resp)
}

// UploadObject handles PUT /api/v1/objects/*key
// Stores a new source version and ingests it
func (h *IngestHandler) UploadObject(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if key == "" {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "object key is required"})
		return
	}

	ctx := c.Request.Context()
	version, err := h.source.Put(ctx, h.sourceBucket, key, c.Request.Body)
	if err != nil {
		h.logger.Error("Failed to store object",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to store object"})
		return
	}

	jobID, err := h.trigger.Ingest(ctx, ingest.Notification{Bucket: h.sourceBucket, Key: key, Version: version})
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to create job"})
		return
	}

	c.JSON(http.StatusCreated, dto.UploadResponse{Key: key, Version: version, JobID: jobID})
}

// StageObject handles POST /api/v1/stage
// Copies a pinned source version into the stage bucket
func (h *IngestHandler) StageObject(c *gin.Context) {
	var req dto.StageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	version, err := h.stager.Stage(c.Request.Context(), ingest.StageRequest{
		SourceObject:  req.SourceObject,
		SourceVersion: req.SourceVersion,
		JobID:         req.JobID,
	})
	if err != nil {
		h.logger.Error("Failed to stage object", slog.String("error", err.Error()))
		switch {
		case errors.Is(err, blobstore.ErrNotFound):
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "Source object version not found"})
		case errors.Is(err, domain.ErrJobNotFound):
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "Job not found"})
		default:
			c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to stage object"})
		}
		return
	}

	c.JSON(http.StatusOK, dto.StageResponse{SourceObject: req.SourceObject, StagedVersion: version})
}
