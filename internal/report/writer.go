// Package report writes validation and profiling artifacts to the target
// blob store and derives the URIs recorded on job records.
package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cuongbtq/dvt-pipeline/internal/blobstore"
	"github.com/cuongbtq/dvt-pipeline/internal/profiling"
	"github.com/cuongbtq/dvt-pipeline/internal/validation"
)

// ValidationKey is the artifact key of a job's findings
func ValidationKey(jobID string) string {
	return "validation/" + jobID + ".csv"
}

// ProfileKey is the artifact key of a job's profiling report
func ProfileKey(jobID string) string {
	return "profiling/" + jobID + "_profiling_report.json"
}

// Writer persists artifacts under deterministic keys, so rewriting the
// same job replaces rather than duplicates its artifact.
type Writer struct {
	store   blobstore.Store
	bucket  string
	baseURL string
	logger  *slog.Logger
}

// NewWriter creates a Writer targeting bucket. baseURL prefixes artifact
// URIs; when empty, URIs use the blob:// scheme.
func NewWriter(store blobstore.Store, bucket, baseURL string, logger *slog.Logger) *Writer {
	return &Writer{
		store:   store,
		bucket:  bucket,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// URI returns the public location of key
func (w *Writer) URI(key string) string {
	if w.baseURL == "" {
		return "blob://" + w.bucket + "/" + key
	}
	return w.baseURL + "/" + key
}

// WriteValidation stores findings as a two-column CSV (type, message)
func (w *Writer) WriteValidation(ctx context.Context, jobID string, findings []validation.Finding) (string, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)

	if err := cw.Write([]string{"type", "message"}); err != nil {
		return "", fmt.Errorf("failed to encode findings: %w", err)
	}
	for _, f := range findings {
		if err := cw.Write([]string{string(f.Severity), f.Message}); err != nil {
			return "", fmt.Errorf("failed to encode findings: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return "", fmt.Errorf("failed to encode findings: %w", err)
	}

	return w.put(ctx, ValidationKey(jobID), buf.Bytes())
}

// WriteProfile stores a profiling report as JSON
func (w *Writer) WriteProfile(ctx context.Context, jobID string, r *profiling.Report) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode profile: %w", err)
	}
	return w.put(ctx, ProfileKey(jobID), data)
}

func (w *Writer) put(ctx context.Context, key string, data []byte) (string, error) {
	version, err := w.store.Put(ctx, w.bucket, key, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to write artifact %s: %w", key, err)
	}

	w.logger.Info("Artifact written",
		slog.String("bucket", w.bucket),
		slog.String("key", key),
		slog.String("version", version),
		slog.Int("bytes", len(data)),
	)
	return w.URI(key), nil
}
