package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cuongbtq/dvt-pipeline/internal/domain"
	"github.com/cuongbtq/dvt-pipeline/internal/validation"
)

// StagedFile is a local copy of a pinned source object. Close removes it.
type StagedFile struct {
	file    *os.File
	key     string
	version string
	size    int64
}

// Path is the location of the local copy
func (s *StagedFile) Path() string { return s.file.Name() }

// Size is the number of bytes staged
func (s *StagedFile) Size() int64 { return s.size }

// Input exposes the staged copy to the validation rules
func (s *StagedFile) Input() validation.Input {
	return validation.Input{
		Key:     s.key,
		Version: s.version,
		Size:    s.size,
		Body:    s.file,
	}
}

// Close closes and deletes the local copy
func (s *StagedFile) Close() error {
	return errors.Join(s.file.Close(), os.Remove(s.file.Name()))
}

// stage downloads the exact version recorded on the job
func (w *Worker) stage(ctx context.Context, job *domain.Job) (*StagedFile, error) {
	obj, err := w.source.Get(ctx, w.sourceBucket, job.Filename, job.FilenameVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s@%s: %w", job.Filename, job.FilenameVersion, err)
	}
	defer obj.Body.Close()

	f, err := os.CreateTemp(w.stagingDir, "dvt-stage-*.csv")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging file: %w", err)
	}
	staged := &StagedFile{file: f, key: job.Filename, version: job.FilenameVersion}

	n, err := io.Copy(f, obj.Body)
	if err == nil && obj.ContentLength >= 0 && n != obj.ContentLength {
		err = fmt.Errorf("short read: got %d of %d bytes", n, obj.ContentLength)
	}
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to stage %s: %w", job.Filename, err), staged.Close())
	}

	staged.size = n
	return staged, nil
}
