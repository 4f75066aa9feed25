package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const latestFile = "LATEST"

// FSStore keeps every version of an object as its own file:
// <root>/<bucket>/<escaped key>/<version>, with LATEST naming the newest one.
type FSStore struct {
	root string
}

// NewFSStore creates the root directory if needed
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root %s: %w", root, err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) objectDir(bucket, key string) (string, error) {
	if bucket == "" || key == "" {
		return "", fmt.Errorf("bucket and key are required")
	}
	if strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return "", fmt.Errorf("invalid bucket name %q", bucket)
	}
	escaped := url.PathEscape(key)
	if escaped == "." || escaped == ".." {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(s.root, bucket, escaped), nil
}

func (s *FSStore) Get(_ context.Context, bucket, key, version string) (*Object, error) {
	dir, err := s.objectDir(bucket, key)
	if err != nil {
		return nil, err
	}

	if version == "" {
		latest, err := os.ReadFile(filepath.Join(dir, latestFile))
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, key)
		}
		if err != nil {
			return nil, fmt.Errorf("read latest version of %s/%s: %w", bucket, key, err)
		}
		version = strings.TrimSpace(string(latest))
	}
	if strings.ContainsAny(version, `/\`) || version == latestFile {
		return nil, fmt.Errorf("%w: %s/%s@%s", ErrNotFound, bucket, key, version)
	}

	f, err := os.Open(filepath.Join(dir, version))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s@%s", ErrNotFound, bucket, key, version)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s/%s@%s: %w", bucket, key, version, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s/%s@%s: %w", bucket, key, version, err)
	}

	return &Object{Body: f, ContentLength: info.Size(), Version: version}, nil
}

func (s *FSStore) Put(_ context.Context, bucket, key string, body io.Reader) (string, error) {
	dir, err := s.objectDir(bucket, key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create object dir: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate version: %w", err)
	}
	version := id.String()

	if err := writeFileAtomic(dir, version, body); err != nil {
		return "", fmt.Errorf("write %s/%s: %w", bucket, key, err)
	}
	if err := writeFileAtomic(dir, latestFile, strings.NewReader(version)); err != nil {
		return "", fmt.Errorf("record latest version of %s/%s: %w", bucket, key, err)
	}
	return version, nil
}

func writeFileAtomic(dir, name string, r io.Reader) error {
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, name))
}

var _ Store = (*FSStore)(nil)
