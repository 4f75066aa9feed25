// Package blobstore stores source files and result artifacts addressed by
// bucket, key and version.
package blobstore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when the bucket, key or version does not exist
var ErrNotFound = errors.New("object not found")

// Object is an opened blob. Callers must close Body.
type Object struct {
	Body          io.ReadCloser
	ContentLength int64
	Version       string
}

// Store is a versioned blob store
type Store interface {
	// Get opens key at version; an empty version means the latest one.
	Get(ctx context.Context, bucket, key, version string) (*Object, error)
	// Put writes a new version of key and returns its version token.
	Put(ctx context.Context, bucket, key string, body io.Reader) (string, error)
}

// Copy duplicates a pinned version of src into dst under dstKey
func Copy(ctx context.Context, src Store, srcBucket, srcKey, version string, dst Store, dstBucket, dstKey string) (string, error) {
	obj, err := src.Get(ctx, srcBucket, srcKey, version)
	if err != nil {
		return "", err
	}
	defer obj.Body.Close()

	return dst.Put(ctx, dstBucket, dstKey, obj.Body)
}
