package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

type memoryObject struct {
	versions []string
	data     map[string][]byte
}

// MemoryStore is an in-process versioned Store
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]*memoryObject
	seq     int

	// Gets and Puts count calls, successful or not.
	Gets int
	Puts int
}

// NewMemoryStore returns an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]*memoryObject)}
}

func memoryKey(bucket, key string) string { return bucket + "\x00" + key }

func (s *MemoryStore) Get(_ context.Context, bucket, key, version string) (*Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Gets++

	obj, ok := s.objects[memoryKey(bucket, key)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, key)
	}
	if version == "" {
		version = obj.versions[len(obj.versions)-1]
	}
	data, ok := obj.data[version]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s@%s", ErrNotFound, bucket, key, version)
	}

	return &Object{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: int64(len(data)),
		Version:       version,
	}, nil
}

func (s *MemoryStore) Put(_ context.Context, bucket, key string, body io.Reader) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.Puts++
	s.seq++

	k := memoryKey(bucket, key)
	obj, ok := s.objects[k]
	if !ok {
		obj = &memoryObject{data: make(map[string][]byte)}
		s.objects[k] = obj
	}
	version := fmt.Sprintf("v%06d", s.seq)
	obj.versions = append(obj.versions, version)
	obj.data[version] = data
	return version, nil
}

// Bytes returns the latest content of key, or nil when absent
func (s *MemoryStore) Bytes(bucket, key string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[memoryKey(bucket, key)]
	if !ok {
		return nil
	}
	return obj.data[obj.versions[len(obj.versions)-1]]
}

var _ Store = (*MemoryStore)(nil)
