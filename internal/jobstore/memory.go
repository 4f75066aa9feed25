package jobstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuongbtq/dvt-pipeline/internal/domain"
)

// MemoryStore is an in-process Store used by tests and single-process runs
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]domain.Job
	now  func() time.Time

	// Calls counts every Create, Get and Update invocation.
	Calls int
}

// NewMemoryStore returns an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]domain.Job),
		now:  time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++

	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("%w: %s", domain.ErrJobExists, job.ID)
	}
	s.jobs[job.ID] = *job
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++

	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return &job, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, update domain.JobUpdate) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++

	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if update.RequirePending && job.Status.IsTerminal() {
		return &job, fmt.Errorf("%w: %s is %s", domain.ErrTerminalState, id, job.Status)
	}

	update.Apply(&job, s.now())
	s.jobs[id] = job
	return &job, nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
