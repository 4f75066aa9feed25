package worker

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Pool runs independent single-consumer workers against the same queue
type Pool struct {
	workers []*Worker
	logger  *slog.Logger
}

// NewPool builds concurrency workers from newWorker, numbered from 0
func NewPool(concurrency int, logger *slog.Logger, newWorker func(n int) *Worker) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}

	workers := make([]*Worker, 0, concurrency)
	for i := 0; i < concurrency; i++ {
		workers = append(workers, newWorker(i))
	}
	return &Pool{workers: workers, logger: logger}
}

// Size returns the number of workers
func (p *Pool) Size() int { return len(p.workers) }

// Run starts every worker and waits until all have stopped
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("Spawning worker pool", slog.Int("concurrency", len(p.workers)))

	g, ctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		g.Go(func() error {
			return w.Run(ctx)
		})
	}

	err := g.Wait()
	p.logger.Info("Worker pool stopped")
	return err
}
