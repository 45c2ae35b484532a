// Package dispatcher manages worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/vehicle-scraper/internal/scraper"
	"github.com/JakeFAU/vehicle-scraper/internal/worker"
)

// Queue is the job queue a Dispatcher consumes. Drain empties it without blocking.
type Queue interface {
	scraper.Queue
	Drain() []scraper.QueueItem
}

// Dispatcher fans out queue work to a fixed pool of workers.
type Dispatcher struct {
	queue   Queue
	runner  worker.Runner
	workers []*worker.Worker
	logger  *zap.Logger
}

// New creates a Dispatcher with size workers sharing runner.
func New(queue Queue, runner worker.Runner, size int, logger *zap.Logger) *Dispatcher {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := make([]*worker.Worker, 0, size)
	for i := range size {
		workers = append(workers, worker.New(i+1, queue, runner, logger))
	}
	return &Dispatcher{
		queue:   queue,
		runner:  runner,
		workers: workers,
		logger:  logger,
	}
}

// Size returns the number of workers.
func (d *Dispatcher) Size() int {
	return len(d.workers)
}

// Run starts all workers and blocks until the context finishes and every
// in-flight job has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Drain fails every job still queued with worker.ErrShutdown. Call it after
// the queue is closed so nothing new arrives behind it.
func (d *Dispatcher) Drain(ctx context.Context) int {
	items := d.queue.Drain()
	for _, item := range items {
		d.runner.Abandon(ctx, item, worker.ErrShutdown)
	}
	if len(items) > 0 {
		d.logger.Warn("failed queued jobs at shutdown", zap.Int("count", len(items)))
	}
	return len(items)
}
