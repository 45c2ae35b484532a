// Package worker implements the job execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/vehicle-scraper/internal/scraper"
)

// ErrShutdown fails jobs that were still queued when the process stopped.
var ErrShutdown = errors.New("shutdown before start")

// Runner executes one dequeued job to a terminal state. Abandon fails a job
// the worker could not run to completion.
type Runner interface {
	Run(ctx context.Context, item scraper.QueueItem)
	Abandon(ctx context.Context, item scraper.QueueItem, cause error)
}

// Worker consumes queue items and hands them to the runner.
type Worker struct {
	id     int
	queue  scraper.Queue
	runner Runner
	logger *zap.Logger
}

// New constructs a Worker.
func New(id int, queue scraper.Queue, runner Runner, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:     id,
		queue:  queue,
		runner: runner,
		logger: logger.With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming queue items until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, scraper.ErrQueueClosed) {
				w.logger.Debug("queue closed, worker exiting")
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		if ctx.Err() != nil {
			w.abandon(ctx, item, ErrShutdown)
			return
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID), zap.String("source", string(item.Source)))
		w.process(ctx, item)
	}
}

// process recovers runner panics and fails the job they interrupted.
func (w *Worker) process(ctx context.Context, item scraper.QueueItem) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("job panicked", zap.String("job_id", item.JobID), zap.Any("panic", r))
			w.abandon(ctx, item, fmt.Errorf("job panicked: %v", r))
		}
	}()
	w.runner.Run(ctx, item)
}

func (w *Worker) abandon(ctx context.Context, item scraper.QueueItem, cause error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("abandon panicked", zap.String("job_id", item.JobID), zap.Any("panic", r))
		}
	}()
	w.runner.Abandon(ctx, item, cause)
}
