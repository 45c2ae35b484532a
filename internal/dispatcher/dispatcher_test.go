package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/vehicle-scraper/internal/queue/memory"
	"github.com/JakeFAU/vehicle-scraper/internal/scraper"
	"github.com/JakeFAU/vehicle-scraper/internal/worker"
)

type countingRunner struct {
	n    atomic.Int32
	done chan struct{}

	mu        sync.Mutex
	abandoned map[string]error
}

func (r *countingRunner) Run(context.Context, scraper.QueueItem) {
	r.n.Add(1)
	r.done <- struct{}{}
}

func (r *countingRunner) Abandon(_ context.Context, item scraper.QueueItem, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.abandoned == nil {
		r.abandoned = make(map[string]error)
	}
	r.abandoned[item.JobID] = cause
}

func TestDispatcherRunsQueuedJobsAndStops(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(8)
	runner := &countingRunner{done: make(chan struct{}, 8)}
	d := New(q, runner, 3, zap.NewNop())
	require.Equal(t, 3, d.Size())

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(stopped)
	}()

	for i := range 5 {
		require.NoError(t, q.Enqueue(context.Background(), scraper.QueueItem{JobID: string(rune('a' + i))}))
	}
	for range 5 {
		select {
		case <-runner.done:
		case <-time.After(time.Second):
			t.Fatal("job was not dispatched")
		}
	}
	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
	require.EqualValues(t, 5, runner.n.Load())
}

func TestDispatcherDrainAbandonsQueuedJobs(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(4)
	runner := &countingRunner{}
	d := New(q, runner, 0, nil)
	require.Equal(t, 1, d.Size())
	require.NoError(t, q.Enqueue(context.Background(), scraper.QueueItem{JobID: "a"}))
	require.NoError(t, q.Enqueue(context.Background(), scraper.QueueItem{JobID: "b"}))
	q.Close()

	require.Equal(t, 2, d.Drain(context.Background()))
	require.Zero(t, d.Drain(context.Background()))
	require.Zero(t, runner.n.Load())
	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.Len(t, runner.abandoned, 2)
	require.ErrorIs(t, runner.abandoned["a"], worker.ErrShutdown)
	require.ErrorIs(t, runner.abandoned["b"], worker.ErrShutdown)
}
