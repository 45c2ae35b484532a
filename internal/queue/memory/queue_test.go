package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vehicle-scraper/internal/scraper"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan scraper.QueueItem, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	require.NoError(t, q.Enqueue(context.Background(), scraper.QueueItem{JobID: "job-1", TargetCount: 10}))
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		require.Equal(t, "job-1", got.JobID)
		require.Equal(t, 10, got.TargetCount)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return job")
	}
}

func TestQueueRefusesWhenFull(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), scraper.QueueItem{JobID: "a"}))
	require.Equal(t, 1, q.Len())
	require.ErrorIs(t, q.Enqueue(context.Background(), scraper.QueueItem{JobID: "b"}), ErrFull)
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Dequeue(ctx)
	require.EqualError(t, err, "dequeue canceled: context canceled")
	require.EqualError(t, q.Enqueue(ctx, scraper.QueueItem{JobID: "x"}), "enqueue canceled: context canceled")
}

func TestQueueCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	require.NoError(t, q.Enqueue(context.Background(), scraper.QueueItem{JobID: "pending"}))
	q.Close()
	q.Close()

	require.ErrorIs(t, q.Enqueue(context.Background(), scraper.QueueItem{JobID: "late"}), ErrClosed)
	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "pending", item.JobID)
	_, err = q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}

func TestQueueDrainEmptiesPendingJobs(t *testing.T) {
	t.Parallel()

	q := NewQueue(3)
	require.Empty(t, q.Drain())
	require.NoError(t, q.Enqueue(context.Background(), scraper.QueueItem{JobID: "a"}))
	require.NoError(t, q.Enqueue(context.Background(), scraper.QueueItem{JobID: "b"}))
	q.Close()

	items := q.Drain()
	require.Len(t, items, 2)
	require.Equal(t, "a", items[0].JobID)
	require.Equal(t, "b", items[1].JobID)
	require.Empty(t, q.Drain())
	require.Zero(t, q.Len())
}
