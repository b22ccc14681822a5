package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/music-content-pipeline/internal/clock"
	"github.com/JakeFAU/music-content-pipeline/internal/content"
	"github.com/JakeFAU/music-content-pipeline/internal/queue/memory"
	storemem "github.com/JakeFAU/music-content-pipeline/internal/storage/memory"
	"github.com/JakeFAU/music-content-pipeline/internal/worker"
)

// TestDispatcherRunStartsWorkers ensures workers begin processing and stop on cancel.
func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{started: make(chan struct{}, 1)}
	w := worker.New(queue, nil, nil, clock.NewSystem(), worker.Config{}, zap.NewNop())
	dispatch := New(queue, []*worker.Worker{w})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	select {
	case <-queue.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not begin dequeuing")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestDispatcherDrainsQueueBeforeClose(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	queue := memory.NewQueue(4)
	runs := storemem.NewRunStore()
	runner := runnerFunc(func(_ context.Context, req content.RunRequest) (*content.Batch, content.RunReport) {
		return content.NewBatch("b-"+req.RunID, req.Source, nil, 0, time.Now()), content.RunReport{RunID: req.RunID}
	})
	workers := []*worker.Worker{
		worker.New(queue, runs, runner, clock.NewSystem(), worker.Config{}, nil),
		worker.New(queue, runs, runner, clock.NewSystem(), worker.Config{}, nil),
	}
	dispatch := New(queue, workers)

	for i := range 3 {
		id := fmt.Sprintf("run-%d", i)
		require.NoError(t, runs.CreateRun(ctx, content.Run{ID: id, Source: content.SourceNPR}))
		require.NoError(t, dispatch.Enqueue(ctx, content.RunRequest{RunID: id, Source: content.SourceNPR}))
	}
	queue.Close()
	dispatch.Run(ctx)

	for i := range 3 {
		run, err := runs.GetRun(ctx, fmt.Sprintf("run-%d", i))
		require.NoError(t, err)
		assert.Equal(t, content.RunStatusSucceeded, run.Status)
	}
}

// TestDispatcherEnqueueForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	dispatch := New(&errorQueue{err: errors.New("boom")}, nil)
	err := dispatch.Enqueue(context.Background(), content.RunRequest{RunID: "run"})
	require.EqualError(t, err, "queue enqueue: boom")
}

type runnerFunc func(ctx context.Context, req content.RunRequest) (*content.Batch, content.RunReport)

func (f runnerFunc) Run(ctx context.Context, req content.RunRequest) (*content.Batch, content.RunReport) {
	return f(ctx, req)
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(context.Context, content.RunRequest) error {
	return nil
}

func (q *blockingQueue) Dequeue(ctx context.Context) (content.RunRequest, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return content.RunRequest{}, fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, content.RunRequest) error {
	return q.err
}

func (q *errorQueue) Dequeue(context.Context) (content.RunRequest, error) {
	return content.RunRequest{}, q.err
}
