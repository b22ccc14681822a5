package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/music-content-pipeline/internal/clock"
	"github.com/JakeFAU/music-content-pipeline/internal/content"
	"github.com/JakeFAU/music-content-pipeline/internal/storage/memory"
)

var workerNow = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

func TestWorker_ProcessRun_Statuses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		report content.RunReport
		panics bool
		want   content.RunStatus
		reason string
	}{
		{
			name:   "persisted",
			report: content.RunReport{Items: 3, Upload: &content.UploadReport{Successful: 3}},
			want:   content.RunStatusSucceeded,
		},
		{
			name:   "no urls",
			report: content.RunReport{Reason: "no URLs discovered"},
			want:   content.RunStatusRejected,
			reason: "no URLs discovered",
		},
		{
			name:   "upload failed for every item",
			report: content.RunReport{Items: 2, Upload: &content.UploadReport{Failed: 2}},
			want:   content.RunStatusFailed,
		},
		{
			name:   "panicking pipeline",
			panics: true,
			want:   content.RunStatusFailed,
			reason: "run panicked: boom",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			runs := memory.NewRunStore()
			require.NoError(t, runs.CreateRun(ctx, content.Run{ID: "run-1", Source: content.SourceNPR, Submitted: workerNow}))
			queue := &fakeQueue{items: []content.RunRequest{{RunID: "run-1", Source: content.SourceNPR}}}
			runner := &fakeRunner{report: tt.report, panics: tt.panics}

			w := New(queue, runs, runner, clock.NewFixed(workerNow), Config{}, zap.NewNop())
			go w.Run(ctx)

			require.Eventually(t, func() bool {
				run, err := runs.GetRun(ctx, "run-1")
				return err == nil && run.Finished != nil
			}, time.Second, 5*time.Millisecond)

			run, err := runs.GetRun(ctx, "run-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, run.Status)
			require.NotNil(t, run.Report)
			assert.Equal(t, tt.reason, run.Report.Reason)
			require.NotNil(t, run.Started)
			assert.Equal(t, workerNow, *run.Started)
		})
	}
}

func TestWorker_RunTimeoutBoundsPipelineContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := &fakeRunner{}
	w := New(&fakeQueue{}, nil, runner, clock.NewFixed(workerNow), Config{RunTimeout: time.Minute}, nil)
	w.processRun(ctx, content.RunRequest{RunID: "run-timeout", Source: content.SourceNPR})

	require.Len(t, runner.calls, 1)
	assert.True(t, runner.hadDeadline)
}

func TestWorker_NoRunnerFailsRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	runs := memory.NewRunStore()
	require.NoError(t, runs.CreateRun(ctx, content.Run{ID: "run-2", Source: content.SourceNPR}))

	w := New(&fakeQueue{}, runs, nil, clock.NewFixed(workerNow), Config{}, nil)
	w.processRun(ctx, content.RunRequest{RunID: "run-2", Source: content.SourceNPR})

	run, err := runs.GetRun(ctx, "run-2")
	require.NoError(t, err)
	assert.Equal(t, content.RunStatusFailed, run.Status)
	assert.Equal(t, "no pipeline configured", run.Report.Reason)
}

func TestWorker_StopsWhenQueueCloses(t *testing.T) {
	t.Parallel()

	w := New(&fakeQueue{closed: true}, nil, &fakeRunner{}, clock.NewFixed(workerNow), Config{}, nil)
	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after queue close")
	}
}

func TestDeriveStatus(t *testing.T) {
	t.Parallel()

	assert.Equal(t, content.RunStatusFailed, deriveStatus(content.RunReport{}, errors.New("x")))
	assert.Equal(t, content.RunStatusSucceeded, deriveStatus(content.RunReport{}, nil))
	assert.Equal(t, content.RunStatusRejected, deriveStatus(content.RunReport{Reason: "safety check failed: x"}, nil))
}

type fakeRunner struct {
	mu          sync.Mutex
	report      content.RunReport
	panics      bool
	calls       []content.RunRequest
	hadDeadline bool
}

func (r *fakeRunner) Run(ctx context.Context, req content.RunRequest) (*content.Batch, content.RunReport) {
	r.mu.Lock()
	r.calls = append(r.calls, req)
	_, r.hadDeadline = ctx.Deadline()
	r.mu.Unlock()
	if r.panics {
		panic("boom")
	}
	report := r.report
	report.RunID = req.RunID
	report.Source = req.Source
	return content.NewBatch("batch", req.Source, nil, 0, workerNow), report
}

type fakeQueue struct {
	mu     sync.Mutex
	items  []content.RunRequest
	closed bool
}

func (q *fakeQueue) Enqueue(_ context.Context, req content.RunRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, req)
	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context) (content.RunRequest, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return content.RunRequest{}, content.ErrQueueClosed
		}

		select {
		case <-ctx.Done():
			return content.RunRequest{}, fmt.Errorf("queue dequeue context done: %w", ctx.Err())
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}
