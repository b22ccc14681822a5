// Package worker implements the run execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/music-content-pipeline/internal/content"
	"github.com/JakeFAU/music-content-pipeline/internal/metrics"
)

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context, req content.RunRequest) (*content.Batch, content.RunReport)
}

// Config controls Worker behavior.
type Config struct {
	// RunTimeout bounds scheduling for one run. Zero means no limit.
	RunTimeout time.Duration
}

// Worker consumes run requests and executes them one at a time.
type Worker struct {
	queue  content.Queue
	runs   content.RunStore
	runner Runner
	clock  content.Clock
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(
	queue content.Queue,
	runs content.RunStore,
	runner Runner,
	clock content.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:  queue,
		runs:   runs,
		runner: runner,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
}

// Run blocks, consuming requests until the context finishes or the queue
// is closed.
func (w *Worker) Run(ctx context.Context) {
	for {
		req, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, content.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued run", zap.String("run_id", req.RunID), zap.String("source", string(req.Source)))
		w.processRun(ctx, req)
	}
}

func (w *Worker) processRun(ctx context.Context, req content.RunRequest) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	// Status writes must land even when the worker is shutting down.
	storeCtx := context.WithoutCancel(ctx)
	if w.runs != nil {
		if err := w.runs.StartRun(storeCtx, req.RunID, w.clock.Now()); err != nil {
			w.logger.Error("start run status update failed", zap.String("run_id", req.RunID), zap.Error(err))
		}
	}

	report, err := w.execute(ctx, req)
	status := deriveStatus(report, err)
	if err != nil {
		report.RunID = req.RunID
		report.Source = req.Source
		report.Reason = err.Error()
		report.FinishedAt = w.clock.Now()
	}

	w.logger.Info("run completed",
		zap.String("run_id", req.RunID),
		zap.String("status", string(status)),
		zap.Int("items", report.Items),
		zap.String("reason", report.Reason),
	)
	if w.runs == nil {
		return
	}
	if err := w.runs.FinishRun(storeCtx, req.RunID, status, report, w.clock.Now()); err != nil {
		w.logger.Error("final run status update failed", zap.String("run_id", req.RunID), zap.Error(err))
	}
}

func (w *Worker) execute(ctx context.Context, req content.RunRequest) (report content.RunReport, err error) {
	if w.runner == nil {
		return content.RunReport{}, errors.New("no pipeline configured")
	}
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("run panicked", zap.String("run_id", req.RunID), zap.Any("panic", r))
			err = fmt.Errorf("run panicked: %v", r)
		}
	}()

	runCtx := ctx
	if w.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.cfg.RunTimeout)
		defer cancel()
	}
	_, report = w.runner.Run(runCtx, req)
	return report, nil
}

// deriveStatus maps a run outcome onto the stored status. A run that
// assembled records but persisted none of them counts as failed.
func deriveStatus(report content.RunReport, err error) content.RunStatus {
	switch {
	case err != nil:
		return content.RunStatusFailed
	case report.Reason != "":
		return content.RunStatusRejected
	case report.Upload != nil && report.Items > 0 && report.Upload.Successful == 0:
		return content.RunStatusFailed
	default:
		return content.RunStatusSucceeded
	}
}
