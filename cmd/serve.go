package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/music-content-pipeline/internal/api"
	"github.com/JakeFAU/music-content-pipeline/internal/dispatcher"
	queueMemory "github.com/JakeFAU/music-content-pipeline/internal/queue/memory"
	"github.com/JakeFAU/music-content-pipeline/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Starts the run API and worker pool",
		Long: `Serves POST /v1/runs and GET /v1/runs/{run_id}. Submitted runs are queued
and executed by pipeline.workers workers until the process is signalled.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			lis, err := net.Listen("tcp", ":"+strconv.Itoa(appInstance.Config().Server.Port))
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}
			return serve(cmd.Context(), appInstance, lis)
		},
	}
}

// serve runs the API on lis until ctx is done, then drains workers.
func serve(ctx context.Context, appInstance App, lis net.Listener) error {
	cfg := appInstance.Config()
	logger := appInstance.Logger()

	queue := queueMemory.NewQueue(cfg.Pipeline.QueueDepth)
	workerCfg := worker.Config{RunTimeout: cfg.RunTimeout()}
	workers := make([]*worker.Worker, 0, cfg.Pipeline.Workers)
	for i := range cfg.Pipeline.Workers {
		workers = append(workers, worker.New(
			queue,
			appInstance.Runs(),
			appInstance.Runner(),
			appInstance.Clock(),
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(queue, workers)

	apiServer := api.NewServer(appInstance.Runs(), dispatch, appInstance.IDs(), appInstance.Clock(), cfg, logger.Named("api"))
	apiServer.AddReadinessCheck("database", appInstance.Ping)

	srv := &http.Server{
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Workers outlive the request context so queued runs can finish.
	workerCtx, cancelWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWorkers()
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		logger.Info("dispatcher started", zap.Int("workers", len(workers)))
		dispatch.Run(workerCtx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.String("addr", lis.Addr().String()))
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()

	select {
	case <-dispatched:
	case <-shutdownCtx.Done():
		logger.Warn("workers did not drain before shutdown timeout")
		cancelWorkers()
		<-dispatched
	}
	logger.Info("shutdown complete")
	return runErr
}
