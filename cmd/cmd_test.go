package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/music-content-pipeline/internal/clock"
	"github.com/JakeFAU/music-content-pipeline/internal/config"
	"github.com/JakeFAU/music-content-pipeline/internal/content"
	"github.com/JakeFAU/music-content-pipeline/internal/storage/memory"
	"github.com/JakeFAU/music-content-pipeline/internal/worker"
)

var now = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

type fakeRunner struct {
	mu   sync.Mutex
	reqs []content.RunRequest
}

func (r *fakeRunner) Run(_ context.Context, req content.RunRequest) (*content.Batch, content.RunReport) {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
	batch := &content.Batch{ID: "batch-" + req.RunID, Source: req.Source}
	return batch, content.RunReport{
		RunID:   req.RunID,
		Source:  req.Source,
		BatchID: batch.ID,
		Items:   1,
		Upload:  &content.UploadReport{Successful: 1},
	}
}

func (r *fakeRunner) requests() []content.RunRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]content.RunRequest(nil), r.reqs...)
}

type fakeIDs struct {
	mu sync.Mutex
	n  int
}

func (f *fakeIDs) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return fmt.Sprintf("run-%d", f.n), nil
}

type fakeApp struct {
	cfg     config.Config
	runner  *fakeRunner
	runs    *memory.RunStore
	ids     *fakeIDs
	pingErr error
	closed  bool
}

func newFakeApp(cfg config.Config) *fakeApp {
	return &fakeApp{cfg: cfg, runner: &fakeRunner{}, runs: memory.NewRunStore(), ids: &fakeIDs{}}
}

func (a *fakeApp) Close() error {
	a.closed = true
	return nil
}

func (a *fakeApp) Config() config.Config { return a.cfg }

func (a *fakeApp) Logger() *zap.Logger { return zap.NewNop() }

func (a *fakeApp) Runner() worker.Runner { return a.runner }

func (a *fakeApp) Runs() content.RunStore { return a.runs }

func (a *fakeApp) IDs() content.IDGenerator { return a.ids }

func (a *fakeApp) Clock() content.Clock { return clock.NewFixed(now) }

func (a *fakeApp) Ping(context.Context) error { return a.pingErr }

// useFakeApp swaps the package factories and returns an accessor for the
// most recently built fake. Tests using it cannot run in parallel.
func useFakeApp(t *testing.T) func() *fakeApp {
	t.Helper()
	var captured *fakeApp
	origApp, origLogger := newApp, newLogger
	newApp = func(_ context.Context, cfg config.Config, _ *zap.Logger) (App, error) {
		captured = newFakeApp(cfg)
		return captured, nil
	}
	newLogger = func(config.Config) (*zap.Logger, error) { return zap.NewNop(), nil }
	t.Cleanup(func() {
		newApp, newLogger = origApp, origLogger
	})
	return func() *fakeApp { return captured }
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunCommandPrintsReport(t *testing.T) {
	current := useFakeApp(t)

	out, err := execute(t, "run", "--source", "pitchfork",
		"--url", "https://pitchfork.com/reviews/albums/a/", "--max-articles", "3")
	require.NoError(t, err)

	var report content.RunReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, "batch-run-1", report.BatchID)

	captured := current()
	require.NotNil(t, captured)
	assert.True(t, captured.closed)
	reqs := captured.runner.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, content.RunRequest{
		RunID:       "run-1",
		Source:      content.SourcePitchfork,
		URLs:        []string{"https://pitchfork.com/reviews/albums/a/"},
		MaxArticles: 3,
		Submitted:   now.Unix(),
	}, reqs[0])
}

func TestRunCommandErrors(t *testing.T) {
	useFakeApp(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "missing source", args: []string{"run"}, want: `required flag(s) "source" not set`},
		{name: "unknown source", args: []string{"run", "--source", "myspace"}, want: `unknown source "myspace"`},
		{name: "negative max", args: []string{"run", "--source", "npr", "--max-articles", "-1"}, want: "--max-articles"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.ErrorContains(t, err, tt.want)
		})
	}
}

func TestRootFailsOnAppInit(t *testing.T) {
	origApp, origLogger := newApp, newLogger
	newApp = func(context.Context, config.Config, *zap.Logger) (App, error) {
		return nil, errors.New("postgres unreachable")
	}
	newLogger = func(config.Config) (*zap.Logger, error) { return zap.NewNop(), nil }
	t.Cleanup(func() { newApp, newLogger = origApp, origLogger })

	_, err := execute(t, "run", "--source", "npr")
	require.ErrorContains(t, err, "postgres unreachable")
}

func TestResolveAppMissing(t *testing.T) {
	t.Parallel()

	_, err := resolveApp(context.Background())
	require.EqualError(t, err, "application services not initialized")
}

func TestServeProcessesSubmittedRuns(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Pipeline.Workers = 2
	fake := newFakeApp(cfg)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + lis.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, fake, lis) }()

	resp, err := http.Post(base+"/v1/runs", "application/json", strings.NewReader(`{"source":"npr"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var submitted map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&submitted))
	require.NoError(t, resp.Body.Close())
	runID := submitted["run_id"]
	require.NotEmpty(t, runID)

	require.Eventually(t, func() bool {
		run, err := fake.runs.GetRun(context.Background(), runID)
		return err == nil && run.Status == content.RunStatusSucceeded
	}, 5*time.Second, 10*time.Millisecond)

	resp, err = http.Get(base + "/readyz")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
