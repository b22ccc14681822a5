package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/music-content-pipeline/internal/config"
	"github.com/JakeFAU/music-content-pipeline/internal/content"
	"github.com/JakeFAU/music-content-pipeline/internal/dispatcher"
	queueMemory "github.com/JakeFAU/music-content-pipeline/internal/queue/memory"
	"github.com/JakeFAU/music-content-pipeline/internal/storage/memory"
)

var submittedAt = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func testConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{Port: 8080, RequestTimeoutSeconds: 30},
		Sources: map[string]config.SourceConfig{
			"local_zine": {DisplayName: "Local Zine"},
		},
	}
}

type testServer struct {
	server *Server
	queue  *queueMemory.Queue
	runs   *memory.RunStore
}

func newTestServer(t *testing.T, cfg config.Config, ids ...string) testServer {
	t.Helper()
	q := queueMemory.NewQueue(10)
	runs := memory.NewRunStore()
	server := NewServer(runs, dispatcher.New(q, nil), &fakeIDGen{ids: ids}, &fakeClock{now: submittedAt}, cfg, zap.NewNop())
	return testServer{server: server, queue: q, runs: runs}
}

func (ts testServer) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_SubmitRun_Succeeds(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig(), "run-1")
	rec := ts.do(http.MethodPost, "/v1/runs",
		`{"source":"pitchfork","urls":["https://pitchfork.com/reviews/albums/a/"],"max_articles":5}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "run-1", resp["run_id"])
	assert.Equal(t, "queued", resp["status"])

	req, err := ts.queue.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, content.RunRequest{
		RunID:       "run-1",
		Source:      content.SourcePitchfork,
		URLs:        []string{"https://pitchfork.com/reviews/albums/a/"},
		MaxArticles: 5,
		Submitted:   submittedAt.Unix(),
	}, req)

	run, err := ts.runs.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, content.RunStatusQueued, run.Status)
	assert.Equal(t, submittedAt, run.Submitted)
}

func TestServer_SubmitRun_ConfiguredSource(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig(), "run-zine")
	rec := ts.do(http.MethodPost, "/v1/runs", `{"source":"local_zine"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestServer_SubmitRun_BadRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "invalid json", body: "{invalid", want: "invalid JSON"},
		{name: "missing source", body: `{}`, want: "source required"},
		{name: "unknown source", body: `{"source":"myspace"}`, want: "unknown source"},
		{name: "relative url", body: `{"source":"npr","urls":["/music/a"]}`, want: "invalid url"},
		{name: "ftp url", body: `{"source":"npr","urls":["ftp://npr.org/a"]}`, want: "invalid url"},
		{name: "zero max", body: `{"source":"npr","max_articles":0}`, want: "max_articles"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ts := newTestServer(t, testConfig())
			rec := ts.do(http.MethodPost, "/v1/runs", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
			assert.Zero(t, ts.queue.Len())
		})
	}
}

func TestServer_SubmitRun_QueueClosedMarksRunFailed(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig(), "run-closed")
	ts.queue.Close()

	rec := ts.do(http.MethodPost, "/v1/runs", `{"source":"npr"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	run, err := ts.runs.GetRun(context.Background(), "run-closed")
	require.NoError(t, err)
	assert.Equal(t, content.RunStatusFailed, run.Status)
	require.NotNil(t, run.Report)
	assert.Contains(t, run.Report.Reason, "enqueue failed")
}

func TestServer_SubmitRun_DuplicateID(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig(), "dup", "dup")
	require.Equal(t, http.StatusAccepted, ts.do(http.MethodPost, "/v1/runs", `{"source":"npr"}`).Code)
	require.Equal(t, http.StatusConflict, ts.do(http.MethodPost, "/v1/runs", `{"source":"npr"}`).Code)
}

func TestServer_GetRun(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig())
	ctx := context.Background()
	require.NoError(t, ts.runs.CreateRun(ctx, content.Run{ID: "run-done", Source: content.SourceNPR, Submitted: submittedAt}))
	require.NoError(t, ts.runs.FinishRun(ctx, "run-done", content.RunStatusSucceeded,
		content.RunReport{RunID: "run-done", BatchID: "batch-9", Items: 4}, submittedAt.Add(time.Minute)))

	rec := ts.do(http.MethodGet, "/v1/runs/run-done", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Run content.Run `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, content.RunStatusSucceeded, resp.Run.Status)
	require.NotNil(t, resp.Run.Report)
	assert.Equal(t, "batch-9", resp.Run.Report.BatchID)

	rec = ts.do(http.MethodGet, "/v1/runs/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_GetRun_StoreError(t *testing.T) {
	t.Parallel()

	q := queueMemory.NewQueue(1)
	server := NewServer(errRunStore{err: errors.New("db down")}, dispatcher.New(q, nil), &fakeIDGen{}, &fakeClock{}, testConfig(), nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/x", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig())
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/readyz", "").Code)

	ts.server.AddReadinessCheck("ledger", func(context.Context) error { return errors.New("connection refused") })
	rec := ts.do(http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig())
	ts.do(http.MethodGet, "/healthz", "")
	rec := ts.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	ts := newTestServer(t, cfg)

	require.Equal(t, http.StatusForbidden, ts.do(http.MethodGet, "/healthz", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/healthz?api_key=secret", "").Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig())
	rec := ts.do(http.MethodGet, "/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "caller-supplied")
	rec = httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "caller-supplied", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	handler := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("handler exploded")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
	require.NotNil(t, buf)
}

// --- helpers/fakes ---

type fakeIDGen struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ids) == 0 {
		return "id-default", nil
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id, nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

type errRunStore struct {
	err error
}

func (s errRunStore) CreateRun(context.Context, content.Run) error {
	return s.err
}

func (s errRunStore) StartRun(context.Context, string, time.Time) error {
	return s.err
}

func (s errRunStore) FinishRun(context.Context, string, content.RunStatus, content.RunReport, time.Time) error {
	return s.err
}

func (s errRunStore) GetRun(context.Context, string) (content.Run, error) {
	return content.Run{}, s.err
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
