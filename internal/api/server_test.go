package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"magharvest/internal/app"
	"magharvest/internal/clock/system"
	"magharvest/internal/config"
	"magharvest/internal/id/uuid"
	"magharvest/internal/sched"
	"magharvest/internal/task"
)

// apiRunner completes every run immediately unless block is set, in which
// case runs park until the channel closes.
type apiRunner struct {
	mu      sync.Mutex
	started []string
	block   chan struct{}
}

func (r *apiRunner) Run(_ context.Context, t *task.Task) {
	r.mu.Lock()
	r.started = append(r.started, t.ID())
	r.mu.Unlock()
	t.MarkRunning(time.Now())
	if r.block != nil {
		<-r.block
	}
	if t.Stopping() {
		t.Fail(time.Now(), "stopped by operator")
		return
	}
	t.Succeed(time.Now(), task.Result{Sections: 1}, "done")
}

type serverOptions struct {
	runner *apiRunner
	cfg    config.Config
	cap    int
}

func newTestServer(t *testing.T, opts serverOptions) (*Server, *apiRunner) {
	t.Helper()
	runner := opts.runner
	if runner == nil {
		runner = &apiRunner{}
	}
	capacity := opts.cap
	if capacity == 0 {
		capacity = 10
	}
	svc, err := app.New(
		app.Config{},
		task.NewManager(capacity, 10),
		runner,
		uuid.NewGenerator(),
		system.New(),
		zap.NewNop(),
	)
	require.NoError(t, err)
	scheduler, err := sched.New(svc.StartCrawl, zap.NewNop())
	require.NoError(t, err)
	return NewServer(svc, scheduler, opts.cfg, zap.NewNop()), runner
}

func doJSON(t *testing.T, server *Server, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeTask(t *testing.T, rec *httptest.ResponseRecorder) taskResponse {
	t.Helper()
	var resp taskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func waitForState(t *testing.T, server *Server, taskID string, want task.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		rec := doJSON(t, server, http.MethodGet, "/v1/crawls/"+taskID, "")
		if rec.Code != http.StatusOK {
			return false
		}
		var resp taskResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			return false
		}
		return resp.State == string(want)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestServer_StartCrawl_Accepted(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, serverOptions{})
	rec := doJSON(t, server, http.MethodPost, "/v1/crawls", `{"mode":"incremental"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decodeTask(t, rec)
	require.NotEmpty(t, resp.TaskID)
	require.Equal(t, "incremental", resp.Mode)

	waitForState(t, server, resp.TaskID, task.StateSucceeded)
}

func TestServer_StartCrawl_InvalidJSON(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, serverOptions{})
	rec := doJSON(t, server, http.MethodPost, "/v1/crawls", "{invalid")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid JSON")
}

func TestServer_StartCrawl_UnknownMode(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, serverOptions{})
	rec := doJSON(t, server, http.MethodPost, "/v1/crawls", `{"mode":"hourly"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "unknown crawl mode")
}

func TestServer_StartCrawl_CapacityExceeded(t *testing.T) {
	t.Parallel()

	runner := &apiRunner{block: make(chan struct{})}
	server, _ := newTestServer(t, serverOptions{runner: runner, cap: 1})

	first := doJSON(t, server, http.MethodPost, "/v1/crawls", `{"mode":"incremental"}`)
	require.Equal(t, http.StatusAccepted, first.Code)

	second := doJSON(t, server, http.MethodPost, "/v1/crawls", `{"mode":"incremental"}`)
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	require.Contains(t, second.Body.String(), "task limit reached")

	close(runner.block)
	waitForState(t, server, decodeTask(t, first).TaskID, task.StateSucceeded)
}

func TestServer_GetCrawl_NotFound(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, serverOptions{})
	rec := doJSON(t, server, http.MethodGet, "/v1/crawls/no-such-task", "")

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ListCrawls_ReturnsAll(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, serverOptions{})
	for i := 0; i < 2; i++ {
		rec := doJSON(t, server, http.MethodPost, "/v1/crawls", `{"mode":"discover_only"}`)
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := doJSON(t, server, http.MethodGet, "/v1/crawls", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Tasks []taskResponse `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Tasks, 2)
}

func TestServer_ListCrawls_EmptyIsArray(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, serverOptions{})
	rec := doJSON(t, server, http.MethodGet, "/v1/crawls", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"tasks":[]`)
}

func TestServer_StopCrawl_StopsRunningTask(t *testing.T) {
	t.Parallel()

	runner := &apiRunner{block: make(chan struct{})}
	server, _ := newTestServer(t, serverOptions{runner: runner})

	started := doJSON(t, server, http.MethodPost, "/v1/crawls", `{"mode":"submit_all"}`)
	require.Equal(t, http.StatusAccepted, started.Code)
	taskID := decodeTask(t, started).TaskID

	rec := doJSON(t, server, http.MethodPost, "/v1/crawls/"+taskID+"/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, taskID, decodeTask(t, rec).TaskID)

	close(runner.block)
	waitForState(t, server, taskID, task.StateFailed)
}

func TestServer_StopCrawl_NotFound(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, serverOptions{})
	rec := doJSON(t, server, http.MethodPost, "/v1/crawls/no-such-task/stop", "")

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Schedule_RoundTrip(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, serverOptions{})

	rec := doJSON(t, server, http.MethodGet, "/v1/schedule", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var initial scheduleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &initial))
	require.False(t, initial.Enabled)

	rec = doJSON(t, server, http.MethodPut, "/v1/schedule",
		`{"cron":"0 3 * * *","mode":"incremental","enabled":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, server, http.MethodGet, "/v1/schedule", "")
	var updated scheduleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	require.True(t, updated.Enabled)
	require.Equal(t, "0 3 * * *", updated.Cron)
	require.Equal(t, "incremental", updated.Mode)
}

func TestServer_PutSchedule_InvalidSpecKeepsPrevious(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, serverOptions{})

	rec := doJSON(t, server, http.MethodPut, "/v1/schedule",
		`{"cron":"0 3 * * *","mode":"incremental","enabled":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, server, http.MethodPut, "/v1/schedule",
		`{"cron":"every other tuesday","mode":"incremental","enabled":true}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid cron spec")

	rec = doJSON(t, server, http.MethodGet, "/v1/schedule", "")
	var current scheduleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &current))
	require.Equal(t, "0 3 * * *", current.Cron)
	require.True(t, current.Enabled)
}

func TestServer_APIKey_Required(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "sekrit"
	server, _ := newTestServer(t, serverOptions{cfg: cfg})

	rec := doJSON(t, server, http.MethodGet, "/v1/crawls", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/crawls", nil)
	req.Header.Set("X-API-Key", "sekrit")
	ok := httptest.NewRecorder()
	server.Handler().ServeHTTP(ok, req)
	require.Equal(t, http.StatusOK, ok.Code)

	viaQuery := doJSON(t, server, http.MethodGet, "/v1/crawls?api_key=sekrit", "")
	require.Equal(t, http.StatusOK, viaQuery.Code)
}

func TestServer_HealthEndpoints(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, serverOptions{})

	health := doJSON(t, server, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, health.Code)
	require.Contains(t, health.Body.String(), "ok")

	ready := doJSON(t, server, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, ready.Code)
	require.Contains(t, ready.Body.String(), "ready")
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, serverOptions{})
	rec := doJSON(t, server, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RequestIDHeader(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, serverOptions{})
	rec := doJSON(t, server, http.MethodGet, "/healthz", "")

	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
