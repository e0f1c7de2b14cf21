package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dlqueue/internal/queue"
	"dlqueue/pkg/checkpoint"
	"dlqueue/pkg/config"
	"dlqueue/pkg/logger"
	"dlqueue/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	m   *queue.Manager
	srv *httptest.Server
}

func newFixture(t *testing.T, token string) *fixture {
	t.Helper()
	store, err := checkpoint.NewManager(filepath.Join(t.TempDir(), "queue.json"), logger.NewNopLogger())
	require.NoError(t, err)

	m := queue.NewManager(queue.Options{MaxConcurrent: 1, RejectDuplicates: true}, store, nil, nil, logger.NewNopLogger())
	s := NewServer(config.ServerConfig{APIToken: token}, m, logger.NewNopLogger())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{m: m, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path, body string, out interface{}) int {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestSubmitAdmitsThenQueues(t *testing.T) {
	f := newFixture(t, "")

	var first JobResponse
	assert.Equal(t, http.StatusAccepted, f.do(t, "POST", "/api/downloads", `{"url":"https://example.com/a.mp4"}`, &first))
	assert.Equal(t, models.StateStarting, first.State)
	assert.Zero(t, first.QueuePosition)

	var second JobResponse
	assert.Equal(t, http.StatusAccepted, f.do(t, "POST", "/api/downloads", `{"url":"https://example.com/b.mp3","format":"audio"}`, &second))
	assert.Equal(t, models.StateQueued, second.State)
	assert.Equal(t, 1, second.QueuePosition)

	var status queue.Status
	assert.Equal(t, http.StatusOK, f.do(t, "GET", "/api/downloads", "", &status))
	assert.Equal(t, 1, status.ActiveCount)
	assert.Equal(t, 1, status.QueuedCount)
	assert.Equal(t, 1, status.MaxConcurrent)

	var job models.Job
	assert.Equal(t, http.StatusOK, f.do(t, "GET", "/api/downloads/"+second.JobID, "", &job))
	assert.Equal(t, "audio", job.Target.Format)
}

func TestSubmitErrors(t *testing.T) {
	f := newFixture(t, "")

	var errResp ErrorResponse
	assert.Equal(t, http.StatusBadRequest, f.do(t, "POST", "/api/downloads", `{"url":"ftp://example.com/x"}`, &errResp))
	assert.NotEmpty(t, errResp.Error)

	assert.Equal(t, http.StatusBadRequest, f.do(t, "POST", "/api/downloads", `{not json`, &errResp))
	assert.Equal(t, http.StatusBadRequest, f.do(t, "POST", "/api/downloads", "", &errResp))

	var first JobResponse
	require.Equal(t, http.StatusAccepted, f.do(t, "POST", "/api/downloads", `{"url":"https://example.com/a.mp4"}`, &first))
	var dup ErrorResponse
	assert.Equal(t, http.StatusConflict, f.do(t, "POST", "/api/downloads", `{"url":"https://example.com/a.mp4"}`, &dup))
	assert.Equal(t, first.JobID, dup.JobID)
}

func TestProgressAndCancel(t *testing.T) {
	f := newFixture(t, "")
	var active, queued JobResponse
	f.do(t, "POST", "/api/downloads", `{"url":"https://example.com/a"}`, &active)
	f.do(t, "POST", "/api/downloads", `{"url":"https://example.com/b"}`, &queued)

	require.True(t, f.m.ReportProgress(active.JobID, models.ProgressDelta{Percent: models.Float64(30)}))
	var p models.Progress
	assert.Equal(t, http.StatusOK, f.do(t, "GET", "/api/downloads/"+active.JobID+"/progress", "", &p))
	assert.InDelta(t, 30, p.Percent, 0.001)

	var errResp ErrorResponse
	assert.Equal(t, http.StatusNotFound, f.do(t, "GET", "/api/downloads/nope/progress", "", &errResp))
	assert.Equal(t, http.StatusConflict, f.do(t, "DELETE", "/api/downloads/"+active.JobID, "", &errResp))

	var cancelled models.Job
	assert.Equal(t, http.StatusOK, f.do(t, "DELETE", "/api/downloads/"+queued.JobID, "", &cancelled))
	assert.Equal(t, models.StateCancelled, cancelled.State)

	var cleared CountResponse
	assert.Equal(t, http.StatusOK, f.do(t, "DELETE", "/api/completed", "", &cleared))
	assert.Equal(t, 1, cleared.Removed)
	assert.Equal(t, http.StatusOK, f.do(t, "DELETE", "/api/completed", "", &cleared))
	assert.Equal(t, 0, cleared.Removed)
}

func TestResumeAndDeleteInterrupted(t *testing.T) {
	f := newFixture(t, "")
	var a JobResponse
	f.do(t, "POST", "/api/downloads", `{"url":"https://example.com/a"}`, &a)
	require.True(t, f.m.ReportProgress(a.JobID, models.ProgressDelta{Percent: models.Float64(40)}))
	require.True(t, f.m.Fail(a.JobID, "connection reset"))

	var resumed JobResponse
	assert.Equal(t, http.StatusAccepted, f.do(t, "POST", "/api/incomplete/"+a.JobID+"/resume", "", &resumed))
	assert.NotEqual(t, a.JobID, resumed.JobID)
	assert.Equal(t, models.StateStarting, resumed.State)

	var errResp ErrorResponse
	assert.Equal(t, http.StatusNotFound, f.do(t, "POST", "/api/incomplete/"+a.JobID+"/resume", "", &errResp))

	require.True(t, f.m.ReportProgress(resumed.JobID, models.ProgressDelta{Percent: models.Float64(10)}))
	require.True(t, f.m.Fail(resumed.JobID, "again"))
	assert.Equal(t, http.StatusOK, f.do(t, "DELETE", "/api/incomplete/"+resumed.JobID, "", nil))
	assert.Equal(t, http.StatusNotFound, f.do(t, "DELETE", "/api/incomplete/"+resumed.JobID, "", &errResp))

	var all CountResponse
	assert.Equal(t, http.StatusOK, f.do(t, "DELETE", "/api/incomplete", "", &all))
	assert.Equal(t, 0, all.Removed)
}

func TestTokenAuth(t *testing.T) {
	f := newFixture(t, "secret")

	var errResp ErrorResponse
	assert.Equal(t, http.StatusUnauthorized, f.do(t, "GET", "/api/downloads", "", &errResp))

	var health HealthResponse
	assert.Equal(t, http.StatusOK, f.do(t, "GET", "/api/health", "", &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.MaxConcurrent)

	req, err := http.NewRequest("GET", f.srv.URL+"/api/downloads", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(f.srv.URL + "/api/downloads?token=secret")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

type fullDisk struct{}

func (fullDisk) Load() (*checkpoint.Snapshot, error) { return nil, nil }
func (fullDisk) Save(*checkpoint.Snapshot) error     { return errors.New("no space left on device") }
func (fullDisk) Quarantine() (string, error)         { return "", nil }

func TestHealthReportsSnapshotFailures(t *testing.T) {
	m := queue.NewManager(queue.Options{MaxConcurrent: 1}, fullDisk{}, nil, nil, logger.NewNopLogger())
	srv := httptest.NewServer(NewServer(config.ServerConfig{}, m, logger.NewNopLogger()).Handler())
	defer srv.Close()
	f := &fixture{m: m, srv: srv}

	var health HealthResponse
	require.Equal(t, http.StatusOK, f.do(t, "GET", "/api/health", "", &health))
	assert.Equal(t, "ok", health.Status)
	assert.Zero(t, health.Persistence.Failures)

	require.Error(t, m.Flush())
	require.Error(t, m.Flush())
	require.Equal(t, http.StatusOK, f.do(t, "GET", "/api/health", "", &health))
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, 2, health.Persistence.Failures)
	assert.Equal(t, "no space left on device", health.Persistence.LastError)
}

func TestEventsStream(t *testing.T) {
	f := newFixture(t, "")

	resp, err := http.Get(f.srv.URL + "/api/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)

	f.do(t, "POST", "/api/downloads", `{"url":"https://example.com/a"}`, nil)

	var events []string
	deadline := time.Now().Add(2 * time.Second)
	for len(events) < 2 && time.Now().Before(deadline) {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "event: ") {
			events = append(events, strings.TrimSpace(strings.TrimPrefix(line, "event: ")))
		}
	}
	assert.Equal(t, []string{string(queue.NotifySubmitted), string(queue.NotifyAdmitted)}, events)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	store, err := checkpoint.NewManager(filepath.Join(t.TempDir(), "queue.json"), logger.NewNopLogger())
	require.NoError(t, err)
	m := queue.NewManager(queue.Options{MaxConcurrent: 1}, store, nil, nil, logger.NewNopLogger())
	s := NewServer(config.ServerConfig{ShutdownTimeout: time.Second}, m, logger.NewNopLogger())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/api/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
