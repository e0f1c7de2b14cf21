package downloader_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dlqueue/internal/api"
	"dlqueue/internal/downloader"
	"dlqueue/internal/queue"
	"dlqueue/pkg/checkpoint"
	"dlqueue/pkg/client"
	"dlqueue/pkg/config"
	"dlqueue/pkg/logger"
	"dlqueue/pkg/models"
	"dlqueue/pkg/ratelimit"
	"dlqueue/pkg/retry"
	"dlqueue/pkg/storage"
)

// mockCDN serves files by path and can fail a path a number of times
// before answering
type mockCDN struct {
	server   *httptest.Server
	requests atomic.Int32

	mu       sync.Mutex
	files    map[string]string
	failures map[string]int
}

func newMockCDN(t *testing.T) *mockCDN {
	m := &mockCDN{files: make(map[string]string), failures: make(map[string]int)}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(m.server.Close)
	return m
}

func (m *mockCDN) handle(w http.ResponseWriter, r *http.Request) {
	m.requests.Add(1)

	m.mu.Lock()
	body, ok := m.files[r.URL.Path]
	fail := m.failures[r.URL.Path]
	if fail > 0 {
		m.failures[r.URL.Path] = fail - 1
	}
	m.mu.Unlock()

	switch {
	case fail > 0:
		w.WriteHeader(http.StatusServiceUnavailable)
	case !ok:
		http.NotFound(w, r)
	default:
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte(body))
	}
}

func (m *mockCDN) add(path, body string, failures int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = body
	m.failures[path] = failures
	return m.server.URL + path
}

type daemon struct {
	client *client.Client
	outDir string
}

// startDaemon wires the same components as `dlqueue serve` against
// temporary directories
func startDaemon(t *testing.T, maxConcurrent int) *daemon {
	t.Helper()
	log := logger.NewNopLogger()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Queue.MaxConcurrent = maxConcurrent
	cfg.Download.OutputDir = filepath.Join(dir, "downloads")
	cfg.Download.Engine = downloader.EngineHTTP
	cfg.Download.ProgressInterval = 0

	store, err := checkpoint.NewManager(filepath.Join(dir, "queue.json"), log)
	require.NoError(t, err)
	files, err := storage.NewManager(cfg.Download.OutputDir)
	require.NoError(t, err)

	retryCfg := &retry.Config{
		MaxAttempts: 4,
		Backoff:     &retry.ConstantBackoff{Delay: 5 * time.Millisecond},
		Logger:      log,
	}
	limits := ratelimit.FromConfig(config.RateLimitConfig{RequestsPerMinute: 6000, BurstSize: 20})
	httpExec := downloader.NewHTTPExecutor(cfg.Download, nil, files, limits, retryCfg, log)
	router := downloader.NewRouter(cfg.Download, httpExec, nil, log)

	events := make(chan queue.Event, cfg.Queue.EventBuffer)
	pool := downloader.NewWorkerPool(maxConcurrent, router, events, 10*time.Second, log)
	manager := queue.NewManager(queue.OptionsFromConfig(cfg.Queue), store, pool, events, log)
	server := api.NewServer(cfg.Server, manager, log)

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	manager.Recover(ctx)
	done := make(chan struct{})
	go func() {
		_ = manager.Run(ctx)
		close(done)
	}()

	srv := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
		pool.Stop()
		_ = manager.Close()
	})

	c := client.New(config.ClientConfig{ServerURL: srv.URL, Timeout: 5 * time.Second}, "", log)
	return &daemon{client: c, outDir: cfg.Download.OutputDir}
}

// waitFinished polls until n jobs are in the finished set
func (d *daemon) waitFinished(t *testing.T, n int) queue.Status {
	t.Helper()
	var status queue.Status
	require.Eventually(t, func() bool {
		var err error
		status, err = d.client.Status(context.Background())
		return err == nil && status.CompletedCount == n && status.ActiveCount == 0
	}, 10*time.Second, 20*time.Millisecond)
	return status
}

func TestEndToEndDownloadsThroughAPI(t *testing.T) {
	cdn := newMockCDN(t)
	d := startDaemon(t, 2)
	ctx := context.Background()

	bodies := map[string]string{
		"one.bin":   strings.Repeat("1", 4096),
		"two.bin":   strings.Repeat("2", 1024),
		"three.bin": strings.Repeat("3", 2048),
	}
	var ids []string
	urls := make(map[string]string)
	for name, body := range bodies {
		failures := 0
		if name == "two.bin" {
			failures = 2
		}
		urls[name] = cdn.add("/media/"+name, body, failures)
		resp, err := d.client.Submit(ctx, models.Target{URL: urls[name]})
		require.NoError(t, err)
		ids = append(ids, resp.JobID)
	}

	status := d.waitFinished(t, 3)
	assert.Zero(t, status.QueuedCount)
	for _, job := range status.Completed {
		assert.Equal(t, models.StateCompleted, job.State, job.Target.URL)
		require.NotNil(t, job.Result)
		assert.InDelta(t, 100, job.Progress.Percent, 0.001)
	}

	for name, body := range bodies {
		data, err := os.ReadFile(filepath.Join(d.outDir, storage.FileName(urls[name])))
		require.NoError(t, err, name)
		assert.Equal(t, body, string(data), name)
	}
	assert.GreaterOrEqual(t, cdn.requests.Load(), int32(5), "two.bin was retried")

	job, err := d.client.Job(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, job.State)

	removed, err := d.client.ClearCompleted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
}

func TestEndToEndMissingFileFails(t *testing.T) {
	cdn := newMockCDN(t)
	d := startDaemon(t, 1)

	_, err := d.client.Submit(context.Background(), models.Target{URL: cdn.server.URL + "/missing.bin"})
	require.NoError(t, err)

	status := d.waitFinished(t, 1)
	require.Len(t, status.Completed, 1)
	failed := status.Completed[0]
	assert.Equal(t, models.StateFailed, failed.State)
	require.NotNil(t, failed.Result)
	assert.NotEmpty(t, failed.Result.Error)
	assert.Zero(t, status.IncompleteCount, "a failure before any progress is not resumable")
	assert.Equal(t, int32(1), cdn.requests.Load(), "404 is not retried")
}
