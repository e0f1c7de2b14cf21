package downloader

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"dlqueue/internal/queue"
	"dlqueue/pkg/logger"
	"dlqueue/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan queue.Event) queue.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return queue.Event{}
	}
}

func TestWorkerPoolReportsProgressAndOutcome(t *testing.T) {
	events := make(chan queue.Event, 16)
	exec := ExecutorFunc(func(ctx context.Context, job models.Job, emit Emitter) (string, error) {
		emit.Progress(models.ProgressDelta{Percent: models.Float64(50)})
		emit.Stage(models.StateFinalizing)
		if job.ID == "bad" {
			return "", errors.New("404 not found")
		}
		return "/downloads/" + job.ID, nil
	})

	pool := NewWorkerPool(2, exec, events, 0, logger.NewNopLogger())
	pool.Start(context.Background())
	defer pool.Stop()

	pool.Dispatch(testJob("good", "https://example.com/a"))
	ev := receive(t, events)
	assert.Equal(t, queue.EventProgress, ev.Kind)
	assert.Equal(t, "good", ev.JobID)
	assert.Equal(t, queue.EventStage, receive(t, events).Kind)
	done := receive(t, events)
	assert.Equal(t, queue.EventSucceeded, done.Kind)
	assert.Equal(t, "/downloads/good", done.Payload)

	pool.Dispatch(testJob("bad", "https://example.com/b"))
	receive(t, events)
	receive(t, events)
	failed := receive(t, events)
	assert.Equal(t, queue.EventFailed, failed.Kind)
	assert.Equal(t, "404 not found", failed.Err)
}

func TestWorkerPoolRecoversPanics(t *testing.T) {
	events := make(chan queue.Event, 4)
	exec := ExecutorFunc(func(context.Context, models.Job, Emitter) (string, error) {
		panic("boom")
	})
	pool := NewWorkerPool(1, exec, events, 0, logger.NewNopLogger())
	pool.Start(context.Background())
	defer pool.Stop()

	pool.Dispatch(testJob("p", "https://example.com/p"))
	ev := receive(t, events)
	assert.Equal(t, queue.EventFailed, ev.Kind)
	assert.Contains(t, ev.Err, "panicked")
}

func TestWorkerPoolTimeout(t *testing.T) {
	events := make(chan queue.Event, 4)
	exec := ExecutorFunc(func(ctx context.Context, _ models.Job, _ Emitter) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	pool := NewWorkerPool(1, exec, events, 20*time.Millisecond, logger.NewNopLogger())
	pool.Start(context.Background())
	defer pool.Stop()

	pool.Dispatch(testJob("slow", "https://example.com/slow"))
	ev := receive(t, events)
	assert.Equal(t, queue.EventFailed, ev.Kind)
	assert.Contains(t, ev.Err, "timed out")
}

func TestWorkerPoolDropsOutcomesOnShutdown(t *testing.T) {
	events := make(chan queue.Event, 4)
	var running atomic.Int32
	exec := ExecutorFunc(func(ctx context.Context, _ models.Job, _ Emitter) (string, error) {
		running.Add(1)
		<-ctx.Done()
		return "", ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	pool := NewWorkerPool(1, exec, events, 0, logger.NewNopLogger())
	pool.Start(ctx)

	pool.Dispatch(testJob("a", "https://example.com/a"))
	require.Eventually(t, func() bool { return running.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, pool.Busy())

	cancel()
	pool.Stop()
	assert.Empty(t, events)
	assert.Equal(t, 0, pool.Busy())
}

func TestWorkerPoolRunsUpToNumWorkersConcurrently(t *testing.T) {
	events := make(chan queue.Event, 16)
	release := make(chan struct{})
	var running, peak atomic.Int32
	exec := ExecutorFunc(func(ctx context.Context, _ models.Job, _ Emitter) (string, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return "ok", nil
	})

	pool := NewWorkerPool(3, exec, events, 0, logger.NewNopLogger())
	pool.Start(context.Background())
	defer pool.Stop()

	for _, id := range []string{"1", "2", "3"} {
		pool.Dispatch(testJob(id, "https://example.com/"+id))
	}
	require.Eventually(t, func() bool { return running.Load() == 3 }, 2*time.Second, 5*time.Millisecond)
	close(release)

	for i := 0; i < 3; i++ {
		assert.Equal(t, queue.EventSucceeded, receive(t, events).Kind)
	}
	assert.Equal(t, int32(3), peak.Load())
	assert.Equal(t, 3, pool.Workers())
}
