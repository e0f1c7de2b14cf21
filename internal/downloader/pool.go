package downloader

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"dlqueue/internal/queue"
	"dlqueue/pkg/logger"
	"dlqueue/pkg/models"
)

// WorkerPool runs admitted jobs on a fixed number of workers and reports
// their progress and outcome to the queue as events. It implements
// queue.Dispatcher.
type WorkerPool struct {
	numWorkers int
	jobQueue   chan models.Job
	events     chan<- queue.Event
	executor   Executor
	timeout    time.Duration
	logger     logger.Logger

	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	busy    atomic.Int32
	started atomic.Bool
}

// NewWorkerPool creates a pool of numWorkers workers. timeout bounds a
// single job; zero disables it.
func NewWorkerPool(
	numWorkers int,
	executor Executor,
	events chan<- queue.Event,
	timeout time.Duration,
	log logger.Logger,
) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		numWorkers: numWorkers,
		// The queue never has more admitted jobs than workers, so a buffer of
		// numWorkers keeps Dispatch from blocking.
		jobQueue: make(chan models.Job, numWorkers),
		events:   events,
		executor: executor,
		timeout:  timeout,
		logger:   logger.OrDefault(log).WithField("component", "pool"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the workers. They stop when ctx is done or Stop is called.
func (wp *WorkerPool) Start(ctx context.Context) {
	if !wp.started.CompareAndSwap(false, true) {
		return
	}
	logger.LogComponentStart(wp.logger, "pool", map[string]interface{}{
		"num_workers": wp.numWorkers,
		"timeout":     wp.timeout.String(),
	})

	go func() {
		select {
		case <-ctx.Done():
			wp.cancel()
		case <-wp.ctx.Done():
		}
	}()

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop cancels running executors and waits for the workers to exit.
// Outcomes of cancelled jobs are dropped so they stay active in the
// persisted snapshot and are recovered as interrupted.
func (wp *WorkerPool) Stop() {
	wp.cancel()
	wp.wg.Wait()
	logger.LogComponentStop(wp.logger, "pool", "stopped")
}

// Dispatch hands an admitted job to the workers
func (wp *WorkerPool) Dispatch(job models.Job) {
	select {
	case wp.jobQueue <- job:
		wp.logger.DebugWithFields("Job dispatched", map[string]interface{}{
			"job_id": job.ID,
			"url":    job.Target.URL,
		})
	case <-wp.ctx.Done():
		wp.logger.WarnWithFields("Dispatch after shutdown ignored", map[string]interface{}{
			"job_id": job.ID,
		})
	default:
		// Buffer full only if the pool is misconfigured against the queue.
		wp.logger.WarnWithFields("Worker pool saturated, dispatch deferred", map[string]interface{}{
			"job_id": job.ID,
		})
		go func() {
			select {
			case wp.jobQueue <- job:
			case <-wp.ctx.Done():
			}
		}()
	}
}

// Busy returns how many workers are executing a job
func (wp *WorkerPool) Busy() int {
	return int(wp.busy.Load())
}

// Workers returns the pool size
func (wp *WorkerPool) Workers() int {
	return wp.numWorkers
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.DebugWithFields("Worker stopping", map[string]interface{}{
				"worker_id": id,
			})
			return
		case job := <-wp.jobQueue:
			wp.busy.Add(1)
			wp.process(id, job)
			wp.busy.Add(-1)
		}
	}
}

func (wp *WorkerPool) process(workerID int, job models.Job) {
	start := time.Now()
	log := wp.logger.WithFields(map[string]interface{}{
		"worker_id": workerID,
		"job_id":    job.ID,
	})
	log.DebugWithFields("Worker processing job", map[string]interface{}{
		"url":    job.Target.URL,
		"format": string(job.Target.Format),
	})

	ctx := wp.ctx
	if wp.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wp.timeout)
		defer cancel()
	}

	payload, err := wp.execute(ctx, job)

	if wp.ctx.Err() != nil {
		log.Debug("Outcome dropped during shutdown")
		return
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("download timed out after %s: %w", wp.timeout, err)
		}
		logger.LogDownload(log, job.ID, job.Target.URL, false, err)
		wp.send(queue.FailedEvent(job.ID, err.Error()))
		return
	}

	log.DebugWithFields("Worker completed job", map[string]interface{}{
		"duration": time.Since(start).String(),
		"payload":  payload,
	})
	logger.LogDownload(log, job.ID, job.Target.URL, true, nil)
	wp.send(queue.SucceededEvent(job.ID, payload))
}

func (wp *WorkerPool) execute(ctx context.Context, job models.Job) (payload string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panicked: %v", r)
		}
	}()
	return wp.executor.Execute(ctx, job, &eventEmitter{pool: wp, jobID: job.ID})
}

func (wp *WorkerPool) send(ev queue.Event) {
	select {
	case wp.events <- ev:
	case <-wp.ctx.Done():
	}
}

type eventEmitter struct {
	pool  *WorkerPool
	jobID string
}

func (e *eventEmitter) Progress(delta models.ProgressDelta) {
	if delta.IsEmpty() {
		return
	}
	e.pool.send(queue.ProgressEvent(e.jobID, delta))
}

func (e *eventEmitter) Stage(state models.State) {
	e.pool.send(queue.StageEvent(e.jobID, state))
}

func (e *eventEmitter) Info(info models.MediaInfo) {
	if info.IsEmpty() {
		return
	}
	e.pool.send(queue.InfoEvent(e.jobID, info))
}
