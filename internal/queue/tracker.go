package queue

import (
	"context"

	"dlqueue/pkg/logger"
	"dlqueue/pkg/models"
)

// maxBatch bounds how many queued events Run drains before applying them
const maxBatch = 128

// Run consumes executor events until ctx is done or the channel is closed.
// It also drives the snapshot writer, so it must be running for prompt
// persistence. Events already waiting are drained in batches and progress
// deltas of the same job are coalesced before being applied.
func (m *Manager) Run(ctx context.Context) error {
	logger.LogComponentStart(m.logger, "tracker", map[string]interface{}{
		"max_concurrent": m.opts.MaxConcurrent,
		"persist_every":  m.opts.PersistEvery,
	})
	defer logger.LogComponentStop(m.logger, "tracker", "context done")
	defer m.logMetrics()

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go m.writer.run(wctx)

	batch := make([]Event, 0, maxBatch)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-m.events:
			if !ok {
				return nil
			}
			batch = append(batch[:0], ev)
		drain:
			for len(batch) < maxBatch {
				select {
				case next, ok := <-m.events:
					if !ok {
						break drain
					}
					batch = append(batch, next)
				default:
					break drain
				}
			}
			for _, e := range coalesce(batch) {
				m.Handle(e)
			}
		}
	}
}

// Handle applies one executor event
func (m *Manager) Handle(ev Event) {
	switch ev.Kind {
	case EventProgress:
		n := ev.merged
		if n < 1 {
			n = 1
		}
		m.applyProgress(ev.JobID, ev.Delta, n)
	case EventStage:
		m.ReportStage(ev.JobID, ev.Stage)
	case EventInfo:
		m.ReportInfo(ev.JobID, ev.Info)
	case EventSucceeded:
		m.Complete(ev.JobID, ev.Payload)
	case EventFailed:
		m.Fail(ev.JobID, ev.Err)
	default:
		m.logger.WarnWithFields("Unknown executor event", map[string]interface{}{
			"job_id": ev.JobID,
			"kind":   int(ev.Kind),
		})
	}
}

// ReportProgress merges delta into an active job. It reports whether the
// job was active; late events for finished jobs change nothing.
func (m *Manager) ReportProgress(id string, delta models.ProgressDelta) bool {
	return m.applyProgress(id, delta, 1)
}

func (m *Manager) applyProgress(id string, delta models.ProgressDelta, n int) bool {
	var fx effects
	m.mu.Lock()
	job, s := m.reg.get(id)
	if job == nil || s != setActive {
		m.mu.Unlock()
		m.logger.DebugWithFields("Dropping late progress event", map[string]interface{}{
			"job_id": id,
			"set":    s.String(),
		})
		return false
	}

	job.Progress = delta.Apply(job.Progress)
	if job.State == models.StateStarting {
		job.State = models.StateRunning
		fx.persist = true
	}
	fx.progress = n
	fx.note(NotifyProgress, job, "")
	m.release(fx)
	return true
}

// ReportInfo records what the executor learned about the media, such as
// its title. Like progress it only applies to active jobs.
func (m *Manager) ReportInfo(id string, info models.MediaInfo) bool {
	var fx effects
	m.mu.Lock()
	job, s := m.reg.get(id)
	if job == nil || s != setActive {
		m.mu.Unlock()
		m.logger.DebugWithFields("Dropping late info event", map[string]interface{}{
			"job_id": id,
			"set":    s.String(),
		})
		return false
	}
	if !job.ApplyInfo(info) {
		m.mu.Unlock()
		return false
	}
	fx.progress = 1
	fx.note(NotifyInfo, job, job.Title)
	m.release(fx)
	return true
}

// ReportStage moves an active job to Running or Finalizing. Finalizing is
// one-way; a job never goes back to Running.
func (m *Manager) ReportStage(id string, stage models.State) bool {
	var fx effects
	m.mu.Lock()
	job, s := m.reg.get(id)
	if job == nil || s != setActive {
		m.mu.Unlock()
		m.logger.DebugWithFields("Dropping late stage event", map[string]interface{}{
			"job_id": id,
			"stage":  string(stage),
		})
		return false
	}

	changed := false
	switch stage {
	case models.StateRunning:
		changed = job.State == models.StateStarting
	case models.StateFinalizing:
		changed = job.State != models.StateFinalizing
	default:
		m.mu.Unlock()
		m.logger.WarnWithFields("Executor reported an invalid stage", map[string]interface{}{
			"job_id": id,
			"stage":  string(stage),
		})
		return false
	}
	if !changed {
		m.mu.Unlock()
		return false
	}

	job.State = stage
	fx.persist = true
	fx.note(NotifyStage, job, string(stage))
	m.release(fx)
	return true
}

// Complete retires an active job as Completed with the executor's payload
func (m *Manager) Complete(id, payload string) bool {
	var fx effects
	m.mu.Lock()
	ok := m.retireLocked(id, outcome{ok: true, payload: payload}, &fx)
	m.release(fx)
	if ok {
		m.logger.InfoWithFields("Job completed", map[string]interface{}{
			"job_id":  id,
			"payload": payload,
		})
	}
	return ok
}

// Fail retires an active job after an executor failure. A job with partial
// progress becomes Interrupted and stays resumable; one without progress is
// recorded as Failed and a discarded notification is published.
func (m *Manager) Fail(id, msg string) bool {
	var fx effects
	m.mu.Lock()
	ok := m.retireLocked(id, outcome{err: msg}, &fx)
	m.release(fx)
	if ok {
		m.logger.WarnWithFields("Job failed", map[string]interface{}{
			"job_id": id,
			"error":  msg,
		})
	}
	return ok
}

func (m *Manager) logMetrics() {
	stats := m.Stats()
	persist := m.Persistence()
	logger.LogMetrics(m.logger, "tracker", map[string]interface{}{
		"subscribers":       stats.Subscribers,
		"published":         stats.Published,
		"dropped":           stats.Dropped,
		"snapshot_failures": persist.Failures,
	})
}
