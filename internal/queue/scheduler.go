package queue

import (
	"dlqueue/pkg/models"
)

// admitLocked moves queued jobs into free slots in FIFO order. Popping the
// queue head and inserting into the active set happen in the same critical
// section, so two retirements can never admit the same job twice.
func (m *Manager) admitLocked() []*models.Job {
	var admitted []*models.Job
	for m.reg.count(setActive) < m.opts.MaxConcurrent {
		job, ok := m.reg.popQueued()
		if !ok {
			break
		}
		now := m.opts.Now().UTC()
		job.State = models.StateStarting
		job.QueuePosition = 0
		job.StartedAt = &now
		m.reg.add(job, setActive)
		admitted = append(admitted, job)
	}
	m.recomputePositionsLocked()
	return admitted
}

// outcome is how an executor finished a job
type outcome struct {
	ok      bool
	payload string
	err     string
}

// retireLocked records the terminal outcome of an active job and backfills
// the freed slot. Terminal events for jobs that are not active are ignored.
func (m *Manager) retireLocked(id string, out outcome, fx *effects) bool {
	job, s := m.reg.get(id)
	if job == nil || s != setActive {
		fx.debug("Ignoring terminal event for inactive job", map[string]interface{}{
			"job_id":  id,
			"set":     s.String(),
			"success": out.ok,
		})
		return false
	}

	now := m.opts.Now().UTC()
	switch {
	case out.ok:
		job.State = models.StateCompleted
		job.Progress.Percent = 100
		job.Result = &models.Result{Payload: out.payload}
		job.CompletedAt = &now
		m.reg.move(id, setFinished)
		fx.note(NotifyCompleted, job, out.payload)

	case job.Progress.Percent > 0:
		// partial data exists, keep it resumable
		job.State = models.StateInterrupted
		job.Result = &models.Result{Error: out.err}
		m.reg.move(id, setIncomplete)
		fx.note(NotifyFailed, job, out.err)
		fx.note(NotifyInterrupted, job, out.err)

	default:
		job.State = models.StateFailed
		job.Result = &models.Result{Error: out.err}
		job.CompletedAt = &now
		m.reg.move(id, setFinished)
		fx.note(NotifyFailed, job, out.err)
		fx.note(NotifyDiscarded, job, "failed before any progress, nothing to resume")
	}

	fx.persist = true
	fx.admitted(m.admitLocked())
	return true
}

// recomputePositionsLocked assigns 1-based positions in queue order
func (m *Manager) recomputePositionsLocked() {
	for i, id := range m.reg.ids(setQueued) {
		m.reg.jobs[id].QueuePosition = i + 1
	}
}
