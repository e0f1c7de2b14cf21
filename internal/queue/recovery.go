package queue

import (
	"context"
	"errors"
	"fmt"

	"dlqueue/pkg/checkpoint"
	apperrors "dlqueue/pkg/errors"
	"dlqueue/pkg/models"
)

// RecoveryReport summarizes what Recover did with the stored snapshot
type RecoveryReport struct {
	Interrupted int    `json:"interrupted"`
	Discarded   int    `json:"discarded"`
	Queued      int    `json:"queued"`
	Incomplete  int    `json:"incomplete"`
	Admitted    int    `json:"admitted"`
	Duplicates  int    `json:"duplicates"`
	Quarantined string `json:"quarantined,omitempty"`
}

// Recover rebuilds the registry from the stored snapshot. A missing or
// unreadable snapshot never stops startup: it yields an empty registry and
// a corrupt file is moved aside. Jobs that were active at the last snapshot
// become Interrupted when they had made progress and are discarded
// otherwise. Queued jobs keep their order and are admitted as capacity
// allows.
func (m *Manager) Recover(ctx context.Context) RecoveryReport {
	var report RecoveryReport
	snap := m.loadSnapshot(ctx, &report)

	var fx effects
	m.mu.Lock()
	if snap != nil {
		for i := range snap.Active {
			job := snap.Active[i]
			if !m.acceptRecoveredLocked(&job, &report, &fx) {
				continue
			}
			if job.Progress.Percent > 0 {
				job.State = models.StateInterrupted
				job.QueuePosition = 0
				m.reg.add(&job, setIncomplete)
				report.Interrupted++
				fx.note(NotifyInterrupted, &job, "process stopped while downloading")
				continue
			}
			report.Discarded++
			fx.note(NotifyDiscarded, &job, "process stopped before any progress")
		}

		for i := range snap.Queue {
			job := snap.Queue[i]
			if !m.acceptRecoveredLocked(&job, &report, &fx) {
				continue
			}
			job.State = models.StateQueued
			job.StartedAt = nil
			m.reg.add(&job, setQueued)
			report.Queued++
		}

		for i := range snap.Incomplete {
			job := snap.Incomplete[i]
			if !m.acceptRecoveredLocked(&job, &report, &fx) {
				continue
			}
			job.State = models.StateInterrupted
			job.QueuePosition = 0
			m.reg.add(&job, setIncomplete)
			report.Incomplete++
		}
	}

	admitted := m.admitLocked()
	report.Admitted = len(admitted)
	fx.admitted(admitted)
	fx.persist = true
	fx.notes = append(fx.notes, Notification{
		Type:    NotifyRecovered,
		Count:   report.Interrupted + report.Queued + report.Incomplete,
		Message: fmt.Sprintf("%d interrupted, %d discarded, %d queued", report.Interrupted, report.Discarded, report.Queued),
	})
	m.release(fx)

	m.logger.InfoWithFields("Queue recovered", map[string]interface{}{
		"interrupted": report.Interrupted,
		"discarded":   report.Discarded,
		"queued":      report.Queued,
		"incomplete":  report.Incomplete,
		"admitted":    report.Admitted,
		"duplicates":  report.Duplicates,
	})
	return report
}

func (m *Manager) loadSnapshot(ctx context.Context, report *RecoveryReport) *checkpoint.Snapshot {
	if err := ctx.Err(); err != nil {
		return nil
	}

	snap, err := m.writer.store.Load()
	if err == nil {
		if snap.Empty() {
			m.logger.Debug("No saved queue to restore")
		}
		return snap
	}

	m.logger.WithError(err).Warn("Could not read queue snapshot, starting empty")
	if errors.Is(err, checkpoint.ErrCorrupt) || errors.Is(err, checkpoint.ErrUnsupportedVersion) {
		dest, qerr := m.writer.store.Quarantine()
		if qerr != nil {
			m.logger.WithError(qerr).Error("Failed to move unreadable snapshot aside")
		}
		report.Quarantined = dest
	}
	return nil
}

// acceptRecoveredLocked rejects jobs without an id or whose id was already
// restored from another set.
func (m *Manager) acceptRecoveredLocked(job *models.Job, report *RecoveryReport, fx *effects) bool {
	if job.ID == "" || m.reg.has(job.ID) {
		report.Duplicates++
		fx.warn("Skipping duplicate job in snapshot", map[string]interface{}{
			"job_id": job.ID,
		})
		return false
	}
	return true
}

// Resume replaces an interrupted job with a fresh one for the same target.
// The old entry is deleted in the same critical section that creates the
// new job, so both are never visible together.
func (m *Manager) Resume(id string) (models.Job, error) {
	var fx effects
	m.mu.Lock()
	old, s := m.reg.get(id)
	if old == nil || s != setIncomplete {
		m.mu.Unlock()
		return models.Job{}, apperrors.WithDetail(apperrors.ErrJobNotFound, "no interrupted job "+id)
	}
	if m.opts.RejectDuplicates {
		if dup := m.reg.findPending(old.Target); dup != nil {
			existing := dup.Clone()
			m.mu.Unlock()
			return models.Job{}, &DuplicateError{Existing: existing}
		}
	}

	m.reg.remove(id)
	job := m.enqueueLocked(old.Target)
	job.ApplyInfo(models.MediaInfo{Title: old.Title, Thumbnail: old.Thumbnail})
	admitted := m.admitLocked()
	fx.persist = true
	fx.note(NotifyResumed, job, id)
	fx.admitted(admitted)
	out := job.Clone()
	m.release(fx)

	m.logger.InfoWithFields("Interrupted job resumed", map[string]interface{}{
		"old_job_id": id,
		"job_id":     out.ID,
		"state":      string(out.State),
	})
	return out, nil
}
