package queue

import (
	"context"
	"sync"
	"time"

	"dlqueue/pkg/checkpoint"
	"dlqueue/pkg/logger"
)

// Store is the durable home of the registry snapshot
type Store interface {
	Load() (*checkpoint.Snapshot, error)
	Save(*checkpoint.Snapshot) error
	Quarantine() (string, error)
}

// PersistenceStatus reports whether snapshot writes are succeeding
type PersistenceStatus struct {
	Failures  int    `json:"failures"`
	LastError string `json:"last_error,omitempty"`
}

// snapshotWriter decides when the registry is written to the Store.
// State transitions request a prompt write; progress only marks the
// snapshot dirty and is written on the next tick or once every events
// have accumulated. The snapshot itself is taken at write time so every
// write carries the latest in-memory state.
type snapshotWriter struct {
	store    Store
	capture  func() *checkpoint.Snapshot
	interval time.Duration
	every    int
	logger   logger.Logger

	kick chan struct{}

	mu       sync.Mutex
	dirty    bool
	progress int
	failures int
	lastErr  error

	// writeMu serializes Save calls so snapshots never race on disk
	writeMu sync.Mutex
}

func newSnapshotWriter(store Store, capture func() *checkpoint.Snapshot, interval time.Duration, every int, log logger.Logger) *snapshotWriter {
	return &snapshotWriter{
		store:    store,
		capture:  capture,
		interval: interval,
		every:    every,
		logger:   log,
		kick:     make(chan struct{}, 1),
	}
}

// transition requests a prompt write
func (w *snapshotWriter) transition() {
	w.mu.Lock()
	w.dirty = true
	w.mu.Unlock()
	w.signal()
}

// progressed records n coalesced progress events
func (w *snapshotWriter) progressed(n int) {
	w.mu.Lock()
	w.dirty = true
	w.progress += n
	due := w.progress >= w.every
	w.mu.Unlock()
	if due {
		w.signal()
	}
}

func (w *snapshotWriter) signal() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func (w *snapshotWriter) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.kick:
			w.writeIfDirty()
		case <-ticker.C:
			w.writeIfDirty()
		}
	}
}

func (w *snapshotWriter) writeIfDirty() {
	w.mu.Lock()
	dirty := w.dirty
	w.mu.Unlock()
	if dirty {
		_ = w.flush()
	}
}

// flush writes the current snapshot synchronously
func (w *snapshotWriter) flush() error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.Lock()
	w.dirty = false
	pending := w.progress
	w.progress = 0
	w.mu.Unlock()

	snap := w.capture()
	err := w.store.Save(snap)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		// the next write reconciles; memory stays authoritative
		w.dirty = true
		w.progress += pending
		w.failures++
		w.lastErr = err
		w.logger.WithError(err).ErrorWithFields("Failed to write queue snapshot", map[string]interface{}{
			"failures": w.failures,
		})
		return err
	}
	if w.failures > 0 {
		w.logger.InfoWithFields("Queue snapshot writes recovered", map[string]interface{}{
			"failures": w.failures,
		})
	}
	w.failures = 0
	w.lastErr = nil
	return nil
}

func (w *snapshotWriter) status() PersistenceStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := PersistenceStatus{Failures: w.failures}
	if w.lastErr != nil {
		st.LastError = w.lastErr.Error()
	}
	return st
}

func (w *snapshotWriter) isDirty() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dirty
}
