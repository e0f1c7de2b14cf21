package queue

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"dlqueue/pkg/checkpoint"
	"dlqueue/pkg/config"
	apperrors "dlqueue/pkg/errors"
	"dlqueue/pkg/logger"
	"dlqueue/pkg/models"

	"github.com/google/uuid"
)

// Dispatcher starts executing an admitted job. It is called outside the
// registry lock and must not block for the duration of the download.
type Dispatcher interface {
	Dispatch(job models.Job)
}

// DispatcherFunc adapts a function to Dispatcher
type DispatcherFunc func(job models.Job)

func (f DispatcherFunc) Dispatch(job models.Job) { f(job) }

// Options configures a Manager
type Options struct {
	MaxConcurrent    int
	RejectDuplicates bool
	PersistInterval  time.Duration
	PersistEvery     int

	// Now and NewID default to time.Now and UUIDv7 strings
	Now   func() time.Time
	NewID func() string
}

// OptionsFromConfig maps the queue section of the configuration
func OptionsFromConfig(cfg config.QueueConfig) Options {
	return Options{
		MaxConcurrent:    cfg.MaxConcurrent,
		RejectDuplicates: cfg.RejectDuplicates,
		PersistInterval:  cfg.PersistInterval,
		PersistEvery:     cfg.PersistEvery,
	}
}

func (o *Options) setDefaults() {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 1
	}
	if o.PersistInterval <= 0 {
		o.PersistInterval = 2 * time.Second
	}
	if o.PersistEvery <= 0 {
		o.PersistEvery = 50
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = func() string { return uuid.Must(uuid.NewV7()).String() }
	}
}

// Manager is the job registry together with its scheduler, progress
// tracker and recovery coordinator.
type Manager struct {
	opts       Options
	dispatcher Dispatcher
	events     <-chan Event
	logger     logger.Logger

	mu  sync.Mutex
	reg *registry
	seq uint64

	// pubMu is taken before mu is released so notifications leave in the
	// order their changes were made
	pubMu sync.Mutex

	writer *snapshotWriter
	broker *broker
}

// NewManager creates a Manager. events is the channel executors report on
// and is consumed by Run; dispatcher receives every admitted job.
func NewManager(opts Options, store Store, dispatcher Dispatcher, events <-chan Event, log logger.Logger) *Manager {
	opts.setDefaults()
	m := &Manager{
		opts:       opts,
		dispatcher: dispatcher,
		events:     events,
		logger:     logger.OrDefault(log).WithField("component", "queue"),
		reg:        newRegistry(),
		broker:     newBroker(),
	}
	m.writer = newSnapshotWriter(store, m.captureSnapshot, opts.PersistInterval, opts.PersistEvery, m.logger)
	return m
}

// MaxConcurrent returns the admission limit
func (m *Manager) MaxConcurrent() int {
	return m.opts.MaxConcurrent
}

// effects are collected under the lock and carried out after it is released
type effects struct {
	persist  bool
	progress int
	dispatch []models.Job
	notes    []Notification
	logs     []logEntry
}

// logEntry is a log line decided under the lock and written after it
type logEntry struct {
	warn   bool
	msg    string
	fields map[string]interface{}
}

func (fx *effects) note(t NotificationType, job *models.Job, msg string) {
	n := Notification{Type: t, Message: msg}
	if job != nil {
		c := job.Clone()
		n.JobID = c.ID
		n.Job = &c
	}
	fx.notes = append(fx.notes, n)
}

func (fx *effects) admitted(jobs []*models.Job) {
	for _, j := range jobs {
		fx.dispatch = append(fx.dispatch, j.Clone())
		fx.note(NotifyAdmitted, j, "")
	}
}

func (fx *effects) debug(msg string, fields map[string]interface{}) {
	fx.logs = append(fx.logs, logEntry{msg: msg, fields: fields})
}

func (fx *effects) warn(msg string, fields map[string]interface{}) {
	fx.logs = append(fx.logs, logEntry{warn: true, msg: msg, fields: fields})
}

// release unlocks the registry and carries out fx. It must be called with
// mu held.
func (m *Manager) release(fx effects) {
	now := m.opts.Now()
	for i := range fx.notes {
		m.seq++
		fx.notes[i].Seq = m.seq
		fx.notes[i].Time = now
	}
	m.pubMu.Lock()
	m.mu.Unlock()
	for _, n := range fx.notes {
		m.broker.publish(n)
	}
	m.pubMu.Unlock()

	if fx.persist {
		m.writer.transition()
	} else if fx.progress > 0 {
		m.writer.progressed(fx.progress)
	}

	if m.dispatcher != nil {
		for _, j := range fx.dispatch {
			m.dispatcher.Dispatch(j)
		}
	}

	for _, l := range fx.logs {
		if l.warn {
			m.logger.WarnWithFields(l.msg, l.fields)
		} else {
			m.logger.DebugWithFields(l.msg, l.fields)
		}
	}
}

func (m *Manager) captureSnapshot() *checkpoint.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reg.snapshot()
}

// ValidateTarget checks that a normalized target can be downloaded
func ValidateTarget(t models.Target) error {
	if t.URL == "" {
		return apperrors.WithDetail(apperrors.ErrInvalidTarget, "url is required")
	}
	u, err := url.Parse(t.URL)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalidTarget, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return apperrors.WithDetail(apperrors.ErrInvalidTarget, fmt.Sprintf("unsupported scheme %q", u.Scheme))
	}
	if u.Host == "" {
		return apperrors.WithDetail(apperrors.ErrInvalidTarget, "url has no host")
	}
	switch t.Format {
	case models.FormatVideo, models.FormatAudio:
	default:
		return apperrors.WithDetail(apperrors.ErrInvalidTarget, fmt.Sprintf("unknown format %q", t.Format))
	}
	return nil
}

// DuplicateError is returned by Submit and Resume when the same target is
// already queued or running. It matches apperrors.ErrDuplicateJob.
type DuplicateError struct {
	Existing models.Job
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s: job %s (%s)", apperrors.ErrDuplicateJob.Message, e.Existing.ID, e.Existing.State)
}

func (e *DuplicateError) Unwrap() error {
	return apperrors.ErrDuplicateJob
}

// Submit registers a new job and admits it if a slot is free. The returned
// job reflects the state after the admission decision.
func (m *Manager) Submit(target models.Target) (models.Job, error) {
	target = target.Normalize()
	if err := ValidateTarget(target); err != nil {
		return models.Job{}, err
	}

	var fx effects
	m.mu.Lock()
	if m.opts.RejectDuplicates {
		if dup := m.reg.findPending(target); dup != nil {
			existing := dup.Clone()
			m.mu.Unlock()
			return models.Job{}, &DuplicateError{Existing: existing}
		}
	}
	job := m.enqueueLocked(target)
	fx.persist = true
	admitted := m.admitLocked()
	fx.note(NotifySubmitted, job, "")
	fx.admitted(admitted)
	out := job.Clone()
	m.release(fx)

	m.logger.InfoWithFields("Job submitted", map[string]interface{}{
		"job_id":         out.ID,
		"url":            out.Target.URL,
		"format":         out.Target.Format,
		"state":          string(out.State),
		"queue_position": out.QueuePosition,
	})
	return out, nil
}

func (m *Manager) enqueueLocked(target models.Target) *models.Job {
	job := &models.Job{
		ID:        m.opts.NewID(),
		Target:    target,
		State:     models.StateQueued,
		CreatedAt: m.opts.Now().UTC(),
	}
	m.reg.add(job, setQueued)
	return job
}

// Get returns a copy of the job with the given id
func (m *Manager) Get(id string) (models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, _ := m.reg.get(id)
	if job == nil {
		return models.Job{}, apperrors.ErrJobNotFound
	}
	return job.Clone(), nil
}

// Progress returns the progress of a known job
func (m *Manager) Progress(id string) (models.Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, _ := m.reg.get(id)
	if job == nil {
		return models.Progress{}, apperrors.ErrJobNotFound
	}
	return job.Progress, nil
}

func (m *Manager) list(s set) []models.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reg.list(s)
}

func (m *Manager) ListActive() []models.Job      { return m.list(setActive) }
func (m *Manager) ListQueued() []models.Job      { return m.list(setQueued) }
func (m *Manager) ListInterrupted() []models.Job { return m.list(setIncomplete) }
func (m *Manager) ListCompleted() []models.Job   { return m.list(setFinished) }

// Status is a consistent view of every set taken under one lock acquisition
type Status struct {
	ActiveCount     int          `json:"active_count"`
	QueuedCount     int          `json:"queued_count"`
	IncompleteCount int          `json:"incomplete_count"`
	CompletedCount  int          `json:"completed_count"`
	MaxConcurrent   int          `json:"max_concurrent"`
	Active          []models.Job `json:"active"`
	Queued          []models.Job `json:"queued"`
	Incomplete      []models.Job `json:"incomplete"`
	Completed       []models.Job `json:"completed"`
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		ActiveCount:     m.reg.count(setActive),
		QueuedCount:     m.reg.count(setQueued),
		IncompleteCount: m.reg.count(setIncomplete),
		CompletedCount:  m.reg.count(setFinished),
		MaxConcurrent:   m.opts.MaxConcurrent,
		Active:          m.reg.list(setActive),
		Queued:          m.reg.list(setQueued),
		Incomplete:      m.reg.list(setIncomplete),
		Completed:       m.reg.list(setFinished),
	}
}

// ClearCompleted drops every finished job and returns how many were removed
func (m *Manager) ClearCompleted() int {
	var fx effects
	m.mu.Lock()
	n := m.reg.clear(setFinished)
	if n > 0 {
		fx.persist = true
		fx.notes = append(fx.notes, Notification{Type: NotifyCleared, Count: n})
	}
	m.release(fx)
	if n > 0 {
		m.logger.InfoWithFields("Cleared finished jobs", map[string]interface{}{"count": n})
	}
	return n
}

// DeleteInterrupted removes one resumable job
func (m *Manager) DeleteInterrupted(id string) error {
	var fx effects
	m.mu.Lock()
	job, s := m.reg.get(id)
	if job == nil || s != setIncomplete {
		m.mu.Unlock()
		return apperrors.ErrJobNotFound
	}
	m.reg.remove(id)
	fx.persist = true
	fx.note(NotifyDeleted, job, "")
	m.release(fx)
	m.logger.InfoWithFields("Interrupted job deleted", map[string]interface{}{"job_id": id})
	return nil
}

// DeleteAllInterrupted removes every resumable job
func (m *Manager) DeleteAllInterrupted() int {
	var fx effects
	m.mu.Lock()
	n := m.reg.clear(setIncomplete)
	if n > 0 {
		fx.persist = true
		fx.notes = append(fx.notes, Notification{Type: NotifyDeleted, Count: n})
	}
	m.release(fx)
	return n
}

// Cancel removes a job that has not started yet. Active jobs cannot be
// cancelled.
func (m *Manager) Cancel(id string) (models.Job, error) {
	var fx effects
	m.mu.Lock()
	job, s := m.reg.get(id)
	switch {
	case job == nil:
		m.mu.Unlock()
		return models.Job{}, apperrors.ErrJobNotFound
	case s != setQueued:
		m.mu.Unlock()
		return models.Job{}, apperrors.WithDetail(apperrors.ErrNotCancellable, fmt.Sprintf("job is %s", job.State))
	}

	now := m.opts.Now().UTC()
	job.State = models.StateCancelled
	job.QueuePosition = 0
	job.CompletedAt = &now
	m.reg.move(id, setFinished)
	m.recomputePositionsLocked()
	fx.persist = true
	fx.note(NotifyCancelled, job, "")
	out := job.Clone()
	m.release(fx)
	m.logger.InfoWithFields("Job cancelled", map[string]interface{}{"job_id": id})
	return out, nil
}

// Subscribe registers an observer. The returned function unsubscribes and
// closes the channel.
func (m *Manager) Subscribe(buffer int) (<-chan Notification, func()) {
	return m.broker.subscribe(buffer)
}

// Stats returns broker counters
func (m *Manager) Stats() BrokerStats {
	return m.broker.stats()
}

// Persistence reports consecutive snapshot write failures and the last
// error; both reset after a successful write
func (m *Manager) Persistence() PersistenceStatus {
	return m.writer.status()
}

// Flush writes the snapshot synchronously
func (m *Manager) Flush() error {
	return m.writer.flush()
}

// Close writes a final snapshot and closes all subscriptions. Jobs still
// active are kept active in the snapshot so the next start reclassifies
// them.
func (m *Manager) Close() error {
	err := m.Flush()
	m.broker.closeAll()
	return err
}
