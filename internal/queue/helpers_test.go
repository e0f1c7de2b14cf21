package queue

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"dlqueue/pkg/checkpoint"
	"dlqueue/pkg/logger"
	"dlqueue/pkg/models"

	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu          sync.Mutex
	snap        *checkpoint.Snapshot
	saves       int
	loadErr     error
	saveErr     error
	quarantined int
}

func (s *memStore) Load() (*checkpoint.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.snap, nil
}

func (s *memStore) Save(snap *checkpoint.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.snap = snap
	s.saves++
	return nil
}

func (s *memStore) Quarantine() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quarantined++
	s.loadErr = nil
	return "queue.json.corrupt", nil
}

func (s *memStore) saved() (*checkpoint.Snapshot, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap, s.saves
}

type recordingDispatcher struct {
	mu   sync.Mutex
	jobs []models.Job
}

func (d *recordingDispatcher) Dispatch(job models.Job) {
	d.mu.Lock()
	d.jobs = append(d.jobs, job)
	d.mu.Unlock()
}

func (d *recordingDispatcher) ids() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.jobs))
	for _, j := range d.jobs {
		out = append(out, j.ID)
	}
	return out
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("job-%d", n)
	}
}

type harness struct {
	m     *Manager
	store *memStore
	disp  *recordingDispatcher
}

func newHarness(t *testing.T, maxConcurrent int, mutate ...func(*Options)) *harness {
	t.Helper()
	store := &memStore{}
	disp := &recordingDispatcher{}
	opts := Options{
		MaxConcurrent:    maxConcurrent,
		RejectDuplicates: true,
		PersistInterval:  time.Hour,
		PersistEvery:     1000,
		NewID:            sequentialIDs(),
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	return &harness{
		m:     NewManager(opts, store, disp, nil, logger.NewNopLogger()),
		store: store,
		disp:  disp,
	}
}

func (h *harness) submit(t *testing.T, path string) models.Job {
	t.Helper()
	job, err := h.m.Submit(models.Target{URL: "https://example.com/" + path})
	require.NoError(t, err)
	h.requireInvariants(t)
	return job
}

func (h *harness) requireInvariants(t *testing.T) {
	t.Helper()
	require.NoError(t, h.m.verify())
}

func (m *Manager) verify() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reg.verify(m.opts.MaxConcurrent)
}

func (h *harness) state(t *testing.T, id string) models.State {
	t.Helper()
	job, err := h.m.Get(id)
	require.NoError(t, err)
	return job.State
}

func ids(jobs []models.Job) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.ID)
	}
	return out
}

func drain(ch <-chan Notification) []Notification {
	var out []Notification
	for {
		select {
		case n, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, n)
		default:
			return out
		}
	}
}

func types(ns []Notification) []NotificationType {
	out := make([]NotificationType, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.Type)
	}
	return out
}
