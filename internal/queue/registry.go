package queue

import (
	"fmt"

	"dlqueue/pkg/checkpoint"
	"dlqueue/pkg/models"
)

type set int

const (
	setNone set = iota
	setActive
	setQueued
	setIncomplete
	setFinished
)

func (s set) String() string {
	switch s {
	case setActive:
		return "active"
	case setQueued:
		return "queued"
	case setIncomplete:
		return "incomplete"
	case setFinished:
		return "finished"
	}
	return "none"
}

// registry holds every known job in exactly one ordered set. It is not
// safe for concurrent use; Manager guards it with its mutex.
type registry struct {
	jobs   map[string]*models.Job
	member map[string]set
	order  map[set][]string
}

func newRegistry() *registry {
	return &registry{
		jobs:   make(map[string]*models.Job),
		member: make(map[string]set),
		order: map[set][]string{
			setActive:     nil,
			setQueued:     nil,
			setIncomplete: nil,
			setFinished:   nil,
		},
	}
}

func (r *registry) get(id string) (*models.Job, set) {
	j, ok := r.jobs[id]
	if !ok {
		return nil, setNone
	}
	return j, r.member[id]
}

func (r *registry) has(id string) bool {
	_, ok := r.jobs[id]
	return ok
}

// add appends a job to the tail of s
func (r *registry) add(j *models.Job, s set) {
	r.jobs[j.ID] = j
	r.member[j.ID] = s
	r.order[s] = append(r.order[s], j.ID)
}

func (r *registry) remove(id string) (*models.Job, set) {
	j, s := r.get(id)
	if j == nil {
		return nil, setNone
	}
	r.order[s] = without(r.order[s], id)
	delete(r.jobs, id)
	delete(r.member, id)
	return j, s
}

// move transfers a job to the tail of another set
func (r *registry) move(id string, to set) {
	j, from := r.get(id)
	if j == nil || from == to {
		return
	}
	r.order[from] = without(r.order[from], id)
	r.member[id] = to
	r.order[to] = append(r.order[to], id)
}

// popQueued removes the head of the wait queue
func (r *registry) popQueued() (*models.Job, bool) {
	q := r.order[setQueued]
	if len(q) == 0 {
		return nil, false
	}
	id := q[0]
	r.order[setQueued] = q[1:]
	r.member[id] = setNone
	return r.jobs[id], true
}

func (r *registry) count(s set) int {
	return len(r.order[s])
}

func (r *registry) ids(s set) []string {
	return r.order[s]
}

// list clones the jobs of s in set order
func (r *registry) list(s set) []models.Job {
	ids := r.order[s]
	out := make([]models.Job, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.jobs[id].Clone())
	}
	return out
}

// clear drops every job of s and returns how many there were
func (r *registry) clear(s set) int {
	ids := r.order[s]
	for _, id := range ids {
		delete(r.jobs, id)
		delete(r.member, id)
	}
	r.order[s] = nil
	return len(ids)
}

// findPending returns an active or queued job for the same target
func (r *registry) findPending(t models.Target) *models.Job {
	for _, s := range []set{setActive, setQueued} {
		for _, id := range r.order[s] {
			if j := r.jobs[id]; j.Target.SameAs(t) {
				return j
			}
		}
	}
	return nil
}

// snapshot projects the durable sets; finished jobs are left out
func (r *registry) snapshot() *checkpoint.Snapshot {
	return &checkpoint.Snapshot{
		Active:     r.list(setActive),
		Queue:      r.list(setQueued),
		Incomplete: r.list(setIncomplete),
	}
}

// verify checks the structural invariants and is used by tests
func (r *registry) verify(maxConcurrent int) error {
	if n := r.count(setActive); n > maxConcurrent {
		return fmt.Errorf("%d active jobs exceed limit %d", n, maxConcurrent)
	}

	seen := make(map[string]set, len(r.jobs))
	for _, s := range []set{setActive, setQueued, setIncomplete, setFinished} {
		for _, id := range r.order[s] {
			if prev, dup := seen[id]; dup {
				return fmt.Errorf("job %s is in both %s and %s", id, prev, s)
			}
			seen[id] = s
			if r.member[id] != s {
				return fmt.Errorf("job %s listed in %s but recorded in %s", id, s, r.member[id])
			}
		}
	}
	if len(seen) != len(r.jobs) {
		return fmt.Errorf("%d jobs known but %d placed in sets", len(r.jobs), len(seen))
	}

	for i, id := range r.order[setQueued] {
		j := r.jobs[id]
		if j.State != models.StateQueued {
			return fmt.Errorf("queued job %s has state %s", id, j.State)
		}
		if j.QueuePosition != i+1 {
			return fmt.Errorf("queued job %s has position %d, want %d", id, j.QueuePosition, i+1)
		}
	}
	for _, id := range r.order[setActive] {
		if st := r.jobs[id].State; !st.IsActive() {
			return fmt.Errorf("active job %s has state %s", id, st)
		}
	}
	for _, id := range r.order[setIncomplete] {
		if st := r.jobs[id].State; st != models.StateInterrupted {
			return fmt.Errorf("incomplete job %s has state %s", id, st)
		}
	}
	return nil
}

func without(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			out := make([]string, 0, len(ids)-1)
			out = append(out, ids[:i]...)
			return append(out, ids[i+1:]...)
		}
	}
	return ids
}
