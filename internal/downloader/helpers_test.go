package downloader

import (
	"sync"

	"dlqueue/pkg/models"
)

type recordingEmitter struct {
	mu     sync.Mutex
	deltas []models.ProgressDelta
	stages []models.State
	infos  []models.MediaInfo
}

func (r *recordingEmitter) Progress(d models.ProgressDelta) {
	r.mu.Lock()
	r.deltas = append(r.deltas, d)
	r.mu.Unlock()
}

func (r *recordingEmitter) Stage(s models.State) {
	r.mu.Lock()
	r.stages = append(r.stages, s)
	r.mu.Unlock()
}

func (r *recordingEmitter) Info(i models.MediaInfo) {
	r.mu.Lock()
	r.infos = append(r.infos, i)
	r.mu.Unlock()
}

func (r *recordingEmitter) titles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, i := range r.infos {
		out = append(out, i.Title)
	}
	return out
}

func (r *recordingEmitter) lastPercent() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.deltas) - 1; i >= 0; i-- {
		if r.deltas[i].Percent != nil {
			return *r.deltas[i].Percent
		}
	}
	return -1
}

func testJob(id, url string) models.Job {
	return models.Job{ID: id, Target: models.Target{URL: url, Format: models.FormatVideo}, State: models.StateStarting}
}
