package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatePredicates(t *testing.T) {
	for _, s := range []State{StateStarting, StateRunning, StateFinalizing} {
		assert.True(t, s.IsActive(), s)
		assert.False(t, s.IsTerminal(), s)
	}
	for _, s := range []State{StateCompleted, StateFailed, StateCancelled} {
		assert.True(t, s.IsTerminal(), s)
		assert.False(t, s.IsActive(), s)
	}
	assert.False(t, StateQueued.IsActive())
	assert.False(t, StateInterrupted.IsTerminal())
}

func TestTargetNormalize(t *testing.T) {
	tgt := Target{URL: "  https://example.com/a.mp4 ", Format: " AUDIO", Site: "YouTube"}.Normalize()
	assert.Equal(t, "https://example.com/a.mp4", tgt.URL)
	assert.Equal(t, FormatAudio, tgt.Format)
	assert.Equal(t, "youtube", tgt.Site)

	assert.Equal(t, FormatVideo, Target{URL: "x"}.Normalize().Format)
	assert.True(t, Target{URL: "a", Format: "video", Site: "x"}.SameAs(Target{URL: "a", Format: "video"}))
	assert.False(t, Target{URL: "a", Format: "video"}.SameAs(Target{URL: "a", Format: "audio"}))
}

func TestProgressDeltaApply(t *testing.T) {
	p := Progress{Percent: 10, Speed: "1 MB/s", Total: "10 MB"}

	p = ProgressDelta{Percent: Float64(40), ETA: String("00:05")}.Apply(p)
	assert.Equal(t, 40.0, p.Percent)
	assert.Equal(t, "00:05", p.ETA)
	assert.Equal(t, "1 MB/s", p.Speed, "untouched fields are kept")

	assert.Equal(t, 100.0, ProgressDelta{Percent: Float64(140)}.Apply(p).Percent)
	assert.Equal(t, 0.0, ProgressDelta{Percent: Float64(-3)}.Apply(p).Percent)
}

func TestProgressDeltaMerge(t *testing.T) {
	a := ProgressDelta{Percent: Float64(5), Speed: String("a")}
	b := ProgressDelta{Percent: Float64(7)}
	m := a.Merge(b)
	assert.Equal(t, 7.0, *m.Percent)
	assert.Equal(t, "a", *m.Speed)
	assert.True(t, ProgressDelta{}.IsEmpty())
	assert.False(t, m.IsEmpty())
}

func TestJobCloneIsDeep(t *testing.T) {
	now := time.Now()
	j := &Job{ID: "1", Result: &Result{Payload: "x"}, StartedAt: &now}
	c := j.Clone()
	c.Result.Payload = "y"
	*c.StartedAt = now.Add(time.Hour)
	assert.Equal(t, "x", j.Result.Payload)
	assert.Equal(t, now, *j.StartedAt)
}

func TestJobApplyInfo(t *testing.T) {
	j := &Job{Target: Target{URL: "https://example.com/v"}}
	assert.Equal(t, "https://example.com/v", j.DisplayName())

	assert.True(t, j.ApplyInfo(MediaInfo{Title: "Clip"}))
	assert.False(t, j.ApplyInfo(MediaInfo{Title: "Clip"}), "same title is no change")
	assert.True(t, j.ApplyInfo(MediaInfo{Thumbnail: "https://example.com/t.jpg"}))
	assert.Equal(t, "Clip", j.Title, "empty fields keep the known value")
	assert.Equal(t, "Clip", j.DisplayName())
	assert.True(t, MediaInfo{}.IsEmpty())
}
