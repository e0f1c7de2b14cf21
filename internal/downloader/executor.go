package downloader

import (
	"context"

	"dlqueue/pkg/models"
)

// Emitter receives what an executor observes while a job runs
type Emitter interface {
	Progress(delta models.ProgressDelta)
	Stage(state models.State)
	// Info reports metadata such as the title once the source reveals it
	Info(info models.MediaInfo)
}

// Executor performs one download and returns the result payload, usually
// the path of the finished file. It must return promptly once ctx is done.
type Executor interface {
	Execute(ctx context.Context, job models.Job, emit Emitter) (string, error)
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(ctx context.Context, job models.Job, emit Emitter) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, job models.Job, emit Emitter) (string, error) {
	return f(ctx, job, emit)
}
