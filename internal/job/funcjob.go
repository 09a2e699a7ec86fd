package job

import (
	"context"
	"errors"
)

var ErrNilRunner = errors.New("func job needs a runner")

// FuncJob runs an in-process function instead of a shell command. There is
// no process, no streams and no result log, an error is simply returned.
type FuncJob struct {
	runner func() error
}

func NewFuncJob(runner func() error) (*FuncJob, error) {
	if runner == nil {
		return nil, ErrNilRunner
	}
	return &FuncJob{runner: runner}, nil
}

// Run invokes the function. The arguments exist to match Job.Run.
func (f *FuncJob) Run(_ context.Context, _ *PidSet) error {
	return f.runner()
}
