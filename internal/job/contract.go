package job

import (
	"context"

	"github.com/CZERTAINLY/rem/internal/model"
)

// Listener receives lifecycle events of a job. Calls are synchronous, in
// registration order, from the goroutine executing Run, so implementations
// must not block for long and must not call Run.
type Listener interface {
	OnStart(j *Job)
	OnDone(j *Job)
}

// Packet is the aggregate owning a job. Job only reads its state and calls
// UserSuspend and ChangeState when the job ran out of attempts.
type Packet interface {
	Listener
	Directory() string
	State() model.PacketState
	KillAllJobsOnError() bool
	NotifyEmails() []string
	UserSuspend(killJobs bool)
	ChangeState(state model.PacketState)
	LongExecutionWarning(j *Job) string
}

// Limiter is the admission control shared by jobs.
type Limiter interface {
	Listener
	CanStart() bool
}

// Notifier delivers a message to recipients, a failure is only logged.
type Notifier interface {
	Send(ctx context.Context, recipients []string, message string) error
}

// Hooks adapts plain functions to Listener, nil functions are skipped.
type Hooks struct {
	Start func(j *Job)
	Done  func(j *Job)
}

func (h Hooks) OnStart(j *Job) {
	if h.Start != nil {
		h.Start(j)
	}
}

func (h Hooks) OnDone(j *Job) {
	if h.Done != nil {
		h.Done(j)
	}
}
