package job

import (
	"context"
)

// UpdateWorkingTime adds the time elapsed since the previous call to the
// working time of the current attempt. The first call after an attempt
// starts, or after Restore, only sets the checkpoint. Once the working time
// reaches NotifyTimeout the packet's notify addresses get a single warning
// per attempt, the process is left running.
func (j *Job) UpdateWorkingTime(ctx context.Context) {
	now := j.now()

	j.mx.Lock()
	var notify bool
	if !j.lastUpdate.IsZero() {
		if elapsed := now.Sub(j.lastUpdate); elapsed > 0 {
			j.workingTime += elapsed
		}
		if !j.notified && j.workingTime >= j.cfg.NotifyTimeout {
			j.notified = true
			notify = true
		}
	}
	j.lastUpdate = now
	workingTime := j.workingTime
	j.mx.Unlock()

	if notify {
		j.logger.WarnContext(ctx, "job exceeded notify timeout",
			"working_time", workingTime,
			"notify_timeout", j.cfg.NotifyTimeout,
		)
		j.notifyLongExecution(ctx)
	}
}

// Notified reports whether the current attempt has been reported as long running.
func (j *Job) Notified() bool {
	j.mx.RLock()
	defer j.mx.RUnlock()
	return j.notified
}

func (j *Job) notifyLongExecution(ctx context.Context) {
	if j.notifier == nil || j.packet == nil {
		return
	}
	recipients := j.packet.NotifyEmails()
	if len(recipients) == 0 {
		return
	}
	msg := j.packet.LongExecutionWarning(j)
	if err := j.notifier.Send(ctx, recipients, msg); err != nil {
		j.logger.ErrorContext(ctx, "sending long execution warning failed", "error", err)
	}
}
