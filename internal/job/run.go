package job

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/CZERTAINLY/rem/internal/log"
	"github.com/CZERTAINLY/rem/internal/model"
	"github.com/CZERTAINLY/rem/internal/osspec"
)

// Run executes one attempt. The caller is expected to check CanStart first.
// Spawned pids are registered in pids as well, which lets the caller kill
// everything it started; nil means no shared registry. Cancelling ctx
// terminates the process, the attempt is finalized as usual.
func (j *Job) Run(ctx context.Context, pids *PidSet) {
	if pids == nil {
		pids = NewPidSet()
	}
	ctx = log.ContextAttrs(ctx, slog.String("job_id", j.cfg.ID))

	tries := j.startAttempt()
	defer func() {
		j.CloseStreams(ctx)
		j.fire(func(l Listener) { l.OnDone(j) })
	}()
	j.fire(func(l Listener) { l.OnStart(j) })

	started := j.now()
	result, err := j.execute(ctx, pids, started)
	if err != nil {
		j.logger.ErrorContext(ctx, "run job failed", "tries", tries, "error", err)
		result = model.NewInfraFailure(err, started, j.now())
	}
	j.finalize(ctx, result)
}

// startAttempt resets per attempt state and counts the attempt.
func (j *Job) startAttempt() int {
	j.mx.Lock()
	defer j.mx.Unlock()
	j.tries++
	j.workingTime = 0
	j.lastUpdate = time.Time{}
	j.notified = false
	return j.tries
}

func (j *Job) execute(ctx context.Context, pids *PidSet, started time.Time) (model.Result, error) {
	args := osspec.CommandLine(j.shell(), j.cfg.Shell, j.cfg.PipeFail)

	errRead, errWrite, err := os.Pipe()
	if err != nil {
		return model.Result{}, fmt.Errorf("creating stderr pipe: %w", err)
	}
	stdin, stdout := j.attachErrPipe(errRead, errWrite)

	cmd := exec.Command(args[0], args[1:]...)
	if j.packet != nil {
		cmd.Dir = j.packet.Directory()
	}
	cmd.SysProcAttr = osspec.SysProcAttr()
	// a nil *os.File must not end up in the io.Reader/io.Writer fields
	if stdin != nil {
		cmd.Stdin = stdin
	}
	if stdout != nil {
		cmd.Stdout = stdout
	}
	cmd.Stderr = errWrite

	j.logger.DebugContext(ctx, "starting job",
		"tries", j.Tries(),
		"cmd", shellquote.Join(args...),
		"dir", cmd.Dir,
	)
	if err := cmd.Start(); err != nil {
		return model.Result{}, fmt.Errorf("starting %s: %w", args[0], err)
	}

	pid := cmd.Process.Pid
	j.live.Add(pid)
	pids.Add(pid)
	defer func() {
		j.live.Remove(pid)
		pids.Remove(pid)
	}()

	// the child holds its own copy, EOF on errRead needs ours closed
	j.closeErrWrite(ctx)

	stderr, waitErr := j.waitProcess(ctx, cmd, errRead)
	finished := j.now()
	if cmd.ProcessState == nil {
		return model.Result{}, fmt.Errorf("waiting for pid %d: %w", pid, waitErr)
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		j.logger.WarnContext(ctx, "waiting for job process", "pid", pid, "error", waitErr)
	}
	return model.NewOSExit(
		osspec.ExitCode(cmd.ProcessState),
		started,
		finished,
		stderr,
		j.cfg.MaxErrLen,
	), nil
}

// waitProcess polls the running process, updating the working time on each
// tick. Stderr is drained concurrently so a chatty process can't block on a
// full pipe, the drain is joined before returning.
func (j *Job) waitProcess(ctx context.Context, cmd *exec.Cmd, errPipe io.Reader) (string, error) {
	var stderr bytes.Buffer
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		if _, err := io.Copy(&stderr, errPipe); err != nil && !errors.Is(err, os.ErrClosed) {
			j.logger.WarnContext(ctx, "reading job stderr", "error", err)
		}
	}()

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
	}()

	ticker := time.NewTicker(j.pollInterval)
	defer ticker.Stop()

	j.UpdateWorkingTime(ctx)
	done := ctx.Done()
	var waitErr error
wait:
	for {
		select {
		case waitErr = <-exited:
			break wait
		case <-ticker.C:
			j.UpdateWorkingTime(ctx)
		case <-done:
			j.logger.InfoContext(ctx, "context done: terminating job", "error", ctx.Err())
			j.Terminate()
			done = nil
		}
	}
	j.UpdateWorkingTime(ctx)

	<-drained
	return stderr.String(), waitErr
}

// finalize appends the result and escalates a job which ran out of attempts.
func (j *Job) finalize(ctx context.Context, result model.Result) {
	j.mx.Lock()
	j.results = append(j.results, result)
	tries := j.tries
	j.mx.Unlock()
	j.logger.InfoContext(ctx, "job attempt finished", "tries", tries, "result", result.String())

	if !result.Failed() || tries < j.cfg.MaxTryCount {
		return
	}
	if j.packet == nil || !j.packet.State().AcceptsUpdates() {
		return
	}

	exceeded := model.NewTriesExceeded(tries)
	j.mx.Lock()
	j.results = append(j.results, exceeded)
	j.mx.Unlock()
	j.logger.InfoContext(ctx, "job result", "result", exceeded.String())

	if j.packet.KillAllJobsOnError() {
		j.packet.UserSuspend(true)
		j.packet.ChangeState(model.PacketError)
	}
}
