package job

import (
	"context"
	"errors"
	"os"
)

// SetStreams hands stdin and stdout for the next attempt to the job, nil
// means the null device. The job owns the files from now on and closes them
// when the attempt ends, so jobs can be chained through os.Pipe.
func (j *Job) SetStreams(stdin, stdout *os.File) {
	j.streamsMx.Lock()
	defer j.streamsMx.Unlock()
	j.input = stdin
	j.output = stdout
}

func (j *Job) attachErrPipe(r, w *os.File) (stdin, stdout *os.File) {
	j.streamsMx.Lock()
	defer j.streamsMx.Unlock()
	j.errRead = r
	j.errWrite = w
	return j.input, j.output
}

func (j *Job) closeErrWrite(ctx context.Context) {
	j.streamsMx.Lock()
	defer j.streamsMx.Unlock()
	j.closeStream(ctx, "stderr write", &j.errWrite)
}

// CloseStreams closes stdin, stdout and both ends of the stderr pipe. Each
// one is closed independently, failures are logged only. Calling it again,
// or with nothing open, does nothing.
func (j *Job) CloseStreams(ctx context.Context) {
	j.streamsMx.Lock()
	defer j.streamsMx.Unlock()
	j.closeStream(ctx, "stdin", &j.input)
	j.closeStream(ctx, "stdout", &j.output)
	j.closeStream(ctx, "stderr read", &j.errRead)
	j.closeStream(ctx, "stderr write", &j.errWrite)
}

func (j *Job) closeStream(ctx context.Context, name string, fp **os.File) {
	f := *fp
	*fp = nil
	if f == nil {
		return
	}
	if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		j.logger.ErrorContext(ctx, "closing job stream failed", "stream", name, "error", err)
	}
}
