package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/CZERTAINLY/rem/internal/job"
	"github.com/CZERTAINLY/rem/internal/limiter"
	"github.com/CZERTAINLY/rem/internal/log"
	"github.com/CZERTAINLY/rem/internal/model"
	"github.com/CZERTAINLY/rem/internal/packet"
	"github.com/CZERTAINLY/rem/internal/store"
)

var ErrPacketFailed = errors.New("packet failed")

// Supervisor drives the jobs of a single packet until it reaches a final
// state. It is not safe for concurrent use, Do is expected to be called once.
type Supervisor struct {
	packet  *packet.Packet
	limiter *limiter.Limiter
	db      *sql.DB
	logger  *slog.Logger
	pids    *job.PidSet
	poll    time.Duration
	now     func() time.Time

	done    chan *job.Job
	running map[string]struct{}
	retryAt map[string]time.Time
	broken  map[string]error
}

func NewSupervisor(p *packet.Packet) *Supervisor {
	return &Supervisor{
		packet:  p,
		logger:  slog.Default(),
		pids:    job.NewPidSet(),
		poll:    model.DefaultPollInterval,
		now:     time.Now,
		done:    make(chan *job.Job, 1),
		running: make(map[string]struct{}),
		retryAt: make(map[string]time.Time),
		broken:  make(map[string]error),
	}
}

func (s *Supervisor) WithLogger(logger *slog.Logger) *Supervisor {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithLimiter makes the limiter shared by the jobs the admission point of
// the supervisor. Without it jobs are asked by CanStart.
func (s *Supervisor) WithLimiter(l *limiter.Limiter) *Supervisor {
	s.limiter = l
	return s
}

// WithStore enables saving job snapshots after every attempt.
func (s *Supervisor) WithStore(db *sql.DB) *Supervisor {
	s.db = db
	return s
}

func (s *Supervisor) WithPollInterval(d time.Duration) *Supervisor {
	if d > 0 {
		s.poll = d
	}
	return s
}

func (s *Supervisor) Packet() *packet.Packet {
	return s.packet
}

// Pids returns the registry of every process spawned by the packet.
func (s *Supervisor) Pids() *job.PidSet {
	return s.pids
}

// Do runs the event loop. On every iteration it starts jobs whose parents
// succeeded and whose retry delay passed, as long as the limiter lets them,
// and collects finished attempts. It returns once nothing runs and nothing
// can be started anymore. A cancelled ctx suspends the packet and kills its
// jobs. The returned summary is the outcome of the whole packet, an error is
// returned when snapshots could not be saved.
func (s *Supervisor) Do(ctx context.Context) (model.Result, error) {
	ctx = log.ContextAttrs(ctx, slog.String("packet", s.packet.Name()))
	s.logger.DebugContext(ctx, "starting a supervisor", "jobs", len(s.packet.Jobs()))

	if s.packet.State() == model.PacketCreated {
		if err := s.packet.Start(); err != nil {
			return model.Result{}, err
		}
	}

	var g errgroup.Group
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	cancelled := ctx.Done()
	for {
		if ctx.Err() == nil && s.packet.State().AcceptsUpdates() {
			s.schedule(ctx, &g)
		}
		if len(s.running) == 0 && s.finished(ctx) {
			break
		}

		select {
		case j := <-s.done:
			s.handleDone(ctx, j)
		case <-ticker.C:
		case <-cancelled:
			s.logger.InfoContext(ctx, "context done: suspending packet", "error", ctx.Err())
			s.packet.UserSuspend(true)
			cancelled = nil
		}
	}
	err := g.Wait()

	summary := s.packet.Summary()
	s.logger.InfoContext(ctx, "packet finished", "state", s.packet.State(), "result", summary.String())
	if err != nil {
		return summary, fmt.Errorf("saving job snapshots: %w", err)
	}
	return summary, nil
}

type jobStatus int

const (
	statusReady jobStatus = iota
	statusRunning
	statusSucceeded
	statusExhausted
	statusBlocked // a parent will never succeed
	statusWaiting // retry delay or parents in progress
)

func (s *Supervisor) status(j *job.Job, statuses map[string]jobStatus) jobStatus {
	id := j.ID()
	if _, ok := s.running[id]; ok {
		return statusRunning
	}
	if s.packet.Succeeded(id) {
		return statusSucceeded
	}
	if _, ok := s.broken[id]; ok || exhausted(j) {
		return statusExhausted
	}
	cfg := j.Config()
	waiting := false
	// a job reading the output of another one waits for it like for a parent
	for _, parent := range slices.Concat(cfg.Parents, cfg.Inputs) {
		switch statuses[parent] {
		case statusSucceeded:
		case statusExhausted, statusBlocked:
			return statusBlocked
		default:
			waiting = true
		}
	}
	if waiting {
		return statusWaiting
	}
	if at, ok := s.retryAt[id]; ok && s.now().Before(at) {
		return statusWaiting
	}
	return statusReady
}

// statuses relies on parents and inputs being declared before their children.
func (s *Supervisor) statuses() ([]*job.Job, map[string]jobStatus) {
	jobs := s.packet.Jobs()
	ret := make(map[string]jobStatus, len(jobs))
	for _, j := range jobs {
		ret[j.ID()] = s.status(j, ret)
	}
	return jobs, ret
}

func exhausted(j *job.Job) bool {
	res, ok := j.Result()
	if !ok || !res.Failed() {
		return false
	}
	return !res.Retryable() || j.Tries() >= j.Config().MaxTryCount
}

func (s *Supervisor) schedule(ctx context.Context, g *errgroup.Group) {
	jobs, statuses := s.statuses()
	for _, j := range jobs {
		if statuses[j.ID()] != statusReady {
			continue
		}
		if !s.admit(j) {
			return
		}
		if err := s.prepareStreams(j); err != nil {
			if s.limiter != nil {
				s.limiter.Release(j.ID())
			}
			s.logger.ErrorContext(ctx, "preparing job streams failed", "job_id", j.ID(), "error", err)
			s.broken[j.ID()] = err
			continue
		}
		if s.packet.State() == model.PacketPending {
			s.packet.ChangeState(model.PacketWorkable)
		}

		s.running[j.ID()] = struct{}{}
		delete(s.retryAt, j.ID())
		s.logger.DebugContext(ctx, "starting a job", "job_id", j.ID(), "tries", j.Tries()+1)
		g.Go(func() error {
			j.Run(ctx, s.pids)
			err := s.save(ctx, j)
			s.done <- j
			return err
		})
	}
}

// admit reserves a slot in the limiter, so the next job of the same pass
// already sees this one as running.
func (s *Supervisor) admit(j *job.Job) bool {
	if s.limiter != nil {
		return s.limiter.TryStart(j.ID())
	}
	return j.CanStart()
}

func (s *Supervisor) save(ctx context.Context, j *job.Job) error {
	if s.db == nil {
		return nil
	}
	// a cancelled run is still worth saving
	err := store.Save(context.WithoutCancel(ctx), s.db, s.packet.Name(), j.Snapshot())
	if err != nil {
		s.logger.ErrorContext(ctx, "saving job snapshot failed", "job_id", j.ID(), "error", err)
		return fmt.Errorf("job %s: %w", j.ID(), err)
	}
	return nil
}

// finished reports whether the packet can make no more progress. A packet
// left workable with unfinished jobs turns into an error.
func (s *Supervisor) finished(ctx context.Context) bool {
	if s.packet.State().Terminal() {
		return true
	}
	jobs, statuses := s.statuses()
	var waiting bool
	for _, j := range jobs {
		switch statuses[j.ID()] {
		case statusReady:
			return false
		case statusWaiting:
			waiting = true
		}
	}
	if waiting {
		if s.packet.State() == model.PacketWorkable {
			s.packet.ChangeState(model.PacketPending)
		}
		return false
	}

	if s.packet.Summary().Failed() {
		s.logger.WarnContext(ctx, "packet can't make progress", "summary", s.packet.Summary().String())
		s.packet.ChangeState(model.PacketError)
	} else {
		s.packet.ChangeState(model.PacketSuccessful)
	}
	return true
}

func (s *Supervisor) handleDone(ctx context.Context, j *job.Job) {
	delete(s.running, j.ID())
	ctx = log.ContextAttrs(ctx, slog.String("job_id", j.ID()))

	res, ok := j.Result()
	if !ok || !res.Failed() || exhausted(j) {
		return
	}
	delay := j.Config().RetryDelay
	s.retryAt[j.ID()] = s.now().Add(delay)
	s.logger.InfoContext(ctx, "job will be retried", "tries", j.Tries(), "retry_delay", delay)
}

// prepareStreams points stdout to <dir>/<id>.out and feeds the outputs of
// the input jobs, in the configured order, to stdin.
func (s *Supervisor) prepareStreams(j *job.Job) error {
	dir := s.packet.Directory()
	stdout, err := os.Create(OutputPath(dir, j.ID()))
	if err != nil {
		return fmt.Errorf("creating job output: %w", err)
	}

	inputs := j.Config().Inputs
	if len(inputs) == 0 {
		j.SetStreams(nil, stdout)
		return nil
	}

	stdin, err := os.Create(filepath.Join(dir, j.ID()+".in"))
	if err != nil {
		_ = stdout.Close()
		return fmt.Errorf("creating job input: %w", err)
	}
	err = concat(stdin, dir, inputs)
	if err == nil {
		_, err = stdin.Seek(0, io.SeekStart)
	}
	if err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		return err
	}
	j.SetStreams(stdin, stdout)
	return nil
}

func concat(w io.Writer, dir string, inputs []string) error {
	for _, id := range inputs {
		f, err := os.Open(OutputPath(dir, id))
		if err != nil {
			return fmt.Errorf("opening output of %s: %w", id, err)
		}
		_, err = io.Copy(w, f)
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("copying output of %s: %w", id, err)
		}
	}
	return nil
}

// OutputPath is where the stdout of a job is stored.
func OutputPath(dir, id string) string {
	return filepath.Join(dir, id+".out")
}
