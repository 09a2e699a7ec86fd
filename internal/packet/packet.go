// Package packet implements the aggregate owning a set of jobs. It tracks
// which jobs are running and which succeeded, and moves between states as
// jobs report back through the listener callbacks.
package packet

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/CZERTAINLY/rem/internal/job"
	"github.com/CZERTAINLY/rem/internal/model"
)

var (
	ErrForeignJob = errors.New("job belongs to another packet")
	ErrState      = errors.New("invalid packet state")
)

type Config struct {
	Name               string
	Directory          string
	KillAllJobsOnError bool
	NotifyEmails       []string
}

type Packet struct {
	cfg    Config
	logger *slog.Logger

	mx        sync.RWMutex
	state     model.PacketState
	jobs      []*job.Job
	index     map[string]*job.Job
	running   map[string]struct{}
	succeeded map[string]struct{}
}

func New(cfg Config) *Packet {
	cfg.NotifyEmails = slices.Clone(cfg.NotifyEmails)
	return &Packet{
		cfg:       cfg,
		logger:    slog.Default().With("packet", cfg.Name),
		state:     model.PacketCreated,
		index:     make(map[string]*job.Job),
		running:   make(map[string]struct{}),
		succeeded: make(map[string]struct{}),
	}
}

func (p *Packet) WithLogger(logger *slog.Logger) *Packet {
	if logger != nil {
		p.logger = logger.With("packet", p.cfg.Name)
	}
	return p
}

// NewJob creates a job owned by this packet and registers it.
func (p *Packet) NewJob(cfg job.Config, limiter job.Limiter) (*job.Job, error) {
	j := job.New(cfg, p, limiter)
	if err := p.AddJob(j); err != nil {
		return nil, err
	}
	return j, nil
}

// AddJob registers a job created with this packet as its owner, for example
// one recreated by job.Restore. A job which already succeeded counts as done.
func (p *Packet) AddJob(j *job.Job) error {
	if j.Packet() != job.Packet(p) {
		return fmt.Errorf("job %s: %w", j.ID(), ErrForeignJob)
	}
	p.mx.Lock()
	defer p.mx.Unlock()
	if _, ok := p.index[j.ID()]; ok {
		return fmt.Errorf("job %s: %w", j.ID(), model.ErrDuplicateJob)
	}
	p.jobs = append(p.jobs, j)
	p.index[j.ID()] = j
	if res, ok := j.Result(); ok && res.Succeeded() {
		p.succeeded[j.ID()] = struct{}{}
	}
	return nil
}

func (p *Packet) Job(id string) (*job.Job, bool) {
	p.mx.RLock()
	defer p.mx.RUnlock()
	j, ok := p.index[id]
	return j, ok
}

// Jobs returns the jobs in registration order.
func (p *Packet) Jobs() []*job.Job {
	p.mx.RLock()
	defer p.mx.RUnlock()
	return slices.Clone(p.jobs)
}

// Start makes a freshly created packet workable.
func (p *Packet) Start() error {
	p.mx.Lock()
	defer p.mx.Unlock()
	if p.state != model.PacketCreated {
		return fmt.Errorf("starting packet in state %s: %w", p.state, ErrState)
	}
	p.state = model.PacketWorkable
	p.logger.Info("packet state changed", "from", model.PacketCreated, "to", p.state)
	return nil
}

func (p *Packet) Name() string { return p.cfg.Name }

func (p *Packet) Directory() string { return p.cfg.Directory }

func (p *Packet) KillAllJobsOnError() bool { return p.cfg.KillAllJobsOnError }

func (p *Packet) NotifyEmails() []string { return slices.Clone(p.cfg.NotifyEmails) }

func (p *Packet) State() model.PacketState {
	p.mx.RLock()
	defer p.mx.RUnlock()
	return p.state
}

func (p *Packet) ChangeState(state model.PacketState) {
	p.mx.Lock()
	from := p.state
	p.state = state
	p.mx.Unlock()
	if from != state {
		p.logger.Info("packet state changed", "from", from, "to", state)
	}
}

// UserSuspend stops the packet from starting further jobs. With killJobs the
// running ones are terminated too. Finished packets are left as they are.
func (p *Packet) UserSuspend(killJobs bool) {
	p.mx.Lock()
	if p.state == model.PacketError || p.state == model.PacketSuccessful {
		p.mx.Unlock()
		return
	}
	from := p.state
	p.state = model.PacketSuspended
	var running []*job.Job
	for _, j := range p.jobs {
		if _, ok := p.running[j.ID()]; ok {
			running = append(running, j)
		}
	}
	p.mx.Unlock()

	p.logger.Info("packet suspended", "from", from, "kill_jobs", killJobs, "running", len(running))
	if !killJobs {
		return
	}
	for _, j := range running {
		j.Terminate()
	}
}

func (p *Packet) OnStart(j *job.Job) {
	p.mx.Lock()
	defer p.mx.Unlock()
	p.running[j.ID()] = struct{}{}
	delete(p.succeeded, j.ID())
}

// OnDone records the outcome of an attempt. The packet turns successful
// once every job succeeded.
func (p *Packet) OnDone(j *job.Job) {
	res, ok := j.Result()

	p.mx.Lock()
	delete(p.running, j.ID())
	if ok && res.Succeeded() {
		p.succeeded[j.ID()] = struct{}{}
	}
	complete := len(p.jobs) > 0 && len(p.succeeded) == len(p.jobs) && p.state.AcceptsUpdates()
	from := p.state
	if complete {
		p.state = model.PacketSuccessful
	}
	p.mx.Unlock()

	if complete {
		p.logger.Info("packet state changed", "from", from, "to", model.PacketSuccessful)
	}
}

// Succeeded reports whether the last attempt of a job succeeded.
func (p *Packet) Succeeded(id string) bool {
	p.mx.RLock()
	defer p.mx.RUnlock()
	_, ok := p.succeeded[id]
	return ok
}

// Running returns ids of jobs with an attempt in progress.
func (p *Packet) Running() []string {
	p.mx.RLock()
	defer p.mx.RUnlock()
	ret := make([]string, 0, len(p.running))
	for id := range p.running {
		ret = append(ret, id)
	}
	slices.Sort(ret)
	return ret
}

func (p *Packet) Summary() model.Result {
	p.mx.RLock()
	defer p.mx.RUnlock()
	return model.NewPacketSummary(len(p.succeeded), len(p.jobs))
}

func (p *Packet) LongExecutionWarning(j *job.Job) string {
	cfg := j.Config()
	var b strings.Builder
	fmt.Fprintf(&b, "Job %s of packet %s is running for %s, longer than %s.\n",
		cfg.ID, p.cfg.Name, j.WorkingTime().Round(time.Second), cfg.NotifyTimeout)
	if cfg.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", cfg.Description)
	}
	fmt.Fprintf(&b, "Command: %s\n", cfg.Shell)
	fmt.Fprintf(&b, "Attempt: %d of %d\n", j.Tries(), cfg.MaxTryCount)
	fmt.Fprintf(&b, "Directory: %s\n", p.cfg.Directory)
	return b.String()
}

var _ job.Packet = (*Packet)(nil)
