package job

import (
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CZERTAINLY/rem/internal/model"
	"github.com/CZERTAINLY/rem/internal/osspec"
)

// Config is the immutable part of a Job.
type Config struct {
	ID            string   // generated when empty
	Description   string
	Shell         string   // command text passed to shell -c
	Parents       []string // ids of jobs which must succeed first
	Inputs        []string // ids of parents whose stdout is piped in
	MaxTryCount   int      // values below 1 mean a single attempt
	MaxErrLen     int      // stderr kept in a result, 0 => model.DefaultCutLen head + tail
	RetryDelay    time.Duration
	PipeFail      bool
	NotifyTimeout time.Duration // 0 => model.DefaultNotifyTimeout
}

type Job struct {
	cfg     Config
	packet  Packet
	limiter Limiter

	logger       *slog.Logger
	notifier     Notifier
	shellPath    string
	pollInterval time.Duration
	now          func() time.Time
	terminate    func(pid int) error

	listenersMx sync.Mutex
	listeners   []Listener

	mx          sync.RWMutex
	tries       int
	results     []model.Result
	workingTime time.Duration
	lastUpdate  time.Time // zero means unset
	notified    bool

	live *PidSet

	streamsMx sync.Mutex
	input     *os.File
	output    *os.File
	errRead   *os.File
	errWrite  *os.File
}

// New creates a job owned by packet. The limiter is optional. Both of them
// are registered as listeners, the limiter first.
func New(cfg Config, packet Packet, limiter Limiter) *Job {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.MaxTryCount < 1 {
		cfg.MaxTryCount = 1
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = model.DefaultNotifyTimeout
	}
	cfg.Parents = slices.Clone(cfg.Parents)
	cfg.Inputs = slices.Clone(cfg.Inputs)

	j := &Job{
		cfg:          cfg,
		packet:       packet,
		limiter:      limiter,
		logger:       slog.Default(),
		pollInterval: model.DefaultPollInterval,
		now:          time.Now,
		terminate:    osspec.Terminate,
		live:         NewPidSet(),
	}
	if limiter != nil {
		j.AddListener(limiter)
	}
	if packet != nil {
		j.AddListener(packet)
	}
	return j
}

func (j *Job) WithLogger(logger *slog.Logger) *Job {
	if logger != nil {
		j.logger = logger
	}
	return j
}

func (j *Job) WithNotifier(n Notifier) *Job {
	j.notifier = n
	return j
}

// WithShell overrides osspec.ShellLocation.
func (j *Job) WithShell(path string) *Job {
	j.shellPath = path
	return j
}

// WithPollInterval sets how often the working time is updated while the
// process runs.
func (j *Job) WithPollInterval(d time.Duration) *Job {
	if d > 0 {
		j.pollInterval = d
	}
	return j
}

// WithClock replaces time.Now, useful for a working time accounting in tests.
func (j *Job) WithClock(now func() time.Time) *Job {
	if now != nil {
		j.now = now
	}
	return j
}

// WithTerminator replaces osspec.Terminate.
func (j *Job) WithTerminator(fn func(pid int) error) *Job {
	if fn != nil {
		j.terminate = fn
	}
	return j
}

func (j *Job) AddListener(l Listener) {
	j.listenersMx.Lock()
	defer j.listenersMx.Unlock()
	j.listeners = append(j.listeners, l)
}

func (j *Job) fire(event func(Listener)) {
	j.listenersMx.Lock()
	listeners := slices.Clone(j.listeners)
	j.listenersMx.Unlock()
	for _, l := range listeners {
		event(l)
	}
}

func (j *Job) ID() string {
	return j.cfg.ID
}

func (j *Job) Description() string {
	return j.cfg.Description
}

// Config returns a copy of the job configuration.
func (j *Job) Config() Config {
	cfg := j.cfg
	cfg.Parents = slices.Clone(cfg.Parents)
	cfg.Inputs = slices.Clone(cfg.Inputs)
	return cfg
}

func (j *Job) Packet() Packet {
	return j.packet
}

// CanStart asks the limiter, a job without one can always start.
func (j *Job) CanStart() bool {
	if j.limiter == nil {
		return true
	}
	return j.limiter.CanStart()
}

func (j *Job) Tries() int {
	j.mx.RLock()
	defer j.mx.RUnlock()
	return j.tries
}

// Result returns the most recent result, false if the job never finished an attempt.
func (j *Job) Result() (model.Result, bool) {
	j.mx.RLock()
	defer j.mx.RUnlock()
	if len(j.results) == 0 {
		return model.Result{}, false
	}
	return j.results[len(j.results)-1], true
}

// Results returns a copy of the whole result log.
func (j *Job) Results() []model.Result {
	j.mx.RLock()
	defer j.mx.RUnlock()
	return slices.Clone(j.results)
}

func (j *Job) WorkingTime() time.Duration {
	j.mx.RLock()
	defer j.mx.RUnlock()
	return j.workingTime
}

// LivePids returns processes of the running attempt.
func (j *Job) LivePids() []int {
	return j.live.List()
}

// Terminate kills the process groups of the running attempt. It does not
// wait, Run observes the exit and finalizes the attempt.
func (j *Job) Terminate() {
	for _, pid := range j.live.List() {
		if err := j.terminate(pid); err != nil {
			j.logger.Error("terminating job process failed", "job_id", j.cfg.ID, "pid", pid, "error", err)
		}
	}
}

func (j *Job) shell() string {
	if j.shellPath != "" {
		return j.shellPath
	}
	return osspec.ShellLocation()
}
