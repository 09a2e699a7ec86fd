// Package limiter implements admission control shared by the jobs of a packet.
package limiter

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/CZERTAINLY/rem/internal/job"
)

type Config struct {
	// MaxRunning caps concurrently running jobs, zero means no cap.
	MaxRunning int
	// StartsPerSecond is a sustained start rate, zero disables it.
	StartsPerSecond float64
	// Burst defaults to 1 when a rate is set.
	Burst int
}

// Limiter is safe for concurrent use. CanStart only peeks, a start token
// is consumed by TryStart or OnStart.
type Limiter struct {
	mx       sync.Mutex
	cfg      Config
	rate     *rate.Limiter
	running  map[string]struct{}
	reserved map[string]struct{} // admitted by TryStart, OnStart not seen yet
	now      func() time.Time
}

func New(cfg Config) *Limiter {
	l := &Limiter{
		cfg:     cfg,
		running:  make(map[string]struct{}),
		reserved: make(map[string]struct{}),
		now:      time.Now,
	}
	if cfg.StartsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		l.rate = rate.NewLimiter(rate.Limit(cfg.StartsPerSecond), burst)
	}
	return l
}

func (l *Limiter) CanStart() bool {
	l.mx.Lock()
	defer l.mx.Unlock()
	if l.full() {
		return false
	}
	if l.rate != nil && l.rate.TokensAt(l.now()) < 1 {
		return false
	}
	return true
}

// TryStart admits the job id when both limits allow it. The job counts as
// running and its start token is taken right away, the following OnStart
// of the same job only confirms the reservation. A job which is not run
// after all must be given back by Release.
func (l *Limiter) TryStart(id string) bool {
	l.mx.Lock()
	defer l.mx.Unlock()
	if _, ok := l.running[id]; ok {
		return false
	}
	if l.full() {
		return false
	}
	if l.rate != nil && !l.rate.AllowN(l.now(), 1) {
		return false
	}
	l.running[id] = struct{}{}
	l.reserved[id] = struct{}{}
	return true
}

// Release drops a reservation made by TryStart. Started jobs are left
// alone, OnDone removes them.
func (l *Limiter) Release(id string) {
	l.mx.Lock()
	defer l.mx.Unlock()
	if _, ok := l.reserved[id]; !ok {
		return
	}
	delete(l.reserved, id)
	delete(l.running, id)
}

func (l *Limiter) OnStart(j *job.Job) {
	l.mx.Lock()
	defer l.mx.Unlock()
	id := j.ID()
	if _, ok := l.reserved[id]; ok {
		delete(l.reserved, id)
		return
	}
	l.running[id] = struct{}{}
	if l.rate != nil {
		// may go into debt when the caller skipped CanStart
		l.rate.ReserveN(l.now(), 1)
	}
}

func (l *Limiter) OnDone(j *job.Job) {
	l.mx.Lock()
	defer l.mx.Unlock()
	delete(l.running, j.ID())
	delete(l.reserved, j.ID())
}

func (l *Limiter) full() bool {
	return l.cfg.MaxRunning > 0 && len(l.running) >= l.cfg.MaxRunning
}

// Running returns the number of jobs between TryStart or OnStart and OnDone.
func (l *Limiter) Running() int {
	l.mx.Lock()
	defer l.mx.Unlock()
	return len(l.running)
}

var _ job.Limiter = (*Limiter)(nil)
