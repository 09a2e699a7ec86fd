package job_test

import (
	"context"
	"fmt"
	"os/exec"
	"slices"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/CZERTAINLY/rem/internal/job"
	"github.com/CZERTAINLY/rem/internal/log"
	"github.com/CZERTAINLY/rem/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recorder collects lifecycle events of several listeners in one place
type recorder struct {
	mx     sync.Mutex
	events []string
}

func (r *recorder) add(event string) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) list() []string {
	r.mx.Lock()
	defer r.mx.Unlock()
	return slices.Clone(r.events)
}

type fakePacket struct {
	mx       sync.Mutex
	dir      string
	state    model.PacketState
	killAll  bool
	emails   []string
	suspends []bool
	states   []model.PacketState
	rec      *recorder
	jobs     []*job.Job
}

func newPacket(t *testing.T) *fakePacket {
	t.Helper()
	return &fakePacket{
		dir:   t.TempDir(),
		state: model.PacketWorkable,
		rec:   &recorder{},
	}
}

func (p *fakePacket) OnStart(j *job.Job) { p.rec.add("packet:start:" + j.ID()) }
func (p *fakePacket) OnDone(j *job.Job)  { p.rec.add("packet:done:" + j.ID()) }
func (p *fakePacket) Directory() string  { return p.dir }

func (p *fakePacket) State() model.PacketState {
	p.mx.Lock()
	defer p.mx.Unlock()
	return p.state
}

func (p *fakePacket) KillAllJobsOnError() bool { return p.killAll }
func (p *fakePacket) NotifyEmails() []string   { return p.emails }

func (p *fakePacket) UserSuspend(killJobs bool) {
	p.mx.Lock()
	p.suspends = append(p.suspends, killJobs)
	p.state = model.PacketSuspended
	jobs := slices.Clone(p.jobs)
	p.mx.Unlock()
	if killJobs {
		for _, j := range jobs {
			j.Terminate()
		}
	}
}

func (p *fakePacket) ChangeState(state model.PacketState) {
	p.mx.Lock()
	defer p.mx.Unlock()
	p.states = append(p.states, state)
	p.state = state
}

func (p *fakePacket) LongExecutionWarning(j *job.Job) string {
	return fmt.Sprintf("job %s runs too long", j.ID())
}

type fakeLimiter struct {
	allow bool
	rec   *recorder
}

func (l *fakeLimiter) CanStart() bool     { return l.allow }
func (l *fakeLimiter) OnStart(j *job.Job) { l.rec.add("limiter:start:" + j.ID()) }
func (l *fakeLimiter) OnDone(j *job.Job)  { l.rec.add("limiter:done:" + j.ID()) }

type fakeNotifier struct {
	mx       sync.Mutex
	messages []string
	to       [][]string
	err      error
}

func (n *fakeNotifier) Send(_ context.Context, recipients []string, message string) error {
	n.mx.Lock()
	defer n.mx.Unlock()
	n.messages = append(n.messages, message)
	n.to = append(n.to, recipients)
	return n.err
}

func (n *fakeNotifier) count() int {
	n.mx.Lock()
	defer n.mx.Unlock()
	return len(n.messages)
}

func lookSh(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	return sh
}

func newJob(t *testing.T, cfg job.Config, p *fakePacket) *job.Job {
	t.Helper()
	j := job.New(cfg, p, nil).
		WithShell(lookSh(t)).
		WithLogger(log.Discard()).
		WithPollInterval(5 * time.Millisecond)
	p.mx.Lock()
	p.jobs = append(p.jobs, j)
	p.mx.Unlock()
	return j
}
