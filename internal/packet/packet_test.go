package packet_test

import (
	"os/exec"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/CZERTAINLY/rem/internal/job"
	"github.com/CZERTAINLY/rem/internal/log"
	"github.com/CZERTAINLY/rem/internal/model"
	"github.com/CZERTAINLY/rem/internal/packet"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newPacket(t *testing.T, killAll bool) *packet.Packet {
	t.Helper()
	return packet.New(packet.Config{
		Name:               "test",
		Directory:          t.TempDir(),
		KillAllJobsOnError: killAll,
		NotifyEmails:       []string{"ops@example.com"},
	}).WithLogger(log.Discard())
}

func addJob(t *testing.T, p *packet.Packet, cfg job.Config) *job.Job {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	j, err := p.NewJob(cfg, nil)
	require.NoError(t, err)
	return j.WithShell(sh).WithLogger(log.Discard()).WithPollInterval(5 * time.Millisecond)
}

func TestPacketLifecycle(t *testing.T) {
	t.Parallel()
	p := newPacket(t, false)
	require.Equal(t, model.PacketCreated, p.State())

	a := addJob(t, p, job.Config{ID: "a", Shell: "true"})
	b := addJob(t, p, job.Config{ID: "b", Shell: "exit 1", MaxTryCount: 2})

	require.NoError(t, p.Start())
	require.ErrorIs(t, p.Start(), packet.ErrState)
	require.Equal(t, model.PacketWorkable, p.State())

	a.Run(t.Context(), nil)
	require.True(t, p.Succeeded("a"))
	require.Equal(t, model.PacketWorkable, p.State())

	b.Run(t.Context(), nil)
	require.False(t, p.Succeeded("b"))

	summary := p.Summary()
	require.Equal(t, model.KindPacketSummary, summary.Kind)
	require.Equal(t, 1, *summary.Code)
	require.Equal(t, "1/2 done", summary.Message)
	require.Empty(t, p.Running())

	got, ok := p.Job("b")
	require.True(t, ok)
	require.Same(t, b, got)
	require.Equal(t, []*job.Job{a, b}, p.Jobs())
}

func TestPacketSuccessful(t *testing.T) {
	t.Parallel()
	p := newPacket(t, true)
	a := addJob(t, p, job.Config{ID: "a", Shell: "true"})
	b := addJob(t, p, job.Config{ID: "b", Shell: "true"})
	require.NoError(t, p.Start())

	a.Run(t.Context(), nil)
	b.Run(t.Context(), nil)

	require.Equal(t, model.PacketSuccessful, p.State())
	summary := p.Summary()
	require.Equal(t, 0, *summary.Code)
	require.Equal(t, "2/2 done", summary.Message)
	require.True(t, summary.Succeeded())
}

func TestPacketErrorOnExhaustedJob(t *testing.T) {
	t.Parallel()
	p := newPacket(t, true)
	sleeper := addJob(t, p, job.Config{ID: "sleeper", Shell: "sleep 30"})
	failing := addJob(t, p, job.Config{ID: "failing", Shell: "exit 3"})
	require.NoError(t, p.Start())

	var wg sync.WaitGroup
	wg.Go(func() {
		sleeper.Run(t.Context(), nil)
	})
	require.Eventually(t, func() bool {
		return len(sleeper.LivePids()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"sleeper"}, p.Running())

	failing.Run(t.Context(), nil)
	wg.Wait()

	require.Equal(t, model.PacketError, p.State())
	res, ok := sleeper.Result()
	require.True(t, ok)
	require.Equal(t, -9, *res.Code)
	last, ok := failing.Result()
	require.True(t, ok)
	require.Equal(t, model.KindTriesExceeded, last.Kind)

	// a finished packet ignores further suspends
	p.UserSuspend(false)
	require.Equal(t, model.PacketError, p.State())
}

func TestUserSuspendWithoutKill(t *testing.T) {
	t.Parallel()
	p := newPacket(t, false)
	sleeper := addJob(t, p, job.Config{ID: "sleeper", Shell: "sleep 0.2"})
	require.NoError(t, p.Start())

	var wg sync.WaitGroup
	wg.Go(func() {
		sleeper.Run(t.Context(), nil)
	})
	require.Eventually(t, func() bool {
		return len(p.Running()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	p.UserSuspend(false)
	require.Equal(t, model.PacketSuspended, p.State())
	wg.Wait()

	res, ok := sleeper.Result()
	require.True(t, ok)
	require.True(t, res.Succeeded())
	// suspended packet does not turn successful
	require.Equal(t, model.PacketSuspended, p.State())
}

func TestAddJobErrors(t *testing.T) {
	t.Parallel()
	p := newPacket(t, false)
	other := newPacket(t, false)

	_, err := p.NewJob(job.Config{ID: "a", Shell: "true"}, nil)
	require.NoError(t, err)
	_, err = p.NewJob(job.Config{ID: "a", Shell: "true"}, nil)
	require.ErrorIs(t, err, model.ErrDuplicateJob)

	foreign := job.New(job.Config{ID: "b", Shell: "true"}, other, nil)
	require.ErrorIs(t, p.AddJob(foreign), packet.ErrForeignJob)
}

func TestAddRestoredJob(t *testing.T) {
	t.Parallel()
	p := newPacket(t, false)
	code := 0
	j, err := job.Restore(job.Snapshot{
		Version:     job.SnapshotVersion,
		ID:          "done",
		Shell:       "true",
		MaxTryCount: 1,
		Tries:       1,
		Results:     []model.Result{{Kind: model.KindOSExit, Code: &code}},
	}, p, nil)
	require.NoError(t, err)
	require.NoError(t, p.AddJob(j))
	require.True(t, p.Succeeded("done"))
	require.Equal(t, "1/1 done", p.Summary().Message)
}

func TestLongExecutionWarning(t *testing.T) {
	t.Parallel()
	p := newPacket(t, false)
	j, err := p.NewJob(job.Config{
		ID:            "slow",
		Description:   "nightly build",
		Shell:         "make all",
		MaxTryCount:   3,
		NotifyTimeout: time.Hour,
	}, nil)
	require.NoError(t, err)

	msg := p.LongExecutionWarning(j)
	require.Contains(t, msg, "Job slow of packet test")
	require.Contains(t, msg, "longer than 1h0m0s")
	require.Contains(t, msg, "Description: nightly build\n")
	require.Contains(t, msg, "Command: make all\n")
	require.Contains(t, msg, "Attempt: 0 of 3\n")
	require.Equal(t, []string{"ops@example.com"}, p.NotifyEmails())
	require.False(t, p.KillAllJobsOnError())
	require.Equal(t, "test", p.Name())
}
