//go:build unix

package osspec_test

import (
	"os/exec"
	"testing"
	"time"

	"github.com/CZERTAINLY/rem/internal/osspec"
	"github.com/stretchr/testify/require"
)

func TestCommandLine(t *testing.T) {
	t.Parallel()
	require.Equal(t,
		[]string{"/bin/bash", "-c", "echo hi"},
		osspec.CommandLine("/bin/bash", "echo hi", false),
	)
	require.Equal(t,
		[]string{"/bin/bash", "-o", "pipefail", "-c", "false | true"},
		osspec.CommandLine("/bin/bash", "false | true", true),
	)
}

func TestShellLocation(t *testing.T) {
	t.Setenv("REM_SHELL", "/opt/shell")
	require.Equal(t, "/opt/shell", osspec.ShellLocation())
}

func TestExitCode(t *testing.T) {
	t.Parallel()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}

	cmd := exec.Command(sh, "-c", "exit 3")
	_ = cmd.Run()
	require.Equal(t, 3, osspec.ExitCode(cmd.ProcessState))

	require.Equal(t, -1, osspec.ExitCode(nil))
}

func TestTerminate(t *testing.T) {
	t.Parallel()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}

	cmd := exec.Command(sh, "-c", "sleep 30 & sleep 30")
	cmd.SysProcAttr = osspec.SysProcAttr()
	require.NoError(t, cmd.Start())

	start := time.Now()
	require.NoError(t, osspec.Terminate(cmd.Process.Pid))
	_ = cmd.Wait()
	require.Less(t, time.Since(start), 10*time.Second)
	require.Equal(t, -9, osspec.ExitCode(cmd.ProcessState))

	// already reaped, nothing to kill
	require.NoError(t, osspec.Terminate(cmd.Process.Pid))
	require.Error(t, osspec.Terminate(0))
}
