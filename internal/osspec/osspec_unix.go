//go:build unix

package osspec

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"
)

// SysProcAttr places the child into a new process group, so Terminate can
// kill its descendants too.
func SysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// Terminate kills the process group led by pid. A pid which no longer
// exists is not an error. The existence lookup is only a pre-check, ESRCH
// from kill is handled the same way. Callers pass pids of children they
// have not reaped yet, such a pid can't be reused by another process.
func Terminate(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	exists, err := process.PidExists(int32(pid))
	if err != nil {
		return fmt.Errorf("looking up pid %d: %w", pid, err)
	}
	if !exists {
		return nil
	}
	err = syscall.Kill(-pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		// not a group leader (anymore), kill at least the process itself
		err = syscall.Kill(pid, syscall.SIGKILL)
	}
	if err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing process group %d: %w", pid, err)
	}
	return nil
}

func signaled(state *os.ProcessState) (int, bool) {
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return 0, false
	}
	return int(ws.Signal()), true
}
