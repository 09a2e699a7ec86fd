//go:build !unix

package osspec

import (
	"fmt"
	"os"
	"syscall"
)

// SysProcAttr returns nil, process groups are a unix feature.
func SysProcAttr() *syscall.SysProcAttr {
	return nil
}

// Terminate kills pid only, descendants survive on this platform.
func Terminate(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("looking up pid %d: %w", pid, err)
	}
	return p.Kill()
}

func signaled(_ *os.ProcessState) (int, bool) {
	return 0, false
}
