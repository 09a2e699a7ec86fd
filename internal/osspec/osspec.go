// Package osspec hides the operating system specific parts of running a job:
// locating the shell, placing the child into its own process group, killing
// the whole group and decoding the exit status.
package osspec

import (
	"os"
	"os/exec"
)

const shellEnv = "REM_SHELL"

// ShellLocation returns $REM_SHELL, bash from PATH or /bin/sh, in that order.
func ShellLocation() string {
	if sh, ok := os.LookupEnv(shellEnv); ok && sh != "" {
		return sh
	}
	if sh, err := exec.LookPath("bash"); err == nil {
		return sh
	}
	return "/bin/sh"
}

// CommandLine builds the argv for running command through the shell.
func CommandLine(shell, command string, pipeFail bool) []string {
	args := []string{shell}
	if pipeFail {
		args = append(args, "-o", "pipefail")
	}
	return append(args, "-c", command)
}

// ExitCode decodes a finished process state. A process terminated by a signal
// yields the negative signal number.
func ExitCode(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	if sig, ok := signaled(state); ok {
		return -sig
	}
	return state.ExitCode()
}
