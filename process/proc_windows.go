//go:build windows

package process

import (
	"os"
	"os/exec"
)

func defaultShell() (string, string) {
	if sh := os.Getenv("SHELLAGENT_SHELL"); sh != "" {
		return sh, "/C"
	}
	return "cmd", "/C"
}

func configureProcessGroup(cmd *exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func signalExitCode(state *os.ProcessState) int {
	return state.ExitCode()
}
