//go:build !windows

package process

import (
	"os"
	"os/exec"
	"syscall"
)

func defaultShell() (string, string) {
	if sh := os.Getenv("SHELLAGENT_SHELL"); sh != "" {
		return sh, "-c"
	}
	return "sh", "-c"
}

// configureProcessGroup puts the shell in its own process group so that a
// timeout takes down pipelines and background jobs along with it.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	if err == syscall.ESRCH {
		return nil
	}
	return err
}

func signalExitCode(state *os.ProcessState) int {
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}
