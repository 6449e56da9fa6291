//go:build !windows

package llm

import (
	"os/exec"
	"syscall"
	"time"
)

// configureProcess puts the tool in its own process group so cancellation
// also reaps anything it spawned, which would otherwise hold the pipes open.
func configureProcess(cmd *exec.Cmd, waitDelay time.Duration) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = waitDelay
}
