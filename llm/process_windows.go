//go:build windows

package llm

import (
	"os/exec"
	"time"
)

func configureProcess(cmd *exec.Cmd, waitDelay time.Duration) {
	cmd.WaitDelay = waitDelay
}
