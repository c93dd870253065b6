//go:build unix

package fetch

import (
	"os/exec"
	"syscall"
	"time"
)

// setProcessGroup runs the tool in its own process group so a timeout kills
// the tool and anything it spawned.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second
}
