//go:build !windows

package command

import (
	"os/exec"
	"syscall"
)

// setCancel starts c in its own process group and terminates the whole group
// on cancellation, so a target running under the privilege switch stops too.
func setCancel(c *exec.Cmd) {
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		return syscall.Kill(-c.Process.Pid, syscall.SIGTERM)
	}
}
