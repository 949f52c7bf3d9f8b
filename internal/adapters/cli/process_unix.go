//go:build !windows

package cli

import (
	"os/exec"
	"syscall"
	"time"
)

// configureProcAttr isolates the agent in its own process group and makes
// context cancellation signal the whole group, so helper processes spawned
// by the agent CLI do not outlive it.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM); err != nil && err != syscall.ESRCH {
			return err
		}
		return nil
	}
	cmd.WaitDelay = 5 * time.Second
}
