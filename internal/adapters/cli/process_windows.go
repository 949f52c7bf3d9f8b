//go:build windows

package cli

import (
	"os/exec"
	"time"
)

// configureProcAttr only bounds the wait on Windows (Setpgid not supported).
func configureProcAttr(cmd *exec.Cmd) {
	cmd.WaitDelay = 5 * time.Second
}
