//go:build !windows

package diagnostics

import (
	"os"
	"runtime"
	"syscall"
)

// CountFDs returns the number of open file descriptors and the soft limit.
func CountFDs() (open, limit int) {
	dir := "/proc/self/fd"
	if runtime.GOOS == "darwin" {
		dir = "/dev/fd"
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0
	}

	var rlim syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rlim); err == nil {
		limit = int(rlim.Cur) // #nosec G115
	}
	return len(entries), limit
}
