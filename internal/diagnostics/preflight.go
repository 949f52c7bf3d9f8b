package diagnostics

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// PreflightResult contains the result of pre-execution checks.
type PreflightResult struct {
	OK           bool
	Warnings     []string
	Errors       []string
	FreeMemoryMB float64
	FreeDiskMB   float64
}

// Preflight checks that the host has enough free memory and disk for a
// generation call.
type Preflight struct {
	minFreeMemoryMB int
	minFreeDiskMB   int
	diskPath        string

	memAvailable func() (uint64, error)
	diskFree     func(path string) (uint64, error)
}

// NewPreflight creates a preflight checker. A zero threshold disables the
// matching check.
func NewPreflight(minFreeMemoryMB, minFreeDiskMB int, diskPath string) *Preflight {
	if diskPath == "" {
		diskPath = rootDiskPath()
	}
	return &Preflight{
		minFreeMemoryMB: minFreeMemoryMB,
		minFreeDiskMB:   minFreeDiskMB,
		diskPath:        diskPath,
		memAvailable: func() (uint64, error) {
			vm, err := mem.VirtualMemory()
			if err != nil {
				return 0, err
			}
			return vm.Available, nil
		},
		diskFree: func(path string) (uint64, error) {
			usage, err := disk.Usage(path)
			if err != nil {
				return 0, err
			}
			return usage.Free, nil
		},
	}
}

// Run performs the checks. Probe failures are reported as warnings.
func (p *Preflight) Run() PreflightResult {
	result := PreflightResult{OK: true}

	if p.minFreeMemoryMB > 0 {
		avail, err := p.memAvailable()
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("reading memory: %v", err))
		} else {
			result.FreeMemoryMB = float64(avail) / 1024 / 1024
			p.check(&result, "memory", result.FreeMemoryMB, p.minFreeMemoryMB)
		}
	}

	if p.minFreeDiskMB > 0 {
		free, err := p.diskFree(p.diskPath)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("reading disk usage of %s: %v", p.diskPath, err))
		} else {
			result.FreeDiskMB = float64(free) / 1024 / 1024
			p.check(&result, "disk", result.FreeDiskMB, p.minFreeDiskMB)
		}
	}

	return result
}

func (p *Preflight) check(result *PreflightResult, what string, freeMB float64, minMB int) {
	switch {
	case freeMB < float64(minMB):
		result.OK = false
		result.Errors = append(result.Errors,
			fmt.Sprintf("insufficient free %s: %.0f MB (minimum: %d MB)", what, freeMB, minMB))
	case freeMB < float64(minMB)*1.5:
		// Warning if approaching threshold
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("free %s approaching limit: %.0f MB", what, freeMB))
	}
}
