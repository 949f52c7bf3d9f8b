package diagnostics

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/jaypipes/ghw"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemMetrics holds system-wide resource usage.
type SystemMetrics struct {
	// CPU
	CPUModel   string  `json:"cpu_model"`
	CPUCores   int     `json:"cpu_cores"`
	CPUThreads int     `json:"cpu_threads"`
	CPUPercent float64 `json:"cpu_percent"`

	// Memory (in MB)
	MemTotalMB     float64 `json:"mem_total_mb"`
	MemAvailableMB float64 `json:"mem_available_mb"`
	MemPercent     float64 `json:"mem_percent"`

	// Disk (in GB) for the filesystem holding DiskPath
	DiskPath    string  `json:"disk_path"`
	DiskTotalGB float64 `json:"disk_total_gb"`
	DiskFreeGB  float64 `json:"disk_free_gb"`
	DiskPercent float64 `json:"disk_percent"`

	// Load Average (Unix)
	LoadAvg1  float64 `json:"load_avg_1"`
	LoadAvg5  float64 `json:"load_avg_5"`
	LoadAvg15 float64 `json:"load_avg_15"`

	// GPU names (best-effort)
	GPUs []string `json:"gpus,omitempty"`
}

// SystemCollector collects system-wide statistics.
type SystemCollector struct {
	mu       sync.Mutex
	diskPath string

	lastCPUTotal float64
	lastCPUIdle  float64

	infoCollected bool
	cpuModel      string
	cpuCores      int
	cpuThreads    int
	gpus          []string
}

// NewSystemCollector creates a collector reporting disk usage for diskPath.
func NewSystemCollector(diskPath string) *SystemCollector {
	if diskPath == "" {
		diskPath = rootDiskPath()
	}
	return &SystemCollector{diskPath: diskPath}
}

// Collect gathers current system statistics.
func (c *SystemCollector) Collect() SystemMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := SystemMetrics{DiskPath: c.diskPath}
	c.collectHardwareInfo(&stats)
	c.collectMemoryInfo(&stats)
	c.collectCPUInfo(&stats)
	c.collectDiskInfo(&stats)
	c.collectLoadAvg(&stats)
	return stats
}

func (c *SystemCollector) collectMemoryInfo(stats *SystemMetrics) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return
	}
	stats.MemTotalMB = float64(vm.Total) / 1024 / 1024
	stats.MemAvailableMB = float64(vm.Available) / 1024 / 1024
	stats.MemPercent = vm.UsedPercent
}

// collectCPUInfo derives usage from the delta between two calls, so the
// first call reports zero.
func (c *SystemCollector) collectCPUInfo(stats *SystemMetrics) {
	times, err := cpu.Times(false)
	if err != nil || len(times) == 0 {
		return
	}

	t := times[0]
	total := t.User + t.Nice + t.System + t.Idle + t.Iowait + t.Irq + t.Softirq + t.Steal
	idleTime := t.Idle + t.Iowait

	if c.lastCPUTotal > 0 {
		totalDelta := total - c.lastCPUTotal
		idleDelta := idleTime - c.lastCPUIdle
		if totalDelta > 0 {
			stats.CPUPercent = (1 - idleDelta/totalDelta) * 100
		}
	}

	c.lastCPUTotal = total
	c.lastCPUIdle = idleTime
}

func (c *SystemCollector) collectDiskInfo(stats *SystemMetrics) {
	usage, err := disk.Usage(c.diskPath)
	if err != nil {
		return
	}
	stats.DiskTotalGB = float64(usage.Total) / 1024 / 1024 / 1024
	stats.DiskFreeGB = float64(usage.Free) / 1024 / 1024 / 1024
	stats.DiskPercent = usage.UsedPercent
}

func (c *SystemCollector) collectLoadAvg(stats *SystemMetrics) {
	avg, err := load.Avg()
	if err != nil {
		return
	}
	stats.LoadAvg1 = avg.Load1
	stats.LoadAvg5 = avg.Load5
	stats.LoadAvg15 = avg.Load15
}

func (c *SystemCollector) collectHardwareInfo(stats *SystemMetrics) {
	if !c.infoCollected {
		if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
			c.cpuModel = strings.TrimSpace(infos[0].ModelName)
		}
		if cores, err := cpu.Counts(false); err == nil && cores > 0 {
			c.cpuCores = cores
		}
		if threads, err := cpu.Counts(true); err == nil && threads > 0 {
			c.cpuThreads = threads
		}
		c.gpus = queryGPUNames()
		c.infoCollected = true
	}
	stats.CPUModel = c.cpuModel
	stats.CPUCores = c.cpuCores
	stats.CPUThreads = c.cpuThreads
	stats.GPUs = append([]string(nil), c.gpus...)
}

func queryGPUNames() []string {
	info, err := ghw.GPU()
	if err != nil || info == nil || len(info.GraphicsCards) == 0 {
		return nil
	}

	names := make([]string, 0, len(info.GraphicsCards))
	for _, card := range info.GraphicsCards {
		name := ""
		if card.DeviceInfo != nil {
			if card.DeviceInfo.Vendor != nil && card.DeviceInfo.Product != nil {
				name = strings.TrimSpace(card.DeviceInfo.Vendor.Name + " " + card.DeviceInfo.Product.Name)
			} else if card.DeviceInfo.Product != nil {
				name = strings.TrimSpace(card.DeviceInfo.Product.Name)
			} else if card.DeviceInfo.Vendor != nil {
				name = strings.TrimSpace(card.DeviceInfo.Vendor.Name)
			}
		}
		if name == "" {
			name = fmt.Sprintf("GPU %d", card.Index)
		}
		names = append(names, name)
	}
	return names
}

func rootDiskPath() string {
	if runtime.GOOS == "windows" {
		drive := os.Getenv("SystemDrive")
		if drive == "" {
			drive = "C:"
		}
		return drive + "\\"
	}
	return "/"
}
