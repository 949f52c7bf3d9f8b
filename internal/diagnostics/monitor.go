package diagnostics

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// ResourceSnapshot is the process resource state at one instant.
type ResourceSnapshot struct {
	Timestamp      time.Time     `json:"timestamp"`
	OpenFDs        int           `json:"open_fds"`
	MaxFDs         int           `json:"max_fds"`
	FDUsagePercent float64       `json:"fd_usage_percent"`
	Goroutines     int           `json:"goroutines"`
	HeapAllocMB    float64       `json:"heap_alloc_mb"`
	NumGC          uint32        `json:"num_gc"`
	ProcessUptime  time.Duration `json:"process_uptime"`
}

// ResourceTrend is the hourly growth observed across the monitor history.
type ResourceTrend struct {
	FDGrowthRate        float64
	GoroutineGrowthRate float64
	MemoryGrowthRate    float64 // MB per hour
	IsHealthy           bool
	Warnings            []string
}

// Hourly growth above these rates is reported as a probable leak. A
// server that resumes paused tasks all day should stay flat.
const (
	maxFDGrowth        = 10
	maxGoroutineGrowth = 100
	maxHeapGrowthMB    = 100
	minTrendWindow     = 36 * time.Second
)

// ResourceMonitor samples the process while `docforge serve` runs and
// keeps the most recent samples for trend analysis and crash dumps.
type ResourceMonitor struct {
	interval time.Duration
	logger   *slog.Logger
	started  time.Time

	mu      sync.RWMutex
	samples []ResourceSnapshot
	next    int
	full    bool

	stopOnce sync.Once
	stop     chan struct{}
}

// NewResourceMonitor creates a monitor keeping historySize samples taken
// every interval. Zero values select 120 samples every 30 seconds.
func NewResourceMonitor(interval time.Duration, historySize int, logger *slog.Logger) *ResourceMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if historySize <= 0 {
		historySize = 120
	}
	return &ResourceMonitor{
		interval: interval,
		logger:   logger,
		started:  time.Now(),
		samples:  make([]ResourceSnapshot, historySize),
		stop:     make(chan struct{}),
	}
}

// Run samples until ctx is done or Stop is called, logging a warning for
// each unhealthy trend.
func (m *ResourceMonitor) Run(ctx context.Context) {
	m.record(m.TakeSnapshot())

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
		}
		m.record(m.TakeSnapshot())
		if m.logger == nil {
			continue
		}
		for _, w := range m.Trend().Warnings {
			m.logger.Warn("resource trend", "warning", w)
		}
	}
}

// Stop ends Run. It is safe to call more than once.
func (m *ResourceMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// TakeSnapshot samples the process now without recording the sample.
func (m *ResourceMonitor) TakeSnapshot() ResourceSnapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	s := ResourceSnapshot{
		Timestamp:     time.Now(),
		Goroutines:    runtime.NumGoroutine(),
		HeapAllocMB:   float64(ms.HeapAlloc) / (1 << 20),
		NumGC:         ms.NumGC,
		ProcessUptime: time.Since(m.started),
	}
	s.OpenFDs, s.MaxFDs = CountFDs()
	if s.MaxFDs > 0 {
		s.FDUsagePercent = 100 * float64(s.OpenFDs) / float64(s.MaxFDs)
	}
	return s
}

func (m *ResourceMonitor) record(s ResourceSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples[m.next] = s
	m.next = (m.next + 1) % len(m.samples)
	if m.next == 0 {
		m.full = true
	}
}

// History returns the recorded samples, oldest first.
func (m *ResourceMonitor) History() []ResourceSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.full {
		return append([]ResourceSnapshot(nil), m.samples[:m.next]...)
	}
	out := make([]ResourceSnapshot, 0, len(m.samples))
	out = append(out, m.samples[m.next:]...)
	return append(out, m.samples[:m.next]...)
}

// Trend analyzes the recorded samples.
func (m *ResourceMonitor) Trend() ResourceTrend {
	return trendOf(m.History())
}

func trendOf(history []ResourceSnapshot) ResourceTrend {
	trend := ResourceTrend{IsHealthy: true}
	if len(history) < 2 {
		return trend
	}
	first, last := history[0], history[len(history)-1]
	window := last.Timestamp.Sub(first.Timestamp)
	if window < minTrendWindow {
		return trend
	}

	hours := window.Hours()
	trend.FDGrowthRate = float64(last.OpenFDs-first.OpenFDs) / hours
	trend.GoroutineGrowthRate = float64(last.Goroutines-first.Goroutines) / hours
	trend.MemoryGrowthRate = (last.HeapAllocMB - first.HeapAllocMB) / hours

	warn := func(format string, rate float64) {
		trend.IsHealthy = false
		trend.Warnings = append(trend.Warnings, fmt.Sprintf(format, rate))
	}
	if trend.FDGrowthRate > maxFDGrowth {
		warn("open files growing by %.1f per hour", trend.FDGrowthRate)
	}
	if trend.GoroutineGrowthRate > maxGoroutineGrowth {
		warn("goroutines growing by %.1f per hour", trend.GoroutineGrowthRate)
	}
	if trend.MemoryGrowthRate > maxHeapGrowthMB {
		warn("heap growing by %.1f MB per hour", trend.MemoryGrowthRate)
	}
	return trend
}
