package config

import (
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Default values shared by the loader, `docforge init` and tests.
const (
	DefaultStateDir       = ".docforge/state"
	DefaultStatePath      = ".docforge/state/docforge.db"
	DefaultLockPath       = ".docforge/state/docforge.lock"
	DefaultDocumentsDir   = ".docforge/documents"
	DefaultInboxDir       = ".docforge/inbox"
	DefaultCrashDumpDir   = ".docforge/crashdumps"
	DefaultMaxItemBytes   = 10 * 1024 * 1024
	DefaultMaxTotalChars  = 2_000_000
	DefaultSinglePass     = 300_000
	DefaultChunkSize      = 100_000
	DefaultTailParagraphs = 6
)

// SetDefaults configures default values on a viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")
	v.SetDefault("log.file", "")

	v.SetDefault("state.backend", "sqlite")
	v.SetDefault("state.path", DefaultStatePath)
	v.SetDefault("state.dir", DefaultStateDir)
	v.SetDefault("state.lock_path", DefaultLockPath)
	v.SetDefault("state.lock_ttl", time.Hour)
	v.SetDefault("state.lock_timeout", 5*time.Second)

	v.SetDefault("documents.dir", DefaultDocumentsDir)
	v.SetDefault("documents.intermediate_location", "intermediate")
	v.SetDefault("documents.final_location", "final")

	v.SetDefault("ingestion.inbox_dir", DefaultInboxDir)
	v.SetDefault("ingestion.max_item_bytes", DefaultMaxItemBytes)
	v.SetDefault("ingestion.max_total_chars", DefaultMaxTotalChars)

	v.SetDefault("generation.agent", "claude")
	v.SetDefault("generation.path", "claude")
	v.SetDefault("generation.model", "")
	v.SetDefault("generation.timeout", 10*time.Minute)
	v.SetDefault("generation.preflight", true)

	v.SetDefault("pipeline.execution_budget", 5*time.Minute)
	v.SetDefault("pipeline.continuation_delay", time.Minute)
	v.SetDefault("pipeline.tail_paragraphs", DefaultTailParagraphs)
	v.SetDefault("pipeline.planning_max_attempts", 3)
	v.SetDefault("pipeline.single_pass_limit", DefaultSinglePass)
	v.SetDefault("pipeline.chunk_size", DefaultChunkSize)
	v.SetDefault("pipeline.chunk_delay", 2*time.Second)
	v.SetDefault("pipeline.error_message_limit", 500)

	v.SetDefault("scheduler.mode", "queue")
	v.SetDefault("scheduler.tick_interval", time.Minute)
	v.SetDefault("scheduler.poll_interval", 5*time.Second)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.enable_cors", true)
	v.SetDefault("server.cors_origins", []string{"http://localhost:5173"})

	v.SetDefault("diagnostics.crash_dump_dir", DefaultCrashDumpDir)
	v.SetDefault("diagnostics.max_crash_dumps", 10)
	v.SetDefault("diagnostics.min_free_memory_mb", 256)
	v.SetDefault("diagnostics.min_free_disk_mb", 512)
	v.SetDefault("diagnostics.monitor_interval", 30*time.Second)
}

// Default returns the configuration produced by the defaults alone.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// defaultConfigHeader introduces the file written by `docforge init`.
const defaultConfigHeader = `# docforge configuration
#
# Every key can be overridden with DOCFORGE_<SECTION>_<KEY>, e.g.
# DOCFORGE_PIPELINE_EXECUTION_BUDGET=4m.
`

// DefaultConfigYAML renders the default configuration as YAML.
func DefaultConfigYAML() ([]byte, error) {
	body, err := yaml.Marshal(yamlView(Default()))
	if err != nil {
		return nil, err
	}
	return append([]byte(defaultConfigHeader+"\n"), body...), nil
}

// yamlView renders durations as strings so the file round-trips through
// viper's duration decoding.
func yamlView(c *Config) map[string]any {
	return map[string]any{
		"log": c.Log,
		"state": map[string]any{
			"backend":      c.State.Backend,
			"path":         c.State.Path,
			"dir":          c.State.Dir,
			"lock_path":    c.State.LockPath,
			"lock_ttl":     c.State.LockTTL.String(),
			"lock_timeout": c.State.LockTimeout.String(),
		},
		"documents": c.Documents,
		"ingestion": c.Ingestion,
		"generation": map[string]any{
			"agent":        c.Generation.Agent,
			"path":         c.Generation.Path,
			"model":        c.Generation.Model,
			"phase_models": map[string]string{},
			"timeout":      c.Generation.Timeout.String(),
			"preflight":    c.Generation.Preflight,
		},
		"pipeline": map[string]any{
			"execution_budget":      c.Pipeline.ExecutionBudget.String(),
			"continuation_delay":    c.Pipeline.ContinuationDelay.String(),
			"tail_paragraphs":       c.Pipeline.TailParagraphs,
			"planning_max_attempts": c.Pipeline.PlanningMaxAttempts,
			"single_pass_limit":     c.Pipeline.SinglePassLimit,
			"chunk_size":            c.Pipeline.ChunkSize,
			"chunk_delay":           c.Pipeline.ChunkDelay.String(),
			"error_message_limit":   c.Pipeline.ErrorMessageLimit,
		},
		"scheduler": map[string]any{
			"mode":          c.Scheduler.Mode,
			"tick_interval": c.Scheduler.TickInterval.String(),
			"poll_interval": c.Scheduler.PollInterval.String(),
		},
		"server": c.Server,
		"diagnostics": map[string]any{
			"crash_dump_dir":     c.Diagnostics.CrashDumpDir,
			"max_crash_dumps":    c.Diagnostics.MaxCrashDumps,
			"min_free_memory_mb": c.Diagnostics.MinFreeMemoryMB,
			"min_free_disk_mb":   c.Diagnostics.MinFreeDiskMB,
			"monitor_interval":   c.Diagnostics.MonitorInterval.String(),
		},
	}
}
