// Package config loads and validates docforge configuration.
package config

import "time"

// Config holds all application configuration.
type Config struct {
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
	State       StateConfig       `mapstructure:"state" yaml:"state"`
	Documents   DocumentsConfig   `mapstructure:"documents" yaml:"documents"`
	Ingestion   IngestionConfig   `mapstructure:"ingestion" yaml:"ingestion"`
	Generation  GenerationConfig  `mapstructure:"generation" yaml:"generation"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline" yaml:"pipeline"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler" yaml:"scheduler"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics" yaml:"diagnostics"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// StateConfig configures the ledger, checkpoint store and process lock.
type StateConfig struct {
	Backend     string        `mapstructure:"backend" yaml:"backend"`
	Path        string        `mapstructure:"path" yaml:"path"`
	Dir         string        `mapstructure:"dir" yaml:"dir"`
	LockPath    string        `mapstructure:"lock_path" yaml:"lock_path"`
	LockTTL     time.Duration `mapstructure:"lock_ttl" yaml:"lock_ttl"`
	LockTimeout time.Duration `mapstructure:"lock_timeout" yaml:"lock_timeout"`
}

// DocumentsConfig configures the document store.
type DocumentsConfig struct {
	Dir                  string `mapstructure:"dir" yaml:"dir"`
	IntermediateLocation string `mapstructure:"intermediate_location" yaml:"intermediate_location"`
	FinalLocation        string `mapstructure:"final_location" yaml:"final_location"`
}

// IngestionConfig configures the ingestion source and its limits.
type IngestionConfig struct {
	InboxDir      string `mapstructure:"inbox_dir" yaml:"inbox_dir"`
	MaxItemBytes  int64  `mapstructure:"max_item_bytes" yaml:"max_item_bytes"`
	MaxTotalChars int    `mapstructure:"max_total_chars" yaml:"max_total_chars"`
}

// GenerationConfig configures the CLI generation backend.
type GenerationConfig struct {
	Agent       string            `mapstructure:"agent" yaml:"agent"`
	Path        string            `mapstructure:"path" yaml:"path"`
	Model       string            `mapstructure:"model" yaml:"model"`
	PhaseModels map[string]string `mapstructure:"phase_models" yaml:"phase_models"`
	Timeout     time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	Preflight   bool              `mapstructure:"preflight" yaml:"preflight"`
}

// ModelFor returns the model configured for a generation purpose, falling
// back to the default model.
func (g GenerationConfig) ModelFor(purpose string) string {
	if m, ok := g.PhaseModels[purpose]; ok && m != "" {
		return m
	}
	return g.Model
}

// PipelineConfig configures the phase runners.
type PipelineConfig struct {
	ExecutionBudget     time.Duration `mapstructure:"execution_budget" yaml:"execution_budget"`
	ContinuationDelay   time.Duration `mapstructure:"continuation_delay" yaml:"continuation_delay"`
	TailParagraphs      int           `mapstructure:"tail_paragraphs" yaml:"tail_paragraphs"`
	PlanningMaxAttempts int           `mapstructure:"planning_max_attempts" yaml:"planning_max_attempts"`
	SinglePassLimit     int           `mapstructure:"single_pass_limit" yaml:"single_pass_limit"`
	ChunkSize           int           `mapstructure:"chunk_size" yaml:"chunk_size"`
	ChunkDelay          time.Duration `mapstructure:"chunk_delay" yaml:"chunk_delay"`
	ErrorMessageLimit   int           `mapstructure:"error_message_limit" yaml:"error_message_limit"`
}

// SchedulerConfig configures continuation delivery.
type SchedulerConfig struct {
	Mode         string        `mapstructure:"mode" yaml:"mode"`
	TickInterval time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// ServerConfig configures the HTTP invocation server.
type ServerConfig struct {
	Host        string   `mapstructure:"host" yaml:"host"`
	Port        int      `mapstructure:"port" yaml:"port"`
	EnableCORS  bool     `mapstructure:"enable_cors" yaml:"enable_cors"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// DiagnosticsConfig configures crash dumps, generation preflight thresholds
// and the resource monitor used by `docforge serve`.
type DiagnosticsConfig struct {
	CrashDumpDir    string        `mapstructure:"crash_dump_dir" yaml:"crash_dump_dir"`
	MaxCrashDumps   int           `mapstructure:"max_crash_dumps" yaml:"max_crash_dumps"`
	MinFreeMemoryMB int           `mapstructure:"min_free_memory_mb" yaml:"min_free_memory_mb"`
	MinFreeDiskMB   int           `mapstructure:"min_free_disk_mb" yaml:"min_free_disk_mb"`
	MonitorInterval time.Duration `mapstructure:"monitor_interval" yaml:"monitor_interval"`
}
