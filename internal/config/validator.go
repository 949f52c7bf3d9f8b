package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{errors: make(ValidationErrors, 0)}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateState(&cfg.State)
	v.validateDocuments(&cfg.Documents)
	v.validateIngestion(&cfg.Ingestion)
	v.validateGeneration(&cfg.Generation)
	v.validatePipeline(&cfg.Pipeline)
	v.validateScheduler(&cfg.Scheduler, cfg.State.Backend)
	v.validateServer(&cfg.Server)
	v.validateDiagnostics(&cfg.Diagnostics)
	v.validateLockTTL(cfg)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{Field: field, Value: value, Message: msg})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	if !contains(core.LogLevels, cfg.Level) {
		v.addError("log.level", cfg.Level, "must be one of: "+strings.Join(core.LogLevels, ", "))
	}
	if !contains(core.LogFormats, cfg.Format) {
		v.addError("log.format", cfg.Format, "must be one of: "+strings.Join(core.LogFormats, ", "))
	}
	if cfg.File != "" && !isValidPath(cfg.File) {
		v.addError("log.file", cfg.File, "invalid file path")
	}
}

func (v *Validator) validateState(cfg *StateConfig) {
	if !contains(core.StateBackends, cfg.Backend) {
		v.addError("state.backend", cfg.Backend, "must be one of: "+strings.Join(core.StateBackends, ", "))
	}
	switch cfg.Backend {
	case core.StateBackendSQLite:
		if cfg.Path == "" {
			v.addError("state.path", cfg.Path, "path required for sqlite backend")
		}
	case core.StateBackendJSON:
		if cfg.Dir == "" {
			v.addError("state.dir", cfg.Dir, "directory required for json backend")
		}
	}
	if cfg.LockPath == "" {
		v.addError("state.lock_path", cfg.LockPath, "path required")
	}
	v.positiveDuration("state.lock_ttl", cfg.LockTTL)
	v.positiveDuration("state.lock_timeout", cfg.LockTimeout)
}

// validateLockTTL requires the lock to outlive one slice: the execution
// budget plus the generation call that may start just before it runs out.
func (v *Validator) validateLockTTL(cfg *Config) {
	if cfg.State.LockTTL <= 0 || cfg.Pipeline.ExecutionBudget <= 0 || cfg.Generation.Timeout <= 0 {
		return
	}
	if slice := cfg.Pipeline.ExecutionBudget + cfg.Generation.Timeout; cfg.State.LockTTL < slice {
		v.addError("state.lock_ttl", cfg.State.LockTTL,
			fmt.Sprintf("must be at least pipeline.execution_budget + generation.timeout (%s)", slice))
	}
}

func (v *Validator) validateDocuments(cfg *DocumentsConfig) {
	if cfg.Dir == "" {
		v.addError("documents.dir", cfg.Dir, "directory required")
	}
	for field, loc := range map[string]string{
		"documents.intermediate_location": cfg.IntermediateLocation,
		"documents.final_location":        cfg.FinalLocation,
	} {
		if loc == "" || strings.ContainsAny(loc, `/\`) || loc == "." || loc == ".." {
			v.addError(field, loc, "must be a single folder name")
		}
	}
}

func (v *Validator) validateIngestion(cfg *IngestionConfig) {
	if cfg.InboxDir == "" {
		v.addError("ingestion.inbox_dir", cfg.InboxDir, "directory required")
	}
	if cfg.MaxItemBytes <= 0 {
		v.addError("ingestion.max_item_bytes", cfg.MaxItemBytes, "must be positive")
	}
	if cfg.MaxTotalChars <= 0 {
		v.addError("ingestion.max_total_chars", cfg.MaxTotalChars, "must be positive")
	}
}

func (v *Validator) validateGeneration(cfg *GenerationConfig) {
	if !core.IsValidAgent(cfg.Agent) {
		v.addError("generation.agent", cfg.Agent, "must be one of: "+strings.Join(core.Agents, ", "))
	}
	if cfg.Path == "" {
		v.addError("generation.path", cfg.Path, "path required")
	}
	v.positiveDuration("generation.timeout", cfg.Timeout)
	for purpose, model := range cfg.PhaseModels {
		if !core.IsValidPurpose(purpose) {
			v.addError("generation.phase_models", purpose, "unknown purpose")
			continue
		}
		if strings.TrimSpace(model) == "" {
			v.addError("generation.phase_models."+purpose, model, "model cannot be empty")
		}
	}
}

func (v *Validator) validatePipeline(cfg *PipelineConfig) {
	v.positiveDuration("pipeline.execution_budget", cfg.ExecutionBudget)
	if cfg.ContinuationDelay < 0 {
		v.addError("pipeline.continuation_delay", cfg.ContinuationDelay, "must be non-negative")
	}
	if cfg.ChunkDelay < 0 {
		v.addError("pipeline.chunk_delay", cfg.ChunkDelay, "must be non-negative")
	}
	if cfg.TailParagraphs < 0 {
		v.addError("pipeline.tail_paragraphs", cfg.TailParagraphs, "must be non-negative")
	}
	if cfg.PlanningMaxAttempts < 1 || cfg.PlanningMaxAttempts > 10 {
		v.addError("pipeline.planning_max_attempts", cfg.PlanningMaxAttempts, "must be between 1 and 10")
	}
	if cfg.ChunkSize <= 0 {
		v.addError("pipeline.chunk_size", cfg.ChunkSize, "must be positive")
	}
	if cfg.SinglePassLimit < cfg.ChunkSize {
		v.addError("pipeline.single_pass_limit", cfg.SinglePassLimit, "must be >= pipeline.chunk_size")
	}
	if cfg.ErrorMessageLimit < 20 {
		v.addError("pipeline.error_message_limit", cfg.ErrorMessageLimit, "must be at least 20")
	}
}

func (v *Validator) validateScheduler(cfg *SchedulerConfig, backend string) {
	if !contains(core.SchedulerModes, cfg.Mode) {
		v.addError("scheduler.mode", cfg.Mode, "must be one of: "+strings.Join(core.SchedulerModes, ", "))
	}
	if cfg.Mode == core.SchedulerModeQueue && backend == core.StateBackendJSON {
		v.addError("scheduler.mode", cfg.Mode, "queue mode requires the sqlite state backend")
	}
	v.positiveDuration("scheduler.tick_interval", cfg.TickInterval)
	v.positiveDuration("scheduler.poll_interval", cfg.PollInterval)
}

func (v *Validator) validateServer(cfg *ServerConfig) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		v.addError("server.port", cfg.Port, "must be between 0 and 65535")
	}
}

func (v *Validator) validateDiagnostics(cfg *DiagnosticsConfig) {
	if cfg.MaxCrashDumps < 0 {
		v.addError("diagnostics.max_crash_dumps", cfg.MaxCrashDumps, "must not be negative")
	}
	if cfg.MinFreeMemoryMB < 0 {
		v.addError("diagnostics.min_free_memory_mb", cfg.MinFreeMemoryMB, "must not be negative")
	}
	if cfg.MinFreeDiskMB < 0 {
		v.addError("diagnostics.min_free_disk_mb", cfg.MinFreeDiskMB, "must not be negative")
	}
	v.positiveDuration("diagnostics.monitor_interval", cfg.MonitorInterval)
}

func (v *Validator) positiveDuration(field string, d time.Duration) {
	if d <= 0 {
		v.addError(field, d, "must be a positive duration")
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func isValidPath(path string) bool {
	dir := filepath.Dir(path)
	_, err := os.Stat(dir)
	return err == nil || os.IsNotExist(err)
}

// ValidateConfig is a convenience function that creates a validator and validates config.
func ValidateConfig(cfg *Config) error {
	return NewValidator().Validate(cfg)
}
