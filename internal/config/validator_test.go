package config

import (
	"errors"
	"strings"
	"testing"
)

func validConfig() *Config {
	return Default()
}

func TestValidator_Defaults(t *testing.T) {
	if err := ValidateConfig(validConfig()); err != nil {
		t.Fatalf("ValidateConfig() error = %v", err)
	}
}

func TestValidator_Fields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"log level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"backend", func(c *Config) { c.State.Backend = "redis" }, "state.backend"},
		{"sqlite path", func(c *Config) { c.State.Path = "" }, "state.path"},
		{"lock timeout", func(c *Config) { c.State.LockTimeout = 0 }, "state.lock_timeout"},
		{"lock ttl shorter than a slice", func(c *Config) { c.State.LockTTL = c.Pipeline.ExecutionBudget }, "state.lock_ttl"},
		{"final location", func(c *Config) { c.Documents.FinalLocation = "a/b" }, "documents.final_location"},
		{"item cap", func(c *Config) { c.Ingestion.MaxItemBytes = 0 }, "ingestion.max_item_bytes"},
		{"agent", func(c *Config) { c.Generation.Agent = "copilot" }, "generation.agent"},
		{"purpose", func(c *Config) { c.Generation.PhaseModels = map[string]string{"execute": "x"} }, "generation.phase_models"},
		{"budget", func(c *Config) { c.Pipeline.ExecutionBudget = 0 }, "pipeline.execution_budget"},
		{"chunk size", func(c *Config) { c.Pipeline.ChunkSize = 0 }, "pipeline.chunk_size"},
		{"single pass below chunk", func(c *Config) { c.Pipeline.SinglePassLimit = 10 }, "pipeline.single_pass_limit"},
		{"planning attempts", func(c *Config) { c.Pipeline.PlanningMaxAttempts = 0 }, "pipeline.planning_max_attempts"},
		{"scheduler mode", func(c *Config) { c.Scheduler.Mode = "cron" }, "scheduler.mode"},
		{"queue needs sqlite", func(c *Config) { c.State.Backend = "json" }, "scheduler.mode"},
		{"port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"monitor interval", func(c *Config) { c.Diagnostics.MonitorInterval = 0 }, "diagnostics.monitor_interval"},
		{"free memory", func(c *Config) { c.Diagnostics.MinFreeMemoryMB = -1 }, "diagnostics.min_free_memory_mb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := ValidateConfig(cfg)
			if err == nil {
				t.Fatalf("expected validation error for %s", tt.field)
			}
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidationErrors, got %T", err)
			}
			found := false
			for _, e := range verrs {
				if e.Field == tt.field || strings.HasPrefix(e.Field, tt.field) {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on %s, got %v", tt.field, verrs)
			}
		})
	}
}

func TestValidator_JSONBackendWithLocalScheduler(t *testing.T) {
	cfg := validConfig()
	cfg.State.Backend = "json"
	cfg.Scheduler.Mode = "local"
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("ValidateConfig() error = %v", err)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	errs := ValidationErrors{
		{Field: "a", Value: 1, Message: "bad"},
		{Field: "b", Value: 2, Message: "worse"},
	}
	msg := errs.Error()
	if !strings.Contains(msg, "a: bad") || !strings.Contains(msg, "b: worse") {
		t.Errorf("unexpected message %q", msg)
	}
	if !errs.HasErrors() {
		t.Error("HasErrors() = false")
	}
}
