package pipeline

import (
	"time"

	"github.com/hugo-lorenzo-mato/docforge/internal/config"
)

// Config holds the limits and pacing of the phase runners.
type Config struct {
	ExecutionBudget   time.Duration
	ContinuationDelay time.Duration
	LockTimeout       time.Duration
	ChunkDelay        time.Duration

	TailParagraphs      int
	PlanningMaxAttempts int
	SinglePassLimit     int
	ChunkSize           int
	ErrorMessageLimit   int

	MaxItemBytes  int64
	MaxTotalChars int

	IntermediateLocation string
	FinalLocation        string

	// Models maps a generation purpose to a model; DefaultModel applies to
	// purposes without an entry.
	Models       map[string]string
	DefaultModel string
}

// DefaultConfig returns the configuration produced by the default
// settings.
func DefaultConfig() Config {
	return ConfigFrom(config.Default())
}

// ConfigFrom extracts the runner configuration from the application
// configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		ExecutionBudget:      cfg.Pipeline.ExecutionBudget,
		ContinuationDelay:    cfg.Pipeline.ContinuationDelay,
		LockTimeout:          cfg.State.LockTimeout,
		ChunkDelay:           cfg.Pipeline.ChunkDelay,
		TailParagraphs:       cfg.Pipeline.TailParagraphs,
		PlanningMaxAttempts:  cfg.Pipeline.PlanningMaxAttempts,
		SinglePassLimit:      cfg.Pipeline.SinglePassLimit,
		ChunkSize:            cfg.Pipeline.ChunkSize,
		ErrorMessageLimit:    cfg.Pipeline.ErrorMessageLimit,
		MaxItemBytes:         cfg.Ingestion.MaxItemBytes,
		MaxTotalChars:        cfg.Ingestion.MaxTotalChars,
		IntermediateLocation: cfg.Documents.IntermediateLocation,
		FinalLocation:        cfg.Documents.FinalLocation,
		Models:               cfg.Generation.PhaseModels,
		DefaultModel:         cfg.Generation.Model,
	}
}

func (c Config) modelFor(purpose string) string {
	if m, ok := c.Models[purpose]; ok && m != "" {
		return m
	}
	return c.DefaultModel
}
