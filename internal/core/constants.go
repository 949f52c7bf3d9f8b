// Package core holds the domain model of the document pipeline: tasks,
// stages, phases, errors and the ports to external collaborators.
package core

// Agent identifiers for the CLI generation backend.
const (
	AgentClaude = "claude"
	AgentGemini = "gemini"
	AgentCodex  = "codex"
)

// Agents is the ordered list of all supported agents.
var Agents = []string{AgentClaude, AgentGemini, AgentCodex}

// IsValidAgent checks if the given agent name is valid.
func IsValidAgent(agent string) bool {
	for _, a := range Agents {
		if a == agent {
			return true
		}
	}
	return false
}

// Generation purposes, also used as keys for per-step model overrides.
const (
	PurposePlan       = "plan"
	PurposeReflect    = "reflect"
	PurposeSection    = "section"
	PurposeWhole      = "whole"
	PurposeChunk      = "chunk"
	PurposeAssemble   = "assemble"
	PurposeSinglePass = "single_pass"
)

// Purposes is the ordered list of generation purposes.
var Purposes = []string{
	PurposePlan,
	PurposeReflect,
	PurposeSection,
	PurposeWhole,
	PurposeChunk,
	PurposeAssemble,
	PurposeSinglePass,
}

// IsValidPurpose checks if the given key names a generation purpose.
func IsValidPurpose(p string) bool {
	for _, v := range Purposes {
		if v == p {
			return true
		}
	}
	return false
}

// Log levels
const (
	LogDebug = "debug"
	LogInfo  = "info"
	LogWarn  = "warn"
	LogError = "error"
)

// LogLevels is the ordered list of log levels.
var LogLevels = []string{LogDebug, LogInfo, LogWarn, LogError}

// Log formats
const (
	LogFormatAuto = "auto"
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// LogFormats is the ordered list of log formats.
var LogFormats = []string{LogFormatAuto, LogFormatText, LogFormatJSON}

// State backends
const (
	StateBackendSQLite = "sqlite"
	StateBackendJSON   = "json"
)

// StateBackends is the ordered list of state backends.
var StateBackends = []string{StateBackendSQLite, StateBackendJSON}

// Scheduler modes
const (
	SchedulerModeQueue = "queue"
	SchedulerModeLocal = "local"
)

// SchedulerModes is the ordered list of scheduler modes.
var SchedulerModes = []string{SchedulerModeQueue, SchedulerModeLocal}
