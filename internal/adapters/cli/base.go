// Package cli runs agent command-line tools as the generation backend.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
	"github.com/hugo-lorenzo-mato/docforge/internal/logging"
)

// DefaultTimeout bounds one command when no timeout is configured.
const DefaultTimeout = 10 * time.Minute

// AgentConfig holds adapter configuration.
type AgentConfig struct {
	// Agent selects the argument layout: claude, gemini or codex.
	Agent   string
	Path    string
	Model   string
	Timeout time.Duration
	WorkDir string
}

// BaseAdapter provides common CLI execution functionality.
type BaseAdapter struct {
	config AgentConfig
	logger *logging.Logger

	// ExtraEnv holds additional environment variables to set for command execution.
	ExtraEnv map[string]string
}

// NewBaseAdapter creates a new base adapter.
func NewBaseAdapter(cfg AgentConfig, logger *logging.Logger) *BaseAdapter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &BaseAdapter{
		config: cfg,
		logger: logger,
	}
}

// CommandResult holds the result of a CLI execution.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// ExecuteCommand runs the configured CLI with args, feeding stdin.
func (b *BaseAdapter) ExecuteCommand(ctx context.Context, args []string, stdin string) (*CommandResult, error) {
	timeout := b.config.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmdPath := b.config.Path
	if cmdPath == "" {
		return nil, core.ErrValidation("NO_PATH", "adapter path not configured")
	}

	// Handle multi-word commands (e.g., "npx gemini")
	cmdParts := strings.Fields(cmdPath)
	if len(cmdParts) > 1 {
		cmdPath = cmdParts[0]
		args = append(cmdParts[1:], args...)
	}

	// #nosec G204 -- command path and args come from validated config
	cmd := exec.CommandContext(ctx, cmdPath, args...)
	configureProcAttr(cmd)
	if b.config.WorkDir != "" {
		cmd.Dir = b.config.WorkDir
	}
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	cmd.Env = append(os.Environ(), "DOCFORGE_MANAGED=true", "DOCFORGE_AGENT="+b.config.Agent)
	for k, v := range b.ExtraEnv {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	b.logger.Debug("cli: executing command",
		"agent", b.config.Agent,
		"path", cmdPath,
		"args", args,
		"stdin_length", len(stdin),
		"timeout", timeout,
	)

	startTime := time.Now()
	err := cmd.Run()
	duration := time.Since(startTime)

	result := &CommandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		b.logger.Error("cli: command timeout",
			"agent", b.config.Agent,
			"duration", duration,
			"timeout", timeout,
			"stderr_preview", truncateForLog(result.Stderr, 1000),
		)
		return result, core.ErrTimeout(fmt.Sprintf("command timed out after %v", timeout))
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return result, core.ErrState("CANCELLED", "generation cancelled")
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			b.logger.Error("cli: command failed",
				"agent", b.config.Agent,
				"exit_code", result.ExitCode,
				"duration", duration,
				"stderr", truncateForLog(result.Stderr, 2000),
			)
			return result, b.classifyError(result)
		}
		return result, fmt.Errorf("executing command: %w", err)
	}

	b.logger.Info("cli: command completed",
		"agent", b.config.Agent,
		"duration", duration,
		"stdout_length", len(result.Stdout),
	)
	return result, nil
}

// classifyError converts command errors to domain errors.
func (b *BaseAdapter) classifyError(result *CommandResult) error {
	errorMsg := strings.TrimSpace(result.Stderr)
	if errorMsg == "" {
		// Some CLIs report errors as JSON on stdout.
		errorMsg = extractErrorFromOutput(result.Stdout)
	}
	if errorMsg == "" {
		errorMsg = "(no error message captured)"
	}

	errorMsgLower := strings.ToLower(errorMsg)

	if containsAny(errorMsgLower, []string{"rate limit", "too many requests", "429", "quota"}) {
		return core.ErrRateLimit(errorMsg)
	}
	if containsAny(errorMsgLower, []string{"unauthorized", "authentication", "api key", "not logged in"}) {
		return core.ErrAuth(errorMsg)
	}
	if containsAny(errorMsgLower, []string{"connection", "network", "timeout", "unreachable"}) {
		return core.ErrNetwork(errorMsg)
	}
	return core.ErrExecution(core.CodeGenerationFailed,
		fmt.Sprintf("command failed with exit code %d: %s", result.ExitCode, errorMsg),
	)
}

// extractErrorFromOutput looks for a JSON error object on stdout, falling
// back to the last plain line.
func extractErrorFromOutput(stdout string) string {
	lines := strings.Split(stdout, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}

		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			continue
		}
		if errMsg, ok := obj["error"].(string); ok && errMsg != "" {
			return errMsg
		}
		if errObj, ok := obj["error"].(map[string]any); ok {
			if msg, ok := errObj["message"].(string); ok && msg != "" {
				return msg
			}
		}
	}

	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line != "" && !strings.HasPrefix(line, "{") {
			return truncateForLog(line, 200)
		}
	}
	return ""
}

func containsAny(s string, substrings []string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func truncateForLog(s string, maxLen int) string {
	if len(s) > maxLen {
		return s[:maxLen] + "... [truncated]"
	}
	return s
}

var versionPattern = regexp.MustCompile(`v?\d+\.\d+(\.\d+)?(-[a-zA-Z0-9]+)?`)

// GetVersion retrieves the CLI version.
func (b *BaseAdapter) GetVersion(ctx context.Context) (string, error) {
	result, err := b.ExecuteCommand(ctx, []string{"--version"}, "")
	if err != nil {
		return "", err
	}
	output := result.Stdout + result.Stderr
	if match := versionPattern.FindString(output); match != "" {
		return match, nil
	}
	return strings.TrimSpace(output), nil
}

// CheckAvailability verifies the CLI is installed and accessible.
func (b *BaseAdapter) CheckAvailability(_ context.Context) error {
	cmdParts := strings.Fields(b.config.Path)
	if len(cmdParts) == 0 {
		return core.ErrValidation("NO_PATH", "adapter path not configured")
	}
	if _, err := exec.LookPath(cmdParts[0]); err != nil {
		return core.ErrNotFound("CLI", cmdParts[0])
	}
	return nil
}

// Config returns the adapter configuration.
func (b *BaseAdapter) Config() AgentConfig {
	return b.config
}
