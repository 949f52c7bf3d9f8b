package cli

import (
	"fmt"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
)

// argsBuilder returns the arguments for a non-interactive call that reads
// the prompt from stdin.
type argsBuilder func(model string) []string

var builders = map[string]argsBuilder{
	core.AgentClaude: claudeArgs,
	core.AgentGemini: geminiArgs,
	core.AgentCodex:  codexArgs,
}

func builderFor(agent string) (argsBuilder, error) {
	b, ok := builders[agent]
	if !ok {
		return nil, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("unsupported agent %q", agent))
	}
	return b, nil
}

// claudeArgs runs `claude --print`, which reads the prompt from stdin.
func claudeArgs(model string) []string {
	args := []string{"--print"}
	if model != "" {
		args = append(args, "--model", model)
	}
	return args
}

// geminiArgs runs gemini headless; a piped stdin is treated as the prompt.
func geminiArgs(model string) []string {
	var args []string
	if model != "" {
		args = append(args, "--model", model)
	}
	return args
}

// codexArgs runs `codex exec -` with a read-only sandbox: generation never
// needs to touch the workspace.
func codexArgs(model string) []string {
	args := []string{"exec", "--skip-git-repo-check",
		"-c", `approval_policy="never"`,
		"-c", `sandbox_mode="read-only"`,
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	return append(args, "-")
}
