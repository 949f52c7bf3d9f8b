package cli

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
	"github.com/hugo-lorenzo-mato/docforge/internal/diagnostics"
)

// fakeAgent writes a shell script standing in for an agent CLI.
func fakeAgent(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "agent")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o700))
	return path
}

type mapDocs map[string]string

func (m mapDocs) Read(_ context.Context, ref string) (string, error) {
	c, ok := m[ref]
	if !ok {
		return "", core.ErrNotFound("document", ref)
	}
	return c, nil
}

type stubPreflight struct {
	res diagnostics.PreflightResult
}

func (s stubPreflight) Run() diagnostics.PreflightResult { return s.res }

func TestGenerator_EchoesStdinAndArgs(t *testing.T) {
	path := fakeAgent(t, `echo "args: $*"; cat`)
	g, err := NewGenerator(AgentConfig{Agent: core.AgentClaude, Path: path, Model: "default-model"},
		mapDocs{"ref-1": "first document"}, nil)
	require.NoError(t, err)

	out, err := g.Generate(context.Background(), core.GenerateRequest{
		Prompt:      "write the plan",
		ContextRefs: []string{"ref-1"},
		Model:       "plan-model",
		Purpose:     core.PurposePlan,
	})
	require.NoError(t, err)
	assert.Contains(t, out, "args: --print --model plan-model")
	assert.Contains(t, out, `<document index="1" ref="ref-1">`)
	assert.Contains(t, out, "first document")
	assert.True(t, strings.HasSuffix(out, "write the plan"))
}

func TestGenerator_DefaultModel(t *testing.T) {
	path := fakeAgent(t, `echo "$*"`)
	g, err := NewGenerator(AgentConfig{Agent: core.AgentCodex, Path: path, Model: "m1"}, nil, nil)
	require.NoError(t, err)

	out, err := g.Generate(context.Background(), core.GenerateRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.Contains(t, out, "--model m1")
	assert.True(t, strings.HasSuffix(out, " -"))
}

func TestGenerator_EmptyOutput(t *testing.T) {
	path := fakeAgent(t, `printf "  \n"`)
	g, err := NewGenerator(AgentConfig{Path: path}, nil, nil)
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), core.GenerateRequest{Prompt: "p", Purpose: core.PurposeWhole})
	require.Error(t, err)
	var de *core.DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, core.CodeEmptyOutput, de.Code)
}

func TestGenerator_ClassifiesFailures(t *testing.T) {
	tests := []struct {
		name   string
		script string
		cat    core.ErrorCategory
	}{
		{"rate limit", `echo "Error: 429 Too Many Requests" >&2; exit 1`, core.ErrCatRateLimit},
		{"auth", `echo "Invalid API key" >&2; exit 1`, core.ErrCatAuth},
		{"network", `echo "connection refused" >&2; exit 2`, core.ErrCatNetwork},
		{"json on stdout", `echo '{"error":{"message":"model overloaded"}}'; exit 3`, core.ErrCatExecution},
		{"plain", `exit 4`, core.ErrCatExecution},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewGenerator(AgentConfig{Path: fakeAgent(t, tt.script)}, nil, nil)
			require.NoError(t, err)
			_, err = g.Generate(context.Background(), core.GenerateRequest{Prompt: "p"})
			require.Error(t, err)
			assert.Equal(t, tt.cat, core.GetCategory(err))
		})
	}
}

func TestGenerator_Timeout(t *testing.T) {
	path := fakeAgent(t, `sleep 5`)
	g, err := NewGenerator(AgentConfig{Path: path, Timeout: 100 * time.Millisecond}, nil, nil)
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), core.GenerateRequest{Prompt: "p"})
	require.Error(t, err)
	assert.Equal(t, core.ErrCatTimeout, core.GetCategory(err))
}

func TestGenerator_PreflightBlocks(t *testing.T) {
	path := fakeAgent(t, `echo should-not-run`)
	g, err := NewGenerator(AgentConfig{Path: path}, nil, nil,
		WithPreflight(stubPreflight{diagnostics.PreflightResult{OK: false, Errors: []string{"insufficient free memory"}}}))
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), core.GenerateRequest{Prompt: "p"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient free memory")
}

func TestGenerator_Validation(t *testing.T) {
	_, err := NewGenerator(AgentConfig{Agent: "copilot"}, nil, nil)
	assert.Error(t, err)

	g, err := NewGenerator(AgentConfig{Path: "true"}, nil, nil)
	require.NoError(t, err)
	_, err = g.Generate(context.Background(), core.GenerateRequest{Prompt: "  "})
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))

	_, err = g.Generate(context.Background(), core.GenerateRequest{Prompt: "p", ContextRefs: []string{"x"}})
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}

func TestExtractErrorFromOutput(t *testing.T) {
	assert.Equal(t, "boom", extractErrorFromOutput(`{"error":"boom"}`))
	assert.Equal(t, "last line", extractErrorFromOutput("first\nlast line\n"))
	assert.Equal(t, "", extractErrorFromOutput(""))
}

func TestArgsBuilders(t *testing.T) {
	assert.Equal(t, []string{"--print"}, claudeArgs(""))
	assert.Empty(t, geminiArgs(""))
	assert.Equal(t, []string{"--model", "g"}, geminiArgs("g"))
	assert.Equal(t, "exec", codexArgs("")[0])
}
