package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
	"github.com/hugo-lorenzo-mato/docforge/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/docforge/internal/logging"
)

// DocumentReader resolves context references into text.
type DocumentReader interface {
	Read(ctx context.Context, ref string) (string, error)
}

// Preflighter checks host resources before a call.
type Preflighter interface {
	Run() diagnostics.PreflightResult
}

// Generator implements core.Generator on top of an agent CLI. Context
// documents are inlined into the prompt, which is sent on stdin.
type Generator struct {
	*BaseAdapter
	args      argsBuilder
	docs      DocumentReader
	preflight Preflighter
}

// GeneratorOption configures the generator.
type GeneratorOption func(*Generator)

// WithPreflight runs p before every call.
func WithPreflight(p Preflighter) GeneratorOption {
	return func(g *Generator) {
		g.preflight = p
	}
}

// NewGenerator creates a generator for the configured agent.
func NewGenerator(cfg AgentConfig, docs DocumentReader, logger *logging.Logger, opts ...GeneratorOption) (*Generator, error) {
	if cfg.Agent == "" {
		cfg.Agent = core.AgentClaude
	}
	if cfg.Path == "" {
		cfg.Path = cfg.Agent
	}
	args, err := builderFor(cfg.Agent)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	g := &Generator{
		BaseAdapter: NewBaseAdapter(cfg, logger.With("agent", cfg.Agent)),
		args:        args,
		docs:        docs,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Generate runs one prompt and returns the trimmed output.
func (g *Generator) Generate(ctx context.Context, req core.GenerateRequest) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", core.ErrValidation(core.CodeEmptyPrompt, "prompt is empty")
	}

	if g.preflight != nil {
		res := g.preflight.Run()
		if !res.OK {
			return "", core.ErrExecution("PREFLIGHT_FAILED",
				fmt.Sprintf("preflight check failed: %s", strings.Join(res.Errors, "; ")))
		}
		for _, w := range res.Warnings {
			g.logger.Warn("preflight warning before generation", "warning", w)
		}
	}

	prompt, err := g.buildPrompt(ctx, req)
	if err != nil {
		return "", err
	}

	model := req.Model
	if model == "" {
		model = g.config.Model
	}

	g.logger.Info("generating", "purpose", req.Purpose, "model", model,
		"prompt_length", len(prompt), "context_refs", len(req.ContextRefs))

	result, err := g.ExecuteCommand(ctx, g.args(model), prompt)
	if err != nil {
		return "", err
	}

	out := strings.TrimSpace(result.Stdout)
	if out == "" {
		return "", core.ErrExecution(core.CodeEmptyOutput,
			fmt.Sprintf("%s returned no output for %s", g.config.Agent, req.Purpose))
	}
	return out, nil
}

// buildPrompt prefixes the prompt with the referenced documents.
func (g *Generator) buildPrompt(ctx context.Context, req core.GenerateRequest) (string, error) {
	if len(req.ContextRefs) == 0 {
		return req.Prompt, nil
	}
	if g.docs == nil {
		return "", core.ErrValidation(core.CodeInvalidConfig, "context references given but no document store configured")
	}

	var sb strings.Builder
	sb.WriteString("<documents>\n")
	for i, ref := range req.ContextRefs {
		content, err := g.docs.Read(ctx, ref)
		if err != nil {
			return "", fmt.Errorf("reading context document %s: %w", ref, err)
		}
		fmt.Fprintf(&sb, "<document index=\"%d\" ref=\"%s\">\n", i+1, ref)
		sb.WriteString(content)
		sb.WriteString("\n</document>\n")
	}
	sb.WriteString("</documents>\n\n")
	sb.WriteString(req.Prompt)
	return sb.String(), nil
}

var _ core.Generator = (*Generator)(nil)
