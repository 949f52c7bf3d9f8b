package service

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"
	"text/template"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
)

//go:embed prompts/*.md.tmpl
var promptsFS embed.FS

// PromptRenderer renders prompts from templates.
type PromptRenderer struct {
	templates map[string]*template.Template
	mu        sync.RWMutex
}

// NewPromptRenderer creates a new prompt renderer.
func NewPromptRenderer() (*PromptRenderer, error) {
	r := &PromptRenderer{
		templates: make(map[string]*template.Template),
	}

	if err := r.loadTemplates(); err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}

	for _, purpose := range core.Purposes {
		if !r.HasTemplate(purpose) {
			return nil, fmt.Errorf("missing prompt template for %s", purpose)
		}
	}
	return r, nil
}

// loadTemplates loads all templates from the embedded filesystem.
func (r *PromptRenderer) loadTemplates() error {
	return fs.WalkDir(promptsFS, "prompts", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() || !strings.HasSuffix(path, ".md.tmpl") {
			return nil
		}

		content, err := promptsFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		name := strings.TrimPrefix(path, "prompts/")
		name = strings.TrimSuffix(name, ".md.tmpl")

		tmpl, err := template.New(name).Funcs(templateFuncs()).Parse(string(content))
		if err != nil {
			return fmt.Errorf("parsing template %s: %w", name, err)
		}

		r.templates[name] = tmpl
		return nil
	})
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"join":      strings.Join,
		"trimSpace": strings.TrimSpace,
		"add":       func(a, b int) int { return a + b },
	}
}

// PlanParams contains parameters for the planning template.
type PlanParams struct {
	Prompt       string
	MaxSubtopics int
	ContextCount int
}

// RenderPlan renders the sub-topic planning prompt.
func (r *PromptRenderer) RenderPlan(params PlanParams) (string, error) {
	return r.render(core.PurposePlan, params)
}

// SubtopicParams describes one sub-topic and the text written before it.
type SubtopicParams struct {
	Prompt  string
	Title   string
	Outline string
	Tail    string
	Index   int
	Total   int
}

// RenderReflect renders the outline revision prompt.
func (r *PromptRenderer) RenderReflect(params SubtopicParams) (string, error) {
	return r.render(core.PurposeReflect, params)
}

// RenderSection renders the sub-topic generation prompt.
func (r *PromptRenderer) RenderSection(params SubtopicParams) (string, error) {
	return r.render(core.PurposeSection, params)
}

// WholeParams contains parameters for whole-task generation.
type WholeParams struct {
	Prompt       string
	ContextCount int
}

// RenderWhole renders the single-call raw text prompt.
func (r *PromptRenderer) RenderWhole(params WholeParams) (string, error) {
	return r.render(core.PurposeWhole, params)
}

// ChunkParams contains parameters for one chunk transformation.
type ChunkParams struct {
	Prompt string
	Text   string
	Index  int
	Total  int
	First  bool
	Last   bool
	// Titles lists every section title of the whole document, in order.
	Titles []string
}

// RenderChunk renders the per-chunk transformation prompt.
func (r *PromptRenderer) RenderChunk(params ChunkParams) (string, error) {
	return r.render(core.PurposeChunk, params)
}

// AssembleParams contains parameters for the front matter call.
type AssembleParams struct {
	Prompt string
	Body   string
}

// RenderAssemble renders the title, summary and references prompt.
func (r *PromptRenderer) RenderAssemble(params AssembleParams) (string, error) {
	return r.render(core.PurposeAssemble, params)
}

// SinglePassParams contains parameters for the unchunked finalization call.
type SinglePassParams struct {
	Prompt string
	Text   string
}

// RenderSinglePass renders the whole-document finalization prompt.
func (r *PromptRenderer) RenderSinglePass(params SinglePassParams) (string, error) {
	return r.render(core.PurposeSinglePass, params)
}

func (r *PromptRenderer) render(name string, data interface{}) (string, error) {
	r.mu.RLock()
	tmpl, ok := r.templates[name]
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("template %q not found", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing template %s: %w", name, err)
	}

	return buf.String(), nil
}

// ListTemplates returns available template names, sorted.
func (r *PromptRenderer) ListTemplates() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasTemplate checks if a template exists.
func (r *PromptRenderer) HasTemplate(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.templates[name]
	return ok
}
