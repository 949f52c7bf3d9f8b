package pipeline

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
	"github.com/hugo-lorenzo-mato/docforge/internal/service"
)

// Delimited field names of the finalization output contract.
const (
	fieldTitle      = "TITLE"
	fieldSummary    = "SUMMARY"
	fieldBody       = "BODY"
	fieldReferences = "REFERENCES"
)

var fieldMarkerPattern = regexp.MustCompile(`(?m)^[ \t]*===[ \t]*([A-Z]+)[ \t]*===[ \t]*\r?$`)

// maxDerivedTitle caps titles derived from the task goal.
const maxDerivedTitle = 80

// FrontMatter holds the fields synthesized from the whole document.
type FrontMatter struct {
	Title      string
	Summary    string
	References string
}

// Consolidation is finalized raw text ready to be rendered.
type Consolidation struct {
	FrontMatter
	Body string
	// Chunks is zero on the single-pass path.
	Chunks int
	// Fallback is set when the front matter could not be recovered and
	// was derived from the goal instead.
	Fallback bool
}

// Consolidator turns accumulated raw text into a finished document body
// plus front matter, chunking text longer than the single-pass limit.
type Consolidator struct {
	env   *env
	pacer *service.Pacer
}

func newConsolidator(e *env) *Consolidator {
	return &Consolidator{
		env:   e,
		pacer: service.NewPacer(e.cfg.ChunkDelay, service.WithPacerClock(e.now, e.sleep)),
	}
}

// Consolidate finalizes text for task. beforeAssembly runs once the body is
// transformed and before the front matter is produced.
func (c *Consolidator) Consolidate(ctx context.Context, task *core.Task, text string, beforeAssembly func(context.Context) error) (*Consolidation, error) {
	sections := SplitSections(text)
	if len(sections) == 0 {
		return nil, core.ErrValidation("EMPTY_RAW_TEXT", "raw text is empty")
	}
	if utf8.RuneCountInString(text) <= c.env.cfg.SinglePassLimit {
		return c.singlePass(ctx, task, sections, beforeAssembly)
	}
	return c.chunked(ctx, task, sections, beforeAssembly)
}

func (c *Consolidator) singlePass(ctx context.Context, task *core.Task, sections []Section, beforeAssembly func(context.Context) error) (*Consolidation, error) {
	draft := RenderSections(sections)
	prompt, err := c.env.prompts.RenderSinglePass(service.SinglePassParams{Prompt: task.Prompt, Text: draft})
	if err != nil {
		return nil, err
	}

	var fields map[string]string
	err = c.contractRetry().Execute(ctx, func(ctx context.Context) error {
		out, err := c.env.generate(ctx, core.PurposeSinglePass, prompt, task.FileRefs)
		if err != nil {
			return err
		}
		fields, err = parseDelimited(out, fieldTitle, fieldSummary, fieldBody)
		return err
	})
	if err != nil && !service.IsRetryExhausted(err) {
		return nil, err
	}
	if err := beforeAssembly(ctx); err != nil {
		return nil, err
	}

	if err != nil {
		c.env.logger.Warn("single-pass output unusable, keeping draft", "task_id", task.ID, "error", err)
		return &Consolidation{
			FrontMatter: FrontMatter{Title: derivedTitle(task.Prompt)},
			Body:        draft,
			Fallback:    true,
		}, nil
	}
	return &Consolidation{
		FrontMatter: frontMatterFrom(fields),
		Body:        fields[fieldBody],
	}, nil
}

func (c *Consolidator) chunked(ctx context.Context, task *core.Task, sections []Section, beforeAssembly func(context.Context) error) (*Consolidation, error) {
	chunks := PackChunks(sections, c.env.cfg.ChunkSize)
	titles := Titles(sections)
	c.env.logger.Info("consolidating in chunks",
		"task_id", task.ID, "sections", len(sections), "chunks", len(chunks))

	parts := make([]string, 0, len(chunks))
	for _, ch := range chunks {
		prompt, err := c.env.prompts.RenderChunk(service.ChunkParams{
			Prompt: task.Prompt,
			Text:   ch.Render(),
			Index:  ch.Index,
			Total:  len(chunks),
			First:  ch.First,
			Last:   ch.Last,
			Titles: titles,
		})
		if err != nil {
			return nil, err
		}
		var out string
		err = c.pacer.Do(ctx, func(ctx context.Context) error {
			var err error
			out, err = c.env.generate(ctx, core.PurposeChunk, prompt, nil)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("chunk %d/%d: %w", ch.Index+1, len(chunks), err)
		}
		out = strings.TrimSpace(out)
		if out == "" {
			return nil, core.ErrExecution(core.CodeEmptyOutput,
				fmt.Sprintf("chunk %d/%d came back empty", ch.Index+1, len(chunks)))
		}
		parts = append(parts, out)
	}
	body := strings.Join(parts, "\n\n")

	if err := beforeAssembly(ctx); err != nil {
		return nil, err
	}
	fm, err := c.assemble(ctx, task, body)
	if err != nil {
		if !service.IsRetryExhausted(err) {
			return nil, err
		}
		c.env.logger.Warn("assembly output unusable, deriving title", "task_id", task.ID, "error", err)
		return &Consolidation{
			FrontMatter: FrontMatter{Title: derivedTitle(task.Prompt)},
			Body:        body,
			Chunks:      len(chunks),
			Fallback:    true,
		}, nil
	}
	return &Consolidation{FrontMatter: fm, Body: body, Chunks: len(chunks)}, nil
}

// assemble asks for title, summary and references over the joined body.
func (c *Consolidator) assemble(ctx context.Context, task *core.Task, body string) (FrontMatter, error) {
	prompt, err := c.env.prompts.RenderAssemble(service.AssembleParams{Prompt: task.Prompt, Body: body})
	if err != nil {
		return FrontMatter{}, err
	}
	var fm FrontMatter
	err = c.contractRetry().Execute(ctx, func(ctx context.Context) error {
		out, err := c.env.generate(ctx, core.PurposeAssemble, prompt, task.FileRefs)
		if err != nil {
			return err
		}
		fields, err := parseDelimited(out, fieldTitle, fieldSummary)
		if err != nil {
			return err
		}
		fm = frontMatterFrom(fields)
		return nil
	})
	return fm, err
}

// contractRetry retries a finalization call once when its output breaks
// the delimited-field contract. Backend failures are not retried.
func (c *Consolidator) contractRetry() *service.RetryPolicy {
	return service.NewRetryPolicy(
		service.WithMaxAttempts(2),
		service.WithBaseDelay(c.env.retryDelay),
		service.WithMaxDelay(c.env.retryDelay),
		service.WithJitter(0),
		service.WithRetryIf(isContractViolation),
	)
}

func isContractViolation(err error) bool {
	var de *core.DomainError
	return errors.As(err, &de) && de.Code == core.CodeParseFailed
}

// parseDelimited splits output on "=== NAME ===" marker lines. Every
// required field must be present and non-empty.
func parseDelimited(out string, required ...string) (map[string]string, error) {
	fields := make(map[string]string)
	locs := fieldMarkerPattern.FindAllStringSubmatchIndex(out, -1)
	for i, loc := range locs {
		end := len(out)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		name := out[loc[2]:loc[3]]
		if _, dup := fields[name]; dup {
			continue
		}
		fields[name] = strings.TrimSpace(out[loc[1]:end])
	}

	var missing []string
	for _, name := range required {
		if fields[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, core.ErrValidation(core.CodeParseFailed,
			fmt.Sprintf("output is missing %s", strings.Join(missing, ", ")))
	}
	return fields, nil
}

func frontMatterFrom(fields map[string]string) FrontMatter {
	return FrontMatter{
		Title:      singleLine(fields[fieldTitle]),
		Summary:    fields[fieldSummary],
		References: fields[fieldReferences],
	}
}

// derivedTitle builds a title from the first line of the goal.
func derivedTitle(prompt string) string {
	line := ""
	for _, l := range strings.Split(prompt, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			line = l
			break
		}
	}
	line = singleLine(strings.TrimLeft(line, "# "))
	if line == "" {
		return "Untitled document"
	}
	if r := []rune(line); len(r) > maxDerivedTitle {
		return strings.TrimSpace(string(r[:maxDerivedTitle-3])) + "..."
	}
	return line
}

func singleLine(s string) string {
	return strings.Join(strings.Fields(strings.TrimLeft(strings.TrimSpace(s), "#")), " ")
}
