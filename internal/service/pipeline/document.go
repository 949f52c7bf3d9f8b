package pipeline

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
)

type documentHeader struct {
	Title       string `yaml:"title"`
	TaskID      string `yaml:"task_id"`
	Mode        string `yaml:"mode"`
	Chunks      int    `yaml:"chunks"`
	GeneratedAt string `yaml:"generated_at"`
}

// RenderDocument renders the final Markdown document with YAML front
// matter.
func RenderDocument(task *core.Task, c *Consolidation, generatedAt time.Time) (string, error) {
	header, err := yaml.Marshal(documentHeader{
		Title:       c.Title,
		TaskID:      string(task.ID),
		Mode:        string(task.Mode),
		Chunks:      c.Chunks,
		GeneratedAt: generatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("rendering front matter: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("---\n")
	sb.Write(header)
	sb.WriteString("---\n\n")
	fmt.Fprintf(&sb, "# %s\n\n", c.Title)
	sb.WriteString("## Executive Summary\n\n")
	if c.Summary != "" {
		sb.WriteString(strings.TrimSpace(c.Summary))
		sb.WriteString("\n\n")
	}
	sb.WriteString(strings.TrimSpace(c.Body))
	sb.WriteString("\n\n## References\n\n")
	if c.References != "" {
		sb.WriteString(strings.TrimSpace(c.References))
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// ParseDocumentHeader reads the front matter of a rendered document.
func ParseDocumentHeader(doc string) (title, taskID string, chunks int, err error) {
	rest, ok := strings.CutPrefix(doc, "---\n")
	if !ok {
		return "", "", 0, core.ErrValidation(core.CodeParseFailed, "document has no front matter")
	}
	raw, _, ok := strings.Cut(rest, "\n---\n")
	if !ok {
		return "", "", 0, core.ErrValidation(core.CodeParseFailed, "front matter is not terminated")
	}
	var h documentHeader
	if err := yaml.Unmarshal([]byte(raw), &h); err != nil {
		return "", "", 0, core.ErrValidation(core.CodeParseFailed, "front matter is not YAML").WithCause(err)
	}
	return h.Title, h.TaskID, h.Chunks, nil
}

// slugify builds a file name stem from a title.
func slugify(title string) string {
	var sb strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
			dash = false
		case !dash && sb.Len() > 0:
			sb.WriteByte('-')
			dash = true
		}
	}
	s := strings.TrimSuffix(sb.String(), "-")
	if r := []rune(s); len(r) > 60 {
		s = strings.TrimSuffix(string(r[:60]), "-")
	}
	if s == "" {
		return "document"
	}
	return s
}
