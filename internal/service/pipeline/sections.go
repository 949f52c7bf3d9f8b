package pipeline

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// sectionMarkerPattern matches the marker line raw-text accumulation writes
// before each sub-topic.
var sectionMarkerPattern = regexp.MustCompile(`(?m)^<!-- section: (.*?) -->[ \t]*\r?$`)

var paragraphBreak = regexp.MustCompile(`\n[ \t]*\n`)

// sectionMarker renders the marker line for a sub-topic title.
func sectionMarker(title string) string {
	title = strings.Join(strings.Fields(title), " ")
	title = strings.ReplaceAll(title, "-->", "->")
	return "<!-- section: " + title + " -->"
}

// appendSection adds one marked section to accumulated raw text.
func appendSection(accumulated, title, body string) string {
	var sb strings.Builder
	if accumulated != "" {
		sb.WriteString(strings.TrimRight(accumulated, "\n"))
		sb.WriteString("\n\n")
	}
	sb.WriteString(sectionMarker(title))
	sb.WriteString("\n\n")
	sb.WriteString(strings.TrimSpace(body))
	sb.WriteString("\n")
	return sb.String()
}

// Section is one titled span of accumulated raw text. The preamble before
// the first marker has an empty title.
type Section struct {
	Title string
	Body  string
}

// Render returns the section as Markdown with its title as a heading.
func (s Section) Render() string {
	if s.Title == "" {
		return s.Body
	}
	if s.Body == "" {
		return "## " + s.Title
	}
	return "## " + s.Title + "\n\n" + s.Body
}

// Size is the length of the rendered section in characters.
func (s Section) Size() int {
	return utf8.RuneCountInString(s.Render())
}

// SplitSections splits text on section markers, preserving order. A blank
// preamble is dropped; bodies are trimmed of surrounding blank lines.
func SplitSections(text string) []Section {
	locs := sectionMarkerPattern.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		if body := trimBlankLines(text); body != "" {
			return []Section{{Body: body}}
		}
		return nil
	}

	var sections []Section
	if pre := trimBlankLines(text[:locs[0][0]]); pre != "" {
		sections = append(sections, Section{Body: pre})
	}
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		sections = append(sections, Section{
			Title: strings.TrimSpace(text[loc[2]:loc[3]]),
			Body:  trimBlankLines(text[loc[1]:end]),
		})
	}
	return sections
}

func trimBlankLines(s string) string {
	return strings.Trim(s, "\r\n \t")
}

// Chunk is a run of consecutive sections transformed in one call.
type Chunk struct {
	Index    int
	Sections []Section
	First    bool
	Last     bool
}

// Size is the summed size of the chunk's sections.
func (c Chunk) Size() int {
	n := 0
	for _, s := range c.Sections {
		n += s.Size()
	}
	return n
}

// Render joins the chunk's sections as Markdown.
func (c Chunk) Render() string {
	parts := make([]string, len(c.Sections))
	for i, s := range c.Sections {
		parts[i] = s.Render()
	}
	return strings.Join(parts, "\n\n")
}

// PackChunks groups sections greedily: a section joins the open chunk
// unless that would push it past limit while the chunk already holds
// something. A section larger than limit becomes a chunk on its own.
func PackChunks(sections []Section, limit int) []Chunk {
	var chunks []Chunk
	var open []Section
	size := 0
	for _, s := range sections {
		n := s.Size()
		if len(open) > 0 && size+n > limit {
			chunks = append(chunks, Chunk{Sections: open})
			open, size = nil, 0
		}
		open = append(open, s)
		size += n
	}
	if len(open) > 0 {
		chunks = append(chunks, Chunk{Sections: open})
	}
	for i := range chunks {
		chunks[i].Index = i
		chunks[i].First = i == 0
		chunks[i].Last = i == len(chunks)-1
	}
	return chunks
}

// RenderSections renders every section as Markdown, in order.
func RenderSections(sections []Section) string {
	return Chunk{Sections: sections}.Render()
}

// Titles lists section titles in order.
func Titles(sections []Section) []string {
	out := make([]string, len(sections))
	for i, s := range sections {
		out[i] = s.Title
	}
	return out
}

// tailParagraphs returns the last n blank-line separated paragraphs of
// text, skipping section markers.
func tailParagraphs(text string, n int) string {
	if n <= 0 || strings.TrimSpace(text) == "" {
		return ""
	}
	text = sectionMarkerPattern.ReplaceAllString(text, "")
	var paras []string
	for _, p := range paragraphBreak.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			paras = append(paras, p)
		}
	}
	if len(paras) > n {
		paras = paras[len(paras)-n:]
	}
	return strings.Join(paras, "\n\n")
}
