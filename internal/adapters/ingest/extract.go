package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
)

// CodeUnsupportedContent marks items the extractor cannot turn into text.
const CodeUnsupportedContent = "UNSUPPORTED_CONTENT"

// sniffLen is how much of an item is inspected for binary content.
const sniffLen = 8000

// TextExtractor accepts text-like items and renders HTML to plain text.
type TextExtractor struct{}

// NewTextExtractor creates an extractor.
func NewTextExtractor() *TextExtractor {
	return &TextExtractor{}
}

// Extract returns the text of an item, or a validation error for binary
// content.
func (e *TextExtractor) Extract(item core.SourceItem, data []byte) (string, error) {
	if isBinary(data) {
		return "", core.ErrValidation(CodeUnsupportedContent,
			fmt.Sprintf("%s is not a text document", item.Name))
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	switch strings.ToLower(filepath.Ext(item.Name)) {
	case ".html", ".htm", ".xhtml":
		return htmlText(data)
	default:
		return strings.TrimSpace(string(data)), nil
	}
}

func isBinary(data []byte) bool {
	head := data
	if len(head) > sniffLen {
		head = head[:sniffLen]
		// Do not reject a multi-byte rune split by the cut.
		for i := 0; i < utf8.UTFMax && !utf8.Valid(head); i++ {
			head = head[:len(head)-1]
		}
	}
	return bytes.IndexByte(head, 0) >= 0 || !utf8.Valid(head)
}

// htmlText walks the token stream, dropping markup, scripts and styles and
// keeping block boundaries as line breaks.
func htmlText(data []byte) (string, error) {
	z := html.NewTokenizer(bytes.NewReader(data))
	var sb strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != nil && !errors.Is(err, io.EOF) {
				return "", core.ErrValidation(CodeUnsupportedContent, "malformed HTML").WithCause(err)
			}
			return collapseBlankLines(sb.String()), nil
		case html.StartTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "noscript":
				skip++
			case "br", "p", "div", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6":
				sb.WriteString("\n")
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "noscript":
				if skip > 0 {
					skip--
				}
			case "p", "div", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6":
				sb.WriteString("\n")
			}
		case html.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
			}
		}
	}
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		l = strings.Join(strings.Fields(l), " ")
		if l == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

var _ core.Extractor = (*TextExtractor)(nil)
