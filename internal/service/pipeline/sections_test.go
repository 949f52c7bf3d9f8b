package pipeline

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitSections(t *testing.T) {
	text := "Preface line.\n\n" +
		appendSection(appendSection("", "One", "Body one."), "Two --> three", "Body two.\n\nMore.")

	sections := SplitSections(text)

	require.Len(t, sections, 3)
	assert.Equal(t, Section{Body: "Preface line."}, sections[0])
	assert.Equal(t, Section{Title: "One", Body: "Body one."}, sections[1])
	assert.Equal(t, Section{Title: "Two -> three", Body: "Body two.\n\nMore."}, sections[2])
}

func TestSplitSections_NoMarkers(t *testing.T) {
	assert.Equal(t, []Section{{Body: "Just text."}}, SplitSections("\n Just text.\n"))
	assert.Nil(t, SplitSections(" \n\n "))
}

func TestSection_Render(t *testing.T) {
	assert.Equal(t, "## T\n\nB", Section{Title: "T", Body: "B"}.Render())
	assert.Equal(t, "## T", Section{Title: "T"}.Render())
	assert.Equal(t, "B", Section{Body: "B"}.Render())
	assert.Equal(t, 7, Section{Title: "é", Body: "ü"}.Size())
}

func TestPackChunks_OversizedSectionStandsAlone(t *testing.T) {
	sections := []Section{
		{Title: "a", Body: strings.Repeat("x", 5)},
		{Title: "b", Body: strings.Repeat("x", 50)},
		{Title: "c", Body: strings.Repeat("x", 3)},
		{Title: "d", Body: strings.Repeat("x", 3)},
	}

	chunks := PackChunks(sections, 20)

	require.Len(t, chunks, 3)
	assert.Equal(t, []string{"a"}, Titles(chunks[0].Sections))
	assert.Equal(t, []string{"b"}, Titles(chunks[1].Sections))
	assert.Equal(t, []string{"c", "d"}, Titles(chunks[2].Sections))
	assert.True(t, chunks[0].First)
	assert.False(t, chunks[1].First || chunks[1].Last)
	assert.True(t, chunks[2].Last)
	assert.Equal(t, 2, chunks[2].Index)
}

func TestPackChunks_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		n := rng.Intn(12)
		sections := make([]Section, n)
		for i := range sections {
			sections[i] = Section{
				Title: fmt.Sprintf("s%d", i),
				Body:  strings.Repeat("y", rng.Intn(120)),
			}
		}
		limit := 1 + rng.Intn(150)

		chunks := PackChunks(sections, limit)

		var flat []Section
		for i, c := range chunks {
			require.NotEmpty(t, c.Sections, "round %d: empty chunk", round)
			assert.Equal(t, i, c.Index)
			if c.Size() > limit {
				assert.Len(t, c.Sections, 1, "round %d: chunk %d over %d without being a single section", round, i, limit)
			}
			flat = append(flat, c.Sections...)
		}
		if n == 0 {
			assert.Empty(t, chunks)
			continue
		}
		assert.Equal(t, sections, flat, "round %d: chunks must reproduce the section sequence", round)
		assert.Equal(t, RenderSections(sections), joinChunks(chunks))
	}
}

func joinChunks(chunks []Chunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.Render()
	}
	return strings.Join(parts, "\n\n")
}

func TestTailParagraphs(t *testing.T) {
	text := appendSection(appendSection("", "One", "p1\n\np2"), "Two", "p3\n \np4")

	assert.Equal(t, "p3\n\np4", tailParagraphs(text, 2))
	assert.Equal(t, "p1\n\np2\n\np3\n\np4", tailParagraphs(text, 10))
	assert.Empty(t, tailParagraphs(text, 0))
	assert.Empty(t, tailParagraphs("", 3))
}
