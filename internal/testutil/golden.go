package testutil

import (
	"flag"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

var update = flag.Bool("update", false, "update golden files")

// Golden compares rendered documents against files under testdata. Run
// the tests with -update to rewrite them.
type Golden struct {
	t       *testing.T
	baseDir string
}

// NewGolden creates a new golden file helper.
func NewGolden(t *testing.T, baseDir string) *Golden {
	return &Golden{
		t:       t,
		baseDir: baseDir,
	}
}

// Assert compares actual output against golden file.
func (g *Golden) Assert(name string, actual []byte) {
	g.t.Helper()

	goldenPath := filepath.Join(g.baseDir, name+".golden")

	if *update {
		g.updateGolden(goldenPath, actual)
		return
	}

	expected, err := os.ReadFile(goldenPath)
	if err != nil {
		g.t.Fatalf("reading golden file %s: %v", goldenPath, err)
	}

	if Normalize(string(actual)) != Normalize(string(expected)) {
		g.t.Errorf("output mismatch for %s:\n--- expected ---\n%s\n--- actual ---\n%s",
			name, expected, actual)
	}
}

// AssertString compares string output against golden file.
func (g *Golden) AssertString(name, actual string) {
	g.Assert(name, []byte(actual))
}

// updateGolden updates the golden file with actual output.
func (g *Golden) updateGolden(path string, actual []byte) {
	g.t.Helper()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		g.t.Fatalf("creating golden directory: %v", err)
	}

	if err := os.WriteFile(path, actual, 0o600); err != nil {
		g.t.Fatalf("writing golden file: %v", err)
	}

	g.t.Logf("updated golden file: %s", path)
}

// Normalize normalizes output for comparison.
func Normalize(s string) string {
	// Normalize line endings
	s = strings.ReplaceAll(s, "\r\n", "\n")

	// Remove trailing whitespace from lines
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}

	// Remove trailing newlines
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

var timestampPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}[^\s"']*`),
	regexp.MustCompile(`\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}`),
}

var uuidPattern = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)

// ScrubTimestamps replaces RFC 3339 and SQL-style timestamps.
func ScrubTimestamps(s string) string {
	for _, re := range timestampPatterns {
		s = re.ReplaceAllString(s, "[TIMESTAMP]")
	}
	return s
}

// ScrubUUIDs replaces document references.
func ScrubUUIDs(s string) string {
	return uuidPattern.ReplaceAllString(s, "[UUID]")
}

// ScrubAll applies all scrubbing functions.
func ScrubAll(s string) string {
	return Normalize(ScrubUUIDs(ScrubTimestamps(s)))
}
