package logging

import (
	"regexp"
	"sync"
)

const redacted = "[REDACTED]"

// secretRules match credentials that agent CLIs may echo on stderr. Order
// matters: the Anthropic rule must run before the generic sk- rule.
var secretRules = []struct {
	name    string
	pattern string
}{
	{"anthropic", `sk-ant-[a-zA-Z0-9-]{40,}`},
	{"openai", `sk-[A-Za-z0-9]{20,}`},
	{"google", `AIza[a-zA-Z0-9_-]{35}`},
	{"aws", `AKIA[0-9A-Z]{16}`},
	{"bearer", `(?i)bearer\s+[a-zA-Z0-9._-]{20,}`},
	{"assignment", `(?i)(api[_-]?key|secret|token)["'\s:=]+[a-zA-Z0-9_-]{20,}`},
	{"password", `(?i)password["'\s:=]+[^\s"']{8,}`},
}

var compiledRules = sync.OnceValue(func() []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(secretRules))
	for i, r := range secretRules {
		out[i] = regexp.MustCompile(r.pattern)
	}
	return out
})

// Sanitizer redacts credentials from log output.
type Sanitizer struct {
	mu    sync.RWMutex
	rules []*regexp.Regexp
}

// NewSanitizer returns a sanitizer loaded with the built-in secret rules.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{rules: append([]*regexp.Regexp(nil), compiledRules()...)}
}

// Sanitize replaces every secret in input with a placeholder.
func (s *Sanitizer) Sanitize(input string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, re := range s.rules {
		input = re.ReplaceAllString(input, redacted)
	}
	return input
}

// AddPattern registers an extra rule.
func (s *Sanitizer) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.rules = append(s.rules, re)
	s.mu.Unlock()
	return nil
}
