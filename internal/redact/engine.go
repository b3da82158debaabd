// Package redact holds the pattern and redaction engines: pure functions that
// apply a single rule to text. Every match and substitution in the codebase
// goes through the compiled-pattern path here, so inline flags embedded in a
// pattern (case-insensitivity, multiline anchors) are honored uniformly.
package redact

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/raaihank/redact-sentinel/internal/rules"
)

// Match is one located, non-overlapping pattern hit.
type Match struct {
	Text  string
	Start int
	End   int
}

var (
	compiledMu sync.RWMutex
	compiled   = make(map[string]*regexp.Regexp)
)

// compile returns a cached compiled pattern. Rules are validated before they
// reach the repository, so a compile failure here means the caller bypassed
// validation.
func compile(pattern string) (*regexp.Regexp, error) {
	compiledMu.RLock()
	re, ok := compiled[pattern]
	compiledMu.RUnlock()
	if ok {
		return re, nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("pattern does not compile: %w", err)
	}

	compiledMu.Lock()
	compiled[pattern] = re
	compiledMu.Unlock()
	return re, nil
}

// MatchAll returns all matches of the rule's pattern in text, ordered by
// ascending start offset. Scanning is left-to-right and non-overlapping: once
// a match consumes a span, scanning resumes after it. Input text is never
// mutated.
func MatchAll(text string, rule rules.Rule) ([]Match, error) {
	re, err := compile(rule.Pattern)
	if err != nil {
		return nil, err
	}

	spans := re.FindAllStringIndex(text, -1)
	matches := make([]Match, 0, len(spans))
	for _, span := range spans {
		matches = append(matches, Match{
			Text:  text[span[0]:span[1]],
			Start: span[0],
			End:   span[1],
		})
	}
	return matches, nil
}

// DetectText runs one rule over text and wraps each match in a Detection
// carrying the rule's taxonomy and a text location. Line numbers are 1-based
// and newline-delimited.
func DetectText(text string, rule rules.Rule) ([]rules.Detection, error) {
	matches, err := MatchAll(text, rule)
	if err != nil {
		return nil, err
	}

	detections := make([]rules.Detection, 0, len(matches))
	for _, m := range matches {
		loc := rules.NewTextLocation(m.Start, m.End)
		loc.Text.Line = 1 + strings.Count(text[:m.Start], "\n")
		detections = append(detections, rules.Detection{
			Content:      m.Text,
			Domain:       rule.Domain,
			DataCategory: rule.DataCategory,
			Location:     loc,
		})
	}
	return detections, nil
}
