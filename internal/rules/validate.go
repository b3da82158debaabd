package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// ValidationError reports a malformed rule field at construction time. It is
// always surfaced to the caller, never silently coerced.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid rule field %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid rule field %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

const minPatternLength = 3

// degeneratePatterns are universal-match forms that would turn a rule into a
// redact-everything hazard. Checked against the normalized pattern.
var degeneratePatterns = map[string]struct{}{
	".*":        {},
	".+":        {},
	".*?":       {},
	".+?":       {},
	"^.*$":      {},
	"^.+$":      {},
	"(.*)":      {},
	"(.+)":      {},
	"[\\s\\S]*": {},
	"[\\s\\S]+": {},
}

// Validate checks rule fields before they reach the repository. Patterns must
// compile here so that a persisted rule is guaranteed compilable; match calls
// never re-surface compile errors.
func (f Fields) Validate() error {
	if err := validateLabel("name", f.Name); err != nil {
		return err
	}
	if err := validateLabel("domain", f.Domain); err != nil {
		return err
	}
	if err := validateLabel("data_category", f.DataCategory); err != nil {
		return err
	}

	pattern := NormalizePattern(f.Pattern)
	if len(pattern) < minPatternLength {
		return &ValidationError{Field: "pattern", Reason: fmt.Sprintf("must be at least %d characters", minPatternLength)}
	}
	if _, ok := degeneratePatterns[pattern]; ok {
		return &ValidationError{Field: "pattern", Reason: "matches everything"}
	}
	if _, err := regexp.Compile(f.Pattern); err != nil {
		return &ValidationError{Field: "pattern", Reason: "does not compile", Err: err}
	}
	return nil
}

// validateLabel enforces the shared constraints on taxonomy fields: non-empty,
// single line, no ellipsis glyphs (a telltale of truncated oracle output).
func validateLabel(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Reason: "must not be empty"}
	}
	if strings.ContainsAny(value, "\r\n") {
		return &ValidationError{Field: field, Reason: "must be a single line"}
	}
	if strings.Contains(value, "…") || strings.Contains(value, "...") {
		return &ValidationError{Field: field, Reason: "must not contain ellipsis"}
	}
	return nil
}

// NormalizePattern trims surrounding whitespace and collapses CRLF to LF. Two
// patterns that normalize identically share a fingerprint and only one row
// survives. Nothing stronger is done on purpose: flag order and interior
// whitespace stay significant.
func NormalizePattern(pattern string) string {
	return strings.ReplaceAll(strings.TrimSpace(pattern), "\r\n", "\n")
}

// HashPattern returns the content fingerprint used as the deduplication key.
func HashPattern(pattern string) string {
	sum := sha256.Sum256([]byte(NormalizePattern(pattern)))
	return hex.EncodeToString(sum[:])
}
