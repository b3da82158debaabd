package redact

import (
	"strings"
	"unicode/utf8"

	"github.com/raaihank/redact-sentinel/internal/rules"
)

// DefaultToken is the fixed replacement used when no token is supplied.
const DefaultToken = "[REDACTED]"

// MaskRune is the default masking character. It is deliberately
// non-alphanumeric so masked spans are not re-matched by later rules in a
// chain.
const MaskRune = '■'

// PatternOptions controls a pattern-mode redaction pass.
type PatternOptions struct {
	// Token replaces each match verbatim when SameLength is false.
	Token string
	// MaskChar is repeated to the width of each match when SameLength is
	// true. Zero means MaskRune.
	MaskChar rune
	// SameLength preserves total text length, enabling position-based
	// reasoning downstream.
	SameLength bool
}

// MaskOptions is the pass used during evaluation and coverage checks:
// same-length masking with an empty token.
func MaskOptions() PatternOptions {
	return PatternOptions{MaskChar: MaskRune, SameLength: true}
}

// ByContent replaces every literal occurrence of each detection's content in
// text with token, globally. This is value-driven on purpose: a byte-identical
// occurrence that was never detected is redacted too. Idempotent given the
// same detections.
func ByContent(text string, detections []rules.Detection, token string) string {
	out := text
	for _, d := range detections {
		if d.Content == "" {
			continue
		}
		out = strings.ReplaceAll(out, d.Content, token)
	}
	return out
}

// ByPattern redacts exactly what the rule's pattern matches in a single
// substitution pass. With SameLength, every match is replaced by MaskChar
// repeated to the exact rune width of the match; otherwise by the literal
// token regardless of width.
func ByPattern(text string, rule rules.Rule, opts PatternOptions) (string, error) {
	re, err := compile(rule.Pattern)
	if err != nil {
		return "", err
	}

	mask := opts.MaskChar
	if mask == 0 {
		mask = MaskRune
	}

	return re.ReplaceAllStringFunc(text, func(m string) string {
		if opts.SameLength {
			return strings.Repeat(string(mask), utf8.RuneCountInString(m))
		}
		return opts.Token
	}), nil
}
