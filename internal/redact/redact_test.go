package redact

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/raaihank/redact-sentinel/internal/rules"
)

func TestByContent(t *testing.T) {
	t.Run("ReplacesEveryOccurrence", func(t *testing.T) {
		detections := []rules.Detection{{Content: "S1234567D"}}
		got := ByContent("S1234567D appears twice: S1234567D.", detections, DefaultToken)
		want := "[REDACTED] appears twice: [REDACTED]."
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("MultipleDetections", func(t *testing.T) {
		detections := []rules.Detection{
			{Content: "S1234567D"},
			{Content: "alice@example.com"},
		}
		got := ByContent("S1234567D mailed alice@example.com", detections, "***")
		if got != "*** mailed ***" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("EmptyContentIgnored", func(t *testing.T) {
		got := ByContent("untouched", []rules.Detection{{Content: ""}}, DefaultToken)
		if got != "untouched" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		detections := []rules.Detection{{Content: "S1234567D"}}
		once := ByContent("id S1234567D", detections, DefaultToken)
		twice := ByContent(once, detections, DefaultToken)
		if once != twice {
			t.Errorf("second pass changed output: %q vs %q", once, twice)
		}
	})
}

func TestByPattern(t *testing.T) {
	t.Run("TokenMode", func(t *testing.T) {
		got, err := ByPattern("id S1234567D end", nricRule(), PatternOptions{Token: DefaultToken})
		if err != nil {
			t.Fatalf("ByPattern: %v", err)
		}
		if got != "id [REDACTED] end" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("SameLengthMask", func(t *testing.T) {
		text := "id S1234567D end"
		got, err := ByPattern(text, nricRule(), MaskOptions())
		if err != nil {
			t.Fatalf("ByPattern: %v", err)
		}
		if utf8.RuneCountInString(got) != utf8.RuneCountInString(text) {
			t.Errorf("same-length mask changed rune count: %q", got)
		}
		if got != "id ■■■■■■■■■ end" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("NonOverlappingSubstitution", func(t *testing.T) {
		// aa in aaa consumes [0,2); only the trailing a survives.
		got, err := ByPattern("aaa", rules.Rule{Pattern: "aa"}, PatternOptions{Token: "X"})
		if err != nil {
			t.Fatalf("ByPattern: %v", err)
		}
		if got != "Xa" {
			t.Errorf("got %q, want %q", got, "Xa")
		}
	})

	t.Run("EmptyTokenRemovesMatches", func(t *testing.T) {
		got, err := ByPattern("a S1234567D b", nricRule(), PatternOptions{Token: ""})
		if err != nil {
			t.Fatalf("ByPattern: %v", err)
		}
		if got != "a  b" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("CustomMaskChar", func(t *testing.T) {
		got, err := ByPattern("S1234567D", nricRule(), PatternOptions{MaskChar: '*', SameLength: true})
		if err != nil {
			t.Fatalf("ByPattern: %v", err)
		}
		if got != strings.Repeat("*", 9) {
			t.Errorf("got %q", got)
		}
	})

	t.Run("NoMatchLeavesTextUntouched", func(t *testing.T) {
		got, err := ByPattern("nothing sensitive", nricRule(), MaskOptions())
		if err != nil {
			t.Fatalf("ByPattern: %v", err)
		}
		if got != "nothing sensitive" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("UncompilablePattern", func(t *testing.T) {
		if _, err := ByPattern("text", rules.Rule{Pattern: "[0-9"}, MaskOptions()); err == nil {
			t.Error("expected compile error")
		}
	})
}
