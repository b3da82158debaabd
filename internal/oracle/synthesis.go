package oracle

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/raaihank/redact-sentinel/internal/rules"
)

// Hints optionally steer the synthesis oracle toward a fixed taxonomy.
type Hints struct {
	Name         string `json:"name,omitempty"`
	Domain       string `json:"domain,omitempty"`
	DataCategory string `json:"data_category,omitempty"`
}

// Synthesizer proposes one candidate rule for a sensitive value found in a
// sample. The returned pattern must match the value in the sample; the core
// only enforces the validation gates, semantic correctness is caught by the
// judge.
type Synthesizer interface {
	Propose(ctx context.Context, sampleText, sensitiveValue string, hints *Hints) (rules.Fields, error)
}

// LLMSynthesizer implements Synthesizer over a chat-completion endpoint.
type LLMSynthesizer struct {
	*client
}

// NewSynthesizer creates the LLM-backed synthesis oracle.
func NewSynthesizer(cfg *Config, logger *zap.Logger) *LLMSynthesizer {
	return &LLMSynthesizer{client: newClient(cfg, logger)}
}

const synthesisSystemPrompt = `You are a senior data loss prevention engineer.
Propose ONE reusable regex rule that detects the SAME TYPE of sensitive data
as the provided sensitive value, within similar text.

Hard requirements:
1) Do NOT hardcode the exact sensitive value.
2) The regex MUST match the provided sensitive value as shown.
3) Prefer high precision. Avoid overly broad patterns that match common words/numbers.
4) Make it reasonably general for that data type (support common real-world variants).
5) Keep it safe/performant (avoid catastrophic backtracking; avoid nested .* where possible).
6) If hints are provided (name/domain/data_category), follow them exactly.
7) Return exactly ONE rule, as a JSON object of this exact shape:
{"rule":{"name":"...","domain":"...","data_category":"...","description":"...","pattern":"..."}}
No other keys, no explanations outside the JSON.`

// Propose implements Synthesizer.
func (s *LLMSynthesizer) Propose(ctx context.Context, sampleText, sensitiveValue string, hints *Hints) (rules.Fields, error) {
	var hintLines []string
	if hints != nil {
		if hints.Name != "" {
			hintLines = append(hintLines, fmt.Sprintf("name_hint=%q", hints.Name))
		}
		if hints.Domain != "" {
			hintLines = append(hintLines, fmt.Sprintf("domain_hint=%q", hints.Domain))
		}
		if hints.DataCategory != "" {
			hintLines = append(hintLines, fmt.Sprintf("data_category_hint=%q", hints.DataCategory))
		}
	}
	hintsBlock := "(none)"
	if len(hintLines) > 0 {
		hintsBlock = strings.Join(hintLines, "\n")
	}

	userPrompt := fmt.Sprintf(`Goal: propose ONE regex rule.

What you are given:
- A sensitive value (one instance)
- A sample text containing it
- Optional hints (taxonomy/labels)

What you must do:
A) Infer what TYPE of sensitive data it is based on the value + surrounding context.
B) Write a regex that matches that type, not just this exact instance.
C) Include boundaries/anchors appropriate for the type.
D) If the value has a checksum/semantic validation (e.g., Luhn), do NOT attempt it in regex.

Design guidance (apply only if relevant):
- If the value is an ID with fixed structure (e.g., NRIC/SSN), encode that structure.
- If the value is a token/key, look for stable prefixes, length ranges, and allowed charset.
- If the value is free-form, prefer conservative patterns that latch onto strong cues.
- If ambiguity is unavoidable, choose precision over recall.

Hints:
%s

Sensitive value (your regex must match this):
%s

Sample text:
%s
`, hintsBlock, sensitiveValue, sampleText)

	var suggestion struct {
		Rule rules.Fields `json:"rule"`
	}
	if err := s.completeJSON(ctx, synthesisSystemPrompt, userPrompt, &suggestion); err != nil {
		return rules.Fields{}, fmt.Errorf("synthesis failed: %w", err)
	}

	s.logger.Debug("Candidate rule proposed",
		zap.String("name", suggestion.Rule.Name),
		zap.String("domain", suggestion.Rule.Domain),
		zap.String("data_category", suggestion.Rule.DataCategory),
		zap.String("pattern", suggestion.Rule.Pattern))

	return suggestion.Rule, nil
}
