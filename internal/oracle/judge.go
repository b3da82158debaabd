package oracle

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Verdict is the judgment oracle's decision. Successful is authoritative:
// there is no local heuristic override. SuggestedPattern carries an improved
// pattern on failure and "N/A" on success.
type Verdict struct {
	Successful       bool   `json:"successful_redaction"`
	Reason           string `json:"reason"`
	SuggestedPattern string `json:"regex_pattern"`
}

// Judge verdicts whether a redaction fully removed the sensitive value.
// Successful=false whenever the value remains recoverable in any form,
// including partial masking of a subset of its occurrences.
type Judge interface {
	Judge(ctx context.Context, sensitiveValue, originalText, redactedText string) (Verdict, error)
}

// LLMJudge implements Judge over a chat-completion endpoint.
type LLMJudge struct {
	*client
	maskChar string
}

// NewJudge creates the LLM-backed judgment oracle. maskChar tells the model
// which character marks redacted spans.
func NewJudge(cfg *Config, maskChar string, logger *zap.Logger) *LLMJudge {
	return &LLMJudge{client: newClient(cfg, logger), maskChar: maskChar}
}

const judgeSystemPrompt = `You are a senior data loss prevention engineer.
Judge whether redaction was successful for the specified sensitive value.

Hard requirements:
1) Redaction is SUCCESS only if the sensitive value is NOT recoverable or visible in the redacted text.
2) If FAILED, suggest ONE improved regex_pattern that would better detect/redact this type.
3) Redaction must be complete; partial redactions (e.g., only some characters or some occurrences masked) count as FAILED.
4) If SUCCESS, set regex_pattern to "N/A".
5) Answer as a JSON object of this exact shape, with no extra keys:
{"successful_redaction":true,"reason":"...","regex_pattern":"N/A"}`

// Judge implements Judge.
func (j *LLMJudge) Judge(ctx context.Context, sensitiveValue, originalText, redactedText string) (Verdict, error) {
	userPrompt := fmt.Sprintf(`Evaluate redaction.

Sensitive value:
%s

Mask character:
%s

Original text:
%s

Redacted text:
%s
`, sensitiveValue, j.maskChar, originalText, redactedText)

	var verdict Verdict
	if err := j.completeJSON(ctx, judgeSystemPrompt, userPrompt, &verdict); err != nil {
		return Verdict{}, fmt.Errorf("judgment failed: %w", err)
	}

	j.logger.Debug("Judgment received",
		zap.Bool("successful", verdict.Successful),
		zap.String("reason", verdict.Reason))

	return verdict, nil
}
