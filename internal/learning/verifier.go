// Package learning contains the closed-loop rule-learning engine: the
// coverage verifier that decides whether learning is needed, and the bounded
// synthesize-evaluate-judge episode that extends the rule set.
package learning

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/redact-sentinel/internal/oracle"
	"github.com/raaihank/redact-sentinel/internal/redact"
	"github.com/raaihank/redact-sentinel/internal/rules"
)

// ActiveLister is the repository read path the verifier depends on.
type ActiveLister interface {
	ListActive(ctx context.Context) ([]rules.Rule, error)
}

// Verifier checks whether the currently active rule set already redacts a
// sensitive value from a sample. Pure read path, no persistence side effects.
type Verifier struct {
	rules  ActiveLister
	judge  oracle.Judge
	logger *zap.Logger
}

// NewVerifier creates a coverage verifier.
func NewVerifier(lister ActiveLister, judge oracle.Judge, logger *zap.Logger) *Verifier {
	return &Verifier{rules: lister, judge: judge, logger: logger}
}

// VerifyCoverage applies every active rule sequentially (same-length masking,
// empty token) and returns the judgment oracle's verdict verbatim.
func (v *Verifier) VerifyCoverage(ctx context.Context, sampleText, sensitiveValue string) (bool, error) {
	active, err := v.rules.ListActive(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to load active rules: %w", err)
	}

	redacted := sampleText
	start := time.Now()
	for _, rule := range active {
		redacted, err = redact.ByPattern(redacted, rule, redact.MaskOptions())
		if err != nil {
			// Persisted rules are guaranteed compilable; this means the
			// store was tampered with out of band.
			return false, fmt.Errorf("stored rule %q failed to apply: %w", rule.Name, err)
		}
	}

	v.logger.Debug("Applied active rule set",
		zap.Int("rules", len(active)),
		zap.Duration("duration", time.Since(start)))

	verdict, err := v.judge.Judge(ctx, sensitiveValue, sampleText, redacted)
	if err != nil {
		return false, err
	}

	if verdict.Successful {
		v.logger.Info("Existing rules already cover the value",
			zap.String("value_hash", valueHash(sensitiveValue)))
	} else {
		v.logger.Warn("No effective rule covers the value",
			zap.String("value_hash", valueHash(sensitiveValue)),
			zap.String("reason", verdict.Reason))
	}

	return verdict.Successful, nil
}
