package learning

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/raaihank/redact-sentinel/internal/oracle"
	"github.com/raaihank/redact-sentinel/internal/redact"
	"github.com/raaihank/redact-sentinel/internal/rules"
)

// RuleCreator is the repository write path the loop depends on. Create is
// idempotent under pattern-hash collision, so concurrent episodes that learn
// identical patterns converge on one row.
type RuleCreator interface {
	Create(ctx context.Context, f rules.Fields, active bool) (*rules.Rule, error)
}

// state names one phase of a learning episode.
type state string

const (
	stateInit         state = "init"
	stateSynthesizing state = "synthesizing"
	stateEvaluating   state = "evaluating"
	stateJudging      state = "judging"
	statePersisting   state = "persisting"
	stateRetrying     state = "retrying"
	stateSuccess      state = "success"
	stateExhausted    state = "exhausted"
)

// episode is the in-flight state of one learning run for a single
// (sample, value) pair. It exists only for the duration of the loop.
type episode struct {
	sampleText        string
	sensitiveValue    string
	attemptsRemaining int
	state             state

	candidate rules.Fields
	redacted  string
	verdict   oracle.Verdict
}

// Learner runs learning episodes. All collaborators are injected interfaces;
// each oracle invocation and storage operation is a blocking round trip
// executed one at a time within an episode.
type Learner struct {
	synth  oracle.Synthesizer
	judge  oracle.Judge
	repo   RuleCreator
	logger *zap.Logger
}

// NewLearner creates a learner.
func NewLearner(synth oracle.Synthesizer, judge oracle.Judge, repo RuleCreator, logger *zap.Logger) *Learner {
	return &Learner{synth: synth, judge: judge, repo: repo, logger: logger}
}

// Learn runs one bounded episode: repeatedly ask the synthesis oracle for a
// candidate, evaluate it in isolation, submit the redaction to the judgment
// oracle, and persist the first candidate that passes. Returns true when a
// rule was learned and persisted, false when the budget is exhausted with
// nothing persisted. Oracle unreachability aborts the episode with an error;
// no partial state is ever left behind.
func (l *Learner) Learn(ctx context.Context, sampleText, sensitiveValue string, maxAttempts int, hints *oracle.Hints) (bool, error) {
	if maxAttempts <= 0 {
		return false, fmt.Errorf("max attempts must be positive, got %d", maxAttempts)
	}

	log := l.logger.With(zap.String("value_hash", valueHash(sensitiveValue)))
	log.Info("Learning episode started", zap.Int("max_attempts", maxAttempts))

	ep := &episode{
		sampleText:        sampleText,
		sensitiveValue:    sensitiveValue,
		attemptsRemaining: maxAttempts,
		state:             stateInit,
	}
	ep.state = stateSynthesizing

	for {
		switch ep.state {
		case stateSynthesizing:
			candidate, err := l.synth.Propose(ctx, ep.sampleText, ep.sensitiveValue, hints)
			// One attempt is consumed per synthesis round trip, success or
			// not, before the candidate is evaluated.
			ep.attemptsRemaining--
			if err != nil {
				if errors.Is(err, oracle.ErrUnreachable) {
					return false, err
				}
				log.Warn("Synthesis attempt failed", zap.Error(err))
				ep.state = retryOrExhaust(ep)
				continue
			}
			if err := candidate.Validate(); err != nil {
				// Rejected before Evaluating; still consumed the budget.
				log.Warn("Candidate rejected by validation",
					zap.String("pattern", candidate.Pattern),
					zap.Error(err))
				ep.state = retryOrExhaust(ep)
				continue
			}
			ep.candidate = candidate
			ep.state = stateEvaluating

		case stateEvaluating:
			redacted, err := redact.ByPattern(ep.sampleText, rules.Rule{
				Name:         ep.candidate.Name,
				Domain:       ep.candidate.Domain,
				DataCategory: ep.candidate.DataCategory,
				Pattern:      ep.candidate.Pattern,
			}, redact.MaskOptions())
			if err != nil {
				log.Warn("Candidate failed to apply", zap.Error(err))
				ep.state = retryOrExhaust(ep)
				continue
			}
			ep.redacted = redacted
			ep.state = stateJudging

		case stateJudging:
			verdict, err := l.judge.Judge(ctx, ep.sensitiveValue, ep.sampleText, ep.redacted)
			if err != nil {
				if errors.Is(err, oracle.ErrUnreachable) {
					return false, err
				}
				log.Warn("Judgment attempt failed", zap.Error(err))
				ep.state = retryOrExhaust(ep)
				continue
			}
			ep.verdict = verdict
			if verdict.Successful {
				ep.state = statePersisting
				continue
			}
			log.Warn("Redaction judged unsuccessful",
				zap.String("reason", verdict.Reason),
				zap.Int("attempts_remaining", ep.attemptsRemaining))
			ep.state = retryOrExhaust(ep)

		case statePersisting:
			// At most one rule is persisted per episode, and only the one
			// that passed judgment this round.
			rule, err := l.repo.Create(ctx, ep.candidate, true)
			if err != nil {
				return false, fmt.Errorf("failed to persist learned rule: %w", err)
			}
			log.Info("Learning succeeded",
				zap.Int64("rule_id", rule.ID),
				zap.String("rule_name", rule.Name),
				zap.String("pattern", rule.Pattern))
			ep.state = stateSuccess

		case stateRetrying:
			ep.state = stateSynthesizing

		case stateSuccess:
			return true, nil

		case stateExhausted:
			log.Error("Learning failed, attempt budget exhausted")
			return false, nil

		default:
			return false, fmt.Errorf("episode in unknown state %q", ep.state)
		}
	}
}

func retryOrExhaust(ep *episode) state {
	if ep.attemptsRemaining > 0 {
		return stateRetrying
	}
	return stateExhausted
}

// valueHash is a short stable fingerprint used instead of logging the
// sensitive value itself.
func valueHash(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])[:12]
}
