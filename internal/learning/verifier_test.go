package learning

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/raaihank/redact-sentinel/internal/oracle"
	"github.com/raaihank/redact-sentinel/internal/rules"
)

type fakeLister struct {
	rules []rules.Rule
	err   error
}

func (f *fakeLister) ListActive(_ context.Context) ([]rules.Rule, error) {
	return f.rules, f.err
}

// recordingJudge captures the redacted text handed to the oracle.
type recordingJudge struct {
	fakeJudge
	lastRedacted string
}

func (r *recordingJudge) Judge(ctx context.Context, sensitiveValue, originalText, redactedText string) (oracle.Verdict, error) {
	r.lastRedacted = redactedText
	return r.fakeJudge.Judge(ctx, sensitiveValue, originalText, redactedText)
}

func TestVerifyCoverage(t *testing.T) {
	nric := rules.Rule{
		Name:         "regex.nric.sg.v1",
		Domain:       "PII",
		DataCategory: "NRIC",
		Pattern:      `\b[STFG]\d{7}[A-Z]\b`,
		Active:       true,
	}

	t.Run("CoveredValue", func(t *testing.T) {
		judge := &recordingJudge{}
		v := NewVerifier(&fakeLister{rules: []rules.Rule{nric}}, judge, zap.NewNop())

		covered, err := v.VerifyCoverage(context.Background(), sampleText, sensitiveValue)
		if err != nil {
			t.Fatalf("VerifyCoverage: %v", err)
		}
		if !covered {
			t.Error("expected the NRIC rule to cover the value")
		}
		if judge.lastRedacted == sampleText {
			t.Error("judge must see the masked text, not the original")
		}
		if len(judge.lastRedacted) == 0 {
			t.Error("masked text must not be empty")
		}
	})

	t.Run("UncoveredValue", func(t *testing.T) {
		email := rules.Rule{
			Name:         "regex.email.v1",
			Domain:       "PII",
			DataCategory: "EMAIL",
			Pattern:      `[\w.+-]+@[\w-]+\.[\w.]+`,
			Active:       true,
		}
		judge := &fakeJudge{}
		v := NewVerifier(&fakeLister{rules: []rules.Rule{email}}, judge, zap.NewNop())

		covered, err := v.VerifyCoverage(context.Background(), sampleText, sensitiveValue)
		if err != nil {
			t.Fatalf("VerifyCoverage: %v", err)
		}
		if covered {
			t.Error("email rule must not cover an NRIC")
		}
	})

	t.Run("EmptyRuleSet", func(t *testing.T) {
		judge := &recordingJudge{}
		v := NewVerifier(&fakeLister{}, judge, zap.NewNop())

		covered, err := v.VerifyCoverage(context.Background(), sampleText, sensitiveValue)
		if err != nil {
			t.Fatalf("VerifyCoverage: %v", err)
		}
		if covered {
			t.Error("no rules cannot cover anything")
		}
		if judge.lastRedacted != sampleText {
			t.Error("with no rules the judge sees the sample unchanged")
		}
	})

	t.Run("ListerFailureSurfaces", func(t *testing.T) {
		v := NewVerifier(&fakeLister{err: errors.New("db down")}, &fakeJudge{}, zap.NewNop())
		if _, err := v.VerifyCoverage(context.Background(), sampleText, sensitiveValue); err == nil {
			t.Error("expected lister failure to surface")
		}
	})

	t.Run("JudgeUnreachableSurfaces", func(t *testing.T) {
		judge := &fakeJudge{err: oracle.ErrUnreachable}
		v := NewVerifier(&fakeLister{rules: []rules.Rule{nric}}, judge, zap.NewNop())

		_, err := v.VerifyCoverage(context.Background(), sampleText, sensitiveValue)
		if !errors.Is(err, oracle.ErrUnreachable) {
			t.Errorf("expected ErrUnreachable, got %v", err)
		}
	})
}
