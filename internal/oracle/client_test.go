package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func TestStripCodeFences(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"Bare", `{"a":1}`, `{"a":1}`},
		{"Fenced", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"FencedWithLanguage", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"SurroundingWhitespace", "  \n```json\n{\"a\":1}\n```\n ", `{"a":1}`},
		{"FenceInsideStringUntouched", `{"a":"` + "```" + `"}`, `{"a":"` + "```" + `"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := stripCodeFences(tc.in); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestIsUnreachable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"DeadlineExceeded", context.DeadlineExceeded, false},
		{"Canceled", context.Canceled, false},
		{"APIError400", &openai.APIError{HTTPStatusCode: 400}, false},
		{"APIError429", &openai.APIError{HTTPStatusCode: 429}, false},
		{"APIError500", &openai.APIError{HTTPStatusCode: 500}, true},
		{"APIError503", &openai.APIError{HTTPStatusCode: 503}, true},
		{"RequestError404", &openai.RequestError{HTTPStatusCode: 404}, false},
		{"RequestError502", &openai.RequestError{HTTPStatusCode: 502}, true},
		{"PlainError", errors.New("dial tcp: connection refused"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isUnreachable(tc.err); got != tc.want {
				t.Errorf("isUnreachable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

// oracleStub serves chat completions whose message content comes from replies,
// one per request in order. The last reply repeats.
func oracleStub(t *testing.T, replies ...string) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		i := calls.Add(1) - 1
		if int(i) >= len(replies) {
			i = int64(len(replies) - 1)
		}
		resp := openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{Content: replies[i]},
			}},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func stubConfig(baseURL string) *Config {
	return &Config{
		BaseURL:        baseURL + "/v1",
		APIKey:         "test-key",
		Model:          "test-model",
		RequestTimeout: 5 * time.Second,
		MaxRetries:     2,
	}
}

func TestSynthesizerPropose(t *testing.T) {
	t.Run("DecodesRuleEnvelope", func(t *testing.T) {
		srv, _ := oracleStub(t, `{"rule":{"name":"regex.nric.sg.v1","domain":"PII","data_category":"NRIC","description":"Singapore NRIC","pattern":"\\b[STFG]\\d{7}[A-Z]\\b"}}`)
		synth := NewSynthesizer(stubConfig(srv.URL), zap.NewNop())

		fields, err := synth.Propose(context.Background(), "NRIC is S1234567D", "S1234567D", nil)
		if err != nil {
			t.Fatalf("Propose: %v", err)
		}
		if fields.Name != "regex.nric.sg.v1" || fields.Domain != "PII" {
			t.Errorf("unexpected fields: %+v", fields)
		}
		if fields.Pattern != `\b[STFG]\d{7}[A-Z]\b` {
			t.Errorf("unexpected pattern %q", fields.Pattern)
		}
	})

	t.Run("RetriesMalformedThenSucceeds", func(t *testing.T) {
		srv, calls := oracleStub(t,
			"not json at all",
			`{"rule":{"name":"n","domain":"d","data_category":"c","description":"x","pattern":"\\d{4}"}}`,
		)
		synth := NewSynthesizer(stubConfig(srv.URL), zap.NewNop())

		fields, err := synth.Propose(context.Background(), "pin 1234", "1234", nil)
		if err != nil {
			t.Fatalf("Propose: %v", err)
		}
		if fields.Pattern != `\d{4}` {
			t.Errorf("unexpected pattern %q", fields.Pattern)
		}
		if calls.Load() != 2 {
			t.Errorf("expected 2 calls, got %d", calls.Load())
		}
	})

	t.Run("MalformedAfterRetriesExhausted", func(t *testing.T) {
		srv, calls := oracleStub(t, "still not json")
		synth := NewSynthesizer(stubConfig(srv.URL), zap.NewNop())

		_, err := synth.Propose(context.Background(), "s", "v", nil)
		if !errors.Is(err, ErrMalformed) {
			t.Fatalf("expected ErrMalformed, got %v", err)
		}
		if calls.Load() != 3 {
			t.Errorf("max_retries=2 means 3 calls, got %d", calls.Load())
		}
	})

	t.Run("FencedJSONAccepted", func(t *testing.T) {
		srv, _ := oracleStub(t, "```json\n{\"rule\":{\"name\":\"n\",\"domain\":\"d\",\"data_category\":\"c\",\"description\":\"x\",\"pattern\":\"\\\\d{4}\"}}\n```")
		synth := NewSynthesizer(stubConfig(srv.URL), zap.NewNop())

		fields, err := synth.Propose(context.Background(), "pin 1234", "1234", nil)
		if err != nil {
			t.Fatalf("Propose: %v", err)
		}
		if fields.Pattern != `\d{4}` {
			t.Errorf("unexpected pattern %q", fields.Pattern)
		}
	})

	t.Run("ServerErrorIsUnreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
		}))
		defer srv.Close()
		synth := NewSynthesizer(stubConfig(srv.URL), zap.NewNop())

		_, err := synth.Propose(context.Background(), "s", "v", nil)
		if !errors.Is(err, ErrUnreachable) {
			t.Fatalf("expected ErrUnreachable, got %v", err)
		}
	})

	t.Run("DeadOracleIsUnreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()
		synth := NewSynthesizer(stubConfig(srv.URL), zap.NewNop())

		_, err := synth.Propose(context.Background(), "s", "v", nil)
		if !errors.Is(err, ErrUnreachable) {
			t.Fatalf("expected ErrUnreachable, got %v", err)
		}
	})
}

func TestJudgeVerdict(t *testing.T) {
	t.Run("SuccessVerdict", func(t *testing.T) {
		srv, _ := oracleStub(t, `{"successful_redaction":true,"reason":"value fully masked","regex_pattern":"N/A"}`)
		judge := NewJudge(stubConfig(srv.URL), "■", zap.NewNop())

		verdict, err := judge.Judge(context.Background(), "S1234567D", "id S1234567D", "id ■■■■■■■■■")
		if err != nil {
			t.Fatalf("Judge: %v", err)
		}
		if !verdict.Successful {
			t.Error("expected a successful verdict")
		}
		if verdict.SuggestedPattern != "N/A" {
			t.Errorf("unexpected suggested pattern %q", verdict.SuggestedPattern)
		}
	})

	t.Run("FailureVerdictCarriesSuggestion", func(t *testing.T) {
		srv, _ := oracleStub(t, `{"successful_redaction":false,"reason":"value still visible","regex_pattern":"\\b[STFG]\\d{7}[A-Z]\\b"}`)
		judge := NewJudge(stubConfig(srv.URL), "■", zap.NewNop())

		verdict, err := judge.Judge(context.Background(), "S1234567D", "id S1234567D", "id S1234567D")
		if err != nil {
			t.Fatalf("Judge: %v", err)
		}
		if verdict.Successful {
			t.Error("expected a failed verdict")
		}
		if verdict.Reason == "" || verdict.SuggestedPattern == "N/A" {
			t.Errorf("failed verdict should explain itself: %+v", verdict)
		}
	})
}

func TestRateLimiterConfigured(t *testing.T) {
	c := newClient(&Config{RequestsPerMinute: 60}, zap.NewNop())
	if c.limiter.Limit() != rate.Limit(1) {
		t.Errorf("60 rpm should yield 1 rps, got %v", c.limiter.Limit())
	}

	unlimited := newClient(&Config{}, zap.NewNop())
	if unlimited.limiter.Limit() != rate.Inf {
		t.Errorf("zero rpm should disable limiting, got %v", unlimited.limiter.Limit())
	}
}
