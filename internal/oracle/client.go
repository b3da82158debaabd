// Package oracle wraps the externally hosted language-model collaborators:
// the synthesis oracle that proposes candidate rules and the judgment oracle
// that verdicts redactions. Both are narrow single-method interfaces so the
// learning loop is testable with deterministic fakes.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrUnreachable means the oracle service itself could not be reached. Fatal
// to the current learning episode.
var ErrUnreachable = errors.New("oracle unreachable")

// ErrMalformed means the oracle answered but its output failed schema
// validation even after the bounded internal retries. Consumes one attempt at
// the learning-loop level.
var ErrMalformed = errors.New("oracle returned malformed response")

// Config contains oracle client configuration. Both oracles share one
// OpenAI-compatible endpoint (LM Studio, OpenRouter, Azure) selected by base
// URL.
type Config struct {
	BaseURL           string        `yaml:"base_url" mapstructure:"base_url"`
	APIKey            string        `yaml:"api_key" mapstructure:"api_key"`
	Model             string        `yaml:"model" mapstructure:"model"`
	RequestTimeout    time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
	MaxRetries        int           `yaml:"max_retries" mapstructure:"max_retries"`
	RequestsPerMinute int           `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// client is the shared chat-completion JSON transport.
type client struct {
	api        *openai.Client
	model      string
	timeout    time.Duration
	maxRetries int
	limiter    *rate.Limiter
	logger     *zap.Logger
}

func newClient(cfg *Config, logger *zap.Logger) *client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}

	return &client{
		api:        openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		timeout:    cfg.RequestTimeout,
		maxRetries: cfg.MaxRetries,
		limiter:    limiter,
		logger:     logger,
	}
}

// completeJSON sends one system+user exchange and decodes the reply into out.
// Malformed replies are re-requested up to maxRetries times; transport-level
// failures surface as ErrUnreachable immediately.
func (c *client) completeJSON(ctx context.Context, system, user string, out interface{}) error {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait: %w", err)
		}

		resp, err := c.doCall(ctx, openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		})
		if err != nil {
			if isUnreachable(err) {
				return fmt.Errorf("chat completion failed: %v: %w", err, ErrUnreachable)
			}
			// Timeouts and 4xx responses count as a failed attempt, not a
			// dead oracle.
			lastErr = err
			c.logger.Warn("Oracle call failed, retrying",
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}

		if len(resp.Choices) == 0 {
			lastErr = errors.New("no choices in response")
			continue
		}

		content := stripCodeFences(resp.Choices[0].Message.Content)
		if err := json.Unmarshal([]byte(content), out); err != nil {
			lastErr = err
			c.logger.Warn("Oracle response failed schema validation, retrying",
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}
		return nil
	}

	return fmt.Errorf("after %d attempts: %v: %w", c.maxRetries+1, lastErr, ErrMalformed)
}

// doCall bounds one completion round trip by the configured timeout.
func (c *client) doCall(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.api.CreateChatCompletion(ctx, req)
}

// isUnreachable classifies transport-level failures. Provider 5xx and network
// errors mean the service is down; everything else is a per-attempt failure.
func isUnreachable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// go-openai wraps connection failures in plain errors; treat anything
	// that is not an API-level error as transport failure.
	return true
}

// stripCodeFences removes a surrounding markdown code fence, which smaller
// models emit even in JSON mode.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
