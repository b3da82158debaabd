// Package embeddings provides the semantic vector attached to each rule at
// creation time, generated by a remote OpenAI-compatible embedding service and
// optionally cached in Redis.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ErrEmptyInput is returned when an embedding is requested for empty or
// whitespace-only text.
var ErrEmptyInput = errors.New("embedding input is empty")

// Embedder generates a fixed-length vector for a text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config contains embedding service configuration.
type Config struct {
	BaseURL        string        `yaml:"base_url" mapstructure:"base_url"`
	APIKey         string        `yaml:"api_key" mapstructure:"api_key"`
	Model          string        `yaml:"model" mapstructure:"model"`
	Dimensions     int           `yaml:"dimensions" mapstructure:"dimensions"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
	Cache          CacheConfig   `yaml:"cache" mapstructure:"cache"`
}

// Client calls an OpenAI-compatible embeddings endpoint.
type Client struct {
	client  *openai.Client
	model   openai.EmbeddingModel
	timeout time.Duration
	logger  *zap.Logger
}

// NewClient creates the remote embedding client.
func NewClient(cfg *Config, logger *zap.Logger) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Client{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   openai.EmbeddingModel(cfg.Model),
		timeout: cfg.RequestTimeout,
		logger:  logger,
	}
}

// Embed implements Embedder. Fails on empty input before any network call.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:          []string{text},
		Model:          c.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("empty embedding response from model %s", c.model)
	}

	c.logger.Debug("Embedding generated",
		zap.String("model", string(c.model)),
		zap.Int("dimensions", len(resp.Data[0].Embedding)),
		zap.Duration("duration", time.Since(start)))

	return resp.Data[0].Embedding, nil
}
