// Package embedding talks to an OpenAI-compatible embeddings endpoint.
//
// The Client is the production similarity.Embedder. It keeps a local token
// bucket so a burst of reports cannot exhaust the provider quota; calls
// beyond the bucket fail fast with similarity.ErrThrottled and the matcher
// scores them lexically.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/AlexBiobelemo/Project-Andrew/internal/config"
	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/similarity"
	"github.com/AlexBiobelemo/Project-Andrew/pkg/logger"
)

// Provider names accepted in configuration.
const (
	ProviderNone   = "none"
	ProviderOpenAI = "openai"
)

const defaultModel = "text-embedding-3-small"

// Client calls the embeddings API.
type Client struct {
	api        *openai.Client
	httpClient *http.Client
	model      openai.EmbeddingModel
	dims       int
	limiter    *rate.Limiter
	log        logger.Logger
}

var _ similarity.Embedder = (*Client)(nil)

// NewClient builds a client for the given endpoint. An empty baseURL uses the
// public OpenAI API.
func NewClient(apiKey, baseURL, model string, dims int, opts ...Option) *Client {
	if model == "" {
		model = defaultModel
	}
	c := &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		model:      openai.EmbeddingModel(model),
		dims:       max(dims, 0),
		log:        logger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	cfg.HTTPClient = c.httpClient
	c.api = openai.NewClientWithConfig(cfg)
	return c
}

// FromConfig builds the configured embedder. It returns nil when no provider
// is configured, which leaves the matcher in lexical mode for good.
func FromConfig(cfg config.EmbeddingConfig, log logger.Logger) (similarity.Embedder, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderNone:
		return nil, nil
	case ProviderOpenAI:
		timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		return NewClient(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Dimensions,
			WithHTTPClient(&http.Client{Timeout: 2 * timeout}),
			WithRate(cfg.RatePerSec, cfg.Burst),
			WithLogger(log),
		), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

// Dims returns the requested dimension, or 0 when the model default is used.
func (c *Client) Dims() int { return c.dims }

// Embed returns the vector for text.
func (c *Client) Embed(ctx context.Context, text string) (similarity.Vector, error) {
	if c.limiter != nil && !c.limiter.Allow() {
		return nil, similarity.ErrThrottled
	}

	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: c.model,
	}
	if c.dims > 0 {
		req.Dimensions = c.dims
	}

	resp, err := c.api.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, ErrEmptyResponse
	}
	vec := resp.Data[0].Embedding
	if c.dims > 0 && len(vec) != c.dims {
		return nil, fmt.Errorf("embedding: got %d dims, want %d", len(vec), c.dims)
	}
	c.log.Debug(ctx, "embedding created",
		logger.String("model", string(c.model)),
		logger.Int("dims", len(vec)),
		logger.Int("prompt_tokens", resp.Usage.PromptTokens),
	)
	return vec, nil
}

// classify marks client errors the provider will keep rejecting. Everything
// else (429, 5xx, transport) is transient.
func classify(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
		return fmt.Errorf("%w: status %d: %w", ErrRejected, status, err)
	}
	return fmt.Errorf("embedding: %w", err)
}
