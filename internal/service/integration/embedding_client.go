package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Embedder turns UTF-8 text into a dense vector of the corpus-wide fixed
// dimension. Implementations do not chunk; callers keep inputs within the
// window budget.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Dimension() int
}

// ErrEmbeddingUnavailable classifies transient provider failures (transport,
// auth, rate limit) after retries are exhausted. It is retryable.
var ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")

type embeddingClient struct {
	baseURL    string
	apiKey     string
	model      string
	dimension  int
	retryCount int
	retryDelay time.Duration
	client     *http.Client
	logger     zerolog.Logger
}

type EmbeddingClientConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimension  int
	Timeout    time.Duration
	RetryCount int
	RetryDelay time.Duration
}

// NewEmbeddingClient creates a client for an OpenAI-compatible /embeddings
// endpoint.
func NewEmbeddingClient(cfg EmbeddingClientConfig, logger zerolog.Logger) Embedder {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}

	return &embeddingClient{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		retryCount: cfg.RetryCount,
		retryDelay: cfg.RetryDelay,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

func (c *embeddingClient) Dimension() int {
	return c.dimension
}

func (c *embeddingClient) Embed(ctx context.Context, text string) ([]float64, error) {
	url := fmt.Sprintf("%s/embeddings", c.baseURL)

	payload, err := json.Marshal(map[string]string{
		"input": text,
		"model": c.model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	var lastErr error

	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			c.logger.Warn().Int("attempt", attempt).Msg("Retrying embedding request")
			select {
			case <-time.After(backoffDelay(c.retryDelay, attempt)):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, ctx.Err())
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to create embedding request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, err := strconv.Atoi(ra); err == nil {
					select {
					case <-time.After(time.Duration(secs) * time.Second):
					case <-ctx.Done():
						resp.Body.Close()
						return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, ctx.Err())
					}
				}
			}
			resp.Body.Close()
			lastErr = fmt.Errorf("embedding endpoint returned %s", resp.Status)
			continue
		}

		if resp.StatusCode >= 300 {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: endpoint returned %s", ErrEmbeddingUnavailable, resp.Status)
		}

		var out struct {
			Data []struct {
				Embedding []float64 `json:"embedding"`
			} `json:"data"`
		}
		decodeErr := json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		if decodeErr != nil {
			lastErr = fmt.Errorf("failed to decode embedding response: %w", decodeErr)
			continue
		}

		if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
			lastErr = fmt.Errorf("no embedding returned")
			continue
		}

		vector := out.Data[0].Embedding
		if len(vector) != c.dimension {
			return nil, fmt.Errorf("embedding has dimension %d, expected %d", len(vector), c.dimension)
		}

		return vector, nil
	}

	return nil, fmt.Errorf("%w: exhausted %d attempts: %v", ErrEmbeddingUnavailable, c.retryCount+1, lastErr)
}

// backoffDelay doubles the base delay per attempt, capped at 5s.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	d := base << uint(attempt-1)
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}
