// Package embedding provides a client for the external embedding service.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/M4ORE/fda-ai-device-analyst/internal/config"
	"github.com/M4ORE/fda-ai-device-analyst/pkg/log"
	"github.com/M4ORE/fda-ai-device-analyst/pkg/retry"
)

// ErrUnavailable marks an embedding failure that survived the retry policy.
var ErrUnavailable = errors.New("embedding service unavailable")

const defaultBatchSize = 16

// Client defines the interface for an embedding client. Embed preserves
// input order and returns exactly one vector per input text.
type Client interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
}

type openAICompatibleClient struct {
	cfg    config.EmbeddingConfig
	policy retry.Policy
	client *http.Client
}

// NewClient creates an embedding client for an OpenAI-compatible
// /embeddings endpoint.
func NewClient(cfg config.EmbeddingConfig) Client {
	timeout := 30 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &openAICompatibleClient{
		cfg:    cfg,
		policy: policyFromConfig(cfg.Retry),
		client: &http.Client{Timeout: timeout},
	}
}

func policyFromConfig(cfg config.RetryConfig) retry.Policy {
	p := retry.DefaultPolicy
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseDelayMs > 0 {
		p.BaseDelay = time.Duration(cfg.BaseDelayMs) * time.Millisecond
	}
	if cfg.Multiplier >= 1 {
		p.Multiplier = cfg.Multiplier
	}
	if cfg.MaxDelayMs > 0 {
		p.MaxDelay = time.Duration(cfg.MaxDelayMs) * time.Millisecond
	}
	return p
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed turns texts into vectors, batching up to batch_size inputs per
// request. Each batch is retried with capped backoff on transient failures;
// once a batch exhausts its retries the whole call fails with
// ErrUnavailable so the caller can decide whether to skip or abort.
func (c *openAICompatibleClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	batchSize := c.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		var batchVectors [][]float32
		err := retry.Do(ctx, c.policy, func() error {
			var embedErr error
			batchVectors, embedErr = c.embedBatch(ctx, batch)
			if embedErr != nil {
				log.Warnf("[EmbeddingClient] batch of %d failed: %v", len(batch), embedErr)
			}
			return embedErr
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		vectors = append(vectors, batchVectors...)
	}
	return vectors, nil
}

// embedBatch performs one API call. Responses are reassembled by the index
// field so the output order always matches the input order.
func (c *openAICompatibleClient) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	reqBody := embeddingRequest{
		Model:      c.cfg.Model,
		Input:      batch,
		Dimensions: c.cfg.Dimensions,
	}
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to marshal embedding request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/embeddings", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to create embedding request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call embedding api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := fmt.Errorf("embedding api returned status: %s", resp.Status)
		// Client errors will not heal on retry; 429 and 5xx might.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, retry.Permanent(apiErr)
		}
		return nil, apiErr
	}

	var embeddingResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingResp); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(embeddingResp.Data) != len(batch) {
		return nil, fmt.Errorf("embedding api returned %d vectors for %d inputs", len(embeddingResp.Data), len(batch))
	}

	vectors := make([][]float32, len(batch))
	for i, d := range embeddingResp.Data {
		pos := d.Index
		if pos < 0 || pos >= len(batch) {
			pos = i
		}
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("received empty embedding for input %d", pos)
		}
		if c.cfg.Dimensions > 0 && len(d.Embedding) != c.cfg.Dimensions {
			return nil, retry.Permanent(fmt.Errorf("unexpected embedding dimensions: got %d, want %d", len(d.Embedding), c.cfg.Dimensions))
		}
		vectors[pos] = d.Embedding
	}
	return vectors, nil
}

// ModelName returns the configured embedding model identifier.
func (c *openAICompatibleClient) ModelName() string {
	return c.cfg.Model
}
