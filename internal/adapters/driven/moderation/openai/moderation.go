// Package openai provides a moderation classifier adapter using the
// OpenAI moderations API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/driftwatch/internal/core/ports/driven"
)

// Ensure ModerationClassifier implements the interface.
var _ driven.ModerationClassifier = (*ModerationClassifier)(nil)

// Default configuration values.
const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "omni-moderation-latest"
	DefaultTimeout = 60 * time.Second

	// DefaultRequestsPerSecond caps the moderation backfill rate.
	DefaultRequestsPerSecond = 5.0

	// maxBatchSize is the input cap per moderations request.
	maxBatchSize = 32
)

// Config holds configuration for the OpenAI moderation classifier.
type Config struct {
	// APIKey is the OpenAI API key (required).
	APIKey string

	// BaseURL is the API base URL (default: https://api.openai.com/v1).
	BaseURL string

	// Model is the moderation model to use (default: omni-moderation-latest).
	Model string

	// Timeout is the request timeout (default: 60s).
	Timeout time.Duration

	// RequestsPerSecond caps the outgoing request rate (default: 5).
	RequestsPerSecond float64
}

// ModerationClassifier flags toxic content using the OpenAI moderations API.
type ModerationClassifier struct {
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
	apiKey  string
	model   string
}

// moderationRequest is the OpenAI API request format.
type moderationRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// moderationResponse is the OpenAI API response format.
type moderationResponse struct {
	Results []struct {
		Flagged        bool               `json:"flagged"`
		CategoryScores map[string]float64 `json:"category_scores"`
	} `json:"results"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewModerationClassifier creates a new OpenAI moderation classifier.
func NewModerationClassifier(cfg Config) (*ModerationClassifier, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = DefaultRequestsPerSecond
	}

	return &ModerationClassifier{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}, nil
}

// Classify scores a single text.
func (c *ModerationClassifier) Classify(ctx context.Context, text string) (driven.ModerationVerdict, error) {
	verdicts, err := c.ClassifyBatch(ctx, []string{text})
	if err != nil {
		return driven.ModerationVerdict{}, err
	}
	if len(verdicts) == 0 {
		return driven.ModerationVerdict{}, fmt.Errorf("openai: no moderation result returned")
	}
	return verdicts[0], nil
}

// ClassifyBatch scores multiple texts, preserving order. Inputs beyond
// the per-request cap are split across requests.
func (c *ModerationClassifier) ClassifyBatch(ctx context.Context, texts []string) ([]driven.ModerationVerdict, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	verdicts := make([]driven.ModerationVerdict, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := c.classifyOnce(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		verdicts = append(verdicts, batch...)
	}

	return verdicts, nil
}

// classifyOnce performs a single moderations request.
func (c *ModerationClassifier) classifyOnce(ctx context.Context, texts []string) ([]driven.ModerationVerdict, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	jsonBody, err := json.Marshal(moderationRequest{
		Model: c.model,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+"/moderations",
		bytes.NewReader(jsonBody),
	)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var modResp moderationResponse
	if err := json.Unmarshal(body, &modResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if modResp.Error != nil {
		return nil, fmt.Errorf("openai error: %s", modResp.Error.Message)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai error (status %d): %s", resp.StatusCode, string(body))
	}

	if len(modResp.Results) != len(texts) {
		return nil, fmt.Errorf("openai: got %d results for %d texts", len(modResp.Results), len(texts))
	}

	verdicts := make([]driven.ModerationVerdict, len(modResp.Results))
	for i, result := range modResp.Results {
		score := 0.0
		for _, s := range result.CategoryScores {
			if s > score {
				score = s
			}
		}
		verdicts[i] = driven.ModerationVerdict{
			Toxic: result.Flagged,
			Score: score,
		}
	}

	return verdicts, nil
}

// Close releases resources.
func (c *ModerationClassifier) Close() error {
	// HTTP client doesn't need explicit cleanup
	return nil
}
