// Package openai provides a training service adapter using the OpenAI
// fine-tuning API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/custodia-labs/driftwatch/internal/core/ports/driven"
)

// Ensure TrainingService implements the interface.
var _ driven.TrainingService = (*TrainingService)(nil)

// Default configuration values.
const (
	DefaultBaseURL   = "https://api.openai.com/v1"
	DefaultBaseModel = "gpt-4o-mini-2024-07-18"
	DefaultTimeout   = 120 * time.Second
	DefaultSuffix    = "driftwatch"
)

// Config holds configuration for the OpenAI training service.
type Config struct {
	// APIKey is the OpenAI API key (required).
	APIKey string

	// BaseURL is the API base URL (default: https://api.openai.com/v1).
	BaseURL string

	// BaseModel is the model to fine-tune (default: gpt-4o-mini-2024-07-18).
	BaseModel string

	// Timeout is the request timeout (default: 120s). File uploads can
	// be slow for large training sets.
	Timeout time.Duration

	// Suffix is appended to the fine-tuned model name (default: driftwatch).
	Suffix string
}

// TrainingService submits and polls OpenAI fine-tuning jobs.
type TrainingService struct {
	client    *http.Client
	baseURL   string
	apiKey    string
	baseModel string
	suffix    string
}

// fileResponse is the files API response format.
type fileResponse struct {
	ID    string `json:"id"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// jobRequest is the fine-tuning jobs API request format.
type jobRequest struct {
	TrainingFile string `json:"training_file"`
	Model        string `json:"model"`
	Suffix       string `json:"suffix,omitempty"`
}

// jobResponse is the fine-tuning jobs API response format.
type jobResponse struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	FineTunedModel string `json:"fine_tuned_model"`
	Error          *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewTrainingService creates a new OpenAI training service.
func NewTrainingService(cfg Config) (*TrainingService, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.BaseModel == "" {
		cfg.BaseModel = DefaultBaseModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Suffix == "" {
		cfg.Suffix = DefaultSuffix
	}

	return &TrainingService{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		baseModel: cfg.BaseModel,
		suffix:    cfg.Suffix,
	}, nil
}

// SubmitJob uploads the examples as a JSONL training file and starts a
// fine-tuning job, returning the job id.
func (s *TrainingService) SubmitJob(ctx context.Context, examples []driven.TrainingExample) (string, error) {
	if len(examples) == 0 {
		return "", fmt.Errorf("openai: no training examples")
	}

	fileID, err := s.uploadTrainingFile(ctx, examples)
	if err != nil {
		return "", err
	}

	jsonBody, err := json.Marshal(jobRequest{
		TrainingFile: fileID,
		Model:        s.baseModel,
		Suffix:       s.suffix,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		s.baseURL+"/fine_tuning/jobs",
		bytes.NewReader(jsonBody),
	)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	job, err := s.doJobRequest(req)
	if err != nil {
		return "", err
	}
	if job.ID == "" {
		return "", fmt.Errorf("openai: job submission returned no id")
	}

	return job.ID, nil
}

// PollJob reports the current status of a fine-tuning job.
func (s *TrainingService) PollJob(ctx context.Context, handle string) (driven.JobStatus, error) {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		s.baseURL+"/fine_tuning/jobs/"+handle,
		http.NoBody,
	)
	if err != nil {
		return driven.JobStatus{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	job, err := s.doJobRequest(req)
	if err != nil {
		return driven.JobStatus{}, err
	}

	// The fine-tuning API does not report evaluation accuracy with the
	// finished job; the validation gate falls back to the evaluation log.
	status := driven.JobStatus{Accuracy: -1}

	switch job.Status {
	case "succeeded":
		status.State = driven.JobStateSucceeded
		status.ArtifactRef = job.FineTunedModel
	case "failed", "cancelled":
		status.State = driven.JobStateFailed
		if job.Error != nil {
			status.Error = job.Error.Message
		} else {
			status.Error = "job " + job.Status
		}
	default:
		// validating_files, queued, running
		status.State = driven.JobStateRunning
	}

	return status, nil
}

// uploadTrainingFile uploads examples as a JSONL file with purpose
// fine-tune and returns the file id.
func (s *TrainingService) uploadTrainingFile(ctx context.Context, examples []driven.TrainingExample) (string, error) {
	var jsonl bytes.Buffer
	enc := json.NewEncoder(&jsonl)
	for _, example := range examples {
		if err := enc.Encode(example); err != nil {
			return "", fmt.Errorf("encode training example: %w", err)
		}
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("purpose", "fine-tune"); err != nil {
		return "", fmt.Errorf("write purpose field: %w", err)
	}
	part, err := writer.CreateFormFile("file", "training.jsonl")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(jsonl.Bytes()); err != nil {
		return "", fmt.Errorf("write training file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/files", &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var file fileResponse
	if err := json.Unmarshal(body, &file); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if file.Error != nil {
		return "", fmt.Errorf("openai error: %s", file.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openai error (status %d): %s", resp.StatusCode, string(body))
	}
	if file.ID == "" {
		return "", fmt.Errorf("openai: file upload returned no id")
	}

	return file.ID, nil
}

// doJobRequest executes a request expecting a job document in response.
func (s *TrainingService) doJobRequest(req *http.Request) (*jobResponse, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var job jobResponse
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	// A populated error on a running job document is not a request
	// failure; it is surfaced by PollJob as a failed state.
	if resp.StatusCode != http.StatusOK {
		if job.Error != nil && job.Error.Message != "" {
			return nil, fmt.Errorf("openai error: %s", job.Error.Message)
		}
		return nil, fmt.Errorf("openai error (status %d): %s", resp.StatusCode, string(body))
	}

	return &job, nil
}

// Close releases resources.
func (s *TrainingService) Close() error {
	// HTTP client doesn't need explicit cleanup
	return nil
}
