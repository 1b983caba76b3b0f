// Package runway talks to the Runway developer API, whose tasks report
// progress as a 0..1 ratio.
package runway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"vidforge/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("runway: api key is required")

// Task statuses reported by the API.
const (
	StatusPending   = "PENDING"
	StatusThrottled = "THROTTLED"
	StatusRunning   = "RUNNING"
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
	StatusCancelled = "CANCELLED"
)

// Options configures the client.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	APIVersion     string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

type Client struct {
	apiKey     string
	baseURL    string
	model      string
	apiVersion string
	httpClient *http.Client
	logger     *infra.Logger
}

// TaskRequest captures the inputs for a text-to-video task.
type TaskRequest struct {
	PromptText string
	Ratio      string
	Duration   int
}

// Task mirrors the task resource.
type Task struct {
	ID          string   `json:"id"`
	Status      string   `json:"status"`
	Progress    *float64 `json:"progress,omitempty"`
	Output      []string `json:"output,omitempty"`
	Failure     string   `json:"failure,omitempty"`
	FailureCode string   `json:"failureCode,omitempty"`
}

type taskPayload struct {
	Model      string `json:"model"`
	PromptText string `json:"promptText"`
	Ratio      string `json:"ratio,omitempty"`
	Duration   int    `json:"duration,omitempty"`
}

type errorEnvelope struct {
	Error string `json:"error"`
	Issue []struct {
		Message string `json:"message"`
	} `json:"issues"`
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("runway: status %d: %s", e.Status, e.Message)
}

// Transient reports whether retrying later may succeed.
func (e *APIError) Transient() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 45 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.dev.runwayml.com"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "veo3.1_fast"
	}
	version := strings.TrimSpace(opts.APIVersion)
	if version == "" {
		version = "2024-11-06"
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		apiVersion: version,
		httpClient: httpClient,
		logger:     infra.OrDiscard(opts.Logger),
	}, nil
}

func (c *Client) Model() string {
	return c.model
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// CreateTask submits a text-to-video task and returns its id.
func (c *Client) CreateTask(ctx context.Context, req TaskRequest) (string, error) {
	if !c.HasCredentials() {
		return "", ErrMissingAPIKey
	}
	prompt := strings.TrimSpace(req.PromptText)
	if prompt == "" {
		return "", errors.New("runway: prompt is required")
	}
	payload := taskPayload{Model: c.model, PromptText: prompt, Ratio: req.Ratio, Duration: req.Duration}
	var task Task
	if err := c.doJSON(ctx, http.MethodPost, "/v1/text_to_video", payload, &task); err != nil {
		return "", err
	}
	if task.ID == "" {
		return "", errors.New("runway: create returned no task id")
	}
	c.logger.Debug().Str("task_id", task.ID).Str("model", c.model).Msg("runway: task created")
	return task.ID, nil
}

func (c *Client) GetTask(ctx context.Context, id string) (*Task, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	var task Task
	if err := c.doJSON(ctx, http.MethodGet, "/v1/tasks/"+url.PathEscape(id), nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("runway: encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("runway: build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Runway-Version", c.apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("runway: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("runway: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var envelope errorEnvelope
		if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error != "" {
			apiErr.Message = envelope.Error
			if len(envelope.Issue) > 0 && envelope.Issue[0].Message != "" {
				apiErr.Message += ": " + envelope.Issue[0].Message
			}
		}
		return apiErr
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("runway: decode response: %w", err)
	}
	return nil
}
