// Package sora talks to the OpenAI video generation API, which reports
// percentage progress on a video object and serves the finished file
// from a separate content endpoint.
package sora

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
var ErrMissingAPIKey = errors.New("sora: api key is required")

// Video statuses reported by the API.
const (
	StatusQueued     = "queued"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Options configures the client.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the /videos endpoints.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

// CreateRequest captures the inputs for a new render.
type CreateRequest struct {
	Prompt  string
	Seconds int
	Size    string
}

// Video is the API's video object.
type Video struct {
	ID       string      `json:"id"`
	Status   string      `json:"status"`
	Progress *int        `json:"progress,omitempty"`
	Seconds  string      `json:"seconds,omitempty"`
	Size     string      `json:"size,omitempty"`
	Error    *VideoError `json:"error,omitempty"`
}

type VideoError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type createPayload struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	Seconds string `json:"seconds,omitempty"`
	Size    string `json:"size,omitempty"`
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("sora: status %d: %s (%s)", e.Status, e.Message, e.Code)
	}
	return fmt.Sprintf("sora: status %d: %s", e.Status, e.Message)
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
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("sora: invalid base url: %w", err)
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "sora-2"
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
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

// CreateVideo starts a render and returns the queued video object.
func (c *Client) CreateVideo(ctx context.Context, req CreateRequest) (*Video, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, errors.New("sora: prompt is required")
	}
	payload := createPayload{Model: c.model, Prompt: prompt, Size: req.Size}
	if req.Seconds > 0 {
		payload.Seconds = fmt.Sprintf("%d", req.Seconds)
	}
	var video Video
	if err := c.doJSON(ctx, http.MethodPost, "/videos", payload, &video); err != nil {
		return nil, err
	}
	if video.ID == "" {
		return nil, errors.New("sora: create returned no video id")
	}
	c.logger.Debug().Str("video_id", video.ID).Str("model", c.model).Msg("sora: video created")
	return &video, nil
}

func (c *Client) GetVideo(ctx context.Context, id string) (*Video, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	var video Video
	if err := c.doJSON(ctx, http.MethodGet, "/videos/"+url.PathEscape(id), nil, &video); err != nil {
		return nil, err
	}
	return &video, nil
}

// DownloadContent fetches the rendered MP4. Expired content surfaces as an
// *APIError with status 404 or 410.
func (c *Client) DownloadContent(ctx context.Context, id string) ([]byte, string, error) {
	if !c.HasCredentials() {
		return nil, "", ErrMissingAPIKey
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/videos/"+url.PathEscape(id)+"/content", nil)
	if err != nil {
		return nil, "", fmt.Errorf("sora: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("sora: download content: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, "", decodeError(resp.StatusCode, raw)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("sora: read content: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
		contentType = "video/mp4"
	}
	return data, contentType, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("sora: encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("sora: build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sora: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("sora: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("sora: decode response: %w", err)
	}
	return nil
}

func decodeError(status int, raw []byte) error {
	apiErr := &APIError{Status: status}
	var envelope errorEnvelope
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Message = envelope.Error.Message
		apiErr.Code = envelope.Error.Code
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(raw))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
