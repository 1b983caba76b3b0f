// Package veo drives Veo generations through the Gemini API's long-running
// operations: predictLongRunning starts a render (or an extension of a
// previous one) and the operation resource is polled until done.
package veo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vidforge/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("veo: api key is required")

// AuthHeader carries the API key on data plane and media requests.
const AuthHeader = "x-goog-api-key"

// Options configures the client.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

// GenerateRequest starts a render. VideoURI makes it an extension of an
// earlier output.
type GenerateRequest struct {
	Prompt          string
	NegativePrompt  string
	AspectRatio     string
	DurationSeconds int
	VideoURI        string
}

// Operation mirrors the long-running operation resource.
type Operation struct {
	Name     string             `json:"name"`
	Done     bool               `json:"done"`
	Error    *OperationError    `json:"error,omitempty"`
	Response *OperationResponse `json:"response,omitempty"`
}

type OperationResponse struct {
	GenerateVideoResponse *GenerateVideoResponse `json:"generateVideoResponse,omitempty"`
}

type OperationError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type GenerateVideoResponse struct {
	GeneratedSamples        []Sample `json:"generatedSamples"`
	RaiMediaFilteredCount   int      `json:"raiMediaFilteredCount"`
	RaiMediaFilteredReasons []string `json:"raiMediaFilteredReasons"`
}

type Sample struct {
	Video struct {
		URI      string `json:"uri"`
		MimeType string `json:"mimeType,omitempty"`
	} `json:"video"`
}

// Result returns the generation payload, or nil when the operation carries none.
func (o *Operation) Result() *GenerateVideoResponse {
	if o == nil || o.Response == nil {
		return nil
	}
	return o.Response.GenerateVideoResponse
}

// FirstVideoURI returns the first non-empty sample URI.
func (r *GenerateVideoResponse) FirstVideoURI() string {
	if r == nil {
		return ""
	}
	for _, s := range r.GeneratedSamples {
		if uri := strings.TrimSpace(s.Video.URI); uri != "" {
			return uri
		}
	}
	return ""
}

type predictPayload struct {
	Instances  []predictInstance `json:"instances"`
	Parameters *predictParams    `json:"parameters,omitempty"`
}

type predictInstance struct {
	Prompt string        `json:"prompt"`
	Video  *videoPayload `json:"video,omitempty"`
}

type videoPayload struct {
	URI string `json:"uri"`
}

type predictParams struct {
	AspectRatio     string `json:"aspectRatio,omitempty"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
	NegativePrompt  string `json:"negativePrompt,omitempty"`
	SampleCount     int    `json:"sampleCount,omitempty"`
}

type errorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
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
		return fmt.Sprintf("veo: status %d: %s (%s)", e.Status, e.Message, e.Code)
	}
	return fmt.Sprintf("veo: status %d: %s", e.Status, e.Message)
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
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "veo-3.1-generate-preview"
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

// MediaCredential returns the header and value needed to download sample URIs.
func (c *Client) MediaCredential() (string, string) {
	return AuthHeader, c.apiKey
}

// Generate starts a predictLongRunning call and returns the operation name.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if !c.HasCredentials() {
		return "", ErrMissingAPIKey
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" && req.VideoURI == "" {
		return "", errors.New("veo: prompt is required")
	}
	instance := predictInstance{Prompt: prompt}
	if uri := strings.TrimSpace(req.VideoURI); uri != "" {
		instance.Video = &videoPayload{URI: uri}
	}
	payload := predictPayload{Instances: []predictInstance{instance}}
	params := predictParams{
		AspectRatio:    strings.TrimSpace(req.AspectRatio),
		NegativePrompt: strings.TrimSpace(req.NegativePrompt),
	}
	if instance.Video == nil && req.DurationSeconds > 0 {
		params.DurationSeconds = req.DurationSeconds
	}
	if params != (predictParams{}) {
		payload.Parameters = &params
	}

	var op Operation
	path := "/models/" + c.model + ":predictLongRunning"
	if err := c.doJSON(ctx, http.MethodPost, path, payload, &op); err != nil {
		return "", err
	}
	if op.Name == "" {
		return "", errors.New("veo: predictLongRunning returned no operation name")
	}
	c.logger.Debug().
		Str("operation", op.Name).
		Bool("extension", instance.Video != nil).
		Msg("veo: operation started")
	return op.Name, nil
}

// Extend continues the video at videoURI by one segment.
func (c *Client) Extend(ctx context.Context, videoURI, prompt string) (string, error) {
	if strings.TrimSpace(videoURI) == "" {
		return "", errors.New("veo: extension needs a source video uri")
	}
	return c.Generate(ctx, GenerateRequest{Prompt: prompt, VideoURI: videoURI})
}

func (c *Client) GetOperation(ctx context.Context, name string) (*Operation, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	name = strings.TrimLeft(strings.TrimSpace(name), "/")
	if name == "" {
		return nil, errors.New("veo: operation name is required")
	}
	var op Operation
	if err := c.doJSON(ctx, http.MethodGet, "/"+name, nil, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("veo: encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("veo: build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(AuthHeader, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("veo: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("veo: read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		var envelope errorEnvelope
		if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
			apiErr.Message = envelope.Error.Message
			apiErr.Code = envelope.Error.Status
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("veo: decode response: %w", err)
	}
	return nil
}
