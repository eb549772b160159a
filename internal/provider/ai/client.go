// Package ai is the HTTP client for the external AI transformation
// capability. The orchestrator treats one Transform call as a single logical
// attempt per job; any retries inside the provider are opaque here. The
// client only classifies outcomes as succeeded, failed terminally, or
// failed transiently.
package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/artmorph/photo-transformer/internal/model"
)

// Options configures the provider client.
type Options struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Client talks to the style-transfer provider over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewClient creates a Client. A zero Timeout defaults to 120s; the
// per-attempt hard timeout is still enforced by the caller's context.
func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		return nil, errors.New("ai: base url is required")
	}

	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	return &Client{
		httpClient: client,
		baseURL:    base,
		apiKey:     strings.TrimSpace(opts.APIKey),
		model:      opts.Model,
	}, nil
}

// TransformRequest is one transformation attempt.
type TransformRequest struct {
	Image             []byte
	ContentType       string
	StyleID           string
	CustomDescription string
	Quality           model.Quality
	PreserveMetadata  bool
}

// TransformResult is the provider's successful response.
type TransformResult struct {
	Image       []byte
	ContentType string
	Analysis    json.RawMessage
	Metrics     Metrics
}

// Metrics is provider-side accounting returned alongside the image.
type Metrics struct {
	ModelVersion string `json:"model_version"`
	DurationMS   int64  `json:"duration_ms"`
}

type transformPayload struct {
	Model             string `json:"model,omitempty"`
	Image             string `json:"image"`
	ContentType       string `json:"content_type"`
	StyleID           string `json:"style_id,omitempty"`
	CustomDescription string `json:"custom_description,omitempty"`
	Quality           string `json:"quality"`
	PreserveMetadata  bool   `json:"preserve_metadata"`
}

type transformResponse struct {
	Image       string          `json:"image"`
	ContentType string          `json:"content_type"`
	Analysis    json.RawMessage `json:"analysis"`
	Metrics     Metrics         `json:"metrics"`
	Code        string          `json:"code"`
	Message     string          `json:"message"`
}

// Transform runs one style-transfer attempt and classifies failures into
// transient and terminal kinds.
func (c *Client) Transform(ctx context.Context, req TransformRequest) (*TransformResult, error) {
	payload := transformPayload{
		Model:             c.model,
		Image:             base64.StdEncoding.EncodeToString(req.Image),
		ContentType:       req.ContentType,
		StyleID:           req.StyleID,
		CustomDescription: req.CustomDescription,
		Quality:           string(req.Quality),
		PreserveMetadata:  req.PreserveMetadata,
	}

	var out transformResponse
	if err := c.post(ctx, "/v1/transform", payload, &out); err != nil {
		return nil, err
	}

	img, err := base64.StdEncoding.DecodeString(out.Image)
	if err != nil {
		return nil, Terminal(fmt.Errorf("decode transformed image: %w", err))
	}
	if len(img) == 0 {
		return nil, Terminal(errors.New("provider returned an empty image"))
	}

	contentType := out.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}

	return &TransformResult{
		Image:       img,
		ContentType: contentType,
		Analysis:    out.Analysis,
		Metrics:     out.Metrics,
	}, nil
}

// Analyze requests the provider's analysis payload for an image without
// transforming it.
func (c *Client) Analyze(ctx context.Context, image []byte, contentType string) (json.RawMessage, error) {
	payload := map[string]string{
		"image":        base64.StdEncoding.EncodeToString(image),
		"content_type": contentType,
	}

	var out struct {
		Analysis json.RawMessage `json:"analysis"`
	}
	if err := c.post(ctx, "/v1/analyze", payload, &out); err != nil {
		return nil, err
	}

	return out.Analysis, nil
}

// ValidateCustomStyle asks the provider whether a free-text style
// description is acceptable. A rejection is surfaced as a validation error.
func (c *Client) ValidateCustomStyle(ctx context.Context, description string) error {
	payload := map[string]string{"custom_description": description}

	var out struct {
		Valid  bool   `json:"valid"`
		Reason string `json:"reason"`
	}
	if err := c.post(ctx, "/v1/styles/validate", payload, &out); err != nil {
		return err
	}
	if !out.Valid {
		return fmt.Errorf("%w: %s", model.ErrValidation, out.Reason)
	}

	return nil
}

// post sends a JSON request and decodes the response, mapping transport
// failures and status codes onto the error taxonomy.
func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return Terminal(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return Terminal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts and connection failures are worth retrying.
		return Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return Transient(fmt.Errorf("provider returned http %d", resp.StatusCode))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Message string `json:"message"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Message != "" {
			return Terminal(fmt.Errorf("provider rejected request: %s", apiErr.Message))
		}
		return Terminal(fmt.Errorf("provider returned http %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return Transient(fmt.Errorf("decode response: %w", err))
	}

	return nil
}
