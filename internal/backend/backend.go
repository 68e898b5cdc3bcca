// Package backend is the HTTP transport to the GuiaIA service.
//
// The service owns the question bank, validation rules, scoring and prompt
// improvement; this package only moves JSON in and out of it.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/GuiaIA/internal/models"
)

// Endpoint paths consumed by the client.
const (
	PathQuestions      = "/questions"
	PathValidateStep   = "/validate-step"
	PathComposeInitial = "/compose-initial"
	PathScorecard      = "/scorecard"
	PathImproveOnline  = "/improve-online"
	PathAnalyticsEvent = "/api/analytics/event"
)

// DefaultBaseURL matches the Flask development server.
const DefaultBaseURL = "http://localhost:5000"

// TransportError reports a request that did not complete with a 2xx status.
// Message carries the response body, or the network error text.
type TransportError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	return e.Message
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Opts holds configuration options for the backend client.
type Opts struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	UserAgent  string
}

// Option defines a configuration option for the backend client.
type Option func(*Opts)

// WithBaseURL sets the service root, e.g. https://guiaia.onrender.com.
func WithBaseURL(url string) Option {
	return func(o *Opts) {
		o.BaseURL = url
	}
}

// WithTimeout bounds every request. Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.Timeout = d
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.HTTPClient = c
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(o *Opts) {
		o.UserAgent = ua
	}
}

// Client talks JSON to the GuiaIA service.
type Client struct {
	baseURL   string
	http      *http.Client
	userAgent string
}

// NewClient creates a backend client, applying any provided options.
func NewClient(opts ...Option) *Client {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	slog.Debug("backend.NewClient", "base_url", cfg.BaseURL, "timeout", cfg.Timeout)
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		http:      httpClient,
		userAgent: cfg.UserAgent,
	}
}

// BaseURL returns the service root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetJSON issues a GET and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// PostJSON issues a POST with body encoded as JSON and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, path string, body, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s %s request: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create %s %s request: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	slog.Debug("backend request", "method", method, "path", path)
	resp, err := c.http.Do(req)
	if err != nil {
		slog.Warn("backend request failed", "method", method, "path", path, "error", err)
		return &TransportError{Method: method, Path: path, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Method: method, Path: path, StatusCode: resp.StatusCode, Message: err.Error(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Warn("backend returned non-2xx", "method", method, "path", path, "status", resp.StatusCode)
		return &TransportError{Method: method, Path: path, StatusCode: resp.StatusCode, Message: string(raw)}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &TransportError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("invalid JSON from %s: %v", path, err),
			Err:        err,
		}
	}
	return nil
}

// Questions fetches the ordered question bank.
func (c *Client) Questions(ctx context.Context) ([]models.Question, error) {
	var resp models.QuestionsResponse
	if err := c.GetJSON(ctx, PathQuestions, &resp); err != nil {
		return nil, err
	}
	return resp.Questions, nil
}

// ValidateStep asks the service whether an answer is acceptable.
func (c *Client) ValidateStep(ctx context.Context, req models.ValidateRequest) (models.ValidateResponse, error) {
	var resp models.ValidateResponse
	if err := req.Validate(); err != nil {
		return resp, err
	}
	if req.History == nil {
		req.History = models.Answers{}
	}
	err := c.PostJSON(ctx, PathValidateStep, req, &resp)
	return resp, err
}

// ComposeInitial turns the accepted answers into a prompt.
func (c *Client) ComposeInitial(ctx context.Context, answers models.Answers) (models.ComposeResponse, error) {
	var resp models.ComposeResponse
	if answers == nil {
		answers = models.Answers{}
	}
	err := c.PostJSON(ctx, PathComposeInitial, models.ComposeRequest{AnswersClean: answers}, &resp)
	return resp, err
}

// Scorecard rates a prompt.
func (c *Client) Scorecard(ctx context.Context, prompt string) (models.Scorecard, error) {
	var resp models.Scorecard
	req := models.PromptRequest{Prompt: prompt}
	if err := req.Validate(); err != nil {
		return resp, err
	}
	err := c.PostJSON(ctx, PathScorecard, req, &resp)
	return resp, err
}

// Improve asks the service to rewrite a prompt. A populated Error field in the
// response is returned as-is; callers decide how to surface it.
func (c *Client) Improve(ctx context.Context, prompt string) (models.ImproveResponse, error) {
	var resp models.ImproveResponse
	req := models.PromptRequest{Prompt: prompt}
	if err := req.Validate(); err != nil {
		return resp, err
	}
	err := c.PostJSON(ctx, PathImproveOnline, req, &resp)
	return resp, err
}

// PostEvent delivers one analytics event.
func (c *Client) PostEvent(ctx context.Context, ev models.AnalyticsEvent) (models.AnalyticsAck, error) {
	var ack models.AnalyticsAck
	err := c.PostJSON(ctx, PathAnalyticsEvent, ev, &ack)
	return ack, err
}
