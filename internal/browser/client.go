package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultTaskTimeout = 120 * time.Second
	maxResultBytes     = 1 << 20
)

// Compile-time assertions.
var (
	_ Runner  = (*Client)(nil)
	_ Factory = (*ClientFactory)(nil)
)

// Option is a functional option for configuring a ClientFactory.
type Option func(*ClientFactory)

// WithHTTPClient overrides the HTTP client used for sidecar requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(f *ClientFactory) {
		f.httpClient = hc
	}
}

// WithTaskTimeout bounds a single task execution. Defaults to 2 minutes;
// browser automation against a live mailbox is slow.
func WithTaskTimeout(d time.Duration) Option {
	return func(f *ClientFactory) {
		f.taskTimeout = d
	}
}

// ClientFactory creates Clients bound to a browser automation sidecar that
// exposes a small REST API:
//
//	POST /sessions                 -> {"context_id": "..."}
//	POST /sessions/{id}/run        {"task": "..."} -> {"result": "..."}
//	DELETE /sessions/{id}
type ClientFactory struct {
	baseURL     string
	httpClient  *http.Client
	taskTimeout time.Duration
}

// NewClientFactory creates a factory for the sidecar at baseURL.
func NewClientFactory(baseURL string, opts ...Option) (*ClientFactory, error) {
	if baseURL == "" {
		return nil, errors.New("browser: baseURL must not be empty")
	}
	f := &ClientFactory{
		baseURL:     baseURL,
		httpClient:  &http.Client{},
		taskTimeout: defaultTaskTimeout,
	}
	for _, o := range opts {
		o(f)
	}
	return f, nil
}

// NewRunner opens a fresh browser context on the sidecar.
func (f *ClientFactory) NewRunner(ctx context.Context, sessionID string) (Runner, error) {
	body, err := json.Marshal(map[string]string{"session_id": sessionID})
	if err != nil {
		return nil, fmt.Errorf("browser: encode session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+"/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("browser: build session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("browser: create session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("browser: create session: unexpected status %d", resp.StatusCode)
	}

	var created struct {
		ContextID string `json:"context_id"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResultBytes)).Decode(&created); err != nil {
		return nil, fmt.Errorf("browser: decode session response: %w", err)
	}
	if created.ContextID == "" {
		return nil, errors.New("browser: sidecar returned empty context_id")
	}

	return &Client{
		factory:   f,
		contextID: created.ContextID,
	}, nil
}

// Client is one live browser context on the sidecar. It implements Runner.
type Client struct {
	factory   *ClientFactory
	contextID string
}

// Run submits the task and waits for its result summary.
func (c *Client) Run(ctx context.Context, task string) (string, error) {
	if task == "" {
		return "", errors.New("browser: task must not be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, c.factory.taskTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{"task": task})
	if err != nil {
		return "", fmt.Errorf("browser: encode task: %w", err)
	}

	url := fmt.Sprintf("%s/sessions/%s/run", c.factory.baseURL, c.contextID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("browser: build task request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.factory.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("browser: run task: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("browser: run task: unexpected status %d", resp.StatusCode)
	}

	var result struct {
		Result string `json:"result"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResultBytes)).Decode(&result); err != nil {
		return "", fmt.Errorf("browser: decode task result: %w", err)
	}
	return result.Result, nil
}

// Close releases the browser context on the sidecar.
func (c *Client) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	url := fmt.Sprintf("%s/sessions/%s", c.factory.baseURL, c.contextID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("browser: build delete request: %w", err)
	}
	resp, err := c.factory.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("browser: delete session: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("browser: delete session: unexpected status %d", resp.StatusCode)
	}
	return nil
}
