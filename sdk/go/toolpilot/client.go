// Package toolpilot is a thin HTTP client for the ToolPilot API.
package toolpilot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to a running ToolPilot server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises the client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// NewClient creates a client for the given base URL, e.g. "http://localhost:8080".
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Turn mirrors a processed turn as returned by the server.
type Turn struct {
	ID       string `json:"id"`
	Sequence int    `json:"sequence"`
	Input    string `json:"input"`
	Tool     string `json:"tool"`
	Response string `json:"response"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// Reply is the outcome of submitting a request.
type Reply struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Turn      *Turn  `json:"turn,omitempty"`
}

// Submit sends one user input to the given session. An empty session ID
// creates a new session; the reply carries the assigned ID.
func (c *Client) Submit(ctx context.Context, sessionID, input string) (*Reply, error) {
	var reply Reply
	err := c.post(ctx, "/api/v1/requests", map[string]string{
		"session_id": sessionID,
		"input":      input,
	}, &reply)
	if err != nil {
		return nil, err
	}
	return &reply, nil
}

// Interrupt cancels the in-flight turn of a session.
func (c *Client) Interrupt(ctx context.Context, sessionID string) (bool, error) {
	var result struct {
		Interrupted bool `json:"interrupted"`
	}
	err := c.post(ctx, "/api/v1/interrupt", map[string]string{"session_id": sessionID}, &result)
	return result.Interrupted, err
}

// History fetches the most recent turns of a session. A non-positive limit
// returns everything.
func (c *Client) History(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	query := url.Values{"session_id": {sessionID}}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var result struct {
		Turns []Turn `json:"turns"`
	}
	if err := c.get(ctx, "/api/v1/history?"+query.Encode(), &result); err != nil {
		return nil, err
	}
	return result.Turns, nil
}

// ToolStatus describes one managed tool server binding.
type ToolStatus struct {
	Tool      string `json:"tool"`
	State     string `json:"state"`
	RefCount  int    `json:"ref_count"`
	Retries   int    `json:"retries"`
	LastError string `json:"last_error,omitempty"`
}

// ToolStatuses fetches the state of all configured tool servers.
func (c *Client) ToolStatuses(ctx context.Context) ([]ToolStatus, error) {
	var result struct {
		Tools []ToolStatus `json:"tools"`
	}
	if err := c.get(ctx, "/api/v1/tools/status", &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// APIError is a structured error returned by the server.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Message)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var wrapper struct {
			Error APIError `json:"error"`
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(body, &wrapper) == nil && wrapper.Error.Code != "" {
			wrapper.Error.StatusCode = resp.StatusCode
			return &wrapper.Error
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
