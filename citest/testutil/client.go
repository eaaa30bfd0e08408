package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/telnet2/shelld/internal/transport"
)

// TestClient calls a shelld HTTP listener.
type TestClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewTestClient creates a client for the listener at baseURL.
func NewTestClient(baseURL string) *TestClient {
	return &TestClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Response is a buffered HTTP response.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// JSON unmarshals the body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Get performs a GET request.
func (c *TestClient) Get(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with a JSON body.
func (c *TestClient) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

// Delete performs a DELETE request.
func (c *TestClient) Delete(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodDelete, path, nil)
}

func (c *TestClient) do(ctx context.Context, method, path string, body any) (*Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Headers: resp.Header, Body: data}, nil
}

func decode[T any](resp *Response, err error, want int) (T, error) {
	var out T
	if err != nil {
		return out, err
	}
	if resp.StatusCode != want {
		return out, fmt.Errorf("status %d: %s", resp.StatusCode, resp.Body)
	}
	return out, resp.JSON(&out)
}

// Health calls GET /health.
func (c *TestClient) Health(ctx context.Context) (transport.HealthResponse, error) {
	resp, err := c.Get(ctx, "/health")
	return decode[transport.HealthResponse](resp, err, http.StatusOK)
}

// Commands calls GET /commands.
func (c *TestClient) Commands(ctx context.Context) ([]transport.CommandInfo, error) {
	resp, err := c.Get(ctx, "/commands")
	return decode[[]transport.CommandInfo](resp, err, http.StatusOK)
}

// Exec runs line, in sessionID when it is not empty.
func (c *TestClient) Exec(ctx context.Context, line, sessionID string) (transport.ExecResponse, error) {
	resp, err := c.Post(ctx, "/exec", transport.ExecRequest{Line: line, Session: sessionID})
	return decode[transport.ExecResponse](resp, err, http.StatusOK)
}

// CreateSession calls POST /sessions.
func (c *TestClient) CreateSession(ctx context.Context) (transport.SessionInfo, error) {
	resp, err := c.Post(ctx, "/sessions", nil)
	return decode[transport.SessionInfo](resp, err, http.StatusCreated)
}

// ListSessions calls GET /sessions.
func (c *TestClient) ListSessions(ctx context.Context) ([]transport.SessionInfo, error) {
	resp, err := c.Get(ctx, "/sessions")
	return decode[[]transport.SessionInfo](resp, err, http.StatusOK)
}

// DeleteSession calls DELETE /sessions/{id}.
func (c *TestClient) DeleteSession(ctx context.Context, id string) error {
	resp, err := c.Delete(ctx, "/sessions/"+id)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}
