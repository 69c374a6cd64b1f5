package client

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
)

const defaultHTTPTimeout = 10 * time.Second

// APIError is returned when the job API answers with a non-2xx status.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// HTTPClient makes REST calls to the scraping job API.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a client targeting the given base URL (e.g. "http://127.0.0.1:8000/api").
// A zero timeout selects the default.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the API root without a trailing slash.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Token returns the bearer token sent with every request.
func (c *HTTPClient) Token() string {
	return c.token
}

// StartSession sends POST /scraping/start/{resourceId}.
func (c *HTTPClient) StartSession(ctx context.Context, resourceID string) (string, error) {
	var out StartResponse
	if err := c.post(ctx, "/scraping/start/"+url.PathEscape(resourceID), &out); err != nil {
		return "", err
	}
	if out.SessionID == "" {
		return "", errors.New("start response has no session_id")
	}
	return out.SessionID, nil
}

// ContinueSession sends POST /scraping/continue/{sessionId}.
func (c *HTTPClient) ContinueSession(ctx context.Context, sessionID string) error {
	return c.post(ctx, "/scraping/continue/"+url.PathEscape(sessionID), nil)
}

// CancelSession sends POST /scraping/cancel/{sessionId}.
func (c *HTTPClient) CancelSession(ctx context.Context, sessionID string) error {
	return c.post(ctx, "/scraping/cancel/"+url.PathEscape(sessionID), nil)
}

// EventsURL returns the stream endpoint for a session.
func (c *HTTPClient) EventsURL(sessionID string) string {
	return c.baseURL + "/scraping/events/" + url.PathEscape(sessionID)
}

func (c *HTTPClient) post(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(nil))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	c.setAuth(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return &APIError{
			Method:     http.MethodPost,
			Path:       path,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.StatusCode, body),
		}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("POST %s: decoding response: %w", path, err)
		}
	}
	return nil
}

func (c *HTTPClient) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// errorMessage extracts the human-readable message from an error body.
// Servers answer with {"detail": ...}, {"error": ...} or {"message": ...};
// anything else falls back to the raw body, then to the status text.
func errorMessage(status int, body []byte) string {
	var shaped struct {
		Detail  interface{} `json:"detail"`
		Error   string      `json:"error"`
		Message string      `json:"message"`
	}
	if json.Unmarshal(body, &shaped) == nil {
		if s, ok := shaped.Detail.(string); ok && s != "" {
			return s
		}
		if shaped.Error != "" {
			return shaped.Error
		}
		if shaped.Message != "" {
			return shaped.Message
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return http.StatusText(status)
}
