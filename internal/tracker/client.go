// Package tracker reads and writes campaign copy stored in ClickUp task
// descriptions.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the ClickUp v2 API root
const DefaultBaseURL = "https://api.clickup.com/api/v2"

// Task is the subset of a ClickUp task the editor needs
type Task struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	MarkdownDescription string `json:"markdown_description"`
	URL                 string `json:"url,omitempty"`
}

// APIError is a non-2xx answer from the tracker
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("tracker: HTTP %d", e.StatusCode)
	}
	if e.Code == "" {
		return fmt.Sprintf("tracker: HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("tracker: HTTP %d: %s (%s)", e.StatusCode, e.Message, e.Code)
}

type errorResponse struct {
	Err  string `json:"err"`
	Code string `json:"ECODE"`
}

// Client is a ClickUp API client
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new ClickUp API client
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) request(ctx context.Context, method, path string, body any, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	// ClickUp personal tokens are sent bare, without a Bearer prefix
	req.Header.Set("Authorization", c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errResp errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil {
			apiErr.Code = errResp.Code
			apiErr.Message = errResp.Err
		}
		return apiErr
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// GetTask fetches a task with its markdown description
func (c *Client) GetTask(ctx context.Context, id string) (*Task, error) {
	var task Task
	path := "/task/" + url.PathEscape(id) + "?include_markdown_description=true"
	if err := c.request(ctx, http.MethodGet, path, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// GetDescription returns the task's markdown description
func (c *Client) GetDescription(ctx context.Context, id string) (string, error) {
	task, err := c.GetTask(ctx, id)
	if err != nil {
		return "", err
	}
	return task.MarkdownDescription, nil
}

// UpdateDescription replaces the task's markdown description
func (c *Client) UpdateDescription(ctx context.Context, id, markdown string) error {
	body := map[string]string{"markdown_description": markdown}
	return c.request(ctx, http.MethodPut, "/task/"+url.PathEscape(id), body, nil)
}
