// Package vaultkeeper is a Go client for the VaultKeeper Claude gateway.
package vaultkeeper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout covers the gateway's own 45 second upstream bound plus
// some slack.
const DefaultHTTPTimeout = 60 * time.Second

// RequestIDHeader is echoed back by the gateway.
const RequestIDHeader = "X-Request-ID"

const (
	StatusCompleted = "completed"
	StatusError     = "error"
)

// Client wraps the gateway's HTTP routes.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// TaskRequest is the body accepted by the agent routes. Nil fields are left
// out so the route defaults apply.
type TaskRequest struct {
	AgentName *string        `json:"agent_name,omitempty"`
	TaskType  *string        `json:"task_type,omitempty"`
	Content   map[string]any `json:"content,omitempty"`
	TaskID    *string        `json:"task_id,omitempty"`
	Priority  *string        `json:"priority,omitempty"`
	Context   *string        `json:"context,omitempty"`
}

// String returns a pointer to s, for filling TaskRequest.
func String(s string) *string {
	return &s
}

// Result is the envelope returned for a single task.
type Result struct {
	TaskID     string    `json:"task_id"`
	Status     string    `json:"status"`
	Agent      string    `json:"agent"`
	TaskType   string    `json:"task_type"`
	Analysis   string    `json:"claude_analysis,omitempty"`
	TokensUsed int       `json:"tokens_used,omitempty"`
	Error      string    `json:"error,omitempty"`
	ErrorCode  string    `json:"error_code,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Completed reports whether the task produced an analysis.
func (r Result) Completed() bool {
	return r.Status == StatusCompleted
}

// BatchResult is the response of the batch route.
type BatchResult struct {
	BatchID    string    `json:"batch_id"`
	TotalTasks int       `json:"total_tasks"`
	Results    []Result  `json:"results"`
	Timestamp  time.Time `json:"timestamp"`
}

// Health is the response of GET /health.
type Health struct {
	Status           string    `json:"status"`
	Service          string    `json:"service"`
	ClaudeAPI        string    `json:"claude_api"`
	APIKeyConfigured bool      `json:"api_key_configured"`
	Timestamp        time.Time `json:"timestamp"`
	Uptime           string    `json:"uptime"`
}

// Healthy reports whether the upstream probe succeeded.
func (h Health) Healthy() bool {
	return h.Status == "healthy"
}

// ServiceInfo is the response of GET /.
type ServiceInfo struct {
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Status    string            `json:"status"`
	Endpoints map[string]string `json:"endpoints"`
	Timestamp time.Time         `json:"timestamp"`
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
	Agent      string
	RequestID  string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Agent != "" {
		return fmt.Sprintf("vaultkeeper api error (%d, %s): %s", e.StatusCode, e.Agent, e.Message)
	}
	return fmt.Sprintf("vaultkeeper api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the gateway at rawURL. When httpClient
// is nil, a client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) *Client {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		panic(fmt.Sprintf("invalid base url: %v", err))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}
}

// Delegate submits a Monique strategic task.
func (c *Client) Delegate(ctx context.Context, req TaskRequest) (Result, error) {
	return c.submit(ctx, "/claude/monique/delegate", req)
}

// Handoff submits a CoordinatorAI file task.
func (c *Client) Handoff(ctx context.Context, req TaskRequest) (Result, error) {
	return c.submit(ctx, "/claude/coordinator/handoff", req)
}

// Collaborate submits a PatentAI task.
func (c *Client) Collaborate(ctx context.Context, req TaskRequest) (Result, error) {
	return c.submit(ctx, "/claude/patent/collaborate", req)
}

// Consult submits a CFOAI task.
func (c *Client) Consult(ctx context.Context, req TaskRequest) (Result, error) {
	return c.submit(ctx, "/claude/cfo/consult", req)
}

// Batch submits several tasks in one call. Results keep the input order.
func (c *Client) Batch(ctx context.Context, reqs []TaskRequest) (BatchResult, error) {
	if reqs == nil {
		reqs = []TaskRequest{}
	}
	var out BatchResult
	body := struct {
		Tasks []TaskRequest `json:"tasks"`
	}{Tasks: reqs}
	if err := c.post(ctx, "/claude/batch/process", body, &out); err != nil {
		return BatchResult{}, err
	}
	return out, nil
}

// Health fetches the gateway health report.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	if err := c.get(ctx, "/health", &out); err != nil {
		return Health{}, err
	}
	return out, nil
}

// Info fetches the service metadata.
func (c *Client) Info(ctx context.Context) (ServiceInfo, error) {
	var out ServiceInfo
	if err := c.get(ctx, "/", &out); err != nil {
		return ServiceInfo{}, err
	}
	return out, nil
}

func (c *Client) submit(ctx context.Context, endpoint string, req TaskRequest) (Result, error) {
	var out Result
	if err := c.post(ctx, endpoint, req, &out); err != nil {
		return Result{}, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			RequestID:  resp.Header.Get(RequestIDHeader),
		}
		var payload struct {
			Error   string `json:"error"`
			Message string `json:"message"`
			Agent   string `json:"agent"`
		}
		if json.Unmarshal(data, &payload) == nil {
			apiErr.Agent = payload.Agent
			apiErr.Message = payload.Error
			if payload.Message != "" {
				apiErr.Message += ": " + payload.Message
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
