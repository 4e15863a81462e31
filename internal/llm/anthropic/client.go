package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	xerrors "VaultKeeper-Claude/internal/errors"
	"VaultKeeper-Claude/internal/llm"
)

const (
	defaultBaseURL    = "https://api.anthropic.com/v1"
	defaultAPIVersion = "2023-06-01"
	defaultModel      = "claude-sonnet-4-20250514"
	defaultMaxTokens  = 2000
	defaultTimeout    = 45 * time.Second

	probeMaxTokens = 10
	probePrompt    = "ping"
	defaultProbe   = 10 * time.Second

	messagesPath = "/messages"
	maxErrorBody = 2048
)

var _ llm.Client = (*Client)(nil)
var _ llm.Prober = (*Client)(nil)

// Config describes how to reach the Messages API.
type Config struct {
	APIKey       string
	BaseURL      string
	APIVersion   string
	Model        string
	MaxTokens    int
	Timeout      time.Duration
	ProbeTimeout time.Duration
	// Transport overrides the HTTP transport, mainly for instrumentation.
	Transport http.RoundTripper
}

// Client calls the Anthropic Messages endpoint.
type Client struct {
	apiKey      string
	endpoint    string
	apiVersion  string
	model       string
	maxTokens   int
	httpClient  *http.Client
	probeClient *http.Client
}

// NewClient validates cfg and fills in defaults.
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "anthropic api key is required")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	apiVersion := strings.TrimSpace(cfg.APIVersion)
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	probeTimeout := cfg.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = defaultProbe
	}

	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &Client{
		apiKey:      apiKey,
		endpoint:    baseURL + messagesPath,
		apiVersion:  apiVersion,
		model:       model,
		maxTokens:   maxTokens,
		httpClient:  &http.Client{Timeout: timeout, Transport: transport},
		probeClient: &http.Client{Timeout: probeTimeout, Transport: transport},
	}, nil
}

// Model returns the model identifier sent with every request.
func (c *Client) Model() string {
	return c.model
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type messagesResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Content []contentBlock `json:"content"`
	Usage   llm.Usage      `json:"usage"`
}

// Generate sends req.Prompt as the only user message.
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	resp, err := c.post(ctx, c.httpClient, req.Prompt, maxTokens)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, statusError(resp, c.endpoint)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	var decoded messagesResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnexpected, err, "decode messages response")
	}
	if len(decoded.Content) == 0 {
		return nil, xerrors.Wrap(xerrors.CodeUnexpected, stdErrors.New("response contained no content blocks"), "")
	}

	return &llm.Response{
		Text:  decoded.Content[0].Text,
		Usage: decoded.Usage,
		Model: decoded.Model,
	}, nil
}

// Probe issues a tiny request with the short probe timeout and reports
// whether the provider answered with HTTP 200.
func (c *Client) Probe(ctx context.Context) (bool, error) {
	resp, err := c.post(ctx, c.probeClient, probePrompt, probeMaxTokens)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

	if resp.StatusCode != http.StatusOK {
		return false, statusError(resp, c.endpoint)
	}
	return true, nil
}

func (c *Client) post(ctx context.Context, client *http.Client, prompt string, maxTokens int) (*http.Response, error) {
	payload, err := json.Marshal(messagesRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages:  []message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnexpected, err, "encode messages request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnexpected, err, "build messages request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", c.apiVersion)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	return resp, nil
}

// classifyTransportError separates timeouts from other transport failures.
func classifyTransportError(err error) error {
	if isTimeout(err) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, "")
	}
	return xerrors.Wrap(xerrors.CodeUpstreamHTTP, err, "")
}

func isTimeout(err error) bool {
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stdErrors.As(err, &netErr) && netErr.Timeout()
}

func statusError(resp *http.Response, endpoint string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	kind := "Unexpected Status"
	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		kind = "Client Error"
	case resp.StatusCode >= 500:
		kind = "Server Error"
	}
	detail := fmt.Sprintf("%d %s: %s for url: %s", resp.StatusCode, kind, http.StatusText(resp.StatusCode), endpoint)
	if text := strings.TrimSpace(string(body)); text != "" {
		detail += " (" + text + ")"
	}

	return xerrors.Wrap(xerrors.CodeUpstreamHTTP, stdErrors.New(detail), "",
		xerrors.WithMetadata("status", fmt.Sprint(resp.StatusCode)))
}
