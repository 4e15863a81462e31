package llm

import "context"

// Request is a single-turn completion request.
type Request struct {
	Prompt    string
	MaxTokens int
}

// Usage is the token accounting reported by the provider. Missing fields
// decode as zero.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total is input plus output tokens, never negative.
func (u Usage) Total() int {
	total := u.InputTokens + u.OutputTokens
	if total < 0 {
		return 0
	}
	return total
}

// Response is the normalized provider reply.
type Response struct {
	Text  string
	Usage Usage
	Model string
}

// Client performs one synchronous completion. Failures are returned as
// coded errors from internal/errors: TIMEOUT when the call exceeded its
// bound, UPSTREAM_HTTP_ERROR for non-2xx replies and transport failures, and
// UNEXPECTED for anything else.
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Prober reports whether the provider answers a minimal request.
type Prober interface {
	Probe(ctx context.Context) (bool, error)
}
