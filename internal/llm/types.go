package llm

import (
	"context"
	"time"
)

// Operation labels a backend call. It keys the circuit breaker, the rate
// limiter and the metrics.
type Operation string

const (
	OpRoute     Operation = "route"
	OpDetect    Operation = "detect"
	OpReview    Operation = "privacy_review"
	OpEmotion   Operation = "emotion_support"
	OpRespond   Operation = "respond"
	OpSummarize Operation = "summarize"
	OpReport    Operation = "report"
)

// Request is one chat completion against the detection backend
type Request struct {
	Operation Operation `json:"operation"`
	// Key refines the operation for breaker and metrics, e.g. the detector type
	Key         string   `json:"key,omitempty"`
	System      string   `json:"system"`
	User        string   `json:"user"`
	Images      []string `json:"images,omitempty"`
	JSON        bool     `json:"json"`
	Temperature float32  `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
}

// BreakerKey returns the key the request is guarded under
func (r *Request) BreakerKey() string {
	if r.Key != "" {
		return string(r.Operation) + ":" + r.Key
	}
	return string(r.Operation)
}

// Usage statistics
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the backend's answer
type Response struct {
	Content string        `json:"content"`
	Model   string        `json:"model"`
	Usage   Usage         `json:"usage"`
	Latency time.Duration `json:"latency"`
}

// Client performs chat completions. Implementations must honor ctx.
type Client interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// ClientFunc adapts a function to Client
type ClientFunc func(ctx context.Context, req *Request) (*Response, error)

func (f ClientFunc) Complete(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
