// Package llmtest provides a scripted backend for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentx/guardian-backend/internal/llm"
)

// Handler answers one request with completion content or an error
type Handler func(ctx context.Context, req *llm.Request) (string, error)

// Fake is a concurrency-safe llm.Client whose answers are scripted per
// breaker key ("detect:toxic") or per operation ("route").
type Fake struct {
	mu       sync.Mutex
	handlers map[string]Handler
	calls    map[string]int
	requests []llm.Request
}

// New creates an empty fake
func New() *Fake {
	return &Fake{
		handlers: make(map[string]Handler),
		calls:    make(map[string]int),
	}
}

// On scripts the answer for a key
func (f *Fake) On(key string, h Handler) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[key] = h
	return f
}

// Reply scripts a fixed answer for a key
func (f *Fake) Reply(key, content string) *Fake {
	return f.On(key, func(context.Context, *llm.Request) (string, error) { return content, nil })
}

// Fail scripts a fixed error for a key
func (f *Fake) Fail(key string, err error) *Fake {
	return f.On(key, func(context.Context, *llm.Request) (string, error) { return "", err })
}

// Complete implements llm.Client
func (f *Fake) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	key := req.BreakerKey()

	f.mu.Lock()
	f.calls[key]++
	f.requests = append(f.requests, *req)
	h, ok := f.handlers[key]
	if !ok {
		h, ok = f.handlers[string(req.Operation)]
	}
	f.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("llmtest: no handler for %s", key)
	}
	content, err := h(ctx, req)
	if err != nil {
		return nil, err
	}
	return &llm.Response{Content: content, Model: "fake"}, nil
}

// Calls returns how many requests hit a key
func (f *Fake) Calls(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

// Requests returns a copy of every request received
func (f *Fake) Requests() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.requests...)
}
