package llm

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentx/guardian-backend/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func TestGuardRetriesThenSucceeds(t *testing.T) {
	var calls int32
	inner := ClientFunc(func(ctx context.Context, req *Request) (*Response, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, errors.New("connection reset")
		}
		return &Response{Content: "ok"}, nil
	})

	g := NewGuard(inner, GuardConfig{Timeout: time.Second, MaxRetries: 2, BreakerFailures: 10}, quietLogger())
	g.sleep = noSleep

	resp, err := g.Complete(context.Background(), &Request{Operation: OpRespond})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, int32(3), calls)
	assert.Equal(t, int64(2), g.Metrics().GetSnapshot().Retries["respond"])
}

func TestGuardWrapsBackendUnavailable(t *testing.T) {
	inner := ClientFunc(func(ctx context.Context, req *Request) (*Response, error) {
		return nil, errors.New("boom")
	})
	g := NewGuard(inner, GuardConfig{Timeout: time.Second, MaxRetries: 1, BreakerFailures: 10}, quietLogger())
	g.sleep = noSleep

	_, err := g.Complete(context.Background(), &Request{Operation: OpDetect, Key: "toxic"})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrBackendUnavailable)
	assert.Equal(t, int64(2), g.Metrics().GetSnapshot().Errors["detect:toxic"])
}

func TestGuardTimesOutSlowCalls(t *testing.T) {
	inner := ClientFunc(func(ctx context.Context, req *Request) (*Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	g := NewGuard(inner, GuardConfig{Timeout: 20 * time.Millisecond, MaxRetries: 0, BreakerFailures: 10}, quietLogger())

	start := time.Now()
	_, err := g.Complete(context.Background(), &Request{Operation: OpReview})
	assert.ErrorIs(t, err, models.ErrBackendUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestGuardRetriesMalformedJSON(t *testing.T) {
	var calls int32
	inner := ClientFunc(func(ctx context.Context, req *Request) (*Response, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return &Response{Content: "sorry, I cannot"}, nil
		}
		return &Response{Content: "```json\n{\"a\":1}\n```"}, nil
	})
	g := NewGuard(inner, GuardConfig{Timeout: time.Second, MaxRetries: 2, BreakerFailures: 10}, quietLogger())
	g.sleep = noSleep

	var out struct{ A int }
	_, err := CompleteJSON(context.Background(), g, &Request{Operation: OpRoute}, &out)
	require.NoError(t, err)
	assert.Equal(t, 1, out.A)
	assert.Equal(t, int32(2), calls)
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute, quietLogger())
	now := time.Now()
	cb.now = func() time.Time { return now }

	fail := func() error { return errors.New("fail") }
	assert.Error(t, cb.Execute("k", fail))
	assert.Error(t, cb.Execute("k", fail))
	assert.Equal(t, StateOpen, cb.GetState("k"))

	called := false
	err := cb.Execute("k", func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, StateHalfOpen, cb.GetState("k"))
	require.NoError(t, cb.Execute("k", func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState("k"))
	assert.Equal(t, "closed", cb.States()["k"])
}

func TestTokenBucketLimiter(t *testing.T) {
	l := NewTokenBucketLimiter(2, 2)
	now := time.Now()
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("k"))
	assert.True(t, l.Allow("k"))
	assert.False(t, l.Allow("k"))
	assert.True(t, l.Allow("other"))

	now = now.Add(time.Minute)
	assert.True(t, l.Allow("k"))
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"bare", `{"a":1}`, `{"a":1}`, false},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`, false},
		{"plain fence", "```\n{\"a\":1}\n```", `{"a":1}`, false},
		{"prose", "Here you go: {\"a\": {\"b\": 2}} thanks", `{"a": {"b": 2}}`, false},
		{"none", "no json here", "", true},
		{"broken", `{"a":`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := ExtractJSON(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedOutput)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(raw))
		})
	}
}
