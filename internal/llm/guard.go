package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentx/guardian-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// GuardConfig bounds every backend call
type GuardConfig struct {
	Timeout         time.Duration
	MaxRetries      int
	RetryBackoff    time.Duration
	RatePerMinute   int
	BreakerFailures int
	BreakerCooldown time.Duration
}

// Guard wraps a Client with a per-attempt timeout, bounded retries with
// exponential backoff, a circuit breaker and a rate limiter. Every error it
// returns wraps models.ErrBackendUnavailable.
type Guard struct {
	inner   Client
	cfg     GuardConfig
	breaker *CircuitBreaker
	limiter RateLimiter
	metrics *MetricsCollector
	logger  *logrus.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewGuard creates a guarded client
func NewGuard(inner Client, cfg GuardConfig, logger *logrus.Logger) *Guard {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}

	g := &Guard{
		inner:   inner,
		cfg:     cfg,
		breaker: NewCircuitBreaker(cfg.BreakerFailures, cfg.BreakerCooldown, logger),
		metrics: NewMetricsCollector(),
		logger:  logger,
		sleep:   sleepCtx,
	}
	if cfg.RatePerMinute > 0 {
		g.limiter = NewTokenBucketLimiter(cfg.RatePerMinute, cfg.RatePerMinute)
	}
	return g
}

// Metrics returns the guard's collector
func (g *Guard) Metrics() *MetricsCollector {
	return g.metrics
}

// Breaker returns the guard's circuit breaker
func (g *Guard) Breaker() *CircuitBreaker {
	return g.breaker
}

// Complete runs the request with bounded retries
func (g *Guard) Complete(ctx context.Context, req *Request) (*Response, error) {
	key := req.BreakerKey()
	log := g.logger.WithField("operation", key)

	if g.limiter != nil && !g.limiter.Allow(key) {
		return nil, fmt.Errorf("%w: %s: rate limit exceeded", models.ErrBackendUnavailable, key)
	}

	var lastErr error
	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			g.metrics.RecordRetry(key)
			backoff := g.cfg.RetryBackoff << (attempt - 1)
			log.WithFields(logrus.Fields{"attempt": attempt + 1, "backoff": backoff}).Debug("Retrying backend call")
			if err := g.sleep(ctx, backoff); err != nil {
				lastErr = err
				break
			}
		}

		start := time.Now()
		var resp *Response
		err := g.breaker.Execute(key, func() error {
			callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
			defer cancel()

			r, err := g.inner.Complete(callCtx, req)
			if err != nil {
				return err
			}
			if req.JSON {
				if _, err := ExtractJSON(r.Content); err != nil {
					return err
				}
			}
			resp = r
			return nil
		})
		if errors.Is(err, ErrCircuitOpen) {
			lastErr = err
			break
		}
		g.metrics.RecordRequest(key, err == nil, time.Since(start))

		if err == nil {
			g.metrics.RecordUsage(key, resp.Usage)
			return resp, nil
		}

		lastErr = err
		log.WithError(err).WithField("attempt", attempt+1).Warn("Backend call failed")
		if ctx.Err() != nil {
			break
		}
	}

	return nil, fmt.Errorf("%w: %s: %w", models.ErrBackendUnavailable, key, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
