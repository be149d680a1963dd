package llm

import (
	"sync"
	"time"
)

// RateLimiter admits or rejects a backend call for a model key
type RateLimiter interface {
	Allow(key string) bool
}

// TokenBucketLimiter gives every model its own bucket of calls per minute.
// Buckets refill in whole minutes; a partial minute carries over.
type TokenBucketLimiter struct {
	mu       sync.Mutex
	budgets  map[string]*modelBudget
	perMin   int
	capacity int
	now      func() time.Time
}

type modelBudget struct {
	left    int
	refills time.Time
}

func NewTokenBucketLimiter(perMinute, capacity int) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		budgets:  make(map[string]*modelBudget),
		perMin:   perMinute,
		capacity: capacity,
		now:      time.Now,
	}
}

// Allow spends one call from the key's budget, reporting false when empty
func (l *TokenBucketLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.budgets[key]
	if !ok {
		b = &modelBudget{left: l.capacity, refills: now}
		l.budgets[key] = b
	}

	if elapsed := int(now.Sub(b.refills) / time.Minute); elapsed > 0 {
		b.left = min(b.left+elapsed*l.perMin, l.capacity)
		b.refills = b.refills.Add(time.Duration(elapsed) * time.Minute)
	}

	if b.left == 0 {
		return false
	}
	b.left--
	return true
}
