package llm

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrCircuitOpen is returned without calling the backend while a breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker keeps one breaker per backend operation
type CircuitBreaker struct {
	mu        sync.RWMutex
	breakers  map[string]*Breaker
	threshold uint32
	cooldown  time.Duration
	logger    *logrus.Logger
	now       func() time.Time
}

// Breaker guards a single operation
type Breaker struct {
	mu          sync.Mutex
	threshold   uint32
	cooldown    time.Duration
	failures    uint32
	lastFailure time.Time
	state       BreakerState
}

// BreakerState represents the circuit breaker state
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// NewCircuitBreaker creates a circuit breaker that opens after
// failureThreshold consecutive failures and probes again after cooldown.
func NewCircuitBreaker(failureThreshold int, cooldown time.Duration, logger *logrus.Logger) *CircuitBreaker {
	if failureThreshold < 1 {
		failureThreshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		breakers:  make(map[string]*Breaker),
		threshold: uint32(failureThreshold),
		cooldown:  cooldown,
		logger:    logger,
		now:       time.Now,
	}
}

// Execute executes a function with circuit breaker protection
func (cb *CircuitBreaker) Execute(key string, fn func() error) error {
	b := cb.breaker(key)
	if b.currentState(cb.now()) == StateOpen {
		return ErrCircuitOpen
	}

	err := fn()
	switch {
	case err != nil:
		if b.recordFailure(cb.now()) {
			cb.logger.WithField("operation", key).Warn("Opening circuit breaker")
		}
	case b.recordSuccess():
		cb.logger.WithField("operation", key).Info("Closing circuit breaker")
	}
	return err
}

func (cb *CircuitBreaker) breaker(key string) *Breaker {
	cb.mu.RLock()
	b, ok := cb.breakers[key]
	cb.mu.RUnlock()
	if ok {
		return b
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if b, ok := cb.breakers[key]; ok {
		return b
	}
	b = &Breaker{threshold: cb.threshold, cooldown: cb.cooldown}
	cb.breakers[key] = b
	return b
}

// currentState moves an open breaker to half-open once the cooldown passed
func (b *Breaker) currentState(now time.Time) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && now.Sub(b.lastFailure) > b.cooldown {
		b.state = StateHalfOpen
		b.failures = 0
	}
	return b.state
}

// recordFailure reports whether the breaker opened
func (b *Breaker) recordFailure(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = now

	if b.state == StateHalfOpen || (b.state == StateClosed && b.failures >= b.threshold) {
		b.state = StateOpen
		return true
	}
	return false
}

// recordSuccess reports whether a half-open probe closed the breaker
func (b *Breaker) recordSuccess() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state == StateHalfOpen {
		b.state = StateClosed
		return true
	}
	return false
}

// GetState returns the state of a specific breaker
func (cb *CircuitBreaker) GetState(key string) BreakerState {
	cb.mu.RLock()
	breaker, exists := cb.breakers[key]
	cb.mu.RUnlock()

	if !exists {
		return StateClosed
	}
	return breaker.currentState(cb.now())
}

// States returns the state of every known breaker
func (cb *CircuitBreaker) States() map[string]string {
	cb.mu.RLock()
	keys := make([]string, 0, len(cb.breakers))
	for k := range cb.breakers {
		keys = append(keys, k)
	}
	cb.mu.RUnlock()

	out := make(map[string]string, len(keys))
	for _, k := range keys {
		out[k] = cb.GetState(k).String()
	}
	return out
}
