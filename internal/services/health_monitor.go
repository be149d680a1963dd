package services

import (
	"context"
	"time"

	"github.com/agentx/guardian-backend/internal/llm"
)

// Pinger checks the store connection
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthStatus is the health of the service and its dependencies
type HealthStatus struct {
	Healthy   bool              `json:"healthy"`
	LastCheck time.Time         `json:"last_check"`
	Database  string            `json:"database"`
	Breakers  map[string]string `json:"breakers"`
	ErrorRate float64           `json:"error_rate"`
	Cache     CacheStatus       `json:"cache"`
}

// HealthMonitor reports database reachability, breaker states and the
// backend error rate
type HealthMonitor struct {
	db    Pinger
	guard *llm.Guard
	cache *ResultCache
}

// NewHealthMonitor creates a health monitor
func NewHealthMonitor(db Pinger, guard *llm.Guard, cache *ResultCache) *HealthMonitor {
	return &HealthMonitor{db: db, guard: guard, cache: cache}
}

// Check probes every dependency. The service is unhealthy when the store is
// unreachable; open breakers only degrade individual operations.
func (m *HealthMonitor) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Healthy:   true,
		LastCheck: time.Now().UTC(),
		Database:  "ok",
		Breakers:  map[string]string{},
	}

	if m.db != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := m.db.PingContext(pingCtx); err != nil {
			status.Healthy = false
			status.Database = err.Error()
		}
	}

	if m.guard != nil {
		status.Breakers = m.guard.Breaker().States()
		snap := m.guard.Metrics().GetSnapshot()
		var requests, errs int64
		for _, n := range snap.Requests {
			requests += n
		}
		for _, n := range snap.Errors {
			errs += n
		}
		if requests > 0 {
			status.ErrorRate = float64(errs) / float64(requests)
		}
	}

	if m.cache != nil {
		status.Cache = m.cache.Status()
	}
	return status
}
