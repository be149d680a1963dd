package llm

import (
	"sync"
	"time"
)

// MetricsCollector collects metrics for backend operations
type MetricsCollector struct {
	requests  map[string]int64
	errors    map[string]int64
	retries   map[string]int64
	tokens    map[string]int64
	latencies map[string][]time.Duration
	mu        sync.RWMutex
}

// MetricsSnapshot is a point-in-time copy of the collected metrics
type MetricsSnapshot struct {
	Requests     map[string]int64   `json:"requests"`
	Errors       map[string]int64   `json:"errors"`
	Retries      map[string]int64   `json:"retries"`
	Tokens       map[string]int64   `json:"tokens"`
	AvgLatencyMs map[string]float64 `json:"avg_latency_ms"`
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		requests:  make(map[string]int64),
		errors:    make(map[string]int64),
		retries:   make(map[string]int64),
		tokens:    make(map[string]int64),
		latencies: make(map[string][]time.Duration),
	}
}

// RecordRequest records one backend attempt
func (mc *MetricsCollector) RecordRequest(key string, success bool, latency time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.requests[key]++
	if !success {
		mc.errors[key]++
	}

	mc.latencies[key] = append(mc.latencies[key], latency)

	// Keep only last 100 latencies
	if len(mc.latencies[key]) > 100 {
		mc.latencies[key] = mc.latencies[key][1:]
	}
}

// RecordRetry records a retried attempt
func (mc *MetricsCollector) RecordRetry(key string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.retries[key]++
}

// RecordUsage records token usage
func (mc *MetricsCollector) RecordUsage(key string, usage Usage) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.tokens[key] += int64(usage.TotalTokens)
}

// GetSnapshot returns a snapshot of current metrics
func (mc *MetricsCollector) GetSnapshot() MetricsSnapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	snapshot := MetricsSnapshot{
		Requests:     copyCounts(mc.requests),
		Errors:       copyCounts(mc.errors),
		Retries:      copyCounts(mc.retries),
		Tokens:       copyCounts(mc.tokens),
		AvgLatencyMs: make(map[string]float64, len(mc.latencies)),
	}

	for k, latencies := range mc.latencies {
		if len(latencies) > 0 {
			var total time.Duration
			for _, l := range latencies {
				total += l
			}
			snapshot.AvgLatencyMs[k] = float64(total.Milliseconds()) / float64(len(latencies))
		}
	}
	return snapshot
}

// Reset resets all metrics
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.requests = make(map[string]int64)
	mc.errors = make(map[string]int64)
	mc.retries = make(map[string]int64)
	mc.tokens = make(map[string]int64)
	mc.latencies = make(map[string][]time.Duration)
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
