package services

import (
	"sync"
	"time"

	"github.com/agentx/guardian-backend/internal/models"
)

// resultTier is the in-memory layer in front of the persisted results
type resultTier struct {
	mu    sync.RWMutex
	items map[string]*models.DetectionResult
}

func newResultTier() *resultTier {
	return &resultTier{items: make(map[string]*models.DetectionResult)}
}

// get returns a live entry or nil
func (rt *resultTier) get(fingerprint string, now time.Time) *models.DetectionResult {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	item, exists := rt.items[fingerprint]
	if !exists || !item.Live(now) {
		return nil
	}
	return item
}

func (rt *resultTier) set(result *models.DetectionResult) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.items[result.Fingerprint] = result
}

// purgeType drops every entry of a detection type
func (rt *resultTier) purgeType(t models.DetectionType) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	n := 0
	for key, item := range rt.items {
		if item.DetectionType == t {
			delete(rt.items, key)
			n++
		}
	}
	return n
}

// sweep removes expired items
func (rt *resultTier) sweep(now time.Time) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	n := 0
	for key, item := range rt.items {
		if !item.Live(now) {
			delete(rt.items, key)
			n++
		}
	}
	return n
}

func (rt *resultTier) live(now time.Time) int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	n := 0
	for _, item := range rt.items {
		if item.Live(now) {
			n++
		}
	}
	return n
}
