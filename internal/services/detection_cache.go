package services

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentx/guardian-backend/internal/models"
	"github.com/agentx/guardian-backend/internal/repository"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// ComputeFunc produces a fresh verdict and the prompt version it was made with
type ComputeFunc func(ctx context.Context) (json.RawMessage, int, error)

// CacheStatus is a point-in-time view of the result cache
type CacheStatus struct {
	LiveEntries int                             `json:"live_entries"`
	InFlight    int64                           `json:"in_flight"`
	Hits        int64                           `json:"hits"`
	Misses      int64                           `json:"misses"`
	Shared      int64                           `json:"shared"`
	Generations map[models.DetectionType]uint64 `json:"generations"`
}

// typeState guards cache writes of one detection type against invalidation.
// Writers hold the read lock while checking the generation and writing;
// Invalidate holds the write lock while bumping it and sweeping.
type typeState struct {
	mu  sync.RWMutex
	gen atomic.Uint64
}

// ResultCache memoizes verdicts by fingerprint and collapses concurrent
// identical requests into one backend call.
type ResultCache struct {
	store  repository.DetectionRepository
	tier   *resultTier
	group  singleflight.Group
	types  map[models.DetectionType]*typeState
	ttl    time.Duration
	logger *logrus.Logger
	now    func() time.Time

	hits     atomic.Int64
	misses   atomic.Int64
	shared   atomic.Int64
	inflight atomic.Int64
}

// NewResultCache creates a cache whose entries live for ttl
func NewResultCache(store repository.DetectionRepository, ttl time.Duration, logger *logrus.Logger) *ResultCache {
	types := make(map[models.DetectionType]*typeState, len(models.DetectionTypes))
	for _, t := range models.DetectionTypes {
		types[t] = &typeState{}
	}
	return &ResultCache{
		store:  store,
		tier:   newResultTier(),
		types:  types,
		ttl:    ttl,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type computeResult struct {
	result    *models.DetectionResult
	fromCache bool
}

// GetOrCompute returns the live result for (t, key) or computes it. The
// cached flag is false only for the caller whose computation produced the
// result; callers that joined an in-flight computation see cached=true.
func (c *ResultCache) GetOrCompute(ctx context.Context, t models.DetectionType, key string, compute ComputeFunc) (*models.DetectionResult, bool, error) {
	state, ok := c.types[t]
	if !ok {
		return nil, false, models.NewValidationError("detection_type", "unsupported detection type %q", t)
	}

	fingerprint := Fingerprint(t, key)
	gen := state.gen.Load()

	if r := c.lookup(ctx, fingerprint); r != nil {
		c.hits.Add(1)
		return r, true, nil
	}

	executed := false
	ch := c.group.DoChan(fingerprint+"#"+strconv.FormatUint(gen, 10), func() (interface{}, error) {
		executed = true

		// a computation that finished just before this one started already wrote it
		if r := c.tier.get(fingerprint, c.now()); r != nil {
			return computeResult{result: r, fromCache: true}, nil
		}

		c.inflight.Add(1)
		defer c.inflight.Add(-1)
		c.misses.Add(1)

		verdict, promptVersion, err := compute(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}

		now := c.now()
		result := &models.DetectionResult{
			Fingerprint:   fingerprint,
			DetectionType: t,
			VerdictJSON:   string(verdict),
			PromptVersion: promptVersion,
			CreatedAt:     now,
			ExpiresAt:     now.Add(c.ttl),
		}
		c.write(context.WithoutCancel(ctx), state, gen, result)
		return computeResult{result: result}, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		cr := res.Val.(computeResult)
		if !executed {
			c.shared.Add(1)
		}
		return cr.result, !executed || cr.fromCache, nil
	}
}

func (c *ResultCache) lookup(ctx context.Context, fingerprint string) *models.DetectionResult {
	now := c.now()
	if r := c.tier.get(fingerprint, now); r != nil {
		return r
	}

	r, err := c.store.GetResult(ctx, fingerprint)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			c.logger.WithError(err).WithField("fingerprint", fingerprint).Warn("Failed to read cached result")
		}
		return nil
	}
	if !r.Live(now) {
		return nil
	}
	c.tier.set(r)
	return r
}

// write stores the result unless the type was invalidated after gen was read
func (c *ResultCache) write(ctx context.Context, state *typeState, gen uint64, result *models.DetectionResult) {
	state.mu.RLock()
	defer state.mu.RUnlock()

	if state.gen.Load() != gen {
		c.logger.WithFields(logrus.Fields{
			"fingerprint":    result.Fingerprint,
			"detection_type": result.DetectionType,
		}).Debug("Profile changed during computation, result not cached")
		return
	}

	if err := c.store.PutResult(ctx, *result); err != nil {
		c.logger.WithError(err).WithField("fingerprint", result.Fingerprint).Warn("Failed to persist result")
	}
	c.tier.set(result)
}

// Invalidate expires every cached result of a detection type. Computations
// already running for the type will not be cached.
func (c *ResultCache) Invalidate(ctx context.Context, t models.DetectionType) error {
	state, ok := c.types[t]
	if !ok {
		return models.NewValidationError("detection_type", "unsupported detection type %q", t)
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	state.gen.Add(1)
	purged := c.tier.purgeType(t)
	expired, err := c.store.ExpireResults(ctx, t, c.now())
	if err != nil {
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"detection_type": t,
		"purged":         purged,
		"expired":        expired,
	}).Info("Invalidated cached results")
	return nil
}

// Sweep removes expired entries from memory and the store
func (c *ResultCache) Sweep(ctx context.Context) (int, error) {
	now := c.now()
	n := c.tier.sweep(now)
	deleted, err := c.store.DeleteExpired(ctx, now)
	if err != nil {
		return n, err
	}
	return n + int(deleted), nil
}

// Status reports cache counters
func (c *ResultCache) Status() CacheStatus {
	gens := make(map[models.DetectionType]uint64, len(c.types))
	for t, s := range c.types {
		gens[t] = s.gen.Load()
	}
	return CacheStatus{
		LiveEntries: c.tier.live(c.now()),
		InFlight:    c.inflight.Load(),
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Shared:      c.shared.Load(),
		Generations: gens,
	}
}
