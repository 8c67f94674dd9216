// Package cache provides a Redis read-through cache for experiment
// configuration. Assignment sits on the request hot path and reads the
// experiment on every call; the cache keeps those reads off Postgres.
//
// The cache fails open: any Redis error falls back to the repository, and a
// failed write-back is logged and ignored.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/staylab/experiment-engine/internal/domain"
	"github.com/staylab/experiment-engine/internal/service/experiment"
)

// DefaultTTL bounds how stale a cached experiment can be. Status changes
// invalidate eagerly, so the TTL only covers missed invalidations.
const DefaultTTL = 60 * time.Second

// ExperimentCache is a read-through cache over an experiment repository.
// It satisfies assignment.ExperimentReader.
type ExperimentCache struct {
	rdb  *redis.Client
	repo experiment.Repository
	ttl  time.Duration
}

// NewExperimentCache creates a cache. A non-positive ttl falls back to
// DefaultTTL.
func NewExperimentCache(rdb *redis.Client, repo experiment.Repository, ttl time.Duration) *ExperimentCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ExperimentCache{rdb: rdb, repo: repo, ttl: ttl}
}

func cacheKey(id string) string { return "experiment:" + id }

// GetExperiment returns the experiment from cache when possible, falling
// back to the repository and writing the result back. ErrNotFound is never
// cached: a draft being created and started within the TTL must be visible
// immediately.
func (c *ExperimentCache) GetExperiment(ctx context.Context, id string) (*domain.Experiment, error) {
	if raw, err := c.rdb.Get(ctx, cacheKey(id)).Bytes(); err == nil {
		var e domain.Experiment
		if err := json.Unmarshal(raw, &e); err == nil {
			return &e, nil
		}
		log.Printf("[cache.ExperimentCache] corrupt entry for %s, refetching", id)
	} else if err != redis.Nil {
		log.Printf("[cache.ExperimentCache] redis get %s: %v", id, err)
	}

	e, err := c.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(e); err == nil {
		if err := c.rdb.Set(ctx, cacheKey(id), raw, c.ttl).Err(); err != nil {
			log.Printf("[cache.ExperimentCache] redis set %s: %v", id, err)
		}
	}
	return e, nil
}

// Invalidate drops the cached entry. Called after any config or status
// change so the hot path never serves a stale lifecycle state.
func (c *ExperimentCache) Invalidate(ctx context.Context, id string) error {
	if err := c.rdb.Del(ctx, cacheKey(id)).Err(); err != nil {
		return fmt.Errorf("invalidate experiment %s: %w", id, err)
	}
	return nil
}
