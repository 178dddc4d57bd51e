package upload

import (
	"context"
	"errors"
	"time"

	"github.com/lgulliver/stowaway/internal/common"
	"github.com/lgulliver/stowaway/pkg/types"
	"github.com/rs/zerolog/log"
)

// ResultCache holds finalize results of COMPLETE sessions. Results are
// immutable once written, so entries never need invalidation. Cache
// failures are never surfaced to callers.
type ResultCache interface {
	Get(ctx context.Context, uploadID string) (*types.FinalizeResult, bool)
	Set(ctx context.Context, uploadID string, result *types.FinalizeResult)
}

// NoopResultCache caches nothing
type NoopResultCache struct{}

func (NoopResultCache) Get(context.Context, string) (*types.FinalizeResult, bool) { return nil, false }
func (NoopResultCache) Set(context.Context, string, *types.FinalizeResult)        {}

// RedisResultCache stores finalize results in Redis
type RedisResultCache struct {
	cache *common.Cache
	ttl   time.Duration
}

// NewRedisResultCache creates a result cache backed by cache
func NewRedisResultCache(cache *common.Cache, ttl time.Duration) *RedisResultCache {
	return &RedisResultCache{cache: cache, ttl: ttl}
}

func resultKey(uploadID string) string {
	return "stowaway:result:" + uploadID
}

// Get returns the cached result for uploadID
func (c *RedisResultCache) Get(ctx context.Context, uploadID string) (*types.FinalizeResult, bool) {
	var result types.FinalizeResult
	if err := c.cache.Get(ctx, resultKey(uploadID), &result); err != nil {
		if !errors.Is(err, common.ErrCacheMiss) {
			log.Warn().Err(err).Str("session_id", uploadID).Msg("result cache lookup failed")
		}
		return nil, false
	}
	if result.Status != types.StatusComplete {
		return nil, false
	}
	return &result, true
}

// Set stores result for uploadID
func (c *RedisResultCache) Set(ctx context.Context, uploadID string, result *types.FinalizeResult) {
	if err := c.cache.Set(ctx, resultKey(uploadID), result, c.ttl); err != nil {
		log.Warn().Err(err).Str("session_id", uploadID).Msg("failed to cache finalize result")
	}
}
