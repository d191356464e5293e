package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/instructor-availability-api/internal/models"
)

// CacheRepository abstracts persistence for cached payloads. A miss is
// (false, nil); errors mean the backend failed.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CacheTier selects a TTL.
type CacheTier string

const (
	CacheTierHot  CacheTier = "hot"
	CacheTierWarm CacheTier = "warm"
)

// CacheOptions tunes the cache service.
type CacheOptions struct {
	Enabled  bool
	HotTTL   time.Duration
	WarmTTL  time.Duration
	HotWeeks int
}

// CacheService is a best-effort read-through cache. Backend failures are
// logged and swallowed; callers only ever see their own compute errors.
type CacheService struct {
	repo     CacheRepository
	metrics  *MetricsService
	logger   *zap.Logger
	enabled  bool
	hotTTL   time.Duration
	warmTTL  time.Duration
	hotWeeks int
	now      func() time.Time
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, logger *zap.Logger, opts CacheOptions) *CacheService {
	if opts.HotTTL <= 0 {
		opts.HotTTL = 2 * time.Minute
	}
	if opts.WarmTTL <= 0 {
		opts.WarmTTL = 30 * time.Minute
	}
	if opts.HotWeeks < 0 {
		opts.HotWeeks = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{
		repo:     repo,
		metrics:  metrics,
		logger:   logger,
		enabled:  opts.Enabled,
		hotTTL:   opts.HotTTL,
		warmTTL:  opts.WarmTTL,
		hotWeeks: opts.HotWeeks,
		now:      time.Now,
	}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// TTL returns the expiry for a tier.
func (s *CacheService) TTL(tier CacheTier) time.Duration {
	if s == nil {
		return 0
	}
	if tier == CacheTierHot {
		return s.hotTTL
	}
	return s.warmTTL
}

// WeekKey is the cache key of one instructor week.
func WeekKey(instructorID string, weekStart time.Time) string {
	return fmt.Sprintf("avail:week:%s:%s", instructorID, weekStart.Format(models.DateLayout))
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// InstructorPattern matches every cached week of an instructor. Glob
// metacharacters in the ID are escaped so it only matches literally.
func InstructorPattern(instructorID string) string {
	return fmt.Sprintf("avail:week:%s:*", globEscaper.Replace(instructorID))
}

// WeekTier is hot when the week starts within hotWeeks of the current week.
func (s *CacheService) WeekTier(weekStart time.Time) CacheTier {
	if s == nil {
		return CacheTierWarm
	}
	current := MondayOf(s.now().UTC())
	distance := int(weekStart.Sub(current).Hours() / (24 * 7))
	if distance < 0 {
		distance = -distance
	}
	if distance <= s.hotWeeks {
		return CacheTierHot
	}
	return CacheTierWarm
}

// Get attempts to retrieve a cached entry. A backend failure is reported as a miss.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) bool {
	if !s.Enabled() {
		return false
	}
	start := time.Now()
	hit, err := s.repo.Get(ctx, key, dest)
	s.metrics.RecordCacheOperation(hit && err == nil, time.Since(start))
	if err != nil {
		s.metrics.RecordCacheError("get")
		s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return hit
}

// Set stores the value; failures are logged and dropped.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if !s.Enabled() {
		return
	}
	if ttl <= 0 {
		ttl = s.warmTTL
	}
	start := time.Now()
	err := s.repo.Set(ctx, key, value, ttl)
	s.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		s.metrics.RecordCacheError("set")
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate removes keys. The error is returned so the caller can schedule a
// retry; it never needs to fail the caller's operation.
func (s *CacheService) Invalidate(ctx context.Context, keys ...string) error {
	if !s.Enabled() || len(keys) == 0 {
		return nil
	}
	if err := s.repo.Delete(ctx, keys...); err != nil {
		s.metrics.RecordCacheError("delete")
		s.logger.Warn("cache invalidate failed", zap.Strings("keys", keys), zap.Error(err))
		return err
	}
	return nil
}

// InvalidatePattern removes every key matching pattern.
func (s *CacheService) InvalidatePattern(ctx context.Context, pattern string) error {
	if !s.Enabled() {
		return nil
	}
	if err := s.repo.DeleteByPattern(ctx, pattern); err != nil {
		s.metrics.RecordCacheError("delete")
		s.logger.Warn("cache invalidate failed", zap.String("pattern", pattern), zap.Error(err))
		return err
	}
	return nil
}

// GetOrCompute returns the cached value for key or runs compute and writes the
// result back. Only compute errors are returned. The bool reports a cache hit.
func GetOrCompute[T any](ctx context.Context, cache *CacheService, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, bool, error) {
	var cached T
	if cache.Get(ctx, key, &cached) {
		return cached, true, nil
	}
	value, err := compute(ctx)
	if err != nil {
		var zero T
		return zero, false, err
	}
	cache.Set(ctx, key, value, ttl)
	return value, false, nil
}
