package ratelimit

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/paladugusuresh/graphrag/internal/graphrag/types"
	"github.com/paladugusuresh/graphrag/internal/observability"
	"github.com/paladugusuresh/graphrag/internal/platform/apierr"
	"github.com/paladugusuresh/graphrag/internal/platform/logger"
)

// Store is a shared counter keyed by minute bucket. Incr returns the
// post-increment value.
type Store interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Limiter is a minute-bucket token counter over a shared store. When the
// store is unreachable it fails open and records the degradation.
type Limiter struct {
	store    Store
	capacity int
	now      func() time.Time
	log      *logger.Logger
}

func New(store Store, capacity int, log *logger.Logger) *Limiter {
	return &Limiter{
		store:    store,
		capacity: capacity,
		now:      time.Now,
		log:      log.With("component", "RateLimiter"),
	}
}

// Acquire takes cost tokens from the current minute bucket for key. A
// denial carries LLM_RATE_LIMITED.
func (l *Limiter) Acquire(ctx context.Context, key string, cost int) error {
	if l == nil || l.capacity <= 0 {
		return nil
	}
	if cost < 1 {
		cost = 1
	}

	bucket := l.now().UTC().Unix() / 60
	storeKey := fmt.Sprintf("ratelimit:%s:%d", key, bucket)

	var total int64
	var err error
	for i := 0; i < cost; i++ {
		total, err = l.store.Incr(ctx, storeKey, 2*time.Minute)
		if err != nil {
			l.log.Warn("rate limit store unavailable, failing open", "error", err)
			observability.Current().IncRateLimitDegraded()
			return nil
		}
	}
	if total > int64(l.capacity) {
		return apierr.FromReason(types.ReasonLLMRateLimited,
			fmt.Errorf("rate limit of %d calls per minute exhausted for %s", l.capacity, key))
	}
	return nil
}

// RedisStore backs the limiter with a shared Redis counter so the quota
// holds across replicas.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStoreFromEnv() (*RedisStore, error) {
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(os.Getenv("REDIS_PASSWORD")),
	})
	return &RedisStore{client: client}, nil
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// MemoryStore is the single-process fallback used in dev mode and tests.
type MemoryStore struct {
	mu      sync.Mutex
	counts  map[string]int64
	expires map[string]time.Time
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counts:  map[string]int64{},
		expires: map[string]time.Time{},
		now:     time.Now,
	}
}

func (s *MemoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if exp, ok := s.expires[key]; ok && now.After(exp) {
		delete(s.counts, key)
		delete(s.expires, key)
	}
	s.counts[key]++
	s.expires[key] = now.Add(ttl)

	// Opportunistic cleanup keeps the map from accumulating dead buckets.
	for k, exp := range s.expires {
		if now.After(exp) {
			delete(s.counts, k)
			delete(s.expires, k)
		}
	}
	return s.counts[key], nil
}
