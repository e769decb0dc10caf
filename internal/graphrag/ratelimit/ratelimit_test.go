package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/paladugusuresh/graphrag/internal/graphrag/types"
	"github.com/paladugusuresh/graphrag/internal/platform/apierr"
	"github.com/paladugusuresh/graphrag/internal/platform/logger"
	"github.com/paladugusuresh/graphrag/internal/platform/openai"
)

func newLimiter(t *testing.T, store Store, capacity int) *Limiter {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return New(store, capacity, log)
}

func TestAcquireDeniesPastCapacity(t *testing.T) {
	l := newLimiter(t, NewMemoryStore(), 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.Acquire(ctx, "llm", 1); err != nil {
			t.Fatalf("call %d within quota denied: %v", i+1, err)
		}
	}

	err := l.Acquire(ctx, "llm", 1)
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Code != types.ReasonLLMRateLimited {
		t.Fatalf("expected LLM_RATE_LIMITED, got %v", err)
	}
}

func TestAcquireRefillsNextMinute(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 30, 0, time.UTC)
	now := base
	l := newLimiter(t, NewMemoryStore(), 1)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	if err := l.Acquire(ctx, "llm", 1); err != nil {
		t.Fatalf("first call denied: %v", err)
	}
	if err := l.Acquire(ctx, "llm", 1); err == nil {
		t.Fatalf("second call in same minute must be denied")
	}

	now = base.Add(time.Minute)
	if err := l.Acquire(ctx, "llm", 1); err != nil {
		t.Fatalf("new minute bucket must refill: %v", err)
	}
}

type downStore struct{}

func (downStore) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, fmt.Errorf("connection refused")
}

func TestAcquireFailsOpenWhenStoreDown(t *testing.T) {
	l := newLimiter(t, downStore{}, 1)
	for i := 0; i < 5; i++ {
		if err := l.Acquire(context.Background(), "llm", 1); err != nil {
			t.Fatalf("store outage must fail open, got %v", err)
		}
	}
}

func TestKeysAreIsolated(t *testing.T) {
	l := newLimiter(t, NewMemoryStore(), 1)
	ctx := context.Background()

	if err := l.Acquire(ctx, "tenant-a", 1); err != nil {
		t.Fatalf("tenant-a: %v", err)
	}
	if err := l.Acquire(ctx, "tenant-b", 1); err != nil {
		t.Fatalf("tenant-b quota must be independent: %v", err)
	}
}

func TestWrappedClientDeniesGeneration(t *testing.T) {
	l := newLimiter(t, NewMemoryStore(), 1)
	client := WrapClient(openai.NewStub(), l, "llm")
	ctx := context.Background()

	if _, err := client.GenerateText(ctx, "sys", "hello"); err != nil {
		t.Fatalf("first generation: %v", err)
	}
	_, err := client.GenerateJSON(ctx, "sys", "hello", "any", map[string]any{"type": "object"})
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Code != types.ReasonLLMRateLimited {
		t.Fatalf("expected LLM_RATE_LIMITED from wrapped client, got %v", err)
	}

	// Embeddings bypass the limiter.
	if _, err := client.Embed(ctx, []string{"term"}); err != nil {
		t.Fatalf("embed must bypass the limiter: %v", err)
	}
}
