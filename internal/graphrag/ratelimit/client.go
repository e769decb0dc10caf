package ratelimit

import (
	"context"

	"github.com/paladugusuresh/graphrag/internal/platform/openai"
)

// limitedClient wraps an LLM client so every generation call first takes a
// token from the limiter. Embeddings are deliberately exempt; schema sync
// embeds hundreds of terms in one batch and is admin-triggered.
type limitedClient struct {
	inner   openai.Client
	limiter *Limiter
	key     string
}

// WrapClient applies the limiter to all generation calls on inner.
func WrapClient(inner openai.Client, limiter *Limiter, key string) openai.Client {
	return &limitedClient{inner: inner, limiter: limiter, key: key}
}

func (c *limitedClient) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	return c.inner.Embed(ctx, inputs)
}

func (c *limitedClient) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	if err := c.limiter.Acquire(ctx, c.key, 1); err != nil {
		return nil, err
	}
	return c.inner.GenerateJSON(ctx, system, user, schemaName, schema)
}

func (c *limitedClient) GenerateText(ctx context.Context, system, user string) (string, error) {
	if err := c.limiter.Acquire(ctx, c.key, 1); err != nil {
		return "", err
	}
	return c.inner.GenerateText(ctx, system, user)
}
