package openai

import (
	"context"
	"encoding/json"
	"fmt"
)

// Stub is the offline provider used when DEV_MODE is on. Embeddings are
// deterministic 8-dimensional vectors derived from input length, so index
// dimensions are stable across runs without network access.
type Stub struct {
	// Responses maps schemaName to a canned JSON object returned by
	// GenerateJSON. Unset names fall back to an empty object.
	Responses map[string]map[string]any
}

const StubEmbeddingDim = 8

func NewStub() *Stub {
	return &Stub{Responses: map[string]map[string]any{}}
}

func (s *Stub) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		vec := make([]float32, StubEmbeddingDim)
		for j := range vec {
			vec[j] = float32(len(in))
		}
		out[i] = vec
	}
	return out, nil
}

func (s *Stub) GenerateJSON(_ context.Context, _ string, _ string, schemaName string, schema map[string]any) (map[string]any, error) {
	if schema == nil {
		return nil, fmt.Errorf("schema required")
	}
	if s.Responses != nil {
		if obj, ok := s.Responses[schemaName]; ok {
			return cloneObj(obj), nil
		}
	}
	return map[string]any{}, nil
}

func (s *Stub) GenerateText(_ context.Context, _ string, user string) (string, error) {
	if len(user) > 80 {
		user = user[:80]
	}
	return "stub response for: " + user, nil
}

func cloneObj(in map[string]any) map[string]any {
	raw, err := json.Marshal(in)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}
