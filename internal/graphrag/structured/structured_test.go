package structured

import (
	"context"
	"fmt"
	"testing"

	"github.com/paladugusuresh/graphrag/internal/platform/logger"
)

var candidateAliases = map[string]string{"query": "cypher", "parameters": "params"}

func TestNormalizeMapsAliases(t *testing.T) {
	obj := map[string]any{
		"query":      "MATCH (s:Student) RETURN s LIMIT $limit",
		"parameters": map[string]any{"limit": 10},
	}
	out := Normalize(obj, candidateAliases)
	if _, ok := out["cypher"]; !ok {
		t.Fatalf("query should be renamed to cypher")
	}
	if _, ok := out["params"]; !ok {
		t.Fatalf("parameters should be renamed to params")
	}
	if _, ok := out["query"]; ok {
		t.Fatalf("alias key should be dropped")
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	obj := map[string]any{
		"cypher": "RETURN 1",
		"params": map[string]any{},
	}
	once := Normalize(obj, candidateAliases)
	twice := Normalize(once, candidateAliases)
	if twice["cypher"] != "RETURN 1" {
		t.Fatalf("canonical keys must survive repeated normalisation")
	}
	if len(twice) != 2 {
		t.Fatalf("no keys should be added or lost: %v", twice)
	}
}

func TestNormalizePrefersCanonicalKey(t *testing.T) {
	obj := map[string]any{
		"cypher": "RETURN 1",
		"query":  "RETURN 2",
	}
	out := Normalize(obj, candidateAliases)
	if out["cypher"] != "RETURN 1" {
		t.Fatalf("canonical key must win when both are present")
	}
	if _, ok := out["query"]; ok {
		t.Fatalf("alias must be dropped when both are present")
	}
}

type scriptedLLM struct {
	responses []map[string]any
	calls     int
	prompts   []string
}

func (s *scriptedLLM) Embed(context.Context, []string) ([][]float32, error) { return nil, nil }

func (s *scriptedLLM) GenerateJSON(_ context.Context, _ string, user string, _ string, _ map[string]any) (map[string]any, error) {
	s.prompts = append(s.prompts, user)
	if s.calls >= len(s.responses) {
		return nil, fmt.Errorf("no scripted response")
	}
	obj := s.responses[s.calls]
	s.calls++
	return obj, nil
}

func (s *scriptedLLM) GenerateText(context.Context, string, string) (string, error) { return "", nil }

func testLog(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func TestCallRetriesWithViolationDiff(t *testing.T) {
	llm := &scriptedLLM{responses: []map[string]any{
		{"bogus": true},
		{"cypher": "RETURN 1", "params": map[string]any{}},
	}}
	validate := func(obj map[string]any) error {
		if _, ok := obj["cypher"].(string); !ok {
			return fmt.Errorf("missing key: cypher")
		}
		return nil
	}

	out, err := Call(context.Background(), llm, testLog(t), "sys", "make a query", "candidate", map[string]any{"type": "object"}, candidateAliases, validate)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if out["cypher"] != "RETURN 1" {
		t.Fatalf("unexpected output %v", out)
	}
	if llm.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", llm.calls)
	}
	// The retry prompt carries the machine-readable violation.
	if len(llm.prompts) != 2 || llm.prompts[1] == llm.prompts[0] {
		t.Fatalf("second prompt should include the violation diff")
	}
}

func TestCallFailsAfterThreeAttempts(t *testing.T) {
	llm := &scriptedLLM{responses: []map[string]any{
		{"bogus": 1}, {"bogus": 2}, {"bogus": 3},
	}}
	validate := func(obj map[string]any) error {
		return fmt.Errorf("missing key: cypher")
	}

	_, err := Call(context.Background(), llm, testLog(t), "sys", "make a query", "candidate", map[string]any{"type": "object"}, candidateAliases, validate)
	if err == nil {
		t.Fatalf("expected failure after %d attempts", MaxAttempts)
	}
	if llm.calls != MaxAttempts {
		t.Fatalf("expected %d attempts, got %d", MaxAttempts, llm.calls)
	}
}
