package mapper

import (
	"context"
	"fmt"
	"testing"

	"github.com/paladugusuresh/graphrag/internal/graphrag/schema"
	"github.com/paladugusuresh/graphrag/internal/graphrag/types"
	"github.com/paladugusuresh/graphrag/internal/platform/logger"
)

type fakeNearester struct {
	matches []schema.TermMatch
	err     error
}

func (f *fakeNearester) Nearest(context.Context, string, int) ([]schema.TermMatch, error) {
	return f.matches, f.err
}

var testAllow = types.AllowList{
	Labels:        []string{"Student", "Goal", "CaseManager"},
	Relationships: []string{"HAS_GOAL"},
	Properties:    map[string][]string{"Student": {"name"}},
}

func newMapper(t *testing.T, n Nearester, syn *schema.Synonyms) *Mapper {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return New(n, syn, 5, log)
}

func TestExactMatchShortCircuits(t *testing.T) {
	m := newMapper(t, &fakeNearester{err: fmt.Errorf("must not be called")}, &schema.Synonyms{})
	got, err := m.Map(context.Background(), "student", schema.KindLabel, testAllow)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if len(got) != 1 || got[0].SchemaID != "Student" || got[0].Score != 1.0 || got[0].Method != "exact" {
		t.Fatalf("unexpected matches %v", got)
	}
}

func TestPluralMatch(t *testing.T) {
	m := newMapper(t, &fakeNearester{err: fmt.Errorf("must not be called")}, &schema.Synonyms{})
	got, err := m.Map(context.Background(), "goals", schema.KindLabel, testAllow)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if len(got) != 1 || got[0].SchemaID != "Goal" || got[0].Method != "plural" {
		t.Fatalf("unexpected matches %v", got)
	}
}

func TestEmbeddingPathFiltersKind(t *testing.T) {
	near := &fakeNearester{matches: []schema.TermMatch{
		{Term: "case worker", Kind: schema.KindLabel, CanonicalID: "CaseManager", Score: 0.88},
		{Term: "HAS_GOAL", Kind: schema.KindRelationship, CanonicalID: "HAS_GOAL", Score: 0.82},
	}}
	m := newMapper(t, near, &schema.Synonyms{})
	got, err := m.Map(context.Background(), "social worker", schema.KindLabel, testAllow)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if len(got) != 1 || got[0].SchemaID != "CaseManager" || got[0].Method != "embedding" {
		t.Fatalf("kind filter failed: %v", got)
	}
}

func TestSynonymFallbackWhenEmbedderDown(t *testing.T) {
	syn := &schema.Synonyms{Labels: map[string][]string{"Student": {"pupil"}}}
	m := newMapper(t, &fakeNearester{err: fmt.Errorf("index offline")}, syn)
	got, err := m.Map(context.Background(), "pupil", schema.KindLabel, testAllow)
	if err != nil {
		t.Fatalf("fallback must not surface the embedder error, got %v", err)
	}
	if len(got) != 1 || got[0].SchemaID != "Student" || got[0].Score != 0.5 || got[0].Method != "synonym" {
		t.Fatalf("unexpected fallback matches %v", got)
	}
}
