package mapper

import (
	"context"
	"strings"

	"github.com/paladugusuresh/graphrag/internal/graphrag/schema"
	"github.com/paladugusuresh/graphrag/internal/graphrag/types"
	"github.com/paladugusuresh/graphrag/internal/platform/logger"
)

// Nearester is the vector lookup the mapper rides on; satisfied by
// schema.Embedder.
type Nearester interface {
	Nearest(ctx context.Context, term string, k int) ([]schema.TermMatch, error)
}

type Match struct {
	SchemaID string
	Score    float64
	Method   string // "exact" | "plural" | "embedding" | "synonym"
}

// Mapper resolves user phrasings to schema identifiers. Resolution order:
// exact match, singular/plural flip, embedding KNN, and finally substring
// search over the synonym table when the embedder is down.
type Mapper struct {
	embedder Nearester
	synonyms *schema.Synonyms
	topK     int
	log      *logger.Logger
}

func New(embedder Nearester, synonyms *schema.Synonyms, topK int, log *logger.Logger) *Mapper {
	if topK <= 0 {
		topK = 5
	}
	return &Mapper{
		embedder: embedder,
		synonyms: synonyms,
		topK:     topK,
		log:      log.With("component", "SemanticMapper"),
	}
}

// Map returns candidate schema ids for term, best first. The caller applies
// its own score threshold.
func (m *Mapper) Map(ctx context.Context, term, kind string, allow types.AllowList) ([]Match, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, nil
	}

	ids := idsForKind(allow, kind)

	if id, ok := exactMatch(term, ids); ok {
		return []Match{{SchemaID: id, Score: 1.0, Method: "exact"}}, nil
	}
	if id, ok := pluralMatch(term, ids); ok {
		return []Match{{SchemaID: id, Score: 0.95, Method: "plural"}}, nil
	}

	matches, err := m.embedder.Nearest(ctx, term, m.topK)
	if err != nil {
		m.log.Warn("embedder unavailable, falling back to synonym substring match",
			"term_kind", kind, "error", err)
		return m.synonymFallback(term, kind), nil
	}

	out := make([]Match, 0, len(matches))
	for _, match := range matches {
		if match.Kind != kind {
			continue
		}
		out = append(out, Match{SchemaID: match.CanonicalID, Score: clampScore(match.Score), Method: "embedding"})
	}
	if len(out) == 0 {
		return m.synonymFallback(term, kind), nil
	}
	return out, nil
}

func (m *Mapper) synonymFallback(term, kind string) []Match {
	hits := m.synonyms.Lookup(term, kind)
	out := make([]Match, 0, len(hits))
	for _, h := range hits {
		out = append(out, Match{SchemaID: h, Score: 0.5, Method: "synonym"})
	}
	return out
}

func idsForKind(allow types.AllowList, kind string) []string {
	switch kind {
	case schema.KindLabel:
		return allow.Labels
	case schema.KindRelationship:
		return allow.Relationships
	case schema.KindProperty:
		seen := map[string]bool{}
		var out []string
		for _, list := range allow.Properties {
			for _, p := range list {
				if !seen[p] {
					seen[p] = true
					out = append(out, p)
				}
			}
		}
		return out
	default:
		return nil
	}
}

func exactMatch(term string, ids []string) (string, bool) {
	for _, id := range ids {
		if strings.EqualFold(term, id) {
			return id, true
		}
	}
	return "", false
}

// pluralMatch flips a trailing s/es in either direction so "students"
// resolves to Student and "Goal" resolves from "goals".
func pluralMatch(term string, ids []string) (string, bool) {
	low := strings.ToLower(term)
	candidates := []string{low + "s", low + "es"}
	if strings.HasSuffix(low, "es") {
		candidates = append(candidates, strings.TrimSuffix(low, "es"))
	}
	if strings.HasSuffix(low, "s") {
		candidates = append(candidates, strings.TrimSuffix(low, "s"))
	}
	for _, cand := range candidates {
		for _, id := range ids {
			if strings.EqualFold(cand, id) {
				return id, true
			}
		}
	}
	return "", false
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
