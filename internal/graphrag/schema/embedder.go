package schema

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/paladugusuresh/graphrag/internal/graphrag/types"
	"github.com/paladugusuresh/graphrag/internal/platform/apierr"
	"github.com/paladugusuresh/graphrag/internal/platform/logger"
	"github.com/paladugusuresh/graphrag/internal/platform/openai"
)

const (
	KindLabel        = "label"
	KindRelationship = "relationship"
	KindProperty     = "property"

	// Index names match what the ingestion side creates for chunks.
	TermIndexName  = "schema_embeddings"
	ChunkIndexName = "chunk_embeddings"
)

type Term struct {
	Term        string
	Kind        string
	CanonicalID string
	Synonyms    []string
}

type TermMatch struct {
	Term        string
	Kind        string
	CanonicalID string
	Score       float64
}

// Embedder vectorises schema terms into SchemaTerm nodes and serves
// nearest-neighbor lookups over the vector index. The index dimension is
// whatever the active provider returns, detected at refresh time.
type Embedder struct {
	graph   Graph
	llm     openai.Client
	mode    Mode
	log     *logger.Logger
	timeout time.Duration
}

func NewEmbedder(graph Graph, llm openai.Client, mode Mode, log *logger.Logger) *Embedder {
	return &Embedder{
		graph:   graph,
		llm:     llm,
		mode:    mode,
		log:     log.With("component", "SchemaEmbedder"),
		timeout: 60 * time.Second,
	}
}

// CollectTerms flattens the allow-list plus synonyms into embeddable terms.
// Synonym terms carry the canonical id of their target.
func CollectTerms(allow types.AllowList, syn *Synonyms) []Term {
	var out []Term

	add := func(term, kind, canonical string, synonyms []string) {
		out = append(out, Term{Term: term, Kind: kind, CanonicalID: canonical, Synonyms: synonyms})
	}

	for _, l := range allow.Labels {
		add(l, KindLabel, l, synonymsFor(syn, KindLabel, l))
	}
	for _, r := range allow.Relationships {
		add(r, KindRelationship, r, synonymsFor(syn, KindRelationship, r))
	}
	seen := map[string]bool{}
	props := make([]string, 0)
	for _, list := range allow.Properties {
		for _, p := range list {
			if !seen[p] {
				seen[p] = true
				props = append(props, p)
			}
		}
	}
	sort.Strings(props)
	for _, p := range props {
		add(p, KindProperty, p, synonymsFor(syn, KindProperty, p))
	}

	// Synonyms become their own rows so a user phrasing can hit directly.
	for _, kind := range []string{KindLabel, KindRelationship, KindProperty} {
		table := syn.ForKind(kind)
		canonicals := make([]string, 0, len(table))
		for c := range table {
			canonicals = append(canonicals, c)
		}
		sort.Strings(canonicals)
		for _, canonical := range canonicals {
			for _, alt := range table[canonical] {
				add(alt, kind, canonical, nil)
			}
		}
	}
	return out
}

func synonymsFor(syn *Synonyms, kind, canonical string) []string {
	table := syn.ForKind(kind)
	if table == nil {
		return nil
	}
	return table[canonical]
}

// Sync embeds every term and upserts SchemaTerm nodes, recreating the vector
// index when the provider dimension changed. An empty provider response is a
// fatal refresh error. This is the process's only write path and requires
// write mode.
func (e *Embedder) Sync(ctx context.Context, allow types.AllowList, syn *Synonyms) (int, error) {
	if !e.mode.WritesAllowed() {
		return 0, apierr.FromReason(types.ReasonWriteBlocked,
			fmt.Errorf("schema embedding sync requires admin mode with writes enabled"))
	}

	terms := CollectTerms(allow, syn)
	if len(terms) == 0 {
		return 0, nil
	}

	texts := make([]string, len(terms))
	for i, t := range terms {
		texts[i] = t.Term
	}
	vectors, err := e.llm.Embed(ctx, texts)
	if err != nil {
		return 0, apierr.FromReason(types.ReasonUpstreamUnavailable, fmt.Errorf("embed schema terms: %w", err))
	}
	if len(vectors) != len(terms) || len(vectors) == 0 || len(vectors[0]) == 0 {
		return 0, fmt.Errorf("embedding provider returned %d vectors for %d terms", len(vectors), len(terms))
	}

	dim := len(vectors[0])
	if err := e.EnsureIndex(ctx, TermIndexName, "SchemaTerm", "embedding", dim); err != nil {
		return 0, err
	}

	rows := make([]map[string]any, len(terms))
	for i, t := range terms {
		emb := make([]float64, len(vectors[i]))
		for j, f := range vectors[i] {
			emb[j] = float64(f)
		}
		rows[i] = map[string]any{
			"term":         t.Term,
			"kind":         t.Kind,
			"canonical_id": t.CanonicalID,
			"embedding":    emb,
			"synonyms":     t.Synonyms,
		}
	}

	upsert := `
UNWIND $rows AS row
MERGE (t:SchemaTerm {term: row.term, kind: row.kind})
SET t.canonical_id = row.canonical_id,
    t.embedding = row.embedding,
    t.synonyms = row.synonyms,
    t.updated_at = timestamp()`
	if _, err := e.graph.Write(ctx, upsert, map[string]any{"rows": rows}, e.timeout); err != nil {
		return 0, fmt.Errorf("upsert schema terms: %w", err)
	}

	e.log.Info("schema terms synced", "terms", len(terms), "dimension", dim)
	return len(terms), nil
}

// EnsureIndex creates the vector index if absent, and drops + recreates it
// when the declared dimension differs from want.
func (e *Embedder) EnsureIndex(ctx context.Context, name, label, property string, want int) error {
	current, err := e.indexDimension(ctx, name)
	if err != nil {
		return fmt.Errorf("inspect index %s: %w", name, err)
	}
	if current == want {
		return nil
	}
	if current > 0 {
		e.log.Warn("vector index dimension changed, recreating",
			"index", name, "old", current, "new", want)
		if _, err := e.graph.Write(ctx, "DROP INDEX "+name+" IF EXISTS", nil, e.timeout); err != nil {
			return fmt.Errorf("drop index %s: %w", name, err)
		}
	}
	create := fmt.Sprintf(`
CREATE VECTOR INDEX %s IF NOT EXISTS
FOR (n:%s) ON (n.%s)
OPTIONS {indexConfig: {
  `+"`vector.dimensions`"+`: $dim,
  `+"`vector.similarity_function`"+`: 'cosine'
}}`, name, label, property)
	if _, err := e.graph.Write(ctx, create, map[string]any{"dim": want}, e.timeout); err != nil {
		return fmt.Errorf("create index %s: %w", name, err)
	}
	return nil
}

// indexDimension returns the declared dimension of a vector index, or 0 when
// the index does not exist.
func (e *Embedder) indexDimension(ctx context.Context, name string) (int, error) {
	rows, err := e.graph.Read(ctx,
		"SHOW INDEXES YIELD name, options WHERE name = $name RETURN options",
		map[string]any{"name": name}, e.timeout)
	if err != nil {
		return 0, err
	}
	for _, row := range rows {
		for i, col := range row.Columns {
			if col != "options" || i >= len(row.Values) {
				continue
			}
			opts, ok := row.Values[i].(map[string]any)
			if !ok {
				continue
			}
			cfg, ok := opts["indexConfig"].(map[string]any)
			if !ok {
				continue
			}
			switch d := cfg["vector.dimensions"].(type) {
			case int64:
				return int(d), nil
			case float64:
				return int(d), nil
			}
		}
	}
	return 0, nil
}

// Nearest returns the k schema terms closest to term by cosine similarity.
// Ties break on lexicographic canonical id.
func (e *Embedder) Nearest(ctx context.Context, term string, k int) ([]TermMatch, error) {
	term = strings.TrimSpace(term)
	if term == "" || k <= 0 {
		return nil, nil
	}
	vectors, err := e.llm.Embed(ctx, []string{term})
	if err != nil {
		return nil, apierr.FromReason(types.ReasonUpstreamUnavailable, fmt.Errorf("embed term: %w", err))
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("empty embedding for term")
	}
	emb := make([]float64, len(vectors[0]))
	for i, f := range vectors[0] {
		emb[i] = float64(f)
	}

	q := `
CALL db.index.vector.queryNodes($index, $k, $embedding)
YIELD node, score
RETURN node.term AS term, node.kind AS kind, node.canonical_id AS canonical_id, score
ORDER BY score DESC, canonical_id ASC`
	rows, err := e.graph.Read(ctx, q, map[string]any{
		"index":     TermIndexName,
		"k":         k,
		"embedding": emb,
	}, e.timeout)
	if err != nil {
		return nil, apierr.FromReason(types.ReasonUpstreamUnavailable, fmt.Errorf("vector query: %w", err))
	}

	out := make([]TermMatch, 0, len(rows))
	for _, row := range rows {
		m := TermMatch{}
		for i, col := range row.Columns {
			if i >= len(row.Values) {
				continue
			}
			switch col {
			case "term":
				m.Term, _ = row.Values[i].(string)
			case "kind":
				m.Kind, _ = row.Values[i].(string)
			case "canonical_id":
				m.CanonicalID, _ = row.Values[i].(string)
			case "score":
				if f, ok := row.Values[i].(float64); ok {
					m.Score = f
				}
			}
		}
		out = append(out, m)
	}
	return out, nil
}
