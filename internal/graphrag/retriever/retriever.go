package retriever

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/paladugusuresh/graphrag/internal/graphrag/schema"
	"github.com/paladugusuresh/graphrag/internal/graphrag/types"
	"github.com/paladugusuresh/graphrag/internal/platform/logger"
	"github.com/paladugusuresh/graphrag/internal/platform/neo4jdb"
	"github.com/paladugusuresh/graphrag/internal/platform/openai"
)

const chunkQuery = `CALL db.index.vector.queryNodes($index, $k, $embedding)
YIELD node, score
RETURN node.chunk_id AS chunk_id, node.text AS text, node.source_doc_id AS source_doc_id, score
ORDER BY score DESC, chunk_id ASC`

// hierarchyCypher walks the chunk's parent chain. The depth bound is a
// validated policy integer, not user input, so it is safe to interpolate.
func hierarchyCypher(depth int) string {
	return fmt.Sprintf(`MATCH (c:Chunk {chunk_id: $chunk_id})-[:PART_OF*1..%d]->(d)
RETURN d.chunk_id AS chunk_id, d.text AS text, d.source_doc_id AS source_doc_id`, depth)
}

const anchorQuery = `MATCH (n)-[r]-(m)
WHERE elementId(n) = $id
RETURN elementId(n) AS source, type(r) AS rel, elementId(m) AS target, labels(m) AS labels
LIMIT 50`

type Graph interface {
	Read(ctx context.Context, cypher string, params map[string]any, timeout time.Duration) ([]neo4jdb.Row, error)
}

// Retriever augments query results with chunk evidence and graph context.
// Every failure here is swallowed: augmentation is best effort and never
// fails the request.
type Retriever struct {
	graph  Graph
	llm    openai.Client
	policy types.Policy
	log    *logger.Logger
}

type Augmentation struct {
	Chunks  []types.RetrievedChunk
	Context []types.GraphContext
}

func New(graph Graph, llm openai.Client, policy types.Policy, log *logger.Logger) *Retriever {
	return &Retriever{graph: graph, llm: llm, policy: policy, log: log.With("component", "Retriever")}
}

// Augment fetches top-k similar chunks for the question and the 1-hop
// neighborhood of each anchor node in parallel.
func (r *Retriever) Augment(ctx context.Context, question string, anchors []string) *Augmentation {
	out := &Augmentation{}

	g, gctx := errgroup.WithContext(ctx)
	var chunks []types.RetrievedChunk
	var graphCtx []types.GraphContext

	g.Go(func() error {
		chunks = r.retrieveChunks(gctx, question)
		return nil
	})
	g.Go(func() error {
		graphCtx = r.anchorContext(gctx, anchors)
		return nil
	})
	_ = g.Wait()

	out.Chunks = chunks
	out.Context = graphCtx
	return out
}

func (r *Retriever) retrieveChunks(ctx context.Context, question string) []types.RetrievedChunk {
	vecs, err := r.llm.Embed(ctx, []string{question})
	if err != nil || len(vecs) == 0 {
		r.log.Warn("question embedding failed, returning no chunks", "error", err)
		return nil
	}

	rows, err := r.graph.Read(ctx, chunkQuery, map[string]any{
		"index":     schema.ChunkIndexName,
		"k":         r.policy.RetrieverTopK,
		"embedding": vecs[0],
	}, r.policy.Timeout)
	if err != nil {
		// A missing or empty chunk index is a normal state for graph-only
		// deployments.
		r.log.Warn("chunk retrieval failed, returning no chunks", "error", err)
		return nil
	}

	seen := map[string]bool{}
	var chunks []types.RetrievedChunk
	for _, row := range rows {
		c := chunkFromRow(row)
		if c.ChunkID == "" || seen[c.ChunkID] {
			continue
		}
		seen[c.ChunkID] = true
		chunks = append(chunks, c)
	}

	// Pull in parent/section chunks so the summariser sees surrounding
	// document structure.
	for _, c := range r.expandHierarchy(ctx, chunks) {
		if !seen[c.ChunkID] {
			seen[c.ChunkID] = true
			chunks = append(chunks, c)
		}
	}
	return chunks
}

func (r *Retriever) expandHierarchy(ctx context.Context, chunks []types.RetrievedChunk) []types.RetrievedChunk {
	if r.policy.MaxTraversalDepth < 1 {
		return nil
	}
	var out []types.RetrievedChunk
	for _, c := range chunks {
		rows, err := r.graph.Read(ctx, hierarchyCypher(r.policy.MaxTraversalDepth),
			map[string]any{"chunk_id": c.ChunkID}, r.policy.Timeout)
		if err != nil {
			continue
		}
		for _, row := range rows {
			parent := chunkFromRow(row)
			if parent.ChunkID == "" {
				continue
			}
			parent.Similarity = 0
			out = append(out, parent)
		}
	}
	return out
}

func (r *Retriever) anchorContext(ctx context.Context, anchors []string) []types.GraphContext {
	seen := map[string]bool{}
	var out []types.GraphContext
	for _, id := range anchors {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		rows, err := r.graph.Read(ctx, anchorQuery, map[string]any{"id": id}, r.policy.Timeout)
		if err != nil {
			r.log.Warn("anchor expansion failed", "error", err)
			continue
		}
		for _, row := range rows {
			out = append(out, contextFromRow(row))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Target < out[j].Target
	})
	return out
}

func chunkFromRow(row neo4jdb.Row) types.RetrievedChunk {
	var c types.RetrievedChunk
	for i, col := range row.Columns {
		if i >= len(row.Values) {
			break
		}
		switch col {
		case "chunk_id":
			c.ChunkID, _ = row.Values[i].(string)
		case "text":
			c.Text, _ = row.Values[i].(string)
		case "source_doc_id":
			c.SourceDocID, _ = row.Values[i].(string)
		case "score":
			c.Similarity = toFloat(row.Values[i])
		}
	}
	return c
}

func contextFromRow(row neo4jdb.Row) types.GraphContext {
	var gc types.GraphContext
	for i, col := range row.Columns {
		if i >= len(row.Values) {
			break
		}
		switch col {
		case "source":
			gc.Source, _ = row.Values[i].(string)
		case "rel":
			gc.Rel, _ = row.Values[i].(string)
		case "target":
			gc.Target, _ = row.Values[i].(string)
		case "labels":
			if labels, ok := row.Values[i].([]any); ok {
				for _, l := range labels {
					if s, ok := l.(string); ok {
						gc.Labels = append(gc.Labels, s)
					}
				}
			}
		}
	}
	return gc
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int64:
		return float64(x)
	default:
		return 0
	}
}
