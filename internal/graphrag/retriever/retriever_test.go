package retriever

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/paladugusuresh/graphrag/internal/graphrag/types"
	"github.com/paladugusuresh/graphrag/internal/platform/logger"
	"github.com/paladugusuresh/graphrag/internal/platform/neo4jdb"
	"github.com/paladugusuresh/graphrag/internal/platform/openai"
)

type routedGraph struct {
	read func(cypher string, params map[string]any) ([]neo4jdb.Row, error)
}

func (g *routedGraph) Read(_ context.Context, cypher string, params map[string]any, _ time.Duration) ([]neo4jdb.Row, error) {
	return g.read(cypher, params)
}

func newRetriever(t *testing.T, g Graph, llm openai.Client) *Retriever {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return New(g, llm, types.DefaultPolicy(), log)
}

func chunkRow(id, text string, score float64) neo4jdb.Row {
	return neo4jdb.Row{
		Columns: []string{"chunk_id", "text", "source_doc_id", "score"},
		Values:  []any{id, text, "doc-1", score},
	}
}

func TestAugmentReturnsChunksAndContext(t *testing.T) {
	g := &routedGraph{read: func(cypher string, params map[string]any) ([]neo4jdb.Row, error) {
		switch {
		case strings.Contains(cypher, "queryNodes"):
			return []neo4jdb.Row{chunkRow("c-1", "Isabella's reading goal", 0.91)}, nil
		case strings.Contains(cypher, "PART_OF"):
			return []neo4jdb.Row{{
				Columns: []string{"chunk_id", "text", "source_doc_id"},
				Values:  []any{"c-parent", "IEP document", "doc-1"},
			}}, nil
		default:
			return []neo4jdb.Row{{
				Columns: []string{"source", "rel", "target", "labels"},
				Values:  []any{"4:a:1", "HAS_GOAL", "4:a:2", []any{"Goal"}},
			}}, nil
		}
	}}
	r := newRetriever(t, g, openai.NewStub())

	aug := r.Augment(context.Background(), "goals for Isabella Thomas", []string{"4:a:1"})
	if len(aug.Chunks) != 2 {
		t.Fatalf("expected KNN chunk plus parent, got %d", len(aug.Chunks))
	}
	if aug.Chunks[0].ChunkID != "c-1" || aug.Chunks[1].ChunkID != "c-parent" {
		t.Fatalf("unexpected chunk order %v", aug.Chunks)
	}
	if len(aug.Context) != 1 || aug.Context[0].Rel != "HAS_GOAL" {
		t.Fatalf("unexpected context %v", aug.Context)
	}
}

func TestAugmentFailsOpenOnMissingIndex(t *testing.T) {
	g := &routedGraph{read: func(cypher string, params map[string]any) ([]neo4jdb.Row, error) {
		return nil, fmt.Errorf("There is no such vector schema index: chunk_embeddings")
	}}
	r := newRetriever(t, g, openai.NewStub())

	aug := r.Augment(context.Background(), "goals for Isabella Thomas", []string{"4:a:1"})
	if len(aug.Chunks) != 0 || len(aug.Context) != 0 {
		t.Fatalf("missing index must yield an empty augmentation, got %+v", aug)
	}
}

func TestAugmentFailsOpenOnEmbedderError(t *testing.T) {
	g := &routedGraph{read: func(cypher string, params map[string]any) ([]neo4jdb.Row, error) {
		t.Errorf("graph must not be queried for chunks without an embedding")
		return nil, nil
	}}
	llm := &failingEmbedder{}
	r := newRetriever(t, g, llm)

	aug := r.Augment(context.Background(), "anything", nil)
	if len(aug.Chunks) != 0 {
		t.Fatalf("embedder failure must yield no chunks")
	}
}

func TestAugmentDeduplicatesAnchors(t *testing.T) {
	calls := 0
	g := &routedGraph{read: func(cypher string, params map[string]any) ([]neo4jdb.Row, error) {
		if strings.Contains(cypher, "elementId(n) = $id") {
			calls++
		}
		return nil, nil
	}}
	r := newRetriever(t, g, openai.NewStub())

	r.Augment(context.Background(), "q", []string{"4:a:1", "4:a:1", ""})
	if calls != 1 {
		t.Fatalf("expected one anchor expansion, got %d", calls)
	}
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, fmt.Errorf("provider down")
}

func (failingEmbedder) GenerateJSON(context.Context, string, string, string, map[string]any) (map[string]any, error) {
	return nil, fmt.Errorf("provider down")
}

func (failingEmbedder) GenerateText(context.Context, string, string) (string, error) {
	return "", fmt.Errorf("provider down")
}
