package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/paladugusuresh/graphrag/internal/graphrag/audit"
	"github.com/paladugusuresh/graphrag/internal/graphrag/executor"
	"github.com/paladugusuresh/graphrag/internal/graphrag/generator"
	"github.com/paladugusuresh/graphrag/internal/graphrag/guardrail"
	"github.com/paladugusuresh/graphrag/internal/graphrag/mapper"
	"github.com/paladugusuresh/graphrag/internal/graphrag/planner"
	"github.com/paladugusuresh/graphrag/internal/graphrag/retriever"
	"github.com/paladugusuresh/graphrag/internal/graphrag/schema"
	"github.com/paladugusuresh/graphrag/internal/graphrag/summarizer"
	"github.com/paladugusuresh/graphrag/internal/graphrag/types"
	"github.com/paladugusuresh/graphrag/internal/graphrag/validator"
	"github.com/paladugusuresh/graphrag/internal/platform/apierr"
	"github.com/paladugusuresh/graphrag/internal/platform/logger"
	"github.com/paladugusuresh/graphrag/internal/platform/neo4jdb"
	"github.com/paladugusuresh/graphrag/internal/platform/openai"
)

type stubSnapshots struct{ snap *schema.Snapshot }

func (s stubSnapshots) Current() *schema.Snapshot { return s.snap }

type stubMapper struct{}

func (stubMapper) Map(context.Context, string, string, types.AllowList) ([]mapper.Match, error) {
	return nil, nil
}

type pipelineGraph struct {
	mu      sync.Mutex
	queries []string
	rows    []neo4jdb.Row
}

func (g *pipelineGraph) Read(_ context.Context, cypher string, _ map[string]any, _ time.Duration) ([]neo4jdb.Row, error) {
	g.mu.Lock()
	g.queries = append(g.queries, cypher)
	g.mu.Unlock()
	if strings.Contains(cypher, "queryNodes") || strings.Contains(cypher, "PART_OF") {
		return nil, errors.New("There is no such vector schema index: chunk_embeddings")
	}
	return g.rows, nil
}

func testSnapshot() *schema.Snapshot {
	return &schema.Snapshot{
		AllowList: types.AllowList{
			Labels:        []string{"Accommodation", "CaseManager", "ConcernArea", "EvalReport", "Goal", "Student"},
			Relationships: []string{"HAS_ACCOMMODATION", "HAS_CONCERN", "HAS_EVAL_REPORT", "HAS_GOAL", "MANAGES"},
			Properties:    map[string][]string{"Goal": {"status", "title"}, "Student": {"name"}},
		},
		Fingerprint: "test",
		BuiltAt:     time.Now().UTC(),
	}
}

func newPipeline(t *testing.T, llm openai.Client, graph *pipelineGraph) (*Pipeline, string) {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	policy := types.DefaultPolicy()

	path := filepath.Join(t.TempDir(), "audit.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	sink := audit.New(f, log)
	t.Cleanup(func() { sink.Close() })

	p := New(Config{
		Snapshots:  stubSnapshots{snap: testSnapshot()},
		Guard:      guardrail.NewChecker(log),
		Planner:    planner.New(llm, stubMapper{}, policy, log),
		Generator:  generator.New(llm, log),
		Validator:  validator.New(policy, log),
		Executor:   executor.New(graph, policy, log),
		Retriever:  retriever.New(graph, llm, policy, log),
		Summarizer: summarizer.New(llm, log),
		Sink:       sink,
		Policy:     policy,
		Log:        log,
	})
	return p, path
}

func auditLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	defer f.Close()
	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var obj map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &obj); err != nil {
			t.Fatalf("audit line is not JSON: %v", err)
		}
		lines = append(lines, obj)
	}
	return lines
}

func scenarioLLM() *openai.Stub {
	return &openai.Stub{Responses: map[string]map[string]any{
		"entity_extraction": {
			"names":       []any{"Isabella Thomas"},
			"date_ranges": []any{},
			"topics":      []any{},
		},
		"summary": {
			"summary":   "Isabella Thomas has one active reading goal.",
			"citations": []any{},
		},
	}}
}

func TestTemplateFastPathEndToEnd(t *testing.T) {
	graph := &pipelineGraph{rows: []neo4jdb.Row{
		{Columns: []string{"goal", "status"}, Values: []any{"Reading fluency", "active"}},
	}}
	p, auditPath := newPipeline(t, scenarioLLM(), graph)

	resp, err := p.Process(context.Background(), Request{Question: "What are the goals for Isabella Thomas?"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !strings.Contains(resp.Cypher, "HAS_GOAL") {
		t.Fatalf("expected the goals template, got:\n%s", resp.Cypher)
	}
	if resp.Params["student"] != "Isabella Thomas" {
		t.Fatalf("template parameter not bound: %v", resp.Params)
	}
	if len(resp.Rows) != 1 || resp.Rows[0].Columns[0] != "goal" {
		t.Fatalf("unexpected rows %v", resp.Rows)
	}
	if resp.Summary == "" || resp.AuditID == "" {
		t.Fatalf("incomplete response %+v", resp)
	}
	if resp.Verification.Status != "passed" {
		t.Fatalf("no citations means verification passes: %+v", resp.Verification)
	}
	if resp.Format != FormatText {
		t.Fatalf("format must default to text, got %s", resp.Format)
	}

	lines := auditLines(t, auditPath)
	last := lines[len(lines)-1]
	if last["stage"] != "pipeline" || last["outcome"] != "passed" {
		t.Fatalf("missing terminal audit event: %v", last)
	}
}

func TestGuardrailBlockStopsPipeline(t *testing.T) {
	graph := &pipelineGraph{}
	p, auditPath := newPipeline(t, scenarioLLM(), graph)

	_, err := p.Process(context.Background(), Request{Question: "DROP DATABASE neo4j;"})
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Code != types.ReasonGuardrailBlocked {
		t.Fatalf("unexpected error %v", err)
	}
	if apiErr.Status != 403 {
		t.Fatalf("guardrail block must map to 403, got %d", apiErr.Status)
	}
	if len(graph.queries) != 0 {
		t.Fatalf("no downstream stage may run after a block: %v", graph.queries)
	}

	lines := auditLines(t, auditPath)
	if len(lines) != 1 {
		t.Fatalf("expected exactly one audit event, got %d", len(lines))
	}
	if lines[0]["reason_code"] != types.ReasonGuardrailBlocked || lines[0]["outcome"] != "blocked" {
		t.Fatalf("unexpected terminal event %v", lines[0])
	}
}

func TestUnknownFormatRejected(t *testing.T) {
	p, _ := newPipeline(t, scenarioLLM(), &pipelineGraph{})

	_, err := p.Process(context.Background(), Request{Question: "goals for Isabella Thomas", Format: "xml"})
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Status != 400 {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestMissingSnapshotIsUnavailable(t *testing.T) {
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	path := filepath.Join(t.TempDir(), "audit.log")
	f, _ := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	sink := audit.New(f, log)
	t.Cleanup(func() { sink.Close() })

	p := New(Config{
		Snapshots: stubSnapshots{snap: nil},
		Guard:     guardrail.NewChecker(log),
		Sink:      sink,
		Policy:    types.DefaultPolicy(),
		Log:       log,
	})

	_, err = p.Process(context.Background(), Request{Question: "goals for Isabella Thomas"})
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Code != types.ReasonSchemaUnavailable {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestCitationFailureIsAuditedNotFatal(t *testing.T) {
	llm := scenarioLLM()
	llm.Responses["summary"] = map[string]any{
		"summary":   "Isabella has a math goal [chunk_999].",
		"citations": []any{"chunk_999"},
	}
	graph := &pipelineGraph{rows: []neo4jdb.Row{
		{Columns: []string{"goal", "status"}, Values: []any{"Math", "active"}},
	}}
	p, auditPath := newPipeline(t, llm, graph)

	resp, err := p.Process(context.Background(), Request{Question: "What are the goals for Isabella Thomas?"})
	if err != nil {
		t.Fatalf("unverified citations must not fail the request: %v", err)
	}
	if resp.Verification.Status != "failed" {
		t.Fatalf("expected failed verification: %+v", resp.Verification)
	}
	if len(resp.Verification.UnknownCitations) != 1 || resp.Verification.UnknownCitations[0] != "chunk_999" {
		t.Fatalf("unexpected unknown citations %v", resp.Verification.UnknownCitations)
	}

	found := false
	for _, line := range auditLines(t, auditPath) {
		if line["reason_code"] == types.ReasonCitationUnverified {
			found = true
		}
	}
	if !found {
		t.Fatalf("citation failure must be audited")
	}
}

func TestNormalizeFormat(t *testing.T) {
	if got, ok := NormalizeFormat(""); !ok || got != FormatText {
		t.Fatalf("empty format must default to text, got %q ok=%v", got, ok)
	}
	if _, ok := NormalizeFormat("graph"); !ok {
		t.Fatalf("graph is a valid format")
	}
	if _, ok := NormalizeFormat("csv"); ok {
		t.Fatalf("csv must be rejected")
	}
}

func TestTableOfRendersRowValues(t *testing.T) {
	rows := []types.ResultRow{
		{Columns: []string{"goal", "status"}, Values: []any{"Improve reading fluency", "active"}},
		{Columns: []string{"goal", "status"}, Values: []any{"Math facts to 20", int64(3)}},
	}
	table := tableOf(rows)
	if len(table.Columns) != 2 || table.Columns[0] != "goal" {
		t.Fatalf("unexpected columns %v", table.Columns)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("unexpected row count %d", len(table.Rows))
	}
	if table.Rows[1][1] != "3" {
		t.Fatalf("values must render as strings, got %q", table.Rows[1][1])
	}
}
