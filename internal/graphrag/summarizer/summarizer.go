package summarizer

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/paladugusuresh/graphrag/internal/graphrag/structured"
	"github.com/paladugusuresh/graphrag/internal/graphrag/types"
	"github.com/paladugusuresh/graphrag/internal/platform/logger"
	"github.com/paladugusuresh/graphrag/internal/platform/openai"
)

const summarySystemPrompt = `You answer questions about students using only the supplied query results and document excerpts. Cite an excerpt by writing its id in square brackets, like [c-12]. Never invent facts or citations. Respond with a JSON object holding exactly two keys: "summary" and "citations".`

var summarySchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []string{"summary", "citations"},
	"properties": map[string]any{
		"summary": map[string]any{"type": "string"},
		"citations": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	},
}

var summaryAliases = map[string]string{
	"answer":    "summary",
	"text":      "summary",
	"sources":   "citations",
	"citation":  "citations",
	"chunk_ids": "citations",
}

var citationRe = regexp.MustCompile(`\[([A-Za-z0-9_\-]+)\]`)

type Summarizer struct {
	llm openai.Client
	log *logger.Logger
}

type Summary struct {
	Text         string
	Citations    []string
	Verification types.Verification
}

func New(llm openai.Client, log *logger.Logger) *Summarizer {
	return &Summarizer{llm: llm, log: log.With("component", "Summarizer")}
}

// Summarise produces prose over the rows and chunks and verifies that every
// citation points at a supplied chunk. Verification failure is recorded, not
// fatal.
func (s *Summarizer) Summarise(ctx context.Context, question string, rows []types.ResultRow, chunks []types.RetrievedChunk) (*Summary, error) {
	obj, err := structured.Call(ctx, s.llm, s.log, summarySystemPrompt,
		buildPrompt(question, rows, chunks), "summary", summarySchema, summaryAliases, validateSummary)
	if err != nil {
		return nil, err
	}

	text := obj["summary"].(string)
	citations := stringSlice(obj["citations"])

	known := map[string]bool{}
	for _, c := range chunks {
		known[c.ChunkID] = true
	}

	unknown := verifyCitations(text, citations, known)
	verification := types.Verification{Status: "passed"}
	if len(unknown) > 0 {
		verification = types.Verification{Status: "failed", UnknownCitations: unknown}
		s.log.Warn("summary cites unknown chunks", "unknown_citations", strings.Join(unknown, ","))
	}

	return &Summary{Text: text, Citations: citations, Verification: verification}, nil
}

// verifyCitations collects every cited id, from the citations list and from
// [id] tokens inside the summary text, that is not a supplied chunk.
func verifyCitations(text string, citations []string, known map[string]bool) []string {
	seen := map[string]bool{}
	var unknown []string
	record := func(id string) {
		if id == "" || known[id] || seen[id] {
			return
		}
		seen[id] = true
		unknown = append(unknown, id)
	}
	for _, id := range citations {
		record(id)
	}
	for _, m := range citationRe.FindAllStringSubmatch(text, -1) {
		record(m[1])
	}
	sort.Strings(unknown)
	return unknown
}

func buildPrompt(question string, rows []types.ResultRow, chunks []types.RetrievedChunk) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", question)

	if len(rows) == 0 {
		b.WriteString("Query results: none\n")
	} else {
		b.WriteString("Query results:\n")
		b.WriteString(strings.Join(rows[0].Columns, " | "))
		b.WriteByte('\n')
		for _, row := range rows {
			cells := make([]string, len(row.Values))
			for i, v := range row.Values {
				cells[i] = fmt.Sprintf("%v", v)
			}
			b.WriteString(strings.Join(cells, " | "))
			b.WriteByte('\n')
		}
	}

	if len(chunks) == 0 {
		b.WriteString("\nDocument excerpts: none\n")
	} else {
		b.WriteString("\nDocument excerpts:\n")
		for _, c := range chunks {
			fmt.Fprintf(&b, "[%s] %s\n", c.ChunkID, c.Text)
		}
	}
	return b.String()
}

func validateSummary(obj map[string]any) error {
	if s, ok := obj["summary"].(string); !ok || strings.TrimSpace(s) == "" {
		return fmt.Errorf("missing key: summary (non-empty string)")
	}
	if _, ok := obj["citations"].([]any); !ok {
		return fmt.Errorf("missing key: citations (array of chunk ids)")
	}
	return nil
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
