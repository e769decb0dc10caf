package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/paladugusuresh/graphrag/internal/graphrag/structured"
	"github.com/paladugusuresh/graphrag/internal/graphrag/types"
	"github.com/paladugusuresh/graphrag/internal/platform/apierr"
	"github.com/paladugusuresh/graphrag/internal/platform/logger"
	"github.com/paladugusuresh/graphrag/internal/platform/openai"
)

var paramRe = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)

// candidateAliases folds the model's habitual key drift back onto the
// contract keys before validation.
var candidateAliases = map[string]string{
	"query":      "cypher",
	"parameters": "params",
}

const generationSystemPrompt = `You translate questions about a school graph into a single read-only Cypher query. Use only the labels, relationship types and properties listed in the schema hint. Never write literal values from the question into the query text; bind every value as a $parameter. Respond with a JSON object holding exactly two keys: "cypher" and "params".`

var candidateSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []string{"cypher", "params"},
	"properties": map[string]any{
		"cypher": map[string]any{"type": "string"},
		"params": map[string]any{"type": "object"},
	},
}

type Generator struct {
	llm openai.Client
	log *logger.Logger
}

func New(llm openai.Client, log *logger.Logger) *Generator {
	return &Generator{llm: llm, log: log.With("component", "QueryGenerator")}
}

// Generate produces a Cypher candidate for the plan. Known intents take the
// template fast-path and never touch the LLM.
func (g *Generator) Generate(ctx context.Context, plan *types.QueryPlan, allow types.AllowList) (*types.CypherCandidate, error) {
	if text, ok := templates[plan.Intent]; ok {
		return fromTemplate(text, plan)
	}
	return g.fromLLM(ctx, plan, allow)
}

// RequiredParams returns the sorted parameter names a Cypher text references.
func RequiredParams(text string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range paramRe.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	sort.Strings(out)
	return out
}

func fromTemplate(text string, plan *types.QueryPlan) (*types.CypherCandidate, error) {
	params := map[string]any{}
	for _, name := range RequiredParams(text) {
		source := name
		if canonical, ok := canonicalParams[name]; ok {
			source = canonical
		}
		v, ok := plan.Params[source]
		if !ok {
			return nil, apierr.FromReason(types.ReasonTemplateParamMissing,
				fmt.Errorf("template for %s requires parameter %q (from %q)", plan.Intent, name, source))
		}
		params[name] = v
	}
	return &types.CypherCandidate{Text: text, Params: params, Source: types.SourceTemplate}, nil
}

func (g *Generator) fromLLM(ctx context.Context, plan *types.QueryPlan, allow types.AllowList) (*types.CypherCandidate, error) {
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("marshal plan: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nPlan: %s\n\n%s", plan.Question, planJSON, schemaHint(allow))

	obj, err := structured.Call(ctx, g.llm, g.log, generationSystemPrompt, b.String(),
		"cypher_candidate", candidateSchema, candidateAliases, validateCandidate)
	if err != nil {
		return nil, err
	}

	text := obj["cypher"].(string)
	params, _ := obj["params"].(map[string]any)
	if params == nil {
		params = map[string]any{}
	}
	return &types.CypherCandidate{Text: text, Params: params, Source: types.SourceLLM}, nil
}

func validateCandidate(obj map[string]any) error {
	text, ok := obj["cypher"].(string)
	if !ok || strings.TrimSpace(text) == "" {
		return fmt.Errorf("missing key: cypher (non-empty string)")
	}
	if _, ok := obj["params"].(map[string]any); !ok {
		return fmt.Errorf("missing key: params (object)")
	}
	return nil
}

// schemaHint renders the allow-list compactly so the prompt stays small even
// for wide schemas.
func schemaHint(allow types.AllowList) string {
	var b strings.Builder
	b.WriteString("Schema:\nLabels: ")
	b.WriteString(strings.Join(allow.Labels, ", "))
	b.WriteString("\nRelationships: ")
	b.WriteString(strings.Join(allow.Relationships, ", "))
	b.WriteString("\nProperties:\n")
	labels := make([]string, 0, len(allow.Properties))
	for label := range allow.Properties {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		fmt.Fprintf(&b, "  %s: %s\n", label, strings.Join(allow.Properties[label], ", "))
	}
	return b.String()
}
