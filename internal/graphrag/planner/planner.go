package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/paladugusuresh/graphrag/internal/graphrag/mapper"
	"github.com/paladugusuresh/graphrag/internal/graphrag/schema"
	"github.com/paladugusuresh/graphrag/internal/graphrag/structured"
	"github.com/paladugusuresh/graphrag/internal/graphrag/types"
	"github.com/paladugusuresh/graphrag/internal/platform/apierr"
	"github.com/paladugusuresh/graphrag/internal/platform/logger"
	"github.com/paladugusuresh/graphrag/internal/platform/openai"
)

// extractionAttempts bounds the LLM entity-extraction retries before the
// planner degrades to a zero-confidence general plan.
const extractionAttempts = 2

const extractionSystemPrompt = `You extract entities from questions about students, their goals, accommodations, evaluation reports and case managers. Respond with JSON only.`

var extractionSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []string{"names", "date_ranges", "topics"},
	"properties": map[string]any{
		"names": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"date_ranges": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []string{"from", "to"},
				"properties": map[string]any{
					"from": map[string]any{"type": "string"},
					"to":   map[string]any{"type": "string"},
				},
			},
		},
		"topics": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	},
}

// intentRules is scanned in order; the first rule whose keywords all appear
// in the lowercased question wins. Student-scoped intents additionally need
// a proper name in the question.
var intentRules = []struct {
	intent    string
	keywords  []string
	needsName bool
}{
	{types.IntentCaseManager, []string{"case manager"}, true},
	{types.IntentEvalReports, []string{"eval"}, true},
	{types.IntentEvalReports, []string{"report"}, true},
	{types.IntentAccommodations, []string{"accommodation"}, true},
	{types.IntentConcernAreas, []string{"concern"}, true},
	{types.IntentGoals, []string{"goal"}, true},
}

type semanticMapper interface {
	Map(ctx context.Context, term, kind string, allow types.AllowList) ([]mapper.Match, error)
}

type Planner struct {
	llm       openai.Client
	mapper    semanticMapper
	threshold float64
	limit     int
	log       *logger.Logger
}

func New(llm openai.Client, m semanticMapper, policy types.Policy, log *logger.Logger) *Planner {
	return &Planner{
		llm:       llm,
		mapper:    m,
		threshold: policy.MapperThreshold,
		limit:     policy.DefaultLimit,
		log:       log.With("component", "Planner"),
	}
}

type extraction struct {
	Names      []string
	DateRanges []dateRange
	Topics     []string
}

type dateRange struct {
	From string
	To   string
}

// Plan derives intent and canonical parameters from a free-form question.
// It never returns a pipeline-fatal error: extraction failures degrade to a
// general plan with confidence 0.
func (p *Planner) Plan(ctx context.Context, question string, allow types.AllowList) (*types.QueryPlan, error) {
	intent := detectIntent(question)

	ext, err := p.extract(ctx, question)
	if err != nil {
		// A rate-limit denial is a caller-visible outcome, not a degradation.
		var apiErr *apierr.Error
		if errors.As(err, &apiErr) && apiErr.Code == types.ReasonLLMRateLimited {
			return nil, err
		}
		p.log.Warn("entity extraction failed, degrading to general plan", "error", err)
		return &types.QueryPlan{
			Intent:     types.IntentGeneralRAG,
			Params:     map[string]any{"limit": p.limit},
			Confidence: 0,
			Question:   question,
		}, nil
	}

	plan := &types.QueryPlan{
		Intent:   intent,
		Params:   map[string]any{"limit": p.limit},
		Question: question,
	}

	if len(ext.Names) > 0 {
		name := NormalizeName(ext.Names[0])
		plan.AnchorEntity = name
		plan.Params["student_name"] = name
	}
	if len(ext.DateRanges) > 0 {
		plan.Params["from"] = ext.DateRanges[0].From
		plan.Params["to"] = ext.DateRanges[0].To
	}

	for _, topic := range ext.Topics {
		matches, mErr := p.mapper.Map(ctx, topic, schema.KindLabel, allow)
		if mErr != nil {
			continue
		}
		for _, m := range matches {
			if m.Score < p.threshold {
				continue
			}
			plan.EntityMappings = append(plan.EntityMappings, types.EntityMapping{
				UserTerm:    topic,
				SchemaLabel: m.SchemaID,
				Score:       m.Score,
			})
			break
		}
	}

	// Student-scoped intents make no sense without an anchor.
	if plan.Intent != types.IntentGeneralRAG && plan.AnchorEntity == "" {
		plan.Intent = types.IntentGeneralRAG
	}

	switch {
	case plan.Intent == types.IntentGeneralRAG:
		plan.Confidence = 0.4
	case len(plan.EntityMappings) > 0:
		plan.Confidence = 0.95
	default:
		plan.Confidence = 0.9
	}
	return plan, nil
}

func (p *Planner) extract(ctx context.Context, question string) (*extraction, error) {
	user := fmt.Sprintf("Extract person names, date ranges and topic phrases from this question:\n\n%s", question)

	obj, err := structured.CallN(ctx, p.llm, p.log, extractionSystemPrompt, user,
		"entity_extraction", extractionSchema, nil, validateExtraction, extractionAttempts)
	if err != nil {
		return nil, err
	}

	ext := &extraction{
		Names:  stringSlice(obj["names"]),
		Topics: stringSlice(obj["topics"]),
	}
	if ranges, ok := obj["date_ranges"].([]any); ok {
		for _, r := range ranges {
			m, ok := r.(map[string]any)
			if !ok {
				continue
			}
			from, _ := m["from"].(string)
			to, _ := m["to"].(string)
			if from == "" && to == "" {
				continue
			}
			ext.DateRanges = append(ext.DateRanges, dateRange{From: from, To: to})
		}
	}
	return ext, nil
}

func validateExtraction(obj map[string]any) error {
	for _, key := range []string{"names", "date_ranges", "topics"} {
		if _, ok := obj[key].([]any); !ok {
			return fmt.Errorf("missing array key: %s", key)
		}
	}
	return nil
}

func detectIntent(question string) string {
	low := strings.ToLower(question)
	for _, rule := range intentRules {
		hit := true
		for _, kw := range rule.keywords {
			if !strings.Contains(low, kw) {
				hit = false
				break
			}
		}
		if !hit {
			continue
		}
		if rule.needsName && !hasProperName(question) {
			continue
		}
		return rule.intent
	}
	return types.IntentGeneralRAG
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
