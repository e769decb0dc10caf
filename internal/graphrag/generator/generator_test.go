package generator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/paladugusuresh/graphrag/internal/graphrag/types"
	"github.com/paladugusuresh/graphrag/internal/platform/apierr"
	"github.com/paladugusuresh/graphrag/internal/platform/logger"
	"github.com/paladugusuresh/graphrag/internal/platform/openai"
)

func newGenerator(t *testing.T, llm openai.Client) *Generator {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return New(llm, log)
}

func goalsPlan() *types.QueryPlan {
	return &types.QueryPlan{
		Intent:       types.IntentGoals,
		AnchorEntity: "Isabella Thomas",
		Params:       map[string]any{"student_name": "Isabella Thomas", "limit": 20},
		Confidence:   0.9,
		Question:     "What are the goals for Isabella Thomas?",
	}
}

func TestTemplateFastPathMapsLegacyParam(t *testing.T) {
	g := newGenerator(t, openai.NewStub())

	cand, err := g.Generate(context.Background(), goalsPlan(), types.AllowList{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if cand.Source != types.SourceTemplate {
		t.Fatalf("known intent must take the template path, got %s", cand.Source)
	}
	if cand.Params["student"] != "Isabella Thomas" {
		t.Fatalf("student_name must populate the template's $student: %v", cand.Params)
	}
	if cand.Params["limit"] != 20 {
		t.Fatalf("limit not carried: %v", cand.Params)
	}
	if !strings.Contains(cand.Text, "HAS_GOAL") || !strings.Contains(cand.Text, "LIMIT $limit") {
		t.Fatalf("unexpected template text:\n%s", cand.Text)
	}
}

func TestTemplateMissingParamIsHardError(t *testing.T) {
	g := newGenerator(t, openai.NewStub())
	plan := goalsPlan()
	delete(plan.Params, "student_name")

	_, err := g.Generate(context.Background(), plan, types.AllowList{})
	if err == nil {
		t.Fatalf("expected error for missing template parameter")
	}
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Code != types.ReasonTemplateParamMissing {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestLLMPathNormalisesAliases(t *testing.T) {
	llm := &openai.Stub{Responses: map[string]map[string]any{
		"cypher_candidate": {
			"query":      "MATCH (s:Student {name: $student_name}) RETURN s.name AS name LIMIT $limit",
			"parameters": map[string]any{"student_name": "Isabella Thomas", "limit": 20},
		},
	}}
	g := newGenerator(t, llm)
	plan := &types.QueryPlan{
		Intent:   types.IntentGeneralRAG,
		Params:   map[string]any{"limit": 20},
		Question: "Tell me about Isabella Thomas",
	}

	cand, err := g.Generate(context.Background(), plan, types.AllowList{Labels: []string{"Student"}})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if cand.Source != types.SourceLLM {
		t.Fatalf("unknown intent must take the LLM path, got %s", cand.Source)
	}
	if !strings.Contains(cand.Text, "MATCH (s:Student") {
		t.Fatalf("query alias not normalised: %q", cand.Text)
	}
	if cand.Params["student_name"] != "Isabella Thomas" {
		t.Fatalf("parameters alias not normalised: %v", cand.Params)
	}
}

func TestLLMPathStructuredFailure(t *testing.T) {
	// The stub returns an empty object, which never validates.
	g := newGenerator(t, openai.NewStub())
	plan := &types.QueryPlan{
		Intent:   types.IntentGeneralRAG,
		Params:   map[string]any{"limit": 20},
		Question: "Tell me everything",
	}

	_, err := g.Generate(context.Background(), plan, types.AllowList{})
	if err == nil {
		t.Fatalf("expected structured failure")
	}
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Code != types.ReasonLLMStructuredFailure {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestRequiredParams(t *testing.T) {
	got := RequiredParams(templates[types.IntentEvalReports])
	want := []string{"from", "limit", "student", "to"}
	if len(got) != len(want) {
		t.Fatalf("RequiredParams = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("RequiredParams = %v, want %v", got, want)
		}
	}
}

func TestAllTemplatesDeclareLimit(t *testing.T) {
	for intent, text := range templates {
		if !strings.Contains(text, "LIMIT $limit") {
			t.Fatalf("template %s is missing LIMIT $limit", intent)
		}
	}
}
