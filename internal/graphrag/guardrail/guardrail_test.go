package guardrail

import (
	"strings"
	"testing"

	"github.com/paladugusuresh/graphrag/internal/platform/logger"
)

func newChecker(t *testing.T) *Checker {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return NewChecker(log)
}

func TestBenignQuestionsPass(t *testing.T) {
	c := newChecker(t)
	for _, q := range []string{
		"What are the goals for Isabella Thomas?",
		"Who is the case manager for John Doe?",
		"Show evaluation reports for Maria Garcia between January and March.",
	} {
		res := c.Check(q)
		if !res.Allowed {
			t.Fatalf("expected %q to pass, blocked with %s", q, res.Reason)
		}
	}
}

func TestMutationKeywordsBlocked(t *testing.T) {
	c := newChecker(t)
	res := c.Check("DROP DATABASE neo4j;")
	if res.Allowed {
		t.Fatalf("expected mutation question to be blocked")
	}
	if res.Reason != "mutation_keyword" {
		t.Fatalf("unexpected reason %s", res.Reason)
	}
}

func TestPastedCypherBlocked(t *testing.T) {
	c := newChecker(t)
	res := c.Check("MATCH (n) RETURN n")
	if res.Allowed {
		t.Fatalf("two query keywords should read as pasted Cypher")
	}
	if res.Reason != "cypher_injection" {
		t.Fatalf("unexpected reason %s", res.Reason)
	}
}

func TestSingleKeywordAllowed(t *testing.T) {
	c := newChecker(t)
	// "match" alone is ordinary English.
	res := c.Check("Which goals match the reading intervention for Isabella?")
	if !res.Allowed {
		t.Fatalf("one keyword should not block, got %s", res.Reason)
	}
}

func TestShellInjectionBlocked(t *testing.T) {
	c := newChecker(t)
	res := c.Check("goals for Isabella; rm -rf /")
	if res.Allowed {
		t.Fatalf("shell marker should block")
	}
	if res.Reason != "shell_injection" {
		t.Fatalf("unexpected reason %s", res.Reason)
	}
}

func TestLengthBound(t *testing.T) {
	c := newChecker(t)
	res := c.Check("goals " + strings.Repeat("a", MaxQuestionBytes))
	if res.Allowed {
		t.Fatalf("oversized question should block")
	}
	if res.Reason != "question_too_long" {
		t.Fatalf("unexpected reason %s", res.Reason)
	}
}

func TestSanitizeCollapsesWhitespaceAndControlChars(t *testing.T) {
	got := Sanitize("goals\x00 for \t Isabella\n\n  Thomas ")
	if got != "goals for Isabella Thomas" {
		t.Fatalf("unexpected sanitized value %q", got)
	}
}

func TestEmptyQuestionBlocked(t *testing.T) {
	c := newChecker(t)
	res := c.Check("   \x00 ")
	if res.Allowed {
		t.Fatalf("empty question should block")
	}
	if res.Reason != "empty_question" {
		t.Fatalf("unexpected reason %s", res.Reason)
	}
}
