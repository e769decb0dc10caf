package guardrail

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/paladugusuresh/graphrag/internal/platform/logger"
)

// MaxQuestionBytes bounds the sanitised question length.
const MaxQuestionBytes = 4096

// Result is the guardrail verdict. Sanitized carries the cleaned question
// that downstream stages must use instead of the raw input.
type Result struct {
	Allowed   bool
	Reason    string // sub-reason for the audit payload, empty when allowed
	Sanitized string
}

var (
	mutationRe = regexp.MustCompile(`(?i)\b(CREATE|MERGE|DELETE|SET|REMOVE|DROP|DETACH)\b`)

	cypherKeywordRe = regexp.MustCompile(`(?i)\b(MATCH|RETURN|WHERE|WITH|UNWIND|CALL|FOREACH|LOAD)\b`)

	shellRe = regexp.MustCompile("(?i)(;\\s*(rm|curl|wget|bash|sh|nc)\\b|\\$\\(|`[^`]*`|&&\\s*\\w|\\|\\s*sh\\b)")

	sqlRe = regexp.MustCompile(`(?i)(\bUNION\s+SELECT\b|\bOR\s+1\s*=\s*1\b|--\s*$|\bxp_cmdshell\b|\bDROP\s+TABLE\b)`)

	fenceRe = regexp.MustCompile("```|~~~")
)

// Checker is the pure heuristic gate in front of the pipeline. No I/O.
type Checker struct {
	log *logger.Logger
}

func NewChecker(log *logger.Logger) *Checker {
	return &Checker{log: log.With("component", "Guardrail")}
}

// Check sanitises the question and decides allow/block. Panics inside the
// heuristics fail open: the question is allowed and the caller audits a
// guardrail_error.
func (c *Checker) Check(question string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("guardrail internal error, failing open", "panic", r)
			res = Result{Allowed: true, Reason: "guardrail_error", Sanitized: question}
		}
	}()

	sanitized := Sanitize(question)
	res = Result{Sanitized: sanitized}

	if sanitized == "" {
		res.Reason = "empty_question"
		return res
	}
	if len(sanitized) > MaxQuestionBytes {
		res.Reason = "question_too_long"
		return res
	}
	if shellRe.MatchString(sanitized) {
		res.Reason = "shell_injection"
		return res
	}
	if sqlRe.MatchString(sanitized) {
		res.Reason = "sql_injection"
		return res
	}
	if fenceRe.MatchString(sanitized) {
		res.Reason = "code_fence"
		return res
	}
	if mutationRe.MatchString(sanitized) {
		res.Reason = "mutation_keyword"
		return res
	}
	// A natural question may legitimately mention one query word; two or
	// more reads as pasted Cypher.
	if len(cypherKeywordRe.FindAllString(sanitized, -1)) >= 2 {
		res.Reason = "cypher_injection"
		return res
	}
	if specialCharRatio(sanitized) > 0.30 {
		res.Reason = "special_char_flood"
		return res
	}

	res.Allowed = true
	return res
}

// Sanitize strips control characters and collapses runs of whitespace.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func specialCharRatio(s string) float64 {
	if s == "" {
		return 0
	}
	var special, total int
	for _, r := range s {
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			continue
		}
		switch r {
		case '?', '.', ',', '\'', '-':
			continue
		}
		special++
	}
	return float64(special) / float64(total)
}
