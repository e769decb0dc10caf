package validator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/paladugusuresh/graphrag/internal/graphrag/types"
	"github.com/paladugusuresh/graphrag/internal/platform/apierr"
	"github.com/paladugusuresh/graphrag/internal/platform/logger"
)

var (
	mutationRe = regexp.MustCompile(`(?i)\b(CREATE|MERGE|DELETE|SET|REMOVE|DROP|DETACH)\b`)
	labelRe    = regexp.MustCompile(`\(\s*([a-zA-Z_][a-zA-Z0-9_]*)?\s*:\s*` + "`?" + `([A-Za-z_][A-Za-z0-9_]*)` + "`?")
	relRe      = regexp.MustCompile(`\[\s*([a-zA-Z_][a-zA-Z0-9_]*)?\s*:\s*` + "`?" + `([A-Za-z_][A-Za-z0-9_]*)` + "`?")
	bracketRe  = regexp.MustCompile(`\[[^\]]*\]`)
	depthRe    = regexp.MustCompile(`\*\s*(\d*)\s*(?:(\.\.)\s*(\d*))?`)
	limitRe    = regexp.MustCompile(`(?i)\bLIMIT\s+(\$[A-Za-z_][A-Za-z0-9_]*|\d+)`)
	paramRe    = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
	propRe     = regexp.MustCompile(`\.\s*([A-Za-z_][A-Za-z0-9_]*)`)
)

type Validator struct {
	policy types.Policy
	log    *logger.Logger
}

func New(policy types.Policy, log *logger.Logger) *Validator {
	return &Validator{policy: policy, log: log.With("component", "QueryValidator")}
}

// Validate runs the ordered checks against a candidate and returns the
// (possibly amended) candidate on acceptance. The input is not mutated.
func (v *Validator) Validate(cand *types.CypherCandidate, allow types.AllowList) (*types.CypherCandidate, error) {
	text := cand.Text
	masked, hadLiteral := maskLiterals(text)

	// 1. Write-ban, keywords in quoted text do not count.
	if m := mutationRe.FindString(masked); m != "" {
		return nil, apierr.FromReason(types.ReasonWriteBanned,
			fmt.Errorf("mutation keyword %q in query text", m))
	}

	// 2. Parameterisation. Any surviving string literal means a value was
	// inlined instead of bound.
	if hadLiteral {
		return nil, apierr.FromReason(types.ReasonUnparameterised,
			fmt.Errorf("query inlines a string literal; bind it as a $parameter"))
	}

	// 3. Allow-list for labels and relationship types. Unknown property
	// accesses only warn.
	for _, m := range labelRe.FindAllStringSubmatch(masked, -1) {
		if label := m[2]; !allow.HasLabel(label) {
			return nil, apierr.FromReason(types.ReasonUnknownLabel,
				fmt.Errorf("label %q is not in the schema allow-list", label))
		}
	}
	for _, m := range relRe.FindAllStringSubmatch(masked, -1) {
		if rel := m[2]; !allow.HasRelationship(rel) {
			return nil, apierr.FromReason(types.ReasonUnknownRel,
				fmt.Errorf("relationship type %q is not in the schema allow-list", rel))
		}
	}
	v.warnUnknownProperties(masked, allow)

	// 4. Traversal depth, scanned inside relationship brackets only.
	if err := v.checkDepth(masked); err != nil {
		return nil, err
	}

	// 5. Result cap.
	out := &types.CypherCandidate{Text: text, Params: cloneParams(cand.Params), Source: cand.Source}
	if err := v.checkLimit(masked, out); err != nil {
		return nil, err
	}

	// 6. Parameter coverage, after the possible $limit injection.
	for _, m := range paramRe.FindAllStringSubmatch(out.Text, -1) {
		if _, ok := out.Params[m[1]]; !ok {
			return nil, apierr.FromReason(types.ReasonParamUnbound,
				fmt.Errorf("parameter $%s has no binding", m[1]))
		}
	}
	return out, nil
}

func (v *Validator) checkDepth(masked string) error {
	for _, bracket := range bracketRe.FindAllString(masked, -1) {
		if !strings.Contains(bracket, "*") {
			continue
		}
		m := depthRe.FindStringSubmatch(bracket)
		if m == nil {
			continue
		}
		upper := m[3]
		if m[2] == "" {
			// No `..`: `*n` alone means exactly n hops, bare `*` is unbounded.
			upper = m[1]
		}
		// A `..` with no upper bound (`*`, `*..`, `*n..`) is unbounded.
		if upper == "" {
			return apierr.FromReason(types.ReasonDepthExceeded,
				fmt.Errorf("unbounded variable-length pattern %q", strings.TrimSpace(bracket)))
		}
		n, err := strconv.Atoi(upper)
		if err != nil || n > v.policy.MaxTraversalDepth {
			return apierr.FromReason(types.ReasonDepthExceeded,
				fmt.Errorf("traversal depth %s exceeds the limit of %d", upper, v.policy.MaxTraversalDepth))
		}
	}
	return nil
}

func (v *Validator) checkLimit(masked string, out *types.CypherCandidate) error {
	m := limitRe.FindStringSubmatch(masked)
	if m == nil {
		if !v.policy.InjectDefaultLimit {
			return apierr.FromReason(types.ReasonLimitMissing,
				fmt.Errorf("query has no LIMIT clause"))
		}
		out.Text = out.Text + "\nLIMIT $limit"
		out.Params["limit"] = v.policy.MaxCypherResults
		return nil
	}
	if strings.HasPrefix(m[1], "$") {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n > v.policy.MaxCypherResults {
		return apierr.FromReason(types.ReasonLimitMissing,
			fmt.Errorf("LIMIT %s exceeds the result cap of %d", m[1], v.policy.MaxCypherResults))
	}
	return nil
}

func (v *Validator) warnUnknownProperties(masked string, allow types.AllowList) {
	if len(allow.Properties) == 0 {
		return
	}
	seen := map[string]bool{}
	for _, m := range propRe.FindAllStringSubmatch(masked, -1) {
		prop := m[1]
		if seen[prop] || allow.HasProperty(prop) {
			continue
		}
		seen[prop] = true
		v.log.Warn("query reads a property outside the schema catalog", "property", prop)
	}
}

func cloneParams(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
