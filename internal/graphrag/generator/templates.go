package generator

import "github.com/paladugusuresh/graphrag/internal/graphrag/types"

// templates maps intent to a pre-written, parameterised Cypher text. Title
// projections coalesce over the title-like properties seen in the wild so a
// renamed property does not blank the column. `$student` is the historical
// parameter name; canonicalParams maps it from `student_name`.
var templates = map[string]string{
	types.IntentGoals: `MATCH (s:Student {name: $student})-[:HAS_GOAL]->(g:Goal)
RETURN coalesce(g.title, g.name, g.description) AS goal, g.status AS status
ORDER BY goal
LIMIT $limit`,

	types.IntentAccommodations: `MATCH (s:Student {name: $student})-[:HAS_ACCOMMODATION]->(a:Accommodation)
RETURN coalesce(a.title, a.name, a.description) AS accommodation, a.category AS category
ORDER BY accommodation
LIMIT $limit`,

	types.IntentCaseManager: `MATCH (s:Student {name: $student})<-[:MANAGES]-(m:CaseManager)
RETURN m.name AS case_manager, m.email AS email
LIMIT $limit`,

	types.IntentEvalReports: `MATCH (s:Student {name: $student})-[:HAS_EVAL_REPORT]->(r:EvalReport)
WHERE r.date >= $from AND r.date <= $to
RETURN coalesce(r.title, r.name) AS report, r.date AS date
ORDER BY r.date DESC
LIMIT $limit`,

	types.IntentConcernAreas: `MATCH (s:Student {name: $student})-[:HAS_CONCERN]->(c:ConcernArea)
RETURN coalesce(c.title, c.name) AS concern_area, c.severity AS severity
ORDER BY concern_area
LIMIT $limit`,
}

// canonicalParams maps a template's legacy parameter name to the canonical
// plan parameter it is populated from.
var canonicalParams = map[string]string{
	"student": "student_name",
}
