package types

import (
	"time"

	"github.com/paladugusuresh/graphrag/internal/platform/envutil"
)

// Reason codes form a closed set; every terminal pipeline outcome carries
// exactly one of them.
const (
	ReasonGuardrailBlocked     = "GUARDRAIL_BLOCKED"
	ReasonPlanFailed           = "PLAN_FAILED"
	ReasonLLMStructuredFailure = "LLM_STRUCTURED_FAILURE"
	ReasonLLMRateLimited       = "LLM_RATE_LIMITED"
	ReasonTemplateParamMissing = "TEMPLATE_PARAM_MISSING"
	ReasonWriteBanned          = "VALIDATION_WRITE_BANNED"
	ReasonUnknownLabel         = "VALIDATION_UNKNOWN_LABEL"
	ReasonUnknownRel           = "VALIDATION_UNKNOWN_REL"
	ReasonUnparameterised      = "VALIDATION_UNPARAMETERISED"
	ReasonDepthExceeded        = "VALIDATION_DEPTH_EXCEEDED"
	ReasonLimitMissing         = "VALIDATION_LIMIT_MISSING"
	ReasonParamUnbound         = "VALIDATION_PARAM_UNBOUND"
	ReasonQueryTimeout         = "QUERY_TIMEOUT"
	ReasonWriteBlocked         = "WRITE_BLOCKED"
	ReasonUpstreamUnavailable  = "UPSTREAM_UNAVAILABLE"
	ReasonCitationUnverified   = "CITATION_UNVERIFIED"
	ReasonSchemaUnavailable    = "SCHEMA_UNAVAILABLE"
)

// Policy bundles the runtime limits shared by the validator, executor,
// retriever and rate limiter.
type Policy struct {
	Timeout               time.Duration
	RequestBudget         time.Duration
	MaxCypherResults      int
	MaxTraversalDepth     int
	LLMRateLimitPerMinute int
	MapperThreshold       float64
	RetrieverTopK         int
	DefaultLimit          int
	InjectDefaultLimit    bool
}

func DefaultPolicy() Policy {
	return Policy{
		Timeout:               10 * time.Second,
		RequestBudget:         30 * time.Second,
		MaxCypherResults:      25,
		MaxTraversalDepth:     2,
		LLMRateLimitPerMinute: 60,
		MapperThreshold:       0.7,
		RetrieverTopK:         5,
		DefaultLimit:          20,
		InjectDefaultLimit:    true,
	}
}

func PolicyFromEnv() Policy {
	p := DefaultPolicy()
	p.Timeout = envutil.Duration("QUERY_TIMEOUT_SECONDS", p.Timeout)
	p.RequestBudget = envutil.Duration("REQUEST_BUDGET_SECONDS", p.RequestBudget)
	p.MaxCypherResults = envutil.Int("MAX_CYPHER_RESULTS", p.MaxCypherResults)
	p.MaxTraversalDepth = envutil.Int("MAX_TRAVERSAL_DEPTH", p.MaxTraversalDepth)
	p.LLMRateLimitPerMinute = envutil.Int("LLM_RATE_LIMIT_PER_MINUTE", p.LLMRateLimitPerMinute)
	p.MapperThreshold = envutil.Float("MAPPER_SIMILARITY_THRESHOLD", p.MapperThreshold)
	p.RetrieverTopK = envutil.Int("RETRIEVER_TOP_K", p.RetrieverTopK)
	p.DefaultLimit = envutil.Int("DEFAULT_RESULT_LIMIT", p.DefaultLimit)
	p.InjectDefaultLimit = envutil.Bool("INJECT_DEFAULT_LIMIT", p.InjectDefaultLimit)
	return p
}

// AllowList is the authoritative set of schema identifiers. Slices are kept
// sorted so the fingerprint is stable.
type AllowList struct {
	Labels        []string            `json:"node_labels"`
	Relationships []string            `json:"relationship_types"`
	Properties    map[string][]string `json:"properties"`
}

func (a *AllowList) HasLabel(label string) bool {
	return containsString(a.Labels, label)
}

func (a *AllowList) HasRelationship(rel string) bool {
	return containsString(a.Relationships, rel)
}

func (a *AllowList) HasProperty(prop string) bool {
	if a == nil {
		return false
	}
	for _, props := range a.Properties {
		if containsString(props, prop) {
			return true
		}
	}
	return false
}

func containsString(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

type EntityMapping struct {
	UserTerm    string  `json:"user_term"`
	SchemaLabel string  `json:"schema_label"`
	Score       float64 `json:"score"`
}

type QueryPlan struct {
	Intent         string          `json:"intent"`
	AnchorEntity   string          `json:"anchor_entity,omitempty"`
	Params         map[string]any  `json:"params"`
	Confidence     float64         `json:"confidence"`
	Question       string          `json:"question"`
	EntityMappings []EntityMapping `json:"entity_mappings,omitempty"`
}

const (
	SourceTemplate = "template"
	SourceLLM      = "llm"
)

// Known intents. Everything except IntentGeneralRAG has a pre-written
// template; IntentGeneralRAG goes through the LLM generation path.
const (
	IntentGoals          = "goals_for_student"
	IntentAccommodations = "accommodations_for_student"
	IntentCaseManager    = "case_manager_for_student"
	IntentEvalReports    = "eval_reports_for_student_in_range"
	IntentConcernAreas   = "concern_areas_for_student"
	IntentGeneralRAG     = "general_rag_query"
)

type CypherCandidate struct {
	Text   string         `json:"cypher"`
	Params map[string]any `json:"params"`
	Source string         `json:"source"`
}

type ResultRow struct {
	Columns []string `json:"columns"`
	Values  []any    `json:"values"`
	NodeIDs []string `json:"node_ids,omitempty"`
}

type RetrievedChunk struct {
	ChunkID     string  `json:"chunk_id"`
	Text        string  `json:"text"`
	SourceDocID string  `json:"source_doc_id"`
	Similarity  float64 `json:"similarity"`
}

// GraphContext is one edge of the 1-hop neighborhood collected around result
// anchors. Labels and ids only; property values never leave the store here.
type GraphContext struct {
	Source string   `json:"source"`
	Rel    string   `json:"rel"`
	Target string   `json:"target"`
	Labels []string `json:"labels,omitempty"`
}

type Verification struct {
	Status           string   `json:"status"` // "passed" | "failed"
	UnknownCitations []string `json:"unknown_citations,omitempty"`
}

type AuditEvent struct {
	TraceID        string    `json:"trace_id"`
	Timestamp      time.Time `json:"ts"`
	Stage          string    `json:"stage"`
	Outcome        string    `json:"outcome"` // "passed" | "blocked" | "error"
	ReasonCode     string    `json:"reason_code,omitempty"`
	PayloadPreview string    `json:"payload_preview,omitempty"`
}
