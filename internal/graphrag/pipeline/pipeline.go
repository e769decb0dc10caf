package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/paladugusuresh/graphrag/internal/graphrag/audit"
	"github.com/paladugusuresh/graphrag/internal/graphrag/executor"
	"github.com/paladugusuresh/graphrag/internal/graphrag/generator"
	"github.com/paladugusuresh/graphrag/internal/graphrag/guardrail"
	"github.com/paladugusuresh/graphrag/internal/graphrag/planner"
	"github.com/paladugusuresh/graphrag/internal/graphrag/retriever"
	"github.com/paladugusuresh/graphrag/internal/graphrag/schema"
	"github.com/paladugusuresh/graphrag/internal/graphrag/summarizer"
	"github.com/paladugusuresh/graphrag/internal/graphrag/types"
	"github.com/paladugusuresh/graphrag/internal/graphrag/validator"
	"github.com/paladugusuresh/graphrag/internal/observability"
	"github.com/paladugusuresh/graphrag/internal/platform/apierr"
	"github.com/paladugusuresh/graphrag/internal/platform/ctxutil"
	"github.com/paladugusuresh/graphrag/internal/platform/logger"
)

// cypherPreviewLimit bounds the query text carried on spans and audit rows.
const cypherPreviewLimit = 120

// Snapshots provides the point-in-time allow-list a request pins for its
// whole lifetime. Satisfied by schema.Catalog.
type Snapshots interface {
	Current() *schema.Snapshot
}

type Request struct {
	Question string `json:"question"`
	Format   string `json:"format"`
}

type Response struct {
	Question     string                 `json:"question"`
	Format       string                 `json:"format"`
	Summary      string                 `json:"summary"`
	Cypher       string                 `json:"cypher"`
	Params       map[string]any         `json:"params"`
	Rows         []types.ResultRow      `json:"rows"`
	Table        *Table                 `json:"table,omitempty"`
	Chunks       []types.RetrievedChunk `json:"chunks"`
	GraphContext []types.GraphContext   `json:"graph_context,omitempty"`
	Citations    []string               `json:"citations"`
	Verification types.Verification     `json:"verification"`
	TraceID      string                 `json:"trace_id"`
	AuditID      string                 `json:"audit_id"`
}

// Pipeline wires the stages of one question into a single sequential run.
type Pipeline struct {
	snapshots  Snapshots
	guard      *guardrail.Checker
	planner    *planner.Planner
	generator  *generator.Generator
	validator  *validator.Validator
	executor   *executor.Executor
	retriever  *retriever.Retriever
	summarizer *summarizer.Summarizer
	sink       *audit.Sink
	policy     types.Policy
	log        *logger.Logger
	tracer     trace.Tracer
}

type Config struct {
	Snapshots  Snapshots
	Guard      *guardrail.Checker
	Planner    *planner.Planner
	Generator  *generator.Generator
	Validator  *validator.Validator
	Executor   *executor.Executor
	Retriever  *retriever.Retriever
	Summarizer *summarizer.Summarizer
	Sink       *audit.Sink
	Policy     types.Policy
	Log        *logger.Logger
}

func New(cfg Config) *Pipeline {
	return &Pipeline{
		snapshots:  cfg.Snapshots,
		guard:      cfg.Guard,
		planner:    cfg.Planner,
		generator:  cfg.Generator,
		validator:  cfg.Validator,
		executor:   cfg.Executor,
		retriever:  cfg.Retriever,
		summarizer: cfg.Summarizer,
		sink:       cfg.Sink,
		policy:     cfg.Policy,
		log:        cfg.Log.With("component", "Pipeline"),
		tracer:     otel.Tracer("graphrag/pipeline"),
	}
}

// Process runs a question through guardrail, planning, generation,
// validation, execution, augmentation and summarisation. Every terminal
// outcome writes exactly one terminal audit event.
func (p *Pipeline) Process(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, p.policy.RequestBudget)
	defer cancel()

	traceID := ctxutil.TraceID(ctx)
	format, ok := NormalizeFormat(req.Format)
	if !ok {
		return nil, p.terminal(ctx, traceID, "request", apierr.New(400, "BAD_REQUEST",
			fmt.Errorf("unknown format %q", req.Format)), req.Question)
	}

	snap := p.snapshots.Current()
	if snap == nil {
		return nil, p.terminal(ctx, traceID, "request",
			apierr.FromReason(types.ReasonSchemaUnavailable, fmt.Errorf("no schema snapshot published")), req.Question)
	}

	// Guardrail.
	var question string
	err := p.stage(ctx, traceID, "guardrail", func(span trace.Span) error {
		check := p.guard.Check(req.Question)
		span.SetAttributes(attribute.Bool("allowed", check.Allowed), attribute.String("reason", check.Reason))
		if !check.Allowed {
			observability.Current().ObserveGuardrailBlock(check.Reason)
			return apierr.FromReason(types.ReasonGuardrailBlocked, fmt.Errorf("question blocked: %s", check.Reason))
		}
		question = check.Sanitized
		return nil
	})
	if err != nil {
		return nil, p.terminal(ctx, traceID, "guardrail", err, req.Question)
	}

	// Plan.
	var plan *types.QueryPlan
	err = p.stage(ctx, traceID, "plan", func(span trace.Span) error {
		var err error
		plan, err = p.planner.Plan(ctx, question, snap.AllowList)
		if err != nil {
			var apiErr *apierr.Error
			if errors.As(err, &apiErr) && apiErr.Code == types.ReasonLLMRateLimited {
				return err
			}
			return apierr.FromReason(types.ReasonPlanFailed, err)
		}
		span.SetAttributes(attribute.String("intent", plan.Intent), attribute.Float64("confidence", plan.Confidence))
		return nil
	})
	if err != nil {
		return nil, p.terminal(ctx, traceID, "plan", err, question)
	}

	// Generate.
	var cand *types.CypherCandidate
	err = p.stage(ctx, traceID, "generate", func(span trace.Span) error {
		var err error
		cand, err = p.generator.Generate(ctx, plan, snap.AllowList)
		if err != nil {
			return err
		}
		span.SetAttributes(attribute.String("source", cand.Source),
			attribute.String("preview_of_cypher", preview(cand.Text)))
		return nil
	})
	if err != nil {
		return nil, p.terminal(ctx, traceID, "generate", err, question)
	}

	// Validate.
	rawText := cand.Text
	err = p.stage(ctx, traceID, "validate", func(span trace.Span) error {
		validated, err := p.validator.Validate(cand, snap.AllowList)
		if err != nil {
			return err
		}
		cand = validated
		return nil
	})
	if err != nil {
		return nil, p.terminal(ctx, traceID, "validate", err, rawText)
	}

	// Execute.
	var res *executor.Result
	err = p.stage(ctx, traceID, "execute", func(span trace.Span) error {
		var err error
		res, err = p.executor.Execute(ctx, cand)
		if err != nil {
			return err
		}
		span.SetAttributes(attribute.Int("row_count", len(res.Rows)), attribute.Bool("truncated", res.Truncated))
		if res.Truncated {
			p.sink.Record(types.AuditEvent{
				TraceID: traceID, Stage: "execute", Outcome: "passed",
				PayloadPreview: "truncated=true",
			})
		}
		return nil
	})
	if err != nil {
		return nil, p.terminal(ctx, traceID, "execute", err, preview(cand.Text))
	}

	// Augment, fail-open.
	var aug *retriever.Augmentation
	p.stage(ctx, traceID, "augment", func(span trace.Span) error {
		aug = p.retriever.Augment(ctx, question, anchorsOf(res.Rows))
		span.SetAttributes(attribute.Int("chunk_count", len(aug.Chunks)))
		return nil
	})

	// Summarise.
	var sum *summarizer.Summary
	err = p.stage(ctx, traceID, "summarise", func(span trace.Span) error {
		var err error
		sum, err = p.summarizer.Summarise(ctx, question, res.Rows, aug.Chunks)
		return err
	})
	if err != nil {
		return nil, p.terminal(ctx, traceID, "summarise", err, question)
	}

	if sum.Verification.Status == "failed" {
		p.sink.Record(types.AuditEvent{
			TraceID: traceID, Stage: "summarise", Outcome: "passed",
			ReasonCode:     types.ReasonCitationUnverified,
			PayloadPreview: fmt.Sprintf("unknown_citations=%v", sum.Verification.UnknownCitations),
		})
	}

	auditID := p.sink.Record(types.AuditEvent{
		TraceID: traceID, Stage: "pipeline", Outcome: "passed",
		PayloadPreview: preview(cand.Text),
	})

	resp := &Response{
		Question:     req.Question,
		Format:       format,
		Summary:      sum.Text,
		Cypher:       cand.Text,
		Params:       cand.Params,
		Rows:         res.Rows,
		Chunks:       aug.Chunks,
		Citations:    sum.Citations,
		Verification: sum.Verification,
		TraceID:      traceID,
		AuditID:      auditID,
	}
	switch format {
	case FormatGraph:
		resp.GraphContext = aug.Context
	case FormatTable:
		resp.Table = tableOf(res.Rows)
	}
	return resp, nil
}

// stage wraps one pipeline step with a span, a latency observation and a
// non-terminal audit row.
func (p *Pipeline) stage(ctx context.Context, traceID, name string, fn func(trace.Span) error) error {
	_, span := p.tracer.Start(ctx, "pipeline."+name)
	span.SetAttributes(attribute.String("stage", name))
	defer span.End()

	start := time.Now()
	err := fn(span)
	observability.Current().ObserveStage(name, time.Since(start))

	if err != nil {
		span.SetAttributes(attribute.String("reason", apierr.AsError(err).Code))
		return err
	}
	p.sink.Record(types.AuditEvent{TraceID: traceID, Stage: name, Outcome: "passed"})
	return nil
}

// terminal writes the single terminal audit event for a failed request and
// returns the error for the transport layer.
func (p *Pipeline) terminal(ctx context.Context, traceID, stage string, err error, payload string) error {
	apiErr := apierr.AsError(err)
	outcome := "error"
	switch {
	case ctx.Err() != nil:
		outcome = "cancelled"
	case apiErr.Code == types.ReasonGuardrailBlocked || apiErr.Status == 400:
		outcome = "blocked"
	}
	p.sink.Record(types.AuditEvent{
		TraceID:        traceID,
		Stage:          stage,
		Outcome:        outcome,
		ReasonCode:     apiErr.Code,
		PayloadPreview: preview(payload),
	})
	p.log.Warn("request terminated", "stage", stage, "reason_code", apiErr.Code)
	return err
}

func preview(s string) string {
	if len(s) > cypherPreviewLimit {
		return s[:cypherPreviewLimit]
	}
	return s
}

func anchorsOf(rows []types.ResultRow) []string {
	var out []string
	for _, row := range rows {
		out = append(out, row.NodeIDs...)
	}
	return out
}
