package executor

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/paladugusuresh/graphrag/internal/graphrag/types"
	"github.com/paladugusuresh/graphrag/internal/observability"
	"github.com/paladugusuresh/graphrag/internal/platform/apierr"
	"github.com/paladugusuresh/graphrag/internal/platform/logger"
	"github.com/paladugusuresh/graphrag/internal/platform/neo4jdb"
)

var writeRe = regexp.MustCompile(`(?i)\b(CREATE|MERGE|DELETE|SET|REMOVE|DROP|DETACH)\b`)

// idColumns are the result columns treated as anchor node ids for the
// augmentation stage.
var idColumns = map[string]bool{"primary_id": true, "id": true, "element_id": true}

type Graph interface {
	Read(ctx context.Context, cypher string, params map[string]any, timeout time.Duration) ([]neo4jdb.Row, error)
}

type Executor struct {
	graph  Graph
	policy types.Policy
	log    *logger.Logger
}

// Result carries the materialised rows plus whether the cap cut them short.
type Result struct {
	Rows      []types.ResultRow
	Truncated bool
}

func New(graph Graph, policy types.Policy, log *logger.Logger) *Executor {
	return &Executor{graph: graph, policy: policy, log: log.With("component", "Executor")}
}

// Execute runs an accepted candidate in a read-only transaction. The query
// timeout travels on the transaction config, never in the Cypher parameter
// map.
func (e *Executor) Execute(ctx context.Context, cand *types.CypherCandidate) (*Result, error) {
	if m := writeRe.FindString(cand.Text); m != "" {
		return nil, apierr.FromReason(types.ReasonWriteBlocked,
			fmt.Errorf("refusing to execute query containing %q", m))
	}

	params := make(map[string]any, len(cand.Params))
	for k, v := range cand.Params {
		// A parameter named "timeout" is an execution option that leaked into
		// the parameter map; drop it rather than hand it to the store.
		if k == "timeout" {
			e.log.Warn("dropping reserved parameter from query params", "param", k)
			continue
		}
		params[k] = v
	}

	start := time.Now()
	rows, err := e.graph.Read(ctx, cand.Text, params, e.policy.Timeout)
	status := "ok"
	if err != nil {
		status = "error"
	}
	observability.Current().ObserveDBQuery(status)
	e.log.Debug("query executed", "source", cand.Source, "duration_ms", time.Since(start).Milliseconds(), "status", status)
	if err != nil {
		return nil, e.mapError(err)
	}

	res := &Result{}
	for _, row := range rows {
		if len(res.Rows) >= e.policy.MaxCypherResults {
			res.Truncated = true
			break
		}
		res.Rows = append(res.Rows, types.ResultRow{
			Columns: row.Columns,
			Values:  row.Values,
			NodeIDs: anchorIDs(row),
		})
	}
	return res, nil
}

func (e *Executor) mapError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || isTimeoutMessage(err):
		observability.Current().IncExecutorTimeout()
		return apierr.FromReason(types.ReasonQueryTimeout, err)
	case errors.Is(err, context.Canceled):
		return apierr.FromReason(types.ReasonQueryTimeout, err)
	case isWriteRefusal(err):
		return apierr.FromReason(types.ReasonWriteBlocked, err)
	default:
		return apierr.FromReason(types.ReasonUpstreamUnavailable, err)
	}
}

func isTimeoutMessage(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "deadline exceeded")
}

// isWriteRefusal spots the server-side rejection a write raises inside a
// read transaction.
func isWriteRefusal(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "read access mode") || strings.Contains(msg, "writes are not allowed")
}

func anchorIDs(row neo4jdb.Row) []string {
	var ids []string
	for i, col := range row.Columns {
		if !idColumns[col] || i >= len(row.Values) {
			continue
		}
		switch v := row.Values[i].(type) {
		case string:
			if v != "" {
				ids = append(ids, v)
			}
		case int64:
			ids = append(ids, fmt.Sprintf("%d", v))
		}
	}
	return ids
}
