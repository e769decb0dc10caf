package schema

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"sync/atomic"
	"time"

	"github.com/paladugusuresh/graphrag/internal/graphrag/types"
	"github.com/paladugusuresh/graphrag/internal/platform/apierr"
	"github.com/paladugusuresh/graphrag/internal/platform/logger"
	"github.com/paladugusuresh/graphrag/internal/platform/neo4jdb"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Graph is the slice of the store client the catalog needs.
type Graph interface {
	Read(ctx context.Context, cypher string, params map[string]any, timeout time.Duration) ([]neo4jdb.Row, error)
	Write(ctx context.Context, cypher string, params map[string]any, timeout time.Duration) ([]neo4jdb.Row, error)
}

// Mode gates the only write path in the process, the schema embedding sync.
// Both conditions must hold for writes to run.
type Mode struct {
	AppMode     string // "read_only" | "admin"
	AllowWrites bool
}

func (m Mode) WritesAllowed() bool {
	return m.AppMode == "admin" && m.AllowWrites
}

// Snapshot is an immutable point-in-time view of the allow-list. Requests
// hold one snapshot pointer for their whole lifetime.
type Snapshot struct {
	AllowList   types.AllowList
	Fingerprint string
	BuiltAt     time.Time
}

type Catalog struct {
	graph   Graph
	log     *logger.Logger
	timeout time.Duration

	snap atomic.Pointer[Snapshot]
}

func NewCatalog(graph Graph, log *logger.Logger) *Catalog {
	return &Catalog{
		graph:   graph,
		log:     log.With("component", "SchemaCatalog"),
		timeout: 30 * time.Second,
	}
}

// Current returns the published snapshot, or nil before the first refresh.
func (c *Catalog) Current() *Snapshot {
	return c.snap.Load()
}

// Refresh introspects the store, rebuilds the allow-list and publishes it
// atomically. Introspection only reads, so every mode can refresh; the
// embedding sync is the write side and stays behind the mode gate. Returns
// changed=false when the fingerprint is unchanged, in which case the
// previous snapshot stays published untouched.
func (c *Catalog) Refresh(ctx context.Context) (*Snapshot, bool, error) {
	allowList, err := c.introspect(ctx)
	if err != nil {
		return nil, false, apierr.FromReason(types.ReasonSchemaUnavailable, fmt.Errorf("schema introspection: %w", err))
	}

	fp, err := Fingerprint(allowList)
	if err != nil {
		return nil, false, fmt.Errorf("schema fingerprint: %w", err)
	}

	if prev := c.snap.Load(); prev != nil && prev.Fingerprint == fp {
		c.log.Info("schema unchanged, keeping snapshot", "fingerprint", fp)
		return prev, false, nil
	}

	next := &Snapshot{
		AllowList:   allowList,
		Fingerprint: fp,
		BuiltAt:     time.Now().UTC(),
	}
	c.snap.Store(next)
	c.log.Info("schema snapshot published",
		"fingerprint", fp,
		"labels", len(allowList.Labels),
		"relationships", len(allowList.Relationships),
	)
	return next, true, nil
}

func (c *Catalog) introspect(ctx context.Context) (types.AllowList, error) {
	out := types.AllowList{Properties: map[string][]string{}}

	labels, err := c.readColumn(ctx, "CALL db.labels() YIELD label RETURN label", "label")
	if err != nil {
		return out, err
	}
	rels, err := c.readColumn(ctx, "CALL db.relationshipTypes() YIELD relationshipType RETURN relationshipType", "relationshipType")
	if err != nil {
		return out, err
	}

	for _, l := range labels {
		if !identRe.MatchString(l) {
			c.log.Warn("skipping non-identifier label", "label", l)
			continue
		}
		out.Labels = append(out.Labels, l)
	}
	for _, r := range rels {
		if !identRe.MatchString(r) {
			c.log.Warn("skipping non-identifier relationship type", "rel", r)
			continue
		}
		out.Relationships = append(out.Relationships, r)
	}
	sort.Strings(out.Labels)
	sort.Strings(out.Relationships)

	for _, label := range out.Labels {
		// label came from introspection and matched identRe; safe to splice.
		q := "MATCH (n:`" + label + "`) WITH n LIMIT 200 UNWIND keys(n) AS k RETURN DISTINCT k"
		props, err := c.readColumn(ctx, q, "k")
		if err != nil {
			return out, err
		}
		kept := props[:0]
		for _, p := range props {
			if identRe.MatchString(p) {
				kept = append(kept, p)
			}
		}
		sort.Strings(kept)
		out.Properties[label] = kept
	}

	return out, nil
}

func (c *Catalog) readColumn(ctx context.Context, cypher, column string) ([]string, error) {
	rows, err := c.graph.Read(ctx, cypher, nil, c.timeout)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		for i, col := range row.Columns {
			if col != column || i >= len(row.Values) {
				continue
			}
			if s, ok := row.Values[i].(string); ok {
				out = append(out, s)
			}
		}
	}
	return out, nil
}

// Fingerprint hashes the canonical JSON form of the allow-list: sorted
// labels, sorted relationships, sorted property lists keyed by sorted labels.
func Fingerprint(a types.AllowList) (string, error) {
	canon := struct {
		Labels        []string            `json:"labels"`
		Relationships []string            `json:"relationships"`
		Properties    map[string][]string `json:"properties"`
	}{
		Labels:        sortedCopy(a.Labels),
		Relationships: sortedCopy(a.Relationships),
		Properties:    map[string][]string{},
	}
	for k, v := range a.Properties {
		canon.Properties[k] = sortedCopy(v)
	}
	// encoding/json writes map keys in sorted order, which keeps the hash
	// stable across runs.
	raw, err := json.Marshal(canon)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

func sortedCopy(xs []string) []string {
	out := make([]string, len(xs))
	copy(out, xs)
	sort.Strings(out)
	return out
}
