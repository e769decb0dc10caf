package neo4jdb

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/paladugusuresh/graphrag/internal/platform/logger"
)

type Client struct {
	Driver   neo4j.DriverWithContext
	Database string
	log      *logger.Logger
}

// Row is one result record with column order preserved.
type Row struct {
	Columns []string
	Values  []any
}

func NewFromEnv(log *logger.Logger) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("neo4jdb: logger required")
	}

	uri := strings.TrimSpace(os.Getenv("NEO4J_URI"))
	if uri == "" {
		return nil, fmt.Errorf("neo4jdb: missing NEO4J_URI")
	}

	user := strings.TrimSpace(os.Getenv("NEO4J_USER"))
	if user == "" {
		user = "neo4j"
	}
	password := strings.TrimSpace(os.Getenv("NEO4J_PASSWORD"))
	database := strings.TrimSpace(os.Getenv("NEO4J_DATABASE"))

	timeoutSec := 10
	if v := strings.TrimSpace(os.Getenv("NEO4J_TIMEOUT_SECONDS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	maxPool := 50
	if v := strings.TrimSpace(os.Getenv("NEO4J_MAX_POOL_SIZE")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			maxPool = parsed
		}
	}

	auth := neo4j.BasicAuth(user, password, "")
	driver, err := neo4j.NewDriverWithContext(uri, auth, func(cfg *neo4j.Config) {
		cfg.MaxConnectionPoolSize = maxPool
		cfg.SocketConnectTimeout = time.Duration(timeoutSec) * time.Second
	})
	if err != nil {
		return nil, fmt.Errorf("neo4jdb: init driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSec)*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4jdb: verify connectivity: %w", err)
	}

	return &Client{
		Driver:   driver,
		Database: database,
		log:      log.With("client", "Neo4jDB"),
	}, nil
}

// Read runs a parameterised query inside a read-only transaction. The timeout
// travels on the transaction config, never in params.
func (c *Client) Read(ctx context.Context, cypher string, params map[string]any, timeout time.Duration) ([]Row, error) {
	return c.run(ctx, neo4j.AccessModeRead, cypher, params, timeout)
}

// Write runs a statement inside a write transaction. Callers are expected to
// hold the admin-mode gate; normal request handling never reaches this.
func (c *Client) Write(ctx context.Context, cypher string, params map[string]any, timeout time.Duration) ([]Row, error) {
	return c.run(ctx, neo4j.AccessModeWrite, cypher, params, timeout)
}

func (c *Client) run(ctx context.Context, mode neo4j.AccessMode, cypher string, params map[string]any, timeout time.Duration) ([]Row, error) {
	if c == nil || c.Driver == nil {
		return nil, fmt.Errorf("neo4jdb: client not initialized")
	}
	session := c.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: c.Database,
	})
	defer func() { _ = session.Close(ctx) }()

	work := func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]Row, 0, len(records))
		for _, rec := range records {
			rows = append(rows, Row{Columns: rec.Keys, Values: normalizeValues(rec.Values)})
		}
		return rows, nil
	}

	var (
		out any
		err error
	)
	cfg := []func(*neo4j.TransactionConfig){}
	if timeout > 0 {
		cfg = append(cfg, neo4j.WithTxTimeout(timeout))
	}
	if mode == neo4j.AccessModeWrite {
		out, err = session.ExecuteWrite(ctx, work, cfg...)
	} else {
		out, err = session.ExecuteRead(ctx, work, cfg...)
	}
	if err != nil {
		return nil, err
	}
	rows, _ := out.([]Row)
	return rows, nil
}

// normalizeValues flattens driver node/relationship values into plain maps so
// callers never depend on driver types.
func normalizeValues(values []any) []any {
	out := make([]any, len(values))
	for i, v := range values {
		switch t := v.(type) {
		case neo4j.Node:
			m := map[string]any{}
			for k, p := range t.Props {
				m[k] = p
			}
			m["element_id"] = t.ElementId
			m["labels"] = t.Labels
			out[i] = m
		case neo4j.Relationship:
			m := map[string]any{}
			for k, p := range t.Props {
				m[k] = p
			}
			m["element_id"] = t.ElementId
			m["type"] = t.Type
			out[i] = m
		default:
			out[i] = v
		}
	}
	return out
}

func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.Driver == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	err := c.Driver.Close(ctx)
	c.Driver = nil
	return err
}
