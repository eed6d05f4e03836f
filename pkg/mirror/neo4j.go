package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/hansard-kg/engine/pkg/common"
	"github.com/hansard-kg/engine/pkg/logger"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Config addresses a Neo4j compatible server (Neo4j or Memgraph).
type Config struct {
	URI      string
	User     string
	Password string
	Database string
	Timeout  time.Duration
	MaxPool  int
}

// Neo4jSink writes the mirror over Bolt.
type Neo4jSink struct {
	driver   neo4j.DriverWithContext
	database string
}

var _ Sink = (*Neo4jSink)(nil)

// NewNeo4jSink connects and verifies connectivity.
func NewNeo4jSink(ctx context.Context, cfg Config) (*Neo4jSink, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mirror: neo4j uri is empty")
	}
	if cfg.User == "" {
		cfg.User = "neo4j"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxPool <= 0 {
		cfg.MaxPool = 50
	}

	auth := neo4j.BasicAuth(cfg.User, cfg.Password, "")
	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth, func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = cfg.MaxPool
		c.SocketConnectTimeout = cfg.Timeout
	})
	if err != nil {
		return nil, fmt.Errorf("mirror: init driver: %w", err)
	}

	vctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("mirror: verify connectivity: %w", err)
	}
	return &Neo4jSink{driver: driver, database: cfg.Database}, nil
}

func (s *Neo4jSink) Close(ctx context.Context) error {
	if s == nil || s.driver == nil {
		return nil
	}
	return s.driver.Close(ctx)
}

func (s *Neo4jSink) session(ctx context.Context) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
}

// EnsureSchema creates the node id constraint. Failures are logged since
// restricted users and some servers reject schema statements.
func (s *Neo4jSink) EnsureSchema(ctx context.Context) {
	session := s.session(ctx)
	defer session.Close(ctx)

	res, err := session.Run(ctx, `CREATE CONSTRAINT kg_node_id_unique IF NOT EXISTS FOR (n:KGNode) REQUIRE n.id IS UNIQUE`, nil)
	if err != nil {
		logger.Warn("[Mirror] Schema init failed, continuing", "err", err)
		return
	}
	_, _ = res.Consume(ctx)
}

func (s *Neo4jSink) MergeNodes(ctx context.Context, nodes []common.Node) error {
	if len(nodes) == 0 {
		return nil
	}
	rows := make([]map[string]any, 0, len(nodes))
	for _, n := range nodes {
		rows = append(rows, nodeProperties(n))
	}

	session := s.session(ctx)
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
UNWIND $nodes AS n
MERGE (k:KGNode {id: n.id})
SET k += n
`, map[string]any{"nodes": rows})
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	return err
}

// MergeEdges merges edges that all share relType. Relationship types cannot
// be parameters, so relType must come from SanitizeRelationshipType.
func (s *Neo4jSink) MergeEdges(ctx context.Context, relType string, edges []common.Edge) error {
	if len(edges) == 0 {
		return nil
	}
	if !validRelType(relType) {
		return fmt.Errorf("mirror: invalid relationship type %q", relType)
	}
	rows := make([]map[string]any, 0, len(edges))
	for _, e := range edges {
		rows = append(rows, edgeProperties(e))
	}

	cypher := fmt.Sprintf(`
UNWIND $edges AS e
MATCH (a:KGNode {id: e.source_id})
MATCH (b:KGNode {id: e.target_id})
MERGE (a)-[r:%s {edge_id: e.edge_id}]->(b)
SET r += e.props
`, relType)

	session := s.session(ctx)
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, map[string]any{"edges": rows})
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	return err
}

func nodeProperties(n common.Node) map[string]any {
	aliases := n.Aliases
	if aliases == nil {
		aliases = []string{}
	}
	return map[string]any{
		"id":      n.ID,
		"label":   n.Label,
		"type":    string(n.Type),
		"aliases": aliases,
	}
}

func edgeProperties(e common.Edge) map[string]any {
	return map[string]any{
		"edge_id":   e.ID,
		"source_id": e.SourceID,
		"target_id": e.TargetID,
		"props": map[string]any{
			"edge_id":                e.ID,
			"youtube_video_id":       e.VideoID,
			"earliest_timestamp_str": e.EarliestTimestamp,
			"earliest_seconds":       int64(e.EarliestSeconds),
			"utterance_ids":          nonNil(e.UtteranceIDs),
			"evidence":               e.Evidence,
			"speaker_ids":            nonNil(e.SpeakerIDs),
			"confidence":             e.Confidence,
			"extractor_model":        e.ExtractorModel,
			"kg_run_id":              e.RunID,
			"predicate_raw":          e.PredicateRaw,
		},
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
