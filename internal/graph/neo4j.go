package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/miradorstack/mirador-triage/internal/models"
	"github.com/miradorstack/mirador-triage/internal/utils"
)

// Neo4jStore implements Store on a Neo4j database.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
	cfg    Config
	logger *slog.Logger
}

// NewNeo4jStore connects with exponential backoff and verifies connectivity.
func NewNeo4jStore(ctx context.Context, cfg Config, logger *slog.Logger) (*Neo4jStore, error) {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 5 * time.Second
	}
	if cfg.ConnectTries <= 0 {
		cfg.ConnectTries = 3
	}
	if cfg.PathLimit <= 0 {
		cfg.PathLimit = 100
	}
	if logger == nil {
		logger = slog.Default()
	}

	auth := neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	var lastErr error
	for attempt := 0; attempt < cfg.ConnectTries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, utils.Unavailable("graph.connect", "cancelled", ctx.Err())
			case <-time.After(time.Duration(1<<attempt) * 100 * time.Millisecond):
			}
		}
		driver, err := neo4j.NewDriverWithContext(cfg.URI, auth, func(c *neo4j.Config) {
			c.ConnectionAcquisitionTimeout = cfg.QueryTimeout
		})
		if err != nil {
			lastErr = err
			continue
		}
		verifyCtx, cancel := context.WithTimeout(ctx, cfg.QueryTimeout)
		err = driver.VerifyConnectivity(verifyCtx)
		cancel()
		if err == nil {
			logger.Info("graph service connected", slog.String("uri", cfg.URI))
			return &Neo4jStore{driver: driver, cfg: cfg, logger: logger}, nil
		}
		_ = driver.Close(ctx)
		lastErr = err
	}
	return nil, utils.Unavailable("graph.connect", fmt.Sprintf("failed after %d attempts", cfg.ConnectTries), lastErr)
}

// Subgraph implements Store.
func (s *Neo4jStore) Subgraph(ctx context.Context, entityID string, depth int) (models.GraphContext, error) {
	cypher := fmt.Sprintf(
		"MATCH p=(n {id:$eid})-[*1..%d]-(m) RETURN nodes(p) AS nodes, relationships(p) AS rels LIMIT $limit",
		clampDepth(depth),
	)
	params := map[string]any{"eid": entityID, "limit": s.cfg.PathLimit}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead, DatabaseName: s.cfg.Database})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		return contextFromRecords(records), nil
	})
	if err != nil {
		return models.EmptyGraph(), utils.ServiceFailure("graph.subgraph", entityID, err)
	}
	return result.(models.GraphContext), nil
}

// MergeEntities implements Store.
func (s *Neo4jStore) MergeEntities(ctx context.Context, entities []models.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	return s.write(ctx, "graph.merge_entities", func(tx neo4j.ManagedTransaction) error {
		for _, e := range entities {
			if e.ID == "" {
				continue
			}
			cypher := fmt.Sprintf("MERGE (n:%s {id:$id}) SET n += $props", safeIdentifier(e.Label, "Entity"))
			props := make(map[string]any, len(e.Properties))
			for k, v := range e.Properties {
				props[k] = v
			}
			if _, err := tx.Run(ctx, cypher, map[string]any{"id": e.ID, "props": props}); err != nil {
				return err
			}
		}
		return nil
	})
}

// MergeRelations implements Store. Relations whose endpoints do not exist are skipped by the
// MATCH clause.
func (s *Neo4jStore) MergeRelations(ctx context.Context, relations []models.Relation) error {
	if len(relations) == 0 {
		return nil
	}
	return s.write(ctx, "graph.merge_relations", func(tx neo4j.ManagedTransaction) error {
		for _, r := range relations {
			if r.StartID == "" || r.EndID == "" {
				continue
			}
			cypher := fmt.Sprintf("MATCH (a {id:$start}), (b {id:$end}) MERGE (a)-[:%s]->(b)", safeIdentifier(r.Type, "RELATED"))
			if _, err := tx.Run(ctx, cypher, map[string]any{"start": r.StartID, "end": r.EndID}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Neo4jStore) write(ctx context.Context, op string, fn func(tx neo4j.ManagedTransaction) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite, DatabaseName: s.cfg.Database})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(tx)
	})
	if err != nil {
		return utils.ServiceFailure(op, "write transaction", err)
	}
	return nil
}

// Available reports true.
func (s *Neo4jStore) Available() bool { return true }

// Close releases the driver.
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// contextFromRecords flattens path records into a deduplicated GraphContext. Node ids prefer the
// application "id" property and fall back to the element id.
func contextFromRecords(records []*neo4j.Record) models.GraphContext {
	out := models.EmptyGraph()
	elementToID := make(map[string]string)

	var rels []neo4j.Relationship
	for _, rec := range records {
		if raw, ok := rec.Get("nodes"); ok {
			for _, item := range asSlice(raw) {
				node, ok := item.(neo4j.Node)
				if !ok {
					continue
				}
				id := nodeID(node)
				elementToID[node.ElementId] = id
				out.Merge(models.GraphContext{Nodes: []models.GraphNode{{ID: id, Labels: node.Labels, Properties: node.Props}}})
			}
		}
		if raw, ok := rec.Get("rels"); ok {
			for _, item := range asSlice(raw) {
				if rel, ok := item.(neo4j.Relationship); ok {
					rels = append(rels, rel)
				}
			}
		}
	}

	for _, rel := range rels {
		start, end := elementToID[rel.StartElementId], elementToID[rel.EndElementId]
		if start == "" {
			start = rel.StartElementId
		}
		if end == "" {
			end = rel.EndElementId
		}
		out.Merge(models.GraphContext{Relationships: []models.GraphRelationship{{StartID: start, EndID: end, Type: rel.Type}}})
	}
	return out
}

func nodeID(node neo4j.Node) string {
	if id, ok := node.Props["id"].(string); ok && id != "" {
		return id
	}
	return node.ElementId
}

func asSlice(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	return nil
}
