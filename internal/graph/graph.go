package graph

import (
	"context"
	"log/slog"
	"regexp"
	"time"

	"github.com/miradorstack/mirador-triage/internal/models"
)

// MaxDepth bounds subgraph traversal regardless of what callers ask for.
const MaxDepth = 5

// Store is the graph capability: read bounded subgraphs around entities and merge new entities
// and relations from verdicts.
type Store interface {
	// Subgraph returns nodes and relationships reachable from entityID within depth hops.
	Subgraph(ctx context.Context, entityID string, depth int) (models.GraphContext, error)
	MergeEntities(ctx context.Context, entities []models.Entity) error
	MergeRelations(ctx context.Context, relations []models.Relation) error
	// Available reports whether a live graph service backs the store.
	Available() bool
	Close(ctx context.Context) error
}

// Noop is the graph store used when no graph service is configured or reachable.
type Noop struct{}

// Subgraph returns an empty context.
func (Noop) Subgraph(context.Context, string, int) (models.GraphContext, error) {
	return models.EmptyGraph(), nil
}

// MergeEntities discards entities.
func (Noop) MergeEntities(context.Context, []models.Entity) error { return nil }

// MergeRelations discards relations.
func (Noop) MergeRelations(context.Context, []models.Relation) error { return nil }

// Available reports false.
func (Noop) Available() bool { return false }

// Close is a no-op.
func (Noop) Close(context.Context) error { return nil }

// Config configures the Neo4j connection.
type Config struct {
	URI          string
	Username     string
	Password     string
	Database     string
	QueryTimeout time.Duration
	ConnectTries int
	PathLimit    int
}

// Connect resolves the graph capability once: Noop when unconfigured or unreachable, otherwise
// a connected Neo4jStore.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.URI == "" {
		logger.Info("graph service not configured, using empty context")
		return Noop{}
	}
	store, err := NewNeo4jStore(ctx, cfg, logger)
	if err != nil {
		logger.Warn("graph service unreachable, using empty context", slog.String("uri", cfg.URI), slog.Any("error", err))
		return Noop{}
	}
	return store
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// safeIdentifier returns name when it can be interpolated into Cypher as a label or relationship
// type, otherwise fallback.
func safeIdentifier(name, fallback string) string {
	if identifierPattern.MatchString(name) {
		return name
	}
	return fallback
}

func clampDepth(depth int) int {
	if depth < 1 {
		return 1
	}
	if depth > MaxDepth {
		return MaxDepth
	}
	return depth
}
