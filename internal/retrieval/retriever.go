package retrieval

import (
	"context"
	"log/slog"

	"github.com/miradorstack/mirador-triage/internal/embedding"
	"github.com/miradorstack/mirador-triage/internal/extractors"
	"github.com/miradorstack/mirador-triage/internal/graph"
	"github.com/miradorstack/mirador-triage/internal/models"
)

// Searcher is the similarity lookup the retriever needs from the index.
type Searcher interface {
	Nearest(query []float32, k int) ([]models.Neighbor, error)
}

// Options tunes retrieval.
type Options struct {
	// ExampleK is how many historical cases accompany each line.
	ExampleK int
	// GraphDepth bounds subgraph traversal per entity.
	GraphDepth int
}

// Retriever assembles the context for a line: its vector, the nearest historical cases and
// the subgraph around the entities it mentions.
type Retriever struct {
	embedder embedding.Embedder
	index    Searcher
	graph    graph.Store
	opts     Options
	logger   *slog.Logger
}

// Enrichment is everything retrieved for one line. Vector is kept so writeback can reuse it
// instead of embedding the line twice.
type Enrichment struct {
	Vector   []float32
	Examples []models.Example
	Graph    models.GraphContext
}

// New constructs a retriever. A nil graph store behaves as graph.Noop.
func New(embedder embedding.Embedder, index Searcher, store graph.Store, opts Options, logger *slog.Logger) *Retriever {
	if store == nil {
		store = graph.Noop{}
	}
	if opts.ExampleK <= 0 {
		opts.ExampleK = 3
	}
	if opts.GraphDepth <= 0 {
		opts.GraphDepth = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{embedder: embedder, index: index, graph: store, opts: opts, logger: logger}
}

// Examples returns up to ExampleK historical cases nearest to vector, closest first.
func (r *Retriever) Examples(vector []float32) ([]models.Example, error) {
	neighbors, err := r.index.Nearest(vector, r.opts.ExampleK)
	if err != nil {
		return nil, err
	}
	examples := make([]models.Example, 0, len(neighbors))
	for _, n := range neighbors {
		examples = append(examples, models.Example{Line: n.Case.Line, Verdict: n.Case.Verdict, Distance: n.Distance})
	}
	return examples, nil
}

// RetrieveForLine merges the subgraphs around every entity in line. It never fails: graph
// errors are logged and contribute nothing.
func (r *Retriever) RetrieveForLine(ctx context.Context, line string) models.GraphContext {
	out := models.EmptyGraph()
	if !r.graph.Available() {
		return out
	}
	for _, id := range extractors.EntityIDs(line) {
		sub, err := r.graph.Subgraph(ctx, id, r.opts.GraphDepth)
		if err != nil {
			r.logger.Warn("graph lookup failed", slog.String("stage", "enrich"), slog.String("entity", id), slog.Any("error", err))
			continue
		}
		out.Merge(sub)
	}
	return out
}

// Enrich embeds line and gathers examples and graph context. Embedding and index failures are
// returned; graph failures are absorbed by RetrieveForLine.
func (r *Retriever) Enrich(ctx context.Context, line string) (Enrichment, error) {
	vector, err := r.embedder.Embed(ctx, line)
	if err != nil {
		return Enrichment{}, err
	}
	examples, err := r.Examples(vector)
	if err != nil {
		return Enrichment{}, err
	}
	return Enrichment{
		Vector:   vector,
		Examples: examples,
		Graph:    r.RetrieveForLine(ctx, line),
	}, nil
}

// Payload builds the verdict request for line from the enrichment.
func (e Enrichment) Payload(line string) models.PromptPayload {
	examples := e.Examples
	if examples == nil {
		examples = []models.Example{}
	}
	return models.PromptPayload{Line: line, Examples: examples, Graph: e.Graph}
}

// Reusable returns the nearest example's verdict when it is close enough to stand in for a new
// analysis: attack cases within attackThreshold, benign cases within normalThreshold. Both are
// squared L2 distances; a negative threshold disables that class.
func (e Enrichment) Reusable(attackThreshold, normalThreshold float32) (models.Verdict, bool) {
	if len(e.Examples) == 0 {
		return models.Verdict{}, false
	}
	nearest := e.Examples[0]
	limit := normalThreshold
	if nearest.Verdict.IsAttack {
		limit = attackThreshold
	}
	if limit < 0 || nearest.Distance > limit {
		return models.Verdict{}, false
	}
	return nearest.Verdict, true
}
