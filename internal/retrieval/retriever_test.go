package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-triage/internal/embedding"
	"github.com/miradorstack/mirador-triage/internal/index"
	"github.com/miradorstack/mirador-triage/internal/models"
)

type fakeGraph struct {
	subgraphs map[string]models.GraphContext
	failFor   string
	asked     []string
	depths    []int
}

func (f *fakeGraph) Subgraph(_ context.Context, id string, depth int) (models.GraphContext, error) {
	f.asked = append(f.asked, id)
	f.depths = append(f.depths, depth)
	if id == f.failFor {
		return models.EmptyGraph(), errors.New("neo4j timeout")
	}
	return f.subgraphs[id], nil
}
func (f *fakeGraph) MergeEntities(context.Context, []models.Entity) error    { return nil }
func (f *fakeGraph) MergeRelations(context.Context, []models.Relation) error { return nil }
func (f *fakeGraph) Available() bool                                         { return true }
func (f *fakeGraph) Close(context.Context) error                             { return nil }

func seededIndex(t *testing.T, emb embedding.Embedder, lines ...string) *index.Store {
	t.Helper()
	store, err := index.New(index.Options{})
	require.NoError(t, err)
	for i, line := range lines {
		v, err := emb.Embed(context.Background(), line)
		require.NoError(t, err)
		require.NoError(t, store.Add([][]float32{v}, []models.CaseRecord{{
			Line:    line,
			Verdict: models.Verdict{IsAttack: i == 0, AttackType: "case"},
		}}))
	}
	return store
}

func TestEnrichGathersExamplesAndGraph(t *testing.T) {
	emb := embedding.NewHashingEmbedder(64)
	store := seededIndex(t, emb,
		"GET /etc/passwd from 10.0.0.1 error",
		"user=alice login failed",
		"disk error on sda",
		"backup failed",
	)
	g := &fakeGraph{subgraphs: map[string]models.GraphContext{
		"ip_10.0.0.1": {Nodes: []models.GraphNode{{ID: "ip_10.0.0.1"}, {ID: "user_bob"}}, Relationships: []models.GraphRelationship{{StartID: "ip_10.0.0.1", EndID: "user_bob", Type: "RELATED"}}},
		"user_bob":    {Nodes: []models.GraphNode{{ID: "user_bob"}}},
	}}
	r := New(emb, store, g, Options{ExampleK: 3, GraphDepth: 2}, nil)

	line := "GET /etc/passwd from 10.0.0.1 error user=bob"
	enr, err := r.Enrich(context.Background(), line)
	require.NoError(t, err)

	assert.Len(t, enr.Vector, 64)
	require.Len(t, enr.Examples, 3)
	assert.Equal(t, "GET /etc/passwd from 10.0.0.1 error", enr.Examples[0].Line)
	for i := 1; i < len(enr.Examples); i++ {
		assert.LessOrEqual(t, enr.Examples[i-1].Distance, enr.Examples[i].Distance)
	}
	assert.Equal(t, []string{"ip_10.0.0.1", "user_bob"}, g.asked)
	assert.Equal(t, []int{2, 2}, g.depths)
	assert.Len(t, enr.Graph.Nodes, 2)
	assert.Len(t, enr.Graph.Relationships, 1)

	payload := enr.Payload(line)
	assert.Equal(t, line, payload.Line)
	assert.Len(t, payload.Examples, 3)
}

func TestEnrichWithEmptyIndexAndNoGraph(t *testing.T) {
	emb := embedding.NewHashingEmbedder(16)
	store, err := index.New(index.Options{})
	require.NoError(t, err)

	r := New(emb, store, nil, Options{}, nil)
	enr, err := r.Enrich(context.Background(), "error from 1.2.3.4")
	require.NoError(t, err)
	assert.Empty(t, enr.Examples)
	assert.True(t, enr.Graph.IsEmpty())
	assert.NotNil(t, enr.Payload("x").Examples)
}

func TestRetrieveForLineAbsorbsGraphErrors(t *testing.T) {
	g := &fakeGraph{failFor: "ip_1.1.1.1", subgraphs: map[string]models.GraphContext{
		"ip_2.2.2.2": {Nodes: []models.GraphNode{{ID: "ip_2.2.2.2"}}},
	}}
	r := New(embedding.NewHashingEmbedder(8), nil, g, Options{}, nil)

	out := r.RetrieveForLine(context.Background(), "1.1.1.1 -> 2.2.2.2")
	assert.Len(t, out.Nodes, 1)
	assert.Equal(t, []int{1, 1}, g.depths, "default depth is 1")
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("model offline")
}
func (failingEmbedder) Dim() int     { return 0 }
func (failingEmbedder) Name() string { return "failing" }

func TestEnrichPropagatesEmbeddingFailure(t *testing.T) {
	r := New(failingEmbedder{}, nil, nil, Options{}, nil)
	_, err := r.Enrich(context.Background(), "line")
	assert.Error(t, err)
}

func TestReusable(t *testing.T) {
	attack := models.Verdict{IsAttack: true, AttackType: "SQL Injection"}
	benign := models.Verdict{AttackType: "Unknown"}

	v, ok := Enrichment{Examples: []models.Example{{Verdict: attack, Distance: 0.25}}}.Reusable(0.3, 0.2)
	assert.True(t, ok)
	assert.Equal(t, attack, v)

	_, ok = Enrichment{Examples: []models.Example{{Verdict: benign, Distance: 0.25}}}.Reusable(0.3, 0.2)
	assert.False(t, ok, "benign cases use the tighter normal threshold")

	_, ok = Enrichment{Examples: []models.Example{{Verdict: benign, Distance: 0.1}}}.Reusable(0.3, 0.2)
	assert.True(t, ok)

	_, ok = Enrichment{Examples: []models.Example{{Verdict: attack, Distance: 0}}}.Reusable(-1, 0.2)
	assert.False(t, ok)

	_, ok = Enrichment{}.Reusable(1, 1)
	assert.False(t, ok)
}
