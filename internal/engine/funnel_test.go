package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-triage/internal/cache"
	"github.com/miradorstack/mirador-triage/internal/config"
	"github.com/miradorstack/mirador-triage/internal/embedding"
	"github.com/miradorstack/mirador-triage/internal/graph"
	"github.com/miradorstack/mirador-triage/internal/index"
	"github.com/miradorstack/mirador-triage/internal/models"
	"github.com/miradorstack/mirador-triage/internal/retrieval"
	"github.com/miradorstack/mirador-triage/internal/rules"
	"github.com/miradorstack/mirador-triage/internal/utils"
	"github.com/miradorstack/mirador-triage/internal/verdict"
)

const (
	benignLine = "user login ok"
	attackLine = "error: /etc/passwd access by user=root from 10.0.0.5"
)

type fakeVerdicts struct {
	mu    sync.Mutex
	calls int
	// drop removes that many verdicts from every answer.
	drop int
	// failCalls lists 1-based calls that fail with a service error.
	failCalls map[int]bool
}

func (f *fakeVerdicts) Analyse(ctx context.Context, payloads []models.PromptPayload) ([]models.Verdict, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if f.failCalls[call] {
		return nil, utils.ServiceFailure("fake.analyse", "boom", nil)
	}
	out, _ := verdict.HeuristicService{}.Analyse(ctx, payloads)
	if f.drop > 0 {
		out = out[:max(0, len(out)-f.drop)]
	}
	return out, nil
}

func (f *fakeVerdicts) Name() string { return "fake" }

type rejectingRules struct {
	reject string
}

func (r rejectingRules) Confirms(_ context.Context, line string) bool {
	return !strings.Contains(line, r.reject)
}

func (rejectingRules) Enabled() bool { return true }
func (rejectingRules) Name() string  { return "rejecting" }

type failingEnricher struct {
	inner Enricher
	fail  string
	err   error
}

func (f failingEnricher) Enrich(ctx context.Context, line string) (retrieval.Enrichment, error) {
	if strings.Contains(line, f.fail) {
		return retrieval.Enrichment{}, f.err
	}
	return f.inner.Enrich(ctx, line)
}

type unsavableIndex struct {
	*index.Store
}

func (unsavableIndex) Save() error {
	return utils.PersistenceFailure("index.save", "disk full", errors.New("ENOSPC"))
}

type recordingGraph struct {
	graph.Noop
	entities  int
	relations int
}

func (g *recordingGraph) MergeEntities(_ context.Context, entities []models.Entity) error {
	g.entities += len(entities)
	return nil
}

func (g *recordingGraph) MergeRelations(_ context.Context, relations []models.Relation) error {
	g.relations += len(relations)
	return nil
}

type fixture struct {
	funnel   *Funnel
	index    *index.Store
	verdicts *fakeVerdicts
	cache    *cache.Tiered
	graph    *recordingGraph
}

func newFixture(t *testing.T, opts Options, mutate func(*Deps)) fixture {
	t.Helper()
	store, err := index.New(index.Options{Backend: "flat"})
	require.NoError(t, err)
	g := &recordingGraph{}
	retriever := retrieval.New(embedding.NewHashingEmbedder(64), store, g, retrieval.Options{}, nil)
	fx := fixture{
		index:    store,
		verdicts: &fakeVerdicts{},
		cache:    cache.NewTiered(cache.NewRecencyCache(16), nil, 0, nil),
		graph:    g,
	}
	deps := Deps{
		Enricher: retriever,
		Verdicts: fx.verdicts,
		Index:    store,
		Graph:    g,
		Cache:    fx.cache,
	}
	if mutate != nil {
		mutate(&deps)
	}
	fx.funnel, err = NewFunnel(deps, opts)
	require.NoError(t, err)
	return fx
}

func ids(candidates []models.LogCandidate) map[string]bool {
	out := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		out[c.ID] = true
	}
	return out
}

func TestKeywordFilterKeepsSensitivePathLine(t *testing.T) {
	fx := newFixture(t, Options{SamplePercent: 100}, nil)

	results, err := fx.funnel.Process(context.Background(), []string{benignLine, attackLine})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, attackLine, results[0].Candidate.Line)
	assert.Equal(t, SourceBatch, results[0].Candidate.Source)
	assert.Greater(t, results[0].Score, 0.0)
	assert.True(t, results[0].Verdict.IsAttack)
	assert.Equal(t, verdict.AttackSensitiveFile, results[0].Verdict.AttackType)

	assert.Equal(t, 1, fx.index.Len())
	assert.Equal(t, attackLine, fx.index.Cases()[0].Line)
	assert.Equal(t, 2, fx.graph.entities)
	assert.Equal(t, 1, fx.graph.relations)
}

func TestUnconfiguredRulesPassEverything(t *testing.T) {
	fx := newFixture(t, Options{}, nil)
	in := fx.funnel.NewCandidates([]string{"error a", "fail b", "error c"}, "test")
	out := fx.funnel.ruleFilter(context.Background(), in)
	assert.Equal(t, in, out)
}

func TestDefaultConfigBypassesRuleStage(t *testing.T) {
	t.Setenv("MIRADOR_TRIAGE_CONFIG", "")
	t.Setenv("MIRADOR_TRIAGE_SIGNATURES_PATH", "")
	t.Setenv("WAZUH_API_URL", "")
	t.Setenv("LMS_HOME", t.TempDir())

	cfg, err := config.Load("")
	require.NoError(t, err)
	ruleEngine, err := rules.Resolve(rules.Settings{
		WazuhURL:      cfg.Rules.WazuhURL,
		WazuhUser:     cfg.Rules.WazuhUser,
		WazuhPassword: cfg.Rules.WazuhPassword,
		SignaturePath: cfg.Rules.SignaturePath,
	}, nil)
	require.NoError(t, err)
	assert.False(t, ruleEngine.Enabled())

	fx := newFixture(t, Options{Keywords: cfg.Funnel.Keywords, SamplePercent: 100}, func(d *Deps) {
		d.Rules = ruleEngine
	})
	results, err := fx.funnel.Process(context.Background(), []string{
		benignLine,
		attackLine,
		"error: disk write failed",
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	lines := []string{results[0].Candidate.Line, results[1].Candidate.Line}
	assert.Contains(t, lines, attackLine)
	assert.Contains(t, lines, "error: disk write failed")
}

func TestShortVerdictBatchIsContractViolation(t *testing.T) {
	fx := newFixture(t, Options{SamplePercent: 100}, nil)
	fx.verdicts.drop = 1

	results, err := fx.funnel.Process(context.Background(), []string{attackLine, "fail: nmap scan from 10.0.0.7"})
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrContractViolation)
	assert.Nil(t, results)
	assert.Zero(t, fx.index.Len())
	assert.Zero(t, fx.cache.Len())
	assert.Zero(t, fx.graph.entities)
}

func TestStagesNarrowMonotonically(t *testing.T) {
	fx := newFixture(t, Options{SamplePercent: 50}, func(d *Deps) {
		d.Rules = rejectingRules{reject: "drop-me"}
	})
	f := fx.funnel
	in := f.NewCandidates([]string{
		"ERROR: union select from 10.0.0.1",
		"all good",
		"Failed password for user=admin",
		"error drop-me",
		"fail: nmap scan",
		"info: nothing",
	}, "test")

	keyword := f.keywordFilter(in)
	assert.Len(t, keyword, 4)
	inIDs := ids(in)
	for _, c := range keyword {
		assert.True(t, inIDs[c.ID])
	}

	confirmed := f.ruleFilter(context.Background(), keyword)
	assert.Len(t, confirmed, 3)
	keywordIDs := ids(keyword)
	for _, c := range confirmed {
		assert.True(t, keywordIDs[c.ID])
		assert.NotContains(t, c.Line, "drop-me")
	}

	sampled := f.sample(confirmed)
	require.Len(t, sampled, 1)
	assert.True(t, ids(confirmed)[sampled[0].Candidate.ID])
	assert.Contains(t, sampled[0].Candidate.Line, "union select")
}

func TestEmptyAfterKeywordFilter(t *testing.T) {
	fx := newFixture(t, Options{}, nil)
	results, err := fx.funnel.Process(context.Background(), []string{"all good", "still fine"})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, fx.verdicts.calls)
}

func TestSamplingKeepsAtLeastOne(t *testing.T) {
	fx := newFixture(t, Options{SamplePercent: 1}, nil)
	results, err := fx.funnel.Process(context.Background(), []string{"error one", "error two", "error three"})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestRecencyCacheAnswersRepeats(t *testing.T) {
	fx := newFixture(t, Options{SamplePercent: 100}, nil)
	ctx := context.Background()

	_, err := fx.funnel.Process(ctx, []string{attackLine})
	require.NoError(t, err)
	require.Equal(t, 1, fx.verdicts.calls)

	results, err := fx.funnel.Process(ctx, []string{attackLine, "fail: nmap from 10.0.0.8"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.False(t, results[0].Cached)
	assert.Equal(t, "fail: nmap from 10.0.0.8", results[0].Candidate.Line)
	assert.True(t, results[1].Cached)
	assert.Equal(t, attackLine, results[1].Candidate.Line)
	assert.Equal(t, 2, fx.verdicts.calls)
	assert.Equal(t, 2, fx.index.Len())
}

func TestPersistenceFailureStillReturnsResults(t *testing.T) {
	var store *index.Store
	fx := newFixture(t, Options{SamplePercent: 100}, func(d *Deps) {
		store = d.Index.(*index.Store)
		d.Index = unsavableIndex{store}
	})

	results, err := fx.funnel.Process(context.Background(), []string{attackLine})
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, 1, store.Len())
}

func TestEnrichmentFailureDropsCandidate(t *testing.T) {
	fx := newFixture(t, Options{SamplePercent: 100}, func(d *Deps) {
		d.Enricher = failingEnricher{inner: d.Enricher, fail: "flaky", err: utils.Unavailable("embed", "down", nil)}
	})

	results, err := fx.funnel.Process(context.Background(), []string{"error flaky", attackLine})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, attackLine, results[0].Candidate.Line)
}

func TestEnrichmentContractViolationAborts(t *testing.T) {
	fx := newFixture(t, Options{SamplePercent: 100}, func(d *Deps) {
		d.Enricher = failingEnricher{inner: d.Enricher, fail: "drift", err: utils.ContractViolation("embed", "dimension drift")}
	})

	_, err := fx.funnel.Process(context.Background(), []string{"error drift", attackLine})
	assert.ErrorIs(t, err, utils.ErrContractViolation)
	assert.Zero(t, fx.index.Len())
}

func TestVerdictServiceErrorDropsOnlyItsChunk(t *testing.T) {
	fx := newFixture(t, Options{SamplePercent: 100, BatchSize: 1}, nil)
	fx.verdicts.failCalls = map[int]bool{1: true}

	results, err := fx.funnel.Process(context.Background(), []string{attackLine, "fail: nmap from 10.0.0.8"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 2, fx.verdicts.calls)
	assert.Equal(t, 1, fx.index.Len())
}

func TestChunksFollowBatchSize(t *testing.T) {
	fx := newFixture(t, Options{SamplePercent: 100, BatchSize: 2}, nil)
	lines := []string{"error 1", "error 2", "error 3", "error 4", "error 5"}

	results, err := fx.funnel.Process(context.Background(), lines)
	require.NoError(t, err)
	assert.Len(t, results, 5)
	assert.Equal(t, 3, fx.verdicts.calls)
	for i, r := range results {
		assert.Equal(t, lines[i], r.Candidate.Line, "equal scores keep input order")
	}
}

func TestReuseSkipsVerdictCall(t *testing.T) {
	fx := newFixture(t, Options{SamplePercent: 100, Reuse: true, ReuseAttackThreshold: 0.3, ReuseNormalThreshold: 0.2}, nil)
	hasher := embedding.NewHashingEmbedder(64)
	vec, err := hasher.Embed(context.Background(), attackLine)
	require.NoError(t, err)
	known := models.Verdict{IsAttack: true, AttackType: "Known"}
	require.NoError(t, fx.index.Add([][]float32{vec}, []models.CaseRecord{{Line: attackLine, Verdict: known}}))

	results, err := fx.funnel.Process(context.Background(), []string{attackLine})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Reused)
	assert.Equal(t, "Known", results[0].Verdict.AttackType)
	assert.Zero(t, fx.verdicts.calls)
	assert.Equal(t, 2, fx.index.Len())
}

func TestOnWritebackHook(t *testing.T) {
	var seen []models.Result
	fx := newFixture(t, Options{SamplePercent: 100}, func(d *Deps) {
		d.OnWriteback = func(_ context.Context, results []models.Result) { seen = results }
	})
	_, err := fx.funnel.Process(context.Background(), []string{attackLine})
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, attackLine, seen[0].Candidate.Line)
}

func TestNewFunnelRequiresDeps(t *testing.T) {
	_, err := NewFunnel(Deps{}, Options{})
	assert.Error(t, err)
	_, err = NewFunnel(Deps{Enricher: failingEnricher{}, Verdicts: &fakeVerdicts{}}, Options{})
	assert.Error(t, err)

	var _ rules.RuleEngine = rejectingRules{}
}
