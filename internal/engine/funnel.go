package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"

	"github.com/miradorstack/mirador-triage/internal/extractors"
	"github.com/miradorstack/mirador-triage/internal/graph"
	"github.com/miradorstack/mirador-triage/internal/metrics"
	"github.com/miradorstack/mirador-triage/internal/models"
	"github.com/miradorstack/mirador-triage/internal/retrieval"
	"github.com/miradorstack/mirador-triage/internal/rules"
	"github.com/miradorstack/mirador-triage/internal/scoring"
	"github.com/miradorstack/mirador-triage/internal/utils"
	"github.com/miradorstack/mirador-triage/internal/verdict"
)

// Stage names used in logs and metrics.
const (
	StageRecency   = "recency"
	StageKeyword   = "keyword"
	StageRules     = "rules"
	StageSample    = "sample"
	StageEnrich    = "enrich"
	StageVerdict   = "verdict"
	StageWriteback = "writeback"
)

// SourceBatch is the provenance of lines submitted through Process.
const SourceBatch = "batch"

// Enricher gathers retrieval context for a line.
type Enricher interface {
	Enrich(ctx context.Context, line string) (retrieval.Enrichment, error)
}

// Index is the write side of the similarity index.
type Index interface {
	Add(vectors [][]float32, cases []models.CaseRecord) error
	Save() error
	Len() int
}

// VerdictCache remembers verdicts of recently analysed lines.
type VerdictCache interface {
	Lookup(ctx context.Context, line string) (models.Verdict, bool)
	Remember(ctx context.Context, line string, verdict models.Verdict)
}

// CaseMirror receives a copy of every written case.
type CaseMirror interface {
	StoreCase(ctx context.Context, record models.CaseRecord, vector []float32) error
}

// Deps are the long-lived resources a Funnel drives. Enricher, Verdicts and Index are required;
// the rest default to no-op behaviour.
type Deps struct {
	Rules    rules.RuleEngine
	Scorer   *scoring.Scorer
	Enricher Enricher
	Verdicts verdict.Service
	Index    Index
	Graph    graph.Store
	Cache    VerdictCache
	Mirror   CaseMirror
	Logger   *slog.Logger
	// OnWriteback runs after a batch has been written back, with the results of that batch.
	OnWriteback func(ctx context.Context, results []models.Result)
}

// Options tunes the funnel.
type Options struct {
	// Keywords a line must contain, case-insensitively, to enter the funnel.
	Keywords []string
	// SamplePercent of scored candidates retained for deep analysis.
	SamplePercent float64
	// BatchSize bounds the payloads sent in one verdict call.
	BatchSize int
	// Concurrency bounds parallel enrichment.
	Concurrency int
	// Reuse lets a close enough historical case stand in for a verdict call.
	Reuse                bool
	ReuseAttackThreshold float32
	ReuseNormalThreshold float32
}

// DefaultOptions mirrors the shipped configuration.
func DefaultOptions() Options {
	return Options{
		Keywords:             []string{"error", "fail"},
		SamplePercent:        20,
		BatchSize:            10,
		Concurrency:          4,
		ReuseAttackThreshold: 0.3,
		ReuseNormalThreshold: 0.2,
	}
}

// Funnel narrows raw lines down to the few worth a verdict call and writes the outcome back
// into the similarity index, graph and recency cache.
type Funnel struct {
	deps      Deps
	opts      Options
	keywords  []string
	extractor *extractors.LogsExtractor
	logger    *slog.Logger

	// writeMu serialises writeback across concurrent batches.
	writeMu sync.Mutex
}

// pending tracks one sampled candidate through enrichment and analysis.
type pending struct {
	scored     models.ScoredCandidate
	enrichment retrieval.Enrichment
	verdict    models.Verdict
	reused     bool
	done       bool
}

// NewFunnel validates deps and constructs a funnel.
func NewFunnel(deps Deps, opts Options) (*Funnel, error) {
	if deps.Enricher == nil {
		return nil, errors.New("funnel: enricher is required")
	}
	if deps.Verdicts == nil {
		return nil, errors.New("funnel: verdict service is required")
	}
	if deps.Index == nil {
		return nil, errors.New("funnel: index is required")
	}
	if deps.Rules == nil {
		deps.Rules = rules.Passthrough{}
	}
	if deps.Scorer == nil {
		deps.Scorer = scoring.NewScorer(nil)
	}
	if deps.Graph == nil {
		deps.Graph = graph.Noop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	defaults := DefaultOptions()
	if len(opts.Keywords) == 0 {
		opts.Keywords = defaults.Keywords
	}
	if opts.SamplePercent <= 0 || opts.SamplePercent > 100 {
		opts.SamplePercent = defaults.SamplePercent
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaults.BatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaults.Concurrency
	}

	caser := cases.Fold()
	keywords := make([]string, 0, len(opts.Keywords))
	for _, k := range opts.Keywords {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, caser.String(k))
		}
	}

	return &Funnel{
		deps:      deps,
		opts:      opts,
		keywords:  keywords,
		extractor: extractors.NewLogsExtractor(),
		logger:    deps.Logger,
	}, nil
}

// NewCandidates wraps raw lines with identity and provenance.
func (f *Funnel) NewCandidates(lines []string, source string) []models.LogCandidate {
	out := make([]models.LogCandidate, 0, len(lines))
	for i, line := range lines {
		out = append(out, models.LogCandidate{
			ID:     uuid.NewString(),
			Seq:    i,
			Line:   line,
			Source: source,
			Fields: f.extractor.Parse(line),
		})
	}
	return out
}

// Process runs lines through the funnel with batch provenance.
func (f *Funnel) Process(ctx context.Context, lines []string) ([]models.Result, error) {
	return f.ProcessCandidates(ctx, f.NewCandidates(lines, SourceBatch))
}

// ProcessCandidates runs the funnel. Results hold one entry per analysed survivor in survivor
// order, followed by recency cache hits. A contract violation aborts the call before anything
// is written back.
func (f *Funnel) ProcessCandidates(ctx context.Context, candidates []models.LogCandidate) ([]models.Result, error) {
	start := time.Now()
	outcome := metrics.OutcomeSuccess
	defer func() {
		metrics.ObserveBatch(time.Since(start), outcome)
	}()

	fresh, cached := f.recall(ctx, candidates)

	kept := f.keywordFilter(fresh)
	if len(kept) == 0 {
		return cached, nil
	}
	kept = f.ruleFilter(ctx, kept)
	sampled := f.sample(kept)
	if len(sampled) == 0 {
		return cached, nil
	}

	items, err := f.enrich(ctx, sampled)
	if err != nil {
		outcome = metrics.OutcomeError
		return nil, err
	}
	if err := f.analyse(ctx, items); err != nil {
		outcome = metrics.OutcomeError
		return nil, err
	}

	results, err := f.writeback(ctx, items)
	if err != nil {
		outcome = metrics.OutcomeError
		return nil, err
	}
	return append(results, cached...), nil
}

// recall splits candidates into those still to analyse and those answered by the recency cache.
func (f *Funnel) recall(ctx context.Context, candidates []models.LogCandidate) ([]models.LogCandidate, []models.Result) {
	if f.deps.Cache == nil {
		return candidates, nil
	}
	fresh := make([]models.LogCandidate, 0, len(candidates))
	var cached []models.Result
	for _, c := range candidates {
		v, ok := f.deps.Cache.Lookup(ctx, c.Line)
		if !ok {
			fresh = append(fresh, c)
			continue
		}
		cached = append(cached, models.Result{Candidate: c, Verdict: v, Cached: true})
		metrics.ObserveVerdict(v.IsAttack, metrics.OriginCached)
	}
	metrics.ObserveStage(StageRecency, len(fresh))
	return fresh, cached
}

// keywordFilter keeps candidates containing any configured keyword, ignoring case.
func (f *Funnel) keywordFilter(candidates []models.LogCandidate) []models.LogCandidate {
	caser := cases.Fold()
	out := make([]models.LogCandidate, 0, len(candidates))
	for _, c := range candidates {
		folded := caser.String(c.Line)
		for _, k := range f.keywords {
			if strings.Contains(folded, k) {
				out = append(out, c)
				break
			}
		}
	}
	metrics.ObserveStage(StageKeyword, len(out))
	return out
}

// ruleFilter keeps candidates the rule engine confirms. An unconfigured engine passes everything.
func (f *Funnel) ruleFilter(ctx context.Context, candidates []models.LogCandidate) []models.LogCandidate {
	if !f.deps.Rules.Enabled() {
		return candidates
	}
	out := make([]models.LogCandidate, 0, len(candidates))
	for _, c := range candidates {
		if f.deps.Rules.Confirms(ctx, c.Line) {
			out = append(out, c)
		}
	}
	metrics.ObserveStage(StageRules, len(out))
	return out
}

// sample scores candidates and retains the top SamplePercent, at least one.
func (f *Funnel) sample(candidates []models.LogCandidate) []models.ScoredCandidate {
	if len(candidates) == 0 {
		return nil
	}
	out := scoring.SelectTop(f.deps.Scorer.ScoreAll(candidates), f.opts.SamplePercent)
	metrics.ObserveStage(StageSample, len(out))
	return out
}

// enrich retrieves context for every sampled candidate in parallel. Candidates whose enrichment
// fails are dropped; a contract violation fails the call.
func (f *Funnel) enrich(ctx context.Context, sampled []models.ScoredCandidate) ([]*pending, error) {
	slots := make([]*pending, len(sampled))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Concurrency)
	for i, s := range sampled {
		g.Go(func() error {
			enrichment, err := f.deps.Enricher.Enrich(gctx, s.Candidate.Line)
			if err != nil {
				if errors.Is(err, utils.ErrContractViolation) {
					return err
				}
				f.stageFailure(StageEnrich, s.Candidate, err)
				return nil
			}
			slots[i] = &pending{scored: s, enrichment: enrichment}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		metrics.ObserveError(StageEnrich, utils.KindOf(err))
		return nil, err
	}

	items := make([]*pending, 0, len(slots))
	for _, p := range slots {
		if p != nil {
			items = append(items, p)
		}
	}
	metrics.ObserveStage(StageEnrich, len(items))
	return items, nil
}

// analyse fills in verdicts, reusing close historical cases when enabled and sending the rest to
// the verdict service in chunks of BatchSize.
func (f *Funnel) analyse(ctx context.Context, items []*pending) error {
	queue := make([]*pending, 0, len(items))
	for _, p := range items {
		if f.opts.Reuse {
			if v, ok := p.enrichment.Reusable(f.opts.ReuseAttackThreshold, f.opts.ReuseNormalThreshold); ok {
				p.verdict, p.reused, p.done = v, true, true
				continue
			}
		}
		queue = append(queue, p)
	}

	for start := 0; start < len(queue); start += f.opts.BatchSize {
		end := min(start+f.opts.BatchSize, len(queue))
		chunk := queue[start:end]

		payloads := make([]models.PromptPayload, 0, len(chunk))
		for _, p := range chunk {
			payloads = append(payloads, p.enrichment.Payload(p.scored.Candidate.Line))
		}

		verdicts, err := f.deps.Verdicts.Analyse(ctx, payloads)
		if err != nil {
			if errors.Is(err, utils.ErrContractViolation) || ctx.Err() != nil {
				metrics.ObserveError(StageVerdict, utils.KindOf(err))
				return err
			}
			for _, p := range chunk {
				f.stageFailure(StageVerdict, p.scored.Candidate, err)
			}
			continue
		}
		if len(verdicts) != len(payloads) {
			metrics.ObserveError(StageVerdict, "contract_violation")
			f.logger.Error("verdict batch misaligned",
				slog.String("stage", StageVerdict),
				slog.String("service", f.deps.Verdicts.Name()),
				slog.Int("requested", len(payloads)),
				slog.Int("returned", len(verdicts)),
				slog.String("first_line_id", chunk[0].scored.Candidate.ID))
			return utils.ContractViolation("funnel.analyse",
				fmt.Sprintf("verdict service returned %d verdicts for %d payloads", len(verdicts), len(payloads)))
		}
		for i, p := range chunk {
			p.verdict, p.done = verdicts[i], true
		}
	}
	return nil
}

// writeback appends completed candidates to the index, merges their entities into the graph,
// persists the index and remembers the verdicts. Only the index append can fail the call.
func (f *Funnel) writeback(ctx context.Context, items []*pending) ([]models.Result, error) {
	completed := make([]*pending, 0, len(items))
	for _, p := range items {
		if p.done {
			completed = append(completed, p)
		}
	}
	metrics.ObserveStage(StageWriteback, len(completed))
	if len(completed) == 0 {
		return []models.Result{}, nil
	}

	now := time.Now().UTC()
	vectors := make([][]float32, 0, len(completed))
	records := make([]models.CaseRecord, 0, len(completed))
	results := make([]models.Result, 0, len(completed))
	for _, p := range completed {
		c := p.scored.Candidate
		vectors = append(vectors, p.enrichment.Vector)
		records = append(records, models.CaseRecord{Line: c.Line, Source: c.Source, Verdict: p.verdict, CreatedAt: now})
		results = append(results, models.Result{Candidate: c, Verdict: p.verdict, Score: p.scored.Score, Reused: p.reused})
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if err := f.deps.Index.Add(vectors, records); err != nil {
		metrics.ObserveError(StageWriteback, utils.KindOf(err))
		f.logger.Error("index append failed", slog.String("stage", StageWriteback), slog.Int("cases", len(records)), slog.Any("error", err))
		return nil, err
	}

	for i, p := range completed {
		if !p.reused {
			f.mergeGraph(ctx, p)
		}
		if f.deps.Mirror != nil {
			if err := f.deps.Mirror.StoreCase(ctx, records[i], vectors[i]); err != nil {
				f.stageFailure(StageWriteback, p.scored.Candidate, err)
			}
		}
	}

	if err := f.deps.Index.Save(); err != nil {
		metrics.ObserveError(StageWriteback, utils.KindOf(err))
		f.logger.Error("index persistence failed, results kept in memory",
			slog.String("stage", StageWriteback), slog.Int("cases", f.deps.Index.Len()), slog.Any("error", err))
	}
	metrics.SetIndexCases(f.deps.Index.Len())

	if f.deps.OnWriteback != nil {
		f.deps.OnWriteback(ctx, results)
	}
	for _, r := range results {
		if f.deps.Cache != nil {
			f.deps.Cache.Remember(ctx, r.Candidate.Line, r.Verdict)
		}
		origin := metrics.OriginAnalysed
		if r.Reused {
			origin = metrics.OriginReused
		}
		metrics.ObserveVerdict(r.Verdict.IsAttack, origin)
	}
	return results, nil
}

func (f *Funnel) mergeGraph(ctx context.Context, p *pending) {
	if len(p.verdict.Entities) > 0 {
		if err := f.deps.Graph.MergeEntities(ctx, p.verdict.Entities); err != nil {
			f.stageFailure(StageWriteback, p.scored.Candidate, err)
		}
	}
	if len(p.verdict.Relations) > 0 {
		if err := f.deps.Graph.MergeRelations(ctx, p.verdict.Relations); err != nil {
			f.stageFailure(StageWriteback, p.scored.Candidate, err)
		}
	}
}

// stageFailure logs a dropped or degraded candidate with enough context to replay it.
func (f *Funnel) stageFailure(stage string, c models.LogCandidate, err error) {
	metrics.ObserveError(stage, utils.KindOf(err))
	f.logger.Warn("candidate stage failed",
		slog.String("stage", stage),
		slog.String("line_id", c.ID),
		slog.String("source", c.Source),
		slog.String("line", c.Line),
		slog.Any("error", err))
}
