// Package app resolves every capability of the triage engine once and owns their teardown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/miradorstack/mirador-triage/internal/budget"
	"github.com/miradorstack/mirador-triage/internal/cache"
	"github.com/miradorstack/mirador-triage/internal/config"
	"github.com/miradorstack/mirador-triage/internal/embedding"
	"github.com/miradorstack/mirador-triage/internal/engine"
	"github.com/miradorstack/mirador-triage/internal/graph"
	"github.com/miradorstack/mirador-triage/internal/index"
	"github.com/miradorstack/mirador-triage/internal/ingest"
	"github.com/miradorstack/mirador-triage/internal/metrics"
	"github.com/miradorstack/mirador-triage/internal/models"
	"github.com/miradorstack/mirador-triage/internal/patterns"
	"github.com/miradorstack/mirador-triage/internal/repo"
	"github.com/miradorstack/mirador-triage/internal/retrieval"
	"github.com/miradorstack/mirador-triage/internal/rules"
	"github.com/miradorstack/mirador-triage/internal/scoring"
	"github.com/miradorstack/mirador-triage/internal/services"
	"github.com/miradorstack/mirador-triage/internal/verdict"
)

// App holds the wired engine.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Index    *index.Store
	Embedder embedding.Embedder
	Graph    graph.Store
	Rules    rules.RuleEngine
	Budget   *budget.Guard
	Cache    *cache.Tiered
	Funnel   *engine.Funnel
	Service  *services.TriageService

	weaviate   *repo.WeaviateRepo
	openSearch *repo.OpenSearchClient
	offsets    *ingest.OffsetStore
	closed     bool
}

// Build resolves every capability from cfg. Optional services that are unconfigured or
// unreachable degrade to their no-op forms; only local state that cannot be loaded fails the
// build.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	var shared cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(ctx, cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			KeyPrefix:    cfg.Cache.KeyPrefix,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable", slog.Any("error", err))
		} else {
			shared = provider
		}
	}
	a.Cache = cache.NewTiered(cache.NewRecencyCache(cfg.Cache.Size), shared, cfg.Cache.VerdictTTL, logger)

	embedder, err := embedding.New(ctx, embedding.Config{
		Provider:   cfg.Embedding.Provider,
		Model:      cfg.Embedding.Model,
		APIKey:     cfg.Embedding.APIKey,
		Endpoint:   cfg.Embedding.Endpoint,
		Dim:        cfg.Embedding.Dim,
		Timeout:    cfg.Embedding.Timeout,
		MaxRetries: cfg.Embedding.MaxRetries,
	}, logger)
	if err != nil {
		a.closeCache()
		return nil, fmt.Errorf("embedding: %w", err)
	}
	a.Embedder = embedder

	a.Index, err = index.New(index.Options{
		Backend:    cfg.Index.Backend,
		Shards:     cfg.Index.Shards,
		VectorPath: cfg.Index.VectorPath,
		CasePath:   cfg.Index.CasePath,
		Logger:     logger,
	})
	if err != nil {
		a.closeCache()
		return nil, fmt.Errorf("index: %w", err)
	}
	if err := a.Index.Load(); err != nil {
		a.closeCache()
		return nil, fmt.Errorf("index: %w", err)
	}
	metrics.SetIndexCases(a.Index.Len())

	a.Rules, err = rules.Resolve(rules.Settings{
		WazuhURL:      cfg.Rules.WazuhURL,
		WazuhUser:     cfg.Rules.WazuhUser,
		WazuhPassword: cfg.Rules.WazuhPassword,
		Timeout:       cfg.Rules.Timeout,
		MaxRetries:    cfg.Rules.MaxRetries,
		SignaturePath: cfg.Rules.SignaturePath,
	}, logger)
	if err != nil {
		a.closeCache()
		return nil, fmt.Errorf("rules: %w", err)
	}

	analyser, err := verdict.New(ctx, verdict.Config{
		Provider:   cfg.LLM.Provider,
		Model:      cfg.LLM.Model,
		APIKey:     cfg.LLM.APIKey,
		Endpoint:   cfg.LLM.Endpoint,
		Timeout:    cfg.LLM.Timeout,
		MaxRetries: cfg.LLM.MaxRetries,
	}, logger)
	if err != nil {
		a.closeCache()
		return nil, fmt.Errorf("verdict: %w", err)
	}
	a.Budget = budget.NewGuard(analyser, budget.Config{
		MaxHourlyCostUSD:       cfg.Budget.MaxHourlyCostUSD,
		PriceInPer1KTokens:     cfg.Budget.PriceInPer1KTokens,
		PriceOutPer1KTokens:    cfg.Budget.PriceOutPer1KTokens,
		OutputTokensPerVerdict: cfg.Budget.OutputTokensPerVerdict,
		RequestsPerMinute:      cfg.Budget.RequestsPerMinute,
	}, logger)

	a.Graph = graph.Connect(ctx, graph.Config{
		URI:          cfg.Graph.URI,
		Username:     cfg.Graph.Username,
		Password:     cfg.Graph.Password,
		Database:     cfg.Graph.Database,
		QueryTimeout: cfg.Graph.QueryTimeout,
		ConnectTries: cfg.Graph.ConnectTries,
	}, logger)

	a.weaviate = repo.NewWeaviateRepo(cfg.Weaviate.Endpoint, cfg.Weaviate.APIKey, cfg.Weaviate.Timeout, shared, cfg.Cache.PatternsTTL)
	a.openSearch = repo.NewOpenSearchClient(repo.OpenSearchConfig{
		URL:        cfg.OpenSearch.URL,
		Username:   cfg.OpenSearch.Username,
		Password:   cfg.OpenSearch.Password,
		Index:      cfg.OpenSearch.Index,
		Timeout:    cfg.OpenSearch.Timeout,
		MaxRetries: cfg.OpenSearch.MaxRetries,
	})

	deps := engine.Deps{
		Rules:       a.Rules,
		Scorer:      scoring.NewScorer(nil),
		Enricher:    retrieval.New(embedder, a.Index, a.Graph, retrieval.Options{ExampleK: cfg.Funnel.ExampleK, GraphDepth: cfg.Funnel.GraphDepth}, logger),
		Verdicts:    a.Budget,
		Index:       a.Index,
		Graph:       a.Graph,
		Cache:       a.Cache,
		Logger:      logger,
		OnWriteback: a.afterWriteback,
	}
	var patternStore patterns.Store
	var patternSource services.PatternFetcher
	if a.weaviate.Enabled() {
		deps.Mirror = a.weaviate
		patternStore = a.weaviate
		patternSource = a.weaviate
	}

	a.Funnel, err = engine.NewFunnel(deps, engine.Options{
		Keywords:             cfg.Funnel.Keywords,
		SamplePercent:        cfg.Funnel.SamplePercent,
		BatchSize:            cfg.Funnel.BatchSize,
		Concurrency:          cfg.Funnel.Concurrency,
		Reuse:                cfg.Funnel.Reuse,
		ReuseAttackThreshold: cfg.Funnel.AttackThreshold,
		ReuseNormalThreshold: cfg.Funnel.NormalThreshold,
	})
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("funnel: %w", err)
	}

	a.Service = services.NewTriageService(logger, services.Deps{
		Analyzer:   a.Funnel,
		Embedder:   embedder,
		Index:      a.Index,
		Miner:      patterns.NewMiner(logger, patternStore),
		Patterns:   patternSource,
		Components: a.Components,
	})

	logger.Info("triage engine ready",
		slog.String("index_backend", a.Index.BackendName()),
		slog.Int("index_cases", a.Index.Len()),
		slog.String("embedder", embedder.Name()),
		slog.String("verdicts", a.Budget.Name()),
		slog.String("rules", a.Rules.Name()),
		slog.Bool("graph", a.Graph.Available()),
	)
	return a, nil
}

// Components reports which backend serves each capability.
func (a *App) Components() map[string]string {
	graphState := "noop"
	if a.Graph != nil && a.Graph.Available() {
		graphState = "neo4j"
	}
	return map[string]string{
		"index":      a.Index.BackendName(),
		"embedder":   a.Embedder.Name(),
		"verdicts":   a.Budget.Name(),
		"rules":      a.Rules.Name(),
		"graph":      graphState,
		"weaviate":   enabledState(a.weaviate.Enabled()),
		"opensearch": enabledState(a.openSearch.Enabled()),
	}
}

// NewTailer opens the offset store and returns a tailer over the configured directory.
func (a *App) NewTailer() (*ingest.Tailer, error) {
	if a.offsets == nil {
		offsets, err := ingest.OpenOffsetStore(a.Config.Ingest.OffsetDB)
		if err != nil {
			return nil, err
		}
		a.offsets = offsets
	}
	return ingest.NewTailer(ingest.TailerConfig{
		Dir:        a.Config.Ingest.TargetDir,
		Extensions: a.Config.Ingest.Extensions,
	}, a.Funnel, a.offsets, ingest.NewResultWriter(a.Config.Ingest.OutputFile), a.Logger), nil
}

// NewPoller returns an OpenSearch poller, or nil when OpenSearch is not configured.
func (a *App) NewPoller() *ingest.Poller {
	if !a.openSearch.Enabled() {
		return nil
	}
	return ingest.NewPoller(ingest.PollerConfig{
		Interval:  a.Config.OpenSearch.PollInterval,
		BatchSize: a.Config.OpenSearch.BatchSize,
	}, a.openSearch, a.Funnel, a.Logger)
}

// Close flushes the index and releases every connection. It is safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	if a.closed {
		return nil
	}
	a.closed = true

	var errs []error
	if a.Index != nil {
		if err := a.Index.Save(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Graph != nil {
		if err := a.Graph.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close graph: %w", err))
		}
	}
	if a.offsets != nil {
		if err := a.offsets.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close offsets: %w", err))
		}
		a.offsets = nil
	}
	a.closeCache()
	return errors.Join(errs...)
}

func (a *App) closeCache() {
	if a.Cache == nil {
		return
	}
	if err := a.Cache.Close(); err != nil {
		a.Logger.Warn("close verdict cache", slog.Any("error", err))
	}
}

func (a *App) afterWriteback(_ context.Context, _ []models.Result) {
	metrics.SetBudgetSpend(a.Budget.Spent())
}

func enabledState(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
