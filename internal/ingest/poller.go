package ingest

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/miradorstack/mirador-triage/internal/models"
	"github.com/miradorstack/mirador-triage/internal/repo"
)

// Source is a search backend holding log documents awaiting analysis.
type Source interface {
	SearchUnanalysed(ctx context.Context, size int) ([]repo.Document, error)
	MarkAnalysed(ctx context.Context, doc repo.Document, analysis *models.Verdict) error
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	Interval  time.Duration
	BatchSize int
}

// Poller periodically pulls unanalysed documents, runs them through the funnel as one batch and
// flags every fetched document as completed, attaching the verdict where there is one.
type Poller struct {
	source    Source
	proc      Processor
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

// NewPoller constructs a poller.
func NewPoller(cfg PollerConfig, source Source, proc Processor, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Poller{source: source, proc: proc, interval: cfg.Interval, batchSize: cfg.BatchSize, logger: logger}
}

// Run polls until ctx is cancelled. Poll failures are logged and retried on the next tick.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if n, err := p.PollOnce(ctx); err != nil {
			p.logger.Error("poll failed", slog.Any("error", err))
		} else if n > 0 {
			p.logger.Info("processed new documents", slog.Int("count", n))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// PollOnce handles one page of documents and returns how many were fetched. When the funnel
// fails nothing is marked, so the same documents are fetched again.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	docs, err := p.source.SearchUnanalysed(ctx, p.batchSize)
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	var candidates []models.LogCandidate
	owner := make(map[string]repo.Document, len(docs))
	for _, doc := range docs {
		if strings.TrimSpace(doc.Message) == "" {
			continue
		}
		c := p.proc.NewCandidates([]string{doc.Message}, doc.ID)[0]
		c.Seq = len(candidates)
		candidates = append(candidates, c)
		owner[c.ID] = doc
	}

	verdicts := make(map[string]models.Verdict)
	if len(candidates) > 0 {
		results, err := p.proc.ProcessCandidates(ctx, candidates)
		if err != nil {
			return 0, err
		}
		for _, r := range results {
			if doc, ok := owner[r.Candidate.ID]; ok {
				verdicts[doc.Index+"/"+doc.ID] = r.Verdict
			}
		}
	}

	for _, doc := range docs {
		var analysis *models.Verdict
		if v, ok := verdicts[doc.Index+"/"+doc.ID]; ok {
			analysis = &v
		}
		if err := p.source.MarkAnalysed(ctx, doc, analysis); err != nil {
			p.logger.Warn("marking document failed", slog.String("index", doc.Index), slog.String("id", doc.ID), slog.Any("error", err))
		}
	}
	return len(docs), nil
}
