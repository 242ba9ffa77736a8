package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-triage/internal/api"
	"github.com/miradorstack/mirador-triage/internal/models"
	"github.com/miradorstack/mirador-triage/internal/utils"
)

// SourceAPI is the provenance recorded for lines submitted through the API.
const SourceAPI = "api"

// patternFetchLimit bounds the stored patterns returned when nothing can be mined locally.
const patternFetchLimit = 50

// Analyzer runs lines through the triage funnel.
type Analyzer interface {
	NewCandidates(lines []string, source string) []models.LogCandidate
	ProcessCandidates(ctx context.Context, candidates []models.LogCandidate) ([]models.Result, error)
}

// Embedder turns a line into its index vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CaseIndex is the read side of the similarity index.
type CaseIndex interface {
	Nearest(query []float32, k int) ([]models.Neighbor, error)
	Cases() []models.CaseRecord
	Len() int
}

// PatternMiner summarises stored cases into attack patterns.
type PatternMiner interface {
	Mine(ctx context.Context, cases []models.CaseRecord) ([]models.AttackPattern, error)
}

// PatternFetcher reads previously stored patterns.
type PatternFetcher interface {
	FetchPatterns(ctx context.Context, limit int) ([]models.AttackPattern, error)
}

// Deps groups the collaborators of TriageService. Analyzer, Embedder and Index are required for
// the operations that use them; the rest are optional.
type Deps struct {
	Analyzer Analyzer
	Embedder Embedder
	Index    CaseIndex
	Miner    PatternMiner
	Patterns PatternFetcher
	// Components reports per-dependency readiness for health checks.
	Components func() map[string]string
}

// TriageService implements the triage.v1.Triage gRPC service and the HTTP API surface.
type TriageService struct {
	logger    *slog.Logger
	deps      Deps
	latencies *utils.LatencyTracker
}

// NewTriageService constructs the triage service facade.
func NewTriageService(logger *slog.Logger, deps Deps) *TriageService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TriageService{
		logger:    logger,
		deps:      deps,
		latencies: utils.NewLatencyTracker(1024),
	}
}

// Analyze runs a batch of lines through the funnel.
func (s *TriageService) Analyze(ctx context.Context, req models.AnalyzeRequest) (models.AnalyzeResponse, error) {
	if err := req.Validate(); err != nil {
		return models.AnalyzeResponse{}, err
	}
	if s.deps.Analyzer == nil {
		return models.AnalyzeResponse{}, utils.Unavailable("services.analyze", "funnel not configured", nil)
	}
	source := req.Source
	if source == "" {
		source = SourceAPI
	}

	start := time.Now()
	results, err := s.deps.Analyzer.ProcessCandidates(ctx, s.deps.Analyzer.NewCandidates(req.Logs, source))
	if err != nil {
		s.logger.Error("analyze failed", slog.Int("lines", len(req.Logs)), slog.String("kind", utils.KindOf(err)), slog.Any("error", err))
		return models.AnalyzeResponse{}, err
	}
	s.observe(time.Since(start))

	if results == nil {
		results = []models.Result{}
	}
	return models.AnalyzeResponse{Results: results}, nil
}

// Investigate returns the stored cases nearest to a line, closest first.
func (s *TriageService) Investigate(ctx context.Context, req models.InvestigateRequest) (models.InvestigateResponse, error) {
	if err := req.Normalize(); err != nil {
		return models.InvestigateResponse{}, err
	}
	if s.deps.Embedder == nil || s.deps.Index == nil {
		return models.InvestigateResponse{}, utils.Unavailable("services.investigate", "index not configured", nil)
	}

	vector, err := s.deps.Embedder.Embed(ctx, req.Log)
	if err != nil {
		return models.InvestigateResponse{}, err
	}
	neighbors, err := s.deps.Index.Nearest(vector, req.TopK)
	if err != nil {
		return models.InvestigateResponse{}, err
	}

	cases := make([]models.Example, 0, len(neighbors))
	for _, n := range neighbors {
		cases = append(cases, models.Example{Line: n.Case.Line, Verdict: n.Case.Verdict, Distance: n.Distance})
	}
	return models.InvestigateResponse{Cases: cases}, nil
}

// Patterns mines the stored cases into attack patterns, falling back to the patterns persisted by
// earlier runs when the local index yields none.
func (s *TriageService) Patterns(ctx context.Context) (models.PatternsResponse, error) {
	var patterns []models.AttackPattern
	if s.deps.Miner != nil && s.deps.Index != nil && s.deps.Index.Len() > 0 {
		mined, err := s.deps.Miner.Mine(ctx, s.deps.Index.Cases())
		if err != nil {
			return models.PatternsResponse{}, err
		}
		patterns = mined
	}
	if len(patterns) == 0 && s.deps.Patterns != nil {
		stored, err := s.deps.Patterns.FetchPatterns(ctx, patternFetchLimit)
		if err != nil {
			s.logger.Warn("fetch stored patterns failed", slog.Any("error", err))
		} else {
			patterns = stored
		}
	}
	if patterns == nil {
		patterns = []models.AttackPattern{}
	}
	return models.PatternsResponse{Patterns: patterns}, nil
}

// Health reports SERVING plus per-component readiness.
func (s *TriageService) Health(ctx context.Context) models.HealthResponse {
	resp := models.HealthResponse{Status: "SERVING"}
	if s.deps.Components != nil {
		resp.Components = s.deps.Components()
	}
	return resp
}

// GRPC adapts the service to the triage.v1.Triage gRPC surface.
func (s *TriageService) GRPC() api.TriageServer {
	return grpcAdapter{svc: s}
}

type grpcAdapter struct {
	svc *TriageService
}

func (g grpcAdapter) AnalyzeLogs(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := api.FromProtoAnalyzeRequest(in)
	if err != nil {
		return nil, statusFromError(err)
	}
	resp, err := g.svc.Analyze(ctx, req)
	if err != nil {
		return nil, statusFromError(err)
	}
	return encoded(api.ToProtoAnalyzeResponse(resp))
}

func (g grpcAdapter) Investigate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := api.FromProtoInvestigateRequest(in)
	if err != nil {
		return nil, statusFromError(err)
	}
	resp, err := g.svc.Investigate(ctx, req)
	if err != nil {
		return nil, statusFromError(err)
	}
	return encoded(api.ToProtoInvestigateResponse(resp))
}

func (g grpcAdapter) GetPatterns(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	resp, err := g.svc.Patterns(ctx)
	if err != nil {
		return nil, statusFromError(err)
	}
	return encoded(api.ToProtoPatternsResponse(resp))
}

func (g grpcAdapter) HealthCheck(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return encoded(api.ToProtoHealthResponse(g.svc.Health(ctx)))
}

// LatencyP95 returns the current p95 analyze latency.
func (s *TriageService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}

func (s *TriageService) observe(d time.Duration) {
	s.latencies.Observe(d)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("analyze latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}
}

func encoded(out *structpb.Struct, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// statusFromError maps error kinds onto gRPC status codes.
func statusFromError(err error) error {
	switch {
	case errors.Is(err, models.ErrInvalidRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, utils.ErrContractViolation):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, utils.ErrServiceUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
