package verdict

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/miradorstack/mirador-triage/internal/models"
)

// Service judges a batch of enriched lines. Implementations return one verdict per payload in
// request order; they do not pad or truncate, so callers can detect misalignment.
type Service interface {
	Analyse(ctx context.Context, payloads []models.PromptPayload) ([]models.Verdict, error)
	Name() string
}

// Provider names accepted by New.
const (
	ProviderHeuristic = "heuristic"
	ProviderGoogleAI  = "googleai"
	ProviderOllama    = "ollama"
)

// Config selects and configures the verdict service.
type Config struct {
	Provider   string
	Model      string
	APIKey     string
	Endpoint   string
	Timeout    time.Duration
	MaxRetries int
}

// New builds the configured verdict service.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Service, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderHeuristic:
		return HeuristicService{}, nil
	case ProviderGoogleAI, ProviderOllama:
		return NewLLMService(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown verdict provider %q", cfg.Provider)
	}
}
