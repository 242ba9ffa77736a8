package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/miradorstack/mirador-triage/internal/utils"
)

// LangchainEmbedder calls a model-backed embedding service through langchaingo. Every call has
// a timeout and bounded retries; the first successful vector fixes the dimension and any later
// drift is a contract violation.
type LangchainEmbedder struct {
	name     string
	embedder embeddings.Embedder
	timeout  time.Duration
	attempts int
	logger   *slog.Logger

	mu  sync.Mutex
	dim int
}

// NewLangchainEmbedder builds a googleai or ollama embedder.
func NewLangchainEmbedder(ctx context.Context, cfg Config, logger *slog.Logger) (*LangchainEmbedder, error) {
	var client embeddings.EmbedderClient
	provider := strings.ToLower(cfg.Provider)
	switch provider {
	case ProviderGoogleAI:
		apiKey := firstNonEmpty(cfg.APIKey, os.Getenv("GOOGLE_API_KEY"), os.Getenv("GEMINI_API_KEY"))
		if apiKey == "" {
			return nil, utils.Unavailable("embedding.new", "googleai api key not configured", nil)
		}
		opts := []googleai.Option{googleai.WithAPIKey(apiKey)}
		if cfg.Model != "" {
			opts = append(opts, googleai.WithDefaultEmbeddingModel(cfg.Model))
		}
		g, err := googleai.New(ctx, opts...)
		if err != nil {
			return nil, utils.Unavailable("embedding.new", "googleai client", err)
		}
		client = g
	case ProviderOllama:
		opts := []ollama.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, ollama.WithServerURL(cfg.Endpoint))
		}
		if cfg.Model != "" {
			opts = append(opts, ollama.WithModel(cfg.Model))
		}
		o, err := ollama.New(opts...)
		if err != nil {
			return nil, utils.Unavailable("embedding.new", "ollama client", err)
		}
		client = o
	default:
		return nil, fmt.Errorf("langchain embedder does not support provider %q", cfg.Provider)
	}

	e, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, utils.Unavailable("embedding.new", "embedder", err)
	}
	return newLangchainEmbedder(provider, e, cfg, logger), nil
}

func newLangchainEmbedder(name string, e embeddings.Embedder, cfg Config, logger *slog.Logger) *LangchainEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LangchainEmbedder{
		name:     name,
		embedder: e,
		timeout:  timeout,
		attempts: cfg.MaxRetries + 1,
		logger:   logger,
		dim:      cfg.Dim,
	}
}

// Embed implements Embedder.
func (l *LangchainEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for attempt := 0; attempt < l.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 250 * time.Millisecond):
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, l.timeout)
		vec, err := l.embedder.EmbedQuery(callCtx, text)
		cancel()
		if err == nil {
			return vec, l.checkDim(len(vec))
		}
		lastErr = err
		l.logger.Debug("embedding attempt failed", slog.Int("attempt", attempt+1), slog.Any("error", err))
	}
	return nil, utils.ServiceFailure("embedding.embed", l.name, lastErr)
}

func (l *LangchainEmbedder) checkDim(n int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n == 0 {
		return utils.ContractViolation("embedding.embed", "empty vector")
	}
	if l.dim == 0 {
		l.dim = n
		return nil
	}
	if n != l.dim {
		return utils.ContractViolation("embedding.embed", fmt.Sprintf("vector dimension changed from %d to %d", l.dim, n))
	}
	return nil
}

// Dim implements Embedder.
func (l *LangchainEmbedder) Dim() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dim
}

// Name implements Embedder.
func (l *LangchainEmbedder) Name() string { return l.name }

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
