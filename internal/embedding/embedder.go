package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Embedder turns a line into a fixed-dimension vector. Implementations must be safe for
// concurrent use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dim returns the vector dimension, or 0 when it is only known after the first call.
	Dim() int
	Name() string
}

// Provider names accepted by New.
const (
	ProviderHashing  = "hashing"
	ProviderGoogleAI = "googleai"
	ProviderOllama   = "ollama"
)

// Config selects and configures an embedder.
type Config struct {
	Provider   string
	Model      string
	APIKey     string
	Endpoint   string
	Dim        int
	Timeout    time.Duration
	MaxRetries int
}

// New builds the configured embedder.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Embedder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderHashing:
		return NewHashingEmbedder(cfg.Dim), nil
	case ProviderGoogleAI, ProviderOllama:
		return NewLangchainEmbedder(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
