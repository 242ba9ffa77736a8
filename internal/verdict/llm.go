package verdict

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/miradorstack/mirador-triage/internal/models"
	"github.com/miradorstack/mirador-triage/internal/utils"
)

// DefaultModel is the Gemini model used when none is configured.
const DefaultModel = "gemini-1.5-flash-latest"

const promptHeader = `You are a security analyst triaging log lines.
For each item in the JSON array below, decide whether the log line is part of an attack.
Each item has the log line, similar historical cases with their verdicts, and the entity graph around it.
Respond with ONLY a JSON array containing exactly one object per input item, in the same order:
{"is_attack": bool, "attack_type": string, "reason": string,
 "entities": [{"id": string, "label": string, "properties": {string: string}}],
 "relations": [{"start_id": string, "end_id": string, "type": string}]}
Use attack_type "Unknown" when is_attack is false.

Items:
`

// LLMService asks a language model for verdicts, one prompt per batch.
type LLMService struct {
	name     string
	model    llms.Model
	timeout  time.Duration
	attempts int
	logger   *slog.Logger
}

// NewLLMService builds a googleai or ollama backed service.
func NewLLMService(ctx context.Context, cfg Config, logger *slog.Logger) (*LLMService, error) {
	provider := strings.ToLower(cfg.Provider)
	var model llms.Model
	switch provider {
	case ProviderGoogleAI:
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("GOOGLE_API_KEY")
		}
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, utils.Unavailable("verdict.new", "googleai api key not configured", nil)
		}
		name := cfg.Model
		if name == "" {
			name = DefaultModel
		}
		g, err := googleai.New(ctx, googleai.WithAPIKey(apiKey), googleai.WithDefaultModel(name))
		if err != nil {
			return nil, utils.Unavailable("verdict.new", "googleai client", err)
		}
		model = g
	case ProviderOllama:
		opts := []ollama.Option{ollama.WithFormat("json")}
		if cfg.Endpoint != "" {
			opts = append(opts, ollama.WithServerURL(cfg.Endpoint))
		}
		if cfg.Model != "" {
			opts = append(opts, ollama.WithModel(cfg.Model))
		}
		o, err := ollama.New(opts...)
		if err != nil {
			return nil, utils.Unavailable("verdict.new", "ollama client", err)
		}
		model = o
	default:
		return nil, fmt.Errorf("llm verdict service does not support provider %q", cfg.Provider)
	}
	return NewLLMServiceFromModel(provider, model, cfg, logger), nil
}

// NewLLMServiceFromModel wraps an existing langchaingo model.
func NewLLMServiceFromModel(name string, model llms.Model, cfg Config, logger *slog.Logger) *LLMService {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &LLMService{
		name:     name,
		model:    model,
		timeout:  timeout,
		attempts: cfg.MaxRetries + 1,
		logger:   logger,
	}
}

// Analyse implements Service. Transport failures are retried; an unparsable answer is a
// ServiceError.
func (s *LLMService) Analyse(ctx context.Context, payloads []models.PromptPayload) ([]models.Verdict, error) {
	if len(payloads) == 0 {
		return nil, nil
	}
	prompt, err := BuildPrompt(payloads)
	if err != nil {
		return nil, utils.ServiceFailure("verdict.analyse", "build prompt", err)
	}

	var (
		answer  string
		lastErr error
	)
	for attempt := 0; attempt < s.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(1<<(attempt-1)) * time.Second):
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		answer, lastErr = llms.GenerateFromSinglePrompt(callCtx, s.model, prompt, llms.WithTemperature(0), llms.WithJSONMode())
		cancel()
		if lastErr == nil {
			break
		}
		s.logger.Warn("verdict call failed", slog.String("provider", s.name), slog.Int("attempt", attempt+1), slog.Any("error", lastErr))
	}
	if lastErr != nil {
		return nil, utils.ServiceFailure("verdict.analyse", s.name, lastErr)
	}

	verdicts, err := ParseVerdicts(answer)
	if err != nil {
		return nil, utils.ServiceFailure("verdict.analyse", "malformed response", err)
	}
	return verdicts, nil
}

// Name implements Service.
func (s *LLMService) Name() string { return s.name }

// BuildPrompt renders the batch prompt.
func BuildPrompt(payloads []models.PromptPayload) (string, error) {
	body, err := json.MarshalIndent(payloads, "", "  ")
	if err != nil {
		return "", err
	}
	return promptHeader + string(body), nil
}

// ParseVerdicts extracts the JSON array from a model answer, tolerating code fences and prose
// around it. A single object is accepted as a one-element array.
func ParseVerdicts(answer string) ([]models.Verdict, error) {
	text := strings.TrimSpace(answer)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	arrayStart, objectStart := strings.Index(text, "["), strings.Index(text, "{")
	switch {
	case arrayStart >= 0 && (objectStart < 0 || arrayStart < objectStart):
		end := strings.LastIndex(text, "]")
		if end < arrayStart {
			return nil, fmt.Errorf("unterminated JSON array")
		}
		var verdicts []models.Verdict
		if err := json.Unmarshal([]byte(text[arrayStart:end+1]), &verdicts); err != nil {
			return nil, fmt.Errorf("decode verdict array: %w", err)
		}
		return verdicts, nil
	case objectStart >= 0:
		end := strings.LastIndex(text, "}")
		if end < objectStart {
			break
		}
		var single models.Verdict
		if err := json.Unmarshal([]byte(text[objectStart:end+1]), &single); err != nil {
			return nil, fmt.Errorf("decode verdict object: %w", err)
		}
		return []models.Verdict{single}, nil
	}
	return nil, fmt.Errorf("no JSON in response")
}
