// Package budget caps what the funnel spends on the verdict service.
package budget

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/miradorstack/mirador-triage/internal/models"
	"github.com/miradorstack/mirador-triage/internal/utils"
	"github.com/miradorstack/mirador-triage/internal/verdict"
)

// Window is the rolling period the spend cap applies to.
const Window = time.Hour

// Config prices verdict calls. A zero MaxHourlyCostUSD disables the cap and a zero
// RequestsPerMinute disables pacing.
type Config struct {
	MaxHourlyCostUSD       float64
	PriceInPer1KTokens     float64
	PriceOutPer1KTokens    float64
	OutputTokensPerVerdict int
	RequestsPerMinute      int
}

// DefaultConfig returns the prices of the default Gemini model.
func DefaultConfig() Config {
	return Config{
		MaxHourlyCostUSD:       5.0,
		PriceInPer1KTokens:     0.000125,
		PriceOutPer1KTokens:    0.000375,
		OutputTokensPerVerdict: 150,
	}
}

type charge struct {
	at   time.Time
	cost float64
}

// Guard wraps a verdict.Service and refuses calls once the hourly spend would exceed the cap.
type Guard struct {
	next    verdict.Service
	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	charges []*charge
}

// Option customises a Guard.
type Option func(*Guard)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// NewGuard decorates next with the spend cap described by cfg.
func NewGuard(next verdict.Service, cfg Config, logger *slog.Logger, opts ...Option) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OutputTokensPerVerdict <= 0 {
		cfg.OutputTokensPerVerdict = DefaultConfig().OutputTokensPerVerdict
	}
	g := &Guard{next: next, cfg: cfg, logger: logger, now: time.Now}
	if cfg.RequestsPerMinute > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.RequestsPerMinute)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name implements verdict.Service.
func (g *Guard) Name() string { return g.next.Name() }

// Analyse implements verdict.Service.
func (g *Guard) Analyse(ctx context.Context, payloads []models.PromptPayload) ([]models.Verdict, error) {
	if len(payloads) == 0 {
		return nil, nil
	}
	inTokens := EstimateTokens(payloads)
	outTokens := g.cfg.OutputTokensPerVerdict * len(payloads)
	estimate := g.cost(inTokens, outTokens)

	held, spent, ok := g.reserve(estimate)
	if !ok {
		g.logger.Warn("verdict budget exhausted",
			slog.Float64("spent_usd", spent),
			slog.Float64("estimate_usd", estimate),
			slog.Float64("cap_usd", g.cfg.MaxHourlyCostUSD),
			slog.Int("payloads", len(payloads)))
		return nil, utils.Unavailable("budget.analyse", "hourly cost cap reached", nil)
	}
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			g.settle(held, 0)
			return nil, utils.Unavailable("budget.analyse", "rate limiter", err)
		}
	}

	verdicts, err := g.next.Analyse(ctx, payloads)
	if err != nil {
		g.settle(held, g.cost(inTokens, 0))
		return nil, err
	}
	g.settle(held, g.cost(inTokens, g.cfg.OutputTokensPerVerdict*len(verdicts)))
	return verdicts, nil
}

// Spent returns the spend inside the current window, including estimates held by calls still
// in flight.
func (g *Guard) Spent() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.spentLocked()
}

func (g *Guard) spentLocked() float64 {
	g.pruneLocked()
	total := 0.0
	for _, c := range g.charges {
		total += c.cost
	}
	return total
}

// reserve holds estimate against the cap in the same critical section as the check. It returns
// the held charge, or false with the current spend when the cap would be exceeded.
func (g *Guard) reserve(estimate float64) (*charge, float64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	spent := g.spentLocked()
	if g.cfg.MaxHourlyCostUSD > 0 && spent+estimate > g.cfg.MaxHourlyCostUSD {
		return nil, spent, false
	}
	c := &charge{at: g.now(), cost: estimate}
	g.charges = append(g.charges, c)
	return c, spent, true
}

// settle replaces a held estimate with the actual cost.
func (g *Guard) settle(c *charge, cost float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c.cost = cost
}

func (g *Guard) pruneLocked() {
	cutoff := g.now().Add(-Window)
	keep := g.charges[:0]
	for _, c := range g.charges {
		if c.at.After(cutoff) {
			keep = append(keep, c)
		}
	}
	g.charges = keep
}

func (g *Guard) cost(inTokens, outTokens int) float64 {
	return float64(inTokens)/1000*g.cfg.PriceInPer1KTokens + float64(outTokens)/1000*g.cfg.PriceOutPer1KTokens
}

// EstimateTokens approximates the prompt size at four characters per token.
func EstimateTokens(payloads []models.PromptPayload) int {
	prompt, err := verdict.BuildPrompt(payloads)
	if err != nil {
		return 0
	}
	return (len(prompt) + 3) / 4
}
