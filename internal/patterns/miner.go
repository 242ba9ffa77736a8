package patterns

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/miradorstack/mirador-triage/internal/models"
)

const (
	topEntityLimit = 3
	sampleLimit    = 3
)

// Store abstracts persistence for mined patterns.
type Store interface {
	StorePatterns(ctx context.Context, patterns []models.AttackPattern) error
}

// Miner mines frequency-based attack patterns from the case history.
type Miner struct {
	store  Store
	logger *slog.Logger
}

// NewMiner constructs a Miner; store may be nil for dry runs.
func NewMiner(logger *slog.Logger, store Store) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Miner{store: store, logger: logger}
}

// Mine groups attack cases by attack type and returns one pattern per type, most prevalent
// first. Prevalence is the share of all cases, benign included.
func (m *Miner) Mine(ctx context.Context, cases []models.CaseRecord) ([]models.AttackPattern, error) {
	if len(cases) == 0 {
		return nil, nil
	}

	stats := make(map[string]*typeAggregate)
	for _, c := range cases {
		if !c.Verdict.IsAttack {
			continue
		}
		agg := ensureAggregate(stats, c.Verdict.AttackType)
		agg.count++
		if c.CreatedAt.After(agg.lastSeen) {
			agg.lastSeen = c.CreatedAt
		}
		for _, e := range c.Verdict.Entities {
			if e.ID != "" {
				agg.entityCounts[e.ID]++
			}
		}
		if len(agg.samples) < sampleLimit {
			agg.samples = append(agg.samples, c.Line)
		}
	}

	patterns := make([]models.AttackPattern, 0, len(stats))
	for attackType, agg := range stats {
		patterns = append(patterns, models.AttackPattern{
			ID:          "pattern-" + slug(attackType),
			AttackType:  attackType,
			Description: fmt.Sprintf("Auto-mined pattern: %d %s cases", agg.count, attackType),
			Count:       agg.count,
			Prevalence:  float64(agg.count) / float64(len(cases)),
			LastSeen:    agg.lastSeen,
			TopEntities: agg.topEntities(topEntityLimit),
			Samples:     agg.samples,
		})
	}

	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Prevalence != patterns[j].Prevalence {
			return patterns[i].Prevalence > patterns[j].Prevalence
		}
		return patterns[i].AttackType < patterns[j].AttackType
	})

	if m.store != nil && len(patterns) > 0 {
		if err := m.store.StorePatterns(ctx, patterns); err != nil {
			m.logger.Warn("pattern store failed", slog.Any("error", err))
		}
	}

	return patterns, nil
}

type typeAggregate struct {
	count        int
	lastSeen     time.Time
	entityCounts map[string]int
	samples      []string
}

func ensureAggregate(m map[string]*typeAggregate, attackType string) *typeAggregate {
	agg, ok := m[attackType]
	if !ok {
		agg = &typeAggregate{entityCounts: make(map[string]int)}
		m[attackType] = agg
	}
	return agg
}

func (agg *typeAggregate) topEntities(limit int) []string {
	entities := make([]string, 0, len(agg.entityCounts))
	for id := range agg.entityCounts {
		entities = append(entities, id)
	}
	sort.Slice(entities, func(i, j int) bool {
		ci, cj := agg.entityCounts[entities[i]], agg.entityCounts[entities[j]]
		if ci != cj {
			return ci > cj
		}
		return entities[i] < entities[j]
	})
	if len(entities) > limit {
		entities = entities[:limit]
	}
	return entities
}

func slug(attackType string) string {
	s := strings.ToLower(strings.TrimSpace(attackType))
	if s == "" {
		return "unknown"
	}
	return strings.Join(strings.Fields(s), "-")
}
