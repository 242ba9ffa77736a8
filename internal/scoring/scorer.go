package scoring

import (
	"math"
	"sort"
	"strings"

	"github.com/miradorstack/mirador-triage/internal/extractors"
	"github.com/miradorstack/mirador-triage/internal/models"
)

// Signal is a case-insensitive substring that adds Weight to a line's score when present.
type Signal struct {
	Pattern string  `yaml:"pattern"`
	Weight  float64 `yaml:"weight"`
}

// DefaultSignals are dangerous payload fragments and probing-tool signatures.
var DefaultSignals = []Signal{
	{Pattern: "/etc/passwd", Weight: 0.5},
	{Pattern: "/etc/shadow", Weight: 0.5},
	{Pattern: "../", Weight: 0.3},
	{Pattern: "union select", Weight: 0.4},
	{Pattern: "or 1=1", Weight: 0.4},
	{Pattern: "<script", Weight: 0.3},
	{Pattern: "/bin/sh", Weight: 0.3},
	{Pattern: "cmd.exe", Weight: 0.3},
	{Pattern: "nmap", Weight: 0.3},
	{Pattern: "sqlmap", Weight: 0.3},
	{Pattern: "nikto", Weight: 0.3},
	{Pattern: "masscan", Weight: 0.3},
	{Pattern: "gobuster", Weight: 0.2},
	{Pattern: "dirbuster", Weight: 0.2},
	{Pattern: "hydra", Weight: 0.2},
}

// ErrorStatusWeight is added for access-log lines whose HTTP status is 400 or above.
const ErrorStatusWeight = 0.1

// Scorer assigns a cheap suspicion score in [0,1] to a line. It is pure and deterministic.
type Scorer struct {
	signals []Signal
}

// NewScorer builds a scorer from signals; nil selects DefaultSignals.
func NewScorer(signals []Signal) *Scorer {
	if signals == nil {
		signals = DefaultSignals
	}
	normalised := make([]Signal, 0, len(signals))
	for _, s := range signals {
		if s.Pattern == "" {
			continue
		}
		normalised = append(normalised, Signal{Pattern: strings.ToLower(s.Pattern), Weight: s.Weight})
	}
	return &Scorer{signals: normalised}
}

// Score sums the weights of matching signals plus the error-status bonus, clamped to [0,1].
func (s *Scorer) Score(line string) float64 {
	lower := strings.ToLower(line)
	score := 0.0
	for _, sig := range s.signals {
		if strings.Contains(lower, sig.Pattern) {
			score += sig.Weight
		}
	}
	if extractors.StatusCode(line) >= 400 {
		score += ErrorStatusWeight
	}
	return clamp(score, 0, 1)
}

// ScoreAll scores every candidate, preserving input order.
func (s *Scorer) ScoreAll(candidates []models.LogCandidate) []models.ScoredCandidate {
	scored := make([]models.ScoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		scored = append(scored, models.ScoredCandidate{Candidate: c, Score: s.Score(c.Line)})
	}
	return scored
}

// SelectTop keeps the highest-scoring max(1, floor(N*percent/100)) candidates, capped at N.
// Sorting is stable so equal scores keep input order. Empty input yields empty output.
func SelectTop(scored []models.ScoredCandidate, percent float64) []models.ScoredCandidate {
	if len(scored) == 0 {
		return nil
	}
	keep := RetainCount(len(scored), percent)

	ranked := append([]models.ScoredCandidate(nil), scored...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked[:keep]
}

// RetainCount is the number of candidates SelectTop keeps out of n.
func RetainCount(n int, percent float64) int {
	if n <= 0 {
		return 0
	}
	percent = clamp(percent, 0, 100)
	keep := int(math.Floor(float64(n) * percent / 100))
	if keep < 1 {
		keep = 1
	}
	if keep > n {
		keep = n
	}
	return keep
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
