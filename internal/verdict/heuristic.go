package verdict

import (
	"context"
	"strings"

	"github.com/miradorstack/mirador-triage/internal/extractors"
	"github.com/miradorstack/mirador-triage/internal/models"
)

// Attack types reported by HeuristicService.
const (
	AttackSQLInjection  = "SQL Injection"
	AttackSensitiveFile = "Sensitive File Access"
	AttackPortScan      = "Port Scan"
	AttackUnknown       = "Unknown"
)

// HeuristicService is an offline analyser: substring markers decide the attack type and the
// entities in the line become graph entities, the first two joined by a RELATED edge.
type HeuristicService struct{}

// Analyse implements Service.
func (HeuristicService) Analyse(_ context.Context, payloads []models.PromptPayload) ([]models.Verdict, error) {
	out := make([]models.Verdict, 0, len(payloads))
	for _, p := range payloads {
		out = append(out, Heuristic(p.Line))
	}
	return out, nil
}

// Name implements Service.
func (HeuristicService) Name() string { return ProviderHeuristic }

// Heuristic returns the offline verdict for one line.
func Heuristic(line string) models.Verdict {
	lower := strings.ToLower(line)
	v := models.Verdict{AttackType: AttackUnknown}
	switch {
	case strings.Contains(lower, "or 1=1") || strings.Contains(lower, "union select"):
		v.AttackType = AttackSQLInjection
	case strings.Contains(lower, "/etc/passwd"):
		v.AttackType = AttackSensitiveFile
	case strings.Contains(lower, "nmap"):
		v.AttackType = AttackPortScan
	}
	v.IsAttack = v.AttackType != AttackUnknown

	v.Entities = extractors.Entities(line)
	if len(v.Entities) >= 2 {
		v.Relations = []models.Relation{{StartID: v.Entities[0].ID, EndID: v.Entities[1].ID, Type: "RELATED"}}
	}
	return v
}
