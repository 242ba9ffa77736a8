package extractors

import (
	"regexp"

	"github.com/miradorstack/mirador-triage/internal/models"
)

const (
	// LabelIP is the graph label for IPv4 address entities.
	LabelIP = "IP"
	// LabelUser is the graph label for user entities.
	LabelUser = "User"
)

var (
	ipPattern   = regexp.MustCompile(`\b\d{1,3}(?:\.\d{1,3}){3}\b`)
	userPattern = regexp.MustCompile(`(?i)user(?:name)?[=:]?\s*(\w+)`)
)

// Entities extracts graph entities from a raw line: every dotted-quad address, then the first
// user reference. Duplicates are dropped and order of first appearance is kept.
func Entities(line string) []models.Entity {
	entities := make([]models.Entity, 0, 2)
	seen := make(map[string]struct{})

	for _, ip := range ipPattern.FindAllString(line, -1) {
		id := "ip_" + ip
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		entities = append(entities, models.Entity{
			ID:         id,
			Label:      LabelIP,
			Properties: map[string]string{"address": ip},
		})
	}

	if m := userPattern.FindStringSubmatch(line); m != nil {
		id := "user_" + m[1]
		if _, ok := seen[id]; !ok {
			entities = append(entities, models.Entity{
				ID:         id,
				Label:      LabelUser,
				Properties: map[string]string{"name": m[1]},
			})
		}
	}
	return entities
}

// EntityIDs returns the ids of Entities(line).
func EntityIDs(line string) []string {
	entities := Entities(line)
	ids := make([]string, 0, len(entities))
	for _, e := range entities {
		ids = append(ids, e.ID)
	}
	return ids
}
