package models

import "time"

// AttackPattern summarises recurring attack cases of one type.
type AttackPattern struct {
	ID          string    `json:"id"`
	AttackType  string    `json:"attack_type"`
	Description string    `json:"description"`
	Count       int       `json:"count"`
	Prevalence  float64   `json:"prevalence"`
	LastSeen    time.Time `json:"last_seen"`
	TopEntities []string  `json:"top_entities,omitempty"`
	Samples     []string  `json:"samples,omitempty"`
}
