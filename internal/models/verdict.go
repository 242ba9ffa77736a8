package models

import "time"

// Verdict is the structured judgement for a single line.
type Verdict struct {
	IsAttack   bool       `json:"is_attack"`
	AttackType string     `json:"attack_type"`
	Reason     string     `json:"reason,omitempty"`
	Entities   []Entity   `json:"entities,omitempty"`
	Relations  []Relation `json:"relations,omitempty"`
}

// Entity is a graph node extracted from a line, e.g. an IP address or a user.
type Entity struct {
	ID         string            `json:"id"`
	Label      string            `json:"label"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Relation is a directed, typed edge between two entities.
type Relation struct {
	StartID string `json:"start_id"`
	EndID   string `json:"end_id"`
	Type    string `json:"type"`
}

// CaseRecord is an analysed line stored alongside its vector. Immutable once appended.
type CaseRecord struct {
	Line      string    `json:"log"`
	Source    string    `json:"source,omitempty"`
	Verdict   Verdict   `json:"analysis"`
	CreatedAt time.Time `json:"created_at"`
}

// Example is a historical case returned as context for a new line.
type Example struct {
	Line     string  `json:"log"`
	Verdict  Verdict `json:"analysis"`
	Distance float32 `json:"distance"`
}

// Neighbor is a search hit: a case and its squared L2 distance to the query.
type Neighbor struct {
	ID       int        `json:"id"`
	Case     CaseRecord `json:"case"`
	Distance float32    `json:"distance"`
}
