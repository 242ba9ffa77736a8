package models

import "time"

// LogCandidate is a raw log line travelling through the funnel.
type LogCandidate struct {
	// ID is stable for the lifetime of one funnel call and identifies the line across stages.
	ID string `json:"id"`
	// Seq is the position of the line in the submitted batch.
	Seq    int       `json:"seq"`
	Line   string    `json:"line"`
	Source string    `json:"source,omitempty"`
	Fields LogFields `json:"fields"`
}

// LogFields holds values parsed from the raw line. Zero values mean "not present".
type LogFields struct {
	StatusCode   int       `json:"status_code,omitempty"`
	Timestamp    time.Time `json:"timestamp,omitzero"`
	ResponseTime float64   `json:"resp_time,omitempty"`
}

// ScoredCandidate pairs a candidate with its heuristic score in [0,1].
type ScoredCandidate struct {
	Candidate LogCandidate `json:"candidate"`
	Score     float64      `json:"score"`
}

// Result is the funnel output for one line.
type Result struct {
	Candidate LogCandidate `json:"candidate"`
	Verdict   Verdict      `json:"analysis"`
	Score     float64      `json:"score,omitempty"`
	// Cached reports the verdict came from the recency cache without re-analysis.
	Cached bool `json:"cached,omitempty"`
	// Reused reports the verdict was taken from a sufficiently close historical case.
	Reused bool `json:"reused,omitempty"`
}
