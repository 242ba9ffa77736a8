package models

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultTopK and MaxTopK bound an InvestigateRequest.
const (
	DefaultTopK = 5
	MaxTopK     = 100
)

// ErrInvalidRequest marks a request rejected before it reaches the funnel.
var ErrInvalidRequest = errors.New("invalid request")

// AnalyzeRequest submits a batch of raw lines to the funnel.
type AnalyzeRequest struct {
	Logs   []string `json:"logs"`
	Source string   `json:"source,omitempty"`
}

// Validate rejects a request without a logs field. An empty list is valid and yields no results.
func (r AnalyzeRequest) Validate() error {
	if r.Logs == nil {
		return fmt.Errorf("%w: logs is required", ErrInvalidRequest)
	}
	return nil
}

// AnalyzeResponse carries the funnel results for an AnalyzeRequest.
type AnalyzeResponse struct {
	Results []Result `json:"results"`
}

// InvestigateRequest asks for the historical cases closest to a line.
type InvestigateRequest struct {
	Log  string `json:"log"`
	TopK int    `json:"top_k"`
}

// Normalize validates the request and fills TopK with DefaultTopK when unset.
func (r *InvestigateRequest) Normalize() error {
	if strings.TrimSpace(r.Log) == "" {
		return fmt.Errorf("%w: log is required", ErrInvalidRequest)
	}
	switch {
	case r.TopK == 0:
		r.TopK = DefaultTopK
	case r.TopK < 0 || r.TopK > MaxTopK:
		return fmt.Errorf("%w: top_k must be between 1 and %d", ErrInvalidRequest, MaxTopK)
	}
	return nil
}

// InvestigateResponse lists the nearest cases, closest first.
type InvestigateResponse struct {
	Cases []Example `json:"cases"`
}

// PatternsResponse lists mined attack patterns.
type PatternsResponse struct {
	Patterns []AttackPattern `json:"patterns"`
}

// HealthResponse reports component readiness.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}
