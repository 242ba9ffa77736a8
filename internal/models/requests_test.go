package models

import (
	"errors"
	"testing"
)

func TestAnalyzeRequestValidate(t *testing.T) {
	if err := (AnalyzeRequest{}).Validate(); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for missing logs, got %v", err)
	}
	if err := (AnalyzeRequest{Logs: []string{}}).Validate(); err != nil {
		t.Fatalf("empty logs should be accepted: %v", err)
	}
}

func TestInvestigateRequestNormalize(t *testing.T) {
	req := InvestigateRequest{Log: "GET /admin 403"}
	if err := req.Normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if req.TopK != DefaultTopK {
		t.Fatalf("expected default top_k %d, got %d", DefaultTopK, req.TopK)
	}

	invalid := []InvestigateRequest{
		{Log: "   ", TopK: 3},
		{Log: "x", TopK: -1},
		{Log: "x", TopK: MaxTopK + 1},
	}
	for _, r := range invalid {
		if err := r.Normalize(); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("expected ErrInvalidRequest for %+v, got %v", r, err)
		}
	}

	bounded := InvestigateRequest{Log: "x", TopK: MaxTopK}
	if err := bounded.Normalize(); err != nil || bounded.TopK != MaxTopK {
		t.Fatalf("top_k at the cap should pass unchanged: %v %d", err, bounded.TopK)
	}
}
