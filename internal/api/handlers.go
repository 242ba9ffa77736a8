package api

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-triage/internal/models"
)

// FromProtoAnalyzeRequest maps the gRPC envelope into a domain AnalyzeRequest.
func FromProtoAnalyzeRequest(in *structpb.Struct) (models.AnalyzeRequest, error) {
	var req models.AnalyzeRequest
	if err := DecodeStruct(in, &req); err != nil {
		return models.AnalyzeRequest{}, err
	}
	if err := req.Validate(); err != nil {
		return models.AnalyzeRequest{}, err
	}
	return req, nil
}

// ToProtoAnalyzeResponse converts funnel results into the gRPC envelope.
func ToProtoAnalyzeResponse(resp models.AnalyzeResponse) (*structpb.Struct, error) {
	if resp.Results == nil {
		resp.Results = []models.Result{}
	}
	return EncodeStruct(resp)
}

// FromProtoInvestigateRequest maps the gRPC envelope into a normalised InvestigateRequest.
func FromProtoInvestigateRequest(in *structpb.Struct) (models.InvestigateRequest, error) {
	var req models.InvestigateRequest
	if err := DecodeStruct(in, &req); err != nil {
		return models.InvestigateRequest{}, err
	}
	if err := req.Normalize(); err != nil {
		return models.InvestigateRequest{}, err
	}
	return req, nil
}

// ToProtoInvestigateResponse converts nearest cases into the gRPC envelope.
func ToProtoInvestigateResponse(resp models.InvestigateResponse) (*structpb.Struct, error) {
	if resp.Cases == nil {
		resp.Cases = []models.Example{}
	}
	return EncodeStruct(resp)
}

// ToProtoPatternsResponse maps attack patterns into the gRPC envelope.
func ToProtoPatternsResponse(resp models.PatternsResponse) (*structpb.Struct, error) {
	if resp.Patterns == nil {
		resp.Patterns = []models.AttackPattern{}
	}
	return EncodeStruct(resp)
}

// ToProtoHealthResponse maps a health report into the gRPC envelope.
func ToProtoHealthResponse(resp models.HealthResponse) (*structpb.Struct, error) {
	return EncodeStruct(resp)
}

// DecodeStruct unmarshals a gRPC envelope into a domain value.
func DecodeStruct(in *structpb.Struct, into any) error {
	if in == nil {
		return fmt.Errorf("%w: request is nil", models.ErrInvalidRequest)
	}
	data, err := protojson.Marshal(in)
	if err != nil {
		return fmt.Errorf("%w: encode envelope: %v", models.ErrInvalidRequest, err)
	}
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
	}
	return nil
}

// EncodeStruct marshals a domain value into a gRPC envelope through its JSON form.
func EncodeStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return out, nil
}
