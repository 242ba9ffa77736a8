package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-triage/internal/cache"
	"github.com/miradorstack/mirador-triage/internal/httpjson"
	"github.com/miradorstack/mirador-triage/internal/models"
)

const (
	caseClass    = "TriageCase"
	patternClass = "AttackPattern"
)

// WeaviateRepo mirrors triage cases and mined attack patterns into Weaviate so that other
// replicas and dashboards can read them.
type WeaviateRepo struct {
	endpoint   string
	client     *httpjson.Client
	cache      cache.Provider
	patternTTL time.Duration
}

// NewWeaviateRepo constructs a Weaviate client. An empty endpoint turns every write into a no-op.
func NewWeaviateRepo(endpoint, apiKey string, timeout time.Duration, cacheProvider cache.Provider, patternTTL time.Duration, opts ...httpjson.Option) *WeaviateRepo {
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if patternTTL < 0 {
		patternTTL = 0
	}
	options := append([]httpjson.Option{httpjson.WithAuth(httpjson.Auth{Bearer: apiKey})}, opts...)
	return &WeaviateRepo{
		endpoint:   strings.TrimRight(endpoint, "/"),
		client:     httpjson.New(timeout, options...),
		cache:      cacheProvider,
		patternTTL: patternTTL,
	}
}

// Enabled reports whether an endpoint is configured.
func (r *WeaviateRepo) Enabled() bool {
	return r != nil && r.endpoint != ""
}

// StoreCase persists a case with its vector. The object id is derived from the line so that
// re-analysing a line overwrites its earlier case.
func (r *WeaviateRepo) StoreCase(ctx context.Context, record models.CaseRecord, vector []float32) error {
	if r == nil {
		return fmt.Errorf("weaviate repo not initialised")
	}
	if r.endpoint == "" {
		return nil
	}

	payload := map[string]any{
		"class":      caseClass,
		"id":         caseID(record.Line),
		"properties": buildCaseProperties(record),
	}
	if len(vector) > 0 {
		payload["vector"] = vector
	}

	if err := r.client.PostJSON(ctx, r.endpoint+"/v1/objects", payload, nil); err != nil {
		return fmt.Errorf("weaviate store case failed: %w", err)
	}
	return nil
}

// StorePatterns persists mined attack patterns and drops the cached copy.
func (r *WeaviateRepo) StorePatterns(ctx context.Context, patterns []models.AttackPattern) error {
	if r == nil {
		return fmt.Errorf("weaviate repo not initialised")
	}
	if r.endpoint == "" {
		return nil
	}

	for _, pattern := range patterns {
		payload := map[string]any{
			"class":      patternClass,
			"properties": buildPatternProperties(pattern),
		}
		if pattern.ID != "" {
			payload["id"] = uuid.NewSHA1(uuid.NameSpaceURL, []byte(pattern.ID)).String()
		}
		if err := r.client.PostJSON(ctx, r.endpoint+"/v1/objects", payload, nil); err != nil {
			return fmt.Errorf("store pattern failed: %w", err)
		}
	}
	_ = r.cache.Del(ctx, cachePatternsKey())
	return nil
}

// FetchPatterns returns the stored attack patterns, most prevalent first. Results are cached
// for the configured TTL.
func (r *WeaviateRepo) FetchPatterns(ctx context.Context, limit int) ([]models.AttackPattern, error) {
	if r == nil {
		return nil, fmt.Errorf("weaviate repo not initialised")
	}
	if r.endpoint == "" {
		return nil, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	cacheKey := cachePatternsKey()
	if r.patternTTL > 0 {
		if data, err := r.cache.Get(ctx, cacheKey); err == nil {
			var cached []models.AttackPattern
			if err := json.Unmarshal(data, &cached); err == nil {
				return capPatterns(cached, limit), nil
			}
		}
	}

	gql := map[string]any{
		"query": fmt.Sprintf(`{
          Get {
            %s(
              limit: %d
              sort: [{path: ["prevalence"], order: desc}]
            ) {
              patternId
              attackType
              description
              count
              prevalence
              lastSeen
              topEntities
              samples
            }
          }
        }`, patternClass, limit),
	}

	var response struct {
		Data struct {
			Get struct {
				AttackPattern []struct {
					PatternID   string   `json:"patternId"`
					AttackType  string   `json:"attackType"`
					Description string   `json:"description"`
					Count       int      `json:"count"`
					Prevalence  float64  `json:"prevalence"`
					LastSeen    string   `json:"lastSeen"`
					TopEntities []string `json:"topEntities"`
					Samples     []string `json:"samples"`
				} `json:"AttackPattern"`
			} `json:"Get"`
		} `json:"data"`
	}
	if err := r.client.PostJSON(ctx, r.endpoint+"/v1/graphql", gql, &response); err != nil {
		return nil, fmt.Errorf("weaviate fetch patterns failed: %w", err)
	}

	patterns := make([]models.AttackPattern, 0, len(response.Data.Get.AttackPattern))
	for _, p := range response.Data.Get.AttackPattern {
		lastSeen, _ := time.Parse(time.RFC3339, p.LastSeen)
		patterns = append(patterns, models.AttackPattern{
			ID:          p.PatternID,
			AttackType:  p.AttackType,
			Description: p.Description,
			Count:       p.Count,
			Prevalence:  p.Prevalence,
			LastSeen:    lastSeen,
			TopEntities: p.TopEntities,
			Samples:     p.Samples,
		})
	}

	if r.patternTTL > 0 && len(patterns) > 0 {
		if payload, err := json.Marshal(patterns); err == nil {
			_ = r.cache.Set(ctx, cacheKey, payload, r.patternTTL)
		}
	}
	return patterns, nil
}

func cachePatternsKey() string {
	return "weaviate:patterns"
}

func capPatterns(patterns []models.AttackPattern, limit int) []models.AttackPattern {
	if len(patterns) > limit {
		return patterns[:limit]
	}
	return patterns
}

func caseID(line string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(line)).String()
}

func buildCaseProperties(record models.CaseRecord) map[string]any {
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	entities := make([]string, 0, len(record.Verdict.Entities))
	for _, e := range record.Verdict.Entities {
		entities = append(entities, e.ID)
	}
	return map[string]any{
		"line":       record.Line,
		"source":     record.Source,
		"isAttack":   record.Verdict.IsAttack,
		"attackType": record.Verdict.AttackType,
		"reason":     record.Verdict.Reason,
		"entities":   entities,
		"createdAt":  createdAt.Format(time.RFC3339),
	}
}

func buildPatternProperties(pattern models.AttackPattern) map[string]any {
	lastSeen := pattern.LastSeen
	if lastSeen.IsZero() {
		lastSeen = time.Now().UTC()
	}
	return map[string]any{
		"patternId":   pattern.ID,
		"attackType":  pattern.AttackType,
		"description": pattern.Description,
		"count":       pattern.Count,
		"prevalence":  pattern.Prevalence,
		"lastSeen":    lastSeen.Format(time.RFC3339),
		"topEntities": pattern.TopEntities,
		"samples":     pattern.Samples,
	}
}
