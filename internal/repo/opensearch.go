package repo

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/miradorstack/mirador-triage/internal/httpjson"
	"github.com/miradorstack/mirador-triage/internal/models"
)

// DefaultIndexPattern is searched when no index is configured.
const DefaultIndexPattern = "filebeat-*"

// completedField flags documents the triage engine has already handled.
const completedField = "ai_analysis_completed"

// OpenSearchConfig configures the OpenSearch client.
type OpenSearchConfig struct {
	URL        string
	Username   string
	Password   string
	Index      string
	Timeout    time.Duration
	MaxRetries int
}

// Document is one log document awaiting analysis.
type Document struct {
	Index   string
	ID      string
	Message string
}

// OpenSearchClient reads unanalysed log documents and writes verdicts back onto them.
type OpenSearchClient struct {
	baseURL string
	index   string
	client  *httpjson.Client
}

// NewOpenSearchClient constructs a client. An empty URL yields a disabled client.
func NewOpenSearchClient(cfg OpenSearchConfig, opts ...httpjson.Option) *OpenSearchClient {
	index := cfg.Index
	if index == "" {
		index = DefaultIndexPattern
	}
	options := []httpjson.Option{
		httpjson.WithAuth(httpjson.Auth{Username: cfg.Username, Password: cfg.Password}),
		httpjson.WithRetries(cfg.MaxRetries+1, 500*time.Millisecond),
	}
	options = append(options, opts...)
	return &OpenSearchClient{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		index:   index,
		client:  httpjson.New(cfg.Timeout, options...),
	}
}

// Enabled reports whether a URL is configured.
func (c *OpenSearchClient) Enabled() bool {
	return c != nil && c.baseURL != ""
}

// SearchUnanalysed returns up to size documents not yet flagged as analysed.
func (c *OpenSearchClient) SearchUnanalysed(ctx context.Context, size int) ([]Document, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("opensearch URL not configured")
	}
	if size <= 0 {
		size = 100
	}

	payload := map[string]any{
		"size": size,
		"query": map[string]any{
			"bool": map[string]any{
				"must_not": map[string]any{
					"term": map[string]any{completedField: true},
				},
			},
		},
	}

	var response struct {
		Hits struct {
			Hits []struct {
				Index  string `json:"_index"`
				ID     string `json:"_id"`
				Source struct {
					Message string `json:"message"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}

	endpoint := httpjson.Join(c.baseURL, c.index+"/_search")
	if err := c.client.PostJSON(ctx, endpoint, payload, &response); err != nil {
		return nil, fmt.Errorf("opensearch search request failed: %w", err)
	}

	docs := make([]Document, 0, len(response.Hits.Hits))
	for _, hit := range response.Hits.Hits {
		docs = append(docs, Document{Index: hit.Index, ID: hit.ID, Message: hit.Source.Message})
	}
	return docs, nil
}

// MarkAnalysed flags doc as handled. A nil analysis marks a document the funnel filtered out.
func (c *OpenSearchClient) MarkAnalysed(ctx context.Context, doc Document, analysis *models.Verdict) error {
	if !c.Enabled() {
		return fmt.Errorf("opensearch URL not configured")
	}
	if doc.Index == "" || doc.ID == "" {
		return fmt.Errorf("document index and id are required")
	}

	fields := map[string]any{completedField: true}
	if analysis != nil {
		fields["analysis"] = analysis
	}

	endpoint := httpjson.Join(c.baseURL, url.PathEscape(doc.Index)+"/_update/"+url.PathEscape(doc.ID))
	if err := c.client.PostJSON(ctx, endpoint, map[string]any{"doc": fields}, nil); err != nil {
		return fmt.Errorf("opensearch update %s/%s failed: %w", doc.Index, doc.ID, err)
	}
	return nil
}
