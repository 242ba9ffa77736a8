package rules

import (
	"context"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-triage/internal/httpjson"
)

// WazuhConfig configures the Wazuh logtest client.
type WazuhConfig struct {
	URL        string
	User       string
	Password   string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *httpjson.Client
}

// WazuhClient asks a Wazuh manager whether a line raises an alert via its logtest endpoint.
type WazuhClient struct {
	endpoint string
	client   *httpjson.Client
	logger   *slog.Logger
}

type logtestRequest struct {
	Event string `json:"event"`
}

type logtestResponse struct {
	TotalAlerts int   `json:"total_alerts"`
	Hits        int   `json:"hits"`
	Data        []any `json:"data"`
}

// NewWazuhClient constructs a client posting to {URL}/logtest with basic auth.
func NewWazuhClient(cfg WazuhConfig, logger *slog.Logger) *WazuhClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = httpjson.New(cfg.Timeout,
			httpjson.WithAuth(httpjson.Auth{Username: cfg.User, Password: cfg.Password}),
			httpjson.WithRetries(cfg.MaxRetries+1, 250*time.Millisecond),
		)
	}
	return &WazuhClient{
		endpoint: httpjson.Join(cfg.URL, "logtest"),
		client:   client,
		logger:   logger,
	}
}

// Confirms reports whether Wazuh raised any alert for line. Transport or decode failures are
// logged and count as no alert.
func (w *WazuhClient) Confirms(ctx context.Context, line string) bool {
	var resp logtestResponse
	if err := w.client.PostJSON(ctx, w.endpoint, logtestRequest{Event: line}, &resp); err != nil {
		w.logger.Warn("wazuh logtest failed", slog.String("stage", "rules"), slog.String("line", truncate(line, 200)), slog.Any("error", err))
		return false
	}
	return resp.TotalAlerts > 0 || resp.Hits > 0 || len(resp.Data) > 0
}

// Enabled reports true.
func (w *WazuhClient) Enabled() bool { return true }

// Name implements RuleEngine.
func (w *WazuhClient) Name() string { return "wazuh" }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
