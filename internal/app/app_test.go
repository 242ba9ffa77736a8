package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-triage/internal/config"
	"github.com/miradorstack/mirador-triage/internal/models"
	"github.com/miradorstack/mirador-triage/internal/verdict"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("MIRADOR_TRIAGE_CONFIG", "")
	t.Setenv("LMS_HOME", dir)
	for _, key := range []string{"NEO4J_URI", "OPENSEARCH_URL", "WAZUH_API_URL", "MIRADOR_TRIAGE_WEAVIATE_URL", "LMS_LLM_PROVIDER", "LMS_EMBED_PROVIDER"} {
		t.Setenv(key, "")
	}

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Funnel.SamplePercent = 100
	cfg.Embedding.Dim = 64
	cfg.Rules.SignaturePath = filepath.Join(dir, "absent.yaml")
	cfg.Ingest.OffsetDB = ":memory:"
	cfg.Ingest.TargetDir = filepath.Join(dir, "logs")
	cfg.Ingest.OutputFile = filepath.Join(dir, "results.jsonl")
	return cfg
}

func TestBuildAnalyzeAndReload(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	a, err := Build(ctx, cfg, nil)
	require.NoError(t, err)

	resp, err := a.Service.Analyze(ctx, models.AnalyzeRequest{Logs: []string{
		`10.0.0.5 - - "GET /etc/passwd HTTP/1.1" 404 error`,
		`10.0.0.6 - - "GET /index.html HTTP/1.1" 200 ok`,
		`10.0.0.7 - - "GET /?id=1 OR 1=1 HTTP/1.1" 500 failed`,
	}})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)

	byType := map[string]bool{}
	for _, r := range resp.Results {
		byType[r.Verdict.AttackType] = r.Verdict.IsAttack
	}
	assert.True(t, byType[verdict.AttackSensitiveFile])
	assert.True(t, byType[verdict.AttackSQLInjection])
	require.NoError(t, a.Close(ctx))
	require.NoError(t, a.Close(ctx))

	_, err = os.Stat(cfg.Index.VectorPath)
	require.NoError(t, err)

	reloaded, err := Build(ctx, cfg, nil)
	require.NoError(t, err)
	defer reloaded.Close(ctx)
	assert.Equal(t, 2, reloaded.Index.Len())

	investigated, err := reloaded.Service.Investigate(ctx, models.InvestigateRequest{Log: `10.0.0.5 - - "GET /etc/passwd HTTP/1.1" 404 error`, TopK: 1})
	require.NoError(t, err)
	require.Len(t, investigated.Cases, 1)
	assert.Equal(t, float32(0), investigated.Cases[0].Distance)
}

func TestComponentsReportFallbacks(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, testConfig(t), nil)
	require.NoError(t, err)
	defer a.Close(ctx)

	components := a.Components()
	assert.Equal(t, "noop", components["graph"])
	assert.Equal(t, "disabled", components["weaviate"])
	assert.Equal(t, "disabled", components["opensearch"])
	assert.Equal(t, "passthrough", components["rules"])
	assert.Equal(t, verdict.ProviderHeuristic, components["verdicts"])
}

func TestIngestWiring(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	a, err := Build(ctx, cfg, nil)
	require.NoError(t, err)
	defer a.Close(ctx)

	assert.Nil(t, a.NewPoller())

	require.NoError(t, os.MkdirAll(cfg.Ingest.TargetDir, 0o755))
	logPath := filepath.Join(cfg.Ingest.TargetDir, "access.log")
	require.NoError(t, os.WriteFile(logPath, []byte("GET /etc/passwd error\n"), 0o644))

	tailer, err := a.NewTailer()
	require.NoError(t, err)
	n, err := tailer.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	data, err := os.ReadFile(cfg.Ingest.OutputFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Sensitive File Access")
}

func TestBuildRequiresConfig(t *testing.T) {
	_, err := Build(context.Background(), nil, nil)
	require.Error(t, err)
}
