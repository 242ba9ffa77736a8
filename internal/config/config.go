package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures every setting the triage engine boots from.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Funnel     FunnelConfig     `yaml:"funnel"`
	Cache      CacheConfig      `yaml:"cache"`
	Index      IndexConfig      `yaml:"index"`
	Embedding  ModelConfig      `yaml:"embedding"`
	LLM        ModelConfig      `yaml:"llm"`
	Budget     BudgetConfig     `yaml:"budget"`
	Rules      RulesConfig      `yaml:"rules"`
	Graph      GraphConfig      `yaml:"graph"`
	Weaviate   WeaviateConfig   `yaml:"weaviate"`
	OpenSearch OpenSearchConfig `yaml:"opensearch"`
	Ingest     IngestConfig     `yaml:"ingest"`
}

// ServerConfig controls the gRPC, HTTP and metrics listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	HTTPAddress     string        `yaml:"httpAddress"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// FunnelConfig tunes the triage stages.
type FunnelConfig struct {
	Keywords        []string `yaml:"keywords"`
	SamplePercent   float64  `yaml:"samplePercent"`
	BatchSize       int      `yaml:"batchSize"`
	Concurrency     int      `yaml:"concurrency"`
	ExampleK        int      `yaml:"exampleK"`
	GraphDepth      int      `yaml:"graphDepth"`
	Reuse           bool     `yaml:"reuse"`
	AttackThreshold float32  `yaml:"attackThreshold"`
	NormalThreshold float32  `yaml:"normalThreshold"`
}

// CacheConfig sizes the recency cache and optionally shares it through Valkey.
type CacheConfig struct {
	Size         int           `yaml:"size"`
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	KeyPrefix    string        `yaml:"keyPrefix"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	VerdictTTL   time.Duration `yaml:"verdictTTL"`
	PatternsTTL  time.Duration `yaml:"patternsTTL"`
}

// IndexConfig selects the similarity backend and where it persists.
type IndexConfig struct {
	Backend    string `yaml:"backend"`
	Shards     int    `yaml:"shards"`
	VectorPath string `yaml:"vectorPath"`
	CasePath   string `yaml:"casePath"`
}

// ModelConfig configures an embedding or verdict provider.
type ModelConfig struct {
	Provider   string        `yaml:"provider"`
	Model      string        `yaml:"model"`
	APIKey     string        `yaml:"apiKey"`
	Endpoint   string        `yaml:"endpoint"`
	Dim        int           `yaml:"dim"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"maxRetries"`
}

// BudgetConfig caps verdict service spend.
type BudgetConfig struct {
	MaxHourlyCostUSD       float64 `yaml:"maxHourlyCostUSD"`
	PriceInPer1KTokens     float64 `yaml:"priceInPer1KTokens"`
	PriceOutPer1KTokens    float64 `yaml:"priceOutPer1KTokens"`
	OutputTokensPerVerdict int     `yaml:"outputTokensPerVerdict"`
	RequestsPerMinute      int     `yaml:"requestsPerMinute"`
}

// RulesConfig configures the rule-engine stage.
type RulesConfig struct {
	WazuhURL      string        `yaml:"wazuhURL"`
	WazuhUser     string        `yaml:"wazuhUser"`
	WazuhPassword string        `yaml:"wazuhPassword"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxRetries    int           `yaml:"maxRetries"`
	// SignaturePath opts into a local rule pack. Empty leaves the stage bypassed when Wazuh is
	// not configured.
	SignaturePath string `yaml:"signaturePath"`
}

// GraphConfig configures the Neo4j entity graph.
type GraphConfig struct {
	URI          string        `yaml:"uri"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	Database     string        `yaml:"database"`
	QueryTimeout time.Duration `yaml:"queryTimeout"`
	ConnectTries int           `yaml:"connectTries"`
}

// WeaviateConfig configures the case mirror.
type WeaviateConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"apiKey"`
	Timeout  time.Duration `yaml:"timeout"`
}

// OpenSearchConfig configures the document poller.
type OpenSearchConfig struct {
	URL          string        `yaml:"url"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	Index        string        `yaml:"index"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	PollInterval time.Duration `yaml:"pollInterval"`
	BatchSize    int           `yaml:"batchSize"`
}

// IngestConfig configures the file tailer.
type IngestConfig struct {
	TargetDir  string   `yaml:"targetDir"`
	Extensions []string `yaml:"extensions"`
	OutputFile string   `yaml:"outputFile"`
	OffsetDB   string   `yaml:"offsetDB"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_TRIAGE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the funnel cannot run with.
func (c *Config) Validate() error {
	if c.Funnel.SamplePercent <= 0 || c.Funnel.SamplePercent > 100 {
		return fmt.Errorf("funnel.samplePercent must be in (0,100], got %v", c.Funnel.SamplePercent)
	}
	if c.Funnel.BatchSize <= 0 {
		return fmt.Errorf("funnel.batchSize must be positive, got %d", c.Funnel.BatchSize)
	}
	if c.Cache.Size <= 0 {
		return fmt.Errorf("cache.size must be positive, got %d", c.Cache.Size)
	}
	if (c.Index.VectorPath == "") != (c.Index.CasePath == "") {
		return fmt.Errorf("index.vectorPath and index.casePath must be set together")
	}
	return nil
}

func defaultConfig() Config {
	dataDir := filepath.Join(homeDir(), "data")
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			HTTPAddress:     ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Funnel: FunnelConfig{
			Keywords:        []string{"error", "fail"},
			SamplePercent:   20,
			BatchSize:       10,
			Concurrency:     4,
			ExampleK:        3,
			GraphDepth:      1,
			AttackThreshold: 0.3,
			NormalThreshold: 0.2,
		},
		Cache: CacheConfig{
			Size:         10_000,
			Enabled:      false,
			KeyPrefix:    "triage:",
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			VerdictTTL:   24 * time.Hour,
			PatternsTTL:  10 * time.Minute,
		},
		Index: IndexConfig{
			Backend:    "flat",
			VectorPath: filepath.Join(dataDir, "vectors.lz4"),
			CasePath:   filepath.Join(dataDir, "cases.json.zst"),
		},
		Embedding: ModelConfig{
			Provider:   "hashing",
			Model:      "text-embedding-004",
			Dim:        384,
			Timeout:    30 * time.Second,
			MaxRetries: 2,
		},
		LLM: ModelConfig{
			Provider:   "heuristic",
			Model:      "gemini-1.5-flash-latest",
			Timeout:    60 * time.Second,
			MaxRetries: 2,
		},
		Budget: BudgetConfig{
			MaxHourlyCostUSD:       5.0,
			PriceInPer1KTokens:     0.000125,
			PriceOutPer1KTokens:    0.000375,
			OutputTokensPerVerdict: 150,
		},
		Rules: RulesConfig{
			Timeout:    5 * time.Second,
			MaxRetries: 2,
		},
		Graph: GraphConfig{
			Database:     "neo4j",
			QueryTimeout: 5 * time.Second,
			ConnectTries: 3,
		},
		Weaviate: WeaviateConfig{Timeout: 5 * time.Second},
		OpenSearch: OpenSearchConfig{
			Index:        "filebeat-*",
			Timeout:      10 * time.Second,
			MaxRetries:   2,
			PollInterval: 30 * time.Second,
			BatchSize:    100,
		},
		Ingest: IngestConfig{
			TargetDir:  "/var/log/LMS_LOG",
			Extensions: []string{".log"},
			OutputFile: "/var/log/analyzer_results.jsonl",
			OffsetDB:   filepath.Join(dataDir, "offsets.db"),
		},
	}
}

func homeDir() string {
	if v := os.Getenv("LMS_HOME"); v != "" {
		return v
	}
	return "."
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_TRIAGE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_TRIAGE_HTTP_ADDRESS"); v != "" {
		cfg.Server.HTTPAddress = v
	}
	if v := os.Getenv("MIRADOR_TRIAGE_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_TRIAGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_TRIAGE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}

	envInt("LMS_SAMPLE_TOP_PERCENT", func(n int) { cfg.Funnel.SamplePercent = float64(n) })
	envInt("LMS_LLM_BATCH_SIZE", func(n int) { cfg.Funnel.BatchSize = n })
	envFloat("LMS_SIM_T_ATTACK_L2_THRESHOLD", func(f float64) { cfg.Funnel.AttackThreshold = float32(f) })
	envFloat("LMS_SIM_N_NORMAL_L2_THRESHOLD", func(f float64) { cfg.Funnel.NormalThreshold = float32(f) })
	envBool("MIRADOR_TRIAGE_REUSE_VERDICTS", func(b bool) { cfg.Funnel.Reuse = b })

	envInt("LMS_CACHE_SIZE", func(n int) { cfg.Cache.Size = n })
	envBool("MIRADOR_TRIAGE_CACHE_ENABLED", func(b bool) { cfg.Cache.Enabled = b })
	if v := os.Getenv("MIRADOR_TRIAGE_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("MIRADOR_TRIAGE_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("MIRADOR_TRIAGE_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	envInt("MIRADOR_TRIAGE_CACHE_DB", func(n int) { cfg.Cache.DB = n })
	envBool("MIRADOR_TRIAGE_CACHE_TLS", func(b bool) { cfg.Cache.TLS = b })
	envDuration("MIRADOR_TRIAGE_CACHE_VERDICT_TTL", func(d time.Duration) { cfg.Cache.VerdictTTL = d })
	envDuration("MIRADOR_TRIAGE_CACHE_PATTERNS_TTL", func(d time.Duration) { cfg.Cache.PatternsTTL = d })

	if v := os.Getenv("LMS_VECTOR_DB_PATH"); v != "" {
		cfg.Index.VectorPath = v
	}
	if v := os.Getenv("LMS_CASE_DB_PATH"); v != "" {
		cfg.Index.CasePath = v
	}
	if v := os.Getenv("MIRADOR_TRIAGE_INDEX_BACKEND"); v != "" {
		cfg.Index.Backend = v
	}

	if v := os.Getenv("LMS_EMBED_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("LMS_EMBED_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("LMS_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("LMS_LLM_MODEL_NAME"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		cfg.LLM.Endpoint = v
		cfg.Embedding.Endpoint = v
	}
	if v := firstEnv("GOOGLE_API_KEY", "GEMINI_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
		cfg.Embedding.APIKey = v
	}

	envFloat("LMS_MAX_HOURLY_COST_USD", func(f float64) { cfg.Budget.MaxHourlyCostUSD = f })
	envFloat("LMS_PRICE_IN_PER_1K_TOKENS", func(f float64) { cfg.Budget.PriceInPer1KTokens = f })
	envFloat("LMS_PRICE_OUT_PER_1K_TOKENS", func(f float64) { cfg.Budget.PriceOutPer1KTokens = f })

	if v := os.Getenv("WAZUH_API_URL"); v != "" {
		cfg.Rules.WazuhURL = v
	}
	if v := os.Getenv("WAZUH_API_USER"); v != "" {
		cfg.Rules.WazuhUser = v
	}
	if v := os.Getenv("WAZUH_API_PASSWORD"); v != "" {
		cfg.Rules.WazuhPassword = v
	}
	if v := os.Getenv("MIRADOR_TRIAGE_SIGNATURES_PATH"); v != "" {
		cfg.Rules.SignaturePath = v
	}

	if v := os.Getenv("NEO4J_URI"); v != "" {
		cfg.Graph.URI = v
	}
	if v := os.Getenv("NEO4J_USER"); v != "" {
		cfg.Graph.Username = v
	}
	if v := os.Getenv("NEO4J_PASSWORD"); v != "" {
		cfg.Graph.Password = v
	}

	if v := os.Getenv("MIRADOR_TRIAGE_WEAVIATE_URL"); v != "" {
		cfg.Weaviate.Endpoint = v
	}
	if v := os.Getenv("MIRADOR_TRIAGE_WEAVIATE_API_KEY"); v != "" {
		cfg.Weaviate.APIKey = v
	}

	if v := os.Getenv("OPENSEARCH_URL"); v != "" {
		cfg.OpenSearch.URL = v
	}
	if v := os.Getenv("OPENSEARCH_USER"); v != "" {
		cfg.OpenSearch.Username = v
	}
	if v := os.Getenv("OPENSEARCH_PASSWORD"); v != "" {
		cfg.OpenSearch.Password = v
	}
	envInt("POLL_INTERVAL_SEC", func(n int) { cfg.OpenSearch.PollInterval = time.Duration(n) * time.Second })

	if v := os.Getenv("LMS_TARGET_LOG_DIR"); v != "" {
		cfg.Ingest.TargetDir = v
	}
	if v := os.Getenv("LMS_ANALYSIS_OUTPUT_FILE"); v != "" {
		cfg.Ingest.OutputFile = v
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func envInt(key string, set func(int)) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			set(n)
		}
	}
}

func envFloat(key string, set func(float64)) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			set(f)
		}
	}
}

func envBool(key string, set func(bool)) {
	if v := os.Getenv(key); v != "" {
		set(strings.EqualFold(v, "true") || v == "1")
	}
}

func envDuration(key string, set func(time.Duration)) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			set(d)
		}
	}
}
