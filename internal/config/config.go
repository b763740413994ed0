// Package config loads amanrag settings from defaults, YAML files and
// AMANRAG_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/amanrag/internal/cache"
	"github.com/Aman-CERP/amanrag/internal/embed"
	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/logging"
	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/websearch"
)

// ProjectConfigName is the per-directory config file.
const ProjectConfigName = ".amanrag.yaml"

// Config is the complete amanrag configuration.
type Config struct {
	Version  int            `yaml:"version" json:"version"`
	Paths    PathsConfig    `yaml:"paths" json:"paths"`
	Search   SearchConfig   `yaml:"search" json:"search"`
	Cache    CacheConfig    `yaml:"cache" json:"cache"`
	Backends BackendsConfig `yaml:"backends" json:"backends"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

// PathsConfig locates on-disk state.
type PathsConfig struct {
	// DataDir holds the corpus database, indexes, cache and telemetry.
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// SearchConfig tunes the retrieval pipeline.
type SearchConfig struct {
	// SemanticWeight and KeywordWeight must sum to 1.0.
	SemanticWeight float64 `yaml:"semantic_weight" json:"semantic_weight"`
	KeywordWeight  float64 `yaml:"keyword_weight" json:"keyword_weight"`

	// FusionMethod is "weighted" or "rrf".
	FusionMethod string `yaml:"fusion_method" json:"fusion_method"`
	RRFConstant  int    `yaml:"rrf_constant" json:"rrf_constant"`

	// KeywordBackend is "memory" (rebuilt from the corpus) or "bleve".
	KeywordBackend string `yaml:"keyword_backend" json:"keyword_backend"`
	Stemming       bool   `yaml:"stemming" json:"stemming"`
	StopWords      bool   `yaml:"stop_words" json:"stop_words"`

	TopK           int `yaml:"top_k" json:"top_k"`
	MaxQueryLength int `yaml:"max_query_length" json:"max_query_length"`

	Rerank    RerankConfig    `yaml:"rerank" json:"rerank"`
	Diversity DiversityConfig `yaml:"diversity" json:"diversity"`
	Dedup     DedupConfig     `yaml:"dedup" json:"dedup"`
	Limits    LimitsConfig    `yaml:"limits" json:"limits"`

	// PriorityPreset is one of documents-first, web-first, balanced,
	// authority-first, recent-first.
	PriorityPreset    string `yaml:"priority_preset" json:"priority_preset"`
	MinTruncateTokens int    `yaml:"min_truncate_tokens" json:"min_truncate_tokens"`

	// TokenBudget is the model context window; ReservedTokens is kept
	// for the system prompt and history.
	TokenBudget    int `yaml:"token_budget" json:"token_budget"`
	ReservedTokens int `yaml:"reserved_tokens" json:"reserved_tokens"`

	// TokenEncoding is a tiktoken encoding name or "heuristic".
	TokenEncoding string `yaml:"token_encoding" json:"token_encoding"`
}

// RerankConfig configures the reranker.
type RerankConfig struct {
	// Strategy is score, cross_encoder, hybrid or none.
	Strategy   string  `yaml:"strategy" json:"strategy"`
	TopK       int     `yaml:"top_k" json:"top_k"`
	MaxResults int     `yaml:"max_results" json:"max_results"`
	MinScore   float64 `yaml:"min_score" json:"min_score"`
}

// DiversityConfig configures MMR selection.
type DiversityConfig struct {
	Lambda     float64 `yaml:"lambda" json:"lambda"`
	Similarity string  `yaml:"similarity" json:"similarity"`
}

// DedupConfig configures web result deduplication.
type DedupConfig struct {
	ContentThreshold     float64 `yaml:"content_threshold" json:"content_threshold"`
	TitleThreshold       float64 `yaml:"title_threshold" json:"title_threshold"`
	PreserveHighestScore bool    `yaml:"preserve_highest_score" json:"preserve_highest_score"`
	MaxProcessingTime    string  `yaml:"max_processing_time" json:"max_processing_time"`
	Window               int     `yaml:"window" json:"window"`
}

// LimitsConfig configures dynamic result limits.
type LimitsConfig struct {
	TokensPerDocument int     `yaml:"tokens_per_document" json:"tokens_per_document"`
	TokensPerWeb      int     `yaml:"tokens_per_web" json:"tokens_per_web"`
	DocumentRatio     float64 `yaml:"document_ratio" json:"document_ratio"`
	MinDocuments      int     `yaml:"min_documents" json:"min_documents"`
	MaxDocuments      int     `yaml:"max_documents" json:"max_documents"`
	MinWeb            int     `yaml:"min_web" json:"min_web"`
	MaxWeb            int     `yaml:"max_web" json:"max_web"`
}

// CacheConfig configures the similarity cache.
type CacheConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Backend is "memory" or "badger".
	Backend             string  `yaml:"backend" json:"backend"`
	MaxEntries          int     `yaml:"max_entries" json:"max_entries"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" json:"similarity_threshold"`
	MaxScanKeys         int     `yaml:"max_scan_keys" json:"max_scan_keys"`
	Workers             int     `yaml:"workers" json:"workers"`

	// TargetHitRate is the hit rate 'cache stats' compares against.
	// It is a tuning target, not enforced.
	TargetHitRate float64 `yaml:"target_hit_rate" json:"target_hit_rate"`
}

// BackendsConfig configures external providers.
type BackendsConfig struct {
	Embeddings   EmbeddingsConfig   `yaml:"embeddings" json:"embeddings"`
	Web          WebConfig          `yaml:"web" json:"web"`
	CrossEncoder CrossEncoderConfig `yaml:"cross_encoder" json:"cross_encoder"`
	Timeouts     TimeoutsConfig     `yaml:"timeouts" json:"timeouts"`
	Breaker      BreakerConfig      `yaml:"breaker" json:"breaker"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "ollama" or "static".
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	CacheSize  int    `yaml:"cache_size" json:"cache_size"`
	// Fallback switches to static embeddings when Ollama is unreachable.
	Fallback bool `yaml:"fallback" json:"fallback"`
}

// WebConfig configures the web search provider.
type WebConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// APIKey is normally supplied through AMANRAG_WEB_API_KEY.
	APIKey            string  `yaml:"api_key,omitempty" json:"-"`
	MaxResults        int     `yaml:"max_results" json:"max_results"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `yaml:"burst" json:"burst"`
}

// CrossEncoderConfig configures the optional rerank server.
type CrossEncoderConfig struct {
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	Model    string `yaml:"model" json:"model"`
}

// TimeoutsConfig holds per-backend deadlines as duration strings.
type TimeoutsConfig struct {
	Keyword string `yaml:"keyword" json:"keyword"`
	Vector  string `yaml:"vector" json:"vector"`
	Embed   string `yaml:"embed" json:"embed"`
	Web     string `yaml:"web" json:"web"`
}

// BreakerConfig configures the per-backend circuit breakers.
type BreakerConfig struct {
	MaxFailures  int    `yaml:"max_failures" json:"max_failures"`
	ResetTimeout string `yaml:"reset_timeout" json:"reset_timeout"`
}

// LoggingConfig configures the JSON log file.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	FilePath  string `yaml:"file_path" json:"file_path"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// NewConfig creates a Config with the engine defaults.
func NewConfig() *Config {
	engine := search.DefaultRetrieverConfig()
	limits := engine.Limits
	dedup := engine.Dedup
	cacheDefaults := cache.DefaultConfig()
	breaker := search.DefaultBreakerConfig()
	logs := logging.DefaultConfig()
	rate := websearch.DefaultRateLimit()

	return &Config{
		Version: 1,
		Paths: PathsConfig{
			DataDir: DefaultDataDir(),
		},
		Search: SearchConfig{
			SemanticWeight:    engine.Weights.Semantic,
			KeywordWeight:     engine.Weights.Keyword,
			FusionMethod:      string(engine.FusionMethod),
			RRFConstant:       engine.RRFConstant,
			KeywordBackend:    string(store.KeywordBackendMemory),
			Stemming:          true,
			StopWords:         true,
			TopK:              engine.TopK,
			MaxQueryLength:    engine.MaxQueryLength,
			PriorityPreset:    engine.PriorityPreset,
			MinTruncateTokens: engine.Select.MinTruncateTokens,
			TokenBudget:       8000,
			ReservedTokens:    2000,
			TokenEncoding:     search.DefaultEncoding,
			Rerank: RerankConfig{
				Strategy:   string(engine.Rerank.Strategy),
				TopK:       engine.Rerank.TopK,
				MaxResults: engine.Rerank.MaxResults,
			},
			Diversity: DiversityConfig{
				Lambda:     engine.Lambda,
				Similarity: string(engine.Similarity),
			},
			Dedup: DedupConfig{
				ContentThreshold:     dedup.ContentThreshold,
				TitleThreshold:       dedup.TitleThreshold,
				PreserveHighestScore: dedup.PreserveHighestScore,
				MaxProcessingTime:    dedup.MaxProcessingTime.String(),
				Window:               dedup.Window,
			},
			Limits: LimitsConfig{
				TokensPerDocument: limits.TokensPerDocument,
				TokensPerWeb:      limits.TokensPerWeb,
				DocumentRatio:     limits.DocumentRatio,
				MinDocuments:      limits.MinDocuments,
				MaxDocuments:      limits.MaxDocuments,
				MinWeb:            limits.MinWeb,
				MaxWeb:            limits.MaxWeb,
			},
		},
		Cache: CacheConfig{
			Enabled:             true,
			Backend:             "badger",
			MaxEntries:          10000,
			SimilarityThreshold: cacheDefaults.SimilarityThreshold,
			MaxScanKeys:         cacheDefaults.MaxScanKeys,
			Workers:             cacheDefaults.Workers,
			TargetHitRate:       0.30,
		},
		Backends: BackendsConfig{
			Embeddings: EmbeddingsConfig{
				Provider:   string(embed.ProviderOllama),
				Model:      embed.DefaultOllamaModel,
				OllamaHost: embed.DefaultOllamaHost,
				CacheSize:  1000,
				Fallback:   true,
			},
			Web: WebConfig{
				Enabled:           false, // needs an API key
				Endpoint:          websearch.DefaultEndpoint,
				MaxResults:        websearch.DefaultMaxResults,
				RequestsPerSecond: rate.RequestsPerSecond,
				Burst:             rate.BurstSize,
			},
			CrossEncoder: CrossEncoderConfig{
				Endpoint: search.DefaultCrossEncoderEndpoint,
				Model:    search.DefaultCrossEncoderModel,
			},
			Timeouts: TimeoutsConfig{
				Keyword: engine.KeywordTimeout.String(),
				Vector:  engine.VectorTimeout.String(),
				Embed:   engine.EmbedTimeout.String(),
				Web:     engine.WebTimeout.String(),
			},
			Breaker: BreakerConfig{
				MaxFailures:  breaker.MaxFailures,
				ResetTimeout: breaker.ResetTimeout.String(),
			},
		},
		Logging: LoggingConfig{
			Level:     logs.Level,
			FilePath:  logs.FilePath,
			MaxSizeMB: logs.MaxSizeMB,
			MaxFiles:  logs.MaxFiles,
		},
	}
}

// DefaultDataDir returns ~/.amanrag/data, or a temp path without a home.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".amanrag", "data")
	}
	return filepath.Join(home, ".amanrag", "data")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/amanrag/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/amanrag/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "amanrag", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "amanrag", "config.yaml")
	}
	return filepath.Join(home, ".config", "amanrag", "config.yaml")
}

// Load loads configuration for dir.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/amanrag/config.yaml)
//  3. Project config (.amanrag.yaml in dir)
//  4. Environment variables (AMANRAG_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	for _, path := range []string{GetUserConfigPath(), filepath.Join(dir, ProjectConfigName)} {
		if err := cfg.loadYAML(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFile loads a single config file over the defaults, without other
// layers or environment overrides.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// loadYAML decodes path onto the current values, so keys missing from
// the file keep their earlier layer's value. Unknown keys are rejected.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return amanerrors.ConfigError(fmt.Sprintf("failed to parse config file %s", path), err).
			WithDetail("path", path)
	}
	return nil
}

// applyEnvOverrides applies AMANRAG_* environment variable overrides.
// A malformed value is an error rather than silently ignored.
func (c *Config) applyEnvOverrides() error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("AMANRAG_DATA_DIR", &c.Paths.DataDir)

	float("AMANRAG_SEMANTIC_WEIGHT", &c.Search.SemanticWeight)
	float("AMANRAG_KEYWORD_WEIGHT", &c.Search.KeywordWeight)
	str("AMANRAG_FUSION_METHOD", &c.Search.FusionMethod)
	integer("AMANRAG_RRF_CONSTANT", &c.Search.RRFConstant)
	str("AMANRAG_KEYWORD_BACKEND", &c.Search.KeywordBackend)
	str("AMANRAG_RERANK_STRATEGY", &c.Search.Rerank.Strategy)
	str("AMANRAG_PRIORITY_PRESET", &c.Search.PriorityPreset)
	integer("AMANRAG_TOKEN_BUDGET", &c.Search.TokenBudget)
	str("AMANRAG_TOKEN_ENCODING", &c.Search.TokenEncoding)

	boolean("AMANRAG_CACHE_ENABLED", &c.Cache.Enabled)
	str("AMANRAG_CACHE_BACKEND", &c.Cache.Backend)

	str("AMANRAG_EMBEDDINGS_PROVIDER", &c.Backends.Embeddings.Provider)
	str("AMANRAG_EMBEDDINGS_MODEL", &c.Backends.Embeddings.Model)
	str("AMANRAG_OLLAMA_HOST", &c.Backends.Embeddings.OllamaHost)

	boolean("AMANRAG_WEB_ENABLED", &c.Backends.Web.Enabled)
	str("AMANRAG_WEB_ENDPOINT", &c.Backends.Web.Endpoint)
	str("AMANRAG_WEB_API_KEY", &c.Backends.Web.APIKey)

	str("AMANRAG_CROSS_ENCODER_ENDPOINT", &c.Backends.CrossEncoder.Endpoint)

	str("AMANRAG_LOG_LEVEL", &c.Logging.Level)

	if len(errs) > 0 {
		return amanerrors.ConfigError("invalid environment override", errors.Join(errs...))
	}
	return nil
}

// Validate checks ranges and enumerations and returns every problem found.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	unit := func(name string, v float64) {
		check(v >= 0 && v <= 1, "%s must be between 0 and 1, got %g", name, v)
	}

	s := c.Search
	unit("search.semantic_weight", s.SemanticWeight)
	unit("search.keyword_weight", s.KeywordWeight)
	sum := s.SemanticWeight + s.KeywordWeight
	check(math.Abs(sum-1.0) <= 0.01, "search.semantic_weight + search.keyword_weight must equal 1.0, got %.2f", sum)

	check(oneOf(s.FusionMethod, string(search.FusionWeighted), string(search.FusionRRF)),
		"search.fusion_method must be 'weighted' or 'rrf', got %q", s.FusionMethod)
	check(s.RRFConstant > 0, "search.rrf_constant must be positive, got %d", s.RRFConstant)
	check(oneOf(s.KeywordBackend, string(store.KeywordBackendMemory), string(store.KeywordBackendBleve)),
		"search.keyword_backend must be 'memory' or 'bleve', got %q", s.KeywordBackend)
	check(s.TopK > 0, "search.top_k must be positive, got %d", s.TopK)
	check(s.MaxQueryLength > 0, "search.max_query_length must be positive, got %d", s.MaxQueryLength)

	check(oneOf(s.Rerank.Strategy, string(search.RerankScoreBased), string(search.RerankCrossEncoder),
		string(search.RerankHybrid), string(search.RerankNone)),
		"search.rerank.strategy must be score, cross_encoder, hybrid or none, got %q", s.Rerank.Strategy)
	unit("search.rerank.min_score", s.Rerank.MinScore)

	unit("search.diversity.lambda", s.Diversity.Lambda)
	check(oneOf(s.Diversity.Similarity, string(search.SimilarityJaccard), string(search.SimilarityCosine)),
		"search.diversity.similarity must be 'jaccard' or 'cosine', got %q", s.Diversity.Similarity)

	unit("search.dedup.content_threshold", s.Dedup.ContentThreshold)
	unit("search.dedup.title_threshold", s.Dedup.TitleThreshold)
	check(validDuration(s.Dedup.MaxProcessingTime), "search.dedup.max_processing_time is not a duration: %q", s.Dedup.MaxProcessingTime)

	l := s.Limits
	unit("search.limits.document_ratio", l.DocumentRatio)
	check(l.MinDocuments >= 0 && l.MinDocuments <= l.MaxDocuments,
		"search.limits.min_documents (%d) must be between 0 and max_documents (%d)", l.MinDocuments, l.MaxDocuments)
	check(l.MinWeb >= 0 && l.MinWeb <= l.MaxWeb,
		"search.limits.min_web (%d) must be between 0 and max_web (%d)", l.MinWeb, l.MaxWeb)

	if _, err := search.PresetRules(s.PriorityPreset); err != nil {
		errs = append(errs, fmt.Errorf("search.priority_preset: %w", err))
	}
	check(s.TokenBudget > 0, "search.token_budget must be positive, got %d", s.TokenBudget)
	check(s.ReservedTokens >= 0, "search.reserved_tokens must be non-negative, got %d", s.ReservedTokens)

	unit("cache.similarity_threshold", c.Cache.SimilarityThreshold)
	unit("cache.target_hit_rate", c.Cache.TargetHitRate)
	check(oneOf(c.Cache.Backend, "memory", "badger"), "cache.backend must be 'memory' or 'badger', got %q", c.Cache.Backend)
	check(c.Cache.MaxEntries > 0, "cache.max_entries must be positive, got %d", c.Cache.MaxEntries)

	if _, err := embed.ParseProvider(c.Backends.Embeddings.Provider); err != nil {
		errs = append(errs, fmt.Errorf("backends.embeddings.provider: %w", err))
	}
	t := c.Backends.Timeouts
	for name, v := range map[string]string{"keyword": t.Keyword, "vector": t.Vector, "embed": t.Embed, "web": t.Web} {
		check(validDuration(v), "backends.timeouts.%s is not a duration: %q", name, v)
	}
	check(c.Backends.Breaker.MaxFailures > 0, "backends.breaker.max_failures must be positive, got %d", c.Backends.Breaker.MaxFailures)
	check(validDuration(c.Backends.Breaker.ResetTimeout), "backends.breaker.reset_timeout is not a duration: %q", c.Backends.Breaker.ResetTimeout)

	check(oneOf(strings.ToLower(c.Logging.Level), "debug", "info", "warn", "error"),
		"logging.level must be 'debug', 'info', 'warn', or 'error', got %q", c.Logging.Level)

	if len(errs) > 0 {
		return amanerrors.ValidationError("invalid configuration", errors.Join(errs...))
	}
	return nil
}

// WriteYAML writes the configuration to a YAML file, creating parent
// directories. The web API key is never written.
func (c *Config) WriteYAML(path string) error {
	out := *c
	out.Backends.Web.APIKey = ""

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ToRetrieverConfig converts the search and backend sections into the
// engine's typed settings. Call Validate first.
func (c *Config) ToRetrieverConfig() (search.RetrieverConfig, error) {
	rc := search.DefaultRetrieverConfig()
	s := c.Search

	rc.Weights = search.Weights{Semantic: s.SemanticWeight, Keyword: s.KeywordWeight}
	rc.FusionMethod = search.FusionMethod(s.FusionMethod)
	rc.RRFConstant = s.RRFConstant
	rc.Rerank = search.RerankOptions{
		Strategy:   search.RerankStrategy(s.Rerank.Strategy),
		TopK:       s.Rerank.TopK,
		MaxResults: s.Rerank.MaxResults,
		MinScore:   s.Rerank.MinScore,
	}
	rc.Lambda = s.Diversity.Lambda
	rc.Similarity = search.SimilarityMethod(s.Diversity.Similarity)
	rc.Limits = search.LimitConfig{
		TokensPerDocument: s.Limits.TokensPerDocument,
		TokensPerWeb:      s.Limits.TokensPerWeb,
		DocumentRatio:     s.Limits.DocumentRatio,
		MinDocuments:      s.Limits.MinDocuments,
		MaxDocuments:      s.Limits.MaxDocuments,
		MinWeb:            s.Limits.MinWeb,
		MaxWeb:            s.Limits.MaxWeb,
	}
	rc.PriorityPreset = s.PriorityPreset
	rc.Select = search.SelectOptions{MinTruncateTokens: s.MinTruncateTokens}
	rc.TopK = s.TopK
	rc.MaxQueryLength = s.MaxQueryLength
	rc.CacheSimilarityThreshold = c.Cache.SimilarityThreshold

	rc.Dedup.ContentThreshold = s.Dedup.ContentThreshold
	rc.Dedup.TitleThreshold = s.Dedup.TitleThreshold
	rc.Dedup.PreserveHighestScore = s.Dedup.PreserveHighestScore
	rc.Dedup.Method = rc.Similarity
	if s.Dedup.Window > 0 {
		rc.Dedup.Window = s.Dedup.Window
	}

	durations := []struct {
		name string
		in   string
		out  *time.Duration
	}{
		{"search.dedup.max_processing_time", s.Dedup.MaxProcessingTime, &rc.Dedup.MaxProcessingTime},
		{"backends.timeouts.keyword", c.Backends.Timeouts.Keyword, &rc.KeywordTimeout},
		{"backends.timeouts.vector", c.Backends.Timeouts.Vector, &rc.VectorTimeout},
		{"backends.timeouts.embed", c.Backends.Timeouts.Embed, &rc.EmbedTimeout},
		{"backends.timeouts.web", c.Backends.Timeouts.Web, &rc.WebTimeout},
		{"backends.breaker.reset_timeout", c.Backends.Breaker.ResetTimeout, &rc.Breakers.ResetTimeout},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(d.in)
		if err != nil {
			return search.RetrieverConfig{}, amanerrors.ConfigError(d.name+" is not a duration", err)
		}
		*d.out = v
	}
	rc.Breakers.MaxFailures = c.Backends.Breaker.MaxFailures

	return rc, nil
}

// ToRetrieveOptions returns the default per-request options: every stage
// on, web and cache following their sections.
func (c *Config) ToRetrieveOptions() search.RetrieveOptions {
	opts := search.DefaultRetrieveOptions()
	opts.EnableWeb = c.Backends.Web.Enabled
	opts.EnableCache = c.Cache.Enabled
	opts.EnableRerank = c.Search.Rerank.Strategy != string(search.RerankNone)
	opts.TokenBudget = search.NewTokenBudget(c.Search.TokenBudget, c.Search.ReservedTokens)
	return opts
}

// BM25Config returns the keyword index settings.
func (c *Config) BM25Config() store.BM25Config {
	cfg := store.DefaultBM25Config()
	cfg.Stem = c.Search.Stemming
	if c.Search.StopWords {
		cfg.StopWords = store.DefaultEnglishStopWords
	}
	return cfg
}

// CacheSettings returns the similarity cache lookup settings.
func (c *Config) CacheSettings() cache.Config {
	cfg := cache.DefaultConfig()
	cfg.SimilarityThreshold = c.Cache.SimilarityThreshold
	if c.Cache.MaxScanKeys > 0 {
		cfg.MaxScanKeys = c.Cache.MaxScanKeys
	}
	if c.Cache.Workers > 0 {
		cfg.Workers = c.Cache.Workers
	}
	return cfg
}

// EmbedOptions returns the embedder factory options.
func (c *Config) EmbedOptions() (embed.Options, error) {
	e := c.Backends.Embeddings
	provider, err := embed.ParseProvider(e.Provider)
	if err != nil {
		return embed.Options{}, err
	}
	return embed.Options{
		Provider: provider,
		Ollama: embed.OllamaConfig{
			Host:       e.OllamaHost,
			Model:      e.Model,
			Dimensions: e.Dimensions,
		},
		CacheSize: e.CacheSize,
		Fallback:  e.Fallback,
	}, nil
}

// WebSearchConfig returns the web client settings.
func (c *Config) WebSearchConfig() websearch.Config {
	w := c.Backends.Web
	return websearch.Config{
		Endpoint:   w.Endpoint,
		APIKey:     w.APIKey,
		MaxResults: w.MaxResults,
		RateLimit: websearch.RateLimitConfig{
			RequestsPerSecond: w.RequestsPerSecond,
			BurstSize:         w.Burst,
		},
	}
}

// LoggingSettings returns the logging setup for this config.
func (c *Config) LoggingSettings(debug bool) logging.Config {
	cfg := logging.Config{
		Level:     c.Logging.Level,
		FilePath:  c.Logging.FilePath,
		MaxSizeMB: c.Logging.MaxSizeMB,
		MaxFiles:  c.Logging.MaxFiles,
	}
	if debug {
		cfg.Level = "debug"
		cfg.WriteToStderr = true
	}
	return cfg
}

func oneOf(v string, options ...string) bool {
	return slices.Contains(options, v)
}

func validDuration(s string) bool {
	_, err := time.ParseDuration(s)
	return err == nil
}
