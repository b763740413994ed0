package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/embed"
	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/search"
)

// isolate points the user config at an empty directory.
func isolate(t *testing.T) string {
	t.Helper()
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	return xdg
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNewConfig_DefaultsAreValid(t *testing.T) {
	cfg := NewConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.65, cfg.Search.SemanticWeight)
	assert.Equal(t, 0.35, cfg.Search.KeywordWeight)
	assert.Equal(t, "weighted", cfg.Search.FusionMethod)
	assert.Equal(t, 60, cfg.Search.RRFConstant)
	assert.Equal(t, 0.7, cfg.Search.Diversity.Lambda)
	assert.Equal(t, 0.85, cfg.Cache.SimilarityThreshold)
	assert.Equal(t, "150ms", cfg.Search.Dedup.MaxProcessingTime)
	assert.False(t, cfg.Backends.Web.Enabled)
}

func TestLoad_NoFilesUsesDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, NewConfig().Search, cfg.Search)
}

func TestLoad_ProjectOverridesUser(t *testing.T) {
	// Given: a user config and a project config that both set the preset
	xdg := isolate(t)
	writeFile(t, filepath.Join(xdg, "amanrag", "config.yaml"), `
search:
  priority_preset: web-first
  rrf_constant: 30
cache:
  backend: memory
`)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProjectConfigName), `
search:
  priority_preset: documents-first
`)

	// When: loading
	cfg, err := Load(dir)

	// Then: the project wins, user-only keys survive, untouched keys keep defaults
	require.NoError(t, err)
	assert.Equal(t, search.PresetDocumentsFirst, cfg.Search.PriorityPreset)
	assert.Equal(t, 30, cfg.Search.RRFConstant)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 0.65, cfg.Search.SemanticWeight)
}

func TestLoad_ExplicitFalseOverridesDefault(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProjectConfigName), "cache:\n  enabled: false\n")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.False(t, cfg.Cache.Enabled)
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProjectConfigName), "search:\n  bm25_weight: 0.5\n")

	_, err := Load(dir)

	require.Error(t, err)
	assert.ErrorIs(t, err, amanerrors.ErrConfig)
}

func TestLoad_EnvOverridesFiles(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProjectConfigName), "search:\n  fusion_method: weighted\n")
	t.Setenv("AMANRAG_FUSION_METHOD", "rrf")
	t.Setenv("AMANRAG_SEMANTIC_WEIGHT", "0.5")
	t.Setenv("AMANRAG_KEYWORD_WEIGHT", "0.5")
	t.Setenv("AMANRAG_WEB_ENABLED", "true")
	t.Setenv("AMANRAG_WEB_API_KEY", "secret")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, "rrf", cfg.Search.FusionMethod)
	assert.Equal(t, 0.5, cfg.Search.SemanticWeight)
	assert.True(t, cfg.Backends.Web.Enabled)
	assert.Equal(t, "secret", cfg.Backends.Web.APIKey)
}

func TestLoad_MalformedEnvIsError(t *testing.T) {
	isolate(t)
	t.Setenv("AMANRAG_RRF_CONSTANT", "sixty")

	_, err := Load(t.TempDir())

	assert.ErrorIs(t, err, amanerrors.ErrConfig)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"weights do not sum", func(c *Config) { c.Search.SemanticWeight = 0.9 }, "must equal 1.0"},
		{"weight out of range", func(c *Config) { c.Search.KeywordWeight = -0.1; c.Search.SemanticWeight = 1.1 }, "keyword_weight"},
		{"unknown fusion", func(c *Config) { c.Search.FusionMethod = "borda" }, "fusion_method"},
		{"lambda above one", func(c *Config) { c.Search.Diversity.Lambda = 1.5 }, "lambda"},
		{"ratio below zero", func(c *Config) { c.Search.Limits.DocumentRatio = -0.2 }, "document_ratio"},
		{"min above max", func(c *Config) { c.Search.Limits.MinDocuments = 30 }, "min_documents"},
		{"unknown preset", func(c *Config) { c.Search.PriorityPreset = "loudest" }, "priority_preset"},
		{"threshold above one", func(c *Config) { c.Cache.SimilarityThreshold = 1.2 }, "similarity_threshold"},
		{"negative hit rate target", func(c *Config) { c.Cache.TargetHitRate = -0.1 }, "target_hit_rate"},
		{"bad timeout", func(c *Config) { c.Backends.Timeouts.Web = "soon" }, "timeouts.web"},
		{"unknown provider", func(c *Config) { c.Backends.Embeddings.Provider = "mlx" }, "provider"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "log"},
		{"unknown strategy", func(c *Config) { c.Search.Rerank.Strategy = "magic" }, "rerank.strategy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			require.Error(t, err)
			assert.ErrorIs(t, err, amanerrors.ErrValidation)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := NewConfig()
	cfg.Search.FusionMethod = "borda"
	cfg.Cache.Backend = "redis"

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "fusion_method")
	assert.Contains(t, err.Error(), "cache.backend")
}

func TestWriteYAML_RoundTripWithoutAPIKey(t *testing.T) {
	// Given: a customised config carrying an API key
	isolate(t)
	cfg := NewConfig()
	cfg.Search.PriorityPreset = search.PresetRecentFirst
	cfg.Backends.Web.APIKey = "secret"
	dir := t.TempDir()
	path := filepath.Join(dir, ProjectConfigName)

	// When: writing and loading it back
	require.NoError(t, cfg.WriteYAML(path))
	loaded, err := Load(dir)

	// Then: settings survive but the key is not persisted
	require.NoError(t, err)
	assert.Equal(t, search.PresetRecentFirst, loaded.Search.PriorityPreset)
	assert.Empty(t, loaded.Backends.Web.APIKey)
	assert.Equal(t, "secret", cfg.Backends.Web.APIKey)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret")
}

func TestLoadFile_IgnoresOtherLayers(t *testing.T) {
	// Given: a user config and an environment override
	xdg := isolate(t)
	path := filepath.Join(xdg, "amanrag", "config.yaml")
	writeFile(t, path, "search:\n  fusion_method: rrf\n")
	t.Setenv("AMANRAG_CACHE_ENABLED", "false")

	// When: loading only that file
	cfg, err := LoadFile(path)

	// Then: the file applies over defaults and the environment does not
	require.NoError(t, err)
	assert.Equal(t, "rrf", cfg.Search.FusionMethod)
	assert.True(t, cfg.Cache.Enabled)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))

	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestToRetrieverConfig(t *testing.T) {
	cfg := NewConfig()
	cfg.Search.FusionMethod = "rrf"
	cfg.Search.Rerank.Strategy = "none"
	cfg.Search.Dedup.Window = 5
	cfg.Backends.Timeouts.Web = "3s"
	cfg.Backends.Breaker.ResetTimeout = "1m"

	rc, err := cfg.ToRetrieverConfig()

	require.NoError(t, err)
	assert.Equal(t, search.FusionRRF, rc.FusionMethod)
	assert.Equal(t, search.RerankNone, rc.Rerank.Strategy)
	assert.Equal(t, 5, rc.Dedup.Window)
	assert.Equal(t, 150*time.Millisecond, rc.Dedup.MaxProcessingTime)
	assert.Equal(t, 3*time.Second, rc.WebTimeout)
	assert.Equal(t, time.Minute, rc.Breakers.ResetTimeout)
	assert.Equal(t, search.DefaultLimitConfig(), rc.Limits)
	assert.Equal(t, search.DefaultWeights(), rc.Weights)

	opts := cfg.ToRetrieveOptions()
	assert.False(t, opts.EnableRerank)
	assert.False(t, opts.EnableWeb)
	assert.Equal(t, 6000, opts.TokenBudget.RemainingForContext)
}

func TestToRetrieverConfig_BadDuration(t *testing.T) {
	cfg := NewConfig()
	cfg.Backends.Timeouts.Keyword = "fast"

	_, err := cfg.ToRetrieverConfig()

	assert.ErrorIs(t, err, amanerrors.ErrConfig)
}

func TestComponentSettings(t *testing.T) {
	cfg := NewConfig()
	cfg.Search.StopWords = false
	cfg.Backends.Embeddings.Provider = "static"
	cfg.Backends.Web.APIKey = "k"

	bm25 := cfg.BM25Config()
	assert.True(t, bm25.Stem)
	assert.Empty(t, bm25.StopWords)

	opts, err := cfg.EmbedOptions()
	require.NoError(t, err)
	assert.Equal(t, embed.ProviderStatic, opts.Provider)

	web := cfg.WebSearchConfig()
	assert.Equal(t, "k", web.APIKey)
	assert.Equal(t, 5.0, web.RateLimit.RequestsPerSecond)

	assert.Equal(t, 0.85, cfg.CacheSettings().SimilarityThreshold)

	logs := cfg.LoggingSettings(true)
	assert.Equal(t, "debug", logs.Level)
	assert.True(t, logs.WriteToStderr)
}
