package cmd

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/search"
)

func TestSearchCmd_RequiresCorpus(t *testing.T) {
	// Given: an empty data directory
	env := newTestEnv(t)

	// When: searching
	_, err := env.run(t, "search", "circuit breaker")

	// Then: the corpus is reported missing with a hint
	require.Error(t, err)
	assert.Equal(t, amanerrors.ErrCodeCorpusUnavailable, amanerrors.GetCode(err))
	assert.Contains(t, amanerrors.FormatForCLI(err), "amanrag import")
}

func TestSearchCmd_RequiresQuery(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "search")

	require.Error(t, err)
}

func TestSearchCmd_InvalidFormat(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "search", "q", "--format", "xml")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestSearchCmd_TextOutput(t *testing.T) {
	// Given: an imported corpus
	env := newTestEnv(t)
	t.Setenv("AMANRAG_CACHE_BACKEND", "memory")
	env.importCorpus(t)

	// When: searching for breaker content
	out, err := env.run(t, "search", "circuit", "breaker", "failures")

	// Then: the breaker document is listed with its title
	require.NoError(t, err)
	assert.Contains(t, out, "Query:  circuit breaker failures")
	assert.Contains(t, out, "Documents (")
	assert.Contains(t, out, "Breakers")
}

func TestSearchCmd_JSONOutput(t *testing.T) {
	// Given: an imported corpus
	env := newTestEnv(t)
	t.Setenv("AMANRAG_CACHE_BACKEND", "memory")
	env.importCorpus(t)

	// When: searching with JSON output
	out, err := env.run(t, "search", "token budget", "--format", "json")

	// Then: the context decodes and its top document is the budget one
	require.NoError(t, err)
	var rc search.RAGContext
	require.NoError(t, json.Unmarshal([]byte(out), &rc))
	assert.Equal(t, "token budget", rc.Query)
	require.NotEmpty(t, rc.DocumentResults)
	assert.Equal(t, "d2", rc.DocumentResults[0].DocumentID)
	assert.LessOrEqual(t, rc.TokenUsage.Total, rc.TokenUsage.Budget)
}

func TestSearchCmd_OwnerFilter(t *testing.T) {
	// Given: an imported corpus owned by acme
	env := newTestEnv(t)
	t.Setenv("AMANRAG_CACHE_BACKEND", "memory")
	env.importCorpus(t)

	// When: searching as another owner
	out, err := env.run(t, "search", "circuit breaker", "--owner", "globex", "--format", "json")

	// Then: no document evidence is returned
	require.NoError(t, err)
	var rc search.RAGContext
	require.NoError(t, json.Unmarshal([]byte(out), &rc))
	assert.Empty(t, rc.DocumentResults)
}

func TestBuildRetrieveOptions_Overrides(t *testing.T) {
	// Given: a search command with overriding flags
	newTestEnv(t)
	cfg, err := loadConfig()
	require.NoError(t, err)

	cmd := newSearchCmd()
	require.NoError(t, cmd.ParseFlags([]string{
		"--owner", "acme", "--topic", "ops", "--doc", "d1", "--doc", "d2",
		"--budget", "4000", "--reserved", "1000",
		"--preset", search.PresetRecentFirst, "--complexity", "complex",
		"--web", "--no-cache", "--keyword-only", "--no-rerank", "--no-diversity",
		"--time-range", "week", "--domain", "example.com",
	}))
	opts := searchOptions{
		owner: "acme", topic: "ops", documents: []string{"d1", "d2"},
		budget: 4000, reserved: 1000, preset: search.PresetRecentFirst, complexity: "complex",
		web: true, noCache: true, keywordOnly: true, noRerank: true, noDiversity: true,
		timeRange: "week", domains: []string{"example.com"},
	}

	// When: building options
	ro, err := buildRetrieveOptions(cmd, cfg, opts)

	// Then: every flag is applied
	require.NoError(t, err)
	assert.Equal(t, "acme", ro.OwnerID)
	assert.Equal(t, "ops", ro.TopicID)
	assert.Equal(t, []string{"d1", "d2"}, ro.DocumentIDs)
	assert.Equal(t, 4000, ro.TokenBudget.TotalAvailable)
	assert.Equal(t, 1000, ro.TokenBudget.ReservedForSystemAndHistory)
	assert.Equal(t, search.ComplexityComplex, ro.Complexity)
	assert.True(t, ro.EnableWeb)
	assert.False(t, ro.EnableCache)
	assert.False(t, ro.EnableSemantic)
	assert.False(t, ro.EnableRerank)
	assert.False(t, ro.EnableDiversity)
	assert.Equal(t, "week", ro.Web.TimeRange)
	assert.Equal(t, []string{"example.com"}, ro.Web.Domains)
}

func TestBuildRetrieveOptions_Defaults(t *testing.T) {
	// Given: no flags
	newTestEnv(t)
	cfg, err := loadConfig()
	require.NoError(t, err)
	cmd := newSearchCmd()

	// When: building options
	ro, err := buildRetrieveOptions(cmd, cfg, searchOptions{reserved: -1})

	// Then: the configured defaults are used
	require.NoError(t, err)
	def := cfg.ToRetrieveOptions()
	assert.Equal(t, def.TokenBudget, ro.TokenBudget)
	assert.Equal(t, def.EnableWeb, ro.EnableWeb)
	assert.Equal(t, def.EnableCache, ro.EnableCache)
	assert.Empty(t, ro.Complexity, "complexity is classified per query")
}

func TestBuildRetrieveOptions_Rejects(t *testing.T) {
	newTestEnv(t)
	cfg, err := loadConfig()
	require.NoError(t, err)

	tests := []struct {
		name string
		opts searchOptions
	}{
		{"unknown preset", searchOptions{preset: "loudest-first", reserved: -1}},
		{"unknown complexity", searchOptions{complexity: "epic", reserved: -1}},
		{"reserved exceeds budget", searchOptions{budget: 500, reserved: 500}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildRetrieveOptions(newSearchCmd(), cfg, tt.opts)
			assert.Error(t, err)
		})
	}
}
