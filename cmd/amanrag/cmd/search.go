package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/output"
	"github.com/Aman-CERP/amanrag/internal/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	owner       string
	topic       string
	documents   []string
	format      string // "text", "json"
	budget      int
	reserved    int
	preset      string
	complexity  string
	web         bool
	noCache     bool
	keywordOnly bool
	noRerank    bool
	noDiversity bool
	webTopic    string
	timeRange   string
	domains     []string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Retrieve a ranked, token-budgeted context",
		Long: `Retrieve a RAG context for a query.

Runs BM25 keyword search and semantic vector search over the local corpus,
and live web search when enabled, in parallel. Results are fused, reranked,
diversified, deduplicated and prioritized, then fitted to the token budget.

A failing backend degrades the context instead of failing the search; the
degradation level and reason are shown with the results.`,
		Example: `  amanrag search "circuit breaker reset timeout"
  amanrag search "quarterly revenue" --owner acme --topic finance
  amanrag search "release notes" --web --preset recent-first
  amanrag search "vector databases" --budget 4000 --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().StringVar(&opts.owner, "owner", "", "Restrict documents to an owner")
	cmd.Flags().StringVar(&opts.topic, "topic", "", "Restrict documents to a topic")
	cmd.Flags().StringSliceVar(&opts.documents, "doc", nil, "Restrict to document IDs (repeatable)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().IntVar(&opts.budget, "budget", 0, "Total token budget (default from config)")
	cmd.Flags().IntVar(&opts.reserved, "reserved", -1, "Tokens reserved for system prompt and history (default from config)")
	cmd.Flags().StringVar(&opts.preset, "preset", "", "Priority preset: documents-first, web-first, balanced, authority-first, recent-first")
	cmd.Flags().StringVar(&opts.complexity, "complexity", "", "Override query complexity: simple, moderate, complex")
	cmd.Flags().BoolVar(&opts.web, "web", false, "Include live web results (default from config)")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "Bypass the similarity cache")
	cmd.Flags().BoolVar(&opts.keywordOnly, "keyword-only", false, "Skip semantic search")
	cmd.Flags().BoolVar(&opts.noRerank, "no-rerank", false, "Skip reranking")
	cmd.Flags().BoolVar(&opts.noDiversity, "no-diversity", false, "Skip MMR diversity filtering")
	cmd.Flags().StringVar(&opts.webTopic, "web-topic", "", "Web search topic (e.g. news)")
	cmd.Flags().StringVar(&opts.timeRange, "time-range", "", "Web search time range: day, week, month, year")
	cmd.Flags().StringSliceVar(&opts.domains, "domain", nil, "Restrict web results to domains (repeatable)")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	if opts.format != "text" && opts.format != "json" {
		return fmt.Errorf("invalid format %q (valid: text, json)", opts.format)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	retrieveOpts, err := buildRetrieveOptions(cmd, cfg, opts)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("web") {
		cfg.Backends.Web.Enabled = opts.web
	}

	slog.Info("search_started", slog.String("query", query), slog.String("format", opts.format))

	eng, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := eng.Close(); cerr != nil {
			slog.Warn("engine_close_failed", slog.String("error", cerr.Error()))
		}
	}()

	rc, err := eng.retriever.RetrieveContext(ctx, query, retrieveOpts)
	if rc == nil {
		return err
	}

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(rc); encErr != nil {
			return encErr
		}
	} else {
		output.New(cmd.OutOrStdout()).Context(rc)
	}

	// A CRITICAL context is still printed, then reported as a failure.
	return err
}

// buildRetrieveOptions applies command-line overrides to the configured
// request defaults.
func buildRetrieveOptions(cmd *cobra.Command, cfg *config.Config, opts searchOptions) (search.RetrieveOptions, error) {
	ro := cfg.ToRetrieveOptions()
	ro.OwnerID = opts.owner
	ro.TopicID = opts.topic
	ro.DocumentIDs = opts.documents
	ro.PriorityPreset = opts.preset

	if opts.preset != "" {
		if _, err := search.PresetRules(opts.preset); err != nil {
			return ro, err
		}
	}
	complexity, err := search.ParseComplexity(opts.complexity)
	if err != nil {
		return ro, err
	}
	ro.Complexity = complexity

	budget := ro.TokenBudget
	total, reserved := budget.TotalAvailable, budget.ReservedForSystemAndHistory
	if opts.budget > 0 {
		total = opts.budget
	}
	if opts.reserved >= 0 {
		reserved = opts.reserved
	}
	if reserved >= total {
		return ro, fmt.Errorf("reserved tokens (%d) must be less than the budget (%d)", reserved, total)
	}
	ro.TokenBudget = search.NewTokenBudget(total, reserved)

	if cmd.Flags().Changed("web") {
		ro.EnableWeb = opts.web
	}
	if opts.noCache {
		ro.EnableCache = false
	}
	if opts.keywordOnly {
		ro.EnableSemantic = false
	}
	if opts.noRerank {
		ro.EnableRerank = false
	}
	if opts.noDiversity {
		ro.EnableDiversity = false
	}
	ro.Web = search.WebFilters{
		Topic:     opts.webTopic,
		TimeRange: opts.timeRange,
		Domains:   opts.domains,
	}
	return ro, nil
}
