package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/cache"
	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/output"
	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and clear the context cache",
		Long: `Inspect and clear the similarity cache of assembled contexts.

Statistics combine the persisted cache with retrieval telemetry recorded
by previous searches: degradation levels, cache outcomes, latency and the
most frequent query terms.`,
	}

	cmd.AddCommand(newCacheStatsCmd())
	cmd.AddCommand(newCacheClearCmd())

	return cmd
}

// cacheReport is the JSON form of 'cache stats'.
type cacheReport struct {
	Backend      string                `json:"backend"`
	Enabled      bool                  `json:"enabled"`
	Entries      int                   `json:"entries"`
	Days         int                   `json:"days"`
	Queries      int64                 `json:"queries"`
	CacheStatus  map[string]int64      `json:"cache_status"`
	Levels       map[string]int64      `json:"degradation_levels"`
	Latency      map[string]int64      `json:"latency"`
	HitRate      float64               `json:"hit_rate"`
	TargetRate   float64               `json:"target_hit_rate"`
	DegradedRate float64               `json:"degraded_rate"`
	TopTerms     []telemetry.TermCount `json:"top_terms"`
	EmptyQueries []string              `json:"empty_queries"`
}

func newCacheStatsCmd() *cobra.Command {
	var days int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache and retrieval statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			report, err := buildCacheReport(cfg, days)
			if err != nil {
				return err
			}
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			printCacheReport(output.New(cmd.OutOrStdout()), report)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 7, "Telemetry window in days")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func buildCacheReport(cfg *config.Config, days int) (*cacheReport, error) {
	if days <= 0 {
		return nil, fmt.Errorf("--days must be positive, got %d", days)
	}
	paths := dataPaths{dir: cfg.Paths.DataDir}
	report := &cacheReport{
		Backend:    cfg.Cache.Backend,
		Enabled:    cfg.Cache.Enabled,
		Days:       days,
		TargetRate: cfg.Cache.TargetHitRate,
	}

	// In-memory caches live only inside a search process.
	if cfg.Cache.Enabled && cfg.Cache.Backend == "badger" {
		if _, err := os.Stat(paths.cache()); err == nil {
			c, err := openCache(cfg, paths)
			if err != nil {
				return nil, err
			}
			report.Entries = c.Stats().Entries
			_ = c.Close()
		}
	}

	if _, err := os.Stat(paths.telemetry()); errors.Is(err, os.ErrNotExist) {
		return report, nil
	}
	ms, err := telemetry.OpenSQLiteMetricsStore(paths.telemetry())
	if err != nil {
		return nil, err
	}
	defer func() { _ = ms.Close() }()

	to := time.Now()
	from := to.AddDate(0, 0, -(days - 1))
	day := func(t time.Time) string { return t.Format("2006-01-02") }

	if report.CacheStatus, err = ms.GetDailyCounts(telemetry.KindCacheStatus, day(from), day(to)); err != nil {
		return nil, err
	}
	if report.Levels, err = ms.GetDailyCounts(telemetry.KindLevel, day(from), day(to)); err != nil {
		return nil, err
	}
	if report.Latency, err = ms.GetDailyCounts(telemetry.KindLatency, day(from), day(to)); err != nil {
		return nil, err
	}
	if report.TopTerms, err = ms.GetTopTerms(10); err != nil {
		return nil, err
	}
	if report.EmptyQueries, err = ms.GetEmptyResultQueries(5); err != nil {
		return nil, err
	}

	for _, n := range report.Levels {
		report.Queries += n
	}
	if report.Queries > 0 {
		hits := report.CacheStatus[string(search.CacheHit)] + report.CacheStatus[string(search.CacheSimilar)]
		report.HitRate = float64(hits) / float64(report.Queries)
		report.DegradedRate = float64(report.Queries-report.Levels[search.DegradationNone.String()]) / float64(report.Queries)
	}
	return report, nil
}

func printCacheReport(out *output.Writer, r *cacheReport) {
	state := "disabled"
	if r.Enabled {
		state = "enabled"
	}
	entries := strconv.Itoa(r.Entries)
	if r.Backend != "badger" {
		entries = "n/a (in-memory, per process)"
	}

	out.KeyValues([][2]string{
		{"Cache", fmt.Sprintf("%s (%s)", r.Backend, state)},
		{"Entries", entries},
		{"Queries", fmt.Sprintf("%d in the last %d days", r.Queries, r.Days)},
	})
	if r.Queries == 0 {
		out.Newline()
		out.Status("", "No retrievals recorded yet.")
		return
	}

	out.KeyValues([][2]string{
		{"Hit rate", fmt.Sprintf("%.1f%% (target %.0f%%)", r.HitRate*100, r.TargetRate*100)},
		{"Degraded", fmt.Sprintf("%.1f%%", r.DegradedRate*100)},
		{"Levels", formatCounts(r.Levels)},
		{"Latency", formatCounts(r.Latency)},
	})
	if r.TargetRate > 0 && r.HitRate < r.TargetRate {
		out.Warningf("Hit rate is below the %.0f%% target; consider lowering cache.similarity_threshold", r.TargetRate*100)
	}

	if len(r.TopTerms) > 0 {
		out.Newline()
		out.Status("", "Top terms:")
		rows := make([][2]string, len(r.TopTerms))
		for i, t := range r.TopTerms {
			rows[i] = [2]string{"  " + t.Term, strconv.FormatInt(t.Count, 10)}
		}
		out.KeyValues(rows)
	}
	if len(r.EmptyQueries) > 0 {
		out.Newline()
		out.Warning("Queries with no results:")
		for _, q := range r.EmptyQueries {
			out.Status("", "  "+q)
		}
	}
}

// formatCounts renders a count map in stable key order.
func formatCounts(counts map[string]int64) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	s := ""
	for i, k := range keys {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%s=%d", k, counts[k])
	}
	return s
}

func newCacheClearCmd() *cobra.Command {
	var scope cache.Scope

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove cached contexts",
		Long: `Remove cached contexts from the persistent cache.

Without flags every entry is removed. --owner, --topic and --doc restrict
removal to contexts built for that owner or topic, or containing that document.`,
		Example: `  amanrag cache clear
  amanrag cache clear --owner acme
  amanrag cache clear --doc doc-42`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())
			if cfg.Cache.Backend != "badger" {
				out.Status("", "The in-memory cache lives only inside a search process; nothing to clear.")
				return nil
			}

			c, err := openCache(cfg, dataPaths{dir: cfg.Paths.DataDir})
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			n, err := c.Invalidate(cmd.Context(), scope)
			if err != nil {
				return err
			}
			out.Successf("Removed %d cached contexts", n)
			return nil
		},
	}

	cmd.Flags().StringVar(&scope.OwnerID, "owner", "", "Only contexts for this owner")
	cmd.Flags().StringVar(&scope.TopicID, "topic", "", "Only contexts for this topic")
	cmd.Flags().StringVar(&scope.DocumentID, "doc", "", "Only contexts containing this document")

	return cmd
}
