// Package cmd provides the CLI commands for amanrag.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/config"
	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/logging"
	"github.com/Aman-CERP/amanrag/internal/profiling"
	"github.com/Aman-CERP/amanrag/pkg/version"
)

var (
	debugMode      bool
	projectDir     string
	loggingCleanup func()
)

// Profiling flags
var (
	profilePaths profiling.Paths
	profile      *profiling.Session
)

// NewRootCmd creates the root command for the amanrag CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "amanrag",
		Short: "Hybrid retrieval engine for RAG contexts",
		Long: `amanrag assembles token-budgeted evidence for language-model prompts.

It fuses BM25 keyword search over a local corpus with semantic vector
search and optional live web results, then reranks, diversifies,
deduplicates and prioritizes them to fit a token budget.

Import a pre-chunked corpus with 'amanrag import', then query it with
'amanrag search'.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("amanrag version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging (mirrored to stderr)")
	cmd.PersistentFlags().StringVar(&projectDir, "dir", "", "Directory holding .amanrag.yaml (default: current directory)")

	cmd.PersistentFlags().StringVar(&profilePaths.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profilePaths.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profilePaths.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newImportCmd())
	cmd.AddCommand(newCacheCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command and prints failures in CLI form.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil {
		// Post-run hooks are skipped on failure.
		_ = stopProfilingAndLogging(nil, nil)
		fmt.Fprint(os.Stderr, amanerrors.FormatForCLI(err))
	}
	return err
}

// loadConfig loads the layered configuration for --dir.
func loadConfig() (*config.Config, error) {
	dir := projectDir
	if dir == "" {
		var err error
		if dir, err = os.Getwd(); err != nil {
			dir = "."
		}
	}
	return config.Load(dir)
}

// startProfilingAndLogging installs the JSON file logger and starts any
// requested profiles. A broken config falls back to the default log
// settings; the command itself reports the config error.
func startProfilingAndLogging(_ *cobra.Command, _ []string) error {
	logCfg := logging.DefaultConfig()
	if debugMode {
		logCfg = logging.DebugConfig()
	}
	if cfg, err := loadConfig(); err == nil {
		logCfg = cfg.LoggingSettings(debugMode)
	}

	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)

	if debugMode {
		slog.Debug("debug_logging_enabled",
			slog.String("log_file", logCfg.FilePath),
			slog.String("version", version.Version))
	}

	if profilePaths.Enabled() {
		if profile, err = profiling.Start(profilePaths); err != nil {
			return err
		}
		slog.Debug("profiling_started",
			slog.String("cpu", profilePaths.CPU),
			slog.String("mem", profilePaths.Heap),
			slog.String("trace", profilePaths.Trace))
	}
	return nil
}

func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	var err error
	if profile != nil {
		err = profile.Stop()
		profile = nil
	}
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return err
}
