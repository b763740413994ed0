package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage the user/global configuration file.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/amanrag/config.yaml)
  3. Project config (.amanrag.yaml)
  4. Environment variables (AMANRAG_*)

The web search API key is read from AMANRAG_WEB_API_KEY and is never
written by these commands.`,
		Example: `  # Create user config with defaults
  amanrag config init

  # Show effective configuration (merged from all sources)
  amanrag config show

  # Print user config file path
  amanrag config path`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())
	cmd.AddCommand(newConfigRestoreCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create user configuration file",
		Long: `Create the user configuration file with the default settings.

With --force an existing file is backed up, then rewritten with current
defaults for any key it does not set. Values it does set are kept.`,
		Example: `  amanrag config init
  amanrag config init --force`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Upgrade an existing configuration")

	return cmd
}

func runConfigInit(cmd *cobra.Command, force bool) error {
	out := output.New(cmd.OutOrStdout())
	path := config.GetUserConfigPath()

	cfg, err := config.LoadFile(path)
	switch {
	case err == nil && !force:
		out.Warning("User configuration already exists")
		out.Statusf("", "Location: %s", path)
		out.Status("", "Use --force to upgrade it with new defaults (keeps your settings)")
		return nil
	case err == nil:
		backup, err := config.BackupConfig(path)
		if err != nil {
			return err
		}
		if err := cfg.WriteYAML(path); err != nil {
			return err
		}
		out.Successf("Upgraded %s", path)
		out.Statusf("", "Backup: %s", backup)
		return nil
	case !errors.Is(err, os.ErrNotExist):
		// Present but invalid: never overwrite silently.
		return err
	}

	if err := config.NewConfig().WriteYAML(path); err != nil {
		return err
	}
	out.Successf("Created %s", path)
	return nil
}

func newConfigShowCmd() *cobra.Command {
	var (
		format string
		source string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long: `Show the configuration after merging all sources.

--source selects a single layer instead: defaults, or the user file.`,
		Example: `  amanrag config show
  amanrag config show --format json
  amanrag config show --source defaults`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				cfg *config.Config
				err error
			)
			switch source {
			case "merged":
				cfg, err = loadConfig()
			case "defaults":
				cfg = config.NewConfig()
			case "user":
				cfg, err = config.LoadFile(config.GetUserConfigPath())
			default:
				return fmt.Errorf("invalid source %q (valid: merged, defaults, user)", source)
			}
			if err != nil {
				return err
			}
			return writeConfig(cmd, cfg, format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "Output format: yaml, json")
	cmd.Flags().StringVar(&source, "source", "merged", "Config source: merged, defaults, user")

	return cmd
}

// writeConfig prints cfg without the web API key.
func writeConfig(cmd *cobra.Command, cfg *config.Config, format string) error {
	shown := *cfg
	shown.Backends.Web.APIKey = ""

	switch format {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(&shown)
	case "yaml":
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(&shown); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("invalid format %q (valid: yaml, json)", format)
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print user config file path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}

func newConfigRestoreCmd() *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "restore [backup]",
		Short: "Restore the user config from a backup",
		Long: `Restore the user configuration from a backup made by 'config init --force'.

Without an argument the newest backup is restored. The current file is
backed up first.`,
		Example: `  amanrag config restore --list
  amanrag config restore`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.New(cmd.OutOrStdout())
			path := config.GetUserConfigPath()

			backups, err := config.ListBackups(path)
			if err != nil {
				return err
			}
			if list {
				if len(backups) == 0 {
					out.Status("", "No backups found")
				}
				for _, b := range backups {
					out.Status("", b)
				}
				return nil
			}

			var backup string
			switch {
			case len(args) == 1:
				backup = args[0]
				if !filepath.IsAbs(backup) {
					backup = filepath.Join(filepath.Dir(path), backup)
				}
			case len(backups) > 0:
				backup = backups[0]
			default:
				return fmt.Errorf("no backups of %s found", path)
			}

			if err := config.RestoreConfig(path, backup); err != nil {
				return err
			}
			out.Successf("Restored %s from %s", path, filepath.Base(backup))
			return nil
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "List backups, newest first")

	return cmd
}
