package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/volley/internal/config"
	"github.com/wesleyorama2/volley/internal/logging"

	// Register the database-backed data sources.
	_ "github.com/wesleyorama2/volley/internal/datasource/mongo"
	_ "github.com/wesleyorama2/volley/internal/datasource/sqlsource"
)

var version = "0.1.0"

// settings is loaded before any subcommand runs.
var settings *config.Settings

// RootCmd represents the base command when called without any subcommands
var RootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "volley",
		Short:   "Replay a captured API request against a stream of records",
		Version: version,
		Long: `Volley turns a captured curl command into a request template, binds
its slots to fields of records read from a data source and fires the
resulting requests in pages, sequentially or concurrently, reporting
latency, status and error metrics.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			s, err := config.LoadSettings(envFile)
			if err != nil {
				return fmt.Errorf("failed to load settings: %w", err)
			}

			if cmd.Flags().Changed("log-level") {
				s.LogLevel, _ = cmd.Flags().GetString("log-level")
			}
			if cmd.Flags().Changed("log-format") {
				s.LogFormat, _ = cmd.Flags().GetString("log-format")
			}
			if _, err := logging.ParseLevel(s.LogLevel); err != nil {
				return err
			}
			settings = s
			slog.SetDefault(logging.New(s.LogLevel, s.LogFormat, cmd.ErrOrStderr()))
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			// If no subcommand is provided, print help
			cmd.Help()
		},
	}

	cmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (default from VOLLEY_LOG_LEVEL)")
	cmd.PersistentFlags().String("log-format", "", "Log format: text, json (default from VOLLEY_LOG_FORMAT)")
	cmd.PersistentFlags().String("env-file", ".env", "Environment file to load if present")

	cmd.AddCommand(newParseCmd())
	cmd.AddCommand(newCatalogCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

// Execute runs the root command. This is called by main.main().
func Execute() error {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}
