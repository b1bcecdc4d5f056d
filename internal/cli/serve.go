package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/volley/internal/api"
	"github.com/wesleyorama2/volley/internal/config"
	"github.com/wesleyorama2/volley/internal/logging"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Long: `Serve starts the REST API: parse captures, catalog records, submit and
stop runs, and scrape Prometheus metrics at /metrics.

Submitted plans cannot export results or read {{env.NAME}} variables.
Plans that read local files (file or sqlite sources, curlFile,
responseSchema) are refused unless --data-dir is set, and then only
files under that directory are allowed.

Defaults come from VOLLEY_HTTP_ADDR, VOLLEY_MAX_RUNS, VOLLEY_DATA_DIR
and VOLLEY_SHUTDOWN_TIMEOUT.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	cmd.Flags().String("addr", "", "Listen address (default from VOLLEY_HTTP_ADDR)")
	cmd.Flags().Int("max-runs", 0, "Maximum runs kept in memory (default from VOLLEY_MAX_RUNS)")
	cmd.Flags().String("data-dir", "", "Directory submitted plans may read files from (default from VOLLEY_DATA_DIR)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	s := settings
	if s == nil {
		var err error
		if s, err = config.LoadSettings(); err != nil {
			return err
		}
	}

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = s.HTTPAddr
	}
	maxRuns, _ := cmd.Flags().GetInt("max-runs")
	if maxRuns <= 0 {
		maxRuns = s.MaxRuns
	}
	dataDir, _ := cmd.Flags().GetString("data-dir")
	if dataDir == "" {
		dataDir = s.DataDir
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := api.NewServer(api.Config{
		Addr:            addr,
		MaxRuns:         maxRuns,
		DataDir:         dataDir,
		ShutdownTimeout: s.ShutdownTimeout,
		Logger:          logging.New(s.LogLevel, s.LogFormat, cmd.ErrOrStderr()),
	})
	return server.ListenAndServe(ctx)
}
