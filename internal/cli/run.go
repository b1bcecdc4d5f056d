package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/volley/internal/config"
	"github.com/wesleyorama2/volley/internal/engine"
	"github.com/wesleyorama2/volley/internal/export"
	"github.com/wesleyorama2/volley/internal/metrics"
	"github.com/wesleyorama2/volley/internal/output"
	"github.com/wesleyorama2/volley/internal/runner"
)

// errRunFailed is returned when a run is fatal or misses a threshold, so
// the process exits non-zero.
var errRunFailed = errors.New("run failed")

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <plan file>",
		Short: "Execute a plan",
		Long: `Run executes a plan: it pages records from the plan's data source, binds
each one into the captured request and sends the result, then reports
latency, status and error metrics and evaluates thresholds.

Ctrl-C stops the run gracefully; in-flight requests are allowed to finish
and the partial result is still reported.

Examples:
  volley run plan.yaml
  volley run plan.yaml --requests 500 --batch-size 50 --mode concurrent
  volley run plan.yaml --format junit --output results.xml
  volley run plan.yaml --metrics-addr 127.0.0.1:9464`,
		Args: cobra.ExactArgs(1),
		RunE: runPlan,
	}

	// Run overrides
	cmd.Flags().IntP("requests", "n", 0, "Override the total number of requests")
	cmd.Flags().IntP("batch-size", "b", 0, "Override the page size")
	cmd.Flags().StringP("mode", "m", "", "Override the dispatch mode: sequential, concurrent")
	cmd.Flags().Float64("rate", 0, "Override the dispatch rate in requests per second (0 = unlimited)")
	cmd.Flags().StringToString("var", nil, "Set a plan variable (name=value)")

	// Output flags
	cmd.Flags().Bool("json", false, "Print the result as JSON")
	cmd.Flags().String("format", "", "Result format (text, json, yaml, junit)")
	cmd.Flags().StringP("output", "o", "", "Also write the result to a file (.json, .yaml, .xml)")
	cmd.Flags().Bool("outcomes", false, "Include every outcome in structured output")
	cmd.Flags().BoolP("verbose", "v", false, "Print one line per request")
	cmd.Flags().BoolP("quiet", "q", false, "Print only the final summary")
	cmd.Flags().Bool("no-color", false, "Disable colored output")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics at this address while the run lasts (e.g. 127.0.0.1:9464)")
	return cmd
}

func runPlan(cmd *cobra.Command, args []string) error {
	plan, err := loadRunPlan(cmd, args[0])
	if err != nil {
		return err
	}

	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	verbose, _ := cmd.Flags().GetBool("verbose")
	quiet, _ := cmd.Flags().GetBool("quiet")
	noColor, _ := cmd.Flags().GetBool("no-color")
	withOutcomes, _ := cmd.Flags().GetBool("outcomes")
	outputPath, _ := cmd.Flags().GetString("output")

	// Structured output owns stdout; progress goes to stderr.
	consoleOut := cmd.OutOrStdout()
	if format != output.FormatText {
		consoleOut = cmd.ErrOrStderr()
	}
	console := output.NewConsole(output.ConsoleConfig{
		Writer:  consoleOut,
		NoColor: noColor,
		Quiet:   quiet,
		Verbose: verbose,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := runner.Options{
		Logger:        slog.Default(),
		EngineOptions: []engine.Option{engine.WithObserver(console.Observe)},
	}
	if metricsAddr, _ := cmd.Flags().GetString("metrics-addr"); metricsAddr != "" {
		opts.Collector = metrics.NewCollector()
		_, stopMetrics, err := serveMetrics(metricsAddr, opts.Collector)
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
		defer stopMetrics()
	}

	prepared, err := runner.Prepare(ctx, plan, opts)
	if err != nil {
		return err
	}

	name := plan.Name
	if name == "" {
		name = args[0]
	}
	console.PrintHeader(name, plan.Run)

	res, runErr := prepared.Execute(ctx)
	if res == nil {
		return runErr
	}
	if runErr != nil {
		slog.Error("Run ended early", "error", runErr)
	}

	doc := prepared.Document(res, withOutcomes || format == output.FormatJUnit)
	if format == output.FormatText {
		console.PrintSummary(doc)
	} else if err := output.Encode(cmd.OutOrStdout(), format, doc); err != nil {
		return err
	}

	if err := exportDocument(context.WithoutCancel(ctx), plan, outputPath, doc); err != nil {
		return err
	}

	if !doc.Passed {
		return errRunFailed
	}
	return nil
}

func loadRunPlan(cmd *cobra.Command, path string) (*config.Plan, error) {
	vars, _ := cmd.Flags().GetStringToString("var")
	plan, err := config.LoadPlanWithVariables(path, vars)
	if err != nil {
		return nil, err
	}

	changed := false
	if n, _ := cmd.Flags().GetInt("requests"); cmd.Flags().Changed("requests") {
		plan.Run.TotalRequests = n
		changed = true
	}
	if n, _ := cmd.Flags().GetInt("batch-size"); cmd.Flags().Changed("batch-size") {
		plan.Run.BatchSize = n
		changed = true
	}
	if r, _ := cmd.Flags().GetFloat64("rate"); cmd.Flags().Changed("rate") {
		plan.Run.Rate = r
		changed = true
	}
	if m, _ := cmd.Flags().GetString("mode"); m != "" {
		plan.Run.Mode = engine.Mode(strings.ToLower(m))
		changed = true
	}
	if changed {
		if err := plan.Run.Validate(); err != nil {
			return nil, fmt.Errorf("invalid run override: %w", err)
		}
	}
	return plan, nil
}

func exportDocument(ctx context.Context, plan *config.Plan, extraFile string, doc *output.Document) error {
	var s3Settings config.S3Settings
	if settings != nil {
		s3Settings = settings.ExportS3
	}
	exporters, err := export.FromPlan(ctx, plan, s3Settings, extraFile)
	if err != nil {
		return err
	}
	for _, e := range exporters {
		loc, err := e.Export(ctx, doc)
		if err != nil {
			return err
		}
		slog.Info("Result exported", "location", loc)
	}
	return nil
}
