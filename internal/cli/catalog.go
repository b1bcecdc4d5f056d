package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/volley/internal/catalog"
	"github.com/wesleyorama2/volley/internal/config"
	"github.com/wesleyorama2/volley/internal/output"
	"github.com/wesleyorama2/volley/internal/record"
	"github.com/wesleyorama2/volley/internal/runner"
)

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog [plan file]",
		Short: "List the record fields a plan can bind to",
		Long: `Catalog probes the first record of a plan's data source and lists every
addressable field with its kind and a sample value.

A single JSON record can be cataloged directly with --record or
--record-file.

Examples:
  volley catalog plan.yaml
  volley catalog --record '{"user":{"name":"Ada","tags":["a"]}}' --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: runCatalog,
	}

	cmd.Flags().String("record", "", "Catalog an inline JSON record")
	cmd.Flags().String("record-file", "", "Catalog the JSON record in a file")
	cmd.Flags().Bool("json", false, "Print the catalog as JSON")
	cmd.Flags().String("format", "", "Output format (text, json, yaml)")
	cmd.Flags().Bool("no-color", false, "Disable colored output")
	return cmd
}

func runCatalog(cmd *cobra.Command, args []string) error {
	inline, _ := cmd.Flags().GetString("record")
	recordFile, _ := cmd.Flags().GetString("record-file")

	var (
		cat catalog.Catalog
		err error
	)
	switch {
	case inline != "":
		cat, err = catalogJSON([]byte(inline))
	case recordFile != "":
		var data []byte
		if data, err = os.ReadFile(recordFile); err == nil {
			cat, err = catalogJSON(data)
		}
	case len(args) == 1:
		var plan *config.Plan
		if plan, err = config.LoadPlan(args[0]); err == nil {
			cat, err = runner.Probe(cmd.Context(), plan)
		}
	default:
		return fmt.Errorf("a plan file, --record or --record-file is required")
	}
	if err != nil {
		return err
	}

	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	if format != output.FormatText {
		return output.Encode(cmd.OutOrStdout(), format, cat)
	}
	noColor, _ := cmd.Flags().GetBool("no-color")
	output.NewConsole(output.ConsoleConfig{Writer: cmd.OutOrStdout(), NoColor: noColor}).PrintCatalog(cat)
	return nil
}

func catalogJSON(data []byte) (catalog.Catalog, error) {
	v, err := record.ParseJSON(data)
	if err != nil {
		return nil, fmt.Errorf("invalid record: %w", err)
	}
	return catalog.Build(v), nil
}
