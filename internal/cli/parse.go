package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/volley/internal/output"
	"github.com/wesleyorama2/volley/internal/template"
)

func newParseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parse [curl command]",
		Short: "Parse a curl capture into a request template",
		Long: `Parse a curl command line into a request template and print it.

The capture can be given as arguments, read from a file with --file, or
read from stdin with --file -.

Examples:
  volley parse curl -X DELETE 'https://api.example.com/users/${id}'
  volley parse --file capture.sh --json`,
		RunE: runParse,
	}
	// Everything after the first argument belongs to the capture.
	cmd.Flags().SetInterspersed(false)

	cmd.Flags().StringP("file", "f", "", "Read the capture from a file (- for stdin)")
	cmd.Flags().Bool("json", false, "Print the template as JSON")
	cmd.Flags().String("format", "", "Output format (text, json, yaml)")
	cmd.Flags().Bool("no-color", false, "Disable colored output")
	return cmd
}

func runParse(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	raw, err := readCapture(cmd.InOrStdin(), file, args)
	if err != nil {
		return err
	}

	tmpl, err := template.Parse(raw)
	if err != nil {
		return err
	}

	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	if format != output.FormatText {
		return output.Encode(cmd.OutOrStdout(), format, tmpl)
	}

	noColor, _ := cmd.Flags().GetBool("no-color")
	output.NewConsole(output.ConsoleConfig{Writer: cmd.OutOrStdout(), NoColor: noColor}).PrintTemplate(tmpl)
	return nil
}

func readCapture(stdin io.Reader, file string, args []string) (string, error) {
	switch {
	case file == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read capture: %w", err)
		}
		return string(data), nil
	case len(args) > 0:
		quoted := make([]string, len(args))
		for i, a := range args {
			quoted[i] = shellQuote(a)
		}
		return strings.Join(quoted, " "), nil
	default:
		return "", fmt.Errorf("a curl command or --file is required")
	}
}

// outputFormat reads --format, with --json as a shorthand.
func outputFormat(cmd *cobra.Command) (output.OutputFormat, error) {
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return output.FormatJSON, nil
	}
	name, _ := cmd.Flags().GetString("format")
	return output.ParseFormat(name)
}

// shellQuote re-quotes an argument the shell has already unquoted.
func shellQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n'\"\\$`") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
