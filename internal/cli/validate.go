package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/volley/internal/binding"
	"github.com/wesleyorama2/volley/internal/config"
	"github.com/wesleyorama2/volley/internal/output"
	"github.com/wesleyorama2/volley/internal/runner"
	"github.com/wesleyorama2/volley/internal/template"
	"github.com/wesleyorama2/volley/pkg/jsonschema"
)

var errInvalidPlan = errors.New("plan is invalid")

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <plan file>",
		Short: "Check a plan without sending any request",
		Long: `Validate loads a plan, parses its capture, compiles its bindings and
response schema, and reports every problem found.

With --probe the data source is opened and every field the plan
references is looked up in the first record.`,
		Args: cobra.ExactArgs(1),
		RunE: runValidate,
	}

	cmd.Flags().Bool("probe", false, "Check referenced fields against the first record")
	cmd.Flags().Bool("no-color", false, "Disable colored output")
	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	noColor, _ := cmd.Flags().GetBool("no-color")
	console := output.NewConsole(output.ConsoleConfig{Writer: cmd.OutOrStdout(), NoColor: noColor})

	plan, err := config.LoadPlan(args[0])
	if err != nil {
		console.PrintCheck(false, err.Error())
		return errInvalidPlan
	}
	console.PrintCheck(true, "plan "+args[0])

	ok := true
	check := func(err error, msg string) {
		if err != nil {
			ok = false
			console.PrintCheck(false, fmt.Sprintf("%s: %v", msg, err))
			return
		}
		console.PrintCheck(true, msg)
	}

	tmpl, err := plan.Template()
	check(err, "request capture")
	if tmpl != nil {
		_, err = binding.Compile(tmpl, plan.Bindings)
		check(err, fmt.Sprintf("%d binding(s)", len(plan.Bindings)))
	}
	if plan.Request.ResponseSchema != "" {
		_, err = jsonschema.CompileFile(plan.Path(plan.Request.ResponseSchema))
		check(err, "response schema "+plan.Request.ResponseSchema)
	}

	if probe, _ := cmd.Flags().GetBool("probe"); probe && tmpl != nil {
		cat, err := runner.Probe(cmd.Context(), plan)
		check(err, "source "+plan.Source.Kind)
		if err == nil && len(cat) > 0 {
			for _, path := range referencedFields(tmpl, plan.Bindings) {
				_, found := cat.Lookup(path)
				if !found {
					ok = false
				}
				console.PrintCheck(found, "field "+path)
			}
		}
	}

	if !ok {
		return errInvalidPlan
	}
	return nil
}

// referencedFields lists the record paths used by placeholders and
// bindings, in first-use order.
func referencedFields(tmpl *template.Template, bs binding.Bindings) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(paths ...string) {
		for _, p := range paths {
			if p != "" && !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}

	add(template.CompileSegments(tmpl.URL).Paths()...)
	for _, h := range tmpl.Headers {
		add(template.CompileSegments(h.Value).Paths()...)
	}
	if b, err := tmpl.Body.Bytes(); err == nil {
		add(template.CompileSegments(string(b)).Paths()...)
	}
	for _, b := range bs {
		add(b.FieldPath)
	}
	return out
}
