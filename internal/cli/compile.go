package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/kairon/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Catalog string
}

// CompiledCatalog is the compile command's output shape.
type CompiledCatalog struct {
	Plans []ir.StepPlan        `json:"plans"`
	Regen []ir.RegenDescriptor `json:"regen,omitempty"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile a CUE plan catalog",
		Long: `Compile a CUE plan catalog into step plans and the regeneration
registry, printing the compiled form.

With no --catalog, compiles the embedded default catalog.

Examples:
  kairon compile
  kairon compile --catalog ./plans/
  kairon compile --catalog ./plans/capture.cue --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Catalog, "catalog", "", "CUE catalog file or directory (default: embedded)")

	return cmd
}

func runCompile(opts *CompileOptions, cmd *cobra.Command) error {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	reg, err := LoadCatalog(opts.Catalog)
	if err != nil {
		return WrapExitError(ExitFailure, "catalog compilation failed", err)
	}

	var plans []ir.StepPlan
	for _, et := range reg.EventTypes() {
		p, err := reg.PlanFor(et)
		if err != nil {
			return WrapExitError(ExitCommandError, "plan lookup", err)
		}
		plans = append(plans, p)
	}
	result := CompiledCatalog{Plans: plans, Regen: reg.Regenerable()}

	if opts.Format == "json" {
		return out.Success(result)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Compiled %d plan(s), %d regenerable step(s)\n", len(plans), len(result.Regen))
	for _, p := range plans {
		fmt.Fprintf(&b, "  plan %s (%s):\n", p.Name, p.EventType)
		for _, s := range p.Steps {
			fmt.Fprintf(&b, "    %s [%s]", s.Name, s.Kind)
			if len(s.Gather) > 0 {
				fmt.Fprintf(&b, " gather=%s", strings.Join(s.Gather, ","))
			}
			fmt.Fprintln(&b)
		}
	}
	for _, d := range result.Regen {
		fmt.Fprintf(&b, "  regen %s: %s\n", d.StepName, d.Label)
	}
	return out.Success(strings.TrimRight(b.String(), "\n"))
}
