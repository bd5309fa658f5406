package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/kairon/internal/correction"
	"github.com/roach88/kairon/internal/ir"
	"github.com/roach88/kairon/internal/service"
)

// CorrectOptions holds flags for the correct command.
type CorrectOptions struct {
	*RootOptions
	Database      string
	Catalog       string
	EventID       string
	ProjectionID  string
	Step          string
	Choose        string
	CorrectedType string
	CorrectedData string
	Text          string
	ListOptions   bool
}

// NewCorrectCommand creates the correct command.
func NewCorrectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CorrectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "correct",
		Short: "Stop, redirect, or regenerate a result",
		Long: `Apply a user correction.

With --event, stops that event's in-flight chain and replaces its output
with the corrected type/data (stop-and-redirect). With --projection and
--step, re-runs the step with a chosen alternative (regenerate); pass
--options to list the regenerable steps first.

A correction that finds its target already corrected by a concurrent
request succeeds with nothing voided.

Examples:
  kairon correct --db ./kairon.db --event EV --as todo
  kairon correct --db ./kairon.db --projection PR --options
  kairon correct --db ./kairon.db --projection PR --step tag_route --choose note`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCorrect(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Catalog, "catalog", "", "CUE catalog file or directory (default: embedded)")
	cmd.Flags().StringVar(&opts.EventID, "event", "", "event to stop and redirect")
	cmd.Flags().StringVar(&opts.ProjectionID, "projection", "", "projection to regenerate")
	cmd.Flags().StringVar(&opts.Step, "step", "", "step to regenerate (with --projection)")
	cmd.Flags().StringVar(&opts.Choose, "choose", "", "chosen alternative outcome")
	cmd.Flags().StringVar(&opts.CorrectedType, "as", "", "corrected projection type (with --event)")
	cmd.Flags().StringVar(&opts.CorrectedData, "data", "", "corrected data as a JSON object")
	cmd.Flags().StringVar(&opts.Text, "text", "", "corrected text")
	cmd.Flags().BoolVar(&opts.ListOptions, "options", false, "list regeneration options for --projection")

	return cmd
}

func runCorrect(opts *CorrectOptions, cmd *cobra.Command) error {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	svc, cleanup, err := openService(opts.Database, opts.Catalog)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()

	if opts.ListOptions {
		if opts.ProjectionID == "" {
			return NewExitError(ExitCommandError, "--options requires --projection")
		}
		regenOpts, err := svc.RegenOptions(ctx, opts.ProjectionID)
		if err != nil {
			return WrapExitError(ExitFailure, "listing options failed", err)
		}
		return printRegenOptions(out, opts.Format, regenOpts)
	}

	req, err := buildCorrectionRequest(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid correction", err)
	}

	results, err := svc.RequestCorrection(ctx, req)
	if err != nil {
		return WrapExitError(ExitFailure, "correction failed", err)
	}

	if opts.Format == "json" {
		return out.Success(results)
	}
	var b strings.Builder
	for _, res := range results {
		fmt.Fprintf(&b, "correction %s: %d new projection(s), %d voided\n",
			res.CorrectionEvent.ID, len(res.NewProjections), len(res.Voided))
		for _, p := range res.NewProjections {
			fmt.Fprintf(&b, "  + %s [%s] %s\n", p.ID, p.Status, p.ProjectionType)
		}
		for _, p := range res.Voided {
			fmt.Fprintf(&b, "  - %s voided (%s)\n", p.ID, p.VoidedReason)
		}
	}
	return out.Success(strings.TrimRight(b.String(), "\n"))
}

func buildCorrectionRequest(opts *CorrectOptions) (service.CorrectionRequest, error) {
	switch {
	case opts.EventID != "" && opts.ProjectionID != "":
		return service.CorrectionRequest{}, fmt.Errorf("--event and --projection are mutually exclusive")

	case opts.EventID != "":
		corr := ir.Document{}
		if opts.CorrectedType != "" {
			corr["corrected_type"] = opts.CorrectedType
		}
		if opts.Text != "" {
			corr["text"] = opts.Text
		}
		if opts.CorrectedData != "" {
			var data map[string]any
			if err := json.Unmarshal([]byte(opts.CorrectedData), &data); err != nil {
				return service.CorrectionRequest{}, fmt.Errorf("parse corrected data: %w", err)
			}
			corr["corrected_data"] = data
		}
		return service.CorrectionRequest{
			Kind:       service.CorrectionStop,
			EventID:    opts.EventID,
			Correction: corr,
		}, nil

	case opts.ProjectionID != "":
		if opts.Step == "" {
			return service.CorrectionRequest{}, fmt.Errorf("--projection requires --step (or --options)")
		}
		return service.CorrectionRequest{
			Kind:              service.CorrectionRegenerate,
			ProjectionID:      opts.ProjectionID,
			StepName:          opts.Step,
			ChosenAlternative: opts.Choose,
		}, nil

	default:
		return service.CorrectionRequest{}, fmt.Errorf("one of --event or --projection is required")
	}
}

func printRegenOptions(out *OutputFormatter, format string, regenOpts []correction.RegenOption) error {
	if format == "json" {
		return out.Success(regenOpts)
	}
	if len(regenOpts) == 0 {
		return out.Success("nothing in this projection's chain is regenerable")
	}
	var b strings.Builder
	for _, o := range regenOpts {
		fmt.Fprintf(&b, "%s: %s", o.StepName, o.Label)
		if len(o.Alternatives) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(o.Alternatives, ", "))
		}
		fmt.Fprintln(&b)
	}
	return out.Success(strings.TrimRight(b.String(), "\n"))
}
