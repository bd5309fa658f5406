package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/kairon/internal/ir"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Catalog  string
	EventID  string
}

// TraceResult holds the complete trace output for one event.
type TraceResult struct {
	EventID string     `json:"event_id"`
	Steps   []ir.Trace `json:"steps"`
	Stats   TraceStats `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalSteps int  `json:"total_steps"`
	Voided     int  `json:"voided"`
	Aborted    bool `json:"aborted"`
	Failed     bool `json:"failed"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the reasoning chain for an event",
		Long: `Show every trace row for an event in chain order, voided rows
included, so aborts and failures stay auditable.

Examples:
  kairon trace --db ./kairon.db --event EV
  kairon trace --db ./kairon.db --event EV --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Catalog, "catalog", "", "CUE catalog file or directory (default: embedded)")
	cmd.Flags().StringVar(&opts.EventID, "event", "", "event to trace (required)")
	_ = cmd.MarkFlagRequired("event")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
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

	traces, err := svc.Traces(context.Background(), opts.EventID)
	if err != nil {
		return WrapExitError(ExitFailure, "trace lookup failed", err)
	}

	result := TraceResult{EventID: opts.EventID, Steps: traces}
	result.Stats.TotalSteps = len(traces)
	for _, tr := range traces {
		if tr.Voided() {
			result.Stats.Voided++
			if tr.Data.Aborted {
				result.Stats.Aborted = true
			}
			if tr.Data.Error != "" {
				result.Stats.Failed = true
			}
		}
	}

	if opts.Format == "json" {
		return out.Success(result)
	}

	if len(traces) == 0 {
		return out.Success(fmt.Sprintf("no traces for event %s", opts.EventID))
	}
	var b strings.Builder
	for _, tr := range traces {
		fmt.Fprintf(&b, "%2d %s %s", tr.StepOrder, tr.ID, tr.StepName)
		switch {
		case tr.Data.Aborted:
			b.WriteString(" [aborted]")
		case tr.Data.Error != "":
			fmt.Fprintf(&b, " [failed: %s]", tr.Data.Error)
		case tr.Voided():
			b.WriteString(" [voided]")
		}
		fmt.Fprintln(&b)
	}
	return out.Success(strings.TrimRight(b.String(), "\n"))
}
