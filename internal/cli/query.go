package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/kairon/internal/ir"
	"github.com/roach88/kairon/internal/store"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Database      string
	Catalog       string
	Types         []string
	Statuses      []string
	EventID       string
	IncludeVoided bool
	Limit         int
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query projections",
		Long: `List projections in deterministic (created_at, id) order.

Voided rows are excluded unless --voided is set or --status names
voided explicitly.

Examples:
  kairon query --db ./kairon.db
  kairon query --db ./kairon.db --type todo --status pending
  kairon query --db ./kairon.db --event EV --voided --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Catalog, "catalog", "", "CUE catalog file or directory (default: embedded)")
	cmd.Flags().StringSliceVar(&opts.Types, "type", nil, "restrict to projection type(s)")
	cmd.Flags().StringSliceVar(&opts.Statuses, "status", nil, "restrict to status(es)")
	cmd.Flags().StringVar(&opts.EventID, "event", "", "restrict to one event lineage")
	cmd.Flags().BoolVar(&opts.IncludeVoided, "voided", false, "include voided projections")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "cap result count (0 = unlimited)")

	return cmd
}

func runQuery(opts *QueryOptions, cmd *cobra.Command) error {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	var statuses []ir.ProjectionStatus
	for _, s := range opts.Statuses {
		st := ir.ProjectionStatus(s)
		if !ir.ValidProjectionStatuses[st] {
			return NewExitError(ExitCommandError, fmt.Sprintf("invalid status %q", s))
		}
		statuses = append(statuses, st)
	}

	svc, cleanup, err := openService(opts.Database, opts.Catalog)
	if err != nil {
		return err
	}
	defer cleanup()

	projs, err := svc.Query(context.Background(), store.ProjectionFilter{
		Types:         opts.Types,
		Statuses:      statuses,
		EventID:       opts.EventID,
		IncludeVoided: opts.IncludeVoided,
		Limit:         opts.Limit,
	})
	if err != nil {
		return WrapExitError(ExitFailure, "query failed", err)
	}

	if opts.Format == "json" {
		return out.Success(projs)
	}

	if len(projs) == 0 {
		return out.Success("no projections")
	}
	var b strings.Builder
	for _, p := range projs {
		fmt.Fprintf(&b, "%s [%s] %s: %s", p.ID, p.Status, p.ProjectionType, p.Data.String("text"))
		if p.Voided() {
			fmt.Fprintf(&b, " (voided: %s)", p.VoidedReason)
		}
		fmt.Fprintln(&b)
	}
	return out.Success(strings.TrimRight(b.String(), "\n"))
}
