package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/kairon/internal/service"
	"github.com/roach88/kairon/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database  string
	Catalog   string
	EventType string
	Source    string
	Since     string
	Until     string
	Limit     int
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Reprocess past events with the current plans",
		Long: `Run a fresh reasoning chain for each selected past event, voiding
every live projection previously derived from it with reason
superseded_by_replay and linking old to new. Event rows are never
mutated; correction events are skipped.

Timestamps are RFC 3339.

Examples:
  kairon replay --db ./kairon.db --type user_message
  kairon replay --db ./kairon.db --since 2025-06-01T00:00:00Z --catalog ./plans/`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Catalog, "catalog", "", "CUE catalog file or directory (default: embedded)")
	cmd.Flags().StringVar(&opts.EventType, "type", "", "restrict to one event type")
	cmd.Flags().StringVar(&opts.Source, "source", "", "restrict to one source tag")
	cmd.Flags().StringVar(&opts.Since, "since", "", "only events received at or after this time")
	cmd.Flags().StringVar(&opts.Until, "until", "", "only events received before this time")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "cap event count (0 = unlimited)")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	filter := store.EventFilter{
		EventType: opts.EventType,
		Source:    opts.Source,
		Limit:     opts.Limit,
	}
	var err error
	if filter.Since, err = parseFlagTime(opts.Since); err != nil {
		return WrapExitError(ExitCommandError, "invalid --since", err)
	}
	if filter.Until, err = parseFlagTime(opts.Until); err != nil {
		return WrapExitError(ExitCommandError, "invalid --until", err)
	}

	svc, cleanup, err := openService(opts.Database, opts.Catalog)
	if err != nil {
		return err
	}
	defer cleanup()

	results, err := svc.RequestCorrection(context.Background(), service.CorrectionRequest{
		Kind:   service.CorrectionReplay,
		Filter: filter,
	})
	if err != nil {
		return WrapExitError(ExitFailure, "replay failed", err)
	}

	if opts.Format == "json" {
		return out.Success(results)
	}

	var created, voided int
	for _, res := range results {
		created += len(res.NewProjections)
		voided += len(res.Voided)
	}
	return out.Success(fmt.Sprintf("replayed %d event(s): %d projection(s) created, %d superseded",
		len(results), created, voided))
}

func parseFlagTime(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
