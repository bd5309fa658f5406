package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/kairon/internal/ir"
)

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	*RootOptions
	Database  string
	Catalog   string
	EventType string
	Source    string
	Text      string
	Payload   string
	Key       string
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest a stimulus and run its chain",
		Long: `Append a stimulus to the event log and run its reasoning chain to
completion, printing the resulting projections.

Re-delivering the same stimulus (same idempotency key, or the same
payload in the same minute when no key is given) is a no-op.

Examples:
  kairon ingest --db ./kairon.db --text "!! morning run"
  kairon ingest --db ./kairon.db --text "need to buy milk"
  kairon ingest --db ./kairon.db --type proactive_pulse --payload '{}'
  kairon ingest --db ./kairon.db --text "..idea" --key msg-42 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Catalog, "catalog", "", "CUE catalog file or directory (default: embedded)")
	cmd.Flags().StringVar(&opts.EventType, "type", "user_message", "event type")
	cmd.Flags().StringVar(&opts.Source, "source", "cli", "event source tag")
	cmd.Flags().StringVar(&opts.Text, "text", "", "message text (shorthand for --payload '{\"text\": ...}')")
	cmd.Flags().StringVar(&opts.Payload, "payload", "", "payload as a JSON object")
	cmd.Flags().StringVar(&opts.Key, "key", "", "idempotency key (derived from payload when empty)")

	return cmd
}

func runIngest(opts *IngestOptions, cmd *cobra.Command) error {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	payload, err := buildPayload(opts.Text, opts.Payload)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid payload", err)
	}

	svc, cleanup, err := openService(opts.Database, opts.Catalog)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := svc.IngestSync(context.Background(), opts.EventType, opts.Source, payload, opts.Key)
	if err != nil {
		return WrapExitError(ExitFailure, "ingest failed", err)
	}

	if opts.Format == "json" {
		return out.Success(res)
	}

	var b strings.Builder
	if res.Duplicate {
		fmt.Fprintf(&b, "duplicate ignored: event %s\n", res.Event.ID)
		return out.Success(strings.TrimRight(b.String(), "\n"))
	}
	fmt.Fprintf(&b, "event %s (%s) -> chain %s\n", res.Event.ID, res.Event.EventType, res.ChainStatus)
	for _, p := range res.Projections {
		fmt.Fprintf(&b, "  projection %s [%s] %s: %s\n", p.ID, p.Status, p.ProjectionType, p.Data.String("text"))
	}
	return out.Success(strings.TrimRight(b.String(), "\n"))
}

// buildPayload merges the --text shorthand and the --payload JSON flag.
func buildPayload(text, payloadJSON string) (ir.Document, error) {
	payload := ir.Document{}
	if payloadJSON != "" {
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			return nil, fmt.Errorf("parse payload JSON: %w", err)
		}
	}
	if text != "" {
		payload["text"] = text
	}
	if text == "" && payloadJSON == "" {
		return nil, fmt.Errorf("one of --text or --payload is required")
	}
	return payload, nil
}
