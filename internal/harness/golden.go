package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/kairon/internal/ir"
	"github.com/roach88/kairon/internal/store"
)

// snapshot captures the logical ledger state after a scenario: every
// event, trace, and projection in deterministic order, without
// timestamps. With deterministic clocks and ids the snapshot is stable
// across runs and machines.
func snapshot(ctx context.Context, sc *Scenario, st *store.Store) (map[string]any, error) {
	events, err := st.ListEvents(ctx, store.EventFilter{})
	if err != nil {
		return nil, err
	}

	evList := make([]any, 0, len(events))
	trList := make([]any, 0)
	for _, ev := range events {
		evList = append(evList, map[string]any{
			"id":                     ev.ID,
			"event_type":             ev.EventType,
			"source":                 ev.Source,
			"cancellation_requested": ev.Metadata.CancellationRequested,
		})

		traces, err := st.ListTraces(ctx, ev.ID)
		if err != nil {
			return nil, err
		}
		for _, tr := range traces {
			entry := map[string]any{
				"id":         tr.ID,
				"event_id":   tr.EventID,
				"step_name":  tr.StepName,
				"step_order": tr.StepOrder,
				"voided":     tr.Voided(),
			}
			if tr.ParentTraceID != "" {
				entry["parent"] = tr.ParentTraceID
			}
			if tr.Data.Aborted {
				entry["aborted"] = true
			}
			if tr.Data.Error != "" {
				entry["error"] = tr.Data.Error
			}
			trList = append(trList, entry)
		}
	}

	projs, err := st.QueryProjections(ctx, store.ProjectionFilter{IncludeVoided: true})
	if err != nil {
		return nil, err
	}
	prList := make([]any, 0, len(projs))
	for _, p := range projs {
		entry := map[string]any{
			"id":       p.ID,
			"event_id": p.EventID,
			"type":     p.ProjectionType,
			"status":   string(p.Status),
			"text":     p.Data.String("text"),
		}
		if p.VoidedReason != "" {
			entry["voided_reason"] = p.VoidedReason
		}
		if p.SupersededByProjectionID != "" {
			entry["superseded_by"] = p.SupersededByProjectionID
		}
		if p.SupersedesProjectionID != "" {
			entry["supersedes"] = p.SupersedesProjectionID
		}
		prList = append(prList, entry)
	}

	return map[string]any{
		"scenario":    sc.Name,
		"events":      evList,
		"traces":      trList,
		"projections": prList,
	}, nil
}

// RunWithGolden executes a scenario, fails the test on assertion
// errors, and compares the ledger snapshot against
// testdata/golden/{name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, sc *Scenario) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "scenario.db")
	result, err := Run(sc, dbPath)
	if err != nil {
		t.Fatalf("scenario %s: %v", sc.Name, err)
	}
	for _, msg := range result.Errors {
		t.Errorf("scenario %s: %s", sc.Name, msg)
	}

	// Reopen read-only for the snapshot; Run closed its handle.
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer st.Close()

	snap, err := snapshot(context.Background(), sc, st)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	data, err := ir.MarshalCanonical(snap)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, sc.Name, data)
}
