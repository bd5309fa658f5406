package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/kairon/internal/ir"
)

var testBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testEvent(id, key string) ir.Event {
	return ir.Event{
		ID:             id,
		ReceivedAt:     testBase,
		EventType:      "user_message",
		Source:         "test",
		Payload:        ir.Document{"text": "buy milk"},
		IdempotencyKey: key,
	}
}

// writeChain appends one event and a linear trace chain for it, one
// trace per step name, and returns the trace ids in chain order.
func writeChain(t *testing.T, st *Store, ev ir.Event, steps ...string) []string {
	t.Helper()
	ctx := context.Background()

	_, isNew, err := st.AppendEvent(ctx, ev)
	require.NoError(t, err)
	require.True(t, isNew)

	ids := make([]string, 0, len(steps))
	parent := ""
	for i, step := range steps {
		id := ev.ID + "-t" + step
		require.NoError(t, st.WriteTrace(ctx, ir.Trace{
			ID:            id,
			EventID:       ev.ID,
			ParentTraceID: parent,
			StepName:      step,
			StepOrder:     i + 1,
			CreatedAt:     testBase.Add(time.Duration(i+1) * time.Second),
			Data:          ir.StepData{Result: ir.Document{"step": step}},
			EngineVersion: ir.EngineVersion,
		}))
		parent = id
		ids = append(ids, id)
	}
	return ids
}

func TestSchemaStatementsSplitCleanly(t *testing.T) {
	stmts := splitStatements(schemaSQL)
	require.NotEmpty(t, stmts)

	// Comments carry semicolons; every real statement must still start
	// with a CREATE after splitting.
	for _, stmt := range stmts {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		require.Truef(t, strings.HasPrefix(stmt, "CREATE"),
			"schema statement split mid-comment: %q", stmt)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	st1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, st1.Close())

	st2, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, st2.Close())
}
