package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kairon/internal/ir"
)

func TestWriteTraceRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	chain := writeChain(t, st, testEvent("e1", "k1"), "tag_route")

	tr, err := st.GetTrace(ctx, chain[0])
	require.NoError(t, err)
	assert.Equal(t, "e1", tr.EventID)
	assert.Equal(t, "tag_route", tr.StepName)
	assert.Equal(t, 1, tr.StepOrder)
	assert.Equal(t, ir.Document{"step": "tag_route"}, tr.Data.Result)
	assert.False(t, tr.Voided())
}

func TestWriteTraceValidation(t *testing.T) {
	st := openTestStore(t)

	err := st.WriteTrace(context.Background(), ir.Trace{ID: "t1", EventID: "e1"})
	require.Error(t, err)
	assert.True(t, ir.IsValidation(err))
}

func TestWriteTraceIdempotentOnID(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	chain := writeChain(t, st, testEvent("e1", "k1"), "tag_route")

	// A retried write after a transient failure must not duplicate.
	require.NoError(t, st.WriteTrace(ctx, ir.Trace{
		ID:            chain[0],
		EventID:       "e1",
		StepName:      "tag_route",
		StepOrder:     1,
		CreatedAt:     testBase,
		EngineVersion: ir.EngineVersion,
	}))

	traces, err := st.ListTraces(ctx, "e1")
	require.NoError(t, err)
	assert.Len(t, traces, 1)
}

func TestListTracesChainOrder(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	chain := writeChain(t, st, testEvent("e1", "k1"),
		"tag_route", "extract_captures", "todo_match")

	traces, err := st.ListTraces(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, traces, 3)
	for i, tr := range traces {
		assert.Equal(t, chain[i], tr.ID)
		assert.Equal(t, i+1, tr.StepOrder)
	}
	assert.Equal(t, "", traces[0].ParentTraceID)
	assert.Equal(t, chain[0], traces[1].ParentTraceID)
	assert.Equal(t, chain[1], traces[2].ParentTraceID)
}

func TestVoidTraceSingleWinner(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	chain := writeChain(t, st, testEvent("e1", "k1"), "tag_route")

	won, err := st.VoidTrace(ctx, chain[0], "t-next", testBase.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, won)

	tr, err := st.GetTrace(ctx, chain[0])
	require.NoError(t, err)
	assert.True(t, tr.Voided())
	assert.Equal(t, "t-next", tr.SupersededByTraceID)

	// Losing a void race is a no-op, not an error.
	won, err = st.VoidTrace(ctx, chain[0], "t-other", testBase.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, won)

	tr, err = st.GetTrace(ctx, chain[0])
	require.NoError(t, err)
	assert.Equal(t, "t-next", tr.SupersededByTraceID, "loser must not overwrite the link")
}

func TestVoidTraceUnknown(t *testing.T) {
	st := openTestStore(t)

	_, err := st.VoidTrace(context.Background(), "missing", "", testBase)
	require.Error(t, err)
	assert.True(t, ir.IsNotFound(err))
}

func TestGetTracesPreservesRequestOrder(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	chain := writeChain(t, st, testEvent("e1", "k1"), "tag_route", "todo_match")

	traces, err := st.GetTraces(ctx, chain)
	require.NoError(t, err)
	require.Len(t, traces, 2)
	assert.Equal(t, chain[0], traces[0].ID)
	assert.Equal(t, chain[1], traces[1].ID)

	_, err = st.GetTraces(ctx, []string{chain[0], "missing"})
	require.Error(t, err)
	assert.True(t, ir.IsNotFound(err))
}
