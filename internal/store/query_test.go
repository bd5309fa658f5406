package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kairon/internal/ir"
)

// seedProjections writes two events with one todo, one note, and one
// voided todo across them.
func seedProjections(t *testing.T, st *Store) {
	t.Helper()
	ctx := context.Background()

	chain1 := writeChain(t, st, testEvent("e1", "k1"), "tag_route")
	chain2 := writeChain(t, st, testEvent("e2", "k2"), "tag_route")

	todo := testProjection("p1", "e1", chain1)
	_, err := st.CreateProjection(ctx, todo)
	require.NoError(t, err)

	note := testProjection("p2", "e1", chain1)
	note.ProjectionType = "note"
	note.Status = ir.StatusAutoConfirmed
	note.CreatedAt = testBase.Add(2 * time.Minute)
	_, err = st.CreateProjection(ctx, note)
	require.NoError(t, err)

	gone := testProjection("p3", "e2", chain2)
	gone.CreatedAt = testBase.Add(3 * time.Minute)
	_, err = st.CreateProjection(ctx, gone)
	require.NoError(t, err)
	_, won, err := st.VoidProjection(ctx, "p3", ir.VoidReasonRejected, "", "", testBase.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, won)
}

func TestQueryProjectionsExcludesVoidedByDefault(t *testing.T) {
	st := openTestStore(t)
	seedProjections(t, st)
	ctx := context.Background()

	live, err := st.QueryProjections(ctx, ProjectionFilter{})
	require.NoError(t, err)
	require.Len(t, live, 2)
	assert.Equal(t, "p1", live[0].ID)
	assert.Equal(t, "p2", live[1].ID)

	all, err := st.QueryProjections(ctx, ProjectionFilter{IncludeVoided: true})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestQueryProjectionsFilters(t *testing.T) {
	st := openTestStore(t)
	seedProjections(t, st)
	ctx := context.Background()

	byType, err := st.QueryProjections(ctx, ProjectionFilter{Types: []string{"note"}})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, "p2", byType[0].ID)

	byStatus, err := st.QueryProjections(ctx, ProjectionFilter{
		Statuses: []ir.ProjectionStatus{ir.StatusVoided},
	})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "p3", byStatus[0].ID, "naming voided explicitly overrides the default exclusion")

	byEvent, err := st.QueryProjections(ctx, ProjectionFilter{EventID: "e1"})
	require.NoError(t, err)
	assert.Len(t, byEvent, 2)

	window, err := st.QueryProjections(ctx, ProjectionFilter{
		IncludeVoided: true,
		Since:         testBase.Add(2 * time.Minute),
		Until:         testBase.Add(3 * time.Minute),
	})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, "p2", window[0].ID)

	limited, err := st.QueryProjections(ctx, ProjectionFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "p1", limited[0].ID)
}

func TestCountProjections(t *testing.T) {
	st := openTestStore(t)
	seedProjections(t, st)
	ctx := context.Background()

	live, err := st.CountProjections(ctx, ProjectionFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, live)

	todos, err := st.CountProjections(ctx, ProjectionFilter{Types: []string{"todo"}})
	require.NoError(t, err)
	assert.Equal(t, 1, todos)

	voided, err := st.CountProjections(ctx, ProjectionFilter{
		Statuses: []ir.ProjectionStatus{ir.StatusVoided},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, voided)
}
