package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kairon/internal/ir"
)

func TestAppendEventIdempotent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	first, isNew, err := st.AppendEvent(ctx, testEvent("e1", "k1"))
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, "e1", first.ID)

	// Same key, different id: the re-delivery returns the stored row.
	redelivered := testEvent("e2", "k1")
	redelivered.Payload = ir.Document{"text": "buy milk"}
	again, isNew, err := st.AppendEvent(ctx, redelivered)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, "e1", again.ID, "collision returns the earlier delivery")

	events, err := st.ListEvents(ctx, EventFilter{})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestAppendEventSameKeyDifferentType(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	_, isNew, err := st.AppendEvent(ctx, testEvent("e1", "k1"))
	require.NoError(t, err)
	require.True(t, isNew)

	other := testEvent("e2", "k1")
	other.EventType = "user_correction"
	_, isNew, err = st.AppendEvent(ctx, other)
	require.NoError(t, err)
	assert.True(t, isNew, "idempotency is scoped per event type")
}

func TestAppendEventValidation(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*ir.Event)
	}{
		{"missing id", func(ev *ir.Event) { ev.ID = "" }},
		{"missing type", func(ev *ir.Event) { ev.EventType = "" }},
		{"missing source", func(ev *ir.Event) { ev.Source = "" }},
		{"missing key", func(ev *ir.Event) { ev.IdempotencyKey = "" }},
		{"zero received_at", func(ev *ir.Event) { ev.ReceivedAt = time.Time{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := testEvent("e1", "k1")
			tt.mutate(&ev)
			_, _, err := st.AppendEvent(ctx, ev)
			require.Error(t, err)
			assert.True(t, ir.IsValidation(err))
		})
	}
}

func TestGetEventNotFound(t *testing.T) {
	st := openTestStore(t)

	_, err := st.GetEvent(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, ir.IsNotFound(err))
}

func TestSetCancellationMarkerFirstWriterWins(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	_, _, err := st.AppendEvent(ctx, testEvent("e1", "k1"))
	require.NoError(t, err)

	// First set: no correction event yet.
	require.NoError(t, st.SetCancellationMarker(ctx, "e1", "", testBase))

	requested, err := st.CancellationRequested(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, requested)

	// Second set fills the correction link but keeps the first timestamp.
	later := testBase.Add(5 * time.Second)
	require.NoError(t, st.SetCancellationMarker(ctx, "e1", "corr-1", later))

	ev, err := st.GetEvent(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, ev.Metadata.CancellationRequested)
	assert.Equal(t, "corr-1", ev.Metadata.CorrectionEventID)
	require.NotNil(t, ev.Metadata.CancellationRequestedAt)
	assert.Equal(t, testBase, ev.Metadata.CancellationRequestedAt.UTC())

	// A third caller cannot re-point the correction link.
	require.NoError(t, st.SetCancellationMarker(ctx, "e1", "corr-2", later))
	ev, err = st.GetEvent(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "corr-1", ev.Metadata.CorrectionEventID)
}

func TestSetCancellationMarkerUnknownEvent(t *testing.T) {
	st := openTestStore(t)

	err := st.SetCancellationMarker(context.Background(), "missing", "", testBase)
	require.Error(t, err)
	assert.True(t, ir.IsNotFound(err))
}

func TestCancellationRequestedUnknownEvent(t *testing.T) {
	st := openTestStore(t)

	_, err := st.CancellationRequested(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, ir.IsNotFound(err))
}

func TestListEventsFilters(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	for i, spec := range []struct {
		id, eventType, source string
		at                    time.Time
	}{
		{"e1", "user_message", "cli", testBase},
		{"e2", "user_message", "webhook", testBase.Add(time.Minute)},
		{"e3", "proactive_pulse", "scheduler", testBase.Add(2 * time.Minute)},
	} {
		ev := testEvent(spec.id, spec.id+"-key")
		ev.EventType = spec.eventType
		ev.Source = spec.source
		ev.ReceivedAt = spec.at
		_, isNew, err := st.AppendEvent(ctx, ev)
		require.NoError(t, err, "event %d", i)
		require.True(t, isNew)
	}

	all, err := st.ListEvents(ctx, EventFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"e1", "e2", "e3"}, []string{all[0].ID, all[1].ID, all[2].ID})

	byType, err := st.ListEvents(ctx, EventFilter{EventType: "user_message"})
	require.NoError(t, err)
	assert.Len(t, byType, 2)

	bySource, err := st.ListEvents(ctx, EventFilter{Source: "scheduler"})
	require.NoError(t, err)
	require.Len(t, bySource, 1)
	assert.Equal(t, "e3", bySource[0].ID)

	window, err := st.ListEvents(ctx, EventFilter{
		Since: testBase.Add(time.Minute),
		Until: testBase.Add(2 * time.Minute),
	})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, "e2", window[0].ID, "until bound is exclusive")

	limited, err := st.ListEvents(ctx, EventFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}
