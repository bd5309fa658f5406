package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kairon/internal/ir"
	"github.com/roach88/kairon/internal/oracle"
	"github.com/roach88/kairon/internal/store"
	"github.com/roach88/kairon/internal/testutil"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestEngine(t *testing.T, st *store.Store, o oracle.Oracle, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithClock(testutil.NewDeterministicClock()),
		WithIDGenerator(testutil.NewSequentialIDs("id")),
	}
	return New(st, o, append(base, opts...)...)
}

func appendTestEvent(t *testing.T, st *store.Store, text string) ir.Event {
	t.Helper()
	ev, isNew, err := st.AppendEvent(context.Background(), ir.Event{
		ID:             "ev-" + text[:min(8, len(text))],
		ReceivedAt:     testutil.Epoch,
		EventType:      "user_message",
		Source:         "test",
		Payload:        ir.Document{"text": text},
		IdempotencyKey: "key-" + text,
	})
	require.NoError(t, err)
	require.True(t, isNew)
	return ev
}

func reasonPlan(steps ...string) ir.StepPlan {
	plan := ir.StepPlan{Name: "test", EventType: "user_message"}
	for _, s := range steps {
		plan.Steps = append(plan.Steps, ir.StepSpec{Name: s, Kind: ir.StepKindReason})
	}
	return plan
}

func TestRunChainCompleted(t *testing.T) {
	st := openTestStore(t)
	scripted := oracle.NewScriptedOracle().
		Script("classify", oracle.ScriptedStep{
			Result: oracle.Result{Output: ir.Document{"category": "todo"}, Confidence: 0.9},
		}).
		Script("extract", oracle.ScriptedStep{
			Result: oracle.Result{
				Output: ir.Document{"done": true},
				Captures: []ir.Capture{{
					ProjectionType: "todo",
					Data:           ir.Document{"text": "buy milk"},
					InitialStatus:  ir.StatusPending,
				}},
				Confidence: 0.8,
			},
		})
	eng := newTestEngine(t, st, scripted)
	ev := appendTestEvent(t, st, "need to buy milk")

	out, err := eng.RunChain(context.Background(), ChainRequest{Event: ev, Plan: reasonPlan("classify", "extract")})
	require.NoError(t, err)
	assert.Equal(t, ChainCompleted, out.Status)
	require.Len(t, out.TraceChain, 2)
	require.Len(t, out.Captures, 1)

	traces, err := st.ListTraces(context.Background(), ev.ID)
	require.NoError(t, err)
	require.Len(t, traces, 2)
	assert.Equal(t, "", traces[0].ParentTraceID)
	assert.Equal(t, traces[0].ID, traces[1].ParentTraceID)
	assert.Equal(t, 1, traces[0].StepOrder)
	assert.Equal(t, 2, traces[1].StepOrder)
	assert.False(t, traces[0].Voided())
	assert.Equal(t, ir.EngineVersion, traces[0].EngineVersion)

	// The second step sees the first step's output in its context, both
	// flat and under the step name.
	calls := scripted.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "todo", calls[1].Context.String("category"))
	assert.Equal(t, map[string]any{"category": "todo"}, calls[1].Context["classify"])
}

func TestRunChainStepFailure(t *testing.T) {
	st := openTestStore(t)
	boom := errors.New("model said no")
	scripted := oracle.NewScriptedOracle().
		Script("classify", oracle.ScriptedStep{Err: boom})
	eng := newTestEngine(t, st, scripted)
	ev := appendTestEvent(t, st, "anything")

	out, err := eng.RunChain(context.Background(), ChainRequest{Event: ev, Plan: reasonPlan("classify")})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, ChainFailed, out.Status)
	assert.Equal(t, "classify", out.FailedStep)
	require.Len(t, out.TraceChain, 1)

	// The failure is auditable from the ledger as a voided trace.
	tr, err := st.GetTrace(context.Background(), out.TraceChain[0])
	require.NoError(t, err)
	assert.True(t, tr.Voided())
	assert.Contains(t, tr.Data.Error, "model said no")
	assert.False(t, tr.Data.Aborted)
}

func TestRunChainStepTimeout(t *testing.T) {
	st := openTestStore(t)
	scripted := oracle.NewScriptedOracle().
		Script("classify", oracle.ScriptedStep{Delay: time.Second})
	eng := newTestEngine(t, st, scripted, WithStepTimeout(10*time.Millisecond))
	ev := appendTestEvent(t, st, "anything")

	out, err := eng.RunChain(context.Background(), ChainRequest{Event: ev, Plan: reasonPlan("classify")})
	require.Error(t, err)
	assert.True(t, ir.IsStepTimeout(err))
	assert.Equal(t, ChainFailed, out.Status)
}

func TestRunChainAbortBeforeFirstStep(t *testing.T) {
	st := openTestStore(t)
	scripted := oracle.NewScriptedOracle()
	eng := newTestEngine(t, st, scripted)
	ev := appendTestEvent(t, st, "anything")
	require.NoError(t, st.SetCancellationMarker(context.Background(), ev.ID, "", testutil.Epoch))

	out, err := eng.RunChain(context.Background(), ChainRequest{Event: ev, Plan: reasonPlan("classify")})
	require.NoError(t, err)
	assert.Equal(t, ChainAborted, out.Status)
	assert.Equal(t, "classify", out.FailedStep)
	assert.Empty(t, out.Captures)
	assert.Empty(t, scripted.Calls(), "no reasoning call after the marker is set")

	tr, err := st.GetTrace(context.Background(), out.TraceChain[0])
	require.NoError(t, err)
	assert.True(t, tr.Voided())
	assert.True(t, tr.Data.Aborted)
}

// markerOracle sets the cancellation marker while a step is running, so
// the next poll observes it.
type markerOracle struct {
	st *store.Store
	ev string
}

func (o markerOracle) Invoke(_ context.Context, in oracle.Input) (oracle.Result, error) {
	if err := o.st.SetCancellationMarker(context.Background(), o.ev, "", testutil.Epoch); err != nil {
		return oracle.Result{}, err
	}
	return oracle.Result{Output: ir.Document{"step": in.StepName}, Confidence: 1}, nil
}

func TestRunChainAbortMidChain(t *testing.T) {
	st := openTestStore(t)
	ev := appendTestEvent(t, st, "anything")
	eng := newTestEngine(t, st, markerOracle{st: st, ev: ev.ID})

	out, err := eng.RunChain(context.Background(), ChainRequest{Event: ev, Plan: reasonPlan("first", "second", "third")})
	require.NoError(t, err)
	assert.Equal(t, ChainAborted, out.Status)
	assert.Equal(t, "second", out.FailedStep, "marker set during step 1 is observed before step 2")
	require.Len(t, out.TraceChain, 2)

	traces, err := st.ListTraces(context.Background(), ev.ID)
	require.NoError(t, err)
	require.Len(t, traces, 2)
	assert.False(t, traces[0].Voided(), "completed steps before the abort stay live")
	assert.True(t, traces[1].Voided())
	assert.True(t, traces[1].Data.Aborted)
	assert.Equal(t, traces[0].ID, traces[1].ParentTraceID)
}

func TestRunChainEmptyPlan(t *testing.T) {
	st := openTestStore(t)
	eng := newTestEngine(t, st, oracle.NewScriptedOracle())
	ev := appendTestEvent(t, st, "anything")

	_, err := eng.RunChain(context.Background(), ChainRequest{Event: ev, Plan: ir.StepPlan{Name: "empty"}})
	require.Error(t, err)
	assert.True(t, ir.IsValidation(err))
}

func TestRunChainStepQuota(t *testing.T) {
	st := openTestStore(t)
	eng := newTestEngine(t, st, oracle.NewScriptedOracle(), WithMaxSteps(2))
	ev := appendTestEvent(t, st, "anything")

	_, err := eng.RunChain(context.Background(), ChainRequest{Event: ev, Plan: reasonPlan("a", "b", "c")})
	require.Error(t, err)
	var quota *StepsExceededError
	require.ErrorAs(t, err, &quota)
	assert.Equal(t, 3, quota.Steps)
	assert.Equal(t, 2, quota.Limit)
}

func TestRunChainRuleStep(t *testing.T) {
	st := openTestStore(t)
	eng := newTestEngine(t, st, oracle.NewScriptedOracle())
	ev := appendTestEvent(t, st, "$$ buy milk")

	plan := ir.StepPlan{Name: "capture", EventType: "user_message", Steps: []ir.StepSpec{
		{Name: "tag_route", Kind: ir.StepKindRule},
	}}
	out, err := eng.RunChain(context.Background(), ChainRequest{Event: ev, Plan: plan})
	require.NoError(t, err)
	assert.Equal(t, ChainCompleted, out.Status)
	require.Len(t, out.Captures, 1)
	assert.Equal(t, "todo", out.Captures[0].ProjectionType)
}

func TestRunChainGatherOpenTodos(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	// Seed a live todo projection from a prior event.
	prior := appendTestEvent(t, st, "$$ buy milk")
	require.NoError(t, st.WriteTrace(ctx, ir.Trace{
		ID: "t-prior", EventID: prior.ID, StepName: "tag_route", StepOrder: 1,
		CreatedAt: testutil.Epoch, EngineVersion: ir.EngineVersion,
	}))
	_, err := st.CreateProjection(ctx, ir.Projection{
		ID: "p-prior", TraceID: "t-prior", EventID: prior.ID,
		TraceChain: []string{"t-prior"}, ProjectionType: "todo",
		Data:   ir.Document{"text": "buy milk"},
		Status: ir.StatusAutoConfirmed, CreatedAt: testutil.Epoch,
	})
	require.NoError(t, err)

	scripted := oracle.NewScriptedOracle().Script("scan", oracle.ScriptedStep{
		Result: oracle.Result{Output: ir.Document{}, Confidence: 1},
	})
	eng := newTestEngine(t, st, scripted)
	ev := appendTestEvent(t, st, "bought it")

	plan := ir.StepPlan{Name: "pulse", EventType: "user_message", Steps: []ir.StepSpec{
		{Name: "scan", Kind: ir.StepKindReason, Gather: []string{"open_todos"}},
	}}
	_, err = eng.RunChain(ctx, ChainRequest{Event: ev, Plan: plan})
	require.NoError(t, err)

	calls := scripted.Calls()
	require.Len(t, calls, 1)
	open, ok := calls[0].Context["open_todos"].([]any)
	require.True(t, ok)
	require.Len(t, open, 1)
	assert.Equal(t, map[string]any{"id": "p-prior", "text": "buy milk"}, open[0])
}

func TestRunChainGatherUnknownSource(t *testing.T) {
	st := openTestStore(t)
	eng := newTestEngine(t, st, oracle.NewScriptedOracle())
	ev := appendTestEvent(t, st, "anything")

	plan := ir.StepPlan{Name: "bad", EventType: "user_message", Steps: []ir.StepSpec{
		{Name: "scan", Kind: ir.StepKindReason, Gather: []string{"everything"}},
	}}
	out, err := eng.RunChain(context.Background(), ChainRequest{Event: ev, Plan: plan})
	require.Error(t, err)
	assert.Equal(t, ChainFailed, out.Status)
	require.Len(t, out.TraceChain, 1, "the gather failure is recorded as a voided trace")
}

func TestRunChainSeedContext(t *testing.T) {
	st := openTestStore(t)
	scripted := oracle.NewScriptedOracle().Script("apply", oracle.ScriptedStep{
		Result: oracle.Result{Output: ir.Document{}, Confidence: 1},
	})
	eng := newTestEngine(t, st, scripted)
	ev := appendTestEvent(t, st, "anything")

	plan := reasonPlan("apply")
	_, err := eng.RunChain(context.Background(), ChainRequest{
		Event: ev, Plan: plan,
		Seed:              ir.Document{"corrected_type": "todo"},
		ChosenAlternative: "todo",
	})
	require.NoError(t, err)

	calls := scripted.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "todo", calls[0].Context.String("corrected_type"))
	assert.Equal(t, "todo", calls[0].ChosenAlternative)
}

func TestPersistCaptures(t *testing.T) {
	st := openTestStore(t)
	scripted := oracle.NewScriptedOracle().Script("extract", oracle.ScriptedStep{
		Result: oracle.Result{
			Output: ir.Document{},
			Captures: []ir.Capture{
				{ProjectionType: "todo", Data: ir.Document{"text": "buy milk"}, InitialStatus: ir.StatusPending},
				{ProjectionType: "note", Data: ir.Document{"text": "milk is out"}, InitialStatus: ir.StatusAutoConfirmed},
			},
			Confidence: 1,
		},
	})
	eng := newTestEngine(t, st, scripted)
	ev := appendTestEvent(t, st, "buy milk, note milk is out")

	out, err := eng.RunChain(context.Background(), ChainRequest{Event: ev, Plan: reasonPlan("extract")})
	require.NoError(t, err)

	projs, err := eng.PersistCaptures(context.Background(), ev.ID, out)
	require.NoError(t, err)
	require.Len(t, projs, 2)
	for _, p := range projs {
		assert.Equal(t, ev.ID, p.EventID)
		assert.Equal(t, out.TraceChain, p.TraceChain)
		assert.Equal(t, out.TraceChain[len(out.TraceChain)-1], p.TraceID)
	}
	assert.Equal(t, ir.StatusPending, projs[0].Status)
	assert.Equal(t, ir.StatusAutoConfirmed, projs[1].Status)
}

func TestPersistCapturesRejectsNonCompleted(t *testing.T) {
	st := openTestStore(t)
	eng := newTestEngine(t, st, oracle.NewScriptedOracle())

	_, err := eng.PersistCaptures(context.Background(), "e1", Outcome{Status: ChainAborted})
	require.Error(t, err)
	assert.True(t, ir.IsValidation(err))
}
