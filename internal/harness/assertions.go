package harness

import (
	"context"
	"fmt"
	"reflect"

	"github.com/roach88/kairon/internal/ir"
	"github.com/roach88/kairon/internal/store"
)

// checkAssertion evaluates one assertion against the final ledger,
// recording failures instead of stopping at the first one.
func (r *runner) checkAssertion(ctx context.Context, a Assertion) {
	switch a.Type {
	case AssertProjectionCount:
		r.checkProjectionCount(ctx, a)
	case AssertProjection:
		r.checkProjection(ctx, a)
	case AssertTraceSteps:
		r.checkTraceSteps(ctx, a)
	default:
		r.result.AddError(fmt.Sprintf("unknown assertion type %q", a.Type))
	}
}

func (r *runner) checkProjectionCount(ctx context.Context, a Assertion) {
	f := store.ProjectionFilter{}
	if a.ProjectionType != "" {
		f.Types = []string{a.ProjectionType}
	}
	if a.Status != "" {
		f.Statuses = []ir.ProjectionStatus{ir.ProjectionStatus(a.Status)}
	}
	got, err := r.st.CountProjections(ctx, f)
	if err != nil {
		r.result.AddError(fmt.Sprintf("projection_count: %v", err))
		return
	}
	if got != a.Count {
		r.result.AddError(fmt.Sprintf("projection_count(type=%q status=%q): want %d, got %d",
			a.ProjectionType, a.Status, a.Count, got))
	}
}

func (r *runner) checkProjection(ctx context.Context, a Assertion) {
	proj, err := r.projection(a.Projection)
	if err != nil {
		r.result.AddError(fmt.Sprintf("projection: %v", err))
		return
	}

	// Re-read: the in-memory copy predates any later void.
	current, err := r.st.GetProjection(ctx, proj.ID)
	if err != nil {
		r.result.AddError(fmt.Sprintf("projection %s: %v", a.Projection, err))
		return
	}

	for field, want := range a.Expect {
		got := projectionField(current, field)
		if !looseEqual(got, want) {
			r.result.AddError(fmt.Sprintf("projection %s: %s = %v, want %v",
				a.Projection, field, got, want))
		}
	}
}

func (r *runner) checkTraceSteps(ctx context.Context, a Assertion) {
	ev, err := r.event(a.Event)
	if err != nil {
		r.result.AddError(fmt.Sprintf("trace_steps: %v", err))
		return
	}
	traces, err := r.st.ListTraces(ctx, ev.ID)
	if err != nil {
		r.result.AddError(fmt.Sprintf("trace_steps: %v", err))
		return
	}

	var got []string
	for _, tr := range traces {
		got = append(got, tr.StepName)
	}
	if !reflect.DeepEqual(got, a.Steps) {
		r.result.AddError(fmt.Sprintf("trace_steps for %s: want %v, got %v", a.Event, a.Steps, got))
	}
}

// projectionField extracts an assertable field by name. Dotted names
// starting with "data." reach into the projection document.
func projectionField(p ir.Projection, field string) any {
	switch field {
	case "status":
		return string(p.Status)
	case "type":
		return p.ProjectionType
	case "voided_reason":
		return p.VoidedReason
	case "superseded_by":
		return p.SupersededByProjectionID
	case "supersedes":
		return p.SupersedesProjectionID
	default:
		if len(field) > 5 && field[:5] == "data." {
			return p.Data[field[5:]]
		}
		return nil
	}
}

// looseEqual compares scalars across YAML and JSON numeric types.
func looseEqual(got, want any) bool {
	if reflect.DeepEqual(got, want) {
		return true
	}
	gf, gok := toFloat(got)
	wf, wok := toFloat(want)
	return gok && wok && gf == wf
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
