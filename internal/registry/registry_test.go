package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kairon/internal/ir"
)

func TestDefaultCatalogLoads(t *testing.T) {
	r := Default()

	plan, err := r.PlanFor("user_message")
	require.NoError(t, err)
	assert.Equal(t, "capture", plan.Name)
	require.NotEmpty(t, plan.Steps)
	assert.Equal(t, "tag_route", plan.Steps[0].Name)

	_, err = r.PlanFor("proactive_pulse")
	require.NoError(t, err)

	corr, err := r.PlanFor("user_correction")
	require.NoError(t, err)
	require.Len(t, corr.Steps, 1)
	assert.Equal(t, "apply_correction", corr.Steps[0].Name)
	assert.Equal(t, ir.StepKindRule, corr.Steps[0].Kind)
}

func TestDefaultRegenEntries(t *testing.T) {
	r := Default()

	d, err := r.Lookup("tag_route")
	require.NoError(t, err)
	assert.Equal(t, "Reclassify", d.Label)
	assert.Contains(t, d.Alternatives, "note")

	_, err = r.Lookup("todo_match")
	require.Error(t, err)
	assert.True(t, ir.IsNotRegenerable(err))
}

func TestPlanForUnknownEventType(t *testing.T) {
	r := Default()

	_, err := r.PlanFor("unknown_event")
	require.Error(t, err)
	assert.True(t, ir.IsValidation(err))
}

func TestNewRejectsDuplicateEventType(t *testing.T) {
	plans := []ir.StepPlan{
		{Name: "a", EventType: "user_message", Steps: []ir.StepSpec{{Name: "s1", Kind: ir.StepKindReason}}},
		{Name: "b", EventType: "user_message", Steps: []ir.StepSpec{{Name: "s2", Kind: ir.StepKindReason}}},
	}

	_, err := New(plans, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "both claim event type")
}

func TestNewRejectsOrphanRegenEntry(t *testing.T) {
	plans := []ir.StepPlan{
		{Name: "a", EventType: "user_message", Steps: []ir.StepSpec{{Name: "s1", Kind: ir.StepKindReason}}},
	}
	descs := []ir.RegenDescriptor{
		{StepName: "missing_step", Label: "Redo", Alternatives: []string{"x"}},
	}

	_, err := New(plans, descs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no plan defines that step")
}

func TestLoadRejectsInvalidPlan(t *testing.T) {
	_, err := Load(`plan: bad: { event_type: "user_message", steps: [] }`)
	require.Error(t, err)
}

func TestEventTypesAndRegenerable(t *testing.T) {
	r := Default()
	assert.Len(t, r.EventTypes(), 3)
	assert.NotEmpty(t, r.Regenerable())
}
