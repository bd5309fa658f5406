package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kairon/internal/ir"
)

func validPlan() ir.StepPlan {
	return ir.StepPlan{
		Name:      "capture",
		EventType: "user_message",
		Steps: []ir.StepSpec{
			{Name: "classify_tag", Kind: ir.StepKindRule},
			{Name: "extract_captures", Kind: ir.StepKindReason, Gather: []string{"classify_tag", "open_todos"}},
		},
	}
}

func TestValidatePlanOK(t *testing.T) {
	errs := Validate(validPlan())
	assert.Empty(t, errs)
}

func TestValidatePlanCollectsAllErrors(t *testing.T) {
	plan := ir.StepPlan{
		Name:      "",
		EventType: "",
		Steps: []ir.StepSpec{
			{Name: "Bad-Name", Kind: "mystery"},
		},
	}

	errs := Validate(&plan)
	codes := map[string]bool{}
	for _, e := range errs {
		codes[e.Code] = true
	}
	assert.True(t, codes[ErrPlanNameEmpty])
	assert.True(t, codes[ErrPlanEventTypeEmpty])
	assert.True(t, codes[ErrStepNameInvalid])
	assert.True(t, codes[ErrInvalidStepKind])
}

func TestValidatePlanDuplicateStep(t *testing.T) {
	plan := validPlan()
	plan.Steps = append(plan.Steps, ir.StepSpec{Name: "classify_tag", Kind: ir.StepKindRule})

	errs := Validate(plan)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrDuplicateStepName, errs[0].Code)
}

func TestValidatePlanGatherForwardReference(t *testing.T) {
	plan := ir.StepPlan{
		Name:      "capture",
		EventType: "user_message",
		Steps: []ir.StepSpec{
			// gathers from a step that runs later
			{Name: "first", Kind: ir.StepKindReason, Gather: []string{"second"}},
			{Name: "second", Kind: ir.StepKindReason},
		},
	}

	errs := Validate(plan)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrGatherUnknownStep, errs[0].Code)
}

func TestValidatePlanGatherContextSource(t *testing.T) {
	plan := ir.StepPlan{
		Name:      "pulse",
		EventType: "proactive_pulse",
		Steps: []ir.StepSpec{
			{Name: "scan_open_todos", Kind: ir.StepKindReason, Gather: []string{"open_todos", "live_projections"}},
		},
	}

	errs := Validate(plan)
	assert.Empty(t, errs)
}

func TestValidateNoSteps(t *testing.T) {
	plan := ir.StepPlan{Name: "empty", EventType: "user_message"}

	errs := Validate(plan)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrPlanNoSteps, errs[0].Code)
}

func TestValidateRegenDescriptor(t *testing.T) {
	ok := ir.RegenDescriptor{
		StepName:     "classify_tag",
		Label:        "Reclassify",
		Alternatives: []string{"note"},
	}
	assert.Empty(t, Validate(ok))

	bad := ir.RegenDescriptor{}
	errs := Validate(bad)
	codes := map[string]bool{}
	for _, e := range errs {
		codes[e.Code] = true
	}
	assert.True(t, codes[ErrRegenStepEmpty])
	assert.True(t, codes[ErrRegenLabelEmpty])
	assert.True(t, codes[ErrRegenNoOutcome])
}

func TestValidateUnsupportedType(t *testing.T) {
	errs := Validate(42)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrUnsupportedIRType, errs[0].Code)
}

func TestValidationErrorString(t *testing.T) {
	e := ValidationError{Field: "name", Message: "plan name is required", Code: ErrPlanNameEmpty}
	assert.Equal(t, "[E101] name: plan name is required", e.Error())
}
