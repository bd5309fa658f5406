package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/kairon/internal/ir"
)

// CompilePlan parses a CUE value into a StepPlan.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the plan struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`plan: capture: { event_type: "user_message", ... }`)
//	plan, err := CompilePlan(v.LookupPath(cue.ParsePath("plan.capture")))
func CompilePlan(v cue.Value) (*ir.StepPlan, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	plan := &ir.StepPlan{}

	// Plan name comes from the struct label (the path selector)
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		plan.Name = labels[len(labels)-1].String()
	}

	// event_type is required
	etVal := v.LookupPath(cue.ParsePath("event_type"))
	if !etVal.Exists() {
		return nil, &CompileError{
			Field:   "event_type",
			Message: "event_type is required",
			Pos:     v.Pos(),
		}
	}
	eventType, err := etVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	plan.EventType = eventType

	// steps is required, at least one
	plan.Steps, err = parseSteps(v)
	if err != nil {
		return nil, err
	}
	if len(plan.Steps) == 0 {
		return nil, &CompileError{
			Field:   "steps",
			Message: "at least one step is required",
			Pos:     v.Pos(),
		}
	}

	return plan, nil
}

// CompilePlans parses every plan defined under the top-level "plan" struct.
func CompilePlans(v cue.Value) ([]ir.StepPlan, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	root := v.LookupPath(cue.ParsePath("plan"))
	if !root.Exists() {
		return nil, &CompileError{
			Field:   "plan",
			Message: "no plan struct found",
			Pos:     v.Pos(),
		}
	}

	iter, err := root.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var plans []ir.StepPlan
	for iter.Next() {
		plan, err := CompilePlan(iter.Value())
		if err != nil {
			return nil, err
		}
		plans = append(plans, *plan)
	}
	return plans, nil
}

// parseSteps parses the steps list of a plan.
func parseSteps(v cue.Value) ([]ir.StepSpec, error) {
	stepsVal := v.LookupPath(cue.ParsePath("steps"))
	if !stepsVal.Exists() {
		return nil, nil
	}

	iter, err := stepsVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var steps []ir.StepSpec
	seen := map[string]bool{}
	for iter.Next() {
		step, err := parseStep(iter.Value())
		if err != nil {
			return nil, err
		}
		if seen[step.Name] {
			return nil, &CompileError{
				Field:   "steps",
				Message: fmt.Sprintf("duplicate step name %q", step.Name),
				Pos:     iter.Value().Pos(),
			}
		}
		seen[step.Name] = true
		steps = append(steps, step)
	}
	return steps, nil
}

// parseStep parses a single step definition.
// Supports a shorthand string form (the step name, kind defaults to
// "reason") or a structured object with name/kind/template/gather.
func parseStep(v cue.Value) (ir.StepSpec, error) {
	var step ir.StepSpec

	// Shorthand: bare string is the step name
	if name, err := v.String(); err == nil {
		step.Name = name
		step.Kind = ir.StepKindReason
		return step, nil
	}

	nameVal := v.LookupPath(cue.ParsePath("name"))
	if !nameVal.Exists() {
		return step, &CompileError{
			Field:   "steps",
			Message: "step name is required",
			Pos:     v.Pos(),
		}
	}
	name, err := nameVal.String()
	if err != nil {
		return step, formatCUEError(err)
	}
	step.Name = name

	// kind defaults to "reason"
	step.Kind = ir.StepKindReason
	kindVal := v.LookupPath(cue.ParsePath("kind"))
	if kindVal.Exists() {
		kind, err := kindVal.String()
		if err != nil {
			return step, formatCUEError(err)
		}
		switch ir.StepKind(kind) {
		case ir.StepKindReason, ir.StepKindRule:
			step.Kind = ir.StepKind(kind)
		default:
			return step, &CompileError{
				Field:   "kind",
				Message: fmt.Sprintf("unknown step kind %q", kind),
				Pos:     kindVal.Pos(),
			}
		}
	}

	tmplVal := v.LookupPath(cue.ParsePath("template"))
	if tmplVal.Exists() {
		tmpl, err := tmplVal.String()
		if err != nil {
			return step, formatCUEError(err)
		}
		step.Template = tmpl
	}

	gatherVal := v.LookupPath(cue.ParsePath("gather"))
	if gatherVal.Exists() {
		gIter, err := gatherVal.List()
		if err != nil {
			return step, formatCUEError(err)
		}
		for gIter.Next() {
			g, err := gIter.Value().String()
			if err != nil {
				return step, formatCUEError(err)
			}
			step.Gather = append(step.Gather, g)
		}
	}

	return step, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
