package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/kairon/internal/ir"
)

// Validation error codes (E100-E199)
const (
	// General validation errors (E100)
	ErrUnsupportedIRType = "E100" // unsupported IR type for validation

	// StepPlan errors (E101-E109)
	ErrPlanNameEmpty      = "E101" // plan name is required
	ErrPlanEventTypeEmpty = "E102" // event_type is required
	ErrPlanNoSteps        = "E103" // at least one step required
	ErrStepNameInvalid    = "E104" // step name invalid
	ErrDuplicateStepName  = "E105" // duplicate step name
	ErrInvalidStepKind    = "E106" // unknown step kind
	ErrRuleMissingName    = "E107" // rule step must name a registered rule
	ErrGatherUnknownStep  = "E108" // gather refers to undefined earlier step

	// RegenDescriptor errors (E110-E119)
	ErrRegenStepEmpty  = "E110" // regen step name is required
	ErrRegenLabelEmpty = "E111" // regen label is required
	ErrRegenNoOutcome  = "E112" // neither alternatives nor template set
)

// identRe matches well-formed plan and step names.
var identRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate validates compiled IR against schema rules.
// Returns all errors found (does not fail-fast).
// Supports StepPlan and RegenDescriptor types.
func Validate(v any) []ValidationError {
	switch ir := v.(type) {
	case *ir.StepPlan:
		return validateStepPlan(ir)
	case ir.StepPlan:
		return validateStepPlan(&ir)
	case *ir.RegenDescriptor:
		return validateRegenDescriptor(ir)
	case ir.RegenDescriptor:
		return validateRegenDescriptor(&ir)
	default:
		return []ValidationError{{
			Field:   "type",
			Message: fmt.Sprintf("unsupported IR type: %T", v),
			Code:    ErrUnsupportedIRType,
		}}
	}
}

// validateStepPlan validates a step plan.
func validateStepPlan(plan *ir.StepPlan) []ValidationError {
	var errs []ValidationError

	// E101: plan name is required
	if strings.TrimSpace(plan.Name) == "" {
		errs = append(errs, ValidationError{
			Field:   "name",
			Message: "plan name is required and must be non-empty",
			Code:    ErrPlanNameEmpty,
		})
	}

	// E102: event_type is required
	if strings.TrimSpace(plan.EventType) == "" {
		errs = append(errs, ValidationError{
			Field:   "event_type",
			Message: "event_type is required and must be non-empty",
			Code:    ErrPlanEventTypeEmpty,
		})
	}

	// E103: at least one step
	if len(plan.Steps) == 0 {
		errs = append(errs, ValidationError{
			Field:   "steps",
			Message: "at least one step is required",
			Code:    ErrPlanNoSteps,
		})
	}

	seen := map[string]bool{}
	for i, step := range plan.Steps {
		field := fmt.Sprintf("steps[%d]", i)

		// E104: step name must be a well-formed identifier
		if !identRe.MatchString(step.Name) {
			errs = append(errs, ValidationError{
				Field:   field + ".name",
				Message: fmt.Sprintf("invalid step name %q", step.Name),
				Code:    ErrStepNameInvalid,
			})
		}

		// E105: step names must be unique within a plan
		if seen[step.Name] {
			errs = append(errs, ValidationError{
				Field:   field + ".name",
				Message: fmt.Sprintf("duplicate step name %q", step.Name),
				Code:    ErrDuplicateStepName,
			})
		}

		// E106: kind must be known
		switch step.Kind {
		case ir.StepKindReason, ir.StepKindRule:
		default:
			errs = append(errs, ValidationError{
				Field:   field + ".kind",
				Message: fmt.Sprintf("unknown step kind %q", step.Kind),
				Code:    ErrInvalidStepKind,
			})
		}

		// E108: gather may only reference steps that run earlier
		for _, g := range step.Gather {
			if !seen[g] && !isContextSource(g) {
				errs = append(errs, ValidationError{
					Field:   field + ".gather",
					Message: fmt.Sprintf("gather source %q is not an earlier step or known context source", g),
					Code:    ErrGatherUnknownStep,
				})
			}
		}

		seen[step.Name] = true
	}

	return errs
}

// contextSources are gather inputs resolved from the store rather than
// from an earlier step's output.
var contextSources = map[string]bool{
	"open_todos":       true,
	"recent_events":    true,
	"live_projections": true,
}

func isContextSource(name string) bool {
	return contextSources[name]
}

// validateRegenDescriptor validates a regeneration catalog entry.
func validateRegenDescriptor(desc *ir.RegenDescriptor) []ValidationError {
	var errs []ValidationError

	// E110: step name is required
	if strings.TrimSpace(desc.StepName) == "" {
		errs = append(errs, ValidationError{
			Field:   "step",
			Message: "regen step name is required",
			Code:    ErrRegenStepEmpty,
		})
	}

	// E111: label is required
	if strings.TrimSpace(desc.Label) == "" {
		errs = append(errs, ValidationError{
			Field:   "label",
			Message: "regen label is required",
			Code:    ErrRegenLabelEmpty,
		})
	}

	// E112: a descriptor must offer some way to change the outcome
	if len(desc.Alternatives) == 0 && strings.TrimSpace(desc.Template) == "" {
		errs = append(errs, ValidationError{
			Field:   "alternatives",
			Message: "regen entry needs alternatives or a template override",
			Code:    ErrRegenNoOutcome,
		})
	}

	return errs
}
