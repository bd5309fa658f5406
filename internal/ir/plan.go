package ir

// StepKind selects how a step obtains its result.
//
// Step behavior is a tagged variant, not duck typing: adding a step kind is a
// data change in the plan catalog, never a dispatch-logic change in the
// engine.
type StepKind string

const (
	// StepKindReason invokes the external reasoning capability. This is the
	// only slow, suspending kind; it is also the only kind that does not
	// auto-retry on timeout (a generative call is not idempotent).
	StepKindReason StepKind = "reason"

	// StepKindRule evaluates a deterministic rule in-process (tag routing,
	// similarity matching). Rule steps are the fast path: no oracle call.
	StepKindRule StepKind = "rule"
)

// ValidStepKinds enumerates the allowed step kinds.
var ValidStepKinds = map[StepKind]bool{
	StepKindReason: true,
	StepKindRule:   true,
}

// StepSpec describes one step of a plan.
type StepSpec struct {
	// Name identifies the step kind within the catalog (e.g. "classify",
	// "extract_captures", "todo_match"). Regeneration options are looked up
	// by this name.
	Name string `json:"name"`

	// Kind selects the execution path.
	Kind StepKind `json:"kind"`

	// Template is the invocation template passed to the reasoning capability
	// for reason steps. Empty for rule steps.
	Template string `json:"template,omitempty"`

	// Gather lists read-only lookups to run in parallel before the step and
	// join into its input context (e.g. "open_todos"). The lookups have no
	// ordering requirement among themselves; the join is a suspend point.
	Gather []string `json:"gather,omitempty"`
}

// StepPlan is an ordered list of steps applied to events of one type.
// Plans are data: new reasoning pipelines are added by registering a new
// plan, not by changing the engine.
type StepPlan struct {
	Name      string     `json:"name"`
	EventType string     `json:"event_type"`
	Steps     []StepSpec `json:"steps"`
}

// RegenDescriptor describes how a completed step may be re-run with a
// different outcome. The registry is read-only at runtime.
type RegenDescriptor struct {
	// StepName keys the registry.
	StepName string `json:"step_name"`

	// Label is the user-facing name for this step's regeneration control.
	Label string `json:"label"`

	// Alternatives are the valid alternative outcome categories a user may
	// choose when regenerating this step.
	Alternatives []string `json:"alternatives"`

	// Template is the invocation template used to re-run the step with a
	// chosen alternative.
	Template string `json:"template"`
}

// HasAlternative reports whether the chosen alternative is valid for this
// step.
func (d RegenDescriptor) HasAlternative(choice string) bool {
	for _, a := range d.Alternatives {
		if a == choice {
			return true
		}
	}
	return false
}
