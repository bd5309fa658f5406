package harness

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines one end-to-end test: an ordered script of operations
// against a fresh store, followed by assertions on the resulting
// events, traces, and projections.
type Scenario struct {
	// Name uniquely identifies this scenario; it is also the golden
	// file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Script provides canned oracle responses per step name. Steps not
	// listed fall through to the deterministic heuristic oracle.
	Script map[string][]ScriptedResponse `yaml:"script,omitempty"`

	// Steps is the ordered list of operations to perform.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final ledger state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// ScriptedResponse is one canned oracle reply.
type ScriptedResponse struct {
	// Output is merged into the chain context.
	Output map[string]any `yaml:"output,omitempty"`

	// Captures are proposed projections: type, data, status.
	Captures []ScriptedCapture `yaml:"captures,omitempty"`

	// Error makes the step fail with this message.
	Error string `yaml:"error,omitempty"`
}

// ScriptedCapture is one proposed projection in a scripted reply.
type ScriptedCapture struct {
	Type   string         `yaml:"type"`
	Data   map[string]any `yaml:"data"`
	Status string         `yaml:"status,omitempty"` // default "pending"
}

// Step is one operation. Exactly one of the operation fields is set.
type Step struct {
	// Alias names this step's event or projections for later reference
	// and for the snapshot.
	Alias string `yaml:"alias,omitempty"`

	// Ingest appends a stimulus and runs its chain synchronously.
	Ingest *IngestStep `yaml:"ingest,omitempty"`

	// Cancel sets the cancellation marker on a prior event before its
	// chain runs, to exercise the abort path.
	Cancel *CancelStep `yaml:"cancel,omitempty"`

	// Correct stops and redirects a prior event.
	Correct *CorrectStep `yaml:"correct,omitempty"`

	// Regenerate re-runs a step of a prior projection.
	Regenerate *RegenerateStep `yaml:"regenerate,omitempty"`

	// Run executes the chain of a previously deferred ingest.
	Run *RunStep `yaml:"run,omitempty"`

	// Replay reprocesses all prior non-correction events.
	Replay *ReplayStep `yaml:"replay,omitempty"`
}

// RunStep runs the chain for a deferred event by alias.
type RunStep struct {
	Event string `yaml:"event"`
}

// IngestStep appends one stimulus.
type IngestStep struct {
	EventType string         `yaml:"type,omitempty"` // default "user_message"
	Source    string         `yaml:"source,omitempty"`
	Payload   map[string]any `yaml:"payload"`
	Key       string         `yaml:"key,omitempty"`

	// Deferred appends the event without running its chain; a later
	// Cancel step can then set the marker before the chain is run by a
	// subsequent Correct step's wait.
	Deferred bool `yaml:"deferred,omitempty"`
}

// CancelStep sets the cancellation marker on an event by alias.
type CancelStep struct {
	Event string `yaml:"event"`
}

// CorrectStep stops and redirects an event by alias.
type CorrectStep struct {
	Event         string         `yaml:"event"`
	CorrectedType string         `yaml:"as,omitempty"`
	Text          string         `yaml:"text,omitempty"`
	Data          map[string]any `yaml:"data,omitempty"`
}

// RegenerateStep regenerates a projection by alias and index.
type RegenerateStep struct {
	// Projection is "<alias>[<n>]" shorthand: alias of the producing
	// step plus projection index, e.g. "first[0]". Plain "<alias>"
	// means index 0.
	Projection string `yaml:"projection"`
	Step       string `yaml:"step"`
	Choose     string `yaml:"choose,omitempty"`
}

// ReplayStep reprocesses history.
type ReplayStep struct {
	EventType string `yaml:"type,omitempty"`
}

// Assertion validates the final state.
type Assertion struct {
	// Type is one of projection_count, projection, trace_steps.
	Type string `yaml:"type"`

	// projection_count: expected live (or voided) projection count.
	ProjectionType string `yaml:"projection_type,omitempty"`
	Status         string `yaml:"status,omitempty"`
	Count          int    `yaml:"count"`

	// projection: subset match on one projection by alias reference.
	Projection string         `yaml:"projection,omitempty"`
	Expect     map[string]any `yaml:"expect,omitempty"`

	// trace_steps: expected step names in chain order for an event.
	Event string   `yaml:"event,omitempty"`
	Steps []string `yaml:"steps,omitempty"`
}

// Assertion type constants.
const (
	AssertProjectionCount = "projection_count"
	AssertProjection      = "projection"
	AssertTraceSteps      = "trace_steps"
)

// LoadScenario reads and validates a scenario YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if err := sc.validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return &sc, nil
}

func (sc *Scenario) validate() error {
	if sc.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(sc.Steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}
	for i, st := range sc.Steps {
		n := 0
		if st.Ingest != nil {
			n++
		}
		if st.Cancel != nil {
			n++
		}
		if st.Correct != nil {
			n++
		}
		if st.Regenerate != nil {
			n++
		}
		if st.Run != nil {
			n++
		}
		if st.Replay != nil {
			n++
		}
		if n != 1 {
			return fmt.Errorf("step %d: exactly one operation per step, got %d", i, n)
		}
	}
	return nil
}
