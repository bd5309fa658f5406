package oracle

import (
	"context"
	"fmt"

	"github.com/roach88/kairon/internal/ir"
)

// RuleFunc evaluates one deterministic rule step. No suspend point: rules
// must not perform I/O beyond the pre-gathered context they receive.
type RuleFunc func(in Input) (Result, error)

// RuleSet is the registry of deterministic rule steps. Like the regeneration
// registry it is data: adding a rule kind is a registration, not an engine
// change.
type RuleSet struct {
	rules          map[string]RuleFunc
	matchThreshold float64
}

// RuleOption configures a RuleSet.
type RuleOption func(*RuleSet)

// WithMatchThreshold overrides the todo-completion similarity threshold.
func WithMatchThreshold(threshold float64) RuleOption {
	return func(rs *RuleSet) {
		rs.matchThreshold = threshold
	}
}

// NewRuleSet creates a rule set with the built-in rules registered:
// tag_route, todo_match, and apply_correction.
func NewRuleSet(opts ...RuleOption) *RuleSet {
	rs := &RuleSet{
		rules:          make(map[string]RuleFunc),
		matchThreshold: DefaultMatchThreshold,
	}
	for _, opt := range opts {
		opt(rs)
	}
	rs.Register("tag_route", ruleTagRoute)
	rs.Register("todo_match", rs.ruleTodoMatch)
	rs.Register("apply_correction", ruleApplyCorrection)
	return rs
}

// Register adds a rule. Later registrations replace earlier ones.
func (rs *RuleSet) Register(name string, fn RuleFunc) {
	rs.rules[name] = fn
}

// Eval runs the named rule. The context parameter is accepted for interface
// symmetry with Oracle.Invoke; rules do not block.
func (rs *RuleSet) Eval(_ context.Context, name string, in Input) (Result, error) {
	fn, ok := rs.rules[name]
	if !ok {
		return Result{}, ir.NewValidationError(fmt.Sprintf("unknown rule step %q", name))
	}
	res, err := fn(in)
	if err != nil {
		return Result{}, err
	}
	if err := ValidateResult(res); err != nil {
		return Result{}, err
	}
	return res, nil
}

// ruleTagRoute classifies a tagged message into a projection capture.
// An explicit user tag is trusted: the capture lands auto_confirmed.
// Untagged messages produce no capture; the plan's reasoning steps decide.
func ruleTagRoute(in Input) (Result, error) {
	text := in.Event.Payload.String("text")
	projType, clean, tagged := ClassifyTag(text)

	out := ir.Document{"tagged": tagged, "clean_text": clean}
	if !tagged {
		return Result{Output: out, Confidence: 1}, nil
	}
	out["projection_type"] = projType

	return Result{
		Output: out,
		Captures: []ir.Capture{{
			ProjectionType: projType,
			Data:           ir.Document{"text": clean},
			InitialStatus:  ir.StatusAutoConfirmed,
		}},
		Confidence: 1,
	}, nil
}

// ruleTodoMatch compares the incoming activity text against the open todos
// gathered before the step. A match above the threshold proposes an
// auto-confirmed todo_completed capture naming the matched projection.
//
// The threshold is heuristic; callers must expect both false positives and
// misses at boundary similarity.
func (rs *RuleSet) ruleTodoMatch(in Input) (Result, error) {
	text := in.Event.Payload.String("text")
	if ct := in.Context.String("clean_text"); ct != "" {
		text = ct
	}

	open, _ := in.Context["open_todos"].([]any)
	bestScore := 0.0
	var bestID, bestText string
	for _, item := range open {
		todo, ok := item.(map[string]any)
		if !ok {
			continue
		}
		todoText, _ := todo["text"].(string)
		score := Similarity(text, todoText)
		if score > bestScore {
			bestScore = score
			bestID, _ = todo["id"].(string)
			bestText = todoText
		}
	}

	out := ir.Document{"best_score": bestScore}
	if bestScore < rs.matchThreshold || bestID == "" {
		return Result{Output: out, Confidence: 1}, nil
	}
	out["matched_projection_id"] = bestID

	return Result{
		Output: out,
		Captures: []ir.Capture{{
			ProjectionType: "todo_completed",
			Data: ir.Document{
				"todo_projection_id": bestID,
				"todo_text":          bestText,
				"matched_text":       text,
				"score":              bestScore,
			},
			InitialStatus: ir.StatusAutoConfirmed,
		}},
		Confidence: bestScore,
	}, nil
}

// ruleApplyCorrection turns a user_correction event into the corrected
// capture directly - a correction chain is short by design, there is nothing
// to reason about when the user has already said what they meant.
func ruleApplyCorrection(in Input) (Result, error) {
	payload := in.Event.Payload
	projType := payload.String("corrected_type")
	if in.ChosenAlternative != "" {
		projType = in.ChosenAlternative
	}
	if projType == "" {
		return Result{}, ir.NewValidationError("correction event names no corrected type")
	}

	data := ir.Document{"text": payload.String("text")}
	if corrected, ok := payload["corrected_data"].(map[string]any); ok {
		data = ir.Document(corrected).Clone()
	}

	return Result{
		Output: ir.Document{"projection_type": projType},
		Captures: []ir.Capture{{
			ProjectionType: projType,
			Data:           data,
			InitialStatus:  ir.StatusAutoConfirmed,
		}},
		Confidence: 1,
	}, nil
}
