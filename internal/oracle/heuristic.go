package oracle

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/kairon/internal/ir"
)

// HeuristicOracle is the built-in reasoning capability: deterministic
// keyword heuristics standing in for an external model. Captures it
// proposes land pending, never auto-confirmed - a heuristic guess needs
// user confirmation where an explicit tag does not.
//
// Thread-safety: stateless and safe for concurrent use.
type HeuristicOracle struct{}

// Invoke dispatches on step name. Unknown steps echo their context, so
// new plan steps degrade gracefully instead of failing chains.
func (HeuristicOracle) Invoke(_ context.Context, in Input) (Result, error) {
	switch in.StepName {
	case "extract_captures":
		return heuristicExtract(in), nil
	case "scan_open_todos":
		return heuristicScan(in), nil
	case "compose_nudge":
		return heuristicNudge(in), nil
	default:
		return Result{Output: ir.Document{"step": in.StepName}, Confidence: 0}, nil
	}
}

// todoMarkers are phrases that suggest an untagged message is a task.
var todoMarkers = []string{"need to", "have to", "remember to", "don't forget", "buy ", "call ", "email ", "schedule "}

// heuristicExtract classifies an untagged message. Tagged messages were
// already captured by the tag_route rule and produce nothing here.
func heuristicExtract(in Input) Result {
	if tagged, _ := in.Context["tagged"].(bool); tagged {
		return Result{Output: ir.Document{"skipped": "already tagged"}, Confidence: 1}
	}

	text := in.Context.String("clean_text")
	if text == "" {
		text = in.Event.Payload.String("text")
	}
	if strings.TrimSpace(text) == "" {
		return Result{Output: ir.Document{"skipped": "empty text"}, Confidence: 1}
	}

	projType := "note"
	confidence := 0.5
	lower := strings.ToLower(text)
	for _, marker := range todoMarkers {
		if strings.Contains(lower, marker) {
			projType = "todo"
			confidence = 0.7
			break
		}
	}
	if in.ChosenAlternative != "" {
		projType = in.ChosenAlternative
		confidence = 1
	}

	return Result{
		Output: ir.Document{"projection_type": projType},
		Captures: []ir.Capture{{
			ProjectionType: projType,
			Data:           ir.Document{"text": strings.TrimSpace(text)},
			InitialStatus:  ir.StatusPending,
		}},
		Confidence: confidence,
	}
}

// heuristicScan picks the oldest open todos as nudge candidates.
func heuristicScan(in Input) Result {
	open, _ := in.Context["open_todos"].([]any)
	limit := 3
	if len(open) < limit {
		limit = len(open)
	}

	stale := make([]any, limit)
	copy(stale, open[:limit])
	return Result{
		Output:     ir.Document{"stale_todos": stale},
		Confidence: 1,
	}
}

// heuristicNudge turns the scanned todos into one nudge capture. No
// stale todos means no capture: a pulse with nothing to say stays
// silent.
func heuristicNudge(in Input) Result {
	stale, _ := in.Context["stale_todos"].([]any)
	if len(stale) == 0 {
		return Result{Output: ir.Document{"skipped": "no stale todos"}, Confidence: 1}
	}

	var lines []string
	for _, item := range stale {
		todo, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if text, _ := todo["text"].(string); text != "" {
			lines = append(lines, text)
		}
	}
	if len(lines) == 0 {
		return Result{Output: ir.Document{"skipped": "no stale todos"}, Confidence: 1}
	}

	text := fmt.Sprintf("Still open: %s", strings.Join(lines, "; "))
	return Result{
		Output: ir.Document{"nudge_text": text},
		Captures: []ir.Capture{{
			ProjectionType: "nudge",
			Data:           ir.Document{"text": text},
			InitialStatus:  ir.StatusPending,
		}},
		Confidence: 0.8,
	}
}
