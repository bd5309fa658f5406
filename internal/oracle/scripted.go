package oracle

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/kairon/internal/ir"
)

// ScriptedOracle returns predetermined results per step name, in order.
// This enables deterministic chain execution in tests and golden scenarios.
//
// Thread-safety: safe for concurrent use via internal mutex.
type ScriptedOracle struct {
	mu      sync.Mutex
	scripts map[string][]ScriptedStep
	calls   []Input
}

// ScriptedStep is one scripted response: a result, an error, or a delay long
// enough to trip a step timeout.
type ScriptedStep struct {
	Result Result
	Err    error

	// Delay blocks the invocation, honoring context cancellation, before
	// returning. Used to exercise timeout and cancellation windows.
	Delay time.Duration
}

// NewScriptedOracle creates an empty scripted oracle.
func NewScriptedOracle() *ScriptedOracle {
	return &ScriptedOracle{scripts: make(map[string][]ScriptedStep)}
}

// Script appends responses for a step name. Responses are consumed in order;
// the last one repeats once the script runs out.
func (o *ScriptedOracle) Script(stepName string, steps ...ScriptedStep) *ScriptedOracle {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scripts[stepName] = append(o.scripts[stepName], steps...)
	return o
}

// Invoke implements Oracle.
func (o *ScriptedOracle) Invoke(ctx context.Context, in Input) (Result, error) {
	o.mu.Lock()
	o.calls = append(o.calls, in)
	queue := o.scripts[in.StepName]
	var step ScriptedStep
	switch {
	case len(queue) == 0:
		o.mu.Unlock()
		return Result{}, ir.NewValidationError("no scripted response for step " + in.StepName)
	case len(queue) == 1:
		step = queue[0]
	default:
		step = queue[0]
		o.scripts[in.StepName] = queue[1:]
	}
	o.mu.Unlock()

	if step.Delay > 0 {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(step.Delay):
		}
	}
	if step.Err != nil {
		return Result{}, step.Err
	}
	return step.Result, nil
}

// Calls returns the inputs received so far, in order.
func (o *ScriptedOracle) Calls() []Input {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Input, len(o.calls))
	copy(out, o.calls)
	return out
}
