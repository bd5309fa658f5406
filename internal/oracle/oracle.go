package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/kairon/internal/ir"
)

// Input carries one step's invocation context to the reasoning capability.
type Input struct {
	// StepName identifies the step kind being run.
	StepName string

	// Template is the invocation template registered for the step.
	Template string

	// Event is the owning stimulus.
	Event ir.Event

	// Context is the accumulated chain context: prior step results merged
	// with any gather-phase lookups.
	Context ir.Document

	// ChosenAlternative is set when a user regenerates a step with an
	// explicitly chosen outcome category.
	ChosenAlternative string
}

// Result is a reasoning step's structured output.
type Result struct {
	// Output is the step's result document, merged into the chain context
	// for subsequent steps.
	Output ir.Document

	// Captures are the structured facts this step proposes for persistence.
	// Usually empty except for the final step of a plan.
	Captures []ir.Capture

	// Confidence is the capability's self-reported confidence, 0 when the
	// capability does not supply one.
	Confidence float64

	// Diagnostics carries model/timing details for the trace record.
	Diagnostics ir.Document
}

// Oracle is the external reasoning capability contract.
//
// Invoke may be slow; it is the only suspend point in a chain step. The
// passed context carries the step's deadline - implementations must respect
// cancellation.
type Oracle interface {
	Invoke(ctx context.Context, in Input) (Result, error)
}

// InvokeWithTimeout calls the oracle with a bounded deadline and translates
// deadline expiry into a STEP_TIMEOUT error. There is no retry here by
// design - the chain aborts and the event stays available for replay.
func InvokeWithTimeout(ctx context.Context, o Oracle, in Input, timeout time.Duration) (Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res, err := o.Invoke(ctx, in)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{}, ir.NewStepTimeoutError(in.StepName, in.Event.ID, err)
		}
		return Result{}, err
	}

	if err := ValidateResult(res); err != nil {
		return Result{}, err
	}
	return res, nil
}

// ValidateResult checks an untrusted capability result before anything
// derived from it is persisted.
func ValidateResult(res Result) error {
	for i, c := range res.Captures {
		if c.ProjectionType == "" {
			return ir.NewValidationError(fmt.Sprintf("capture %d has no projection type", i))
		}
		if !ir.ValidProjectionStatuses[c.InitialStatus] || c.InitialStatus == ir.StatusVoided {
			return ir.NewValidationError(
				fmt.Sprintf("capture %d has invalid initial status %q", i, c.InitialStatus))
		}
		if c.Data == nil {
			return ir.NewValidationError(fmt.Sprintf("capture %d has no data", i))
		}
	}
	if res.Confidence < 0 || res.Confidence > 1 {
		return ir.NewValidationError(
			fmt.Sprintf("confidence %v outside [0,1]", res.Confidence))
	}
	return nil
}
