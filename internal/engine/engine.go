package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/kairon/internal/ir"
	"github.com/roach88/kairon/internal/metrics"
	"github.com/roach88/kairon/internal/oracle"
	"github.com/roach88/kairon/internal/store"
)

// DefaultStepTimeout bounds one reasoning call. It is also the maximum
// window after a cancellation request during which a stale trace may
// still be written (and subsequently voided by the coordinator).
const DefaultStepTimeout = 30 * time.Second

// DefaultMaxSteps caps steps per chain. Plans are short ordered lists;
// the cap exists to fail loudly on a misconfigured plan.
const DefaultMaxSteps = 32

// ChainStatus is the terminal state of a chain execution.
type ChainStatus string

const (
	ChainCompleted ChainStatus = "completed"
	ChainAborted   ChainStatus = "aborted"
	ChainFailed    ChainStatus = "failed"
)

// Outcome is the result of one chain execution.
type Outcome struct {
	Status ChainStatus

	// TraceChain is the ordered list of trace ids written, chain root
	// first. Populated for every status: an aborted or failed chain
	// still records its final (voided) trace.
	TraceChain []string

	// Captures are the structured outputs the chain proposes for
	// persistence. Empty unless Status is ChainCompleted.
	Captures []ir.Capture

	// FailedStep names the step that failed or observed the abort.
	FailedStep string

	// Err is the step failure for ChainFailed outcomes.
	Err error
}

// ChainRequest describes one chain execution.
type ChainRequest struct {
	Event ir.Event
	Plan  ir.StepPlan

	// ChosenAlternative is forwarded to the step oracle when a user
	// regenerates a step with an explicit outcome choice.
	ChosenAlternative string

	// Seed pre-populates the chain context. Corrections use it to hand
	// the short correction plan the corrected fields.
	Seed ir.Document
}

// Engine executes step plans against the store.
//
// Safe for concurrent use: RunChain may be called from many goroutines,
// one per event. The store is the only synchronization point between
// chains; the engine holds no cross-chain state and never caches event
// or projection rows between executions.
type Engine struct {
	store   *store.Store
	oracle  oracle.Oracle
	rules   *oracle.RuleSet
	ids     IDGenerator
	clock   Clock
	log     *slog.Logger
	metrics *metrics.Metrics

	stepTimeout time.Duration
	maxSteps    int
}

// Option configures an Engine.
type Option func(*Engine)

// WithStepTimeout bounds each reasoning call.
func WithStepTimeout(d time.Duration) Option {
	return func(e *Engine) { e.stepTimeout = d }
}

// WithMaxSteps caps the steps a single chain may run.
func WithMaxSteps(n int) Option {
	return func(e *Engine) { e.maxSteps = n }
}

// WithLogger sets the structured logger. Nil means slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithMetrics attaches Prometheus collectors. Nil records nothing.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock replaces the system clock, for deterministic tests.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithIDGenerator replaces the UUIDv7 generator, for deterministic tests.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithRules replaces the default rule set.
func WithRules(rs *oracle.RuleSet) Option {
	return func(e *Engine) { e.rules = rs }
}

// New creates an Engine backed by the given store and reasoning oracle.
func New(s *store.Store, o oracle.Oracle, opts ...Option) *Engine {
	e := &Engine{
		store:       s,
		oracle:      o,
		rules:       oracle.NewRuleSet(),
		ids:         UUIDv7Generator{},
		clock:       NewSystemClock(),
		log:         slog.Default(),
		stepTimeout: DefaultStepTimeout,
		maxSteps:    DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	return e
}

// RunChain walks the plan's steps in order, writing one trace row per
// step. Before each step it re-reads the event's cancellation marker; a
// set marker ends the chain with status aborted and an auditable voided
// trace for the step that observed it.
//
// Step i+1 starts only after step i's trace row is durably written. A
// step failure (including a reasoning timeout) is recorded as a voided
// trace carrying the failure and ends the chain; it is never retried
// here, since a blind retry of a generative call risks duplicate side
// effects.
func (e *Engine) RunChain(ctx context.Context, req ChainRequest) (Outcome, error) {
	ev := req.Event
	log := e.log.With("event_id", ev.ID, "plan", req.Plan.Name)

	if len(req.Plan.Steps) == 0 {
		return Outcome{}, ir.NewValidationError(
			fmt.Sprintf("plan %q has no steps", req.Plan.Name))
	}
	if len(req.Plan.Steps) > e.maxSteps {
		return Outcome{}, &StepsExceededError{
			EventID: ev.ID,
			Steps:   len(req.Plan.Steps),
			Limit:   e.maxSteps,
		}
	}

	chainCtx := req.Seed.Clone()
	if chainCtx == nil {
		chainCtx = ir.Document{}
	}

	var chain []string
	var captures []ir.Capture
	parent := ""

	for i, step := range req.Plan.Steps {
		order := i + 1

		// Cooperative cancellation: re-read the marker from the store,
		// never from a cached event row.
		cancelled, err := e.store.CancellationRequested(ctx, ev.ID)
		if err != nil {
			return Outcome{Status: ChainFailed, TraceChain: chain, FailedStep: step.Name, Err: err}, err
		}
		if cancelled {
			tr, err := e.writeAbortTrace(ctx, ev, step, order, parent)
			if err != nil {
				return Outcome{Status: ChainFailed, TraceChain: chain, FailedStep: step.Name, Err: err}, err
			}
			chain = append(chain, tr.ID)
			log.Info("chain aborted by cancellation marker", "step", step.Name, "step_order", order)
			e.metrics.ObserveChain(string(ChainAborted))
			return Outcome{Status: ChainAborted, TraceChain: chain, FailedStep: step.Name}, nil
		}

		if err := e.gather(ctx, ev, step, chainCtx); err != nil {
			tr, werr := e.writeFailedTrace(ctx, ev, step, order, parent, chainCtx, err, 0)
			if werr == nil {
				chain = append(chain, tr.ID)
			}
			e.metrics.ObserveChain(string(ChainFailed))
			return Outcome{Status: ChainFailed, TraceChain: chain, FailedStep: step.Name, Err: err}, err
		}

		inputs := chainCtx.Clone()
		start := time.Now()
		res, err := e.invokeStep(ctx, ev, step, chainCtx, req.ChosenAlternative)
		elapsed := time.Since(start)
		e.metrics.ObserveStep(step.Name, elapsed)

		if err != nil {
			tr, werr := e.writeFailedTrace(ctx, ev, step, order, parent, inputs, err, elapsed)
			if werr == nil {
				chain = append(chain, tr.ID)
			}
			log.Warn("chain step failed", "step", step.Name, "step_order", order, "error", err)
			e.metrics.ObserveChain(string(ChainFailed))
			return Outcome{Status: ChainFailed, TraceChain: chain, FailedStep: step.Name, Err: err}, err
		}

		tr := ir.Trace{
			ID:            e.ids.Generate(),
			EventID:       ev.ID,
			ParentTraceID: parent,
			StepName:      step.Name,
			StepOrder:     order,
			CreatedAt:     e.clock.Now(),
			Data: ir.StepData{
				Inputs:      inputs,
				Result:      res.Output,
				DurationMS:  elapsed.Milliseconds(),
				Diagnostics: res.Diagnostics,
			},
			EngineVersion: ir.EngineVersion,
		}
		if err := e.store.WriteTrace(ctx, tr); err != nil {
			return Outcome{Status: ChainFailed, TraceChain: chain, FailedStep: step.Name, Err: err}, err
		}

		parent = tr.ID
		chain = append(chain, tr.ID)
		captures = append(captures, res.Captures...)
		// Outputs merge twice: flat, so later steps read individual
		// keys, and under the step name, so gather references resolve.
		for k, v := range res.Output {
			chainCtx[k] = v
		}
		chainCtx[step.Name] = map[string]any(res.Output)
	}

	log.Debug("chain completed", "steps", len(chain), "captures", len(captures))
	e.metrics.ObserveChain(string(ChainCompleted))
	return Outcome{Status: ChainCompleted, TraceChain: chain, Captures: captures}, nil
}

// PersistCaptures turns a completed chain's captures into projection
// rows, one per capture, all sharing the chain's provenance path. The
// chain must have completed; captures from aborted or failed chains are
// never persisted.
func (e *Engine) PersistCaptures(ctx context.Context, eventID string, out Outcome) ([]ir.Projection, error) {
	if out.Status != ChainCompleted {
		return nil, ir.NewValidationError("captures persist only from completed chains")
	}
	if len(out.TraceChain) == 0 {
		return nil, ir.NewValidationError("completed chain has no traces")
	}

	tip := out.TraceChain[len(out.TraceChain)-1]
	projs := make([]ir.Projection, 0, len(out.Captures))
	for _, c := range out.Captures {
		p := ir.Projection{
			ID:             e.ids.Generate(),
			TraceID:        tip,
			EventID:        eventID,
			TraceChain:     out.TraceChain,
			ProjectionType: c.ProjectionType,
			Data:           c.Data,
			Status:         c.InitialStatus,
			CreatedAt:      e.clock.Now(),
		}
		created, err := e.store.CreateProjection(ctx, p)
		if err != nil {
			return projs, err
		}
		e.metrics.ObserveProjection(c.ProjectionType)
		projs = append(projs, created)
	}
	return projs, nil
}

// invokeStep dispatches one step to the rule table or the oracle.
func (e *Engine) invokeStep(ctx context.Context, ev ir.Event, step ir.StepSpec, chainCtx ir.Document, alt string) (oracle.Result, error) {
	in := oracle.Input{
		StepName:          step.Name,
		Template:          step.Template,
		Event:             ev,
		Context:           chainCtx.Clone(),
		ChosenAlternative: alt,
	}
	if step.Kind == ir.StepKindRule {
		return e.rules.Eval(ctx, step.Name, in)
	}
	return oracle.InvokeWithTimeout(ctx, e.oracle, in, e.stepTimeout)
}

// writeAbortTrace records the step that observed the cancellation marker
// as an already-voided trace, so the abort itself is auditable.
func (e *Engine) writeAbortTrace(ctx context.Context, ev ir.Event, step ir.StepSpec, order int, parent string) (ir.Trace, error) {
	now := e.clock.Now()
	tr := ir.Trace{
		ID:            e.ids.Generate(),
		EventID:       ev.ID,
		ParentTraceID: parent,
		StepName:      step.Name,
		StepOrder:     order,
		CreatedAt:     now,
		VoidedAt:      &now,
		Data:          ir.StepData{Aborted: true},
		EngineVersion: ir.EngineVersion,
	}
	if err := e.store.WriteTrace(ctx, tr); err != nil {
		return ir.Trace{}, err
	}
	return tr, nil
}

// writeFailedTrace records a step failure as a voided trace carrying the
// error, so failures are auditable from the ledger rather than only
// visible in logs.
func (e *Engine) writeFailedTrace(ctx context.Context, ev ir.Event, step ir.StepSpec, order int, parent string, inputs ir.Document, stepErr error, elapsed time.Duration) (ir.Trace, error) {
	now := e.clock.Now()
	tr := ir.Trace{
		ID:            e.ids.Generate(),
		EventID:       ev.ID,
		ParentTraceID: parent,
		StepName:      step.Name,
		StepOrder:     order,
		CreatedAt:     now,
		VoidedAt:      &now,
		Data: ir.StepData{
			Inputs:     inputs,
			Error:      stepErr.Error(),
			DurationMS: elapsed.Milliseconds(),
		},
		EngineVersion: ir.EngineVersion,
	}
	if err := e.store.WriteTrace(ctx, tr); err != nil {
		return ir.Trace{}, err
	}
	return tr, nil
}

// gather resolves a step's read-only lookups and merges them into the
// chain context. Lookups run in parallel and join before the step
// starts; there is no ordering requirement among them. Sources naming an
// earlier step are already present in the context and resolve to no-ops.
func (e *Engine) gather(ctx context.Context, ev ir.Event, step ir.StepSpec, chainCtx ir.Document) error {
	var sources []string
	for _, src := range step.Gather {
		if _, ok := chainCtx[src]; ok {
			continue // earlier step output, already merged
		}
		sources = append(sources, src)
	}
	if len(sources) == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		once sync.Once
		gerr error
	)
	fail := func(err error) {
		once.Do(func() { gerr = err })
	}

	for _, src := range sources {
		wg.Add(1)
		go func(src string) {
			defer wg.Done()
			val, err := e.lookup(ctx, ev, src)
			if err != nil {
				fail(fmt.Errorf("gather %s: %w", src, err))
				return
			}
			mu.Lock()
			chainCtx[src] = val
			mu.Unlock()
		}(src)
	}
	wg.Wait()
	return gerr
}

// lookup resolves one gather source against the store.
func (e *Engine) lookup(ctx context.Context, ev ir.Event, src string) (any, error) {
	switch src {
	case "open_todos":
		projs, err := e.store.QueryProjections(ctx, store.ProjectionFilter{
			Types:    []string{"todo"},
			Statuses: []ir.ProjectionStatus{ir.StatusPending, ir.StatusAutoConfirmed, ir.StatusConfirmed},
		})
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(projs))
		for _, p := range projs {
			out = append(out, map[string]any{
				"id":   p.ID,
				"text": p.Data.String("text"),
			})
		}
		return out, nil

	case "recent_events":
		events, err := e.store.ListEvents(ctx, store.EventFilter{Limit: 50})
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(events))
		for _, rev := range events {
			out = append(out, map[string]any{
				"id":         rev.ID,
				"event_type": rev.EventType,
				"payload":    map[string]any(rev.Payload),
			})
		}
		return out, nil

	case "live_projections":
		projs, err := e.store.QueryProjections(ctx, store.ProjectionFilter{Limit: 100})
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(projs))
		for _, p := range projs {
			out = append(out, map[string]any{
				"id":     p.ID,
				"type":   p.ProjectionType,
				"status": string(p.Status),
				"data":   map[string]any(p.Data),
			})
		}
		return out, nil

	default:
		return nil, ir.NewValidationError(fmt.Sprintf("unknown gather source %q", src))
	}
}
