package harness

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/kairon/internal/correction"
	"github.com/roach88/kairon/internal/engine"
	"github.com/roach88/kairon/internal/ir"
	"github.com/roach88/kairon/internal/oracle"
	"github.com/roach88/kairon/internal/registry"
	"github.com/roach88/kairon/internal/service"
	"github.com/roach88/kairon/internal/store"
	"github.com/roach88/kairon/internal/testutil"
)

// RunResult is the outcome of one scenario execution.
type RunResult struct {
	// Pass is true when every assertion held.
	Pass bool

	// Errors lists assertion failures. Empty when Pass.
	Errors []string

	// Events and Projections index the ledger rows by step alias.
	Events      map[string]ir.Event
	Projections map[string][]ir.Projection

	// Aliases preserves declaration order for the snapshot.
	Aliases []string
}

// AddError records an assertion failure.
func (r *RunResult) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}

// runner holds the assembled system for one scenario execution.
type runner struct {
	svc    *service.Service
	st     *store.Store
	result *RunResult
}

// scriptedWithFallback answers scripted steps from the script and
// everything else from the deterministic heuristic oracle.
type scriptedWithFallback struct {
	scripted *oracle.ScriptedOracle
	steps    map[string]bool
}

func (o scriptedWithFallback) Invoke(ctx context.Context, in oracle.Input) (oracle.Result, error) {
	if o.steps[in.StepName] {
		return o.scripted.Invoke(ctx, in)
	}
	return oracle.HeuristicOracle{}.Invoke(ctx, in)
}

// Run executes a scenario against a fresh SQLite database at dbPath.
// Clocks and id generators are deterministic, so two runs of the same
// scenario produce byte-identical ledgers.
func Run(sc *Scenario, dbPath string) (*RunResult, error) {
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	orc, err := buildOracle(sc)
	if err != nil {
		return nil, err
	}

	clock := testutil.NewDeterministicClock()
	ids := testutil.NewSequentialIDs("id")
	reg := registry.Default()

	eng := engine.New(st, orc, engine.WithClock(clock), engine.WithIDGenerator(ids))
	run := engine.NewRunner()
	coord := correction.New(st, eng, run, reg,
		correction.WithClock(clock), correction.WithIDGenerator(ids))
	svc := service.New(st, eng, run, reg, coord,
		service.WithClock(clock), service.WithIDGenerator(ids))

	r := &runner{
		svc: svc,
		st:  st,
		result: &RunResult{
			Pass:        true,
			Events:      make(map[string]ir.Event),
			Projections: make(map[string][]ir.Projection),
		},
	}

	ctx := context.Background()
	for i, step := range sc.Steps {
		if err := r.runStep(ctx, i, step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	for _, a := range sc.Assertions {
		r.checkAssertion(ctx, a)
	}
	return r.result, nil
}

// buildOracle turns the scenario script into an oracle.
func buildOracle(sc *Scenario) (oracle.Oracle, error) {
	if len(sc.Script) == 0 {
		return oracle.HeuristicOracle{}, nil
	}

	scripted := oracle.NewScriptedOracle()
	steps := make(map[string]bool, len(sc.Script))
	for stepName, responses := range sc.Script {
		steps[stepName] = true
		for _, resp := range responses {
			s, err := toScriptedStep(resp)
			if err != nil {
				return nil, fmt.Errorf("script %s: %w", stepName, err)
			}
			scripted.Script(stepName, s)
		}
	}
	return scriptedWithFallback{scripted: scripted, steps: steps}, nil
}

func toScriptedStep(resp ScriptedResponse) (oracle.ScriptedStep, error) {
	if resp.Error != "" {
		return oracle.ScriptedStep{Err: fmt.Errorf("%s", resp.Error)}, nil
	}

	res := oracle.Result{Output: ir.Document(resp.Output), Confidence: 1}
	for _, c := range resp.Captures {
		status := ir.ProjectionStatus(c.Status)
		if c.Status == "" {
			status = ir.StatusPending
		}
		if !ir.ValidProjectionStatuses[status] || status == ir.StatusVoided {
			return oracle.ScriptedStep{}, fmt.Errorf("invalid capture status %q", c.Status)
		}
		res.Captures = append(res.Captures, ir.Capture{
			ProjectionType: c.Type,
			Data:           ir.Document(c.Data),
			InitialStatus:  status,
		})
	}
	return oracle.ScriptedStep{Result: res}, nil
}

func (r *runner) runStep(ctx context.Context, idx int, step Step) error {
	alias := step.Alias
	if alias == "" {
		alias = fmt.Sprintf("step%d", idx)
	}

	switch {
	case step.Ingest != nil:
		return r.runIngest(ctx, alias, step.Ingest)
	case step.Cancel != nil:
		ev, err := r.event(step.Cancel.Event)
		if err != nil {
			return err
		}
		return r.st.SetCancellationMarker(ctx, ev.ID, "", testutil.Epoch)
	case step.Run != nil:
		ev, err := r.event(step.Run.Event)
		if err != nil {
			return err
		}
		res, err := r.svc.ProcessEvent(ctx, ev.ID)
		if err != nil {
			return err
		}
		r.record(alias, res.Event, res.Projections)
		return nil
	case step.Correct != nil:
		return r.runCorrect(ctx, alias, step.Correct)
	case step.Regenerate != nil:
		return r.runRegenerate(ctx, alias, step.Regenerate)
	case step.Replay != nil:
		results, err := r.svc.RequestCorrection(ctx, service.CorrectionRequest{
			Kind:   service.CorrectionReplay,
			Filter: store.EventFilter{EventType: step.Replay.EventType},
		})
		if err != nil {
			return err
		}
		var projs []ir.Projection
		for _, res := range results {
			projs = append(projs, res.NewProjections...)
		}
		r.record(alias, ir.Event{}, projs)
		return nil
	default:
		return fmt.Errorf("empty step")
	}
}

func (r *runner) runIngest(ctx context.Context, alias string, ing *IngestStep) error {
	eventType := ing.EventType
	if eventType == "" {
		eventType = "user_message"
	}
	source := ing.Source
	if source == "" {
		source = "scenario"
	}

	var res service.IngestResult
	var err error
	if ing.Deferred {
		res, err = r.svc.Append(ctx, eventType, source, ir.Document(ing.Payload), ing.Key)
	} else {
		res, err = r.svc.IngestSync(ctx, eventType, source, ir.Document(ing.Payload), ing.Key)
	}
	if err != nil {
		return err
	}
	r.record(alias, res.Event, res.Projections)
	return nil
}

func (r *runner) runCorrect(ctx context.Context, alias string, c *CorrectStep) error {
	ev, err := r.event(c.Event)
	if err != nil {
		return err
	}

	corr := ir.Document{}
	if c.CorrectedType != "" {
		corr["corrected_type"] = c.CorrectedType
	}
	if c.Text != "" {
		corr["text"] = c.Text
	}
	if c.Data != nil {
		corr["corrected_data"] = c.Data
	}

	results, err := r.svc.RequestCorrection(ctx, service.CorrectionRequest{
		Kind:       service.CorrectionStop,
		EventID:    ev.ID,
		Correction: corr,
	})
	if err != nil {
		return err
	}
	r.record(alias, results[0].CorrectionEvent, results[0].NewProjections)
	return nil
}

func (r *runner) runRegenerate(ctx context.Context, alias string, rg *RegenerateStep) error {
	proj, err := r.projection(rg.Projection)
	if err != nil {
		return err
	}

	results, err := r.svc.RequestCorrection(ctx, service.CorrectionRequest{
		Kind:              service.CorrectionRegenerate,
		ProjectionID:      proj.ID,
		StepName:          rg.Step,
		ChosenAlternative: rg.Choose,
	})
	if err != nil {
		return err
	}
	r.record(alias, results[0].CorrectionEvent, results[0].NewProjections)
	return nil
}

func (r *runner) record(alias string, ev ir.Event, projs []ir.Projection) {
	r.result.Aliases = append(r.result.Aliases, alias)
	if ev.ID != "" {
		r.result.Events[alias] = ev
	}
	r.result.Projections[alias] = projs
}

func (r *runner) event(ref string) (ir.Event, error) {
	ev, ok := r.result.Events[ref]
	if !ok {
		return ir.Event{}, fmt.Errorf("unknown event alias %q", ref)
	}
	return ev, nil
}

// projection resolves "<alias>" or "<alias>[n]" references.
func (r *runner) projection(ref string) (ir.Projection, error) {
	alias, idx := ref, 0
	if open := strings.IndexByte(ref, '['); open >= 0 && strings.HasSuffix(ref, "]") {
		alias = ref[:open]
		n, err := strconv.Atoi(ref[open+1 : len(ref)-1])
		if err != nil {
			return ir.Projection{}, fmt.Errorf("bad projection reference %q", ref)
		}
		idx = n
	}
	projs, ok := r.result.Projections[alias]
	if !ok {
		return ir.Projection{}, fmt.Errorf("unknown projection alias %q", alias)
	}
	if idx < 0 || idx >= len(projs) {
		return ir.Projection{}, fmt.Errorf("projection %q has no index %d", alias, idx)
	}
	return projs[idx], nil
}
