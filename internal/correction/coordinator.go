// Package correction implements the single-winner correction protocol:
// stop-and-redirect for in-flight chains, regenerate-after-completion,
// and bulk replay. The coordinator is the only actor that voids
// projections; it never mutates event payloads.
package correction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/kairon/internal/engine"
	"github.com/roach88/kairon/internal/ir"
	"github.com/roach88/kairon/internal/metrics"
	"github.com/roach88/kairon/internal/registry"
	"github.com/roach88/kairon/internal/store"
)

// DefaultAbortWait bounds how long a correction waits for an in-flight
// chain to observe the cancellation marker. It must exceed the engine's
// step timeout, since one expensive step may still complete after the
// marker is set.
const DefaultAbortWait = 45 * time.Second

// Coordinator serializes corrections against in-flight chains.
//
// Race safety comes from two mechanisms, not from locks: voiding is a
// conditional single-winner update (a projection voids at most once),
// and only projections created before the correction event's receipt
// are voided, so a concurrent correction's fresh output is never
// clobbered.
type Coordinator struct {
	store    *store.Store
	engine   *engine.Engine
	runner   *engine.Runner
	registry *registry.Registry
	ids      engine.IDGenerator
	clock    engine.Clock
	log      *slog.Logger
	metrics  *metrics.Metrics

	abortWait time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithAbortWait bounds the wait for an in-flight chain to self-abort.
func WithAbortWait(d time.Duration) Option {
	return func(c *Coordinator) { c.abortWait = d }
}

// WithLogger sets the structured logger. Nil means slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// WithMetrics attaches Prometheus collectors. Nil records nothing.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithClock replaces the system clock, for deterministic tests.
func WithClock(clk engine.Clock) Option {
	return func(c *Coordinator) { c.clock = clk }
}

// WithIDGenerator replaces the UUIDv7 generator, for deterministic tests.
func WithIDGenerator(g engine.IDGenerator) Option {
	return func(c *Coordinator) { c.ids = g }
}

// New creates a Coordinator. The runner must be the same instance the
// ingest path dispatches chains through, so corrections can await the
// abort of the chain they are cancelling.
func New(s *store.Store, eng *engine.Engine, run *engine.Runner, reg *registry.Registry, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:     s,
		engine:    eng,
		runner:    run,
		registry:  reg,
		ids:       engine.UUIDv7Generator{},
		clock:     engine.NewSystemClock(),
		log:       slog.Default(),
		abortWait: DefaultAbortWait,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c
}

// Result reports what a correction produced.
type Result struct {
	// CorrectionEvent is the appended user_correction event.
	CorrectionEvent ir.Event

	// NewProjections are the corrected projections, in creation order.
	NewProjections []ir.Projection

	// Voided are the superseded projections this correction won the
	// void race for. Projections already voided by a concurrent
	// correction are omitted, not errors.
	Voided []ir.Projection
}

// StopAndRedirect interrupts the chain for an event and replaces its
// output. The sequence is: set the cancellation marker, append the
// correction event, wait for the in-flight chain to self-abort, run the
// short correction chain, then void every live projection of the
// original event created before the correction was received.
//
// correction carries the user's intent: "corrected_type" and optionally
// "corrected_data" and "text". It must not be nil.
func (c *Coordinator) StopAndRedirect(ctx context.Context, originalEventID string, correction ir.Document) (Result, error) {
	original, err := c.store.GetEvent(ctx, originalEventID)
	if err != nil {
		return Result{}, err
	}

	// Marker first: the in-flight chain polls it before every step, so
	// setting it before anything else minimizes wasted reasoning work.
	markedAt := c.clock.Now()
	if err := c.store.SetCancellationMarker(ctx, original.ID, "", markedAt); err != nil {
		return Result{}, err
	}
	// A marker set earlier (a cancel that preceded this correction) is
	// the instant the chain was told to stop; stale traces are judged
	// against it, not against this call.
	if at := original.Metadata.CancellationRequestedAt; at != nil && at.Before(markedAt) {
		markedAt = *at
	}

	c.metrics.ObserveCorrection("stop")
	return c.redirect(ctx, original, correction, "", ir.VoidReasonUserCorrection, markedAt)
}

// RegenOption describes one regenerable step of a projection's chain.
type RegenOption struct {
	StepName     string   `json:"step_name"`
	Label        string   `json:"label"`
	Alternatives []string `json:"alternatives,omitempty"`
}

// Options lists the regeneration choices for a projection by walking its
// trace chain against the registry. An empty list means nothing in the
// chain is regenerable.
func (c *Coordinator) Options(ctx context.Context, projectionID string) ([]RegenOption, error) {
	p, err := c.store.GetProjection(ctx, projectionID)
	if err != nil {
		return nil, err
	}
	traces, err := c.store.GetTraces(ctx, p.TraceChain)
	if err != nil {
		return nil, err
	}

	var opts []RegenOption
	for _, tr := range traces {
		desc, err := c.registry.Lookup(tr.StepName)
		if ir.IsNotRegenerable(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		opts = append(opts, RegenOption{
			StepName:     desc.StepName,
			Label:        desc.Label,
			Alternatives: desc.Alternatives,
		})
	}
	return opts, nil
}

// Regenerate re-runs a completed projection's reasoning with a chosen
// alternative outcome. There is no chain to abort; otherwise it behaves
// exactly like StopAndRedirect, starting from a fresh correction event.
func (c *Coordinator) Regenerate(ctx context.Context, projectionID, stepName, chosenAlternative string) (Result, error) {
	p, err := c.store.GetProjection(ctx, projectionID)
	if err != nil {
		return Result{}, err
	}
	if p.Voided() {
		return Result{}, ir.NewInvalidTransitionError("projection is already voided", p.ID)
	}

	desc, err := c.registry.Lookup(stepName)
	if err != nil {
		return Result{}, err
	}
	if chosenAlternative != "" && !desc.HasAlternative(chosenAlternative) {
		return Result{}, ir.NewValidationError(
			fmt.Sprintf("step %q offers no alternative %q", stepName, chosenAlternative))
	}

	original, err := c.store.GetEvent(ctx, p.EventID)
	if err != nil {
		return Result{}, err
	}

	correction := ir.Document{
		"regenerated_step":     stepName,
		"target_projection_id": p.ID,
		"text":                 original.Payload.String("text"),
	}
	if chosenAlternative != "" {
		correction["corrected_type"] = chosenAlternative
	}

	c.metrics.ObserveCorrection("regenerate")
	return c.redirect(ctx, original, correction, chosenAlternative, ir.VoidReasonRegenerated, time.Time{})
}

// Replay reprocesses past events with the current step plans. Each
// event gets a fresh chain; every live projection previously derived
// from it is voided with reason superseded_by_replay and linked to its
// replacement. Original event rows are never mutated or re-keyed.
//
// Correction events are skipped: replaying a correction would re-void
// its target against a plan that has already absorbed the fix.
func (c *Coordinator) Replay(ctx context.Context, filter store.EventFilter) ([]Result, error) {
	events, err := c.store.ListEvents(ctx, filter)
	if err != nil {
		return nil, err
	}

	c.metrics.ObserveCorrection("replay")

	var results []Result
	for _, ev := range events {
		if ev.EventType == ir.EventTypeCorrection {
			continue
		}
		res, err := c.replayOne(ctx, ev)
		if err != nil {
			return results, fmt.Errorf("replay event %s: %w", ev.ID, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (c *Coordinator) replayOne(ctx context.Context, ev ir.Event) (Result, error) {
	plan, err := c.registry.PlanFor(ev.EventType)
	if err != nil {
		return Result{}, err
	}

	cutoff := c.clock.Now()
	out, err := c.engine.RunChain(ctx, engine.ChainRequest{Event: ev, Plan: plan})
	if err != nil {
		return Result{}, err
	}
	if out.Status != engine.ChainCompleted {
		return Result{}, fmt.Errorf("replay chain ended %s at step %s", out.Status, out.FailedStep)
	}

	projs, err := c.engine.PersistCaptures(ctx, ev.ID, out)
	if err != nil {
		return Result{}, err
	}

	voided, err := c.voidSuperseded(ctx, ev.ID, "", cutoff, ir.VoidReasonSupersededReplay, projs)
	if err != nil {
		return Result{}, err
	}
	return Result{NewProjections: projs, Voided: voided}, nil
}

// redirect is the shared correction primitive: append the correction
// event, optionally wait for the original chain to abort, run the
// correction plan, persist the corrected projections, and void the
// superseded ones. A non-zero markedAt means a cancellation marker was
// set at that instant: redirect then awaits the in-flight chain and
// voids the traces it wrote at or after the marker.
func (c *Coordinator) redirect(ctx context.Context, original ir.Event, correction ir.Document, chosenAlternative, voidReason string, markedAt time.Time) (Result, error) {
	waitForAbort := !markedAt.IsZero()
	payload := correction.Clone()
	if payload == nil {
		payload = ir.Document{}
	}
	payload["original_event_id"] = original.ID

	receivedAt := c.clock.Now()
	key, err := ir.DeriveIdempotencyKey(ir.EventTypeCorrection, payload, receivedAt)
	if err != nil {
		return Result{}, err
	}
	corrEvent, isNew, err := c.store.AppendEvent(ctx, ir.Event{
		ID:             c.ids.Generate(),
		ReceivedAt:     receivedAt,
		EventType:      ir.EventTypeCorrection,
		Source:         "correction",
		Payload:        payload,
		IdempotencyKey: key,
	})
	if err != nil {
		return Result{}, err
	}
	if !isNew {
		c.log.Info("correction re-delivered, ignoring", "correction_event_id", corrEvent.ID)
	}

	if waitForAbort {
		// Complete the marker with the correction link, then wait for
		// the in-flight chain to poll it and exit.
		if err := c.store.SetCancellationMarker(ctx, original.ID, corrEvent.ID, corrEvent.ReceivedAt); err != nil {
			return Result{}, err
		}
		waitCtx, cancel := context.WithTimeout(ctx, c.abortWait)
		err := c.runner.Wait(waitCtx, original.ID)
		cancel()
		if err != nil {
			return Result{}, fmt.Errorf("waiting for chain of %s to abort: %w", original.ID, err)
		}
	}

	plan, err := c.registry.PlanFor(ir.EventTypeCorrection)
	if err != nil {
		return Result{}, err
	}
	out, err := c.engine.RunChain(ctx, engine.ChainRequest{
		Event:             corrEvent,
		Plan:              plan,
		ChosenAlternative: chosenAlternative,
	})
	if err != nil {
		return Result{}, err
	}
	if out.Status != engine.ChainCompleted {
		return Result{}, fmt.Errorf("correction chain ended %s at step %s", out.Status, out.FailedStep)
	}

	projs, err := c.engine.PersistCaptures(ctx, corrEvent.ID, out)
	if err != nil {
		return Result{}, err
	}

	if waitForAbort {
		supersededBy := ""
		if len(out.TraceChain) > 0 {
			supersededBy = out.TraceChain[0]
		}
		if err := c.voidStaleTraces(ctx, original.ID, markedAt, supersededBy); err != nil {
			return Result{}, err
		}
	}

	voided, err := c.voidSuperseded(ctx, original.ID, corrEvent.ID, corrEvent.ReceivedAt, voidReason, projs)
	if err != nil {
		return Result{}, err
	}

	c.log.Info("correction applied",
		"original_event_id", original.ID,
		"correction_event_id", corrEvent.ID,
		"new_projections", len(projs),
		"voided", len(voided))

	return Result{CorrectionEvent: corrEvent, NewProjections: projs, Voided: voided}, nil
}

// voidStaleTraces voids the original chain's live traces written at or
// after the cancellation marker. The step in flight when the marker
// landed still completes and records its trace; once the correction
// replaces the chain's output, that row must not stay live. Losing the
// void race to a concurrent correction is a no-op.
func (c *Coordinator) voidStaleTraces(ctx context.Context, eventID string, markedAt time.Time, supersededBy string) error {
	traces, err := c.store.ListTraces(ctx, eventID)
	if err != nil {
		return err
	}
	for _, tr := range traces {
		if tr.Voided() || tr.CreatedAt.Before(markedAt) {
			continue
		}
		if _, err := c.store.VoidTrace(ctx, tr.ID, supersededBy, c.clock.Now()); err != nil {
			return err
		}
	}
	return nil
}

// voidSuperseded voids every live projection of the event lineage
// created before the cutoff, linking each to its replacement. Losing
// the conditional void race is success-as-no-op: a concurrent
// correction already retired that row.
//
// The cutoff guard is essential: a projection a second, unrelated
// correction produced after this correction was received is newer than
// this correction's view and must survive.
func (c *Coordinator) voidSuperseded(ctx context.Context, eventID, byEventID string, cutoff time.Time, reason string, replacements []ir.Projection) ([]ir.Projection, error) {
	stale, err := c.store.LiveProjectionsBefore(ctx, eventID, cutoff)
	if err != nil {
		return nil, err
	}

	supersededBy := ""
	if len(replacements) > 0 {
		supersededBy = replacements[0].ID
	}

	var voided []ir.Projection
	for _, p := range stale {
		row, won, err := c.store.VoidProjection(ctx, p.ID, reason, byEventID, supersededBy, c.clock.Now())
		if err != nil {
			return voided, err
		}
		if !won {
			c.log.Debug("void lost to concurrent correction", "projection_id", p.ID)
			continue
		}
		c.metrics.ObserveVoid(reason)
		voided = append(voided, row)
	}
	return voided, nil
}
