// Package service is the operational facade: ingest, corrections, and
// queries, wired over the store, engine, runner, registry, and
// coordinator. External surfaces (CLI, harness) talk to this package
// rather than to the parts directly.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/kairon/internal/correction"
	"github.com/roach88/kairon/internal/engine"
	"github.com/roach88/kairon/internal/ir"
	"github.com/roach88/kairon/internal/metrics"
	"github.com/roach88/kairon/internal/registry"
	"github.com/roach88/kairon/internal/store"
)

// CorrectionKind selects the coordinator behavior for a correction.
type CorrectionKind string

const (
	CorrectionStop       CorrectionKind = "stop"
	CorrectionRegenerate CorrectionKind = "regenerate"
	CorrectionReplay     CorrectionKind = "replay"
)

// Service coordinates the full path from stimulus to projection.
type Service struct {
	store       *store.Store
	engine      *engine.Engine
	runner      *engine.Runner
	registry    *registry.Registry
	coordinator *correction.Coordinator
	ids         engine.IDGenerator
	clock       engine.Clock
	log         *slog.Logger
	metrics     *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger. Nil means slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithMetrics attaches Prometheus collectors. Nil records nothing.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock replaces the system clock, for deterministic tests.
func WithClock(c engine.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithIDGenerator replaces the UUIDv7 generator, for deterministic tests.
func WithIDGenerator(g engine.IDGenerator) Option {
	return func(s *Service) { s.ids = g }
}

// New assembles a Service. The engine, runner, registry, and coordinator
// must share the given store.
func New(st *store.Store, eng *engine.Engine, run *engine.Runner, reg *registry.Registry, coord *correction.Coordinator, opts ...Option) *Service {
	s := &Service{
		store:       st,
		engine:      eng,
		runner:      run,
		registry:    reg,
		coordinator: coord,
		ids:         engine.UUIDv7Generator{},
		clock:       engine.NewSystemClock(),
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// IngestResult reports an ingested stimulus.
type IngestResult struct {
	Event ir.Event `json:"event"`

	// Duplicate marks an idempotent re-delivery: the stored event is
	// returned and no new chain is dispatched. Not an error.
	Duplicate bool `json:"duplicate"`

	// Projections are the chain's outputs. Populated only by the
	// synchronous ingest path.
	Projections []ir.Projection `json:"projections,omitempty"`

	// ChainStatus is the chain outcome for the synchronous path.
	ChainStatus engine.ChainStatus `json:"chain_status,omitempty"`
}

// Ingest validates and appends a stimulus, then dispatches its chain on
// a worker goroutine. Returns as soon as the event row is durable - a
// stimulus is never dropped silently once Ingest returns nil.
//
// An empty idempotencyKey is derived deterministically from the payload,
// so sources without delivery tracking still dedupe.
func (s *Service) Ingest(ctx context.Context, eventType, source string, payload ir.Document, idempotencyKey string) (IngestResult, error) {
	ev, isNew, err := s.append(ctx, eventType, source, payload, idempotencyKey)
	if err != nil {
		return IngestResult{}, err
	}
	if !isNew {
		return IngestResult{Event: ev, Duplicate: true}, nil
	}

	release, ok := s.runner.Begin(ev.ID)
	if !ok {
		// A chain for this event is already in flight or the runner is
		// shut down; the event is durable either way.
		s.log.Warn("chain not dispatched", "event_id", ev.ID)
		return IngestResult{Event: ev}, nil
	}
	go func() {
		defer release()
		if _, _, err := s.runChain(context.WithoutCancel(ctx), ev); err != nil {
			s.log.Error("chain failed", "event_id", ev.ID, "error", err)
		}
	}()

	return IngestResult{Event: ev}, nil
}

// IngestSync appends a stimulus and runs its chain to completion before
// returning. Used by the CLI and the scenario harness, where the caller
// needs the projections in hand.
func (s *Service) IngestSync(ctx context.Context, eventType, source string, payload ir.Document, idempotencyKey string) (IngestResult, error) {
	ev, isNew, err := s.append(ctx, eventType, source, payload, idempotencyKey)
	if err != nil {
		return IngestResult{}, err
	}
	if !isNew {
		return IngestResult{Event: ev, Duplicate: true}, nil
	}

	release, ok := s.runner.Begin(ev.ID)
	if !ok {
		return IngestResult{Event: ev}, fmt.Errorf("chain for event %s already in flight", ev.ID)
	}
	defer release()

	outcome, projs, err := s.runChain(ctx, ev)
	if err != nil {
		return IngestResult{Event: ev, ChainStatus: outcome.Status}, err
	}
	return IngestResult{Event: ev, Projections: projs, ChainStatus: outcome.Status}, nil
}

// Append validates and appends a stimulus without dispatching its
// chain. Callers that defer processing run it later via ProcessEvent.
func (s *Service) Append(ctx context.Context, eventType, source string, payload ir.Document, idempotencyKey string) (IngestResult, error) {
	ev, isNew, err := s.append(ctx, eventType, source, payload, idempotencyKey)
	if err != nil {
		return IngestResult{}, err
	}
	return IngestResult{Event: ev, Duplicate: !isNew}, nil
}

// ProcessEvent runs the chain for an already appended event to
// completion. Used for deferred dispatch and manual reprocessing of a
// failed chain.
func (s *Service) ProcessEvent(ctx context.Context, eventID string) (IngestResult, error) {
	ev, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return IngestResult{}, err
	}

	release, ok := s.runner.Begin(ev.ID)
	if !ok {
		return IngestResult{Event: ev}, fmt.Errorf("chain for event %s already in flight", ev.ID)
	}
	defer release()

	outcome, projs, err := s.runChain(ctx, ev)
	if err != nil {
		return IngestResult{Event: ev, ChainStatus: outcome.Status}, err
	}
	return IngestResult{Event: ev, Projections: projs, ChainStatus: outcome.Status}, nil
}

func (s *Service) append(ctx context.Context, eventType, source string, payload ir.Document, idempotencyKey string) (ir.Event, bool, error) {
	if strings.TrimSpace(eventType) == "" {
		return ir.Event{}, false, ir.NewValidationError("event type is required")
	}
	if payload == nil {
		return ir.Event{}, false, ir.NewValidationError("payload is required")
	}
	if _, err := s.registry.PlanFor(eventType); err != nil {
		return ir.Event{}, false, err
	}

	receivedAt := s.clock.Now()
	if idempotencyKey == "" {
		key, err := ir.DeriveIdempotencyKey(eventType, payload, receivedAt)
		if err != nil {
			return ir.Event{}, false, err
		}
		idempotencyKey = key
	}

	ev, isNew, err := s.store.AppendEvent(ctx, ir.Event{
		ID:             s.ids.Generate(),
		ReceivedAt:     receivedAt,
		EventType:      eventType,
		Source:         source,
		Payload:        payload,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return ir.Event{}, false, err
	}
	s.metrics.ObserveIngest(eventType, isNew)
	if !isNew {
		s.log.Info("duplicate stimulus ignored", "event_type", eventType, "idempotency_key", idempotencyKey)
	}
	return ev, isNew, nil
}

// runChain executes the event's plan and persists captures on
// completion. Aborted chains persist nothing; failed chains surface
// their step error.
func (s *Service) runChain(ctx context.Context, ev ir.Event) (engine.Outcome, []ir.Projection, error) {
	plan, err := s.registry.PlanFor(ev.EventType)
	if err != nil {
		return engine.Outcome{}, nil, err
	}
	out, err := s.engine.RunChain(ctx, engine.ChainRequest{Event: ev, Plan: plan})
	if err != nil {
		return out, nil, err
	}
	if out.Status != engine.ChainCompleted {
		return out, nil, nil
	}
	projs, err := s.engine.PersistCaptures(ctx, ev.ID, out)
	if err != nil {
		return out, nil, err
	}
	return out, projs, nil
}

// CorrectionRequest is one user correction against an event or
// projection.
type CorrectionRequest struct {
	Kind CorrectionKind

	// EventID targets stop corrections (the event whose chain to stop).
	EventID string

	// ProjectionID targets regenerate corrections.
	ProjectionID string

	// Correction carries corrected fields for stop corrections.
	Correction ir.Document

	// StepName and ChosenAlternative select a regeneration outcome.
	StepName          string
	ChosenAlternative string

	// Filter selects events for replay.
	Filter store.EventFilter
}

// RequestCorrection dispatches a correction to the coordinator.
// A correction that lost the single-winner race reports success with
// nothing voided, never a user-facing failure.
func (s *Service) RequestCorrection(ctx context.Context, req CorrectionRequest) ([]correction.Result, error) {
	switch req.Kind {
	case CorrectionStop:
		res, err := s.coordinator.StopAndRedirect(ctx, req.EventID, req.Correction)
		if err != nil {
			return nil, err
		}
		return []correction.Result{res}, nil

	case CorrectionRegenerate:
		res, err := s.coordinator.Regenerate(ctx, req.ProjectionID, req.StepName, req.ChosenAlternative)
		if err != nil {
			return nil, err
		}
		return []correction.Result{res}, nil

	case CorrectionReplay:
		return s.coordinator.Replay(ctx, req.Filter)

	default:
		return nil, ir.NewValidationError(fmt.Sprintf("unknown correction kind %q", req.Kind))
	}
}

// RegenOptions lists the regeneration choices for a projection.
func (s *Service) RegenOptions(ctx context.Context, projectionID string) ([]correction.RegenOption, error) {
	return s.coordinator.Options(ctx, projectionID)
}

// Query returns projections matching the filter in deterministic order.
// Voided rows are excluded unless the filter asks for them.
func (s *Service) Query(ctx context.Context, f store.ProjectionFilter) ([]ir.Projection, error) {
	return s.store.QueryProjections(ctx, f)
}

// Traces returns the full trace history for an event, voided rows
// included, in chain order.
func (s *Service) Traces(ctx context.Context, eventID string) ([]ir.Trace, error) {
	return s.store.ListTraces(ctx, eventID)
}

// Events lists events matching the filter.
func (s *Service) Events(ctx context.Context, f store.EventFilter) ([]ir.Event, error) {
	return s.store.ListEvents(ctx, f)
}

// Wait blocks until the event's in-flight chain, if any, exits.
func (s *Service) Wait(ctx context.Context, eventID string) error {
	return s.runner.Wait(ctx, eventID)
}

// Shutdown stops accepting chains and waits for in-flight ones.
func (s *Service) Shutdown(ctx context.Context) error {
	s.runner.Close()
	return s.runner.WaitAll(ctx)
}
