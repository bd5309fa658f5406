package ir

import (
	"time"
)

// Document is a semi-structured JSON document. Payloads, step results, and
// projection bodies all carry this shape. Values are the types produced by
// encoding/json: nil, bool, string, float64, json.Number, []any,
// map[string]any.
type Document map[string]any

// Clone returns a deep copy of the document. Nested maps and slices are
// copied; scalar values are shared (they are immutable).
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = cloneValue(e)
		}
		return out
	case Document:
		return map[string]any(val.Clone())
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// String returns the string value at key, or "" if absent or not a string.
func (d Document) String(key string) string {
	s, _ := d[key].(string)
	return s
}

// Event is an immutable record of one external stimulus.
//
// (EventType, IdempotencyKey) is unique across the ledger: re-delivery of the
// same stimulus is a no-op, not a duplicate. Payload and identity fields never
// change after ingestion; only Metadata may be mutated, and only to set the
// cancellation marker.
type Event struct {
	ID             string        `json:"id"`
	ReceivedAt     time.Time     `json:"received_at"`
	EventType      string        `json:"event_type"`
	Source         string        `json:"source"`
	Payload        Document      `json:"payload"`
	IdempotencyKey string        `json:"idempotency_key"`
	Metadata       EventMetadata `json:"metadata"`
}

// EventMetadata is the mutable side channel on an Event. It exists so that a
// correction requested in any process instance is visible to the chain worker
// for that event, without ever touching the immutable payload.
type EventMetadata struct {
	// CancellationRequested is the cooperative abort flag. Chain workers
	// re-read it before each step.
	CancellationRequested bool `json:"cancellation_requested,omitempty"`

	// CancellationRequestedAt records when the marker was first set.
	// Subsequent idempotent sets do not move it.
	CancellationRequestedAt *time.Time `json:"cancellation_requested_at,omitempty"`

	// CorrectionEventID links to the user_correction event that requested
	// the abort, when known.
	CorrectionEventID string `json:"correction_event_id,omitempty"`
}

// EventTypeCorrection is the event type appended for every user correction.
// Correction events reference the corrected event in their payload under
// "original_event_id".
const EventTypeCorrection = "user_correction"

// Trace records one reasoning step within a chain.
//
// StepOrder is strictly increasing within the chain rooted at EventID, and
// ParentTraceID links each step to its predecessor, forming a single linear
// path back to the first step. A trace with non-nil VoidedAt contributes no
// live projections.
type Trace struct {
	ID                  string     `json:"id"`
	EventID             string     `json:"event_id"`
	ParentTraceID       string     `json:"parent_trace_id,omitempty"`
	StepName            string     `json:"step_name"`
	StepOrder           int        `json:"step_order"`
	CreatedAt           time.Time  `json:"created_at"`
	Data                StepData   `json:"data"`
	VoidedAt            *time.Time `json:"voided_at,omitempty"`
	SupersededByTraceID string     `json:"superseded_by_trace_id,omitempty"`
	EngineVersion       string     `json:"engine_version"`
}

// Voided reports whether the trace has been voided.
func (t Trace) Voided() bool { return t.VoidedAt != nil }

// StepData holds one step's inputs, outputs, and diagnostics as a single
// document, so failures are auditable from the ledger rather than only
// visible in logs.
type StepData struct {
	Inputs      Document `json:"inputs,omitempty"`
	Result      Document `json:"result,omitempty"`
	Error       string   `json:"error,omitempty"`
	Aborted     bool     `json:"aborted,omitempty"`
	DurationMS  int64    `json:"duration_ms,omitempty"`
	Diagnostics Document `json:"diagnostics,omitempty"`
}

// ProjectionStatus is the lifecycle state of a projection.
//
// Transitions are one-way: pending -> confirmed, pending/auto_confirmed/
// confirmed -> voided. Voiding is a conditional single-winner write; a row
// voids at most once.
type ProjectionStatus string

const (
	StatusPending       ProjectionStatus = "pending"
	StatusAutoConfirmed ProjectionStatus = "auto_confirmed"
	StatusConfirmed     ProjectionStatus = "confirmed"
	StatusVoided        ProjectionStatus = "voided"
)

// ValidProjectionStatuses enumerates the allowed status values.
var ValidProjectionStatuses = map[ProjectionStatus]bool{
	StatusPending:       true,
	StatusAutoConfirmed: true,
	StatusConfirmed:     true,
	StatusVoided:        true,
}

// Live reports whether a projection in this status should be presented as
// current.
func (s ProjectionStatus) Live() bool { return s != StatusVoided }

// Projection is a derived, queryable fact produced by a completed chain.
//
// TraceChain is the full provenance path: the ordered list of trace IDs from
// the chain root to the producing trace. Every live projection's chain refers
// only to existing, non-voided traces of the same event lineage (directly or
// via a recorded supersession link).
type Projection struct {
	ID                       string           `json:"id"`
	TraceID                  string           `json:"trace_id"`
	EventID                  string           `json:"event_id"`
	TraceChain               []string         `json:"trace_chain"`
	ProjectionType           string           `json:"projection_type"`
	Data                     Document         `json:"data"`
	Status                   ProjectionStatus `json:"status"`
	CreatedAt                time.Time        `json:"created_at"`
	ConfirmedAt              *time.Time       `json:"confirmed_at,omitempty"`
	VoidedAt                 *time.Time       `json:"voided_at,omitempty"`
	VoidedReason             string           `json:"voided_reason,omitempty"`
	VoidedByEventID          string           `json:"voided_by_event_id,omitempty"`
	SupersededByProjectionID string           `json:"superseded_by_projection_id,omitempty"`
	SupersedesProjectionID   string           `json:"supersedes_projection_id,omitempty"`
}

// Voided reports whether the projection has been voided.
func (p Projection) Voided() bool { return p.Status == StatusVoided }

// Void reasons written by the coordinator. Free-form reasons are permitted;
// these are the well-known ones.
const (
	VoidReasonUserCorrection   = "user_correction"
	VoidReasonRejected         = "rejected"
	VoidReasonRegenerated      = "regenerated"
	VoidReasonSupersededReplay = "superseded_by_replay"
)

// Capture is one structured output proposed by a chain before persistence.
// A single chain may propose several captures (a message like "buy milk and
// call mom" splits into two todos); each becomes its own Projection sharing
// the chain's provenance path.
type Capture struct {
	ProjectionType string           `json:"projection_type"`
	Data           Document         `json:"data"`
	InitialStatus  ProjectionStatus `json:"initial_status"`
}
