// Package ir provides the canonical record types for the Kairon engine.
//
// This package contains type definitions, canonical serialization, and
// identity computation only. All other internal packages import ir; ir
// imports nothing internal. This ensures ir remains the foundational layer
// with no circular dependencies.
//
// The three durable record kinds are:
//   - Event: immutable record of one external stimulus
//   - Trace: one reasoning step's record within a chain rooted at an Event
//   - Projection: a derived, queryable fact produced by a completed chain
//
// Events are write-once except for the cancellation marker in their metadata
// side channel. Traces and Projections are never deleted; stale rows are
// voided and linked to their successors so provenance survives corrections.
package ir
