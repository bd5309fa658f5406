// Package harness runs YAML-defined scenarios against a real SQLite
// store with deterministic clocks, ids, and a scripted reasoning
// oracle, then checks assertions and golden snapshots. It exists so
// end-to-end behavior - ingest, correction races, replay - is specified
// as data instead of hand-rolled test plumbing.
package harness
