// Package engine runs reasoning chains.
//
// One chain per event: the engine walks the event's step plan in order,
// persisting a trace row per step. Before each step it re-reads the
// event's cancellation marker from the store; a set marker aborts the
// chain with an auditable voided trace. Cancellation is cooperative
// only - an in-flight step is never killed, so at most one expensive
// operation may complete after a cancellation request.
//
// Chains for different events run fully in parallel with no shared
// mutable state besides the store. A single chain's steps run
// sequentially; the optional gather phase before a step issues its
// read-only lookups in parallel and joins before the step starts.
package engine
