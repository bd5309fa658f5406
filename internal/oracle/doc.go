// Package oracle defines the boundary to the external reasoning capability
// and the deterministic rule fast path.
//
// The capability is a pure contract: text/context in, structured result out.
// The engine treats it as untrusted - every result's shape is validated
// before anything derived from it is persisted - and never auto-retries a
// timed-out call, since a generative call is not idempotent and blind retry
// risks duplicate side effects.
//
// Rule steps (tag routing, todo similarity matching) evaluate in-process with
// no suspend point; they share the Input/Result shape so the chain engine
// dispatches on step kind alone.
package oracle
