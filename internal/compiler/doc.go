// Package compiler turns CUE plan definitions into the engine's
// intermediate representation.
//
// A plan document declares, per event type, the ordered reasoning steps
// a trace chain runs, and an optional regeneration catalog describing
// which steps can be re-run with an alternative outcome. Compilation is
// done with the CUE Go API; validation is separate and collects every
// error rather than failing fast.
package compiler
