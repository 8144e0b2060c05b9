// Package compute derives device readiness from raw shadow snapshots.
//
// evaluate.go provides the pure threshold check: every configured logical
// sensor must resolve (through the device's variable map) to a finite number
// within its bounds. Missing or non-numeric values fail closed.
//
// window.go provides the Machine that turns the previous ProgressState plus
// the current verdict into the next one. The caller supplies now, so the
// transition is deterministic for a given (prev, verdict, now).
//
// level.go maps a percent to its discrete tier. Levels: L0 <25, L1 ≥25,
// L2 ≥50, L3 ≥75, L4 at 100.
package compute
