// Package vm executes compiled blast packages.
//
// This package contains:
//   - Interpreter, which runs a package against one record
//   - BatchInterpreter, which runs an ssmd package against many records,
//     decoding every instruction once per record group
//   - Context, the per-worker state: function table, named value overlay,
//     time values and random source
//   - ExecuteParallel, which spreads records over workers
//
// A record is a []float32 holding the package's data segment. Both
// interpreters write results into the caller's records and never retain them.
package vm
