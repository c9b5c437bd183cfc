// Package opt implements the IR Optimizer & Register Allocator
// (spec §4.D): an ordered pipeline of in-place passes over an
// ir.Block followed by linear-scan register allocation over two
// banks, GPR and vector.
//
// The teacher has no close analogue for an IR optimization pipeline
// (cpu_x86.go and friends interpret directly, with nothing to
// optimize), so the pass-pipeline shape here is grounded on spec
// §4.D directly: an ordered list of independent passes, each mutating
// the same ir.Block in place, matching the "Passes in order" list.
// The register allocator's interval-sort step is grounded on
// features.go's use of sort.Strings: sort a slice by a single
// comparable key, then sweep it once.
package opt

import "github.com/otterjit/otterjit/internal/ir"

// Pass is one optimization or analysis step. Passes run in a fixed
// order (spec §4.D) and mutate b in place.
type Pass func(b *ir.Block)

// DefaultPipeline is the pass order spec §4.D specifies: dead-code
// elimination (incl. dead-flag elimination), constant propagation and
// folding, redundant-move elimination, liveness analysis, then
// register allocation (run separately, see Allocate).
var DefaultPipeline = []Pass{
	EliminateDeadCode,
	PropagateConstants,
	EliminateRedundantMoves,
	AnalyzeLiveness,
}

// Run executes the default pipeline over b, then allocates registers.
func Run(b *ir.Block, numGPR, numVec int) {
	for _, p := range DefaultPipeline {
		p(b)
	}
	Allocate(b, numGPR, numVec)
}
