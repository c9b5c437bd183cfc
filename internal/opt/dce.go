package opt

import "github.com/otterjit/otterjit/internal/ir"

// sideEffecting reports whether a node's result or action is observed
// outside the IR graph (a guest register/memory write, a branch, a
// helper call) and so must never be removed by dead-code elimination
// regardless of whether anything references its Ref.
func sideEffecting(op ir.Op) bool {
	switch op {
	case ir.OpStoreReg, ir.OpStoreMem, ir.OpStoreFlag, ir.OpVecZeroUpper,
		ir.OpCondBranch, ir.OpJump, ir.OpCallHelper, ir.OpExitBlock:
		return true
	}
	return false
}

// EliminateDeadCode removes nodes (including OpDeferredFlags nodes
// whose flags are never materialized, per spec §4.D "dead-flag
// elimination informed by downstream flag reads") that no live,
// side-effecting computation transitively depends on.
func EliminateDeadCode(b *ir.Block) {
	live := make([]bool, len(b.Nodes))

	var mark func(r ir.Ref)
	mark = func(r ir.Ref) {
		if r == ir.InvalidRef || live[r] {
			return
		}
		live[r] = true
		n := b.Node(r)
		for _, a := range n.Args {
			mark(a)
		}
	}

	for i := 1; i < len(b.Nodes); i++ {
		if sideEffecting(b.Nodes[i].Op) {
			mark(ir.Ref(i))
		}
	}
	mark(b.Exit.CondNode)
	mark(b.Exit.TargetNode)

	// The architectural flags escape the block: a successor may read
	// them (SETcc/ADC/Jcc at its head) without producing its own
	// record first. Only records overwritten by a LATER record before
	// block end are truly dead, so the final one always survives.
	for i := len(b.Nodes) - 1; i >= 1; i-- {
		if b.Nodes[i].Op == ir.OpDeferredFlags {
			mark(ir.Ref(i))
			break
		}
	}

	for i := 1; i < len(b.Nodes); i++ {
		if !live[i] {
			b.MarkDead(ir.Ref(i))
		}
	}
}
