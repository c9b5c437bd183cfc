package opt

import "github.com/otterjit/otterjit/internal/ir"

// EliminateRedundantMoves removes OpStoreReg nodes that write back a
// value just read from the same register with no change in width or
// lane shape — the lifter emits these routinely wherever an x86
// instruction's destination operand happens to equal a source operand
// it also read (e.g. MOV RAX, RAX or XCHG of a register with itself).
// Spec §4.D step 3.
func EliminateRedundantMoves(b *ir.Block) {
	for i := 1; i < len(b.Nodes); i++ {
		n := &b.Nodes[i]
		if n.IsDead() || n.Op != ir.OpStoreReg {
			continue
		}
		src := b.Node(n.Args[0])
		if src.Op == ir.OpLoadReg && src.Aux == n.Aux && src.ElemSize == n.ElemSize && src.Class == n.Class {
			b.MarkDead(ir.Ref(i))
		}
	}
}
