package opt

import "github.com/otterjit/otterjit/internal/ir"

// AnalyzeLiveness computes a [def, lastUse] instruction-index interval
// for every live node (spec §4.D step 4), recording it via
// ir.Node.SetLiveRange so Allocate can run a linear scan without a
// second walk of the arena. Arena index doubles as program order since
// the lifter emits nodes in evaluation order and nothing reorders them.
func AnalyzeLiveness(b *ir.Block) {
	b.Walk(func(r ir.Ref, n *ir.Node) {
		n.SetLiveRange(int32(r), int32(r))
	})

	b.Walk(func(r ir.Ref, n *ir.Node) {
		for _, a := range n.Args {
			if a == ir.InvalidRef {
				continue
			}
			an := b.Node(a)
			def, last := an.LiveRange()
			if int32(r) > last {
				last = int32(r)
			}
			an.SetLiveRange(def, last)
		}
	})

	// A flag read recomputes NZCV from the deferred record's inputs at
	// the read site (see internal/arm64gen's OpMaterializeFlag
	// lowering), so those inputs must stay live past the record itself,
	// all the way to the materialization point.
	b.Walk(func(r ir.Ref, n *ir.Node) {
		if n.Op != ir.OpMaterializeFlag || n.Args[0] == ir.InvalidRef {
			return
		}
		dn := b.Node(n.Args[0])
		for _, a := range dn.Args {
			if a != ir.InvalidRef {
				extendTo(b, a, int32(r))
			}
		}
	})

	if b.Exit.CondNode != ir.InvalidRef {
		extendTo(b, b.Exit.CondNode, int32(len(b.Nodes)))
	}
	if b.Exit.TargetNode != ir.InvalidRef {
		extendTo(b, b.Exit.TargetNode, int32(len(b.Nodes)))
	}
}

func extendTo(b *ir.Block, r ir.Ref, pos int32) {
	n := b.Node(r)
	def, last := n.LiveRange()
	if pos > last {
		last = pos
	}
	n.SetLiveRange(def, last)
}
