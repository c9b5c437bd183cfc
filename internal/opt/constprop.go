package opt

import "github.com/otterjit/otterjit/internal/ir"

// PropagateConstants folds scalar integer ops whose operands are both
// OpConst into a single OpConst node, spec §4.D step 2 ("Constant
// propagation and folding"). Vector ops are left alone: lane-wise
// constant folding buys little (vector constants are rare in
// practice) and the extra element-size/lane-count bookkeeping is not
// worth it for this core.
func PropagateConstants(b *ir.Block) {
	for i := 1; i < len(b.Nodes); i++ {
		n := &b.Nodes[i]
		if n.IsDead() {
			continue
		}
		foldScalar(b, ir.Ref(i), n)
	}
}

func foldScalar(b *ir.Block, ref ir.Ref, n *ir.Node) {
	if n.Class != ir.ClassGPR {
		return
	}

	mask := maskFor(n.ElemSize)

	switch n.Op {
	case ir.OpNot, ir.OpNeg:
		lhs := b.Node(n.Args[0])
		if lhs.Op != ir.OpConst {
			return
		}
		v := b.ConstValue(lhs)
		var r uint64
		if n.Op == ir.OpNot {
			r = ^v & mask
		} else {
			r = (-v) & mask
		}
		replaceWithConst(b, n, r)
		return
	}

	lhs := b.Node(n.Args[0])
	rhs := b.Node(n.Args[1])
	if n.Args[1] == ir.InvalidRef || lhs.Op != ir.OpConst || rhs.Op != ir.OpConst {
		return
	}
	a, c := b.ConstValue(lhs), b.ConstValue(rhs)

	var r uint64
	ok := true
	switch n.Op {
	case ir.OpAdd:
		r = (a + c) & mask
	case ir.OpSub:
		r = (a - c) & mask
	case ir.OpAnd:
		r = a & c
	case ir.OpOr:
		r = a | c
	case ir.OpXor:
		r = a ^ c
	case ir.OpShl:
		r = (a << (c & 63)) & mask
	case ir.OpShr:
		r = (a & mask) >> (c & 63)
	case ir.OpMul:
		r = (a * c) & mask
	case ir.OpCmpEQ:
		r = boolU64(a == c)
	case ir.OpCmpNE:
		r = boolU64(a != c)
	case ir.OpCmpULT:
		r = boolU64(a < c)
	case ir.OpCmpULE:
		r = boolU64(a <= c)
	default:
		ok = false
	}
	if ok {
		replaceWithConst(b, n, r)
	}
}

func boolU64(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}

func maskFor(elemSize uint8) uint64 {
	switch elemSize {
	case 1:
		return 0xFF
	case 2:
		return 0xFFFF
	case 4:
		return 0xFFFFFFFF
	default:
		return ^uint64(0)
	}
}

// replaceWithConst turns n into an OpConst node carrying value v,
// leaving its Ref stable so existing users keep pointing at it.
func replaceWithConst(b *ir.Block, n *ir.Node, v uint64) {
	idx := int32(len(b.Consts))
	b.Consts = append(b.Consts, v)
	n.Op = ir.OpConst
	n.ConstIdx = idx
	n.Args = [3]ir.Ref{}
}
