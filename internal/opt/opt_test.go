package opt

import (
	"testing"

	"github.com/otterjit/otterjit/internal/ir"
)

func TestEliminateDeadCodeRemovesUnusedConst(t *testing.T) {
	b := ir.NewBlock(0, 0)
	b.EmitConst(5, 8, ir.ClassGPR) // never used, should be removed
	used := b.EmitConst(7, 8, ir.ClassGPR)
	b.Emit(ir.Node{Op: ir.OpStoreReg, ElemSize: 8, NumElem: 1, Class: ir.ClassGPR, Args: [3]ir.Ref{used}, PhysReg: -1})

	EliminateDeadCode(b)

	if b.Node(1).IsDead() != true {
		t.Fatalf("unused const should be dead")
	}
	if b.Node(used).IsDead() {
		t.Fatalf("used const should be live")
	}
}

func TestEliminateDeadCodeKeepsFinalFlagRecord(t *testing.T) {
	// Flags are live-out of a block: only records superseded by a later
	// one may die; the final record must survive even with no in-block
	// reader.
	b := ir.NewBlock(0, 0)
	v := b.EmitConst(1, 8, ir.ClassGPR)
	first := b.Emit(ir.Node{Op: ir.OpDeferredFlags, ElemSize: 8, NumElem: 1, Class: ir.ClassGPR, Args: [3]ir.Ref{v, v, v}, PhysReg: -1})
	last := b.Emit(ir.Node{Op: ir.OpDeferredFlags, ElemSize: 8, NumElem: 1, Class: ir.ClassGPR, Args: [3]ir.Ref{v, v, v}, PhysReg: -1})
	b.Emit(ir.Node{Op: ir.OpStoreReg, ElemSize: 8, NumElem: 1, Class: ir.ClassGPR, Args: [3]ir.Ref{v}, PhysReg: -1})

	EliminateDeadCode(b)

	if !b.Node(first).IsDead() {
		t.Fatal("superseded flag record should be dead")
	}
	if b.Node(last).IsDead() {
		t.Fatal("final flag record must survive (flags escape the block)")
	}
}

func TestPropagateConstantsFoldsAdd(t *testing.T) {
	b := ir.NewBlock(0, 0)
	a := b.EmitConst(3, 8, ir.ClassGPR)
	c := b.EmitConst(4, 8, ir.ClassGPR)
	sum := b.Emit(ir.Node{Op: ir.OpAdd, ElemSize: 8, NumElem: 1, Class: ir.ClassGPR, Args: [3]ir.Ref{a, c}, PhysReg: -1})

	PropagateConstants(b)

	n := b.Node(sum)
	if n.Op != ir.OpConst {
		t.Fatalf("expected folded const, got op %v", n.Op)
	}
	if got := b.ConstValue(n); got != 7 {
		t.Fatalf("expected 3+4=7, got %d", got)
	}
}

func TestEliminateRedundantMovesRemovesSelfStore(t *testing.T) {
	b := ir.NewBlock(0, 0)
	load := b.Emit(ir.Node{Op: ir.OpLoadReg, ElemSize: 8, NumElem: 1, Class: ir.ClassGPR, Aux: 0, PhysReg: -1})
	store := b.Emit(ir.Node{Op: ir.OpStoreReg, ElemSize: 8, NumElem: 1, Class: ir.ClassGPR, Aux: 0, Args: [3]ir.Ref{load}, PhysReg: -1})

	EliminateRedundantMoves(b)

	if !b.Node(store).IsDead() {
		t.Fatalf("self-store should be eliminated as a redundant move")
	}
}

func TestAllocateAssignsDistinctRegistersForOverlappingLiveRanges(t *testing.T) {
	b := ir.NewBlock(0, 0)
	a := b.EmitConst(1, 8, ir.ClassGPR)
	c := b.EmitConst(2, 8, ir.ClassGPR)
	sum := b.Emit(ir.Node{Op: ir.OpAdd, ElemSize: 8, NumElem: 1, Class: ir.ClassGPR, Args: [3]ir.Ref{a, c}, PhysReg: -1})
	b.Emit(ir.Node{Op: ir.OpStoreReg, ElemSize: 8, NumElem: 1, Class: ir.ClassGPR, Aux: 0, Args: [3]ir.Ref{sum}, PhysReg: -1})

	AnalyzeLiveness(b)
	Allocate(b, 4, 4)

	an, cn := b.Node(a), b.Node(c)
	if an.Spilled || cn.Spilled {
		t.Fatalf("should not need to spill with 4 registers available")
	}
	if an.PhysReg == cn.PhysReg {
		t.Fatalf("overlapping live ranges got the same physical register: %d", an.PhysReg)
	}
}

func TestAllocateSpillsWhenBankExhausted(t *testing.T) {
	b := ir.NewBlock(0, 0)
	var refs []ir.Ref
	for i := 0; i < 3; i++ {
		refs = append(refs, b.EmitConst(uint64(i), 8, ir.ClassGPR))
	}
	var sumRef ir.Ref = refs[0]
	for _, r := range refs[1:] {
		sumRef = b.Emit(ir.Node{Op: ir.OpAdd, ElemSize: 8, NumElem: 1, Class: ir.ClassGPR, Args: [3]ir.Ref{sumRef, r}, PhysReg: -1})
	}
	b.Emit(ir.Node{Op: ir.OpStoreReg, ElemSize: 8, NumElem: 1, Class: ir.ClassGPR, Aux: 0, Args: [3]ir.Ref{sumRef}, PhysReg: -1})

	AnalyzeLiveness(b)
	Allocate(b, 1, 1) // force spilling with only one physical GPR

	spilled := false
	b.Walk(func(r ir.Ref, n *ir.Node) {
		if n.Class == ir.ClassGPR && n.Spilled {
			spilled = true
		}
	})
	if !spilled {
		t.Fatalf("expected at least one spill with a single-register bank")
	}
}
