package opt

import (
	"sort"

	"github.com/otterjit/otterjit/internal/ir"
)

// interval is one node's liveness range, sortable by start position —
// the shape features.go's sort.Strings usage is generalized to here:
// build a slice, sort by one key, sweep it once.
type interval struct {
	ref        ir.Ref
	start, end int32
	class      ir.RegClass
}

// Allocate runs linear-scan register allocation over b's live nodes
// (spec §4.D step 5), assigning each a physical register in
// n.PhysReg, or marking it Spilled with PhysReg holding a spill-slot
// index into the per-thread scratch area (spec §3 Block "register-
// allocation metadata"; spec §4.D "Spill slots live in a per-thread
// scratch area at a fixed offset from the CPU state"). numGPR/numVec
// name how many physical registers of each bank are available for
// allocation (the host ABI reserves some; see internal/arm64gen for
// the concrete counts).
func Allocate(b *ir.Block, numGPR, numVec int) {
	var intervals []interval
	b.Walk(func(r ir.Ref, n *ir.Node) {
		if !needsRegister(n.Op) {
			return
		}
		def, last := n.LiveRange()
		intervals = append(intervals, interval{ref: r, start: def, end: last, class: n.Class})
	})

	sort.Slice(intervals, func(i, j int) bool { return intervals[i].start < intervals[j].start })

	allocBank(b, intervals, ir.ClassGPR, numGPR)
	allocBank(b, intervals, ir.ClassVec, numVec)
}

// needsRegister excludes nodes whose result is never read as a value:
// pure side-effecting stores and block-exit markers don't want a
// destination register.
func needsRegister(op ir.Op) bool {
	switch op {
	case ir.OpStoreReg, ir.OpStoreMem, ir.OpStoreFlag, ir.OpCondBranch,
		ir.OpJump, ir.OpExitBlock, ir.OpVecZeroUpper:
		return false
	}
	return true
}

// active tracks which physical register holds which interval's value;
// the list is kept in allocation order and expiry scans all of it.
type active struct {
	interval
	reg int16
}

func allocBank(b *ir.Block, all []interval, class ir.RegClass, numRegs int) {
	var actives []active
	free := make([]int16, numRegs)
	for i := range free {
		free[i] = int16(numRegs - 1 - i) // pop from the end, lowest register numbers used first
	}
	nextSpillSlot := int16(0)

	expire := func(pos int32) {
		kept := actives[:0]
		for _, a := range actives {
			if a.end < pos {
				free = append(free, a.reg)
			} else {
				kept = append(kept, a)
			}
		}
		actives = kept
	}

	for _, iv := range all {
		if iv.class != class {
			continue
		}
		expire(iv.start)
		n := b.Node(iv.ref)

		if len(free) == 0 {
			spillFurthest(b, &actives, iv)
			continue
		}

		reg := free[len(free)-1]
		free = free[:len(free)-1]
		n.PhysReg = reg
		n.Spilled = false
		actives = append(actives, active{interval: iv, reg: reg})
		_ = nextSpillSlot
	}
}

// spillFurthest implements linear-scan's classic policy: when no
// physical register is free, spill whichever active interval ends
// furthest in the future (Poletto & Sarkar), preferring to keep
// short-lived values in registers.
func spillFurthest(b *ir.Block, actives *[]active, iv interval) {
	furthest := -1
	for i, a := range *actives {
		if furthest == -1 || a.end > (*actives)[furthest].end {
			furthest = i
		}
	}

	n := b.Node(iv.ref)
	if furthest != -1 && (*actives)[furthest].end > iv.end {
		victim := (*actives)[furthest]
		victimNode := b.Node(victim.ref)
		victimNode.Spilled = true
		victimNode.PhysReg = nextSpillSlotFor(b)

		n.PhysReg = victim.reg
		n.Spilled = false
		(*actives)[furthest] = active{interval: iv, reg: victim.reg}
		return
	}

	n.Spilled = true
	n.PhysReg = nextSpillSlotFor(b)
}

// nextSpillSlotFor hands out spill-slot indices by counting how many
// nodes in the block are already spilled, so slots never collide.
func nextSpillSlotFor(b *ir.Block) int16 {
	count := int16(0)
	for i := range b.Nodes {
		if b.Nodes[i].Spilled {
			count++
		}
	}
	return count
}
