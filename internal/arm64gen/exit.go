package arm64gen

import "github.com/otterjit/otterjit/internal/ir"

// ripOffset is the byte offset of GuestCpuState.RIP, computed from
// the same field-order assumption as cpuStateVecOffset (16 GPRs, then
// 16 vectors, then 8 FP regs, then the scalar x87/flags/MXCSR fields,
// then FSBase/GSBase, then RIP). internal/dispatch owns the one
// runtime assertion that this stays in lockstep with
// guest.GuestCpuState's real layout (Go's struct alignment may insert
// padding this arithmetic does not model).
const ripOffset = 16*8 /* GPR */ + 16*32 /* Vec */ + 8*16 /* FP */ +
	1 + 2 + 2 /* FPTop, FTW, FCW */ + 7 /* CF..DF */ + 4 /* C0..C3 */ +
	4 /* MXCSR */ + 8 + 8 /* FSBase, GSBase */

// emitExit lowers a Block's terminating instruction into a guest-RIP
// store followed by a direct branch to the dispatcher trampoline
// (spec §4.F: "the generator emits only direct branches to it, never
// relying on returning from a call frame, so stack depth stays
// constant").
func (g *Generator) emitExit(b *ir.Block) {
	switch b.Exit.Kind {
	case ir.ExitUnconditional, ir.ExitHalt, ir.ExitSyscall:
		g.storeRIPConst(b.Exit.Target)

	case ir.ExitFallthrough:
		g.storeRIPConst(b.Exit.Fallthrough)

	case ir.ExitConditional:
		rc := g.valueReg(b, b.Exit.CondNode, RegScratch0)
		// words is the length of storeRIPConst(target): MOVZ, one MOVK
		// per further non-zero chunk, STR.
		words := func(target uint64) int32 {
			n := int32(2)
			for shift := uint32(16); shift < 64 && (target>>shift) != 0; shift += 16 {
				n++
			}
			return n
		}
		// TBNZ rc, #0: skip the fallthrough-RIP store and its B when the
		// condition bit is set, so either path ends up writing exactly
		// one RIP value before falling into the shared trampoline jump.
		g.buf.Emit(encodeTBNZ(rc, 0, words(b.Exit.Fallthrough)+2))
		g.storeRIPConst(b.Exit.Fallthrough)
		g.buf.Emit(EncodeB(words(b.Exit.Target) + 1))
		g.storeRIPConst(b.Exit.Target)

	case ir.ExitIndirect:
		rt := g.valueReg(b, b.Exit.TargetNode, RegScratch0)
		g.buf.Emit(EncodeSTR(8, rt, RegCPUState, ripOffset))
	}

	g.buf.Emit(EncodeBR(RegDispatcher))
}

func (g *Generator) storeRIPConst(target uint64) {
	g.buf.Emit(EncodeMOVZ(true, RegScratch1, uint16(target), 0))
	for shift := uint32(16); shift < 64 && (target>>shift) != 0; shift += 16 {
		g.buf.Emit(EncodeMOVK(true, RegScratch1, uint16(target>>shift), shift))
	}
	g.buf.Emit(EncodeSTR(8, RegScratch1, RegCPUState, ripOffset))
}

// encodeTBNZ encodes "test bit and branch if nonzero", C6.2.258,
// used to pick between the Block's two exit targets from a single
// 1-bit condition value without needing a full B.cond (the condition
// here is an IR boolean result, not host NZCV state).
func encodeTBNZ(rt, bit uint32, imm14 int32) uint32 {
	b5 := (bit >> 5) & 1
	b40 := bit & 0x1F
	return b5<<31 | 0b0110111<<24 | b40<<19 | (uint32(imm14)&0x3FFF)<<5 | rt
}
