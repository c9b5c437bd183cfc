package lift

import (
	"github.com/otterjit/otterjit/internal/decode"
	"github.com/otterjit/otterjit/internal/ir"
)

// vecShape reports the element width (in bytes) and lane count for a
// vector opcode, decided from the prefix bytes the way the x86 manual
// itself overloads them: no 66/F2/F3 prefix means packed single (PS,
// 4x4 bytes), 66 alone means packed double (PD, 2x8 bytes), F3 means
// scalar single (SS, 1x4), F2 means scalar double (SD, 1x8). A VEX
// prefix forbids those legacy bytes and carries the same selection in
// its pp field instead.
func vecShape(op *decode.DecodedOp) (elemSize uint8, numElem uint8, scalar bool) {
	rep, sz66 := op.Prefixes.RepKind, op.Prefixes.OpSize66
	if op.Prefixes.VEX.Present {
		rep, sz66 = 0, false
		switch op.Prefixes.VEX.PP {
		case 1:
			sz66 = true
		case 2:
			rep = 1 // F3
		case 3:
			rep = 2 // F2
		}
	}
	switch {
	case rep == 1:
		return 4, 1, true
	case rep == 2:
		return 8, 1, true
	case sz66:
		return 8, 2, false
	default:
		return 4, 4, false
	}
}

// has66 reports the operand-size-override selection, reading VEX.pp
// for VEX-encoded forms the same way vecShape does.
func has66(op *decode.DecodedOp) bool {
	if op.Prefixes.VEX.Present {
		return op.Prefixes.VEX.PP == 1
	}
	return op.Prefixes.OpSize66
}

// vecSources resolves a vector op's operands: the legacy form reads
// and writes Operands[1] in place; the VEX 3-operand form names its
// first source in the prefix's vvvv field, which decode materialized
// as Operands[2].
func vecSources(op *decode.DecodedOp) (dst, src1, src2 decode.Operand) {
	dst = op.Operands[1]
	src1 = dst
	if op.Prefixes.VEX.Present && op.NumOperands > 2 {
		src1 = op.Operands[2]
	}
	return dst, src1, op.Operands[0]
}

// vexUpperRule emits the §4.C upper-lane rule for a 128-bit VEX form
// writing a vector register: bits [255:128] of the destination are
// zeroed (copyFrom == -1), or copied from the named source register
// for the AVX scalar shape. Legacy non-VEX encodings leave the upper
// bits untouched and emit nothing here.
func (l *Lifter) vexUpperRule(op *decode.DecodedOp, dst decode.Operand, copyFrom int32) {
	if !op.Prefixes.VEX.Present || dst.Kind != decode.OperandReg {
		return
	}
	l.emit(ir.Node{
		Op: ir.OpVecZeroUpper, ElemSize: 16, NumElem: 1, Class: ir.ClassVec,
		Aux: int32(dst.Reg), ConstIdx: copyFrom, PhysReg: -1,
	})
}

// liftVecMove lifts MOVAPS/MOVUPS/MOVDQA/MOVDQU and their VEX forms.
// aux==1 selects the store form (reg -> r/m); aux==0 is load (r/m ->
// reg). Both are plain 128-bit moves in this core's TSO-only model
// (spec §4.E notes the unaligned-vs-aligned distinction only matters
// for the #GP on misaligned MOVAPS, which this lifter does not fault
// on, matching the "simplify" stance on alignment-trap fidelity
// recorded in the grounding ledger). The VEX-encoded 128-bit form
// additionally zeroes the destination's upper YMM half.
func liftVecMove(l *Lifter, op *decode.DecodedOp) (bool, error) {
	dst, src := op.Operands[1], op.Operands[0]
	if op.Aux == 1 {
		dst, src = op.Operands[0], op.Operands[1]
	}
	v := l.loadOperand(src, op.NextIP)
	l.storeOperand(dst, v, op.NextIP)
	l.vexUpperRule(op, dst, -1)
	return false, nil
}

var vecFloatOp = map[decode.VecOp]ir.Op{
	decode.VecAdd: ir.OpVecFAdd,
	decode.VecSub: ir.OpVecFSub,
	decode.VecMul: ir.OpVecMul,
	decode.VecDiv: ir.OpVecDiv,
}

// liftVecArith lifts the ADDPS/SUBPS/MULPS/DIVPS family (opcodes
// 0x58/0x59/0x5C/0x5E, OpAddpsScalarOrPacked, spec §4.E
// VFScalarOperation pattern for the scalar forms). Packed and scalar
// forms share one IR op; CodeGen decides packed-vs-scalar instruction
// shape from ElemSize/NumElem. For the VEX forms the first source is
// the vvvv register and the upper-lane rule applies: packed 128-bit
// ops zero the destination's upper half, scalar ops carry the first
// source's upper bits (spec §4.C "AVX scalar ops").
func liftVecArith(l *Lifter, op *decode.DecodedOp) (bool, error) {
	elemSize, numElem, scalar := vecShape(op)
	dst, src1, src2 := vecSources(op)
	lhs := l.loadOperand(src1, op.NextIP)
	rhs := l.loadOperand(src2, op.NextIP)
	irOp := vecFloatOp[decode.VecOp(op.Aux)]
	result := l.emit(ir.Node{Op: irOp, ElemSize: elemSize, NumElem: numElem, Class: ir.ClassVec, Args: [3]ir.Ref{lhs, rhs}, PhysReg: -1})
	l.storeOperand(dst, result, op.NextIP)
	l.vexUpperRule(op, dst, scalarUpperSource(scalar, src1))
	return false, nil
}

// scalarUpperSource picks the vexUpperRule mode: packed VEX.128 ops
// zero the upper half, scalar ones copy it from the first source.
func scalarUpperSource(scalar bool, src1 decode.Operand) int32 {
	if scalar && src1.Kind == decode.OperandReg {
		return int32(src1.Reg)
	}
	return -1
}

var vecMinMaxOp = map[decode.VecOp]ir.Op{
	decode.VecMin: ir.OpVecFMin,
	decode.VecMax: ir.OpVecFMax,
}

// liftVecMinMax lifts MINPS/MAXPS and their SS/PD/SD and VEX forms
// (opcodes 0x5D/0x5F, OpMinMaxPS).
func liftVecMinMax(l *Lifter, op *decode.DecodedOp) (bool, error) {
	elemSize, numElem, scalar := vecShape(op)
	dst, src1, src2 := vecSources(op)
	lhs := l.loadOperand(src1, op.NextIP)
	rhs := l.loadOperand(src2, op.NextIP)
	irOp := vecMinMaxOp[decode.VecOp(op.Aux)]
	result := l.emit(ir.Node{Op: irOp, ElemSize: elemSize, NumElem: numElem, Class: ir.ClassVec, Args: [3]ir.Ref{lhs, rhs}, PhysReg: -1})
	l.storeOperand(dst, result, op.NextIP)
	l.vexUpperRule(op, dst, scalarUpperSource(scalar, src1))
	return false, nil
}

var vecBitwiseOp = map[decode.VecOp]ir.Op{
	decode.VecAnd: ir.OpVecAnd,
	decode.VecOr:  ir.OpVecOr,
	decode.VecXor: ir.OpVecXor,
}

// liftVecBitwise lifts PAND/POR/PXOR (opcodes 0xDB/0xEB/0xEF,
// OpPxorPandPor) and their VEX forms. These are always untyped
// 128-bit lane ops regardless of prefix, so PXOR xmm,xmm (the common
// "zero a register" idiom) goes through the same path as any other.
func liftVecBitwise(l *Lifter, op *decode.DecodedOp) (bool, error) {
	dst, src1, src2 := vecSources(op)
	lhs := l.loadOperand(src1, op.NextIP)
	rhs := l.loadOperand(src2, op.NextIP)
	irOp := vecBitwiseOp[decode.VecOp(op.Aux)]
	result := l.emit(ir.Node{Op: irOp, ElemSize: 1, NumElem: 16, Class: ir.ClassVec, Args: [3]ir.Ref{lhs, rhs}, PhysReg: -1})
	l.storeOperand(dst, result, op.NextIP)
	l.vexUpperRule(op, dst, -1)
	return false, nil
}

// liftMovmsk lifts MOVMSKPS/MOVMSKPD/PMOVMSKB (opcode 0x50, aux==0
// for the float forms keyed by the 66 prefix, and 0xD7/aux==1 for
// PMOVMSKB). The decoder already classified Operands[1] as a GPR
// destination and Operands[0] as the vector source (see
// internal/decode's operandClasses).
func liftMovmsk(l *Lifter, op *decode.DecodedOp) (bool, error) {
	elemSize := uint8(4)
	if op.Aux == 1 {
		elemSize = 1
	} else if has66(op) {
		elemSize = 8
	}
	src := l.loadOperand(op.Operands[0], op.NextIP)
	result := l.emit(ir.Node{Op: ir.OpVecMovMask, ElemSize: elemSize, NumElem: 16 / elemSize, Class: ir.ClassGPR, Args: [3]ir.Ref{src}, PhysReg: -1})
	l.storeOperand(op.Operands[1], result, op.NextIP)
	return false, nil
}

// liftPshufd lifts PSHUFD xmm, xmm/m128, imm8 (opcode 0x70): every
// 32-bit lane of the destination is independently selected from the
// source by a 2-bit field of the immediate (spec §4.C/§4.E
// "OpVecShuffle" lane-selection semantics), carried in Aux.
func liftPshufd(l *Lifter, op *decode.DecodedOp) (bool, error) {
	src := l.loadOperand(op.Operands[0], op.NextIP)
	result := l.emit(ir.Node{
		Op: ir.OpVecShuffle, ElemSize: 4, NumElem: 4, Class: ir.ClassVec,
		Aux: int32(op.Imm), Args: [3]ir.Ref{src}, PhysReg: -1,
	})
	l.storeOperand(op.Operands[1], result, op.NextIP)
	l.vexUpperRule(op, op.Operands[1], -1)
	return false, nil
}

// liftShufps lifts SHUFPS/SHUFPD xmm, xmm/m128, imm8 (opcode 0xC6):
// unlike PSHUFD, the low two (or one) lanes of the result select from
// the first source and the high lanes select from the second source,
// so both are passed as Args. The VEX form takes its first source
// from vvvv.
func liftShufps(l *Lifter, op *decode.DecodedOp) (bool, error) {
	elemSize := uint8(4)
	numElem := uint8(4)
	if has66(op) {
		elemSize, numElem = 8, 2
	}
	dst, src1, src2 := vecSources(op)
	lhs := l.loadOperand(src1, op.NextIP)
	rhs := l.loadOperand(src2, op.NextIP)
	result := l.emit(ir.Node{
		Op: ir.OpVecShuffle, ElemSize: elemSize, NumElem: numElem, Class: ir.ClassVec,
		Aux: int32(op.Imm), Args: [3]ir.Ref{lhs, rhs}, PhysReg: -1,
	})
	l.storeOperand(dst, result, op.NextIP)
	l.vexUpperRule(op, dst, -1)
	return false, nil
}

// liftPshufb lifts PSHUFB xmm, xmm/m128 (0F38 00) and VPSHUFB: each
// destination byte is replaced by the source byte its own value in
// the control operand selects, or zeroed when the control byte's top
// bit is set (the cross-lane, full-16-byte-range behavior this core
// settled on for its legacy-SSE form, rather than AVX's
// per-128-bit-lane restriction — there is only ever one lane here).
func liftPshufb(l *Lifter, op *decode.DecodedOp) (bool, error) {
	dst, src1, src2 := vecSources(op)
	lhs := l.loadOperand(src1, op.NextIP)
	rhs := l.loadOperand(src2, op.NextIP)
	result := l.emit(ir.Node{
		Op: ir.OpVecShuffle8, ElemSize: 1, NumElem: 16, Class: ir.ClassVec,
		Args: [3]ir.Ref{lhs, rhs}, PhysReg: -1,
	})
	l.storeOperand(dst, result, op.NextIP)
	l.vexUpperRule(op, dst, -1)
	return false, nil
}

var packElemSize = map[int]uint8{0: 1, 1: 1, 2: 2} // PACKSSWB/PACKUSWB narrow to bytes, PACKSSDW to words

// liftPackSat lifts PACKSSWB/PACKUSWB/PACKSSDW (opcode 0x63/0x67/0x6B)
// and their VEX forms: each source lane is saturated down to half
// width and the two operands' narrowed lanes are concatenated into one
// 128-bit result (first source in the low 64 bits).
func liftPackSat(l *Lifter, op *decode.DecodedOp) (bool, error) {
	dst, src1, src2 := vecSources(op)
	lhs := l.loadOperand(src1, op.NextIP)
	rhs := l.loadOperand(src2, op.NextIP)
	result := l.emit(ir.Node{
		Op: ir.OpVecPack, ElemSize: packElemSize[int(op.Aux)], NumElem: 16, Class: ir.ClassVec,
		Signed: op.Aux != 1, Aux: int32(op.Aux), Args: [3]ir.Ref{lhs, rhs}, PhysReg: -1,
	})
	l.storeOperand(dst, result, op.NextIP)
	l.vexUpperRule(op, dst, -1)
	return false, nil
}

// liftPcmpestri lifts PCMPESTRI xmm, xmm/m128, imm8 (0F3A 61): an
// explicit-length string compare whose aggregate result is a 4-bit
// index written into ECX. The explicit lengths in EAX/EDX are read by
// the runtime helper directly off GuestCpuState rather than threaded
// through IR args, the same convention liftSyscall uses for its own
// implicit-register ABI (spec §4.E's OpVecStrCompare note: the helper,
// not CodeGen, interprets the imm8 control byte).
func liftPcmpestri(l *Lifter, op *decode.DecodedOp) (bool, error) {
	lhs := l.loadOperand(op.Operands[1], op.NextIP)
	rhs := l.loadOperand(op.Operands[0], op.NextIP)
	result := l.emit(ir.Node{
		Op: ir.OpVecStrCompare, ElemSize: 1, NumElem: 16, Class: ir.ClassGPR,
		Aux: int32(op.Imm), Args: [3]ir.Ref{lhs, rhs}, PhysReg: -1,
	})
	const ecxIdx = 1
	l.emit(ir.Node{Op: ir.OpStoreReg, ElemSize: 4, NumElem: 1, Class: ir.ClassGPR, Aux: ecxIdx, Args: [3]ir.Ref{result}, PhysReg: -1})
	return false, nil
}
