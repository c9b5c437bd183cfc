package lift

import (
	"github.com/otterjit/otterjit/internal/decode"
	"github.com/otterjit/otterjit/internal/ir"
)

// liftJcc lifts the conditional-branch family (Jcc rel8/rel32): it
// materializes the pending deferred-flags record against the opcode's
// condition code and sets the block's conditional exit, terminating
// the block (spec §4.C "Multiblock" notes that a later pass may
// continue lifting past this point; this Lifter always stops here,
// single-block mode, leaving multiblock continuation as a future
// lifter policy rather than something CodeGen or the IR shape
// prevents).
func liftJcc(l *Lifter, op *decode.DecodedOp) (bool, error) {
	cond := l.materializeCond(decode.CondCode(op.Aux))
	l.b.Exit = ir.BlockExit{
		Kind:        ir.ExitConditional,
		Target:      uint64(int64(op.NextIP) + op.Imm),
		Fallthrough: op.NextIP,
		CondNode:    cond,
	}
	return true, nil
}

// liftJmp lifts direct JMP rel8/rel32. Indirect JMP r/m (opcode 0xFF
// /4) is a Group 5 form and goes through liftGrp45 instead.
func liftJmp(l *Lifter, op *decode.DecodedOp) (bool, error) {
	l.b.Exit = ir.BlockExit{Kind: ir.ExitUnconditional, Target: uint64(int64(op.NextIP) + op.Imm)}
	return true, nil
}

// liftCall lifts direct CALL rel32. Indirect CALL r/m (opcode 0xFF
// /2) is a Group 5 form and goes through liftGrp45 instead.
func liftCall(l *Lifter, op *decode.DecodedOp) (bool, error) {
	retAddr := l.constU64(op.NextIP, 8)
	l.pushValue(retAddr)
	l.b.Exit = ir.BlockExit{Kind: ir.ExitUnconditional, Target: uint64(int64(op.NextIP) + op.Imm)}
	return true, nil
}

func liftRet(l *Lifter, op *decode.DecodedOp) (bool, error) {
	target := l.popValue(8)
	if op.OpcodeID == decode.OpRetNearImm {
		rsp := l.emit(ir.Node{Op: ir.OpLoadReg, ElemSize: 8, NumElem: 1, Class: ir.ClassGPR, Aux: 4, PhysReg: -1})
		delta := l.constU64(uint64(op.Imm), 8)
		newRsp := l.emit(ir.Node{Op: ir.OpAdd, ElemSize: 8, NumElem: 1, Class: ir.ClassGPR, Args: [3]ir.Ref{rsp, delta}, PhysReg: -1})
		l.emit(ir.Node{Op: ir.OpStoreReg, ElemSize: 8, NumElem: 1, Class: ir.ClassGPR, Aux: 4, Args: [3]ir.Ref{newRsp}, PhysReg: -1})
	}
	l.b.Exit = ir.BlockExit{Kind: ir.ExitIndirect, TargetNode: target}
	return true, nil
}

// liftLoop lifts LOOP: decrement RCX/ECX, branch while nonzero. Unlike
// Jcc this reads no architectural flag, so it builds its own 1-bit
// condition directly from the decremented counter rather than going
// through the deferred-flags path.
func liftLoop(l *Lifter, op *decode.DecodedOp) (bool, error) {
	const rcxIdx = 1
	width := uint8(8)
	if l.is64Bit {
		width = 4 // LOOP always uses (E)CX, never the full 64-bit register, even in long mode
	}
	rcx := l.emit(ir.Node{Op: ir.OpLoadReg, ElemSize: width, NumElem: 1, Class: ir.ClassGPR, Aux: rcxIdx, PhysReg: -1})
	one := l.constU64(1, width)
	newRcx := l.emit(ir.Node{Op: ir.OpSub, ElemSize: width, NumElem: 1, Class: ir.ClassGPR, Args: [3]ir.Ref{rcx, one}, PhysReg: -1})
	l.emit(ir.Node{Op: ir.OpStoreReg, ElemSize: width, NumElem: 1, Class: ir.ClassGPR, Aux: rcxIdx, Args: [3]ir.Ref{newRcx}, PhysReg: -1})

	zero := l.constU64(0, width)
	cond := l.emit(ir.Node{Op: ir.OpCmpNE, ElemSize: width, NumElem: 1, Class: ir.ClassGPR, Args: [3]ir.Ref{newRcx, zero}, PhysReg: -1})
	l.b.Exit = ir.BlockExit{
		Kind:        ir.ExitConditional,
		Target:      uint64(int64(op.NextIP) + op.Imm),
		Fallthrough: op.NextIP,
		CondNode:    cond,
	}
	return true, nil
}

// liftSyscall lifts SYSCALL: a runtime helper call carrying the
// syscall ABI (RAX=number, RDI/RSI/RDX/R10/R8/R9=args per spec §6's
// CodeLoader/syscall-trampoline note). internal/dispatch's
// SyscallTrampoline (SPEC_FULL.md "Dispatcher" supplement) performs
// the actual host syscall and writes RAX back; lifting stops the
// block here since a syscall may block or deliver a signal (spec §5
// "Suspension happens when... a guest system call needs to block").
func liftSyscall(l *Lifter, op *decode.DecodedOp) (bool, error) {
	l.emit(ir.Node{Op: ir.OpCallHelper, ElemSize: 8, NumElem: 1, Class: ir.ClassGPR, Aux: helperSyscall, PhysReg: -1})
	l.b.Exit = ir.BlockExit{Kind: ir.ExitSyscall, Target: op.NextIP}
	return true, nil
}

func liftInt3(l *Lifter, op *decode.DecodedOp) (bool, error) {
	l.emit(ir.Node{Op: ir.OpCallHelper, ElemSize: 8, NumElem: 1, Class: ir.ClassGPR, Aux: helperTrap, PhysReg: -1})
	l.b.Exit = ir.BlockExit{Kind: ir.ExitUnconditional, Target: op.NextIP}
	return true, nil
}

// liftHlt lifts HLT (spec §8 scenario 1: "shutdown reason is HLT, RIP
// = 2"): terminates the block with an ExitHalt whose Target is the
// instruction's own next-IP, so the dispatcher's run loop sees RIP
// already advanced past the HLT byte when it reports the halt.
func liftHlt(l *Lifter, op *decode.DecodedOp) (bool, error) {
	l.b.Exit = ir.BlockExit{Kind: ir.ExitHalt, Target: op.NextIP}
	return true, nil
}

func liftNop(l *Lifter, op *decode.DecodedOp) (bool, error) { return false, nil }

func liftCpuid(l *Lifter, op *decode.DecodedOp) (bool, error) {
	l.emit(ir.Node{Op: ir.OpCallHelper, ElemSize: 4, NumElem: 1, Class: ir.ClassGPR, Aux: helperCpuid, PhysReg: -1})
	return false, nil
}

// repPrefixed reports whether op carries REP/REPE (1) or REPNE (2),
// used by the string-op family below to decide whether to loop.
func repPrefixed(op *decode.DecodedOp) int { return op.Prefixes.RepKind }

// liftStringOp lifts MOVS/STOS/CMPS/SCAS/LODS. Each is modeled as a
// single call to the runtime's generic string-op helper carrying the
// kind in ConstIdx, the width in ElemSize and the REP kind in
// Saturating (REP/REPE) or Signed (REPNE) rather than unrolled IR, since a REP-prefixed string op can iterate up to 2^64
// times and unrolling it into SSA nodes has no bound; the helper loops
// natively on the host and honors DF from GuestCpuState directly (spec
// §3 "DF" is read there, never duplicated into IR).
func liftStringOp(l *Lifter, op *decode.DecodedOp) (bool, error) {
	width := l.regWidthBytes(op)
	if op.OpcodeID == decode.OpMovs || op.OpcodeID == decode.OpCmps || op.OpcodeID == decode.OpScas ||
		op.OpcodeID == decode.OpStos || op.OpcodeID == decode.OpLods {
		if width == 0 {
			width = 1
		}
	}
	kind := stringOpKind(op.OpcodeID)
	rep := repPrefixed(op)
	l.emit(ir.Node{
		Op: ir.OpCallHelper, ElemSize: width, NumElem: 1, Class: ir.ClassGPR,
		Aux: helperStringOp, Signed: rep == 2, Saturating: rep == 1,
		ConstIdx: int32(kind),
	})
	return false, nil
}

func stringOpKind(id decode.OpcodeID) int {
	switch id {
	case decode.OpMovs:
		return 0
	case decode.OpStos:
		return 1
	case decode.OpCmps:
		return 2
	case decode.OpScas:
		return 3
	case decode.OpLods:
		return 4
	}
	return -1
}
