package lift

import (
	"github.com/otterjit/otterjit/internal/decode"
	"github.com/otterjit/otterjit/internal/ir"
)

// emitAddress lowers a memory Operand's base+index*scale+disp form
// into an ir.OpLEA node chain (spec §4.B/§4.C: address computation is
// kept distinct from the load/store so the optimizer can CSE repeated
// accesses to the same computed address).
func (l *Lifter) emitAddress(op decode.Operand, nextIP uint64) ir.Ref {
	var addr ir.Ref
	haveBase := false

	if op.Base == decode.RegRIPRelative {
		addr = l.constU64(nextIP, 8)
		haveBase = true
	} else if op.Base >= 0 {
		addr = l.emit(ir.Node{Op: ir.OpLoadReg, ElemSize: 8, NumElem: 1, Class: ir.ClassGPR, Aux: int32(op.Base), PhysReg: -1})
		haveBase = true
	}

	if op.Index >= 0 {
		idx := l.emit(ir.Node{Op: ir.OpLoadReg, ElemSize: 8, NumElem: 1, Class: ir.ClassGPR, Aux: int32(op.Index), PhysReg: -1})
		if op.Scale > 1 {
			shift := l.constU64(uint64(log2(op.Scale)), 8)
			idx = l.emit(ir.Node{Op: ir.OpShl, ElemSize: 8, NumElem: 1, Class: ir.ClassGPR, Args: [3]ir.Ref{idx, shift}, PhysReg: -1})
		}
		if haveBase {
			addr = l.emit(ir.Node{Op: ir.OpAdd, ElemSize: 8, NumElem: 1, Class: ir.ClassGPR, Args: [3]ir.Ref{addr, idx}, PhysReg: -1})
		} else {
			addr = idx
			haveBase = true
		}
	}

	if op.Disp != 0 || !haveBase {
		dispConst := l.constU64(uint64(op.Disp), 8)
		if haveBase {
			addr = l.emit(ir.Node{Op: ir.OpAdd, ElemSize: 8, NumElem: 1, Class: ir.ClassGPR, Args: [3]ir.Ref{addr, dispConst}, PhysReg: -1})
		} else {
			addr = dispConst
		}
	}

	return addr
}

func log2(n int) int {
	r := 0
	for n > 1 {
		n >>= 1
		r++
	}
	return r
}

// loadOperand produces an ir.Ref holding the value of a decoded
// operand (register, memory, or immediate).
func (l *Lifter) loadOperand(op decode.Operand, nextIP uint64) ir.Ref {
	switch op.Kind {
	case decode.OperandImm:
		return l.constU64(uint64(op.Imm), uint8(op.Size))
	case decode.OperandReg:
		class := ir.ClassGPR
		if op.Class == decode.RegVec {
			class = ir.ClassVec
		}
		return l.emit(ir.Node{Op: ir.OpLoadReg, ElemSize: uint8(op.Size), NumElem: 1, Class: class, Aux: int32(op.Reg), PhysReg: -1})
	case decode.OperandMem:
		addr := l.emitAddress(op, nextIP)
		class := ir.ClassGPR
		if op.Class == decode.RegVec {
			class = ir.ClassVec
		}
		return l.emit(ir.Node{Op: ir.OpLoadMem, ElemSize: uint8(op.Size), NumElem: 1, Class: class, Args: [3]ir.Ref{addr}, PhysReg: -1})
	}
	return ir.InvalidRef
}

// storeOperand writes value into a register or memory operand.
func (l *Lifter) storeOperand(op decode.Operand, value ir.Ref, nextIP uint64) {
	switch op.Kind {
	case decode.OperandReg:
		class := ir.ClassGPR
		if op.Class == decode.RegVec {
			class = ir.ClassVec
		}
		l.emit(ir.Node{Op: ir.OpStoreReg, ElemSize: uint8(op.Size), NumElem: 1, Class: class, Aux: int32(op.Reg), Args: [3]ir.Ref{value}, PhysReg: -1})
	case decode.OperandMem:
		addr := l.emitAddress(op, nextIP)
		class := ir.ClassGPR
		if op.Class == decode.RegVec {
			class = ir.ClassVec
		}
		l.emit(ir.Node{Op: ir.OpStoreMem, ElemSize: uint8(op.Size), NumElem: 1, Class: class, Args: [3]ir.Ref{addr, value}, PhysReg: -1})
	}
}
