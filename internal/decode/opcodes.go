package decode

// OpcodeID is the "handler token" produced by the opcode table (spec
// §4.B): decode never knows how to lift an instruction, it only knows
// which lift.* handler is responsible for it.
type OpcodeID int

const (
	OpInvalid OpcodeID = iota

	// Data movement.
	OpMovRegRM
	OpMovRMReg
	OpMovRegImm
	OpMovRMImm
	OpLea
	OpPush
	OpPop
	OpXchg
	OpMovzx
	OpMovsx

	// Integer ALU, src/dst forms parameterized by AluOp below.
	OpAluRMReg // dst=r/m, src=reg
	OpAluRegRM // dst=reg, src=r/m
	OpAluRMImm // dst=r/m, src=imm
	OpAluALImm // dst=AL/AX/EAX/RAX, src=imm (short form)
	OpInc
	OpDec
	OpNeg
	OpNot
	OpTestRMReg
	OpTestRMImm
	OpShiftRMImm // SHL/SHR/SAR/ROL/ROR/RCL/RCR group, imm8 count
	OpShiftRMCL  // same group, count in CL
	OpShiftRM1   // same group, count == 1 (opcode forms D0/D1)
	OpGrp3       // TEST/NOT/NEG/MUL/IMUL/DIV/IDIV (0xF6/0xF7)
	OpImulRMImm  // three-operand IMUL r, r/m, imm

	// Control flow.
	OpJccRel8
	OpJccRel32
	OpJmpRel8
	OpJmpRel32
	OpJmpRM
	OpCallRel32
	OpCallRM
	OpRetNear
	OpRetNearImm
	OpLoop
	OpSyscall
	OpInt3
	OpHlt
	OpNop
	OpCpuid

	// String ops.
	OpMovs
	OpStos
	OpCmps
	OpScas
	OpLods

	// Atomics.
	OpCmpxchg
	OpCmpxchg8b16b
	OpXaddRMReg

	// Vector / SSE / AVX.
	OpMovaps
	OpMovups
	OpMovdqa
	OpMovdqu
	OpAddpsScalarOrPacked // parameterized by VecOp
	OpPxorPandPor         // parameterized by VecOp
	OpMovmsk
	OpPshufb
	OpPshufd
	OpShufps
	OpPackSat // PACKSSWB/PACKUSWB/PACKSSDW
	OpPcmpestri
	OpMinMaxPS // PMINSD/PMAXSD/MINPS/MAXPS family

	opcodeIDCount
)

// AluOp selects the arithmetic/logical operation for the grouped
// Op* tokens above (ADD/OR/ADC/SBB/AND/SUB/XOR/CMP share one encoding
// shape, distinguished by the ModR/M reg field or by opcode row).
type AluOp int

const (
	AluAdd AluOp = iota
	AluOr
	AluAdc
	AluSbb
	AluAnd
	AluSub
	AluXor
	AluCmp
)

// ShiftOp selects the shift/rotate operation (ModR/M reg field 0-7).
type ShiftOp int

const (
	ShiftRol ShiftOp = iota
	ShiftRor
	ShiftRcl
	ShiftRcr
	ShiftShl
	ShiftShr
	ShiftShlAlias
	ShiftSar
)

// VecOp selects among a family of vector ops sharing one decode shape.
type VecOp int

const (
	VecAdd VecOp = iota
	VecSub
	VecMul
	VecDiv
	VecAnd
	VecOr
	VecXor
	VecMin
	VecMax
)

// CondCode is the 4-bit condition field for Jcc/SETcc/CMOVcc (spec
// §4.B x86Cond table, grounded on debug_disasm_x86.go's x86Cond).
type CondCode int

const (
	CondO CondCode = iota
	CondNO
	CondB
	CondNB
	CondZ
	CondNZ
	CondBE
	CondA
	CondS
	CondNS
	CondP
	CondNP
	CondL
	CondGE
	CondLE
	CondG
)
