package decode

// tableEntry is one row of the opcode table: spec §9's redesign note
// calls for collapsing "deep inheritance among IR-op handlers" into a
// data table (one row per opcode with function pointer + masks); here
// the decoder's half of that table carries just enough to finish
// decoding and hand lift a typed token, while lift's own table (see
// internal/lift/table.go) carries the actual semantic function.
//
// Grounded on cpu_x86.go's baseOps/extendedOps [256]func(*CPU_X86)
// arrays: same "one array slot per opcode byte" shape, generalized
// here to carry decode metadata instead of an executable closure.
type tableEntry struct {
	id       OpcodeID
	aux      int // AluOp / ShiftOp / CondCode / VecOp, meaning depends on id
	hasModRM bool
	immBytes int // 0 = none, -1 = operand-size dependent, -2 = rel8, -3 = rel32
	regSize  bool

	// regInOpcode: the operand register is the low 3 bits of the
	// opcode byte itself (the "+r" forms: B0+r/B8+r, 50+r/58+r,
	// 40+r/48+r), extended by REX.B exactly like a ModR/M rm field.
	// The decoder synthesizes Operands[0] from this instead of reading
	// a ModR/M byte.
	regInOpcode bool

	// vexVVVV: the VEX-encoded form of this opcode names a first source
	// register in the prefix's vvvv field (the 3-operand AVX shape).
	// Entries without it require vvvv == 1111b, which Decode enforces
	// (spec §4.B tie-breaks / §4.C "VEX.vvvv must equal 1111b for
	// instructions that do not use it").
	vexVVVV bool
}

var baseTable [256]tableEntry
var ext0FTable [256]tableEntry

func init() {
	b := func(op byte, e tableEntry) { baseTable[op] = e }
	x := func(op byte, e tableEntry) { ext0FTable[op] = e }

	// MOV
	b(0x88, tableEntry{id: OpMovRMReg, hasModRM: true})
	b(0x89, tableEntry{id: OpMovRMReg, hasModRM: true, regSize: true})
	b(0x8A, tableEntry{id: OpMovRegRM, hasModRM: true})
	b(0x8B, tableEntry{id: OpMovRegRM, hasModRM: true, regSize: true})
	b(0x8D, tableEntry{id: OpLea, hasModRM: true, regSize: true})
	for r := byte(0); r < 8; r++ {
		b(0xB0+r, tableEntry{id: OpMovRegImm, immBytes: 1, regInOpcode: true, aux: int(r)})
		b(0xB8+r, tableEntry{id: OpMovRegImm, immBytes: -1, regInOpcode: true, aux: int(r), regSize: true})
	}
	b(0xC6, tableEntry{id: OpMovRMImm, hasModRM: true, immBytes: 1})
	b(0xC7, tableEntry{id: OpMovRMImm, hasModRM: true, immBytes: -1, regSize: true})

	// PUSH/POP
	for r := byte(0); r < 8; r++ {
		b(0x50+r, tableEntry{id: OpPush, regInOpcode: true, aux: int(r), regSize: true})
		b(0x58+r, tableEntry{id: OpPop, regInOpcode: true, aux: int(r), regSize: true})
	}
	b(0x68, tableEntry{id: OpPush, immBytes: -1})
	b(0x6A, tableEntry{id: OpPush, immBytes: 1})

	// XCHG
	b(0x86, tableEntry{id: OpXchg, hasModRM: true})
	b(0x87, tableEntry{id: OpXchg, hasModRM: true, regSize: true})

	// ALU group: rows 0x00-0x3D, 8 ops * (RM,reg)(reg,RM)(AL,imm)(eAX,imm) + two opcode-gap rows for ES/CS etc (skipped, segment push/pop not modeled)
	aluBases := []byte{0x00, 0x08, 0x10, 0x18, 0x20, 0x28, 0x30, 0x38}
	for i, base := range aluBases {
		op := AluOp(i)
		b(base+0x00, tableEntry{id: OpAluRMReg, hasModRM: true, aux: int(op)})
		b(base+0x01, tableEntry{id: OpAluRMReg, hasModRM: true, aux: int(op), regSize: true})
		b(base+0x02, tableEntry{id: OpAluRegRM, hasModRM: true, aux: int(op)})
		b(base+0x03, tableEntry{id: OpAluRegRM, hasModRM: true, aux: int(op), regSize: true})
		b(base+0x04, tableEntry{id: OpAluALImm, aux: int(op), immBytes: 1})
		b(base+0x05, tableEntry{id: OpAluALImm, aux: int(op), immBytes: -1, regSize: true})
	}
	b(0x80, tableEntry{id: OpAluRMImm, hasModRM: true, immBytes: 1})
	b(0x81, tableEntry{id: OpAluRMImm, hasModRM: true, immBytes: -1, regSize: true})
	b(0x83, tableEntry{id: OpAluRMImm, hasModRM: true, immBytes: 1, regSize: true}) // sign-extended imm8

	// INC/DEC (32-bit-only opcode forms; 64-bit mode reuses these bytes as REX, so the decoder's prefix loop consumes them first)
	for r := byte(0); r < 8; r++ {
		b(0x40+r, tableEntry{id: OpInc, regInOpcode: true, aux: int(r), regSize: true})
		b(0x48+r, tableEntry{id: OpDec, regInOpcode: true, aux: int(r), regSize: true})
	}

	// TEST
	b(0x84, tableEntry{id: OpTestRMReg, hasModRM: true})
	b(0x85, tableEntry{id: OpTestRMReg, hasModRM: true, regSize: true})
	b(0xA8, tableEntry{id: OpAluALImm, aux: -1, immBytes: 1}) // TEST AL, imm8
	b(0xA9, tableEntry{id: OpAluALImm, aux: -1, immBytes: -1, regSize: true})

	// Shift group D0-D3/C0-C1 (ModR/M reg field selects ShiftOp)
	b(0xC0, tableEntry{id: OpShiftRMImm, hasModRM: true, immBytes: 1})
	b(0xC1, tableEntry{id: OpShiftRMImm, hasModRM: true, immBytes: 1, regSize: true})
	b(0xD0, tableEntry{id: OpShiftRM1, hasModRM: true})
	b(0xD1, tableEntry{id: OpShiftRM1, hasModRM: true, regSize: true})
	b(0xD2, tableEntry{id: OpShiftRMCL, hasModRM: true})
	b(0xD3, tableEntry{id: OpShiftRMCL, hasModRM: true, regSize: true})

	// Group 3 (TEST/NOT/NEG/MUL/IMUL/DIV/IDIV), reg field selects operation.
	b(0xF6, tableEntry{id: OpGrp3, hasModRM: true})
	b(0xF7, tableEntry{id: OpGrp3, hasModRM: true, regSize: true})

	// IMUL r, r/m, imm
	b(0x69, tableEntry{id: OpImulRMImm, hasModRM: true, immBytes: -1, regSize: true})
	b(0x6B, tableEntry{id: OpImulRMImm, hasModRM: true, immBytes: 1, regSize: true})

	// Control flow
	for c := byte(0); c < 16; c++ {
		b(0x70+c, tableEntry{id: OpJccRel8, aux: int(c), immBytes: -2})
		x(0x80+c, tableEntry{id: OpJccRel32, aux: int(c), immBytes: -3})
	}
	b(0xEB, tableEntry{id: OpJmpRel8, immBytes: -2})
	b(0xE9, tableEntry{id: OpJmpRel32, immBytes: -3})
	b(0xE8, tableEntry{id: OpCallRel32, immBytes: -3})
	b(0xC3, tableEntry{id: OpRetNear})
	b(0xC2, tableEntry{id: OpRetNearImm, immBytes: 2})
	b(0xE2, tableEntry{id: OpLoop, immBytes: -2})
	b(0xCC, tableEntry{id: OpInt3})
	b(0xF4, tableEntry{id: OpHlt})
	b(0x90, tableEntry{id: OpNop})

	// Group F6/F7 selects among these via reg field, but FF also hosts
	// INC/DEC/CALL/JMP/PUSH in 64-bit mode (where 0x40-0x4F are REX).
	b(0xFE, tableEntry{id: OpGrp3, hasModRM: true, aux: 0xFE})
	b(0xFF, tableEntry{id: OpGrp3, hasModRM: true, aux: 0xFF, regSize: true})

	// String ops
	b(0xA4, tableEntry{id: OpMovs})
	b(0xA5, tableEntry{id: OpMovs, regSize: true})
	b(0xAA, tableEntry{id: OpStos})
	b(0xAB, tableEntry{id: OpStos, regSize: true})
	b(0xA6, tableEntry{id: OpCmps})
	b(0xA7, tableEntry{id: OpCmps, regSize: true})
	b(0xAE, tableEntry{id: OpScas})
	b(0xAF, tableEntry{id: OpScas, regSize: true})
	b(0xAC, tableEntry{id: OpLods})
	b(0xAD, tableEntry{id: OpLods, regSize: true})

	// 0F-prefixed
	x(0x05, tableEntry{id: OpSyscall})
	x(0xA2, tableEntry{id: OpCpuid})
	x(0xB0, tableEntry{id: OpCmpxchg, hasModRM: true})
	x(0xB1, tableEntry{id: OpCmpxchg, hasModRM: true, regSize: true})
	x(0xC7, tableEntry{id: OpCmpxchg8b16b, hasModRM: true, regSize: true, aux: 1})
	x(0xB6, tableEntry{id: OpMovzx, hasModRM: true, aux: 1})
	x(0xB7, tableEntry{id: OpMovzx, hasModRM: true, aux: 2})
	x(0xBE, tableEntry{id: OpMovsx, hasModRM: true, aux: 1})
	x(0xBF, tableEntry{id: OpMovsx, hasModRM: true, aux: 2})
	x(0xC0, tableEntry{id: OpXaddRMReg, hasModRM: true})
	x(0xC1, tableEntry{id: OpXaddRMReg, hasModRM: true, regSize: true})

	// Vector / SSE subset (legacy-encoded forms; VEX forms share these
	// IDs and are distinguished at lift time via DecodedOp.Prefixes.VEX)
	x(0x28, tableEntry{id: OpMovaps, hasModRM: true})
	x(0x29, tableEntry{id: OpMovaps, hasModRM: true, aux: 1}) // store form
	x(0x10, tableEntry{id: OpMovups, hasModRM: true})
	x(0x11, tableEntry{id: OpMovups, hasModRM: true, aux: 1})
	x(0x6F, tableEntry{id: OpMovdqa, hasModRM: true})
	x(0x7F, tableEntry{id: OpMovdqa, hasModRM: true, aux: 1})
	x(0x58, tableEntry{id: OpAddpsScalarOrPacked, hasModRM: true, aux: int(VecAdd), vexVVVV: true})
	x(0x59, tableEntry{id: OpAddpsScalarOrPacked, hasModRM: true, aux: int(VecMul), vexVVVV: true})
	x(0x5C, tableEntry{id: OpAddpsScalarOrPacked, hasModRM: true, aux: int(VecSub), vexVVVV: true})
	x(0x5E, tableEntry{id: OpAddpsScalarOrPacked, hasModRM: true, aux: int(VecDiv), vexVVVV: true})
	x(0x5D, tableEntry{id: OpMinMaxPS, hasModRM: true, aux: int(VecMin), vexVVVV: true})
	x(0x5F, tableEntry{id: OpMinMaxPS, hasModRM: true, aux: int(VecMax), vexVVVV: true})
	x(0xEF, tableEntry{id: OpPxorPandPor, hasModRM: true, aux: int(VecXor), vexVVVV: true})
	x(0xDB, tableEntry{id: OpPxorPandPor, hasModRM: true, aux: int(VecAnd), vexVVVV: true})
	x(0xEB, tableEntry{id: OpPxorPandPor, hasModRM: true, aux: int(VecOr), vexVVVV: true})
	x(0x50, tableEntry{id: OpMovmsk, hasModRM: true})
	x(0xD7, tableEntry{id: OpMovmsk, hasModRM: true, aux: 1}) // PMOVMSKB
	x(0x70, tableEntry{id: OpPshufd, hasModRM: true, immBytes: 1})
	x(0xC6, tableEntry{id: OpShufps, hasModRM: true, immBytes: 1, vexVVVV: true})
	x(0x63, tableEntry{id: OpPackSat, hasModRM: true, aux: 0, vexVVVV: true}) // PACKSSWB
	x(0x67, tableEntry{id: OpPackSat, hasModRM: true, aux: 1, vexVVVV: true}) // PACKUSWB
	x(0x6B, tableEntry{id: OpPackSat, hasModRM: true, aux: 2, vexVVVV: true}) // PACKSSDW

	// 0F38 map stored in ext38Table; only PSHUFB modeled.
	ext38Table[0x00] = tableEntry{id: OpPshufb, hasModRM: true, vexVVVV: true}
	// 0F3A map: PCMPESTRI
	ext3ATable[0x61] = tableEntry{id: OpPcmpestri, hasModRM: true, immBytes: 1}
}

var ext38Table [256]tableEntry
var ext3ATable [256]tableEntry

// TableStats reports how many opcode-table slots are populated versus
// reserved across the four maps, so tooling can surface the current
// coverage instead of silently truncating it.
func TableStats() (populated, total int) {
	for _, tbl := range [][256]tableEntry{baseTable, ext0FTable, ext38Table, ext3ATable} {
		for _, e := range tbl {
			total++
			if e.id != OpInvalid {
				populated++
			}
		}
	}
	return populated, total
}
