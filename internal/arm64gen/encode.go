package arm64gen

// This file hand-encodes the subset of the AArch64 A64 instruction set
// internal/lift's IR actually needs (scalar ALU, loads/stores,
// branches, and the NEON vector forms spec §4.C's opcode-coverage
// slice exercises). Each function returns one 32-bit little-endian
// instruction word, the same "one function per instruction word"
// shape as assembler/ie64asm.go's per-mnemonic encoders, just against
// the real AArch64 encoding tables (ARM DDI 0487) instead of IE64's.

// sf returns the size bit: 1 selects the 64-bit (X) form, 0 the 32-bit
// (W) form, matching A64's sf field convention used by nearly every
// data-processing encoding.
func sf(is64 bool) uint32 {
	if is64 {
		return 1
	}
	return 0
}

// --- Data-processing (register) ---

// encodeAddSubReg encodes ADD/SUB/ADDS/SUBS (shifted register, shift
// amount 0), C4.1.64.
func encodeAddSubReg(is64 bool, sub, setFlags bool, rd, rn, rm uint32) uint32 {
	var op, s uint32
	if sub {
		op = 1
	}
	if setFlags {
		s = 1
	}
	return sf(is64)<<31 | op<<30 | s<<29 | 0b01011<<24 | rm<<16 | rn<<5 | rd
}

func EncodeADD(is64 bool, rd, rn, rm uint32) uint32 {
	return encodeAddSubReg(is64, false, false, rd, rn, rm)
}
func EncodeSUB(is64 bool, rd, rn, rm uint32) uint32 {
	return encodeAddSubReg(is64, true, false, rd, rn, rm)
}
func EncodeSUBS(is64 bool, rd, rn, rm uint32) uint32 {
	return encodeAddSubReg(is64, true, true, rd, rn, rm)
}

// EncodeCMP is the SUBS Xzr,Xn,Xm alias (destination discarded).
func EncodeCMP(is64 bool, rn, rm uint32) uint32 { return EncodeSUBS(is64, 31, rn, rm) }

// encodeLogicalReg encodes AND/ORR/EOR (shifted register, shift 0),
// C4.1.67. opc: 0=AND, 1=ORR, 2=EOR.
func encodeLogicalReg(is64 bool, opc, rd, rn, rm uint32) uint32 {
	return sf(is64)<<31 | opc<<29 | 0b01010<<24 | rm<<16 | rn<<5 | rd
}

func EncodeAND(is64 bool, rd, rn, rm uint32) uint32 { return encodeLogicalReg(is64, 0, rd, rn, rm) }
func EncodeORR(is64 bool, rd, rn, rm uint32) uint32 { return encodeLogicalReg(is64, 1, rd, rn, rm) }
func EncodeEOR(is64 bool, rd, rn, rm uint32) uint32 { return encodeLogicalReg(is64, 2, rd, rn, rm) }

// EncodeMVN is ORN Rd, RZR, Rm with the invert bit set (N=1 on the ORR
// encoding), i.e. bitwise NOT.
func EncodeMVN(is64 bool, rd, rm uint32) uint32 {
	return sf(is64)<<31 | 1<<29 | 0b01010<<24 | 1<<21 | rm<<16 | 31<<5 | rd
}

// --- Shifts (register form, via the two-register variable-shift
// encodings: LSLV/LSRV/ASRV under the data-processing-2-source map) ---

func encodeShiftVar(is64 bool, opcode2 uint32, rd, rn, rm uint32) uint32 {
	return sf(is64)<<31 | 0b11010110<<21 | rm<<16 | opcode2<<10 | rn<<5 | rd
}

func EncodeLSLV(is64 bool, rd, rn, rm uint32) uint32 {
	return encodeShiftVar(is64, 0b001000, rd, rn, rm)
}
func EncodeLSRV(is64 bool, rd, rn, rm uint32) uint32 {
	return encodeShiftVar(is64, 0b001001, rd, rn, rm)
}
func EncodeASRV(is64 bool, rd, rn, rm uint32) uint32 {
	return encodeShiftVar(is64, 0b001010, rd, rn, rm)
}
func EncodeRORV(is64 bool, rd, rn, rm uint32) uint32 {
	return encodeShiftVar(is64, 0b001011, rd, rn, rm)
}

// --- Multiply / divide (data-processing-3-source / 2-source) ---

// EncodeMUL is MADD Rd, Rn, Rm, RZR.
func EncodeMUL(is64 bool, rd, rn, rm uint32) uint32 {
	return sf(is64)<<31 | 0b11011<<24 | rm<<16 | 31<<10 | rn<<5 | rd
}

func EncodeUMULH(rd, rn, rm uint32) uint32 {
	return 1<<31 | 0b11011<<24 | 0b110<<21 | rm<<16 | 31<<10 | rn<<5 | rd
}

func EncodeSMULH(rd, rn, rm uint32) uint32 {
	return 1<<31 | 0b11011<<24 | 0b010<<21 | rm<<16 | 31<<10 | rn<<5 | rd
}

func encodeDiv(is64 bool, signed bool, rd, rn, rm uint32) uint32 {
	var o1 uint32
	if signed {
		o1 = 1
	}
	return sf(is64)<<31 | 0b11010110<<21 | rm<<16 | 0b00001<<11 | o1<<10 | rn<<5 | rd
}

func EncodeUDIV(is64 bool, rd, rn, rm uint32) uint32 { return encodeDiv(is64, false, rd, rn, rm) }
func EncodeSDIV(is64 bool, rd, rn, rm uint32) uint32 { return encodeDiv(is64, true, rd, rn, rm) }

// --- Move wide immediate (MOVZ/MOVK/MOVN), C4.1.69 ---

func encodeMoveWide(is64 bool, opc uint32, rd uint32, imm16 uint16, shift uint32) uint32 {
	return sf(is64)<<31 | opc<<29 | 0b100101<<23 | (shift/16)<<21 | uint32(imm16)<<5 | rd
}

func EncodeMOVZ(is64 bool, rd uint32, imm16 uint16, shift uint32) uint32 {
	return encodeMoveWide(is64, 0b10, rd, imm16, shift)
}
func EncodeMOVK(is64 bool, rd uint32, imm16 uint16, shift uint32) uint32 {
	return encodeMoveWide(is64, 0b11, rd, imm16, shift)
}
func EncodeMOVN(is64 bool, rd uint32, imm16 uint16, shift uint32) uint32 {
	return encodeMoveWide(is64, 0b00, rd, imm16, shift)
}

// --- Loads/stores (unsigned immediate offset, scaled), C4.1.66 ---

// size: 0=byte,1=halfword,2=word,3=doubleword. opc: 0=STR, 1=LDR.
// v selects the SIMD&FP register file (the 128-bit Q forms, which
// encode size=00 with opc's high bit set).
func encodeLoadStoreImm(size, v, opc, rt, rn uint32, immOffsetScaled uint32) uint32 {
	return size<<30 | 0b111<<27 | v<<26 | 0b01<<24 | opc<<22 | immOffsetScaled<<10 | rn<<5 | rt
}

func sizeBitsFor(bytes uint8) uint32 {
	switch bytes {
	case 1:
		return 0
	case 2:
		return 1
	case 4:
		return 2
	default:
		return 3
	}
}

// EncodeLDR emits LDR Rt, [Rn, #imm] with imm a byte offset that must
// be a multiple of the access size (the AOT/interpreter callers of
// this package only ever construct naturally-aligned CPU-state and
// spill-slot offsets).
func EncodeLDR(elemBytes uint8, rt, rn uint32, byteOffset uint32) uint32 {
	if elemBytes == 16 {
		return encodeLoadStoreImm(0, 1, 0b11, rt, rn, byteOffset/16)
	}
	sz := sizeBitsFor(elemBytes)
	return encodeLoadStoreImm(sz, 0, 1, rt, rn, byteOffset/uint32(elemBytes))
}

func EncodeSTR(elemBytes uint8, rt, rn uint32, byteOffset uint32) uint32 {
	if elemBytes == 16 {
		return encodeLoadStoreImm(0, 1, 0b10, rt, rn, byteOffset/16)
	}
	sz := sizeBitsFor(elemBytes)
	return encodeLoadStoreImm(sz, 0, 0, rt, rn, byteOffset/uint32(elemBytes))
}

// --- Branches ---

// EncodeB encodes an unconditional branch with a pre-computed
// instruction-count offset (imm26, signed, counted in 4-byte words).
func EncodeB(imm26 int32) uint32 {
	return 0b000101<<26 | uint32(imm26)&0x03FFFFFF
}

func EncodeBL(imm26 int32) uint32 {
	return 1<<31 | 0b00101<<26 | uint32(imm26)&0x03FFFFFF
}

// EncodeBR/EncodeRET encode indirect branch to a register. Every block
// exit ends in BR RegDispatcher (see emitExit), including ExitIndirect,
// whose guest target is stored into the RIP slot first; generated code
// never returns through a call frame (spec §4.F).
func EncodeBR(rn uint32) uint32  { return 0xD61F0000 | rn<<5 }
func EncodeRET(rn uint32) uint32 { return 0xD65F0000 | rn<<5 }

// EncodeBCond encodes B.cond with a pre-computed imm19 word offset.
func EncodeBCond(cond uint32, imm19 int32) uint32 {
	return 0b0101010_0<<24 | (uint32(imm19)&0x7FFFF)<<5 | cond
}

// EncodeCSET is CSINC Rd, RZR, RZR, invert(cond) — the standard
// "materialize a condition as 0/1" alias used to lower
// ir.OpMaterializeFlag.
func EncodeCSET(is64 bool, rd, cond uint32) uint32 {
	invCond := cond ^ 1
	return sf(is64)<<31 | 0b11010100<<21 | 31<<16 | invCond<<12 | 0b01<<10 | 31<<5 | rd
}

// --- NEON vector (three-same, 128-bit), C7.2 ---

// encodeAdvSIMD3Same encodes the "three same" class (ADD/SUB/AND/ORR/
// EOR/SMIN/SMAX/UMIN/UMAX element-wise forms). size: 00=8-bit,
// 01=16-bit, 10=32-bit, 11=64-bit lanes. Q=1 selects the full 128-bit
// (16/8/4/2-lane) form used throughout this core (spec §3: XMM/YMM
// lanes are never narrower than the full register).
func encodeAdvSIMD3Same(u, size, opcode, rd, rn, rm uint32) uint32 {
	const q = 1
	return q<<30 | u<<29 | 0b01110<<24 | size<<22 | 1<<21 | rm<<16 | opcode<<11 | 1<<10 | rn<<5 | rd
}

func EncodeVecADD(elemBytes uint8, rd, rn, rm uint32) uint32 {
	return encodeAdvSIMD3Same(0, elemSizeBits(elemBytes), 0b10000, rd, rn, rm)
}
func EncodeVecSUB(elemBytes uint8, rd, rn, rm uint32) uint32 {
	return encodeAdvSIMD3Same(1, elemSizeBits(elemBytes), 0b10000, rd, rn, rm)
}
func EncodeVecAND(rd, rn, rm uint32) uint32 { return encodeAdvSIMD3Same(0, 0b00, 0b00011, rd, rn, rm) }
func EncodeVecORR(rd, rn, rm uint32) uint32 { return encodeAdvSIMD3Same(0, 0b10, 0b00011, rd, rn, rm) }
func EncodeVecEOR(rd, rn, rm uint32) uint32 { return encodeAdvSIMD3Same(1, 0b00, 0b00011, rd, rn, rm) }

func EncodeVecSMIN(elemBytes uint8, rd, rn, rm uint32) uint32 {
	return encodeAdvSIMD3Same(0, elemSizeBits(elemBytes), 0b01101, rd, rn, rm)
}
func EncodeVecSMAX(elemBytes uint8, rd, rn, rm uint32) uint32 {
	return encodeAdvSIMD3Same(0, elemSizeBits(elemBytes), 0b01100, rd, rn, rm)
}
func EncodeVecUMIN(elemBytes uint8, rd, rn, rm uint32) uint32 {
	return encodeAdvSIMD3Same(1, elemSizeBits(elemBytes), 0b01101, rd, rn, rm)
}
func EncodeVecUMAX(elemBytes uint8, rd, rn, rm uint32) uint32 {
	return encodeAdvSIMD3Same(1, elemSizeBits(elemBytes), 0b01100, rd, rn, rm)
}

func elemSizeBits(bytes uint8) uint32 {
	switch bytes {
	case 1:
		return 0b00
	case 2:
		return 0b01
	case 4:
		return 0b10
	default:
		return 0b11
	}
}

// EncodeMOVPRFX encodes SVE MOVPRFX Zd, Zn (unpredicated movprfx,
// C7.2.146), used to split a destination from a source register
// before an SVE predicated op so the op itself can be expressed as a
// two-operand instruction (spec §4.E "256-bit AVX operations on
// SVE256: use MOVPRFX to split destination from source").
func EncodeMOVPRFX(zd, zn uint32) uint32 {
	return 0b0000010000100000<<16 | 0b101111<<10 | zn<<5 | zd
}

// EncodeFCSEL encodes the scalar floating-point conditional select,
// C7.2.41, used for the FCMP+FCSEL float min/max fallback (spec §4.E)
// when FEAT_AFP is absent. ftype: 0=single, 1=double.
func EncodeFCSEL(ftype, rd, rn, rm, cond uint32) uint32 {
	return 0b00011110<<24 | ftype<<22 | 1<<21 | rm<<16 | cond<<12 | 0b11<<10 | rn<<5 | rd
}

func EncodeFCMP(ftype, rn, rm uint32) uint32 {
	return 0b00011110<<24 | ftype<<22 | 1<<21 | rm<<16 | 0b001000<<10 | rn<<5
}

// EncodeFMIN/EncodeFMAX encode the native AFP-matching scalar forms
// used when spec §4.E's AFP feature check passes.
func EncodeFMIN(ftype, rd, rn, rm uint32) uint32 {
	return 0b00011110<<24 | ftype<<22 | 1<<21 | rm<<16 | 0b010110<<10 | rn<<5 | rd
}
func EncodeFMAX(ftype, rd, rn, rm uint32) uint32 {
	return 0b00011110<<24 | ftype<<22 | 1<<21 | rm<<16 | 0b010010<<10 | rn<<5 | rd
}

func EncodeFDIV(ftype, rd, rn, rm uint32) uint32 {
	return 0b00011110<<24 | ftype<<22 | 1<<21 | rm<<16 | 0b000110<<10 | rn<<5 | rd
}

// Scalar float arithmetic (floating-point data-processing 2-source),
// lowered through the VFScalarOperation pattern so the scalar form's
// zeroing of the destination's upper bits never leaks into the guest
// register (see vfscalar.go).
func EncodeFADD(ftype, rd, rn, rm uint32) uint32 {
	return 0b00011110<<24 | ftype<<22 | 1<<21 | rm<<16 | 0b001010<<10 | rn<<5 | rd
}
func EncodeFSUB(ftype, rd, rn, rm uint32) uint32 {
	return 0b00011110<<24 | ftype<<22 | 1<<21 | rm<<16 | 0b001110<<10 | rn<<5 | rd
}
func EncodeFMUL(ftype, rd, rn, rm uint32) uint32 {
	return 0b00011110<<24 | ftype<<22 | 1<<21 | rm<<16 | 0b000010<<10 | rn<<5 | rd
}

// Packed float arithmetic (AdvSIMD three-same float forms, Q=1). The
// sz bit sits at position 22; FSUB and FMIN additionally set bit 23.
func EncodeVecFADD(elemBytes uint8, rd, rn, rm uint32) uint32 {
	return encodeAdvSIMD3Same(0, fpSizeBits(elemBytes, false), 0b11010, rd, rn, rm)
}
func EncodeVecFSUB(elemBytes uint8, rd, rn, rm uint32) uint32 {
	return encodeAdvSIMD3Same(0, fpSizeBits(elemBytes, true), 0b11010, rd, rn, rm)
}
func EncodeVecFMUL(elemBytes uint8, rd, rn, rm uint32) uint32 {
	return encodeAdvSIMD3Same(1, fpSizeBits(elemBytes, false), 0b11011, rd, rn, rm)
}
func EncodeVecFDIV(elemBytes uint8, rd, rn, rm uint32) uint32 {
	return encodeAdvSIMD3Same(1, fpSizeBits(elemBytes, false), 0b11111, rd, rn, rm)
}
func EncodeVecFMAX(elemBytes uint8, rd, rn, rm uint32) uint32 {
	return encodeAdvSIMD3Same(0, fpSizeBits(elemBytes, false), 0b11110, rd, rn, rm)
}
func EncodeVecFMIN(elemBytes uint8, rd, rn, rm uint32) uint32 {
	return encodeAdvSIMD3Same(0, fpSizeBits(elemBytes, true), 0b11110, rd, rn, rm)
}

// fpSizeBits builds the two-bit size field of the float three-same
// class: bit 22 is sz (single vs double), bit 23 distinguishes the
// FSUB/FMIN-family opcodes from their FADD/FMAX counterparts.
func fpSizeBits(elemBytes uint8, high bool) uint32 {
	var v uint32
	if elemBytes == 8 {
		v = 0b01
	}
	if high {
		v |= 0b10
	}
	return v
}
