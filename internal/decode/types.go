// Package decode implements the x86/x86-64 instruction stream decoder
// (spec §4.B): prefix loop, ModR/M+SIB, VEX/EVEX, and an opcode table
// that yields a handler token for internal/lift to act on.
//
// Grounded on debug_disasm_x86.go's ModR/M and SIB decoding (the same
// mod/reg/rm bit extraction, the same mod==0&&rm==5 direct-address
// special case and sibBase==5 special case), reworked from a
// string-emitting disassembler into a struct-emitting decoder, and on
// cpu_x86.go's prefix fields (prefixSeg/prefixRep/prefixOpSize/
// prefixAddrSize) which become DecodedOp.Prefixes here.
package decode

import "fmt"

// OperandKind discriminates how an Operand should be read/written.
type OperandKind uint8

const (
	OperandNone OperandKind = iota
	OperandReg
	OperandMem
	OperandImm
)

// RegClass distinguishes the register file an OperandReg indexes into.
type RegClass uint8

const (
	RegGPR RegClass = iota
	RegVec
	RegX87
	RegSeg
)

// Operand is one decoded operand (spec §4.B).
type Operand struct {
	Kind    OperandKind
	Class   RegClass
	Size    int // bytes: 1, 2, 4, 8, 16, 32
	Reg     int // register index, valid when Kind == OperandReg
	Base    int // memory base register index, -1 if none
	Index   int // memory index register index, -1 if none
	Scale   int // 1, 2, 4, or 8
	Disp    int64
	Segment int // segment override index, -1 if none
	Imm     int64
}

// VexInfo is the normalized extended-prefix record produced by
// decoding a VEX (C4/C5) or EVEX prefix (spec §4.B).
type VexInfo struct {
	Present    bool
	Is256      bool // L bit: 128 vs 256 (or 512 for EVEX, unused here)
	MapSelect  int  // 1 = 0F, 2 = 0F38, 3 = 0F3A
	VVVV       int  // source register encoded in the VEX prefix, 0-15
	W          bool
	PP         int // implied legacy prefix: 0=none,1=66,2=F3,3=F2
	IsEVEX     bool
	OpMaskReg  int  // EVEX aaa field
	ZeroMasked bool // EVEX z bit
}

// Prefixes holds every legacy/REX/VEX prefix state relevant to lifting.
type Prefixes struct {
	Lock       bool
	RepKind    int // 0 = none, 1 = REP/REPE, 2 = REPNE
	SegOver    int // -1 = none, else 0-5 per x86SegES..x86SegGS ordering
	OpSize66   bool
	AddrSize   bool
	REXPresent bool
	REXW       bool
	REXR       bool
	REXX       bool
	REXB       bool
	VEX        VexInfo
}

// DecodedOp is the result of decoding one instruction (spec §4.B).
type DecodedOp struct {
	OpcodeID    OpcodeID
	Mnemonic    string
	OperandSize int // 16, 32, or 64
	AddressSize int // 16, 32, or 64
	Prefixes    Prefixes
	Operands    [4]Operand
	NumOperands int
	Imm         int64
	Aux         int // AluOp/ShiftOp/CondCode/VecOp selector from the opcode table row
	StartIP     uint64
	Length      int
	NextIP      uint64
}

// DecodeError reports a malformed instruction stream (spec §7: inject
// SIGILL into the guest at the faulting RIP).
type DecodeError struct {
	Addr uint64
	Msg  string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error at 0x%x: %s", e.Addr, e.Msg)
}

// IllegalPrefixCombo is a DecodeError raised when a VEX prefix is
// preceded by LOCK/66/F2/F3 in the legacy prefix stream (spec §4.B
// "Tie-breaks").
func IllegalPrefixCombo(addr uint64) error {
	return &DecodeError{Addr: addr, Msg: "illegal prefix combination before VEX"}
}

// UnsupportedOpcodeError is raised for a recognized-but-unimplemented
// opcode (spec §7).
type UnsupportedOpcodeError struct {
	Addr   uint64
	Opcode []byte
}

func (e *UnsupportedOpcodeError) Error() string {
	return fmt.Sprintf("unsupported opcode at 0x%x: % x", e.Addr, e.Opcode)
}
