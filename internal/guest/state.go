// Package guest owns everything that is "the guest's", as opposed to
// "the host's": per-thread architectural state and the guest virtual
// address space. See state.go for GuestCpuState and memory.go for the
// Guest Memory Manager.
package guest

// Flag bit positions within the decomposed EFLAGS fields below mirror
// cpu_x86.go's x86Flag* constants, but GuestCpuState stores each flag
// as its own byte rather than packed bits: the lifter reads/writes
// individual flags constantly and a packed register would cost a
// mask-and-shift on every access (see spec §3 "Individually decomposed
// EFLAGS").
type GuestCpuState struct {
	// General purpose registers. Index order matches the x86-64
	// encoding: RAX, RCX, RDX, RBX, RSP, RBP, RSI, RDI, R8-R15.
	// 32-bit guests only use the first 8.
	GPR [16]uint64

	// Vector registers, 256 bits each (low 128 = XMM, full = YMM).
	// Stored as 4 uint64 lanes, little-endian lane order.
	Vec [16][4]uint64

	// Legacy x87/MMX registers, 80 bits each, stored in 128-bit slots
	// (low 64 = mantissa+low exponent byte, high 16 bits = sign+exponent).
	FP [8][2]uint64

	// x87 state.
	FPTop uint8 // top-of-stack pointer, 3 bits
	FTW   uint16
	FCW   uint16

	// Decomposed EFLAGS. 0 or 1 valued.
	CF, PF, AF, ZF, SF, OF, DF byte
	// x87 condition code flags.
	C0, C1, C2, C3 byte

	// MXCSR: only rounding mode (bits 13-14) and FTZ (bit 15) are
	// interpreted, matching the system this was translated from (see
	// DESIGN.md, "MXCSR DAZ/mask/exception-flag bits"). DAZ, the
	// exception mask bits, and the exception flag bits are stored
	// verbatim on write and read back unchanged, but never consulted.
	MXCSR uint32

	FSBase uint64
	GSBase uint64

	RIP uint64

	Is32Bit bool
}

// RoundingMode extracts MXCSR's rounding-control field (bits 13-14).
type RoundingMode uint8

const (
	RoundNearestEven RoundingMode = 0
	RoundDown        RoundingMode = 1
	RoundUp          RoundingMode = 2
	RoundTowardZero  RoundingMode = 3
)

func (s *GuestCpuState) RoundingMode() RoundingMode {
	return RoundingMode((s.MXCSR >> 13) & 3)
}

// FlushToZero reports whether MXCSR.FTZ (bit 15) is set.
func (s *GuestCpuState) FlushToZero() bool {
	return s.MXCSR&(1<<15) != 0
}

// NumGPR returns how many general-purpose registers are architecturally
// visible: 8 for 32-bit guests, 16 for 64-bit.
func (s *GuestCpuState) NumGPR() int {
	if s.Is32Bit {
		return 8
	}
	return 16
}

// NumVec mirrors NumGPR for the vector register file.
func (s *GuestCpuState) NumVec() int {
	if s.Is32Bit {
		return 8
	}
	return 16
}

// EFLAGSWord packs the decomposed flags back into a single 32-bit
// EFLAGS value, for syscalls (sigreturn) and debugging that need the
// architectural register shape.
func (s *GuestCpuState) EFLAGSWord() uint32 {
	var v uint32
	v |= uint32(s.CF) << 0
	v |= 1 << 1 // reserved, always 1
	v |= uint32(s.PF) << 2
	v |= uint32(s.AF) << 4
	v |= uint32(s.ZF) << 6
	v |= uint32(s.SF) << 7
	v |= uint32(s.DF) << 10
	v |= uint32(s.OF) << 11
	return v
}

// SetEFLAGSWord decomposes a packed EFLAGS value into the individual
// fields. IF/TF/IOPL/NT/RF/VM/AC/VIF/VIP/ID are guest-architectural but
// not modeled by this core (ring-0-adjacent, out of scope per spec §1)
// and are discarded.
func (s *GuestCpuState) SetEFLAGSWord(v uint32) {
	s.CF = byte(v>>0) & 1
	s.PF = byte(v>>2) & 1
	s.AF = byte(v>>4) & 1
	s.ZF = byte(v>>6) & 1
	s.SF = byte(v>>7) & 1
	s.DF = byte(v>>10) & 1
	s.OF = byte(v>>11) & 1
}

// Reset restores power-on state: all GPRs/vectors zero, x87 stack
// empty, flags clear, FCW at its IEEE-default value.
func (s *GuestCpuState) Reset() {
	*s = GuestCpuState{
		FCW:     0x037F,
		MXCSR:   0x1F80,
		Is32Bit: s.Is32Bit,
	}
}
