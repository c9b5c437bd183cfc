package dispatch

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/otterjit/otterjit/internal/guest"
	"github.com/otterjit/otterjit/internal/ir"
	"github.com/otterjit/otterjit/internal/lift"
)

// The interpreter backend evaluates a Block's register-allocated IR
// directly against GuestCpuState and the Guest Memory Manager. It is
// the reference implementation of every IR op's semantics (the JIT is
// tested against it), the only backend on non-ARM64 hosts, and the
// execution route for blocks whose IR needs runtime services the
// generated code cannot reach (see needsInterp).
//
// Grounded on cpu_x86_ops.go's direct-interpretation style: one case
// per operation, reading operand values, computing the x86 result,
// writing registers/flags in place — retargeted from raw opcode bytes
// to typed IR nodes.

type interpState struct {
	r *Runner
	t *Thread
	b *ir.Block

	// vals holds every node's 128-bit result, indexed by ir.Ref. GPR
	// values live in [0]; vector values use both lanes.
	vals [][2]uint64
}

func (r *Runner) interpret(t *Thread, b *ir.Block) error {
	s := &interpState{r: r, t: t, b: b, vals: make([][2]uint64, len(b.Nodes))}

	var evalErr error
	b.Walk(func(ref ir.Ref, n *ir.Node) {
		if evalErr != nil {
			return
		}
		evalErr = s.eval(ref, n)
	})
	if evalErr != nil {
		return evalErr
	}
	return s.applyExit()
}

func (s *interpState) applyExit() error {
	cpu := s.t.CPU
	e := s.b.Exit
	switch e.Kind {
	case ir.ExitUnconditional, ir.ExitSyscall, ir.ExitHalt:
		cpu.RIP = e.Target
	case ir.ExitFallthrough:
		cpu.RIP = e.Fallthrough
	case ir.ExitConditional:
		if s.vals[e.CondNode][0]&1 != 0 {
			cpu.RIP = e.Target
		} else {
			cpu.RIP = e.Fallthrough
		}
	case ir.ExitIndirect:
		cpu.RIP = s.vals[e.TargetNode][0]
	default:
		return fmt.Errorf("interp: block at 0x%x has no exit", s.b.StartRIP)
	}
	return nil
}

// widthMask returns the value mask for a 1/2/4/8-byte operation.
func widthMask(size uint8) uint64 {
	if size >= 8 || size == 0 {
		return ^uint64(0)
	}
	return (uint64(1) << (size * 8)) - 1
}

func signExtend(v uint64, size uint8) uint64 {
	switch size {
	case 1:
		return uint64(int64(int8(v)))
	case 2:
		return uint64(int64(int16(v)))
	case 4:
		return uint64(int64(int32(v)))
	}
	return v
}

// writeGPR applies x86 partial-register write semantics: 1- and
// 2-byte writes preserve the register's high bits, 4-byte writes zero
// them, 8-byte writes replace everything (spec §4.E "GPR-sized
// types").
func writeGPR(cpu *guest.GuestCpuState, idx int32, size uint8, v uint64) {
	switch size {
	case 1:
		cpu.GPR[idx] = cpu.GPR[idx]&^0xFF | v&0xFF
	case 2:
		cpu.GPR[idx] = cpu.GPR[idx]&^0xFFFF | v&0xFFFF
	case 4:
		cpu.GPR[idx] = v & 0xFFFFFFFF
	default:
		cpu.GPR[idx] = v
	}
}

func (s *interpState) eval(ref ir.Ref, n *ir.Node) error {
	cpu := s.t.CPU
	size := n.ElemSize
	mask := widthMask(size)

	arg := func(i int) uint64 { return s.vals[n.Args[i]][0] }

	switch n.Op {
	case ir.OpConst:
		s.vals[ref][0] = s.b.ConstValue(n)

	case ir.OpLoadReg:
		if n.Class == ir.ClassVec {
			s.vals[ref] = [2]uint64{cpu.Vec[n.Aux][0], cpu.Vec[n.Aux][1]}
			return nil
		}
		v := cpu.GPR[n.Aux] & mask
		if n.Signed {
			v = signExtend(v, size)
		}
		s.vals[ref][0] = v

	case ir.OpStoreReg:
		if n.Class == ir.ClassVec {
			v := s.vals[n.Args[0]]
			cpu.Vec[n.Aux][0], cpu.Vec[n.Aux][1] = v[0], v[1]
			return nil
		}
		writeGPR(cpu, n.Aux, size, arg(0))

	case ir.OpLoadMem:
		return s.loadMem(ref, n)

	case ir.OpStoreMem:
		return s.storeMem(n)

	case ir.OpLEA:
		s.vals[ref][0] = arg(0)

	case ir.OpAdd:
		s.vals[ref][0] = (arg(0) + arg(1)) & mask
	case ir.OpSub:
		s.vals[ref][0] = (arg(0) - arg(1)) & mask
	case ir.OpMul:
		s.vals[ref][0] = (arg(0) * arg(1)) & mask
	case ir.OpUMulH:
		hi, _ := bits.Mul64(arg(0), arg(1))
		s.vals[ref][0] = hi
	case ir.OpSMulH:
		// Signed high half from the unsigned one, the standard
		// two's-complement correction.
		hi, _ := bits.Mul64(arg(0), arg(1))
		if int64(arg(0)) < 0 {
			hi -= arg(1)
		}
		if int64(arg(1)) < 0 {
			hi -= arg(0)
		}
		s.vals[ref][0] = hi
	case ir.OpUDiv:
		if arg(1)&mask == 0 {
			return errGuestFPFault
		}
		s.vals[ref][0] = (arg(0) & mask) / (arg(1) & mask)
	case ir.OpSDiv:
		d := int64(signExtend(arg(1)&mask, size))
		if d == 0 {
			return errGuestFPFault
		}
		s.vals[ref][0] = uint64(int64(signExtend(arg(0)&mask, size))/d) & mask
	case ir.OpUMod:
		if arg(1)&mask == 0 {
			return errGuestFPFault
		}
		s.vals[ref][0] = (arg(0) & mask) % (arg(1) & mask)
	case ir.OpSMod:
		d := int64(signExtend(arg(1)&mask, size))
		if d == 0 {
			return errGuestFPFault
		}
		s.vals[ref][0] = uint64(int64(signExtend(arg(0)&mask, size))%d) & mask

	case ir.OpAnd:
		s.vals[ref][0] = arg(0) & arg(1) & mask
	case ir.OpOr:
		s.vals[ref][0] = (arg(0) | arg(1)) & mask
	case ir.OpXor:
		s.vals[ref][0] = (arg(0) ^ arg(1)) & mask
	case ir.OpNot:
		s.vals[ref][0] = ^arg(0) & mask
	case ir.OpNeg:
		s.vals[ref][0] = (-arg(0)) & mask

	case ir.OpShl, ir.OpShr, ir.OpSar, ir.OpRol, ir.OpRor:
		s.vals[ref][0] = shiftValue(n.Op, arg(0)&mask, arg(1), size)

	case ir.OpCmpEQ, ir.OpCmpNE, ir.OpCmpULT, ir.OpCmpULE, ir.OpCmpSLT, ir.OpCmpSLE:
		s.vals[ref][0] = compareValue(n.Op, arg(0)&mask, arg(1)&mask, size)

	case ir.OpDeferredFlags:
		s.materializeFlags(n)

	case ir.OpMaterializeFlag:
		s.vals[ref][0] = condValue(cpu, n.Aux)

	case ir.OpLoadFlag:
		s.vals[ref][0] = uint64(*flagByte(cpu, n.Aux))
	case ir.OpStoreFlag:
		*flagByte(cpu, n.Aux) = byte(arg(0) & 1)

	case ir.OpCallHelper:
		return s.callHelper(ref, n)

	case ir.OpCondBranch, ir.OpJump, ir.OpExitBlock:
		// Control flow is carried by the block's single Exit record.

	default:
		return s.evalVec(ref, n)
	}
	return nil
}

func (s *interpState) loadMem(ref ir.Ref, n *ir.Node) error {
	addr := s.vals[n.Args[0]][0]
	size := int(n.ElemSize)
	if n.Class == ir.ClassVec {
		size = 16
	}
	var buf [16]byte
	if err := s.r.Mem.ReadGuestBytes(addr, buf[:size]); err != nil {
		return err
	}
	if n.Class == ir.ClassVec {
		s.vals[ref][0] = binary.LittleEndian.Uint64(buf[0:])
		s.vals[ref][1] = binary.LittleEndian.Uint64(buf[8:])
		return nil
	}
	var v uint64
	for i := size - 1; i >= 0; i-- {
		v = v<<8 | uint64(buf[i])
	}
	if n.Signed {
		v = signExtend(v, n.ElemSize)
	}
	s.vals[ref][0] = v
	return nil
}

func (s *interpState) storeMem(n *ir.Node) error {
	addr := s.vals[n.Args[0]][0]
	v := s.vals[n.Args[1]]
	size := int(n.ElemSize)
	if n.Class == ir.ClassVec {
		size = 16
	}
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:], v[0])
	binary.LittleEndian.PutUint64(buf[8:], v[1])
	return s.r.Mem.WriteGuestBytes(addr, buf[:size])
}

// shiftValue applies the x86 shift/rotate count rules: the count is
// masked by 63 for 64-bit operands and 31 otherwise, and a masked
// count at or beyond the operand width shifts out to zero (or sign
// fill for SAR).
func shiftValue(op ir.Op, v, count uint64, size uint8) uint64 {
	bitsN := uint64(size) * 8
	if size >= 8 {
		count &= 63
	} else {
		count &= 31
	}
	mask := widthMask(size)

	switch op {
	case ir.OpShl:
		if count >= bitsN {
			return 0
		}
		return (v << count) & mask
	case ir.OpShr:
		if count >= bitsN {
			return 0
		}
		return v >> count
	case ir.OpSar:
		sv := int64(signExtend(v, size))
		if count >= bitsN {
			count = bitsN - 1
		}
		return uint64(sv>>count) & mask
	case ir.OpRol:
		c := count % bitsN
		return ((v << c) | (v >> (bitsN - c))) & mask
	case ir.OpRor:
		c := count % bitsN
		return ((v >> c) | (v << (bitsN - c))) & mask
	}
	return v
}

func compareValue(op ir.Op, a, b uint64, size uint8) uint64 {
	var r bool
	switch op {
	case ir.OpCmpEQ:
		r = a == b
	case ir.OpCmpNE:
		r = a != b
	case ir.OpCmpULT:
		r = a < b
	case ir.OpCmpULE:
		r = a <= b
	case ir.OpCmpSLT:
		r = int64(signExtend(a, size)) < int64(signExtend(b, size))
	case ir.OpCmpSLE:
		r = int64(signExtend(a, size)) <= int64(signExtend(b, size))
	}
	if r {
		return 1
	}
	return 0
}

func flagByte(cpu *guest.GuestCpuState, idx int32) *byte {
	switch idx {
	case 0:
		return &cpu.CF
	case 1:
		return &cpu.PF
	case 2:
		return &cpu.AF
	case 3:
		return &cpu.ZF
	case 4:
		return &cpu.SF
	case 5:
		return &cpu.OF
	}
	return &cpu.DF
}

func parity(v uint64) byte {
	return byte(1 - bits.OnesCount8(uint8(v))%2)
}

// materializeFlags expands a deferred-flags record into the concrete
// CF/PF/AF/ZF/SF/OF values for the recorded operation (spec §4.C
// "Flag lowering"). The interpreter materializes eagerly at the
// record's own position; that is an allowed refinement of the lazy
// contract since nothing between the record and its reader writes
// flags (a second arithmetic op would have replaced the record).
func (s *interpState) materializeFlags(n *ir.Node) {
	cpu := s.t.CPU
	size := n.ElemSize
	mask := widthMask(size)
	signBit := uint64(1) << (uint64(size)*8 - 1)

	result := s.vals[n.Args[0]][0] & mask
	lhs := s.vals[n.Args[1]][0] & mask
	rhs := s.vals[n.Args[2]][0] & mask

	cpu.ZF = b2i(result == 0)
	cpu.SF = b2i(result&signBit != 0)
	cpu.PF = parity(result)

	switch int(n.Aux) {
	case int(aluAdd), int(aluAdc):
		cpu.CF = b2i(result < lhs)
		cpu.OF = b2i((lhs^rhs^signBit)&(lhs^result)&signBit != 0)
		cpu.AF = b2i((lhs^rhs^result)&0x10 != 0)
	case int(aluSub), int(aluSbb), int(aluCmp):
		cpu.CF = b2i(lhs < rhs)
		cpu.OF = b2i((lhs^rhs)&(lhs^result)&signBit != 0)
		cpu.AF = b2i((lhs^rhs^result)&0x10 != 0)
	case int(aluAnd), int(aluOr), int(aluXor):
		cpu.CF, cpu.OF = 0, 0
		cpu.AF = 0
	default:
		// Shift-family record (the lifter tags these -2): CF/OF track
		// the shifted-out bit on real silicon; this record does not
		// carry the direction, so only the result-derived flags are
		// defined — the shifted-out bit falls under the "undefined"
		// latitude spec §4.C grants for flags the lifter marks so.
	}
}

// decode.AluOp values, restated locally: the interpreter switches on
// the deferred record's Aux without importing the decoder.
const (
	aluAdd = 0
	aluOr  = 1
	aluAdc = 2
	aluSbb = 3
	aluAnd = 4
	aluSub = 5
	aluXor = 6
	aluCmp = 7
)

func b2i(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// condValue evaluates an x86 condition code (Jcc nibble ordering)
// against the architectural flags.
func condValue(cpu *guest.GuestCpuState, cc int32) uint64 {
	var r bool
	switch cc {
	case 0:
		r = cpu.OF == 1
	case 1:
		r = cpu.OF == 0
	case 2:
		r = cpu.CF == 1
	case 3:
		r = cpu.CF == 0
	case 4:
		r = cpu.ZF == 1
	case 5:
		r = cpu.ZF == 0
	case 6:
		r = cpu.CF == 1 || cpu.ZF == 1
	case 7:
		r = cpu.CF == 0 && cpu.ZF == 0
	case 8:
		r = cpu.SF == 1
	case 9:
		r = cpu.SF == 0
	case 10:
		r = cpu.PF == 1
	case 11:
		r = cpu.PF == 0
	case 12:
		r = cpu.SF != cpu.OF
	case 13:
		r = cpu.SF == cpu.OF
	case 14:
		r = cpu.ZF == 1 || cpu.SF != cpu.OF
	case 15:
		r = cpu.ZF == 0 && cpu.SF == cpu.OF
	}
	if r {
		return 1
	}
	return 0
}

func (s *interpState) callHelper(ref ir.Ref, n *ir.Node) error {
	switch int(n.Aux) {
	case lift.HelperSyscall:
		// Performed by the run loop after the block exits (the block's
		// ExitSyscall kind is the marker), keeping the two backends'
		// division of labor identical.

	case lift.HelperTrap:
		s.t.RaiseSignal(sigTRAP)

	case lift.HelperCpuid:
		s.cpuid()

	case lift.HelperSelect:
		if s.vals[n.Args[0]][0]&1 != 0 {
			s.vals[ref][0] = s.vals[n.Args[1]][0]
		} else {
			s.vals[ref][0] = s.vals[n.Args[2]][0]
		}

	case lift.HelperMulUnsigned:
		return s.widenMul(n, false)
	case lift.HelperMulSigned:
		return s.widenMul(n, true)
	case lift.HelperDivUnsigned:
		return s.widenDiv(n, false)
	case lift.HelperDivSigned:
		return s.widenDiv(n, true)

	case lift.HelperCmpxchg16b:
		return s.cmpxchg16b(n)

	case lift.HelperStringOp:
		return s.stringOp(n)

	default:
		return fmt.Errorf("interp: unknown helper id %d", n.Aux)
	}
	return nil
}

// cpuid answers the leaves the translated guests this core targets
// actually probe: vendor, family/model, and the feature bits for the
// SSE generations the lifter implements.
func (s *interpState) cpuid() {
	cpu := s.t.CPU
	leaf := uint32(cpu.GPR[0])
	var eax, ebx, ecx, edx uint32
	switch leaf {
	case 0:
		eax = 1
		ebx, edx, ecx = 0x756E6547, 0x49656E69, 0x6C65746E // "GenuineIntel"
	case 1:
		eax = 0x000306A9                           // family 6, a generic model with full SSE4.2
		edx = 1<<25 | 1<<26 | 1<<23 | 1<<15 | 1<<8 // SSE, SSE2, MMX, CMOV, CMPXCHG8B
		ecx = 1<<0 | 1<<9 | 1<<19 | 1<<20 | 1<<13  // SSE3, SSSE3, SSE4.1, SSE4.2, CMPXCHG16B
	}
	writeGPR(cpu, 0, 4, uint64(eax))
	writeGPR(cpu, 3, 4, uint64(ebx))
	writeGPR(cpu, 1, 4, uint64(ecx))
	writeGPR(cpu, 2, 4, uint64(edx))
}

// widenMul implements one-operand MUL/IMUL: the product of the
// accumulator and the operand lands in the double-width register pair
// (AH:AL, DX:AX, EDX:EAX, RDX:RAX by operand size), with CF=OF set
// when the high half is significant.
func (s *interpState) widenMul(n *ir.Node, signed bool) error {
	cpu := s.t.CPU
	size := n.ElemSize
	mask := widthMask(size)
	a := cpu.GPR[0] & mask
	v := s.vals[n.Args[0]][0] & mask

	var lo, hi uint64
	if size >= 8 {
		if signed {
			h, l := bits.Mul64(a, v)
			if int64(a) < 0 {
				h -= v
			}
			if int64(v) < 0 {
				h -= a
			}
			hi, lo = h, l
		} else {
			hi, lo = bits.Mul64(a, v)
		}
	} else {
		var p uint64
		if signed {
			p = uint64(int64(signExtend(a, size)) * int64(signExtend(v, size)))
		} else {
			p = a * v
		}
		lo = p & mask
		hi = (p >> (uint(size) * 8)) & mask
	}

	if size == 1 {
		// AH:AL — both halves live in RAX.
		writeGPR(cpu, 0, 2, lo|hi<<8)
	} else {
		writeGPR(cpu, 0, size, lo)
		writeGPR(cpu, 2, size, hi)
	}

	overflow := hi != 0
	if signed {
		// Significant iff the high half is not the sign extension of
		// the low half.
		signFill := uint64(0)
		if lo&(uint64(1)<<(uint64(size)*8-1)) != 0 {
			signFill = mask
		}
		overflow = hi != signFill
	}
	cpu.CF = b2i(overflow)
	cpu.OF = cpu.CF
	return nil
}

// widenDiv implements one-operand DIV/IDIV against the double-width
// dividend register pair; a zero divisor or out-of-range quotient is
// the guest's #DE, surfaced as SIGFPE (spec §7 GuestFPException).
func (s *interpState) widenDiv(n *ir.Node, signed bool) error {
	cpu := s.t.CPU
	size := n.ElemSize
	mask := widthMask(size)
	v := s.vals[n.Args[0]][0] & mask
	if v == 0 {
		return errGuestFPFault
	}

	if size >= 8 {
		if signed {
			// Narrow path: only dividends whose high half sign-extends
			// the low half divide exactly in 64 bits; anything wider
			// overflows the quotient anyway.
			num := int64(cpu.GPR[0])
			if cpu.GPR[2] != uint64(num>>63) {
				return errGuestFPFault
			}
			d := int64(v)
			q, rem := num/d, num%d
			cpu.GPR[0], cpu.GPR[2] = uint64(q), uint64(rem)
			return nil
		}
		if cpu.GPR[2] >= v {
			return errGuestFPFault // quotient would not fit
		}
		q, rem := bits.Div64(cpu.GPR[2], cpu.GPR[0], v)
		cpu.GPR[0], cpu.GPR[2] = q, rem
		return nil
	}

	shift := uint(size) * 8
	var num uint64
	if size == 1 {
		num = cpu.GPR[0] & 0xFFFF // AX
	} else {
		num = (cpu.GPR[2]&mask)<<shift | cpu.GPR[0]&mask
	}

	var q, rem uint64
	if signed {
		sn := int64(signExtend(num, size*2))
		d := int64(signExtend(v, size))
		sq := sn / d
		if sq > int64(mask>>1) || sq < -int64(mask>>1)-1 {
			return errGuestFPFault
		}
		q = uint64(sq) & mask
		rem = uint64(sn%d) & mask
	} else {
		q, rem = num/v, num%v
		if q > mask {
			return errGuestFPFault
		}
	}

	if size == 1 {
		writeGPR(cpu, 0, 2, q|rem<<8) // AL=quotient, AH=remainder
	} else {
		writeGPR(cpu, 0, size, q)
		writeGPR(cpu, 2, size, rem)
	}
	return nil
}

// cmpxchg16b performs the 128-bit compare-and-swap under a process
// lock so that of two racing guest threads exactly one observes
// success (spec §8 scenario 5). The JIT backend would use an
// LDXP/STXP loop for the same guarantee.
func (s *interpState) cmpxchg16b(n *ir.Node) error {
	cpu := s.t.CPU
	addr := s.vals[n.Args[0]][0]

	s.r.cas16Mu.Lock()
	defer s.r.cas16Mu.Unlock()

	var buf [16]byte
	if err := s.r.Mem.ReadGuestBytes(addr, buf[:]); err != nil {
		return err
	}
	lo := binary.LittleEndian.Uint64(buf[0:])
	hi := binary.LittleEndian.Uint64(buf[8:])

	if lo == cpu.GPR[0] && hi == cpu.GPR[2] { // RDX:RAX matches
		binary.LittleEndian.PutUint64(buf[0:], cpu.GPR[3]) // RBX
		binary.LittleEndian.PutUint64(buf[8:], cpu.GPR[1]) // RCX
		if err := s.r.Mem.WriteGuestBytes(addr, buf[:]); err != nil {
			return err
		}
		cpu.ZF = 1
		return nil
	}
	cpu.GPR[0], cpu.GPR[2] = lo, hi
	cpu.ZF = 0
	return nil
}

// stringOp runs MOVS/STOS/CMPS/SCAS/LODS natively, honoring DF and,
// for REP-prefixed forms, RCX (spec §4.C's note that a REP loop has
// no static bound and so never unrolls into IR).
func (s *interpState) stringOp(n *ir.Node) error {
	cpu := s.t.CPU
	width := uint64(n.ElemSize)
	kind := int(n.ConstIdx)
	repe := n.Saturating // REP/REPE
	repne := n.Signed    // REPNE

	step := width
	if cpu.DF != 0 {
		step = -width
	}

	once := !repe && !repne
	for {
		if (repe || repne) && cpu.GPR[1] == 0 { // RCX exhausted
			return nil
		}

		var src, dst [8]byte
		switch kind {
		case 0: // MOVS
			if err := s.r.Mem.ReadGuestBytes(cpu.GPR[6], src[:width]); err != nil {
				return err
			}
			if err := s.r.Mem.WriteGuestBytes(cpu.GPR[7], src[:width]); err != nil {
				return err
			}
			cpu.GPR[6] += step
			cpu.GPR[7] += step
		case 1: // STOS
			binary.LittleEndian.PutUint64(src[:], cpu.GPR[0])
			if err := s.r.Mem.WriteGuestBytes(cpu.GPR[7], src[:width]); err != nil {
				return err
			}
			cpu.GPR[7] += step
		case 2: // CMPS
			if err := s.r.Mem.ReadGuestBytes(cpu.GPR[6], src[:width]); err != nil {
				return err
			}
			if err := s.r.Mem.ReadGuestBytes(cpu.GPR[7], dst[:width]); err != nil {
				return err
			}
			s.compareFlags(leUint(src[:width]), leUint(dst[:width]), n.ElemSize)
			cpu.GPR[6] += step
			cpu.GPR[7] += step
		case 3: // SCAS
			if err := s.r.Mem.ReadGuestBytes(cpu.GPR[7], dst[:width]); err != nil {
				return err
			}
			s.compareFlags(cpu.GPR[0]&widthMask(n.ElemSize), leUint(dst[:width]), n.ElemSize)
			cpu.GPR[7] += step
		case 4: // LODS
			if err := s.r.Mem.ReadGuestBytes(cpu.GPR[6], src[:width]); err != nil {
				return err
			}
			writeGPR(cpu, 0, n.ElemSize, leUint(src[:width]))
			cpu.GPR[6] += step
		}

		if once {
			return nil
		}
		cpu.GPR[1]--
		compares := kind == 2 || kind == 3
		if compares {
			if repe && cpu.ZF == 0 {
				return nil
			}
			if repne && cpu.ZF == 1 {
				return nil
			}
		}
	}
}

func leUint(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func (s *interpState) compareFlags(a, b uint64, size uint8) {
	cpu := s.t.CPU
	mask := widthMask(size)
	signBit := uint64(1) << (uint64(size)*8 - 1)
	result := (a - b) & mask
	cpu.ZF = b2i(result == 0)
	cpu.SF = b2i(result&signBit != 0)
	cpu.PF = parity(result)
	cpu.CF = b2i(a < b)
	cpu.OF = b2i((a^b)&(a^result)&signBit != 0)
	cpu.AF = b2i((a^b^result)&0x10 != 0)
}
