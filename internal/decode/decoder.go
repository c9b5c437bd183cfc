package decode

import "fmt"

// MemReader is the subset of internal/guest.Manager the decoder needs.
// Kept as a local interface (rather than importing internal/guest) so
// decode has no dependency on the memory manager's implementation —
// only test harnesses and the real Manager need to satisfy it.
type MemReader interface {
	ReadGuestBytes(addr uint64, buf []byte) error
}

// Decoder decodes one instruction at a time from a MemReader. Not
// safe for concurrent use; the lifter owns one Decoder per in-flight
// block translation.
type Decoder struct {
	mem      MemReader
	is64Bit  bool
	pos      uint64
	start    uint64
	prefixes Prefixes
}

// NewDecoder creates a decoder for a 32-bit or 64-bit guest.
func NewDecoder(mem MemReader, is64Bit bool) *Decoder {
	return &Decoder{mem: mem, is64Bit: is64Bit}
}

func (d *Decoder) fetchByte() (byte, error) {
	var buf [1]byte
	if err := d.mem.ReadGuestBytes(d.pos, buf[:]); err != nil {
		return 0, &DecodeError{Addr: d.pos, Msg: fmt.Sprintf("fetch byte: %v", err)}
	}
	d.pos++
	return buf[0], nil
}

func (d *Decoder) fetchInt32() (int32, error) {
	var buf [4]byte
	if err := d.mem.ReadGuestBytes(d.pos, buf[:]); err != nil {
		return 0, &DecodeError{Addr: d.pos, Msg: fmt.Sprintf("fetch dword: %v", err)}
	}
	d.pos += 4
	v := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
	return int32(v), nil
}

func (d *Decoder) fetchInt16() (int16, error) {
	var buf [2]byte
	if err := d.mem.ReadGuestBytes(d.pos, buf[:]); err != nil {
		return 0, &DecodeError{Addr: d.pos, Msg: fmt.Sprintf("fetch word: %v", err)}
	}
	d.pos += 2
	return int16(uint16(buf[0]) | uint16(buf[1])<<8), nil
}

func (d *Decoder) fetchInt64() (int64, error) {
	var buf [8]byte
	if err := d.mem.ReadGuestBytes(d.pos, buf[:]); err != nil {
		return 0, &DecodeError{Addr: d.pos, Msg: fmt.Sprintf("fetch qword: %v", err)}
	}
	d.pos += 8
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(buf[i])
	}
	return int64(v), nil
}

// segOverrideFor maps a legacy segment-override prefix byte to the
// x86SegES..x86SegGS-style index used elsewhere (spec §4.B prefix
// loop), grounded on debug_disasm_x86.go's x86SegRegs ordering.
func segOverrideFor(b byte) (int, bool) {
	switch b {
	case 0x2E:
		return 1, true // CS
	case 0x36:
		return 2, true // SS
	case 0x3E:
		return 3, true // DS
	case 0x26:
		return 0, true // ES
	case 0x64:
		return 4, true // FS
	case 0x65:
		return 5, true // GS
	}
	return -1, false
}

// decodePrefixes consumes the legacy prefix loop and REX byte, per spec
// §4.B: "Prefix loop: consume LOCK (F0), REP/REPE (F3), REPNE (F2),
// segment overrides..., operand-size (66), address-size (67). REX and
// VEX/XOP are parsed separately after legacy prefixes."
func (d *Decoder) decodePrefixes() error {
	d.prefixes = Prefixes{SegOver: -1}
	var legacySeen bool
	for {
		b, err := d.fetchByte()
		if err != nil {
			return err
		}
		switch {
		case b == 0xF0:
			d.prefixes.Lock = true
			legacySeen = true
		case b == 0xF3:
			d.prefixes.RepKind = 1
			legacySeen = true
		case b == 0xF2:
			d.prefixes.RepKind = 2
			legacySeen = true
		case b == 0x66:
			d.prefixes.OpSize66 = true
			legacySeen = true
		case b == 0x67:
			d.prefixes.AddrSize = true
		default:
			if seg, ok := segOverrideFor(b); ok {
				d.prefixes.SegOver = seg
				continue
			}
			// REX prefix: 0x40-0x4F, 64-bit mode only.
			if d.is64Bit && b&0xF0 == 0x40 {
				d.prefixes.REXPresent = true
				d.prefixes.REXW = b&0x08 != 0
				d.prefixes.REXR = b&0x04 != 0
				d.prefixes.REXX = b&0x02 != 0
				d.prefixes.REXB = b&0x01 != 0
				continue
			}
			// VEX two-byte (0xC5) / three-byte (0xC4) prefix.
			if b == 0xC5 || b == 0xC4 {
				if legacySeen || d.prefixes.Lock {
					return IllegalPrefixCombo(d.pos - 1)
				}
				if err := d.decodeVEX(b); err != nil {
					return err
				}
				return nil
			}
			d.pos--
			return nil
		}
	}
}

func (d *Decoder) decodeVEX(lead byte) error {
	d.prefixes.VEX.Present = true
	if lead == 0xC5 {
		b1, err := d.fetchByte()
		if err != nil {
			return err
		}
		d.prefixes.VEX.Is256 = b1&0x04 != 0
		d.prefixes.VEX.VVVV = int((^b1 >> 3) & 0xF)
		d.prefixes.VEX.PP = int(b1 & 3)
		d.prefixes.VEX.MapSelect = 1
		return nil
	}
	b1, err := d.fetchByte()
	if err != nil {
		return err
	}
	b2, err := d.fetchByte()
	if err != nil {
		return err
	}
	d.prefixes.VEX.MapSelect = int(b1 & 0x1F)
	d.prefixes.REXR = b1&0x80 == 0
	d.prefixes.REXX = b1&0x40 == 0
	d.prefixes.REXB = b1&0x20 == 0
	d.prefixes.VEX.Is256 = b2&0x04 != 0
	d.prefixes.VEX.W = b2&0x80 != 0
	d.prefixes.VEX.VVVV = int((^b2 >> 3) & 0xF)
	d.prefixes.VEX.PP = int(b2 & 3)
	return nil
}

// Decode decodes one instruction at addr.
func (d *Decoder) Decode(addr uint64) (*DecodedOp, error) {
	d.pos = addr
	d.start = addr

	if err := d.decodePrefixes(); err != nil {
		return nil, err
	}

	opByte, err := d.fetchByte()
	if err != nil {
		return nil, err
	}

	var entry tableEntry
	var haveEntry bool
	if opByte == 0x0F {
		op2, err := d.fetchByte()
		if err != nil {
			return nil, err
		}
		switch {
		case op2 == 0x38:
			op3, err := d.fetchByte()
			if err != nil {
				return nil, err
			}
			entry, haveEntry = ext38Table[op3], ext38Table[op3].id != OpInvalid
		case op2 == 0x3A:
			op3, err := d.fetchByte()
			if err != nil {
				return nil, err
			}
			entry, haveEntry = ext3ATable[op3], ext3ATable[op3].id != OpInvalid
		default:
			entry, haveEntry = ext0FTable[op2], ext0FTable[op2].id != OpInvalid
		}
	} else if d.prefixes.VEX.Present {
		op2 := opByte
		switch d.prefixes.VEX.MapSelect {
		case 2:
			entry, haveEntry = ext38Table[op2], ext38Table[op2].id != OpInvalid
		case 3:
			entry, haveEntry = ext3ATable[op2], ext3ATable[op2].id != OpInvalid
		default:
			entry, haveEntry = ext0FTable[op2], ext0FTable[op2].id != OpInvalid
		}
	} else {
		entry, haveEntry = baseTable[opByte], baseTable[opByte].id != OpInvalid
	}

	if !haveEntry {
		return nil, &UnsupportedOpcodeError{Addr: d.start, Opcode: []byte{opByte}}
	}

	// 256-bit VEX forms need YMM-wide IR this core does not carry;
	// surface them as unsupported (SIGILL to the guest per spec §7)
	// rather than silently computing a 128-bit result.
	if d.prefixes.VEX.Present && d.prefixes.VEX.Is256 {
		return nil, &UnsupportedOpcodeError{Addr: d.start, Opcode: []byte{opByte}}
	}

	op := &DecodedOp{OpcodeID: entry.id, Aux: entry.aux, Prefixes: d.prefixes, StartIP: d.start}

	opSize := 32
	if d.is64Bit {
		opSize = 32
		if d.prefixes.REXW || d.prefixes.VEX.W {
			opSize = 64
		} else if d.prefixes.OpSize66 {
			opSize = 16
		}
	} else if d.prefixes.OpSize66 {
		opSize = 16
	}
	if !entry.regSize {
		opSize = 8
	}
	op.OperandSize = opSize
	op.AddressSize = 32
	if d.is64Bit {
		op.AddressSize = 64
	}
	if d.prefixes.AddrSize {
		if d.is64Bit {
			op.AddressSize = 32
		} else {
			op.AddressSize = 16
		}
	}

	n := 0
	if entry.hasModRM {
		rmClass, rmSize, regClass, regSize := operandClasses(entry.id, opSize)
		memOperand, regField, err := d.decodeModRM(rmClass, rmSize)
		if err != nil {
			return nil, err
		}
		op.Operands[0] = memOperand
		op.Operands[1] = Operand{Kind: OperandReg, Class: regClass, Size: regSize, Reg: regField | d.rexRBit()}
		n = 2

		// The 3-operand AVX shape: vvvv names the first source. VVVV
		// already holds the de-inverted register number, so a raw
		// 1111b field decodes to 0 — which is what the "must equal
		// 1111b when unused" rule checks against (spec §4.C).
		if d.prefixes.VEX.Present {
			if entry.vexVVVV {
				op.Operands[2] = Operand{Kind: OperandReg, Class: regClass, Size: regSize, Reg: d.prefixes.VEX.VVVV}
				n = 3
			} else if d.prefixes.VEX.VVVV != 0 {
				return nil, &DecodeError{Addr: d.start, Msg: "VEX.vvvv must be 1111b for this opcode"}
			}
		}
	} else if entry.regInOpcode {
		op.Operands[0] = Operand{Kind: OperandReg, Class: RegGPR, Size: opSize / 8, Reg: entry.aux | d.rexBBit()}
		n = 1
	}
	op.NumOperands = n

	// Group 3 (F6/F7) carries an immediate only for the TEST forms
	// (ModR/M reg field 0 or 1); NOT/NEG/MUL/IMUL/DIV/IDIV take none.
	// This can't be expressed as a static tableEntry.immBytes since it
	// depends on the reg field read by decodeModRM above.
	if entry.id == OpGrp3 && entry.aux == 0 && (op.Operands[1].Reg&7) <= 1 {
		switch opSize {
		case 8:
			v, err := d.fetchByte()
			if err != nil {
				return nil, err
			}
			op.Imm = int64(int8(v))
		case 16:
			v, err := d.fetchInt16()
			if err != nil {
				return nil, err
			}
			op.Imm = int64(v)
		default:
			v, err := d.fetchInt32()
			if err != nil {
				return nil, err
			}
			op.Imm = int64(v)
		}
		op.Length = int(d.pos - d.start)
		op.NextIP = d.pos
		return op, nil
	}

	switch entry.immBytes {
	case 0:
	case 1:
		v, err := d.fetchByte()
		if err != nil {
			return nil, err
		}
		op.Imm = int64(int8(v))
	case 2:
		v, err := d.fetchInt16()
		if err != nil {
			return nil, err
		}
		op.Imm = int64(v)
	case 4:
		v, err := d.fetchInt32()
		if err != nil {
			return nil, err
		}
		op.Imm = int64(v)
	case -1: // operand-size dependent full immediate
		if opSize == 16 {
			v, err := d.fetchInt16()
			if err != nil {
				return nil, err
			}
			op.Imm = int64(v)
		} else if opSize == 64 && entry.id == OpMovRegImm {
			// B8+r is the only x86-64 form carrying a true imm64; every
			// other 64-bit immediate is an imm32 sign-extended.
			v, err := d.fetchInt64()
			if err != nil {
				return nil, err
			}
			op.Imm = v
		} else {
			v, err := d.fetchInt32()
			if err != nil {
				return nil, err
			}
			op.Imm = int64(v)
		}
	case -2: // rel8
		v, err := d.fetchByte()
		if err != nil {
			return nil, err
		}
		op.Imm = int64(int8(v))
	case -3: // rel32
		v, err := d.fetchInt32()
		if err != nil {
			return nil, err
		}
		op.Imm = int64(v)
	}

	op.Length = int(d.pos - d.start)
	op.NextIP = d.pos
	return op, nil
}

func (d *Decoder) rexRBit() int {
	if d.prefixes.REXPresent && d.prefixes.REXR {
		return 8
	}
	return 0
}

// operandClasses returns the (class, size) pair for a ModR/M
// instruction's r/m operand and its reg-field operand. Most opcodes
// use GPRs for both at opSize/8 bytes; the vector/SSE subset instead
// addresses the XMM file at a fixed 16 bytes, except PMOVMSKB/MOVMSKPS
// whose reg field names a GPR destination while the r/m field still
// names a vector source.
func operandClasses(id OpcodeID, opSize int) (rmClass RegClass, rmSize int, regClass RegClass, regSize int) {
	switch id {
	case OpMovmsk:
		return RegVec, 16, RegGPR, opSize / 8
	case OpMovaps, OpMovups, OpMovdqa, OpMovdqu,
		OpAddpsScalarOrPacked, OpPxorPandPor, OpPshufd, OpShufps,
		OpPackSat, OpPshufb, OpPcmpestri, OpMinMaxPS:
		return RegVec, 16, RegVec, 16
	default:
		return RegGPR, opSize / 8, RegGPR, opSize / 8
	}
}
