package decode

// decodeModRM reads the ModR/M byte (and SIB/displacement if needed)
// starting at the decoder's current position, producing either a
// register or memory Operand.
//
// Grounded directly on debug_disasm_x86.go's decodeModRM: same mod/rm/
// reg bit layout, same mod==0&&rm==5 "direct address" special case,
// same SIB mod==0&&base==5 special case — but this returns a typed
// Operand instead of a formatted string, and also returns the "reg"
// field (the disassembler discarded it; the lifter needs it to find the
// other operand).
func (d *Decoder) decodeModRM(regClass RegClass, size int) (modrmOperand Operand, regField int, err error) {
	b, err := d.fetchByte()
	if err != nil {
		return Operand{}, 0, err
	}
	mod := (b >> 6) & 3
	regField = int((b >> 3) & 7)
	rm := int(b & 7)

	if mod == 3 {
		return Operand{Kind: OperandReg, Class: regClass, Size: size, Reg: rm | d.rexBBit()}, regField, nil
	}

	op := Operand{Kind: OperandMem, Size: size, Base: -1, Index: -1, Scale: 1, Segment: d.prefixes.SegOver}

	if rm == 4 {
		sib, err := d.fetchByte()
		if err != nil {
			return Operand{}, 0, err
		}
		sibBase := int(sib & 7)
		sibIdx := int((sib >> 3) & 7)
		sibScale := int(1) << ((sib >> 6) & 3)

		if mod == 0 && sibBase == 5 {
			disp, err := d.fetchInt32()
			if err != nil {
				return Operand{}, 0, err
			}
			op.Disp = int64(disp)
			op.Base = -1
		} else {
			op.Base = sibBase | d.rexBBit()
		}
		if sibIdx != 4 {
			op.Index = sibIdx | d.rexXBit()
			op.Scale = sibScale
		}
	} else if mod == 0 && rm == 5 {
		// RIP-relative in 64-bit mode, direct 32-bit address in 32-bit mode.
		disp, err := d.fetchInt32()
		if err != nil {
			return Operand{}, 0, err
		}
		op.Disp = int64(disp)
		if d.is64Bit {
			op.Base = RegRIPRelative
		} else {
			op.Base = -1
		}
	} else {
		op.Base = rm | d.rexBBit()
	}

	switch mod {
	case 1:
		disp, err := d.fetchByte()
		if err != nil {
			return Operand{}, 0, err
		}
		op.Disp = int64(int8(disp))
	case 2:
		disp, err := d.fetchInt32()
		if err != nil {
			return Operand{}, 0, err
		}
		op.Disp = int64(disp)
	}

	return op, regField, nil
}

// RegRIPRelative is a sentinel Base value meaning "RIP-relative",
// resolved against DecodedOp.NextIP by the lifter once instruction
// length is known.
const RegRIPRelative = -2

func (d *Decoder) rexBBit() int {
	if d.prefixes.REXPresent && d.prefixes.REXB {
		return 8
	}
	return 0
}

func (d *Decoder) rexXBit() int {
	if d.prefixes.REXPresent && d.prefixes.REXX {
		return 8
	}
	return 0
}
