package arm64gen

// VFScalarOperation implements the pattern spec §4.E names directly:
// "implemented through a helper 'VFScalarOperation' pattern that,
// depending on aliasing between destination and the two sources,
// chooses one of: in-place scalar op (when AFP preserves upper bits),
// op into a scratch vector then INS into destination, or MOVPRFX+op
// when SVE is available."
//
// dst/src1/src2 are physical vector register numbers already resolved
// by lower.go; elemBytes is the scalar lane width (4 or 8), deciding
// which element the INS fallback splices. isAVX selects between the
// two upper-bits rules spec §4.C calls out: AVX scalar ops copy bits
// above the lane from src1, non-AVX scalar ops leave the
// destination's existing upper bits untouched. op emits the core
// scalar instruction (e.g. FADD) given (rd, rn, rm).
func (g *Generator) vfScalarOperation(elemBytes uint8, dst, src1, src2 uint32, isAVX bool, op func(rd, rn, rm uint32) uint32) {
	switch {
	case g.feat.AFP && (dst == src1 || !isAVX):
		// AFP guarantees the scalar form leaves bits above the lane
		// unchanged, which is exactly the non-AVX rule and, when
		// dst==src1, also satisfies the AVX rule (src1's upper bits are
		// already in dst). No extra instructions needed.
		g.buf.Emit(op(dst, src1, src2))

	case g.feat.SVE256 && isAVX && dst != src1:
		// MOVPRFX splits dst from src1 so the subsequent op can target
		// dst directly while still reading src1, which in turn already
		// carries the AVX "upper bits from src1" rule for free.
		g.buf.Emit(EncodeMOVPRFX(dst, src1))
		g.buf.Emit(op(dst, dst, src2))

	default:
		// Fallback: compute into VecScratch, then splice lane 0 of the
		// scalar result into dst via INS, preserving dst's current upper
		// bits (the non-AVX rule) or dst's pre-copied src1 upper bits
		// (the AVX rule, assuming the caller already moved src1 into dst
		// before calling this when isAVX && dst != src1).
		g.buf.Emit(op(VecScratch, src1, src2))
		g.buf.Emit(encodeINSElement(elemBytes, dst, VecScratch, 0))
	}
}

// encodeINSElement encodes INS Vd.Ts[index], Vn.Ts[0] for a 4- or
// 8-byte element — splice one lane of a scratch result into the real
// destination register without disturbing its other lanes.
func encodeINSElement(elemBytes uint8, vd, vn, index uint32) uint32 {
	var imm5 uint32
	if elemBytes == 8 {
		imm5 = 0b01000 | index<<4
	} else {
		imm5 = 0b00100 | index<<3
	}
	return 0b01101110000<<21 | imm5<<16 | 1<<10 | vn<<5 | vd
}
