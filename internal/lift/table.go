package lift

import "github.com/otterjit/otterjit/internal/decode"

// handlers maps every opcode token the decode table can produce to
// the function that lifts it. One row per decode.OpcodeID, mirroring
// cpu_x86.go's baseOps/extendedOps dispatch arrays but keyed by the
// typed token instead of the raw opcode byte, since the decoder has
// already folded prefix/REX/VEX variation away by the time lift sees
// it.
var handlers = map[decode.OpcodeID]handler{
	decode.OpMovRegRM:  liftDataMove,
	decode.OpMovRMReg:  liftDataMove,
	decode.OpMovRegImm: liftDataMove,
	decode.OpMovRMImm:  liftDataMove,
	decode.OpLea:       liftDataMove,
	decode.OpPush:      liftDataMove,
	decode.OpPop:       liftDataMove,
	decode.OpXchg:      liftDataMove,
	decode.OpMovzx:     liftDataMove,
	decode.OpMovsx:     liftDataMove,

	decode.OpAluRMReg:   liftAlu,
	decode.OpAluRegRM:   liftAlu,
	decode.OpAluRMImm:   liftAlu,
	decode.OpAluALImm:   liftAluALImmOrTest,
	decode.OpInc:        liftIncDec,
	decode.OpDec:        liftIncDec,
	decode.OpTestRMReg:  liftTest,
	decode.OpShiftRMImm: liftShift,
	decode.OpShiftRMCL:  liftShift,
	decode.OpShiftRM1:   liftShift,
	decode.OpGrp3:       liftGrp3,
	decode.OpImulRMImm:  liftImul3,

	decode.OpJccRel8:    liftJcc,
	decode.OpJccRel32:   liftJcc,
	decode.OpJmpRel8:    liftJmp,
	decode.OpJmpRel32:   liftJmp,
	decode.OpCallRel32:  liftCall,
	decode.OpRetNear:    liftRet,
	decode.OpRetNearImm: liftRet,
	decode.OpLoop:       liftLoop,
	decode.OpSyscall:    liftSyscall,
	decode.OpInt3:       liftInt3,
	decode.OpHlt:        liftHlt,
	decode.OpNop:        liftNop,
	decode.OpCpuid:      liftCpuid,

	decode.OpMovs: liftStringOp,
	decode.OpStos: liftStringOp,
	decode.OpCmps: liftStringOp,
	decode.OpScas: liftStringOp,
	decode.OpLods: liftStringOp,

	decode.OpCmpxchg:      liftCmpxchg,
	decode.OpCmpxchg8b16b: liftCmpxchg16b,
	decode.OpXaddRMReg:    liftXadd,

	decode.OpMovaps:              liftVecMove,
	decode.OpMovups:              liftVecMove,
	decode.OpMovdqa:              liftVecMove,
	decode.OpMovdqu:              liftVecMove,
	decode.OpAddpsScalarOrPacked: liftVecArith,
	decode.OpMinMaxPS:            liftVecMinMax,
	decode.OpPxorPandPor:         liftVecBitwise,
	decode.OpMovmsk:              liftMovmsk,
	decode.OpPshufd:              liftPshufd,
	decode.OpShufps:              liftShufps,
	decode.OpPshufb:              liftPshufb,
	decode.OpPackSat:             liftPackSat,
	decode.OpPcmpestri:           liftPcmpestri,
}
