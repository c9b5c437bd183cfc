// Package ir implements the typed SSA intermediate representation
// described in spec §3 ("IR") and §9's redesign note: "OrderedNode*
// (source IR handle): an intrusively linked node pointer. Replace with
// an arena + 32-bit index, which gives stable references across arena
// growth and halves memory footprint."
package ir

// Ref is a 32-bit index into a Block's node arena. The zero value,
// InvalidRef, never names a real node (node 0 is reserved as a
// sentinel, mirroring nil-pointer conventions from the teacher's own
// pointer-based code without paying for an actual pointer).
type Ref uint32

const InvalidRef Ref = 0

// Op identifies the operation a Node performs. The set here covers the
// arithmetic, logical, memory, control-flow and vector operations
// needed by internal/lift's opcode coverage (SPEC_FULL.md's "opcode
// coverage note"); new ops are added as lift gains new x86
// instructions, never by changing Node's shape.
type Op uint16

const (
	OpInvalid Op = iota

	// Constants and moves.
	OpConst
	OpLoadReg  // guest register -> SSA value
	OpStoreReg // SSA value -> guest register
	OpLoadMem
	OpStoreMem
	OpLoadFlag // read one decomposed EFLAGS bit
	OpStoreFlag

	// Address computation (kept distinct from LoadMem/StoreMem so the
	// optimizer can common-subexpression-eliminate repeated
	// base+index*scale+disp computations independently of the access).
	OpLEA

	// Integer arithmetic / logic.
	OpAdd
	OpSub
	OpMul
	OpUMulH // high half of unsigned multiply, for flag/overflow computation
	OpSMulH
	OpUDiv
	OpSDiv
	OpUMod
	OpSMod
	OpAnd
	OpOr
	OpXor
	OpNot
	OpNeg
	OpShl
	OpShr
	OpSar
	OpRol
	OpRor

	// Comparisons, producing a 1-bit boolean value.
	OpCmpEQ
	OpCmpNE
	OpCmpULT
	OpCmpULE
	OpCmpSLT
	OpCmpSLE

	// Deferred-flags support (spec §4.C "Flag lowering"): a single node
	// records the last flag-producing op and its inputs; concrete flag
	// values are only materialized when something reads them.
	OpDeferredFlags
	OpMaterializeFlag // (deferred-flags-node, condition code in Aux) -> 1-bit value

	// Control flow / block exit.
	OpCondBranch
	OpJump
	OpCallHelper // call out to a runtime trampoline (syscall, unsupported opcode, etc.)
	OpExitBlock  // terminates the block: writes next-RIP, returns to dispatcher

	// Vector ops (element size + lane count carried on the Node).
	OpVecAdd // integer packed add (reserved; no current x86 source opcode lifts to this)
	OpVecSub // integer packed sub (reserved; no current x86 source opcode lifts to this)
	OpVecMul // floating packed/scalar multiply (MULPS/MULSS/MULPD/MULSD)
	OpVecDiv // floating packed/scalar divide (DIVPS/DIVSS/DIVPD/DIVSD)
	OpVecAnd
	OpVecOr
	OpVecXor
	OpVecMin      // integer packed min (reserved; no current x86 source opcode lifts to this)
	OpVecMax      // integer packed max (reserved; no current x86 source opcode lifts to this)
	OpVecFAdd     // floating packed/scalar add (ADDPS/ADDSS/ADDPD/ADDSD)
	OpVecFSub     // floating packed/scalar subtract (SUBPS/SUBSS/SUBPD/SUBSD)
	OpVecFMin     // floating packed/scalar min (MINPS/MINSS/MINPD/MINSD)
	OpVecFMax     // floating packed/scalar max (MAXPS/MAXSS/MAXPD/MAXSD)
	OpVecShuffle  // PSHUFD/SHUFPS-style immediate lane selection
	OpVecShuffle8 // PSHUFB-style per-byte table lookup
	OpVecPack     // PACKSSWB/PACKUSWB/PACKSSDW saturating narrow
	OpVecMovMask  // MOVMSKPS/PD/PMOVMSKB
	// OpVecZeroUpper applies the VEX upper-lane rule to a guest vector
	// register (spec §4.C): Aux names the destination register whose
	// bits [255:128] are zeroed, or copied from the register in
	// ConstIdx when >= 0 (the AVX scalar "upper from first source"
	// shape). Side-effecting: it writes architectural state directly.
	OpVecZeroUpper
	OpVecInsertScalar // scalar op result inserted into lane 0, bits above `size` preserved per AVX/non-AVX rule
	OpVecStrCompare   // PCMPxSTRI/M aggregate computation
)

// RegClass records which physical register bank (§4.D) a Node's result
// wants: GPR or vector/FPR.
type RegClass uint8

const (
	ClassGPR RegClass = iota
	ClassVec
)

// Node is one IR instruction. Operand references are into the owning
// Block's arena; ConstIdx holds the companion constant payload for
// OpConst nodes (spec §3: "A companion side-table holds constant
// payloads").
type Node struct {
	Op         Op
	ElemSize   uint8 // bytes per element: 1,2,4,8,16 (the operand width for scalar GPR nodes)
	NumElem    uint8 // vector lane count, 1 for scalar
	Class      RegClass
	Signed     bool
	Saturating bool
	Aux        int32 // condition code / shuffle immediate / flag index / helper id, meaning is Op-dependent
	Args       [3]Ref
	ConstIdx   int32 // index into Block.Consts, valid for OpConst

	// Register allocation result, filled in by internal/opt. -1 until
	// allocation; when Spilled is set, PhysReg indexes the spill-slot
	// table instead of naming a register.
	PhysReg int16
	Spilled bool

	// Liveness bookkeeping used by the linear-scan allocator.
	defPos, lastUsePos int32

	dead bool // set by DCE; skipped by codegen
}

// IsDead reports whether the dead-code pass removed this node.
func (n *Node) IsDead() bool { return n.dead }

// SetLiveRange records the [def, lastUse] instruction-index interval
// computed by internal/opt's liveness pass, consumed by its
// linear-scan allocator.
func (n *Node) SetLiveRange(def, lastUse int32) {
	n.defPos, n.lastUsePos = def, lastUse
}

// LiveRange returns the interval set by SetLiveRange.
func (n *Node) LiveRange() (def, lastUse int32) {
	return n.defPos, n.lastUsePos
}
