// Package arm64gen implements the ARM64 Code Generator (spec §4.E):
// it walks a register-allocated ir.Block and emits native AArch64
// machine code into a growable executable buffer.
//
// Grounded on assembler/ie64asm.go and assembler/ie64dis.go — the
// teacher already has a working "emit machine words for an
// instruction set" / "decode them back" pair for its fictional IE64
// ISA; this package is that same shape (a table of encode functions
// writing fixed-width little-endian words) retargeted at real AArch64
// A64 encodings instead of IE64's.
package arm64gen

import "github.com/otterjit/otterjit/internal/ir"

// Physical register assignment. internal/opt's allocator hands out
// PhysReg indices in [0, numGPR) / [0, numVec) without knowing the
// host ABI; this package owns the mapping from those indices to real
// AArch64 register numbers and reserves the handful of registers the
// dispatcher/runtime need pinned across every block (mirrors spec
// §4.E's "every emitted block starts with a small prologue that
// verifies the current guest CPU state pointer is still live").
const (
	// RegCPUState (x28) always holds a pointer to the current thread's
	// guest.GuestCpuState, per spec §4.E's prologue requirement.
	RegCPUState = 28
	// RegScratch0/1 (x24/x25) are reserved for CodeGen's own use when
	// lowering an IR op needs a temporary the allocator didn't assign
	// (e.g. computing a spill-slot address).
	RegScratch0 = 24
	RegScratch1 = 25
	// RegDispatcher (x26) holds the dispatcher trampoline's entry
	// point, loaded once at thread start so block-exit code never pays
	// for an address computation (spec §4.F: "the generator emits only
	// direct branches to it").
	RegDispatcher = 26
	RegFP         = 29
	RegLR         = 30
	RegSP         = 31

	// NumAllocatableGPR is how many GPRs internal/opt.Allocate may hand
	// to the Nth ir.Node: x0-x23.
	NumAllocatableGPR = 24

	// VecScratch (v31) is CodeGen's reserved vector temporary.
	VecScratch = 31
	// PredTmp32B (p7) is the pre-computed all-true 32-byte predicate
	// register spec §4.E names for SVE256 predicated forms.
	PredTmp32B = 7
	// NumAllocatableVec is how many vector registers the allocator may
	// hand out: v0-v30.
	NumAllocatableVec = 31
)

// physGPR maps an opt.Allocate PhysReg index to a real Xn register
// number. Spilled nodes never reach this function (see spillAddr).
func physGPR(idx int16) uint32 { return uint32(idx) }

func physVec(idx int16) uint32 { return uint32(idx) }

// Features records which optional AArch64 extensions CodeGen may use,
// detected once at process startup (spec §4.E "Host feature
// detection").
type Features struct {
	SVE128 bool
	SVE256 bool
	AFP    bool // Alternate Floating-point behaviors (FEAT_AFP)
	RPRES  bool // increased reciprocal-estimate precision (FEAT_RPRES)
}

// Generator lowers one ir.Block at a time into a Buffer. It carries no
// state across blocks other than Features and the Buffer it was
// constructed with.
type Generator struct {
	feat    Features
	buf     *Buffer
	helpers map[ir.Op]uintptr
}

// NewGenerator builds a Generator. helpers supplies the host address
// of the runtime trampoline backing each "helper call" vector op
// (spec §4.E's VFScalarOperation-style ops: shuffle, pack, movmask,
// string-compare) — populated by internal/dispatch at process start
// with machine-code stubs it assembles into the same code buffer.
// That table holds a stub for OpVecShuffle8 only; a helper-call op
// with no entry fails to generate.
func NewGenerator(feat Features, buf *Buffer, helpers map[ir.Op]uintptr) *Generator {
	return &Generator{feat: feat, buf: buf, helpers: helpers}
}

// CodeBlock is the result of generating one ir.Block: its entry point
// and size within the owning Buffer (spec §4.E: "return (entry_ptr,
// size)").
type CodeBlock struct {
	Entry uintptr
	Size  int
}

// Generate lowers b's live nodes in arena order into g's buffer,
// emitting the block prologue, one instruction sequence per node, and
// the block-exit trampoline branch (spec §4.E).
func (g *Generator) Generate(b *ir.Block) (CodeBlock, error) {
	start := g.buf.Len()

	g.emitPrologue()

	var lowerErr error
	b.Walk(func(r ir.Ref, n *ir.Node) {
		if lowerErr != nil {
			return
		}
		if err := g.lowerNode(b, n); err != nil {
			lowerErr = err
		}
	})
	if lowerErr != nil {
		return CodeBlock{}, lowerErr
	}

	g.emitExit(b)

	entry, err := g.buf.Seal(start)
	if err != nil {
		return CodeBlock{}, err
	}
	return CodeBlock{Entry: entry, Size: g.buf.Len() - start}, nil
}

// emitPrologue verifies RegCPUState is still the live thread's state
// pointer. In this design the pointer never changes mid-thread, so the
// check is a no-op placeholder instruction sequence; it exists so a
// future cooperative-migration feature has a fixed place to hook into,
// matching spec §4.E's explicit callout of the check as a named step.
func (g *Generator) emitPrologue() {
	g.buf.Emit(encodeNOP())
}
