package dispatch

import (
	"github.com/otterjit/otterjit/internal/arm64gen"
	"github.com/otterjit/otterjit/internal/ir"
)

// A64 instruction words the runtime stubs are assembled from. The
// dispatcher side of the JIT contract is hand-written machine code
// (spec §4.F: "The dispatcher is itself a small block of hand-written
// ARM64 code"), built once at startup into the shared code buffer and
// pinned so buffer eviction never reclaims it.
const (
	a64RET = 0xD65F03C0
	// TBL V0.16B, {V0.16B}, V1.16B — per-byte table lookup with
	// out-of-range indices reading as zero, which is exactly PSHUFB's
	// high-bit-set-means-zero rule: any control byte with bit 7 set is
	// >= 128, far past the 16-entry table.
	a64TBLv0v0v1 = 0x4E010000
)

// buildRuntimeStubs assembles the dispatcher trampoline and the
// machine-code vector helpers into buf, returning the trampoline
// address and the helper table handed to arm64gen.NewGenerator.
//
// The trampoline is a single RET: generated blocks reach it via BR
// (not BL), so the link register still holds the address enterGuest's
// BL saved, and the RET lands back in the entry stub with no frame
// depth accumulated (spec §4.F: "never relying on returning from a
// call frame, so stack depth stays constant").
//
// Helper stubs exist only for ops whose semantics are expressible as
// a fixed 128-bit instruction sequence independent of the IR node's
// element shape; everything shape-dependent stays interpreter-routed
// (see needsInterp).
func buildRuntimeStubs(buf *arm64gen.Buffer) (uintptr, map[ir.Op]uintptr) {
	emitStub := func(words ...uint32) uintptr {
		start := buf.Len()
		for _, w := range words {
			buf.Emit(w)
		}
		addr, err := buf.Seal(start)
		if err != nil {
			return 0
		}
		buf.Pin()
		return addr
	}

	trampoline := emitStub(a64RET)

	helpers := map[ir.Op]uintptr{
		ir.OpVecShuffle8: emitStub(a64TBLv0v0v1, a64RET),
	}
	return trampoline, helpers
}
