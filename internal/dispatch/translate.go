package dispatch

import (
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/otterjit/otterjit/internal/decode"
	"github.com/otterjit/otterjit/internal/guest"
	"github.com/otterjit/otterjit/internal/ir"
	"github.com/otterjit/otterjit/internal/lift"
	"github.com/otterjit/otterjit/internal/opt"

	"github.com/otterjit/otterjit/internal/aotcache"
	"github.com/otterjit/otterjit/internal/arm64gen"
)

// errGuestFPFault marks a guest-visible arithmetic fault (#DE and
// friends, spec §7 GuestFPException) raised by a runtime helper.
var errGuestFPFault = errors.New("guest arithmetic fault")

func isDecodeOrUnsupported(err error) bool {
	var de *decode.DecodeError
	var ue *decode.UnsupportedOpcodeError
	var le *lift.UnhandledOpcodeError
	var ble *lift.BlockTooLongError
	return errors.As(err, &de) || errors.As(err, &ue) || errors.As(err, &le) || errors.As(err, &ble)
}

func isGuestFault(err error) bool {
	var af *guest.AddressTranslationFault
	return errors.As(err, &af)
}

// translate is the cold-miss path (spec §4.F step 4): AOT cache
// short-circuit, else the decode -> lift -> optimize -> codegen
// pipeline, then publish. Concurrent misses for the same key collapse
// onto one run via singleflight; the winner publishes into its own
// thread's cache and every waiter re-publishes the shared result into
// theirs (caches are per-thread, the code pool is not).
func (r *Runner) translate(t *Thread, key ir.Key) (*PublishedBlock, error) {
	v, err, _ := r.flight.Do(flightKey(key), func() (any, error) {
		return r.translateOne(key)
	})
	if err != nil {
		return nil, err
	}
	pb := v.(*PublishedBlock)
	t.Cache.Publish(key, pb)
	r.Mem.MarkCodePage(key.RIP &^ (pageSize - 1))
	return pb, nil
}

func flightKey(key ir.Key) string {
	return fmt.Sprintf("%x:%x", key.RIP, key.Config)
}

func (r *Runner) translateOne(key ir.Key) (*PublishedBlock, error) {
	r.translateMu.Lock()
	pb, ok := r.pool[key]
	r.translateMu.Unlock()
	if ok {
		return pb, nil
	}

	if pb, ok := r.aotLookup(key); ok {
		r.publishToPool(key, pb)
		return pb, nil
	}

	r.countMu.Lock()
	r.translateCount[key.RIP]++
	r.countMu.Unlock()

	lifter := lift.NewLifter(r.Mem, !r.Mem.Is32Bit())
	b, err := lifter.LiftBlock(key.RIP, key.Config)
	if err != nil {
		return nil, err
	}
	b.GuestHash = r.hashGuestRange(b.StartRIP, b.EndRIP)

	opt.Run(b, arm64gen.NumAllocatableGPR, arm64gen.NumAllocatableVec)

	pb = &PublishedBlock{Block: b}
	if r.Backend == BackendJIT && !needsInterp(b, r.helpers, r.Feat) {
		r.translateMu.Lock()
		gen := arm64gen.NewGenerator(r.Feat, r.buf, r.helpers)
		code, genErr := gen.Generate(b)
		r.translateMu.Unlock()
		if genErr != nil {
			return nil, fmt.Errorf("codegen at 0x%x: %w", key.RIP, genErr)
		}
		pb.Entry = code.Entry
		pb.Size = code.Size
	}

	r.aotAppend(b)
	r.publishToPool(key, pb)
	return pb, nil
}

func (r *Runner) publishToPool(key ir.Key, pb *PublishedBlock) {
	r.translateMu.Lock()
	r.pool[key] = pb
	r.translateMu.Unlock()
}

func (r *Runner) hashGuestRange(start, end uint64) uint64 {
	if end <= start {
		return 0
	}
	buf := make([]byte, end-start)
	if err := r.Mem.ReadGuestBytes(start, buf); err != nil {
		return 0
	}
	return xxhash.Sum64(buf)
}

// needsInterp reports whether a block's IR reaches runtime services
// the generated code has no path to: helper calls other than the
// syscall marker the run loop itself handles at block exit, the
// shape-dependent vector ops with no registered machine-code stub,
// and packed float min/max on hosts without FEAT_AFP. Such blocks
// stay interpreter-routed even under BackendJIT.
func needsInterp(b *ir.Block, helpers map[ir.Op]uintptr, feat arm64gen.Features) bool {
	interp := false
	b.Walk(func(_ ir.Ref, n *ir.Node) {
		switch n.Op {
		case ir.OpCallHelper:
			if n.Aux != lift.HelperSyscall {
				interp = true
			}
		case ir.OpMaterializeFlag:
			// A flag read with no in-block record consumes flag state a
			// previous block left in GuestCpuState, which only the
			// interpreter maintains.
			if n.Args[0] == ir.InvalidRef {
				interp = true
			}
		case ir.OpDeferredFlags:
			// Generated code never writes the decomposed flag bytes
			// back to GuestCpuState, so a successor block reading them
			// would see stale values; keep flag-producing blocks on the
			// interpreter until the JIT grows a flag writeback pass.
			interp = true
		case ir.OpVecShuffle, ir.OpVecShuffle8, ir.OpVecPack, ir.OpVecMovMask,
			ir.OpVecStrCompare:
			if _, ok := helpers[n.Op]; !ok {
				interp = true
			}
		case ir.OpVecFMin, ir.OpVecFMax:
			// Packed min/max only lowers natively when FEAT_AFP makes
			// the host's FMIN/FMAX match x86's second-operand NaN rule;
			// the scalar shapes have the FCMP+FCSEL fallback and stay
			// on the JIT regardless (spec §4.E "Float min/max").
			if n.NumElem > 1 && !feat.AFP {
				interp = true
			}
		}
	})
	return interp
}

// aotLookup resolves key against the attached AOT reader. A hash
// mismatch (stale or tampered entry, spec §7) is a logged miss.
func (r *Runner) aotLookup(key ir.Key) (*PublishedBlock, bool) {
	if r.aotReader == nil || key.RIP < r.aotBase {
		return nil, false
	}
	startOff := key.RIP - r.aotBase

	length, ok := r.aotReader.PeekLength(startOff)
	if !ok {
		return nil, false
	}
	liveHash := r.hashGuestRange(key.RIP, key.RIP+length)

	_, irBlob, ok := r.aotReader.Lookup(startOff, liveHash)
	if !ok {
		return nil, false
	}

	b, err := ir.Deserialize(irBlob)
	if err != nil {
		r.onceLog.Warn(r.log, "aot-deser", "corrupt AOT IR entry at offset 0x%x: %v", startOff, err)
		return nil, false
	}
	if b.Config != key.Config {
		return nil, false
	}

	opt.Run(b, arm64gen.NumAllocatableGPR, arm64gen.NumAllocatableVec)

	pb := &PublishedBlock{Block: b}
	if r.Backend == BackendJIT && !needsInterp(b, r.helpers, r.Feat) {
		r.translateMu.Lock()
		gen := arm64gen.NewGenerator(r.Feat, r.buf, r.helpers)
		code, genErr := gen.Generate(b)
		r.translateMu.Unlock()
		if genErr != nil {
			return nil, false
		}
		pb.Entry = code.Entry
		pb.Size = code.Size
	}
	return pb, true
}

func (r *Runner) aotAppend(b *ir.Block) {
	if r.aotWriter == nil || b.StartRIP < r.aotBase {
		return
	}
	r.aotWriter.Append(aotcache.Entry{
		GuestStartOffset: b.StartRIP - r.aotBase,
		GuestHash:        b.GuestHash,
		GuestLength:      b.EndRIP - b.StartRIP,
		IRBlob:           ir.Serialize(b),
	})
}
