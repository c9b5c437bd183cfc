package dispatch

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/otterjit/otterjit/internal/aotcache"
	"github.com/otterjit/otterjit/internal/arm64gen"
	"github.com/otterjit/otterjit/internal/guest"
	"github.com/otterjit/otterjit/internal/ir"
	"github.com/otterjit/otterjit/internal/logging"
)

// Backend selects how published blocks execute, decided once at
// startup (spec §9's redesign note: "the backend choice is a single
// enum decided at startup and the hot path contains no vtables").
type Backend int

const (
	// BackendJIT runs arm64gen output natively. Blocks whose IR needs
	// runtime services the generated code cannot reach (wide multiply,
	// string-op loops, CPUID, the shape-dependent vector helpers) are
	// individually routed to the interpreter instead; see needsInterp.
	BackendJIT Backend = iota

	// BackendInterp evaluates the register-allocated IR directly. The
	// only choice on non-ARM64 hosts, and the reference semantics the
	// JIT is tested against.
	BackendInterp
)

// ShutdownReason reports why a thread's run loop returned (spec §8
// scenario 1: "the shutdown reason is HLT").
type ShutdownReason int

const (
	ShutdownNone ShutdownReason = iota
	ShutdownHLT
	ShutdownExit      // guest called exit/exit_group; Runner.ExitCode holds the status
	ShutdownRequested // Thread.Shutdown flag
	ShutdownFault     // unhandled fatal guest signal
)

func (s ShutdownReason) String() string {
	switch s {
	case ShutdownHLT:
		return "HLT"
	case ShutdownExit:
		return "exit"
	case ShutdownRequested:
		return "requested"
	case ShutdownFault:
		return "fault"
	}
	return "none"
}

// Runner owns the process-wide translation machinery: the guest
// memory manager, the shared code pool, the AOT cache handles, and
// the per-opcode runtime helpers. Threads share one Runner; each
// thread drives its own Run loop.
type Runner struct {
	Mem     *guest.Manager
	Backend Backend
	Feat    arm64gen.Features

	FDs *FDTable

	// ExitCode holds the guest's exit status once a thread shuts down
	// with ShutdownExit.
	ExitCode int

	log     *logging.Logger
	onceLog logging.Once

	// translateMu serializes publication into the shared code pool
	// (spec §5: "protected by a mutex only during publish"); flight
	// collapses concurrent cold misses for the same key onto one
	// pipeline run. pool is the process-wide store of sealed blocks
	// the per-thread caches hold non-owning references into (spec §3
	// "Block objects are owned by the process's translation cache").
	translateMu sync.Mutex
	flight      singleflight.Group
	pool        map[ir.Key]*PublishedBlock

	threadMu sync.Mutex
	threads  []*Thread

	buf        *arm64gen.Buffer
	helpers    map[ir.Op]uintptr
	trampoline uintptr

	aotReader *aotcache.Reader
	aotWriter *aotcache.Writer
	aotBase   uint64 // guest base the AOT file's start offsets are relative to

	// cas16Mu makes the interpreter's CMPXCHG16B single-winner (spec
	// §8 scenario 5); the JIT path would use LDXP/STXP instead.
	cas16Mu sync.Mutex

	// translateCount is the per-RIP translation-pipeline invocation
	// counter spec §8 scenario 6 requires observable ("the second
	// run's translation-pipeline invocation count for RIP=X is zero").
	countMu        sync.Mutex
	translateCount map[uint64]int

	sigMu       sync.Mutex
	sigHandlers map[int]uint64 // guest signo -> registered handler RIP
}

// NewRunner builds the process-wide runner. On non-ARM64 hosts the
// backend is forced to the interpreter regardless of the request.
func NewRunner(mem *guest.Manager, backend Backend) (*Runner, error) {
	if runtime.GOARCH != "arm64" {
		backend = BackendInterp
	}

	r := &Runner{
		Mem:            mem,
		Backend:        backend,
		FDs:            NewFDTable(),
		log:            logging.New("dispatch"),
		pool:           make(map[ir.Key]*PublishedBlock),
		translateCount: make(map[uint64]int),
		sigHandlers:    make(map[int]uint64),
	}
	mem.OnInvalidate = r.invalidatePage

	if backend == BackendJIT {
		r.Feat = arm64gen.DetectFeatures()
		buf, err := arm64gen.NewBuffer(1<<20, 64<<20)
		if err != nil {
			return nil, fmt.Errorf("dispatch: %w", err)
		}
		r.buf = buf
		r.trampoline, r.helpers = buildRuntimeStubs(buf)
	}
	return r, nil
}

// NewGuestThread allocates a guest thread bound to this runner's
// memory manager and registers it for SMC invalidation fan-out.
func (r *Runner) NewGuestThread(id int32) *Thread {
	t := NewThread(id, r.Mem.Is32Bit())
	r.threadMu.Lock()
	r.threads = append(r.threads, t)
	r.threadMu.Unlock()
	return t
}

// invalidatePage is the Guest Memory Manager's SMC callback (spec §3
// BlockCache invariant): drop the page's blocks from the shared pool
// and every thread's lookup cache before the page can execute again.
func (r *Runner) invalidatePage(page uint64) {
	r.translateMu.Lock()
	for key := range r.pool {
		if key.RIP&^uint64(pageSize-1) == page {
			delete(r.pool, key)
		}
	}
	r.translateMu.Unlock()

	r.threadMu.Lock()
	threads := append([]*Thread(nil), r.threads...)
	r.threadMu.Unlock()
	for _, t := range threads {
		t.Cache.InvalidatePage(page)
	}
}

// AttachAOT wires an AOT cache reader and/or writer. base is the
// guest address the cached start offsets are relative to (the image
// base SetupGuest returned).
func (r *Runner) AttachAOT(reader *aotcache.Reader, writer *aotcache.Writer, base uint64) {
	r.aotReader = reader
	r.aotWriter = writer
	r.aotBase = base
}

// TranslateCount reports how many times the full decode-to-publish
// pipeline ran for rip. AOT hits and cache hits do not count.
func (r *Runner) TranslateCount(rip uint64) int {
	r.countMu.Lock()
	defer r.countMu.Unlock()
	return r.translateCount[rip]
}

// Run drives one guest thread until it halts, exits, faults fatally,
// or is asked to shut down (spec §4.F's dispatch loop plus §5's
// suspension points). The caller dedicates one OS thread per guest
// thread; Run never returns control mid-block.
func (r *Runner) Run(t *Thread) (ShutdownReason, error) {
	for {
		if t.Shutdown.Load() {
			return ShutdownRequested, nil
		}
		if t.PauseRequested.Load() {
			t.PauseRequested.Store(false)
			<-t.Resume
		}
		if t.PendingSignal.Load() {
			if reason, done := r.injectPendingSignals(t); done {
				return reason, nil
			}
		}

		if t.CPU.RIP == sigreturnRIP {
			if err := r.sigreturn(t); err != nil {
				return ShutdownFault, err
			}
			continue
		}

		key := ir.Key{RIP: t.CPU.RIP, Config: t.Config}
		pb, ok := t.Cache.Lookup(key)
		if !ok {
			var err error
			pb, err = r.translate(t, key)
			if err != nil {
				if reason, handled := r.faultToSignal(t, err); handled {
					if reason != ShutdownNone {
						return reason, nil
					}
					continue
				}
				return ShutdownFault, err
			}
		}

		if err := r.execute(t, pb); err != nil {
			if reason, handled := r.faultToSignal(t, err); handled {
				if reason != ShutdownNone {
					return reason, nil
				}
				continue
			}
			return ShutdownFault, err
		}

		switch pb.Block.Exit.Kind {
		case ir.ExitHalt:
			return ShutdownHLT, nil
		case ir.ExitSyscall:
			reason, err := r.doSyscall(t)
			if err != nil {
				return ShutdownFault, err
			}
			if reason != ShutdownNone {
				return reason, nil
			}
		}
	}
}

// execute runs one published block on the selected backend. A block
// with no generated entry point (interpreter-routed, see needsInterp)
// always interprets, even under BackendJIT.
func (r *Runner) execute(t *Thread, pb *PublishedBlock) error {
	if r.Backend == BackendJIT && pb.Entry != 0 {
		enterGuest(pb.Entry, cpuStatePtr(t.CPU), scratchPtr(t), r.trampoline)
		return nil
	}
	return r.interpret(t, pb.Block)
}

// faultToSignal converts a translator or interpreter error into the
// guest-visible signal spec §7 assigns it, injecting it for delivery
// at the next dispatch. Returns handled=false for host-side bugs
// (TranslationFailure class), which abort.
func (r *Runner) faultToSignal(t *Thread, err error) (ShutdownReason, bool) {
	var signo int
	switch {
	case isDecodeOrUnsupported(err):
		r.onceLog.Warn(r.log, err.Error(), "injecting SIGILL: %v", err)
		signo = sigILL
	case isGuestFault(err):
		signo = sigSEGV
	case errors.Is(err, errGuestFPFault):
		signo = sigFPE
	default:
		return ShutdownNone, false
	}

	t.RaiseSignal(signo)
	reason, done := r.injectPendingSignals(t)
	if done {
		return reason, true
	}
	return ShutdownNone, true
}
