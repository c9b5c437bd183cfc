package dispatch

import (
	"sync/atomic"

	"github.com/otterjit/otterjit/internal/guest"
	"github.com/otterjit/otterjit/internal/ir"
)

// scratchBytes sizes the per-thread spill-slot scratch area
// internal/opt's allocator spills into (spec §4.D: "Spill slots live
// in a per-thread scratch area at a fixed offset from the CPU
// state"). 4096 covers MaxBlockInstructions worth of spills with
// plenty of headroom; internal/arm64gen addresses spill slots
// SP-relative, and this package points the host SP at this buffer for
// the duration of every generated-code call (see entry_arm64.s).
const scratchBytes = 4096

// Thread owns one guest thread's architectural state, its BlockCache,
// and the bookkeeping the dispatcher loop needs to suspend it at a
// block boundary (spec §5: "Suspension points within generated code:
// only at block boundaries").
type Thread struct {
	ID int32

	CPU    *guest.GuestCpuState
	Config ir.Fingerprint
	Cache  *BlockCache

	scratch []byte // pinned host buffer; never moved or GC'd mid-run

	// PendingSignal is checked by the dispatcher loop at every block
	// boundary (spec §5: "a pending-signal flag is checked at every
	// dispatch"). SignalQueue holds the signal numbers waiting to be
	// injected, in delivery order.
	PendingSignal atomic.Bool
	signalMu      chan struct{} // 1-buffered mutex guarding SignalQueue
	SignalQueue   []int

	// Shutdown is the thread-local cancellation flag (spec §5:
	// "checked at the dispatcher; when set, the thread unwinds cleanly
	// to the host-side runtime").
	Shutdown atomic.Bool

	// PauseRequested is set by internal/console to request a debugger
	// suspension at the next block boundary (spec §5 suspension
	// reason (c)). Resume is an unbuffered channel the console sends
	// on to release the thread.
	PauseRequested atomic.Bool
	Resume         chan struct{}
}

// NewThread allocates a guest thread's state and per-thread caches.
// is32Bit mirrors guest.GuestCpuState.Is32Bit.
func NewThread(id int32, is32Bit bool) *Thread {
	cpu := &guest.GuestCpuState{Is32Bit: is32Bit}
	cpu.Reset()
	cfg := ir.FingerprintTSO
	return &Thread{
		ID:       id,
		CPU:      cpu,
		Config:   cfg,
		Cache:    NewBlockCache(),
		scratch:  make([]byte, scratchBytes),
		signalMu: make(chan struct{}, 1),
		Resume:   make(chan struct{}),
	}
}

// RaiseSignal enqueues signo for delivery at the next block boundary.
func (t *Thread) RaiseSignal(signo int) {
	t.signalMu <- struct{}{}
	t.SignalQueue = append(t.SignalQueue, signo)
	<-t.signalMu
	t.PendingSignal.Store(true)
}

func (t *Thread) popSignal() (int, bool) {
	t.signalMu <- struct{}{}
	defer func() { <-t.signalMu }()
	if len(t.SignalQueue) == 0 {
		t.PendingSignal.Store(false)
		return 0, false
	}
	signo := t.SignalQueue[0]
	t.SignalQueue = t.SignalQueue[1:]
	if len(t.SignalQueue) == 0 {
		t.PendingSignal.Store(false)
	}
	return signo, true
}

func cpuStatePtr(cpu *guest.GuestCpuState) uintptr { return addrOfCPUState(cpu) }
func scratchPtr(t *Thread) uintptr                 { return addrOfScratch(t.scratch) }
