package dispatch

import (
	"encoding/binary"
	"fmt"
)

// sigreturnRIP is the synthetic return address pushed under every
// injected signal frame. It lives in a guest address range no loader
// maps (the top 4 KiB of the 47-bit user canonical space), so the
// dispatcher can recognize "the guest handler returned" as a plain
// RIP compare at the top of the run loop instead of planting real
// sigreturn instruction bytes in guest memory.
const sigreturnRIP uint64 = 0x7FFF_FFFF_F000

// Injected frame layout, grown downward from the interrupted RSP
// (all fields 8 bytes, x86-shaped per spec §4.F "constructs an
// x86-shaped signal frame on the guest stack"):
//
//	[RSP-8]    return address = sigreturnRIP
//	[RSP-16]   saved RIP
//	[RSP-24]   saved EFLAGS (packed word)
//	[RSP-152]  saved GPR[15] .. GPR[0]
//
// The handler runs with RSP pointing at the return address, RDI
// holding the signal number, per the x86-64 signal ABI's register
// entry convention.
const sigFrameBytes = 8 + 8 + 8 + 16*8

// sigaction implements rt_sigaction: record (or report) the guest's
// registered handler for signo. act/oldact are guest pointers to the
// kernel sigaction struct, whose first 8 bytes are the handler.
func (r *Runner) sigaction(signo int, act, oldact uint64) uint64 {
	r.sigMu.Lock()
	prev := r.sigHandlers[signo]
	r.sigMu.Unlock()

	if oldact != 0 {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], prev)
		if err := r.Mem.WriteGuestBytes(oldact, buf[:]); err != nil {
			return errnoReturn(14) // EFAULT
		}
	}
	if act != 0 {
		var buf [8]byte
		if err := r.Mem.ReadGuestBytes(act, buf[:]); err != nil {
			return errnoReturn(14)
		}
		handler := binary.LittleEndian.Uint64(buf[:])
		r.sigMu.Lock()
		r.sigHandlers[signo] = handler
		r.sigMu.Unlock()
	}
	return 0
}

func (r *Runner) handlerFor(signo int) uint64 {
	r.sigMu.Lock()
	defer r.sigMu.Unlock()
	return r.sigHandlers[signo]
}

// injectPendingSignals drains the thread's signal queue (spec §4.F
// "Signal model"). A signal with a registered guest handler gets a
// frame pushed and RIP redirected; one without a handler whose
// default action is fatal ends the run loop with ShutdownFault.
func (r *Runner) injectPendingSignals(t *Thread) (ShutdownReason, bool) {
	for {
		signo, ok := t.popSignal()
		if !ok {
			return ShutdownNone, false
		}

		handler := r.handlerFor(signo)
		if handler == 0 {
			r.log.Printf("thread %d: fatal signal %d at RIP 0x%x, no guest handler", t.ID, signo, t.CPU.RIP)
			return ShutdownFault, true
		}
		if err := r.pushSignalFrame(t, signo, handler); err != nil {
			r.log.Printf("thread %d: signal frame push failed: %v", t.ID, err)
			return ShutdownFault, true
		}
	}
}

func (r *Runner) pushSignalFrame(t *Thread, signo int, handler uint64) error {
	cpu := t.CPU
	frame := make([]byte, sigFrameBytes)

	// Bottom of frame (lowest address) first: GPR[15] down to GPR[0],
	// then EFLAGS, saved RIP, and the sigreturn address on top.
	off := 0
	for i := 15; i >= 0; i-- {
		binary.LittleEndian.PutUint64(frame[off:], cpu.GPR[i])
		off += 8
	}
	binary.LittleEndian.PutUint64(frame[off:], uint64(cpu.EFLAGSWord()))
	off += 8
	binary.LittleEndian.PutUint64(frame[off:], cpu.RIP)
	off += 8
	binary.LittleEndian.PutUint64(frame[off:], sigreturnRIP)

	newRSP := cpu.GPR[4] - sigFrameBytes
	if err := r.Mem.WriteGuestBytes(newRSP, frame); err != nil {
		return fmt.Errorf("write signal frame at 0x%x: %w", newRSP, err)
	}

	cpu.GPR[4] = newRSP + sigFrameBytes - 8 // RSP points at the return address
	cpu.GPR[7] = uint64(signo)              // RDI: signal number
	cpu.RIP = handler
	return nil
}

// sigreturn unwinds the most recent injected frame. Reached either
// when the handler RETs (RIP becomes sigreturnRIP with RSP just above
// the return-address slot) or via an explicit rt_sigreturn syscall.
func (r *Runner) sigreturn(t *Thread) error {
	cpu := t.CPU

	// After the handler's RET popped the return address, RSP is back at
	// the interrupted RSP, the top of the frame; the whole frame lies
	// below it.
	savedTop := cpu.GPR[4]
	frame := make([]byte, sigFrameBytes-8)
	base := savedTop - sigFrameBytes // frame start (GPR[15] slot)
	if err := r.Mem.ReadGuestBytes(base, frame); err != nil {
		return fmt.Errorf("read signal frame at 0x%x: %w", base, err)
	}

	off := 0
	for i := 15; i >= 0; i-- {
		cpu.GPR[i] = binary.LittleEndian.Uint64(frame[off:])
		off += 8
	}
	cpu.SetEFLAGSWord(uint32(binary.LittleEndian.Uint64(frame[off:])))
	off += 8
	cpu.RIP = binary.LittleEndian.Uint64(frame[off:])

	// RSP was restored from the saved GPR[4] above, putting the guest
	// stack exactly where the interrupted code left it.
	return nil
}
