package dispatch

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Guest x86-64 syscall numbers the default trampoline table covers
// (SPEC_FULL.md's Passthrough-derived slice: the mmap family, write,
// signal registration, and process exit). Everything else raises
// SIGSYS rather than silently returning -ENOSYS.
const (
	sysWrite       = 1
	sysMmap        = 9
	sysMprotect    = 10
	sysMunmap      = 11
	sysRtSigaction = 13
	sysRtSigreturn = 15
	sysExit        = 60
	sysExitGroup   = 231
)

// Guest-visible signal numbers (x86-64 Linux numbering, which matches
// the ARM64 host's for every signal this core delivers).
const (
	sigILL  = 4
	sigTRAP = 5
	sigFPE  = 8
	sigSEGV = 11
	sigSYS  = 31
)

// FDTable maps guest file descriptors to host ones. Guest fds are
// handed out by the host kernel itself (this is a passthrough
// translator, not a sandbox), so entries exist only where the two
// deliberately diverge: tests repointing stdout, or the daemon's log
// FD standing in for stderr.
type FDTable struct {
	mu  sync.Mutex
	fds map[int]int
}

func NewFDTable() *FDTable {
	return &FDTable{fds: make(map[int]int)}
}

// Remap points guest fd at host fd for subsequent syscalls.
func (t *FDTable) Remap(guestFD, hostFD int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fds[guestFD] = hostFD
}

func (t *FDTable) host(guestFD int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.fds[guestFD]; ok {
		return h
	}
	return guestFD
}

// doSyscall performs the guest system call whose arguments the
// just-exited block left in the architected registers (RAX number,
// RDI/RSI/RDX/R10/R8/R9 arguments). The result or -errno is written
// back to RAX, matching the kernel ABI the guest's libc expects.
func (r *Runner) doSyscall(t *Thread) (ShutdownReason, error) {
	cpu := t.CPU
	num := cpu.GPR[0]
	a1, a2, a3 := cpu.GPR[7], cpu.GPR[6], cpu.GPR[2] // RDI, RSI, RDX

	switch num {
	case sysWrite:
		buf := make([]byte, a3)
		if err := r.Mem.ReadGuestBytes(a2, buf); err != nil {
			cpu.GPR[0] = errnoReturn(unix.EFAULT)
			return ShutdownNone, nil
		}
		n, err := unix.Write(r.FDs.host(int(a1)), buf)
		if err != nil {
			cpu.GPR[0] = errnoReturn(err.(unix.Errno))
		} else {
			cpu.GPR[0] = uint64(n)
		}

	case sysMmap:
		prot, flags := int(a3), int(cpu.GPR[10])
		fd, off := int(int64(cpu.GPR[8])), int64(cpu.GPR[9])
		base, err := r.Mem.InterceptMmap(a1, a2, prot, flags, fd, off)
		if err != nil {
			cpu.GPR[0] = errnoReturn(unix.ENOMEM)
		} else {
			cpu.GPR[0] = base
		}

	case sysMprotect:
		if err := r.Mem.InterceptMprotect(a1, a2, int(a3)); err != nil {
			cpu.GPR[0] = errnoReturn(unix.EINVAL)
		} else {
			cpu.GPR[0] = 0
		}

	case sysMunmap:
		if err := r.Mem.InterceptMunmap(a1, a2); err != nil {
			cpu.GPR[0] = errnoReturn(unix.EINVAL)
		} else {
			cpu.GPR[0] = 0
		}

	case sysRtSigaction:
		cpu.GPR[0] = r.sigaction(int(a1), a2, a3)

	case sysRtSigreturn:
		if err := r.sigreturn(t); err != nil {
			return ShutdownFault, err
		}

	case sysExit, sysExitGroup:
		r.ExitCode = int(int32(a1))
		return ShutdownExit, nil

	default:
		r.onceLog.Warn(r.log, fmt.Sprintf("sys-%d", num), "unimplemented guest syscall %d, raising SIGSYS", num)
		t.RaiseSignal(sigSYS)
	}
	return ShutdownNone, nil
}

// errnoReturn encodes a host errno the way the kernel syscall ABI
// does: as the two's-complement negative in RAX.
func errnoReturn(e unix.Errno) uint64 {
	return uint64(-int64(e))
}
