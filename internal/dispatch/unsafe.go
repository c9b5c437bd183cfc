package dispatch

import (
	"unsafe"

	"github.com/otterjit/otterjit/internal/guest"
)

// addrOfCPUState returns the host address of a thread's GuestCpuState,
// loaded into ARM64 x28 (arm64gen.RegCPUState) on every call into
// generated code. Mirrors arm64gen/unsafe.go's unsafePointer: a single
// narrow unsafe cast rather than pervasive unsafe.Pointer plumbing.
func addrOfCPUState(cpu *guest.GuestCpuState) uintptr {
	return uintptr(unsafe.Pointer(cpu))
}

// addrOfScratch returns the host address of a thread's spill-slot
// scratch buffer, pointed at by SP for the duration of one
// enterGuest call (see entry_arm64.s).
func addrOfScratch(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}
