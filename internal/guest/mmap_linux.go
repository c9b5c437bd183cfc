//go:build linux

package guest

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// addrOf returns the host virtual address backing a byte slice
// allocated by unix.Mmap. Used only to recover the base address mmap
// chose so it can be recorded as the guest's identity-mapped base.
func addrOf(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

// unixMmapAt wraps the raw mmap(2) syscall so a fixed address hint can
// be supplied; golang.org/x/sys/unix.Mmap always passes addr=0.
func unixMmapAt(addrHint uintptr, fd int, off int64, length, prot, flags int) ([]byte, error) {
	ptr, _, errno := unix.Syscall6(unix.SYS_MMAP, addrHint, uintptr(length), uintptr(prot), uintptr(flags), uintptr(fd), uintptr(off))
	if errno != 0 {
		return nil, errno
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), length), nil
}
