package arm64gen

import "unsafe"

// unsafePointer returns the address of a byte slice's backing array,
// used only to turn a sealed code range into the raw entry pointer the
// dispatcher branches to (spec §4.E: "return (entry_ptr, size)").
func unsafePointer(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}
