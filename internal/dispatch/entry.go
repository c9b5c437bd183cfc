//go:build arm64

package dispatch

// enterGuest is implemented in entry_arm64.s: it loads cpuState into
// x28, scratch into SP, dispatcher into x26, and calls entry, all per
// spec §4.E's "every emitted block starts with a small prologue that
// verifies the current guest CPU state pointer is still live" and
// §4.F's register-pinning contract. It returns whatever the generated
// code's final instruction leaves in x0, unused by the current
// dispatcher loop but reserved for a future fast status-code path.
func enterGuest(entry, cpuState, scratch, dispatcher uintptr) uintptr
