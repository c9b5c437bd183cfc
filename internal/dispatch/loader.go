package dispatch

import (
	"fmt"

	"github.com/otterjit/otterjit/internal/guest"
)

// CodeLoader is the contract an external guest-image provider
// implements (spec §6): the dispatcher never parses ELF or argument
// vectors itself, it only asks the loader for a memory layout, an
// entry point, and a populated stack.
type CodeLoader interface {
	// StackSize returns how many bytes of guest stack to reserve.
	StackSize() uint64

	// SetupStack populates the reserved stack region and returns the
	// initial RSP. hostPtr and guestPtr address the same bytes
	// (identity mapping); they are passed separately so a loader
	// written against a future non-identity mapping keeps working.
	SetupStack(hostPtr uintptr, guestPtr uint64) (uint64, error)

	// DefaultRIP returns the guest entry point.
	DefaultRIP() uint64

	// Layout returns the page-aligned [start, end) guest address range
	// plus its total size.
	Layout() (start, end, size uint64)

	// LoadMemory writes the guest image through writer, which copies
	// size bytes into guest memory at guestOff relative to the layout
	// start.
	LoadMemory(writer func(data []byte, guestOff uint64) error) error
}

// SetupGuest reserves the loader's layout and stack in mem, loads the
// image, and primes thread's CPU state (RIP, RSP). It returns the base
// address the image was loaded at. The host's mmap chooses that
// address, so it need not equal the loader's own layout start; the
// entry RIP is rebased by the difference.
func SetupGuest(mem *guest.Manager, thread *Thread, loader CodeLoader) (uint64, error) {
	_, _, size := loader.Layout()
	base, err := mem.AllocateGuestRegion(size)
	if err != nil {
		return 0, fmt.Errorf("reserve guest image: %w", err)
	}

	err = loader.LoadMemory(func(data []byte, guestOff uint64) error {
		return mem.WriteGuestBytes(base+guestOff, data)
	})
	if err != nil {
		return 0, fmt.Errorf("load guest image: %w", err)
	}

	stackSize := loader.StackSize()
	stackBase, err := mem.AllocateGuestRegion(stackSize)
	if err != nil {
		return 0, fmt.Errorf("reserve guest stack: %w", err)
	}
	rsp, err := loader.SetupStack(uintptr(stackBase), stackBase)
	if err != nil {
		return 0, fmt.Errorf("populate guest stack: %w", err)
	}

	start, _, _ := loader.Layout()
	thread.CPU.RIP = base + (loader.DefaultRIP() - start)
	thread.CPU.GPR[4] = rsp // RSP
	return base, nil
}
