// Package loader provides the simplest CodeLoader (spec §6): a flat
// binary image loaded at offset 0 and entered at a given offset. The real ELF loader is an
// external collaborator (spec §1 "OUT OF SCOPE"); this one exists so
// otterjit-run and the end-to-end tests can feed raw instruction
// bytes into the pipeline without one.
package loader

import (
	"fmt"
	"os"
)

const pageSize = 4096

// DefaultStackSize matches the kernel's default RLIMIT_STACK.
const DefaultStackSize = 8 << 20

// Flat maps a raw byte image at a translator-chosen base and enters
// at Entry.
type Flat struct {
	Image []byte
	Entry uint64 // offset into Image

	// Stack overrides DefaultStackSize when nonzero.
	Stack uint64
}

// Open reads path as a flat image entered at entry.
func Open(path string, entry uint64) (*Flat, error) {
	img, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loader: %w", err)
	}
	if entry >= uint64(len(img)) {
		return nil, fmt.Errorf("loader: entry 0x%x beyond image end 0x%x", entry, len(img))
	}
	return &Flat{Image: img, Entry: entry}, nil
}

func (f *Flat) StackSize() uint64 {
	if f.Stack != 0 {
		return f.Stack
	}
	return DefaultStackSize
}

// SetupStack leaves the stack empty and points RSP at its top, 16-byte
// aligned per the x86-64 ABI.
func (f *Flat) SetupStack(hostPtr uintptr, guestPtr uint64) (uint64, error) {
	top := guestPtr + f.StackSize()
	return top &^ 15, nil
}

func (f *Flat) DefaultRIP() uint64 { return f.Entry }

func (f *Flat) Layout() (start, end, size uint64) {
	size = (uint64(len(f.Image)) + pageSize - 1) &^ (pageSize - 1)
	return 0, size, size
}

func (f *Flat) LoadMemory(writer func(data []byte, guestOff uint64) error) error {
	return writer(f.Image, 0)
}
