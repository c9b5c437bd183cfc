package arm64gen

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Buffer is an executable code region CodeGen emits into. It is
// grounded on spec §4.E "Failure: code-buffer exhaustion triggers a
// buffer-grow; if the buffer cannot grow (configured maximum), the
// oldest non-pinned blocks are evicted" — Grow and Evict implement
// exactly that two-step policy.
type Buffer struct {
	mem      []byte // mmap'd PROT_READ|PROT_WRITE|PROT_EXEC region
	len      int
	maxBytes int

	// blocks records, in publish order, the [start,end) byte range of
	// every sealed block still resident, for Evict's oldest-first scan.
	blocks []blockRange
}

type blockRange struct {
	start, end int
	pinned     bool
}

// NewBuffer reserves an RWX region sized initialBytes, growable up to
// maxBytes.
func NewBuffer(initialBytes, maxBytes int) (*Buffer, error) {
	mem, err := unix.Mmap(-1, 0, initialBytes,
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("arm64gen: reserve code buffer: %w", err)
	}
	return &Buffer{mem: mem, maxBytes: maxBytes}, nil
}

func (b *Buffer) Len() int { return b.len }

// Contents returns the emitted bytes so far. Used by the idempotence
// tests (spec §8: "lifting the same (rip, config) twice yields
// byte-identical host code") and by diagnostics; never on the hot path.
func (b *Buffer) Contents() []byte { return b.mem[:b.len] }

// Emit appends one 32-bit AArch64 instruction word, growing the
// buffer first if needed.
func (b *Buffer) Emit(word uint32) {
	if b.len+4 > len(b.mem) {
		if err := b.grow(); err != nil {
			b.evictOldest()
		}
	}
	b.mem[b.len+0] = byte(word)
	b.mem[b.len+1] = byte(word >> 8)
	b.mem[b.len+2] = byte(word >> 16)
	b.mem[b.len+3] = byte(word >> 24)
	b.len += 4
}

// Seal finalizes the block that began at byte offset start, recording
// its range for future eviction scans, and returns its entry address.
func (b *Buffer) Seal(start int) (uintptr, error) {
	if len(b.mem) == 0 {
		return 0, fmt.Errorf("arm64gen: seal on empty buffer")
	}
	b.blocks = append(b.blocks, blockRange{start: start, end: b.len})
	return uintptr(unsafePointer(b.mem)) + uintptr(start), nil
}

// Pin marks the most recently sealed block as never-evict (used for
// blocks the AOT writer is mid-serialization of, or hot entry blocks).
func (b *Buffer) Pin() {
	if n := len(b.blocks); n > 0 {
		b.blocks[n-1].pinned = true
	}
}

func (b *Buffer) grow() error {
	newSize := len(b.mem) * 2
	if newSize == 0 {
		newSize = 64 * 1024
	}
	if newSize > b.maxBytes {
		return fmt.Errorf("arm64gen: code buffer at configured maximum (%d bytes)", b.maxBytes)
	}
	grown, err := unix.Mmap(-1, 0, newSize,
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return fmt.Errorf("arm64gen: grow code buffer: %w", err)
	}
	copy(grown, b.mem[:b.len])
	unix.Munmap(b.mem)
	b.mem = grown
	return nil
}

// evictOldest removes the oldest non-pinned sealed blocks until enough
// room opens for the in-flight Emit to proceed. Eviction here means
// forgetting the block's range (its BlockCache entries are invalidated
// by the caller, per spec §4.F); the bytes themselves are left in
// place and simply overwritten by the next Emit once len is rewound.
func (b *Buffer) evictOldest() {
	for i, r := range b.blocks {
		if r.pinned {
			continue
		}
		b.len = r.start
		b.blocks = b.blocks[i+1:]
		return
	}
}

func encodeNOP() uint32 { return 0xD503201F }
