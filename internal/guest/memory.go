package guest

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// PageSize is the guest (and host) page granularity used for the
// code-present bitmap and SMC invalidation (spec §3, BlockCache
// invariant).
const PageSize = 4096

// AddressTranslationFault is returned when a guest address falls
// outside any region this manager reserved, or access violates the
// region's protection bits (spec §4.A "Error conditions").
type AddressTranslationFault struct {
	Addr uint64
	Len  uint64
	Op   string // "read", "write", "exec"
}

func (e *AddressTranslationFault) Error() string {
	return fmt.Sprintf("guest address translation fault: %s at 0x%x (len %d)", e.Op, e.Addr, e.Len)
}

// region describes one host-backed mapping of the guest address space.
// Since the translator runs in identity-mapped mode, Host == Guest for
// the lifetime of the mapping; the field split exists so a future
// non-identity mapping mode (see spec §9's Address newtype note) only
// needs HostPtr to change.
type region struct {
	guestBase uint64
	hostBase  uintptr
	length    uint64
	prot      int
	data      []byte // mmap-backed slice, length == length
}

func (r *region) contains(addr, length uint64) bool {
	return addr >= r.guestBase && addr+length <= r.guestBase+r.length
}

// Manager is the Guest Memory Manager (spec §4.A). One Manager per
// guest process; shared (read-mostly) across all of that process's
// guest threads.
//
// Grounded on memory_bus.go's SystemBus: a page-keyed map protects
// memory-mapped regions, RWMutex guards concurrent access. Here the
// "memory" is real host mmap'd pages rather than a flat Go slice, and
// the map's job is SMC bookkeeping rather than MMIO dispatch.
type Manager struct {
	mu      sync.RWMutex
	regions []*region

	// codePages tracks which guest pages have been marked as containing
	// translated code, keyed by page-aligned guest address.
	codePages map[uint64]bool

	// OnInvalidate is called (with the mutex already released) for
	// every page transitioning to non-executable or written-to under
	// SMC policy. The dispatcher wires this to its BlockCache eviction.
	OnInvalidate func(page uint64)

	// SMCMode selects invalidation aggressiveness: "full" invalidates
	// on every write to a code page; "none" never invalidates (fast,
	// unsafe for genuinely self-modifying guests). See spec §3.
	SMCMode string

	is32Bit bool
}

// NewManager creates a Guest Memory Manager. is32Bit constrains all
// future AllocateGuestRegion calls to addresses below 2^32 (spec §4.A).
func NewManager(is32Bit bool) *Manager {
	return &Manager{
		codePages: make(map[uint64]bool),
		SMCMode:   "full",
		is32Bit:   is32Bit,
	}
}

// AllocateGuestRegion reserves size bytes of host-observable guest
// address space via a real mmap, returning the base address both the
// guest and the host will use to reach it (identity mapping).
func (m *Manager) AllocateGuestRegion(size uint64) (uint64, error) {
	aligned := (size + PageSize - 1) &^ (PageSize - 1)
	data, err := unix.Mmap(-1, 0, int(aligned), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return 0, fmt.Errorf("allocate guest region: %w", err)
	}
	base := uintptr(addrOf(data))
	if m.is32Bit && uint64(base)+aligned > 1<<32 {
		unix.Munmap(data)
		return 0, fmt.Errorf("allocate guest region: host allocated above 4GiB for a 32-bit guest")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.regions = append(m.regions, &region{
		guestBase: uint64(base),
		hostBase:  base,
		length:    aligned,
		prot:      unix.PROT_READ | unix.PROT_WRITE,
		data:      data,
	})
	return uint64(base), nil
}

// InterceptMmap applies a guest mmap(2) call. When fd == -1 this is an
// anonymous mapping; otherwise off/len describe a file-backed mapping
// the caller has already validated via the CodeLoader contract.
func (m *Manager) InterceptMmap(guestAddr uint64, length uint64, prot, flags int, fd int, off int64) (uint64, error) {
	aligned := (length + PageSize - 1) &^ (PageSize - 1)
	hostFlags := unix.MAP_PRIVATE
	if flags&MapFixed != 0 {
		// NOREPLACE rather than plain FIXED: a guest asking for an
		// address the host runtime already occupies must fail cleanly,
		// never silently clobber this process's own mappings.
		hostFlags |= unix.MAP_FIXED_NOREPLACE
	}
	if fd < 0 {
		hostFlags |= unix.MAP_ANONYMOUS
		fd = -1
	}

	var addrHint uintptr
	if flags&MapFixed != 0 {
		addrHint = uintptr(guestAddr)
	}
	data, err := unixMmapAt(addrHint, fd, off, int(aligned), hostProt(prot), hostFlags)
	if err != nil {
		return 0, fmt.Errorf("guest mmap: %w", err)
	}

	base := uint64(addrOf(data))
	m.mu.Lock()
	m.regions = append(m.regions, &region{
		guestBase: base,
		hostBase:  uintptr(base),
		length:    aligned,
		prot:      prot,
		data:      data,
	})
	m.mu.Unlock()

	// A fresh mapping carries no translated code.
	m.invalidateRange(base, aligned)
	return base, nil
}

// InterceptMprotect changes protection on an existing mapping. If the
// page transitions to writable (and SMC mode is "full") or to
// non-executable, every block overlapping the page is invalidated
// before this call returns (spec §4.A).
func (m *Manager) InterceptMprotect(guestAddr, length uint64, prot int) error {
	m.mu.Lock()
	r := m.findRegionLocked(guestAddr, length)
	if r == nil {
		m.mu.Unlock()
		return &AddressTranslationFault{Addr: guestAddr, Len: length, Op: "mprotect"}
	}
	wasExec := r.prot&unix.PROT_EXEC != 0
	if err := unix.Mprotect(r.data, hostProt(prot)); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("guest mprotect: %w", err)
	}
	r.prot = prot
	becameWritable := prot&unix.PROT_WRITE != 0
	becameNonExec := wasExec && prot&unix.PROT_EXEC == 0
	m.mu.Unlock()

	if becameNonExec || (becameWritable && m.SMCMode == "full") {
		m.invalidateRange(guestAddr, length)
	}
	return nil
}

// InterceptMunmap releases a mapping and invalidates any blocks that
// overlapped it.
func (m *Manager) InterceptMunmap(guestAddr, length uint64) error {
	m.mu.Lock()
	r := m.findRegionLocked(guestAddr, length)
	if r == nil {
		m.mu.Unlock()
		return &AddressTranslationFault{Addr: guestAddr, Len: length, Op: "munmap"}
	}
	unix.Munmap(r.data)
	for i, rr := range m.regions {
		if rr == r {
			m.regions = append(m.regions[:i], m.regions[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	m.invalidateRange(guestAddr, length)
	return nil
}

func (m *Manager) invalidateRange(addr, length uint64) {
	first := addr &^ (PageSize - 1)
	last := (addr + length - 1) &^ (PageSize - 1)
	m.mu.Lock()
	for page := first; page <= last; page += PageSize {
		delete(m.codePages, page)
	}
	cb := m.OnInvalidate
	m.mu.Unlock()
	if cb == nil {
		return
	}
	for page := first; page <= last; page += PageSize {
		cb(page)
	}
}

// Is32Bit reports whether this manager constrains allocations to the
// low 4 GiB for a 32-bit guest.
func (m *Manager) Is32Bit() bool { return m.is32Bit }

// IsCodePage reports whether page (must be page-aligned) is currently
// marked as holding translated code.
func (m *Manager) IsCodePage(page uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.codePages[page&^(PageSize-1)]
}

// MarkCodePage records that page now holds translated code, so a
// future write to it triggers invalidation.
func (m *Manager) MarkCodePage(page uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codePages[page&^(PageSize-1)] = true
}

// ReadGuestBytes performs a read-through guest memory read, used by
// the decoder to fetch instruction bytes (spec §4.A).
func (m *Manager) ReadGuestBytes(addr uint64, buf []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r := m.findRegionLocked(addr, uint64(len(buf)))
	if r == nil {
		return &AddressTranslationFault{Addr: addr, Len: uint64(len(buf)), Op: "read"}
	}
	if r.prot&unix.PROT_READ == 0 {
		return &AddressTranslationFault{Addr: addr, Len: uint64(len(buf)), Op: "read"}
	}
	off := addr - r.guestBase
	copy(buf, r.data[off:off+uint64(len(buf))])
	return nil
}

// WriteGuestBytes writes into guest memory, checking PROT_WRITE.
func (m *Manager) WriteGuestBytes(addr uint64, data []byte) error {
	m.mu.RLock()
	r := m.findRegionLocked(addr, uint64(len(data)))
	m.mu.RUnlock()
	if r == nil {
		return &AddressTranslationFault{Addr: addr, Len: uint64(len(data)), Op: "write"}
	}
	if r.prot&unix.PROT_WRITE == 0 {
		return &AddressTranslationFault{Addr: addr, Len: uint64(len(data)), Op: "write"}
	}
	off := addr - r.guestBase
	copy(r.data[off:off+uint64(len(data))], data)

	if m.SMCMode == "full" && m.touchesCodePage(addr, uint64(len(data))) {
		m.invalidateRange(addr, uint64(len(data)))
	}
	return nil
}

func (m *Manager) touchesCodePage(addr, length uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	first := addr &^ (PageSize - 1)
	last := (addr + length - 1) &^ (PageSize - 1)
	for page := first; page <= last; page += PageSize {
		if m.codePages[page] {
			return true
		}
	}
	return false
}

func (m *Manager) findRegionLocked(addr, length uint64) *region {
	for _, r := range m.regions {
		if r.contains(addr, length) {
			return r
		}
	}
	return nil
}

// MapFixed mirrors MAP_FIXED from the guest's perspective; kept
// independent of the host unix constant so guest flag values (which
// come from the translated binary's own libc) never need to match the
// host's numbering.
const MapFixed = 0x10

func hostProt(guestProt int) int {
	var p int
	if guestProt&1 != 0 {
		p |= unix.PROT_READ
	}
	if guestProt&2 != 0 {
		p |= unix.PROT_WRITE
	}
	if guestProt&4 != 0 {
		p |= unix.PROT_EXEC
	}
	return p
}
