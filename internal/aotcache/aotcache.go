// Package aotcache implements the AOT IR Cache (spec §4.G): a
// content-addressed, on-disk store of previously translated blocks
// keyed by file identity plus guest content hash, so a later run of
// the same binary can skip the decode/lift/optimize pipeline entirely
// on a hit.
//
// Grounded on original_source/FEXCore/Source/Interface/IR/AOTIR.cpp
// for the on-disk shape (cookie, append-only entry stream, trailing
// index, hash-mismatch-is-a-miss semantics) and on runtime_ipc.go's
// done-channel shutdown discipline for the background writer queue.
package aotcache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/otterjit/otterjit/internal/logging"
)

// cookie is the 8-byte file-format tag written at offset 0 (spec
// §4.G "Header: 8-byte cookie").
var cookie = [8]byte{'O', 'J', 'I', 'T', 'A', 'O', 'T', '1'}

// FileIdentity builds the "{basename}-{xxhash_of_full_path}-{config_char_flags}"
// string spec §4.G uses to segregate AOT cache files by loaded binary
// and by translator configuration.
func FileIdentity(fullPath string, configFlags string) string {
	h := xxhash.Sum64String(fullPath)
	base := fullPath
	for i := len(fullPath) - 1; i >= 0; i-- {
		if fullPath[i] == '/' {
			base = fullPath[i+1:]
			break
		}
	}
	return fmt.Sprintf("%s-%x-%s", base, h, configFlags)
}

// Entry is one translated block as stored in the cache (spec §4.G:
// "{guest_hash:u64, guest_length:u64, ra_data_blob, ir_blob}").
type Entry struct {
	GuestStartOffset uint64 // RIP offset from the mapped file's base
	GuestHash        uint64
	GuestLength      uint64
	RAData           []byte // register-allocation metadata, opaque to this package
	IRBlob           []byte // ir.Serialize output
}

// indexRecord is the {guest_start_offset, file_offset} pair stored in
// the trailing index (spec §4.G).
type indexRecord struct {
	GuestStartOffset uint64
	FileOffset       uint64
}

// Stats counts cache outcomes for diagnostics (SUPPLEMENTED FEATURES:
// "a corrupt/stale entry is treated as a miss... the original
// additionally records which entries were rejected and why").
type Stats struct {
	Hits           atomic.Int64
	Misses         atomic.Int64
	HashMismatches atomic.Int64
}

// Reader mmaps an AOT cache file read-only and serves Lookup via
// binary search over its trailing index, per spec §4.G "Reads mmap
// the file read-only and binary-search the index."
type Reader struct {
	data   []byte
	index  []indexRecord
	fileID string
	stats  Stats
	mu     sync.Mutex // not taken by any Reader method
}

// Open maps path and parses its trailer. A cookie mismatch or
// truncated trailer is reported as an error by the caller's discretion
// — per spec §7 "AOT cache corruption: treated as miss; the bad file
// is not auto-deleted but a warning is logged", callers should log and
// continue rather than abort.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("aotcache: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("aotcache: stat %s: %w", path, err)
	}
	size := info.Size()
	if size < int64(len(cookie))+8 {
		return nil, fmt.Errorf("aotcache: %s too small to be a valid cache file", path)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("aotcache: mmap %s: %w", path, err)
	}
	if !bytes.Equal(data[:8], cookie[:]) {
		unix.Munmap(data)
		return nil, fmt.Errorf("aotcache: %s: bad cookie", path)
	}

	r := &Reader{data: data}
	if err := r.parseTrailer(); err != nil {
		unix.Munmap(data)
		return nil, fmt.Errorf("aotcache: %s: %w", path, err)
	}
	return r, nil
}

// parseTrailer reads, from the end of the file inward: idLen (u64),
// FileID (idLen bytes), indexSize (u64), then indexSize bytes of
// packed indexRecord entries immediately before that — mirroring
// AOTIR.cpp's LoadAOTIRCache, which seeks backward from EOF through
// the same three fields in the same order.
func (r *Reader) parseTrailer() error {
	n := len(r.data)
	if n < 8 {
		return fmt.Errorf("truncated trailer")
	}
	idLen := binary.LittleEndian.Uint64(r.data[n-8:])
	if int64(idLen) < 0 || n < 8+int(idLen)+8 {
		return fmt.Errorf("corrupt file-identifier length")
	}
	idStart := n - 8 - int(idLen)
	r.fileID = string(r.data[idStart : idStart+int(idLen)])

	if idStart < 8 {
		return fmt.Errorf("corrupt trailer: no room for index size")
	}
	indexSize := binary.LittleEndian.Uint64(r.data[idStart-8 : idStart])
	indexStart := idStart - 8 - int(indexSize)
	if indexStart < len(cookie) || indexSize%16 != 0 {
		return fmt.Errorf("corrupt index size %d", indexSize)
	}

	count := int(indexSize / 16)
	r.index = make([]indexRecord, count)
	for i := 0; i < count; i++ {
		off := indexStart + i*16
		r.index[i] = indexRecord{
			GuestStartOffset: binary.LittleEndian.Uint64(r.data[off : off+8]),
			FileOffset:       binary.LittleEndian.Uint64(r.data[off+8 : off+16]),
		}
	}
	sort.Slice(r.index, func(i, j int) bool { return r.index[i].GuestStartOffset < r.index[j].GuestStartOffset })
	return nil
}

// FileID returns the identifier string stored in the trailer, for a
// caller to compare against the expected FileIdentity() before trusting
// any lookup (a mismatch means this file belongs to a different binary
// or configuration and should be treated as absent entirely).
func (r *Reader) FileID() string { return r.fileID }

// PeekLength returns the guest byte length recorded for startOffset
// without validating any hash, so a caller can read exactly that many
// guest bytes before computing the hash Lookup needs.
func (r *Reader) PeekLength(startOffset uint64) (length uint64, ok bool) {
	i := sort.Search(len(r.index), func(i int) bool { return r.index[i].GuestStartOffset >= startOffset })
	if i >= len(r.index) || r.index[i].GuestStartOffset != startOffset {
		return 0, false
	}
	off := int(r.index[i].FileOffset)
	if off+16 > len(r.data) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(r.data[off+8 : off+16]), true
}

// Lookup binary-searches the index for startOffset and, on a match,
// verifies guestHash before returning the stored blobs. A hash
// mismatch is reported via Stats and treated as a miss (spec §3: "hash
// mismatch -> treat as miss (handles tampering or stale cache)").
func (r *Reader) Lookup(startOffset, guestHash uint64) (raData, irBlob []byte, ok bool) {
	i := sort.Search(len(r.index), func(i int) bool { return r.index[i].GuestStartOffset >= startOffset })
	if i >= len(r.index) || r.index[i].GuestStartOffset != startOffset {
		r.stats.Misses.Add(1)
		return nil, nil, false
	}
	rec := r.index[i]
	off := int(rec.FileOffset)
	if off+16 > len(r.data) {
		r.stats.Misses.Add(1)
		return nil, nil, false
	}
	storedHash := binary.LittleEndian.Uint64(r.data[off : off+8])
	guestLen := binary.LittleEndian.Uint64(r.data[off+8 : off+16])
	_ = guestLen
	if storedHash != guestHash {
		r.stats.HashMismatches.Add(1)
		return nil, nil, false
	}
	pos := off + 16
	raLen := binary.LittleEndian.Uint32(r.data[pos : pos+4])
	pos += 4
	ra := r.data[pos : pos+int(raLen)]
	pos += int(raLen)
	irLen := binary.LittleEndian.Uint32(r.data[pos : pos+4])
	pos += 4
	ir := r.data[pos : pos+int(irLen)]

	r.stats.Hits.Add(1)
	return ra, ir, true
}

// Entries walks the index in guest-offset order, reporting each
// entry's metadata. Used by the cache inspection tool; the hot lookup
// path never iterates.
func (r *Reader) Entries(fn func(startOffset, guestHash, guestLength uint64, raLen, irLen int)) {
	for _, rec := range r.index {
		off := int(rec.FileOffset)
		if off+16 > len(r.data) {
			continue
		}
		hash := binary.LittleEndian.Uint64(r.data[off : off+8])
		length := binary.LittleEndian.Uint64(r.data[off+8 : off+16])
		pos := off + 16
		raLen := int(binary.LittleEndian.Uint32(r.data[pos : pos+4]))
		pos += 4 + raLen
		irLen := int(binary.LittleEndian.Uint32(r.data[pos : pos+4]))
		fn(rec.GuestStartOffset, hash, length, raLen, irLen)
	}
}

// Stats returns hit/miss/hash-mismatch counters accumulated since Open.
func (r *Reader) Stats() (hits, misses, hashMismatches int64) {
	return r.stats.Hits.Load(), r.stats.Misses.Load(), r.stats.HashMismatches.Load()
}

// Close unmaps the cache file.
func (r *Reader) Close() error {
	if r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	r.data = nil
	return err
}

// flushThreshold is the backpressure point from spec §5: "AOT cache
// writer queue: single producer per thread, single consumer (writer
// thread), bounded; backpressure applied by waiting on the queue at
// ~10k entries."
const flushThreshold = 10000

// Writer accumulates Entry values for one file identity and flushes
// them to disk on Close or every flushThreshold entries, writing to a
// ".tmp" path and renaming atomically into place (spec §4.G: "the
// writer renames a .tmp to final atomically").
type Writer struct {
	path   string
	fileID string
	log    *logging.Logger

	mu      sync.Mutex
	pending []Entry

	queue chan Entry
	grp   *errgroup.Group
	done  chan struct{}
}

// NewWriter starts a Writer's background flush goroutine. Call Close
// to flush remaining entries and finalize the file.
func NewWriter(path, fileID string, log *logging.Logger) *Writer {
	w := &Writer{
		path:   path,
		fileID: fileID,
		log:    log,
		queue:  make(chan Entry, flushThreshold),
		done:   make(chan struct{}),
	}
	grp := &errgroup.Group{}
	grp.Go(w.run)
	w.grp = grp
	return w
}

// Append queues e for eventual disk write. Blocks (applying
// backpressure) once flushThreshold entries are in flight, per spec §5.
func (w *Writer) Append(e Entry) {
	w.queue <- e
}

func (w *Writer) run() error {
	for {
		select {
		case e, ok := <-w.queue:
			if !ok {
				return nil
			}
			w.mu.Lock()
			w.pending = append(w.pending, e)
			snapshot := w.pending
			w.mu.Unlock()
			if len(snapshot)%flushThreshold == 0 {
				if err := w.writeFile(snapshot); err != nil && w.log != nil {
					w.log.Printf("%v", err)
				}
			}
		case <-w.done:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case e := <-w.queue:
					w.mu.Lock()
					w.pending = append(w.pending, e)
					w.mu.Unlock()
				default:
					return nil
				}
			}
		}
	}
}

// Close stops the background goroutine and writes the final file,
// mirroring AOTIRCaptureCache::FinalizeAOTIRCache's flush-then-rename
// sequence.
func (w *Writer) Close() error {
	close(w.done)
	_ = w.grp.Wait()
	close(w.queue)

	w.mu.Lock()
	entries := w.pending
	w.mu.Unlock()

	if len(entries) == 0 {
		return nil
	}
	return w.writeFile(entries)
}

func (w *Writer) writeFile(entries []Entry) error {
	tmpPath := w.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("aotcache: create %s: %w", tmpPath, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	buf.Write(cookie[:])

	index := make([]indexRecord, 0, len(entries))
	for _, e := range entries {
		off := uint64(buf.Len())
		binary.Write(&buf, binary.LittleEndian, e.GuestHash)
		binary.Write(&buf, binary.LittleEndian, e.GuestLength)
		binary.Write(&buf, binary.LittleEndian, uint32(len(e.RAData)))
		buf.Write(e.RAData)
		binary.Write(&buf, binary.LittleEndian, uint32(len(e.IRBlob)))
		buf.Write(e.IRBlob)
		index = append(index, indexRecord{GuestStartOffset: e.GuestStartOffset, FileOffset: off})
	}

	// The reader binary-searches the index, so it must be written in
	// guest-offset order regardless of translation order.
	sort.Slice(index, func(i, j int) bool { return index[i].GuestStartOffset < index[j].GuestStartOffset })

	indexStart := buf.Len()
	for _, rec := range index {
		binary.Write(&buf, binary.LittleEndian, rec.GuestStartOffset)
		binary.Write(&buf, binary.LittleEndian, rec.FileOffset)
	}
	indexSize := uint64(buf.Len() - indexStart)
	binary.Write(&buf, binary.LittleEndian, indexSize)
	buf.WriteString(w.fileID)
	binary.Write(&buf, binary.LittleEndian, uint64(len(w.fileID)))

	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("aotcache: write %s: %w", tmpPath, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("aotcache: sync %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		return fmt.Errorf("aotcache: rename %s -> %s: %w", tmpPath, w.path, err)
	}
	if w.log != nil {
		w.log.Printf("flushed %d entries to %s", len(entries), w.path)
	}
	return nil
}
