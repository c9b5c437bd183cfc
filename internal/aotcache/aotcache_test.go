package aotcache

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/otterjit/otterjit/internal/logging"
)

func writeTestCache(t *testing.T, path string, entries []Entry) {
	t.Helper()
	w := NewWriter(path, "test-id", logging.New("aot"))
	for _, e := range entries {
		w.Append(e)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("writer close: %v", err)
	}
}

func TestWriteThenLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.aot")
	entries := []Entry{
		{GuestStartOffset: 0x40, GuestHash: 0xAAAA, GuestLength: 8, RAData: []byte{1}, IRBlob: []byte("ir-a")},
		{GuestStartOffset: 0x10, GuestHash: 0xBBBB, GuestLength: 4, RAData: nil, IRBlob: []byte("ir-b")},
	}
	writeTestCache(t, path, entries)

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	if r.FileID() != "test-id" {
		t.Fatalf("file id = %q", r.FileID())
	}

	ra, irBlob, ok := r.Lookup(0x40, 0xAAAA)
	if !ok || !bytes.Equal(irBlob, []byte("ir-a")) || !bytes.Equal(ra, []byte{1}) {
		t.Fatalf("lookup 0x40 = %q/%q/%v", ra, irBlob, ok)
	}
	if _, _, ok := r.Lookup(0x10, 0xBBBB); !ok {
		t.Fatal("lookup 0x10 missed")
	}

	if length, ok := r.PeekLength(0x10); !ok || length != 4 {
		t.Fatalf("PeekLength(0x10) = %d/%v, want 4", length, ok)
	}
}

func TestHashMismatchCountsAsMiss(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.aot")
	writeTestCache(t, path, []Entry{{GuestStartOffset: 0, GuestHash: 1, GuestLength: 2, IRBlob: []byte("x")}})

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if _, _, ok := r.Lookup(0, 2); ok {
		t.Fatal("lookup with wrong hash hit")
	}
	if _, _, ok := r.Lookup(0x99, 1); ok {
		t.Fatal("lookup with unknown offset hit")
	}
	hits, misses, mismatches := r.Stats()
	if hits != 0 || misses != 1 || mismatches != 1 {
		t.Fatalf("stats = %d/%d/%d, want 0/1/1", hits, misses, mismatches)
	}
}

func TestBadCookieRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.aot")
	if err := os.WriteFile(path, []byte("NOTACOOKIE-and-some-length-padding"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil || !strings.Contains(err.Error(), "cookie") {
		t.Fatalf("Open on corrupt file: %v, want cookie error", err)
	}
}

func TestWriterAtomicReplace(t *testing.T) {
	// The writer must leave no .tmp behind and the final file must be
	// complete (spec §4.G: "the writer renames a .tmp to final
	// atomically").
	dir := t.TempDir()
	path := filepath.Join(dir, "c.aot")
	writeTestCache(t, path, []Entry{{GuestStartOffset: 0, GuestHash: 7, GuestLength: 1, IRBlob: []byte("z")}})

	files, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range files {
		if strings.HasSuffix(f.Name(), ".tmp") {
			t.Fatalf("stale temp file %s left behind", f.Name())
		}
	}
	if _, err := Open(path); err != nil {
		t.Fatalf("final file unreadable: %v", err)
	}
}

func TestEntriesWalk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.aot")
	writeTestCache(t, path, []Entry{
		{GuestStartOffset: 0x20, GuestHash: 2, GuestLength: 6, IRBlob: []byte("bb")},
		{GuestStartOffset: 0x10, GuestHash: 1, GuestLength: 3, IRBlob: []byte("a")},
	})
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	var offs []uint64
	r.Entries(func(start, hash, length uint64, raLen, irLen int) {
		offs = append(offs, start)
	})
	if len(offs) != 2 || offs[0] != 0x10 || offs[1] != 0x20 {
		t.Fatalf("entries walk = %x, want sorted [10 20]", offs)
	}
}

func TestFileIdentityShape(t *testing.T) {
	id := FileIdentity("/usr/bin/guest", "qt")
	if !strings.HasPrefix(id, "guest-") || !strings.HasSuffix(id, "-qt") {
		t.Fatalf("identity %q, want basename-hash-flags shape", id)
	}
	if id == FileIdentity("/other/path/guest", "qt") {
		t.Fatal("different full paths produced the same identity")
	}
}
