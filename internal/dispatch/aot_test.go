package dispatch

import (
	"path/filepath"
	"testing"

	"github.com/otterjit/otterjit/internal/aotcache"
	"github.com/otterjit/otterjit/internal/guest"
	"github.com/otterjit/otterjit/internal/logging"
)

// fixedBase maps the test image at a stable guest address so two
// "process lifetimes" decode identical absolute RIPs, the way a real
// loader maps a non-PIE binary at its linked base.
const fixedBase = 0x4000_0000

func mapFixedCode(t *testing.T, mem *guest.Manager, code []byte) {
	t.Helper()
	base, err := mem.InterceptMmap(fixedBase, guest.PageSize, 7, guest.MapFixed, -1, 0)
	if err != nil || base != fixedBase {
		t.Skipf("host would not map at 0x%x (base 0x%x, err %v)", fixedBase, base, err)
	}
	if err := mem.WriteGuestBytes(fixedBase, code); err != nil {
		t.Fatalf("write code: %v", err)
	}
}

func TestAOTCacheHitSkipsPipeline(t *testing.T) {
	// Spec §8 scenario 6: translate, shut down, restart the same
	// binary — the second run's translation-pipeline invocation count
	// for the block is zero and the cached hash matches.
	code := []byte{0x90, 0xF4}
	path := filepath.Join(t.TempDir(), "img.aot")
	id := aotcache.FileIdentity("/tmp/img", "qt")

	// First lifetime: cold translate, queue to the writer, flush.
	mem1 := guest.NewManager(false)
	r1, err := NewRunner(mem1, BackendInterp)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	mapFixedCode(t, mem1, code)
	w := aotcache.NewWriter(path, id, logging.New("aot"))
	r1.AttachAOT(nil, w, fixedBase)

	th1 := r1.NewGuestThread(0)
	th1.CPU.RIP = fixedBase
	if reason, err := r1.Run(th1); err != nil || reason != ShutdownHLT {
		t.Fatalf("first run: reason=%v err=%v", reason, err)
	}
	if n := r1.TranslateCount(fixedBase); n != 1 {
		t.Fatalf("first run translated %d times, want 1", n)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("writer close: %v", err)
	}
	if err := mem1.InterceptMunmap(fixedBase, guest.PageSize); err != nil {
		t.Fatalf("unmap first lifetime: %v", err)
	}

	// Second lifetime: same bytes, reader attached.
	mem2 := guest.NewManager(false)
	r2, err := NewRunner(mem2, BackendInterp)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	mapFixedCode(t, mem2, code)
	reader, err := aotcache.Open(path)
	if err != nil {
		t.Fatalf("open aot: %v", err)
	}
	defer reader.Close()
	if reader.FileID() != id {
		t.Fatalf("file id = %q, want %q", reader.FileID(), id)
	}
	r2.AttachAOT(reader, nil, fixedBase)

	th2 := r2.NewGuestThread(0)
	th2.CPU.RIP = fixedBase
	if reason, err := r2.Run(th2); err != nil || reason != ShutdownHLT {
		t.Fatalf("second run: reason=%v err=%v", reason, err)
	}
	if n := r2.TranslateCount(fixedBase); n != 0 {
		t.Fatalf("second run translated %d times, want 0 (AOT hit)", n)
	}
	hits, _, mismatches := reader.Stats()
	if hits != 1 || mismatches != 0 {
		t.Fatalf("reader stats: hits=%d mismatches=%d, want 1/0", hits, mismatches)
	}
}

func TestAOTHashMismatchIsMiss(t *testing.T) {
	code := []byte{0x90, 0xF4}
	path := filepath.Join(t.TempDir(), "img.aot")
	id := aotcache.FileIdentity("/tmp/img", "qt")

	mem1 := guest.NewManager(false)
	r1, _ := NewRunner(mem1, BackendInterp)
	mapFixedCode(t, mem1, code)
	w := aotcache.NewWriter(path, id, logging.New("aot"))
	r1.AttachAOT(nil, w, fixedBase)
	th1 := r1.NewGuestThread(0)
	th1.CPU.RIP = fixedBase
	if reason, err := r1.Run(th1); err != nil || reason != ShutdownHLT {
		t.Fatalf("first run: reason=%v err=%v", reason, err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("writer close: %v", err)
	}
	if err := mem1.InterceptMunmap(fixedBase, guest.PageSize); err != nil {
		t.Fatalf("unmap first lifetime: %v", err)
	}

	// Second lifetime with different bytes at the same RIP: the stored
	// hash no longer matches, so the pipeline must run again (spec §3:
	// "hash mismatch -> treat as miss").
	mem2 := guest.NewManager(false)
	r2, _ := NewRunner(mem2, BackendInterp)
	mapFixedCode(t, mem2, []byte{0x90, 0x90, 0xF4})
	reader, err := aotcache.Open(path)
	if err != nil {
		t.Fatalf("open aot: %v", err)
	}
	defer reader.Close()
	r2.AttachAOT(reader, nil, fixedBase)

	th2 := r2.NewGuestThread(0)
	th2.CPU.RIP = fixedBase
	if reason, err := r2.Run(th2); err != nil || reason != ShutdownHLT {
		t.Fatalf("second run: reason=%v err=%v", reason, err)
	}
	if n := r2.TranslateCount(fixedBase); n != 1 {
		t.Fatalf("second run translated %d times, want 1 (hash mismatch forces retranslation)", n)
	}
	_, _, mismatches := reader.Stats()
	if mismatches != 1 {
		t.Fatalf("hash mismatches = %d, want 1", mismatches)
	}
}
