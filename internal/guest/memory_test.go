package guest

import (
	"bytes"
	"testing"
)

func TestAllocateAndReadWrite(t *testing.T) {
	m := NewManager(false)
	base, err := m.AllocateGuestRegion(PageSize)
	if err != nil {
		t.Fatalf("AllocateGuestRegion: %v", err)
	}

	want := []byte{1, 2, 3, 4}
	if err := m.WriteGuestBytes(base+16, want); err != nil {
		t.Fatalf("WriteGuestBytes: %v", err)
	}
	got := make([]byte, 4)
	if err := m.ReadGuestBytes(base+16, got); err != nil {
		t.Fatalf("ReadGuestBytes: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("read back % x, want % x", got, want)
	}
}

func TestReadOutsideRegionFaults(t *testing.T) {
	m := NewManager(false)
	buf := make([]byte, 8)
	err := m.ReadGuestBytes(0x1234, buf)
	if _, ok := err.(*AddressTranslationFault); !ok {
		t.Fatalf("err = %v (%T), want AddressTranslationFault", err, err)
	}
}

func TestCodePageMarking(t *testing.T) {
	m := NewManager(false)
	base, err := m.AllocateGuestRegion(2 * PageSize)
	if err != nil {
		t.Fatalf("AllocateGuestRegion: %v", err)
	}
	if m.IsCodePage(base) {
		t.Fatal("fresh page marked as code")
	}
	m.MarkCodePage(base)
	if !m.IsCodePage(base) || m.IsCodePage(base+PageSize) {
		t.Fatal("code-page marking not page-precise")
	}
}

func TestWriteToCodePageInvalidates(t *testing.T) {
	// SMC policy "full": any write fires the invalidation callback for
	// every touched page (spec §3 BlockCache invariant).
	m := NewManager(false)
	base, err := m.AllocateGuestRegion(2 * PageSize)
	if err != nil {
		t.Fatalf("AllocateGuestRegion: %v", err)
	}
	m.MarkCodePage(base)

	var invalidated []uint64
	m.OnInvalidate = func(page uint64) { invalidated = append(invalidated, page) }

	// A write spanning the page boundary must invalidate both pages.
	if err := m.WriteGuestBytes(base+PageSize-2, make([]byte, 4)); err != nil {
		t.Fatalf("WriteGuestBytes: %v", err)
	}
	if len(invalidated) != 2 || invalidated[0] != base || invalidated[1] != base+PageSize {
		t.Fatalf("invalidated %x, want [%x %x]", invalidated, base, base+PageSize)
	}
	if m.IsCodePage(base) {
		t.Fatal("page still marked as code after write")
	}
}

func TestMprotectInvalidatesOnWritable(t *testing.T) {
	m := NewManager(false)
	base, err := m.AllocateGuestRegion(PageSize)
	if err != nil {
		t.Fatalf("AllocateGuestRegion: %v", err)
	}
	var fired bool
	m.OnInvalidate = func(uint64) { fired = true }

	// Transition to writable under "full" SMC policy.
	if err := m.InterceptMprotect(base, PageSize, 3 /* read|write */); err != nil {
		t.Fatalf("InterceptMprotect: %v", err)
	}
	if !fired {
		t.Fatal("mprotect to writable did not invalidate")
	}
}

func TestMunmapRemovesRegion(t *testing.T) {
	m := NewManager(false)
	base, err := m.AllocateGuestRegion(PageSize)
	if err != nil {
		t.Fatalf("AllocateGuestRegion: %v", err)
	}
	if err := m.InterceptMunmap(base, PageSize); err != nil {
		t.Fatalf("InterceptMunmap: %v", err)
	}
	if err := m.ReadGuestBytes(base, make([]byte, 1)); err == nil {
		t.Fatal("read from unmapped region succeeded")
	}
}

func TestEFLAGSRoundTrip(t *testing.T) {
	var s GuestCpuState
	s.CF, s.PF, s.AF, s.ZF, s.SF, s.DF, s.OF = 1, 0, 1, 1, 0, 1, 1

	var s2 GuestCpuState
	s2.SetEFLAGSWord(s.EFLAGSWord())
	if s2.CF != 1 || s2.PF != 0 || s2.AF != 1 || s2.ZF != 1 || s2.SF != 0 || s2.DF != 1 || s2.OF != 1 {
		t.Fatalf("flag round trip lost bits: %+v", s2)
	}
}

func TestResetDefaults(t *testing.T) {
	s := GuestCpuState{Is32Bit: true}
	s.GPR[0] = 99
	s.Reset()
	if s.GPR[0] != 0 || s.FCW != 0x037F || s.MXCSR != 0x1F80 || !s.Is32Bit {
		t.Fatalf("reset state wrong: %+v", s)
	}
	if s.RoundingMode() != RoundNearestEven || s.FlushToZero() {
		t.Fatal("MXCSR defaults decode wrong")
	}
}
