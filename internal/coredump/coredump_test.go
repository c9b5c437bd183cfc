package coredump

import (
	"bytes"
	"debug/elf"
	"testing"
)

func TestFilterBits(t *testing.T) {
	cases := []struct {
		name   string
		filter Filter
		vma    VMA
		want   bool
	}{
		{"anon-private-on", FilterAnonPrivate, VMA{Anonymous: true}, true},
		{"anon-private-off", FilterAnonShared, VMA{Anonymous: true}, false},
		{"anon-shared", FilterAnonShared, VMA{Anonymous: true, Shared: true}, true},
		{"file-private-off", DefaultFilter, VMA{Path: "/lib/x.so"}, false},
		{"file-private-on", FilterFilePrivate, VMA{Path: "/lib/x.so"}, true},
		{"file-shared", FilterFileShared, VMA{Path: "/lib/x.so", Shared: true}, true},
		{"elf-header-overrides", FilterELFHeaders, VMA{Path: "/bin/a", IsELFHeader: true}, true},
	}
	for _, tc := range cases {
		if got := tc.filter.ShouldDump(tc.vma); got != tc.want {
			t.Errorf("%s: ShouldDump = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestStreamRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	vmas := []VMA{
		{Start: 0x400000, End: 0x401000, Path: "/bin/guest", IsELFHeader: true},
		{Start: 0x7f0000000000, End: 0x7f0000002000, Anonymous: true},
	}
	if err := WriteSigInfo(&buf, 11, 1, 0xdeadbeef); err != nil {
		t.Fatal(err)
	}
	regs := make([]byte, 27*8)
	regs[0] = 0x42
	if err := WriteMContext(&buf, PacketGuestMContext, regs); err != nil {
		t.Fatal(err)
	}
	if err := WriteFileMappings(&buf, vmas); err != nil {
		t.Fatal(err)
	}
	if err := WriteEnd(&buf); err != nil {
		t.Fatal(err)
	}

	c, err := ReadStream(&buf)
	if err != nil {
		t.Fatalf("ReadStream: %v", err)
	}
	if c.Signo != 11 || c.Code != 1 || c.FaultAddr != 0xdeadbeef {
		t.Fatalf("siginfo = %d/%d/0x%x", c.Signo, c.Code, c.FaultAddr)
	}
	if len(c.GuestMCtx) != 27*8 || c.GuestMCtx[0] != 0x42 {
		t.Fatalf("guest mcontext lost: %d bytes", len(c.GuestMCtx))
	}
	if len(c.VMAs) != 2 || c.VMAs[0].Path != "/bin/guest" || !c.VMAs[1].Anonymous {
		t.Fatalf("vmas = %+v", c.VMAs)
	}
}

func TestWriteCoreParsesAsELF(t *testing.T) {
	notes := AssembleNotes(&Collected{Signo: 11, Code: 1}, 42)

	segments := []LoadSegment{
		{VMA: VMA{Start: 0x400000, End: 0x401000, Anonymous: true}, Data: make([]byte, 0x1000)},
		{VMA: VMA{Start: 0x500000, End: 0x502000, Path: "/lib/x.so"}}, // filtered: extent only
	}

	var buf bytes.Buffer
	if err := WriteCore(&buf, elf.EM_X86_64, notes, segments, DefaultFilter); err != nil {
		t.Fatalf("WriteCore: %v", err)
	}

	f, err := elf.NewFile(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("output is not valid ELF: %v", err)
	}
	if f.Type != elf.ET_CORE || f.Machine != elf.EM_X86_64 {
		t.Fatalf("type/machine = %v/%v", f.Type, f.Machine)
	}

	var loads, noteSegs int
	for _, p := range f.Progs {
		switch p.Type {
		case elf.PT_LOAD:
			loads++
			if p.Vaddr == 0x500000 && p.Filesz != 0 {
				t.Error("filtered VMA has file contents")
			}
			if p.Vaddr == 0x400000 && p.Filesz != 0x1000 {
				t.Error("dumped VMA lost its contents")
			}
		case elf.PT_NOTE:
			noteSegs++
		}
	}
	if loads != 2 || noteSegs != 1 {
		t.Fatalf("%d LOAD / %d NOTE segments, want 2/1", loads, noteSegs)
	}
}

func TestNoteOrder(t *testing.T) {
	// Spec §6 mandates the exact sequence.
	notes := AssembleNotes(&Collected{}, 1)
	want := []uint32{NT_PRSTATUS, NT_PRPSINFO, NT_SIGINFO, NT_AUXV, NT_FILE, NT_FPREGSET, NT_X86_XSTATE}
	if len(notes) != len(want) {
		t.Fatalf("%d notes, want %d", len(notes), len(want))
	}
	for i, n := range notes {
		if n.Type != want[i] {
			t.Errorf("note %d type 0x%x, want 0x%x", i, n.Type, want[i])
		}
	}
}

func TestPRStatusCarriesGuestRegs(t *testing.T) {
	mctx := make([]byte, 27*8)
	mctx[10*8] = 0x99 // RAX slot in user_regs_struct order
	notes := AssembleNotes(&Collected{GuestMCtx: mctx}, 1)
	pr := notes[0].Desc
	// Regs start after the 112-byte prstatus header.
	if pr[112+10*8] != 0x99 {
		t.Fatal("guest RAX not carried into NT_PRSTATUS")
	}
}
