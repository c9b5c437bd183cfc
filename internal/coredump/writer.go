package coredump

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
)

// Note is one ELF note-segment entry. Name is the note owner string
// ("CORE" or "LINUX", matching glibc/kernel convention); Type is one
// of the NT_* constants below.
type Note struct {
	Name string
	Type uint32
	Desc []byte
}

// Note types, in the exact order spec §6 mandates them within the
// note segment: "NT_PRSTATUS, NT_PRPSINFO, NT_SIGINFO, NT_AUXV,
// NT_FILE, NT_FPREGSET, NT_X86_XSTATE".
const (
	NT_PRSTATUS   = 1
	NT_FPREGSET   = 2
	NT_PRPSINFO   = 3
	NT_AUXV       = 6
	NT_SIGINFO    = 0x53494749
	NT_FILE       = 0x46494c45
	NT_X86_XSTATE = 0x202
)

// PRStatus is the x86-64 struct prstatus payload for NT_PRSTATUS,
// laid out per the kernel's struct elf_prstatus (glibc
// <sys/procfs.h>): signal info header fields followed by a
// user_regs_struct-shaped GPR dump.
type PRStatus struct {
	Signo, Code, Errno           int32
	CursigAndPad                 int32 // pr_cursig (int16) + 2 pad bytes, packed as int32 for simplicity
	SigPend, SigHold             uint64
	PID, PPID, PGRP, SID         int32
	UTime, STime, CUTime, CSTime [2]int64   // struct timeval{sec,usec} x4
	Regs                         [27]uint64 // user_regs_struct: r15..gs, in kernel order
	FPValid                      int32
}

// EncodePRStatus serializes p per struct elf_prstatus's field order.
func EncodePRStatus(p PRStatus) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, p.Signo)
	binary.Write(&buf, binary.LittleEndian, p.Code)
	binary.Write(&buf, binary.LittleEndian, p.Errno)
	binary.Write(&buf, binary.LittleEndian, p.CursigAndPad)
	binary.Write(&buf, binary.LittleEndian, p.SigPend)
	binary.Write(&buf, binary.LittleEndian, p.SigHold)
	binary.Write(&buf, binary.LittleEndian, p.PID)
	binary.Write(&buf, binary.LittleEndian, p.PPID)
	binary.Write(&buf, binary.LittleEndian, p.PGRP)
	binary.Write(&buf, binary.LittleEndian, p.SID)
	for _, tv := range [][2]int64{p.UTime, p.STime, p.CUTime, p.CSTime} {
		binary.Write(&buf, binary.LittleEndian, tv[0])
		binary.Write(&buf, binary.LittleEndian, tv[1])
	}
	for _, r := range p.Regs {
		binary.Write(&buf, binary.LittleEndian, r)
	}
	binary.Write(&buf, binary.LittleEndian, p.FPValid)
	return buf.Bytes()
}

// x86-64 user_regs_struct register indices (kernel order), for callers
// building PRStatus.Regs from a guest.GuestCpuState.
const (
	RegR15 = iota
	RegR14
	RegR13
	RegR12
	RegRBP
	RegRBX
	RegR11
	RegR10
	RegR9
	RegR8
	RegRAX
	RegRCX
	RegRDX
	RegRSI
	RegRDI
	RegOrigRAX
	RegRIP
	RegCS
	RegEFLAGS
	RegRSP
	RegSS
	RegFSBase
	RegGSBase
	RegDS
	RegES
	RegFS
	RegGS
)

func encodeNote(n Note) []byte {
	var buf bytes.Buffer
	nameBytes := append([]byte(n.Name), 0)
	namePad := (4 - len(nameBytes)%4) % 4
	descPad := (4 - len(n.Desc)%4) % 4

	binary.Write(&buf, binary.LittleEndian, uint32(len(nameBytes)))
	binary.Write(&buf, binary.LittleEndian, uint32(len(n.Desc)))
	binary.Write(&buf, binary.LittleEndian, n.Type)
	buf.Write(nameBytes)
	buf.Write(make([]byte, namePad))
	buf.Write(n.Desc)
	buf.Write(make([]byte, descPad))
	return buf.Bytes()
}

// LoadSegment is one guest VMA to be written as a PT_LOAD program
// header. Data is nil when Filter excludes this VMA's contents — the
// segment's extent is still recorded (p_filesz = 0) matching the
// kernel's own "hole" behavior for filtered-out mappings.
type LoadSegment struct {
	VMA  VMA
	Data []byte // nil if filtered out
}

// WriteCore writes a standard ET_CORE ELF file to w: machine identifies
// the guest arch (elf.EM_386 for x86 guests, elf.EM_X86_64 for x86-64),
// notes must already be in spec §6's mandated order, and segments are
// emitted as one PT_LOAD each, filtered per filter.ShouldDump.
func WriteCore(w io.Writer, machine elf.Machine, notes []Note, segments []LoadSegment, filter Filter) error {
	is64 := machine == elf.EM_X86_64

	var noteBuf bytes.Buffer
	for _, n := range notes {
		noteBuf.Write(encodeNote(n))
	}

	ehdrSize := 64
	phdrSize := 56
	numPhdrs := 1 + len(segments) // PT_NOTE + one PT_LOAD per segment
	phOff := uint64(ehdrSize)
	noteOff := phOff + uint64(numPhdrs*phdrSize)
	dataOff := noteOff + uint64(noteBuf.Len())

	// Program headers: PT_NOTE first, then PT_LOAD per segment, with
	// filtered-out segments carrying p_filesz=0 (extent-only).
	type phdr struct {
		Type, Flags                                uint32
		Offset, VAddr, PAddr, FileSz, MemSz, Align uint64
	}
	phdrs := make([]phdr, 0, numPhdrs)
	phdrs = append(phdrs, phdr{
		Type: uint32(elf.PT_NOTE), Offset: noteOff, FileSz: uint64(noteBuf.Len()), MemSz: uint64(noteBuf.Len()), Align: 4,
	})

	segOff := dataOff
	var dataBuf bytes.Buffer
	for _, s := range segments {
		length := s.VMA.End - s.VMA.Start
		dump := filter.ShouldDump(s.VMA) && s.Data != nil
		fileSz := uint64(0)
		if dump {
			fileSz = uint64(len(s.Data))
			dataBuf.Write(s.Data)
		}
		flags := uint32(elf.PF_R)
		if s.VMA.Shared {
			flags |= uint32(elf.PF_W)
		}
		phdrs = append(phdrs, phdr{
			Type: uint32(elf.PT_LOAD), Flags: flags,
			Offset: segOff, VAddr: s.VMA.Start, PAddr: s.VMA.Start,
			FileSz: fileSz, MemSz: length, Align: 4096,
		})
		segOff += fileSz
	}

	// ELF header (Elf64_Ehdr); x86 (32-bit) guests still get an
	// ELFCLASS64 wrapper in this implementation for a single code path
	// — only e_machine distinguishes EM_386 vs EM_X86_64 per spec §6.
	_ = is64
	var eh bytes.Buffer
	eh.Write([]byte{0x7f, 'E', 'L', 'F', 2 /* ELFCLASS64 */, 1 /* ELFDATA2LSB */, 1, 0})
	eh.Write(make([]byte, 8)) // padding
	binary.Write(&eh, binary.LittleEndian, uint16(elf.ET_CORE))
	binary.Write(&eh, binary.LittleEndian, uint16(machine))
	binary.Write(&eh, binary.LittleEndian, uint32(1)) // e_version
	binary.Write(&eh, binary.LittleEndian, uint64(0)) // e_entry
	binary.Write(&eh, binary.LittleEndian, uint64(phOff))
	binary.Write(&eh, binary.LittleEndian, uint64(0)) // e_shoff
	binary.Write(&eh, binary.LittleEndian, uint32(0)) // e_flags
	binary.Write(&eh, binary.LittleEndian, uint16(ehdrSize))
	binary.Write(&eh, binary.LittleEndian, uint16(phdrSize))
	binary.Write(&eh, binary.LittleEndian, uint16(numPhdrs))
	binary.Write(&eh, binary.LittleEndian, uint16(0)) // e_shentsize
	binary.Write(&eh, binary.LittleEndian, uint16(0)) // e_shnum
	binary.Write(&eh, binary.LittleEndian, uint16(0)) // e_shstrndx

	if _, err := w.Write(eh.Bytes()); err != nil {
		return fmt.Errorf("coredump: write ehdr: %w", err)
	}
	for _, p := range phdrs {
		var pb bytes.Buffer
		binary.Write(&pb, binary.LittleEndian, p.Type)
		binary.Write(&pb, binary.LittleEndian, p.Flags)
		binary.Write(&pb, binary.LittleEndian, p.Offset)
		binary.Write(&pb, binary.LittleEndian, p.VAddr)
		binary.Write(&pb, binary.LittleEndian, p.PAddr)
		binary.Write(&pb, binary.LittleEndian, p.FileSz)
		binary.Write(&pb, binary.LittleEndian, p.MemSz)
		binary.Write(&pb, binary.LittleEndian, p.Align)
		if _, err := w.Write(pb.Bytes()); err != nil {
			return fmt.Errorf("coredump: write phdr: %w", err)
		}
	}
	if _, err := w.Write(noteBuf.Bytes()); err != nil {
		return fmt.Errorf("coredump: write notes: %w", err)
	}
	if _, err := w.Write(dataBuf.Bytes()); err != nil {
		return fmt.Errorf("coredump: write segment data: %w", err)
	}
	return nil
}
