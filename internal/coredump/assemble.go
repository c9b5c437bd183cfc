package coredump

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"
)

// AssembleNotes builds the note list for a collected crash stream, in
// the exact order spec §6 mandates: NT_PRSTATUS, NT_PRPSINFO,
// NT_SIGINFO, NT_AUXV, NT_FILE, NT_FPREGSET, NT_X86_XSTATE. The guest
// mcontext blob is the serialized user_regs_struct the translator
// streamed; it is carried into NT_PRSTATUS verbatim when it has the
// expected size, else zero registers are recorded.
func AssembleNotes(c *Collected, pid int) []Note {
	pr := PRStatus{
		Signo: c.Signo,
		Code:  c.Code,
		PID:   int32(pid),
	}
	if len(c.GuestMCtx) >= 27*8 {
		for i := range pr.Regs {
			pr.Regs[i] = binary.LittleEndian.Uint64(c.GuestMCtx[i*8:])
		}
	}

	prpsinfo := make([]byte, 136) // struct elf_prpsinfo, zero-filled but for pr_fname
	copy(prpsinfo[40:], "guest")

	siginfo := make([]byte, 128) // struct siginfo
	binary.LittleEndian.PutUint32(siginfo[0:], uint32(c.Signo))
	binary.LittleEndian.PutUint32(siginfo[8:], uint32(c.Code))
	binary.LittleEndian.PutUint64(siginfo[16:], c.FaultAddr)

	return []Note{
		{Name: "CORE", Type: NT_PRSTATUS, Desc: EncodePRStatus(pr)},
		{Name: "CORE", Type: NT_PRPSINFO, Desc: prpsinfo},
		{Name: "CORE", Type: NT_SIGINFO, Desc: siginfo},
		{Name: "CORE", Type: NT_AUXV, Desc: []byte{}},
		{Name: "CORE", Type: NT_FILE, Desc: encodeNTFile(c.VMAs)},
		{Name: "CORE", Type: NT_FPREGSET, Desc: make([]byte, 512)}, // FXSAVE area shape
		{Name: "LINUX", Type: NT_X86_XSTATE, Desc: c.HostMCtx},
	}
}

// encodeNTFile lays the mapping list out the way the kernel does for
// NT_FILE: count, page size, (start, end, file offset in pages)
// triples, then the NUL-separated path strings.
func encodeNTFile(vmas []VMA) []byte {
	var filed []VMA
	for _, v := range vmas {
		if !v.Anonymous && v.Path != "" {
			filed = append(filed, v)
		}
	}
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint64(len(filed)))
	binary.Write(&buf, binary.LittleEndian, uint64(4096))
	for _, v := range filed {
		binary.Write(&buf, binary.LittleEndian, v.Start)
		binary.Write(&buf, binary.LittleEndian, v.End)
		binary.Write(&buf, binary.LittleEndian, v.FileOffset/4096)
	}
	for _, v := range filed {
		buf.WriteString(v.Path)
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// Store writes finished core files into a retention-managed directory.
type Store struct {
	Dir      string
	Compress bool          // zstd-compress cores (".core.zst" suffix)
	MaxBytes int64         // prune oldest cores beyond this total, 0 = unlimited
	MaxAge   time.Duration // prune cores older than this, 0 = keep forever
}

// Write assembles and persists one core file for a collected crash,
// returning the path written. machine distinguishes x86 from x86-64
// guests (spec §6: "EM_386 or EM_X86_64 matching guest arch").
func (s *Store) Write(c *Collected, machine elf.Machine, segments []LoadSegment, pid int) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("coredump: store dir: %w", err)
	}
	name := fmt.Sprintf("guest-%d-%d.core", pid, time.Now().Unix())
	if s.Compress {
		name += ".zst"
	}
	path := filepath.Join(s.Dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("coredump: create %s: %w", path, err)
	}
	defer f.Close()

	var w io.Writer = f
	var zw *zstd.Encoder
	if s.Compress {
		zw, err = zstd.NewWriter(f)
		if err != nil {
			return "", fmt.Errorf("coredump: zstd writer: %w", err)
		}
		w = zw
	}

	notes := AssembleNotes(c, pid)
	if err := WriteCore(w, machine, notes, segments, ReadFilter()); err != nil {
		return "", err
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return "", fmt.Errorf("coredump: zstd flush: %w", err)
		}
	}

	s.prune()
	return path, nil
}

// prune enforces the store's size and age retention policy, deleting
// oldest-first.
func (s *Store) prune() {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return
	}
	type coreFile struct {
		path string
		size int64
		mod  time.Time
	}
	var cores []coreFile
	var total int64
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || e.IsDir() {
			continue
		}
		cores = append(cores, coreFile{filepath.Join(s.Dir, e.Name()), info.Size(), info.ModTime()})
		total += info.Size()
	}
	sort.Slice(cores, func(i, j int) bool { return cores[i].mod.Before(cores[j].mod) })

	now := time.Now()
	for _, c := range cores {
		tooOld := s.MaxAge > 0 && now.Sub(c.mod) > s.MaxAge
		tooBig := s.MaxBytes > 0 && total > s.MaxBytes
		if !tooOld && !tooBig {
			continue
		}
		if os.Remove(c.path) == nil {
			total -= c.size
		}
	}
}
