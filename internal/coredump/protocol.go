package coredump

import (
	"encoding/binary"
	"fmt"
	"io"
)

// PacketType enumerates the coredump sub-protocol's streamed packets
// (spec §4.H: "streams packets describing signal+siginfo, guest and
// host mcontext, NT_FILE mapping list, and file descriptors for
// /proc/self/{maps,map_files,cmdline}").
type PacketType uint32

const (
	PacketSigInfo PacketType = iota
	PacketGuestMContext
	PacketHostMContext
	PacketFileMappings
	PacketProcFD
	PacketEnd
)

// packetHeader precedes every streamed packet: type plus payload
// length, so a reader can skip packets it doesn't recognize (a future
// protocol version adding packet kinds stays compatible with an older
// daemon).
type packetHeader struct {
	Type   PacketType
	Length uint32
}

func writeHeader(w io.Writer, t PacketType, length int) error {
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(t))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(length))
	_, err := w.Write(buf[:])
	return err
}

func readHeader(r io.Reader) (packetHeader, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return packetHeader{}, err
	}
	return packetHeader{
		Type:   PacketType(binary.LittleEndian.Uint32(buf[0:4])),
		Length: binary.LittleEndian.Uint32(buf[4:8]),
	}, nil
}

// WriteSigInfo streams the faulting signal number, si_code, and
// faulting address.
func WriteSigInfo(w io.Writer, signo, code int32, addr uint64) error {
	var buf [16]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(signo))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(code))
	binary.LittleEndian.PutUint64(buf[8:16], addr)
	if err := writeHeader(w, PacketSigInfo, len(buf)); err != nil {
		return err
	}
	_, err := w.Write(buf[:])
	return err
}

// WriteMContext streams a raw register-context blob (guest or host,
// distinguished by which of PacketGuestMContext/PacketHostMContext the
// caller passes) — encoding is opaque to this package; the daemon
// reinterprets guest blobs as PRStatus.Regs and host blobs purely for
// the unwinder.
func WriteMContext(w io.Writer, kind PacketType, data []byte) error {
	if kind != PacketGuestMContext && kind != PacketHostMContext {
		return fmt.Errorf("coredump: WriteMContext: invalid kind %v", kind)
	}
	if err := writeHeader(w, kind, len(data)); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// WriteFileMappings streams the NT_FILE-equivalent VMA list as a
// length-prefixed sequence of records: fixed fields, then the path's
// length and bytes.
func WriteFileMappings(w io.Writer, vmas []VMA) error {
	var total int
	encoded := make([][]byte, len(vmas))
	for i, v := range vmas {
		pathBytes := []byte(v.Path)
		rec := make([]byte, 8+8+8+1+1+1+8+len(pathBytes))
		binary.LittleEndian.PutUint64(rec[0:8], v.Start)
		binary.LittleEndian.PutUint64(rec[8:16], v.End)
		binary.LittleEndian.PutUint64(rec[16:24], v.FileOffset)
		if v.Shared {
			rec[24] = 1
		}
		if v.Anonymous {
			rec[25] = 1
		}
		if v.IsELFHeader {
			rec[26] = 1
		}
		binary.LittleEndian.PutUint64(rec[27:35], uint64(len(pathBytes)))
		copy(rec[35:], pathBytes)
		encoded[i] = rec
		total += len(rec)
	}
	if err := writeHeader(w, PacketFileMappings, total); err != nil {
		return err
	}
	for _, rec := range encoded {
		if _, err := w.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

// WriteEnd terminates the stream.
func WriteEnd(w io.Writer) error { return writeHeader(w, PacketEnd, 0) }

// Collected accumulates everything ReadStream parsed, ready for
// WriteCore.
type Collected struct {
	Signo, Code int32
	FaultAddr   uint64
	GuestMCtx   []byte
	HostMCtx    []byte
	VMAs        []VMA
}

// ReadStream reads packets from r until PacketEnd or error, building a
// Collected for the daemon's core-file assembly step.
func ReadStream(r io.Reader) (*Collected, error) {
	c := &Collected{}
	for {
		hdr, err := readHeader(r)
		if err != nil {
			if err == io.EOF {
				return c, nil
			}
			return nil, fmt.Errorf("coredump: read packet header: %w", err)
		}
		payload := make([]byte, hdr.Length)
		if hdr.Length > 0 {
			if _, err := io.ReadFull(r, payload); err != nil {
				return nil, fmt.Errorf("coredump: read packet payload: %w", err)
			}
		}

		switch hdr.Type {
		case PacketSigInfo:
			if len(payload) < 16 {
				return nil, fmt.Errorf("coredump: truncated SIGINFO packet")
			}
			c.Signo = int32(binary.LittleEndian.Uint32(payload[0:4]))
			c.Code = int32(binary.LittleEndian.Uint32(payload[4:8]))
			c.FaultAddr = binary.LittleEndian.Uint64(payload[8:16])
		case PacketGuestMContext:
			c.GuestMCtx = payload
		case PacketHostMContext:
			c.HostMCtx = payload
		case PacketFileMappings:
			c.VMAs = decodeFileMappings(payload)
		case PacketEnd:
			return c, nil
		}
	}
}

func decodeFileMappings(data []byte) []VMA {
	var vmas []VMA
	pos := 0
	for pos+35 <= len(data) {
		start := binary.LittleEndian.Uint64(data[pos : pos+8])
		end := binary.LittleEndian.Uint64(data[pos+8 : pos+16])
		off := binary.LittleEndian.Uint64(data[pos+16 : pos+24])
		shared := data[pos+24] != 0
		anon := data[pos+25] != 0
		isELF := data[pos+26] != 0
		pathLen := binary.LittleEndian.Uint64(data[pos+27 : pos+35])
		pos += 35
		if pos+int(pathLen) > len(data) {
			break
		}
		path := string(data[pos : pos+int(pathLen)])
		pos += int(pathLen)
		vmas = append(vmas, VMA{Start: start, End: end, FileOffset: off, Shared: shared, Anonymous: anon, IsELFHeader: isELF, Path: path})
	}
	return vmas
}
