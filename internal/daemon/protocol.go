// Package daemon implements the Service Daemon (spec §4.H): a
// singleton per-user process that hosts the guest rootfs mount,
// multiplexes logs from translator processes, and captures core dumps.
// Only the daemon's IPC protocol is in scope here (spec §1: "the
// squashfs/erofsfuse mounting done by the server" is an external
// collaborator) — this package models the mount as an opaque path a
// caller supplies at startup.
//
// Grounded on runtime_ipc.go's socket-resolution and stale-socket
// detect-and-retry dance, generalized from JSON request/response
// framing to the spec's fixed-header packet framing, and on
// original_source/Source/Common/FEXServerClient.{h,cpp} for the packet
// type enum and one-request-per-connection protocol shape.
package daemon

import "fmt"

// PacketType enumerates the daemon's request kinds (spec §6 "Request
// protocol"), matching FEXServerClient.h's PacketType ordering.
type PacketType uint32

const (
	PacketKill PacketType = iota
	PacketGetLogFD
	PacketGetRootFSPath
	PacketGetPIDFD
	PacketSuccess
	PacketError
)

func (p PacketType) String() string {
	switch p {
	case PacketKill:
		return "KILL"
	case PacketGetLogFD:
		return "GET_LOG_FD"
	case PacketGetRootFSPath:
		return "GET_ROOTFS_PATH"
	case PacketGetPIDFD:
		return "GET_PID_FD"
	case PacketSuccess:
		return "SUCCESS"
	case PacketError:
		return "ERROR"
	default:
		return fmt.Sprintf("PacketType(%d)", uint32(p))
	}
}

// RequestHeader is the fixed-size framing spec §6 describes: "a
// fixed-size header {packet_type: enum} followed by optional fixed
// payload". OtterJIT's requests carry no payload beyond the type.
type RequestHeader struct {
	Type PacketType
}

// ResponseHeader precedes every reply. Some replies carry a further
// fixed payload (a string length + bytes for GET_ROOTFS_PATH; an FD
// is never inline — it arrives via SCM_RIGHTS ancillary data on the
// same sendmsg as this header).
type ResponseHeader struct {
	Type PacketType
}

const headerSize = 4 // encoding/binary-sized uint32

// socketName returns the per-user abstract-namespace Unix socket name
// "{uid}.OtterJIT.Socket" (first byte 0x00). Go's net package maps a
// leading '@' to the abstract namespace on Linux.
func socketName(uid int) string {
	return fmt.Sprintf("@%d.OtterJIT.Socket", uid)
}

// CoredumpSocketName is the dedicated abstract socket a crashing
// translator streams its coredump sub-protocol over (spec §4.H: "the
// client opens a dedicated socket to the daemon"), kept separate from
// the request socket so a large core stream never delays KILL or
// GET_ROOTFS_PATH requests.
func CoredumpSocketName(uid int) string {
	return fmt.Sprintf("@%d.OtterJIT.Coredump", uid)
}
