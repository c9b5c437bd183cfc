package daemon

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// Client is a short-lived connection to the daemon: dial, send one
// request, read one response, close (see protocol.go's doc comment).
// Discovery and process-spawn fallback mirror
// original_source/Source/Common/FEXServerClient.cpp's
// ConnectToAndStartServer.

// Connect dials the abstract socket for the calling user. Per spec §7
// "Daemon unreachable: client falls back to an in-process rootfs
// lookup; translation continues" — callers should treat a Connect
// error as non-fatal.
func Connect() (net.Conn, error) {
	name := socketName(os.Geteuid())
	return net.DialTimeout("unix", name, 2*time.Second)
}

// ConnectOrStart dials the daemon, and if no instance is listening,
// forks/execs the daemon binary resolved relative to this process's
// own executable path (not $PATH) and retries — mirroring
// FEXServerClient's GetExecutableDirectory-relative spawn, per
// SPEC_FULL.md's supplemented-features note.
func ConnectOrStart(daemonBinaryName string) (net.Conn, error) {
	if conn, err := Connect(); err == nil {
		return conn, nil
	}

	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("daemon: resolve own executable path: %w", err)
	}
	helperPath := filepath.Join(filepath.Dir(self), daemonBinaryName)
	if _, statErr := os.Stat(helperPath); statErr != nil {
		return nil, fmt.Errorf("daemon: helper binary %s not found next to %s", daemonBinaryName, self)
	}

	cmd := exec.Command(helperPath)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &unix.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("daemon: exec %s: %w", helperPath, err)
	}
	_ = cmd.Process.Release()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conn, err := Connect(); err == nil {
			return conn, nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return nil, fmt.Errorf("daemon: spawned %s but it never came up", helperPath)
}

// RequestKill sends PacketKill and waits for the acknowledgement,
// per spec §6 CLI "--kill: send shutdown packet and exit."
func RequestKill(conn net.Conn) error {
	if err := sendHeader(conn, PacketKill); err != nil {
		return err
	}
	_, err := recvType(conn)
	return err
}

// RequestRootFSPath asks the daemon for its hosted rootfs mount path.
func RequestRootFSPath(conn net.Conn) (string, error) {
	if err := sendHeader(conn, PacketGetRootFSPath); err != nil {
		return "", err
	}
	t, err := recvType(conn)
	if err != nil {
		return "", err
	}
	if t != PacketSuccess {
		return "", fmt.Errorf("daemon: GET_ROOTFS_PATH failed")
	}
	var lenBuf [8]byte
	if _, err := readFull(conn, lenBuf[:]); err != nil {
		return "", err
	}
	n := binary.LittleEndian.Uint64(lenBuf[:])
	str := make([]byte, n)
	if _, err := readFull(conn, str); err != nil {
		return "", err
	}
	return string(str), nil
}

// RequestLogFD asks the daemon for a pipe write end to stream log
// lines into, received via SCM_RIGHTS.
func RequestLogFD(conn net.Conn) (int, error) {
	return requestFD(conn, PacketGetLogFD)
}

// RequestPIDFD asks the daemon for a pidfd referencing itself.
func RequestPIDFD(conn net.Conn) (int, error) {
	return requestFD(conn, PacketGetPIDFD)
}

func requestFD(conn net.Conn, req PacketType) (int, error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return -1, fmt.Errorf("daemon: fd-passing requests require a Unix socket connection")
	}
	if err := sendHeader(conn, req); err != nil {
		return -1, err
	}

	hdr := make([]byte, headerSize)
	oob := make([]byte, unix.CmsgSpace(4))
	var n, oobn int
	var err error
	rawConn, rawErr := uc.SyscallConn()
	if rawErr != nil {
		return -1, rawErr
	}
	rawConn.Control(func(sysfd uintptr) {
		n, oobn, _, _, err = unix.Recvmsg(int(sysfd), hdr, oob, 0)
	})
	if err != nil {
		return -1, fmt.Errorf("daemon: recvmsg: %w", err)
	}
	if n < headerSize || PacketType(binary.LittleEndian.Uint32(hdr)) != PacketSuccess {
		return -1, fmt.Errorf("daemon: fd request failed")
	}
	cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil || len(cmsgs) == 0 {
		return -1, fmt.Errorf("daemon: no ancillary data in fd response")
	}
	fds, err := unix.ParseUnixRights(&cmsgs[0])
	if err != nil || len(fds) == 0 {
		return -1, fmt.Errorf("daemon: no fd in ancillary data")
	}
	return fds[0], nil
}

func sendHeader(conn net.Conn, t PacketType) error {
	var buf [headerSize]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(t))
	_, err := conn.Write(buf[:])
	return err
}

func recvType(conn net.Conn) (PacketType, error) {
	var buf [headerSize]byte
	if _, err := readFull(conn, buf[:]); err != nil {
		return 0, err
	}
	return PacketType(binary.LittleEndian.Uint32(buf[:])), nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
