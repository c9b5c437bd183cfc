package daemon

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/otterjit/otterjit/internal/logging"
)

// Server is the daemon side of the protocol: it listens on the
// abstract socket, serializes access via a dotlock so only one
// instance ever runs per user, and answers requests.
//
// Grounded on runtime_ipc.go's IPCServer (listener + accept loop +
// done channel) generalized from JSON-framed single-purpose "open a
// file" requests to the spec's fixed-header multi-purpose protocol,
// plus the fcntl lockfile discipline from
// original_source/Source/Common/FEXServerClient.cpp's
// GetServerLockFile.
type Server struct {
	ln       net.Listener
	lockFile *os.File
	log      *logging.Logger

	RootFSPath string
	LogFD      int // write end of the log pipe, passed out on GET_LOG_FD

	// IdleTimeout, when nonzero, shuts the daemon down after that long
	// with no client connection (the --persistent=N CLI contract).
	IdleTimeout time.Duration

	mu   sync.Mutex
	done chan struct{}
}

// lockPath is spec §6's "$XDG_DATA_HOME/FEX/Server/Server.lock",
// renamed to this project's own data directory.
func lockPath() string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".local", "share")
	}
	return filepath.Join(base, "OtterJIT", "Server", "Server.lock")
}

// acquireLock takes the write->downgrade->read fcntl lock spec §4.H
// describes: "the daemon holds a write->downgrade->read fcntl lock on
// a dotlock file; only one daemon instance can hold it, subsequent
// daemons detect the lock and exit."
func acquireLock() (*os.File, error) {
	path := lockPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("daemon: create lock dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("daemon: open lock file: %w", err)
	}

	writeLock := unix.Flock_t{Type: unix.F_WRLCK, Whence: 0, Start: 0, Len: 0}
	if err := unix.FcntlFlock(f.Fd(), unix.F_SETLK, &writeLock); err != nil {
		f.Close()
		return nil, fmt.Errorf("daemon: another instance holds the lock: %w", err)
	}

	// Downgrade to a read lock: once the daemon is up, it only needs to
	// prove it is still alive, not exclude new readers of its own state.
	readLock := unix.Flock_t{Type: unix.F_RDLCK, Whence: 0, Start: 0, Len: 0}
	if err := unix.FcntlFlock(f.Fd(), unix.F_SETLK, &readLock); err != nil {
		f.Close()
		return nil, fmt.Errorf("daemon: downgrade lock: %w", err)
	}
	return f, nil
}

// Listen binds the abstract socket for the calling user, after first
// taking the dotlock. Mirrors runtime_ipc.go's newIPCServerAt stale-
// socket retry: if bind fails, probe whether a peer is actually alive
// before giving up.
func Listen(log *logging.Logger) (*Server, error) {
	lockFile, err := acquireLock()
	if err != nil {
		return nil, err
	}

	name := socketName(os.Geteuid())
	ln, err := net.Listen("unix", name)
	if err != nil {
		if conn, dialErr := net.Dial("unix", name); dialErr == nil {
			conn.Close()
			lockFile.Close()
			return nil, fmt.Errorf("daemon: another instance is already listening on %s", name)
		}
		lockFile.Close()
		return nil, fmt.Errorf("daemon: listen on %s: %w", name, err)
	}

	return &Server{ln: ln, lockFile: lockFile, log: log, done: make(chan struct{})}, nil
}

// Serve accepts connections until Shutdown is called. Each accepted
// connection handles exactly one request then closes, per
// SPEC_FULL.md's "request/response over one connection per request,
// not a long-lived multiplexed stream" (grounded on FEXServerClient.cpp).
func (s *Server) Serve() error {
	var idle *time.Timer
	if s.IdleTimeout > 0 {
		idle = time.AfterFunc(s.IdleTimeout, s.Shutdown)
	}
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
				return fmt.Errorf("daemon: accept: %w", err)
			}
		}
		if idle != nil {
			idle.Reset(s.IdleTimeout)
		}
		go s.handle(conn)
	}
}

// Shutdown closes the listener and releases the dotlock.
func (s *Server) Shutdown() {
	s.mu.Lock()
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.mu.Unlock()
	s.ln.Close()
	s.lockFile.Close()
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return
	}

	var hdr [headerSize]byte
	if _, err := uc.Read(hdr[:]); err != nil {
		return
	}
	req := PacketType(binary.LittleEndian.Uint32(hdr[:]))

	switch req {
	case PacketKill:
		s.writeType(uc, PacketSuccess)
		go s.Shutdown()

	case PacketGetRootFSPath:
		s.writeString(uc, s.RootFSPath)

	case PacketGetLogFD:
		s.writeFD(uc, s.LogFD)

	case PacketGetPIDFD:
		pidfd, err := unix.PidfdOpen(os.Getpid(), 0)
		if err != nil {
			s.writeType(uc, PacketError)
			return
		}
		defer unix.Close(pidfd)
		s.writeFD(uc, pidfd)

	default:
		s.writeType(uc, PacketError)
	}
}

func (s *Server) writeType(uc *net.UnixConn, t PacketType) {
	var buf [headerSize]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(t))
	uc.Write(buf[:])
}

func (s *Server) writeString(uc *net.UnixConn, str string) {
	var hdr [headerSize]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(PacketSuccess))
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(str)))
	uc.Write(hdr[:])
	uc.Write(lenBuf[:])
	uc.Write([]byte(str))
}

// writeFD sends a response header with one FD attached via SCM_RIGHTS
// ancillary data, per spec §6: "FDs passed via SCM_RIGHTS ancillary
// data."
func (s *Server) writeFD(uc *net.UnixConn, fd int) {
	var hdr [headerSize]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(PacketSuccess))
	oob := unix.UnixRights(fd)
	rawConn, err := uc.SyscallConn()
	if err != nil {
		return
	}
	rawConn.Control(func(sysfd uintptr) {
		unix.Sendmsg(int(sysfd), hdr[:], oob, nil, 0)
	})
}
