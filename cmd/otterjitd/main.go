// otterjitd is the per-user service daemon (spec §4.H): it holds the
// guest rootfs mount alive across short-lived guest invocations,
// multiplexes client logs, and accepts coredump streams. CLI contract
// per spec §6: exit 0 on normal shutdown, 126 when the rootfs helper
// fails to exec, 127 when the helper binary is missing.
package main

import (
	"bufio"
	"debug/elf"
	"flag"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/otterjit/otterjit/internal/coredump"
	"github.com/otterjit/otterjit/internal/daemon"
	"github.com/otterjit/otterjit/internal/logging"
)

const version = "0.1.0"

// rootfsHelperName is the mount helper resolved next to this binary
// (never via $PATH), used when -rootfs names a squashfs/erofs image
// rather than a plain directory. The mount mechanism itself is out of
// scope here; only the exec contract and its exit codes are.
const rootfsHelperName = "otterjit-rootfs-mount"

func main() {
	kill := flag.Bool("kill", false, "send a shutdown packet to the running daemon and exit")
	foreground := flag.Bool("foreground", false, "do not deparent from the launching terminal")
	persistent := flag.Int("persistent", 0, "stay alive N seconds after the last client disconnects")
	wait := flag.Bool("wait", false, "block until the active daemon exits")
	printVersion := flag.Bool("v", false, "print version")
	rootfs := flag.String("rootfs", "", "guest root filesystem: a directory, or an image handed to the mount helper")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: otterjitd [flags]\n\nHosts the guest rootfs, log sink, and coredump collector for all\notterjit-run instances of the calling user.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *printVersion {
		fmt.Println("otterjitd", version)
		return
	}

	if *kill {
		conn, err := daemon.Connect()
		if err != nil {
			fmt.Fprintln(os.Stderr, "otterjitd: no running daemon")
			os.Exit(1)
		}
		defer conn.Close()
		if err := daemon.RequestKill(conn); err != nil {
			fmt.Fprintf(os.Stderr, "otterjitd: kill: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *wait {
		os.Exit(waitForDaemonExit())
	}

	if !*foreground {
		// Deparent: re-exec ourselves with -foreground in a new session
		// and let this launcher process exit immediately.
		self, err := os.Executable()
		if err != nil {
			fmt.Fprintf(os.Stderr, "otterjitd: %v\n", err)
			os.Exit(1)
		}
		args := append([]string{"-foreground"}, os.Args[1:]...)
		cmd := exec.Command(self, args...)
		cmd.SysProcAttr = &unix.SysProcAttr{Setsid: true}
		if err := cmd.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "otterjitd: deparent: %v\n", err)
			os.Exit(1)
		}
		cmd.Process.Release()
		return
	}

	os.Exit(run(*rootfs, *persistent))
}

func run(rootfs string, persistentSecs int) int {
	log := logging.New("daemon")

	rootfsPath, code := resolveRootFS(rootfs, log)
	if code != 0 {
		return code
	}

	srv, err := daemon.Listen(log)
	if err != nil {
		// A second daemon finding the lock held is a normal, quiet exit
		// (spec §4.H: "subsequent daemons detect the lock and exit").
		log.Printf("%v", err)
		return 0
	}
	srv.RootFSPath = rootfsPath
	if persistentSecs > 0 {
		srv.IdleTimeout = time.Duration(persistentSecs) * time.Second
	}

	// Log multiplexing: clients receive the pipe's write end over
	// GET_LOG_FD; everything they write comes out line-framed on the
	// daemon's own stderr.
	pr, pw, err := os.Pipe()
	if err != nil {
		log.Printf("log pipe: %v", err)
		return 1
	}
	srv.LogFD = int(pw.Fd())
	go func() {
		sc := bufio.NewScanner(pr)
		for sc.Scan() {
			log.Printf("client: %s", sc.Text())
		}
	}()

	go serveCoreDumps(log)

	log.Printf("serving (rootfs %q)", rootfsPath)
	if err := srv.Serve(); err != nil {
		log.Printf("%v", err)
		return 1
	}
	return 0
}

// resolveRootFS returns the directory clients should chroot-resolve
// guest paths against. A directory is used as-is; anything else is
// handed to the mount helper next to this binary, with the spec §6
// exit codes for a missing (127) or failing (126) helper.
func resolveRootFS(rootfs string, log *logging.Logger) (string, int) {
	if rootfs == "" {
		return "", 0
	}
	if st, err := os.Stat(rootfs); err == nil && st.IsDir() {
		return rootfs, 0
	}

	self, err := os.Executable()
	if err != nil {
		log.Printf("resolve executable: %v", err)
		return "", 126
	}
	helper := filepath.Join(filepath.Dir(self), rootfsHelperName)
	if _, err := os.Stat(helper); err != nil {
		log.Printf("mount helper %s missing", helper)
		return "", 127
	}

	mountPoint, err := os.MkdirTemp("", "otterjit-rootfs-*")
	if err != nil {
		log.Printf("mount point: %v", err)
		return "", 126
	}
	cmd := exec.Command(helper, rootfs, mountPoint)
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		log.Printf("mount helper: %v", err)
		return "", 126
	}
	return mountPoint, 0
}

// serveCoreDumps accepts crash streams on the dedicated coredump
// socket (spec §4.H's sub-protocol) and writes retention-managed,
// zstd-compressed core files.
func serveCoreDumps(log *logging.Logger) {
	ln, err := net.Listen("unix", daemon.CoredumpSocketName(os.Geteuid()))
	if err != nil {
		log.Printf("coredump listener: %v", err)
		return
	}

	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".local", "share")
	}
	store := &coredump.Store{
		Dir:      filepath.Join(base, "OtterJIT", "CoreDumps"),
		Compress: true,
		MaxBytes: 512 << 20,
		MaxAge:   14 * 24 * time.Hour,
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			c, err := coredump.ReadStream(conn)
			if err != nil {
				log.Printf("coredump stream: %v", err)
				return
			}
			var segments []coredump.LoadSegment
			for _, v := range c.VMAs {
				segments = append(segments, coredump.LoadSegment{VMA: v})
			}
			path, err := store.Write(c, elf.EM_X86_64, segments, os.Getpid())
			if err != nil {
				log.Printf("coredump write: %v", err)
				return
			}
			log.Printf("wrote core %s (signal %d at 0x%x)", path, c.Signo, c.FaultAddr)
		}()
	}
}

// waitForDaemonExit implements --wait: obtain a pidfd for the running
// daemon and poll it until the process exits.
func waitForDaemonExit() int {
	conn, err := daemon.Connect()
	if err != nil {
		return 0 // nothing to wait for
	}
	pidfd, err := daemon.RequestPIDFD(conn)
	conn.Close()
	if err != nil {
		return 0
	}
	defer unix.Close(pidfd)

	fds := []unix.PollFd{{Fd: int32(pidfd), Events: unix.POLLIN}}
	for {
		if _, err := unix.Poll(fds, -1); err != unix.EINTR {
			return 0
		}
	}
}
