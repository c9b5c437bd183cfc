// otterjit-run is the sample harness: it feeds a flat guest image
// through the translation pipeline and runs it to completion. The
// real-world ELF loader front end is an external collaborator (spec
// §1); this harness exists to exercise the core end to end.
package main

import (
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/otterjit/otterjit/internal/aotcache"
	"github.com/otterjit/otterjit/internal/console"
	"github.com/otterjit/otterjit/internal/coredump"
	"github.com/otterjit/otterjit/internal/daemon"
	"github.com/otterjit/otterjit/internal/decode"
	"github.com/otterjit/otterjit/internal/dispatch"
	"github.com/otterjit/otterjit/internal/guest"
	"github.com/otterjit/otterjit/internal/loader"
	"github.com/otterjit/otterjit/internal/logging"
)

const version = "0.1.0"

func main() {
	entryStr := flag.String("entry", "0", "entry offset into the image (hex accepted with 0x prefix)")
	is32 := flag.Bool("32", false, "treat the guest as 32-bit x86")
	monitor := flag.Bool("monitor", false, "start paused in the debug console")
	aotDir := flag.String("aot", "", "directory for the persistent AOT IR cache")
	backendStr := flag.String("backend", "jit", "execution backend: jit or interp")
	noDaemon := flag.Bool("no-daemon", false, "skip contacting otterjitd")
	printVersion := flag.Bool("v", false, "print version")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: otterjit-run [flags] <guest-image>\n\nRuns a flat x86/x86-64 binary image under the translator.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *printVersion {
		fmt.Println("otterjit-run", version)
		populated, total := decode.TableStats()
		fmt.Printf("opcode table: %d of %d reserved slots populated\n", populated, total)
		return
	}
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	log := logging.New("run")
	os.Exit(run(log, flag.Arg(0), *entryStr, *is32, *monitor, *aotDir, *backendStr, *noDaemon))
}

func run(log *logging.Logger, imagePath, entryStr string, is32, monitor bool, aotDir, backendStr string, noDaemon bool) int {
	entry, err := strconv.ParseUint(strings.TrimPrefix(entryStr, "0x"), 16, 64)
	if err != nil {
		log.Printf("bad -entry %q: %v", entryStr, err)
		return 2
	}

	ld, err := loader.Open(imagePath, entry)
	if err != nil {
		log.Printf("%v", err)
		return 1
	}

	backend := dispatch.BackendJIT
	if backendStr == "interp" {
		backend = dispatch.BackendInterp
	}

	mem := guest.NewManager(is32)
	runner, err := dispatch.NewRunner(mem, backend)
	if err != nil {
		log.Printf("%v", err)
		return 1
	}

	thread := runner.NewGuestThread(0)
	base, err := dispatch.SetupGuest(mem, thread, ld)
	if err != nil {
		log.Printf("%v", err)
		return 1
	}

	// Daemon contact is best-effort (spec §7: "Daemon unreachable:
	// client falls back... translation continues").
	if !noDaemon {
		if conn, err := daemon.ConnectOrStart("otterjitd"); err == nil {
			if path, err := daemon.RequestRootFSPath(conn); err == nil && path != "" {
				log.Printf("rootfs at %s", path)
			}
			conn.Close()
		} else {
			log.Printf("daemon unreachable, continuing standalone: %v", err)
		}
	}

	var aotWriter *aotcache.Writer
	if aotDir != "" {
		abs, _ := filepath.Abs(imagePath)
		id := aotcache.FileIdentity(abs, configChars(is32))
		path := filepath.Join(aotDir, id+".aot")

		if reader, err := aotcache.Open(path); err == nil {
			defer reader.Close()
			aotWriter = aotcache.NewWriter(path, id, logging.New("aot"))
			runner.AttachAOT(reader, aotWriter, base)
		} else {
			if !errors.Is(err, os.ErrNotExist) {
				log.Printf("aot cache %s unusable, cold start: %v", path, err)
			}
			aotWriter = aotcache.NewWriter(path, id, logging.New("aot"))
			runner.AttachAOT(nil, aotWriter, base)
		}
	}

	if monitor {
		thread.PauseRequested.Store(true)
		go func() {
			if err := console.New(thread).Run(); err != nil {
				log.Printf("console: %v", err)
			}
		}()
	}

	reason, err := runner.Run(thread)
	if aotWriter != nil {
		if cerr := aotWriter.Close(); cerr != nil {
			log.Printf("aot flush: %v", cerr)
		}
	}
	if err != nil {
		log.Printf("guest fault: %v", err)
	}

	switch reason {
	case dispatch.ShutdownExit:
		return runner.ExitCode
	case dispatch.ShutdownHLT, dispatch.ShutdownRequested:
		return 0
	default:
		streamCore(log, thread, mem)
		return 139 // shell convention for a SIGSEGV death
	}
}

// configChars is the "{config_char_flags}" tail of the AOT file
// identity (spec §4.G): one character per translation-affecting
// configuration bit.
func configChars(is32 bool) string {
	arch := "q" // 64-bit
	if is32 {
		arch = "d"
	}
	return arch + "t" // TSO-only model
}

// streamCore sends the coredump sub-protocol to the daemon's dedicated
// socket on a fatal guest fault. Failure is non-fatal: with no daemon
// the crash is still reported on stderr.
func streamCore(log *logging.Logger, thread *dispatch.Thread, mem *guest.Manager) {
	conn, err := net.Dial("unix", daemon.CoredumpSocketName(os.Geteuid()))
	if err != nil {
		return
	}
	defer conn.Close()

	cpu := thread.CPU
	coredump.WriteSigInfo(conn, 11, 1, cpu.RIP)

	regs := make([]byte, 27*8)
	order := []uint64{
		cpu.GPR[15], cpu.GPR[14], cpu.GPR[13], cpu.GPR[12], cpu.GPR[5], cpu.GPR[3],
		cpu.GPR[11], cpu.GPR[10], cpu.GPR[9], cpu.GPR[8], cpu.GPR[0], cpu.GPR[1],
		cpu.GPR[2], cpu.GPR[6], cpu.GPR[7], 0, cpu.RIP, 0, uint64(cpu.EFLAGSWord()),
		cpu.GPR[4], 0, cpu.FSBase, cpu.GSBase, 0, 0, 0, 0,
	}
	for i, v := range order {
		binary.LittleEndian.PutUint64(regs[i*8:], v)
	}
	coredump.WriteMContext(conn, coredump.PacketGuestMContext, regs)
	coredump.WriteEnd(conn)
	log.Printf("streamed core dump to daemon")
}
