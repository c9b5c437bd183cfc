// Package console is the interactive debug monitor otterjit-run
// exposes behind -monitor: single-step, register dump, breakpoints,
// driven through the dispatcher's pause suspension point (spec §5:
// "Suspension happens when... a debugger pause is requested").
//
// Grounded on terminal_host.go: the same enter-raw-mode/restore-on-
// exit discipline around the process's controlling terminal, with the
// input loop repurposed from feeding guest MMIO to driving the
// dispatcher's pause/resume flags.
package console

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/otterjit/otterjit/internal/dispatch"
)

// Console drives one guest thread from the controlling terminal.
type Console struct {
	thread *dispatch.Thread

	breakpoints map[uint64]bool
	stepping    bool
}

func New(thread *dispatch.Thread) *Console {
	return &Console{thread: thread, breakpoints: make(map[uint64]bool)}
}

type stdinOut struct{}

func (stdinOut) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdinOut) Write(p []byte) (int, error) { return os.Stdout.Write(p) }

// Run takes over the terminal until the user continues or quits. It is
// called with the guest thread already paused at a block boundary.
func (c *Console) Run() error {
	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		return fmt.Errorf("console: raw mode: %w", err)
	}
	defer term.Restore(int(os.Stdin.Fd()), oldState)

	t := term.NewTerminal(stdinOut{}, "(otterjit) ")
	fmt.Fprintf(t, "paused at RIP 0x%x; s=step c=continue r=regs b <hex>=break q=quit\r\n", c.thread.CPU.RIP)

	for {
		line, err := t.ReadLine()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "s", "step":
			// Re-arm the pause before releasing so the dispatcher stops
			// again after exactly one block.
			c.thread.PauseRequested.Store(true)
			c.thread.Resume <- struct{}{}
			fmt.Fprintf(t, "RIP 0x%x\r\n", c.thread.CPU.RIP)

		case "c", "continue":
			c.thread.Resume <- struct{}{}
			return nil

		case "r", "regs":
			c.dumpRegs(t)

		case "b", "break":
			if len(fields) < 2 {
				fmt.Fprintf(t, "usage: b <hex-addr>\r\n")
				continue
			}
			addr, err := strconv.ParseUint(strings.TrimPrefix(fields[1], "0x"), 16, 64)
			if err != nil {
				fmt.Fprintf(t, "bad address %q\r\n", fields[1])
				continue
			}
			c.breakpoints[addr] = true
			fmt.Fprintf(t, "breakpoint at 0x%x\r\n", addr)

		case "q", "quit":
			c.thread.Shutdown.Store(true)
			c.thread.Resume <- struct{}{}
			return nil

		default:
			fmt.Fprintf(t, "unknown command %q\r\n", fields[0])
		}
	}
}

// ShouldBreak reports whether rip has a breakpoint. Neither the run
// harness nor the dispatcher calls it, so a breakpoint set with "b" is
// recorded but does not pause the guest.
func (c *Console) ShouldBreak(rip uint64) bool {
	return c.breakpoints[rip]
}

var gprNames = [16]string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

func (c *Console) dumpRegs(w io.Writer) {
	cpu := c.thread.CPU
	for i := 0; i < cpu.NumGPR(); i++ {
		fmt.Fprintf(w, "%-4s %016x", gprNames[i], cpu.GPR[i])
		if i%2 == 1 {
			fmt.Fprintf(w, "\r\n")
		} else {
			fmt.Fprintf(w, "  ")
		}
	}
	fmt.Fprintf(w, "rip  %016x  flags %08x\r\n", cpu.RIP, cpu.EFLAGSWord())
}
