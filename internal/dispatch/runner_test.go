package dispatch

import (
	"encoding/binary"
	"math"
	"os"
	"sync"
	"testing"

	"github.com/otterjit/otterjit/internal/guest"
)

// newTestRunner maps a page of guest memory holding code, returning
// the runner, a thread positioned at the code's start, and the base
// address. The interpreter backend is selected explicitly so these
// end-to-end scenarios are host-architecture independent.
func newTestRunner(t *testing.T, code []byte) (*Runner, *Thread, uint64) {
	t.Helper()
	mem := guest.NewManager(false)
	r, err := NewRunner(mem, BackendInterp)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	base, err := mem.AllocateGuestRegion(guest.PageSize)
	if err != nil {
		t.Fatalf("AllocateGuestRegion: %v", err)
	}
	if err := mem.WriteGuestBytes(base, code); err != nil {
		t.Fatalf("write code: %v", err)
	}
	th := r.NewGuestThread(0)
	th.CPU.RIP = base
	return r, th, base
}

func TestRunNopHlt(t *testing.T) {
	// Spec §8 scenario 1: [0x90, 0xF4] halts with RIP advanced past
	// the HLT and nothing else modified.
	r, th, base := newTestRunner(t, []byte{0x90, 0xF4})

	reason, err := r.Run(th)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reason != ShutdownHLT {
		t.Fatalf("shutdown reason = %v, want HLT", reason)
	}
	if th.CPU.RIP != base+2 {
		t.Fatalf("RIP = 0x%x, want 0x%x", th.CPU.RIP, base+2)
	}
	for i, v := range th.CPU.GPR {
		if v != 0 {
			t.Errorf("GPR[%d] = 0x%x, want 0 (unmodified)", i, v)
		}
	}
}

func TestRunWriteSyscall(t *testing.T) {
	// Spec §8 scenario 2: write(1, &'T', 1) then HLT. The data byte
	// sits at offset 0x1F, just past the 31 bytes of code; RSI is
	// formed RIP-relative so the test needs no absolute-address patch.
	code := []byte{
		0x48, 0xC7, 0xC0, 0x01, 0, 0, 0, // MOV RAX, 1
		0x48, 0xC7, 0xC7, 0x01, 0, 0, 0, // MOV RDI, 1
		0x48, 0x8D, 0x35, 0x0A, 0, 0, 0, // LEA RSI, [RIP+10] -> offset 0x1F
		0x48, 0xC7, 0xC2, 0x01, 0, 0, 0, // MOV RDX, 1
		0x0F, 0x05, // SYSCALL
		0xF4, // HLT
		0x54, // 'T' at offset 0x1F
	}
	r, th, base := newTestRunner(t, code)

	pr, pw, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer pr.Close()
	r.FDs.Remap(1, int(pw.Fd()))

	reason, err := r.Run(th)
	pw.Close()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reason != ShutdownHLT {
		t.Fatalf("shutdown reason = %v, want HLT", reason)
	}
	if th.CPU.GPR[0] != 1 {
		t.Errorf("RAX (write return) = %d, want 1", th.CPU.GPR[0])
	}

	out := make([]byte, 2)
	n, _ := pr.Read(out)
	if n != 1 || out[0] != 0x54 {
		t.Fatalf("stdout = % x (%d bytes), want single 0x54", out[:n], n)
	}
	_ = base
}

func TestRunMovaps(t *testing.T) {
	// Spec §8 scenario 3: MOVAPS xmm0, xmm1 copies the full 128 bits.
	r, th, _ := newTestRunner(t, []byte{0x0F, 0x28, 0xC1, 0xF4})
	th.CPU.Vec[1] = [4]uint64{2<<32 | 1, 4<<32 | 3, 0, 0}

	if reason, err := r.Run(th); err != nil || reason != ShutdownHLT {
		t.Fatalf("Run: reason=%v err=%v", reason, err)
	}
	if th.CPU.Vec[0][0] != th.CPU.Vec[1][0] || th.CPU.Vec[0][1] != th.CPU.Vec[1][1] {
		t.Fatalf("xmm0 = %x/%x, want copy of xmm1 %x/%x",
			th.CPU.Vec[0][0], th.CPU.Vec[0][1], th.CPU.Vec[1][0], th.CPU.Vec[1][1])
	}
}

func TestRunMovapsUpperHalfRule(t *testing.T) {
	// Spec §8 scenario 3's VEX clause: the upper 128 bits of ymm0 are
	// zeroed only by the VEX-encoded form; the legacy encoding leaves
	// them untouched.
	legacy := []byte{0x0F, 0x28, 0xC1, 0xF4}    // MOVAPS xmm0, xmm1
	vex := []byte{0xC5, 0xF8, 0x28, 0xC1, 0xF4} // VMOVAPS xmm0, xmm1
	for _, tc := range []struct {
		name      string
		code      []byte
		wantUpper uint64
	}{
		{"legacy-preserves", legacy, 0x5555},
		{"vex-zeroes", vex, 0},
	} {
		r, th, _ := newTestRunner(t, tc.code)
		th.CPU.Vec[1] = [4]uint64{2<<32 | 1, 4<<32 | 3, 0, 0}
		th.CPU.Vec[0][2], th.CPU.Vec[0][3] = 0x5555, 0x5555

		if reason, err := r.Run(th); err != nil || reason != ShutdownHLT {
			t.Fatalf("%s: reason=%v err=%v", tc.name, reason, err)
		}
		if th.CPU.Vec[0][0] != th.CPU.Vec[1][0] || th.CPU.Vec[0][1] != th.CPU.Vec[1][1] {
			t.Fatalf("%s: low 128 bits not copied", tc.name)
		}
		if th.CPU.Vec[0][2] != tc.wantUpper || th.CPU.Vec[0][3] != tc.wantUpper {
			t.Fatalf("%s: upper half = %x/%x, want %x", tc.name, th.CPU.Vec[0][2], th.CPU.Vec[0][3], tc.wantUpper)
		}
	}
}

func TestRunVexAddpsUsesVVVVSource(t *testing.T) {
	// VADDPS xmm0, xmm1, xmm2: the destination's old value must not
	// participate — the sources are xmm1 (vvvv) and xmm2.
	r, th, _ := newTestRunner(t, []byte{0xC5, 0xF0, 0x58, 0xC2, 0xF4})
	setLanes := func(reg int, v float32) {
		for i := 0; i < 4; i++ {
			lane := uint64(math.Float32bits(v))
			th.CPU.Vec[reg][i/2] |= lane << (32 * uint(i%2))
		}
	}
	th.CPU.Vec[0] = [4]uint64{^uint64(0), ^uint64(0), ^uint64(0), ^uint64(0)} // poison dst
	setLanesClear := func(reg int) { th.CPU.Vec[reg] = [4]uint64{} }
	setLanesClear(1)
	setLanesClear(2)
	setLanes(1, 1.5)
	setLanes(2, 2.25)

	if reason, err := r.Run(th); err != nil || reason != ShutdownHLT {
		t.Fatalf("Run: reason=%v err=%v", reason, err)
	}
	want := uint64(math.Float32bits(3.75))
	for i := 0; i < 4; i++ {
		got := (th.CPU.Vec[0][i/2] >> (32 * uint(i%2))) & 0xFFFFFFFF
		if got != want {
			t.Fatalf("lane %d = %x, want %x (1.5+2.25)", i, got, want)
		}
	}
	if th.CPU.Vec[0][2] != 0 || th.CPU.Vec[0][3] != 0 {
		t.Fatal("VEX.128 packed op did not zero the upper YMM half")
	}
}

func TestRunPshufb(t *testing.T) {
	// Spec §8 scenario 4: a control byte with the high bit set zeroes
	// the destination byte; others select by low nibble.
	r, th, _ := newTestRunner(t, []byte{0x66, 0x0F, 0x38, 0x00, 0xC1, 0xF4})

	var data, ctrl [16]byte
	for i := range data {
		data[i] = byte(i)
	}
	ctrl[0] = 0x80
	for i := 1; i < 16; i++ {
		ctrl[i] = byte(16 - i)
	}
	th.CPU.Vec[0][0] = binary.LittleEndian.Uint64(data[0:])
	th.CPU.Vec[0][1] = binary.LittleEndian.Uint64(data[8:])
	th.CPU.Vec[1][0] = binary.LittleEndian.Uint64(ctrl[0:])
	th.CPU.Vec[1][1] = binary.LittleEndian.Uint64(ctrl[8:])

	if reason, err := r.Run(th); err != nil || reason != ShutdownHLT {
		t.Fatalf("Run: reason=%v err=%v", reason, err)
	}

	var got [16]byte
	binary.LittleEndian.PutUint64(got[0:], th.CPU.Vec[0][0])
	binary.LittleEndian.PutUint64(got[8:], th.CPU.Vec[0][1])
	if got[0] != 0 {
		t.Errorf("lane 0 = %d, want 0 (high-bit zeroing)", got[0])
	}
	for i := 1; i < 16; i++ {
		want := byte(16-i) & 0x0F
		if got[i] != want {
			t.Errorf("lane %d = %d, want %d", i, got[i], want)
		}
	}
}

func TestRunFlagsLoop(t *testing.T) {
	// MOV RCX,3; SUB RCX,1; JNZ back: exercises the deferred-flags
	// record across a conditional block exit, three times around.
	code := []byte{
		0x48, 0xC7, 0xC1, 0x03, 0, 0, 0, // MOV RCX, 3
		0x48, 0x83, 0xE9, 0x01, // SUB RCX, 1
		0x75, 0xFA, // JNZ -6
		0xF4, // HLT
	}
	r, th, _ := newTestRunner(t, code)

	if reason, err := r.Run(th); err != nil || reason != ShutdownHLT {
		t.Fatalf("Run: reason=%v err=%v", reason, err)
	}
	if th.CPU.GPR[1] != 0 {
		t.Fatalf("RCX = %d, want 0", th.CPU.GPR[1])
	}
	if th.CPU.ZF != 1 {
		t.Fatalf("ZF = %d, want 1 after the final SUB", th.CPU.ZF)
	}
}

func TestRunCmpxchg16bRace(t *testing.T) {
	// Spec §8 scenario 5: two guest threads race a CMPXCHG16B on the
	// same aligned location; exactly one succeeds (ZF=1), the loser
	// observes the winner's value in RDX:RAX with ZF=0.
	code := []byte{0xF0, 0x48, 0x0F, 0xC7, 0x0E, 0xF4} // LOCK CMPXCHG16B [RSI]; HLT
	r, t1, base := newTestRunner(t, code)
	t2 := r.NewGuestThread(1)
	t2.CPU.RIP = base

	target := (base + 0x100) &^ 15
	initial := [16]byte{}
	if err := r.Mem.WriteGuestBytes(target, initial[:]); err != nil {
		t.Fatalf("init target: %v", err)
	}

	for i, th := range []*Thread{t1, t2} {
		th.CPU.GPR[6] = target // RSI
		th.CPU.GPR[0] = 0      // expected RDX:RAX = 0:0
		th.CPU.GPR[2] = 0
		th.CPU.GPR[3] = uint64(i + 1) // RCX:RBX = distinct new value
		th.CPU.GPR[1] = uint64(i + 1)
	}

	var wg sync.WaitGroup
	for _, th := range []*Thread{t1, t2} {
		wg.Add(1)
		go func(th *Thread) {
			defer wg.Done()
			if _, err := r.Run(th); err != nil {
				t.Errorf("thread %d: %v", th.ID, err)
			}
		}(th)
	}
	wg.Wait()

	wins := int(t1.CPU.ZF) + int(t2.CPU.ZF)
	if wins != 1 {
		t.Fatalf("ZF sum = %d, want exactly one winner", wins)
	}

	winner, loser := t1, t2
	if t2.CPU.ZF == 1 {
		winner, loser = t2, t1
	}
	var buf [16]byte
	r.Mem.ReadGuestBytes(target, buf[:])
	memLo := binary.LittleEndian.Uint64(buf[0:])
	if memLo != winner.CPU.GPR[3] {
		t.Fatalf("memory low = %d, want winner's RBX %d", memLo, winner.CPU.GPR[3])
	}
	if loser.CPU.GPR[0] != memLo {
		t.Fatalf("loser RAX = %d, want observed value %d", loser.CPU.GPR[0], memLo)
	}
}

func TestRunShutdownFlag(t *testing.T) {
	r, th, _ := newTestRunner(t, []byte{0x90, 0xF4})
	th.Shutdown.Store(true)
	reason, err := r.Run(th)
	if err != nil || reason != ShutdownRequested {
		t.Fatalf("reason=%v err=%v, want ShutdownRequested", reason, err)
	}
}

func TestRunGuestExit(t *testing.T) {
	code := []byte{
		0x48, 0xC7, 0xC0, 0x3C, 0, 0, 0, // MOV RAX, 60 (exit)
		0x48, 0xC7, 0xC7, 0x07, 0, 0, 0, // MOV RDI, 7
		0x0F, 0x05, // SYSCALL
	}
	r, th, _ := newTestRunner(t, code)
	reason, err := r.Run(th)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reason != ShutdownExit || r.ExitCode != 7 {
		t.Fatalf("reason=%v code=%d, want exit with code 7", reason, r.ExitCode)
	}
}

func TestSignalInjectionAndReturn(t *testing.T) {
	// Register a guest handler at an INT3-adjacent address, raise a
	// signal, and check the frame round-trips: handler runs, RETs
	// through the synthetic sigreturn address, interrupted state is
	// restored.
	code := []byte{
		0x90, 0xF4, // offset 0: NOP; HLT (main program)
		0xC3, // offset 2: handler: RET straight back
	}
	r, th, base := newTestRunner(t, code)

	// A stack for the frame.
	stack, err := r.Mem.AllocateGuestRegion(guest.PageSize)
	if err != nil {
		t.Fatalf("stack: %v", err)
	}
	th.CPU.GPR[4] = stack + guest.PageSize

	r.sigMu.Lock()
	r.sigHandlers[sigTRAP] = base + 2
	r.sigMu.Unlock()

	th.CPU.GPR[3] = 0xDEAD // RBX canary, must survive the handler
	th.RaiseSignal(sigTRAP)

	reason, err := r.Run(th)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reason != ShutdownHLT {
		t.Fatalf("reason = %v, want HLT after handler return", reason)
	}
	if th.CPU.GPR[3] != 0xDEAD {
		t.Fatalf("RBX = 0x%x, want canary restored by sigreturn", th.CPU.GPR[3])
	}
	if th.CPU.RIP != base+2 {
		t.Fatalf("RIP = 0x%x, want 0x%x (past main HLT)", th.CPU.RIP, base+2)
	}
}

func TestUnhandledOpcodeRaisesFault(t *testing.T) {
	// 0xF1 (ICEBP) is not in the decode tables: spec §7 says SIGILL;
	// with no guest handler registered the thread dies with a fault.
	r, th, _ := newTestRunner(t, []byte{0xF1})
	reason, err := r.Run(th)
	if err != nil {
		t.Fatalf("Run returned host error %v, want guest-fault shutdown", err)
	}
	if reason != ShutdownFault {
		t.Fatalf("reason = %v, want ShutdownFault", reason)
	}
}

func TestTranslateCountAndCacheReuse(t *testing.T) {
	code := []byte{
		0x48, 0xC7, 0xC1, 0x03, 0, 0, 0, // MOV RCX, 3
		0x48, 0x83, 0xE9, 0x01, // SUB RCX, 1
		0x75, 0xFA, // JNZ -6 (the loop body block runs twice)
		0xF4,
	}
	r, th, base := newTestRunner(t, code)
	if reason, err := r.Run(th); err != nil || reason != ShutdownHLT {
		t.Fatalf("Run: reason=%v err=%v", reason, err)
	}
	loopRIP := base + 7
	if n := r.TranslateCount(loopRIP); n != 1 {
		t.Fatalf("loop body translated %d times, want 1 (BlockCache hit on re-execution)", n)
	}
}
