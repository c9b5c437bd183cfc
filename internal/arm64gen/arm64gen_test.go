package arm64gen

import (
	"bytes"
	"testing"

	"github.com/otterjit/otterjit/internal/ir"
)

func TestScalarEncodings(t *testing.T) {
	// Reference words checked against the A64 encoding tables
	// (assembled with a stock toolchain).
	cases := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"ADD X0, X1, X2", EncodeADD(true, 0, 1, 2), 0x8B020020},
		{"SUB W3, W4, W5", EncodeSUB(false, 3, 4, 5), 0x4B050083},
		{"SUBS X0, X1, X2", EncodeSUBS(true, 0, 1, 2), 0xEB020020},
		{"CMP X1, X2", EncodeCMP(true, 1, 2), 0xEB02003F},
		{"AND X0, X1, X2", EncodeAND(true, 0, 1, 2), 0x8A020020},
		{"ORR X0, X1, X2", EncodeORR(true, 0, 1, 2), 0xAA020020},
		{"EOR X0, X1, X2", EncodeEOR(true, 0, 1, 2), 0xCA020020},
		{"MUL X0, X1, X2", EncodeMUL(true, 0, 1, 2), 0x9B027C20},
		{"UDIV X0, X1, X2", EncodeUDIV(true, 0, 1, 2), 0x9AC20820},
		{"SDIV X0, X1, X2", EncodeSDIV(true, 0, 1, 2), 0x9AC20C20},
		{"LSLV X0, X1, X2", EncodeLSLV(true, 0, 1, 2), 0x9AC22020},
		{"MOVZ X9, #1", EncodeMOVZ(true, 9, 1, 0), 0xD2800029},
		{"BR X26", EncodeBR(26), 0xD61F0340},
		{"RET", EncodeRET(30), 0xD65F03C0},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("%s: got %08X, want %08X", tc.name, tc.got, tc.want)
		}
	}
}

func TestBufferGrowAndSeal(t *testing.T) {
	buf, err := NewBuffer(4096, 1<<20)
	if err != nil {
		t.Skipf("cannot reserve an RWX buffer here: %v", err)
	}
	start := buf.Len()
	for i := 0; i < 2048; i++ { // 8 KiB of words forces one grow
		buf.Emit(encodeNOP())
	}
	entry, err := buf.Seal(start)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if entry == 0 || buf.Len() != 2048*4 {
		t.Fatalf("entry %x len %d", entry, buf.Len())
	}
	got := buf.Contents()
	if got[0] != 0x1F || got[1] != 0x20 || got[2] != 0x03 || got[3] != 0xD5 {
		t.Fatalf("first word % x, want little-endian NOP", got[:4])
	}
}

func aluBlock() *ir.Block {
	b := ir.NewBlock(0x1000, ir.FingerprintTSO)
	c := b.EmitConst(5, 8, ir.ClassGPR)
	r := b.Emit(ir.Node{Op: ir.OpLoadReg, ElemSize: 8, NumElem: 1, Class: ir.ClassGPR, Aux: 0, PhysReg: -1})
	sum := b.Emit(ir.Node{Op: ir.OpAdd, ElemSize: 8, NumElem: 1, Class: ir.ClassGPR, Args: [3]ir.Ref{r, c}, PhysReg: -1})
	b.Emit(ir.Node{Op: ir.OpStoreReg, ElemSize: 8, NumElem: 1, Class: ir.ClassGPR, Aux: 0, Args: [3]ir.Ref{sum}, PhysReg: -1})
	b.Exit = ir.BlockExit{Kind: ir.ExitUnconditional, Target: 0x1008}
	return b
}

// assignRegs stands in for internal/opt (not imported here to keep
// the dependency direction one-way): sequential physical registers,
// nothing spilled.
func assignRegs(b *ir.Block) {
	next := int16(0)
	b.Walk(func(_ ir.Ref, n *ir.Node) {
		n.PhysReg = next
		next++
	})
}

func TestGenerateDeterministic(t *testing.T) {
	// Spec §8 idempotence: identical IR must yield byte-identical host
	// code.
	buf, err := NewBuffer(1<<16, 1<<20)
	if err != nil {
		t.Skipf("cannot reserve an RWX buffer here: %v", err)
	}
	gen := NewGenerator(Features{}, buf, nil)

	b1 := aluBlock()
	assignRegs(b1)
	cb1, err := gen.Generate(b1)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b2 := aluBlock()
	assignRegs(b2)
	cb2, err := gen.Generate(b2)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	all := buf.Contents()
	first := all[:cb1.Size]
	second := all[cb1.Size : cb1.Size+cb2.Size]
	if !bytes.Equal(first, second) {
		t.Fatal("same IR generated different host code")
	}
	if cb1.Size == 0 || cb1.Size%4 != 0 {
		t.Fatalf("generated size %d not a whole number of instructions", cb1.Size)
	}
}

func TestExitWritesRIPAndBranches(t *testing.T) {
	buf, err := NewBuffer(1<<16, 1<<20)
	if err != nil {
		t.Skipf("cannot reserve an RWX buffer here: %v", err)
	}
	gen := NewGenerator(Features{}, buf, nil)

	b := aluBlock()
	assignRegs(b)
	cb, err := gen.Generate(b)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	code := buf.Contents()[:cb.Size]
	last := uint32(code[len(code)-4]) | uint32(code[len(code)-3])<<8 |
		uint32(code[len(code)-2])<<16 | uint32(code[len(code)-1])<<24
	if last != EncodeBR(RegDispatcher) {
		t.Fatalf("block does not end in BR to the dispatcher: %08X", last)
	}
}

func TestVFScalarFallbackShape(t *testing.T) {
	// Without AFP or SVE the pattern must compute into scratch then
	// INS into the destination (spec §4.E's third strategy).
	buf, err := NewBuffer(1<<16, 1<<20)
	if err != nil {
		t.Skipf("cannot reserve an RWX buffer here: %v", err)
	}
	g := NewGenerator(Features{}, buf, nil)

	before := buf.Len()
	g.vfScalarOperation(8, 2, 3, 4, false, func(rd, rn, rm uint32) uint32 {
		return EncodeFMIN(1, rd, rn, rm)
	})
	emitted := (buf.Len() - before) / 4
	if emitted != 2 {
		t.Fatalf("fallback emitted %d instructions, want op+INS (2)", emitted)
	}
}

func TestVFScalarAFPInPlace(t *testing.T) {
	// With AFP the in-place scalar form suffices when the destination
	// aliases the first source (spec §4.E's first strategy).
	buf, err := NewBuffer(1<<16, 1<<20)
	if err != nil {
		t.Skipf("cannot reserve an RWX buffer here: %v", err)
	}
	g := NewGenerator(Features{AFP: true}, buf, nil)

	before := buf.Len()
	g.vfScalarOperation(4, 2, 2, 4, true, func(rd, rn, rm uint32) uint32 {
		return EncodeFADD(0, rd, rn, rm)
	})
	if emitted := (buf.Len() - before) / 4; emitted != 1 {
		t.Fatalf("AFP path emitted %d instructions, want 1", emitted)
	}
}

func TestFloatEncodings(t *testing.T) {
	cases := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"FADD S0, S1, S2", EncodeFADD(0, 0, 1, 2), 0x1E222820},
		{"FSUB S0, S1, S2", EncodeFSUB(0, 0, 1, 2), 0x1E223820},
		{"FMUL S0, S1, S2", EncodeFMUL(0, 0, 1, 2), 0x1E220820},
		{"FDIV S0, S1, S2", EncodeFDIV(0, 0, 1, 2), 0x1E221820},
		{"FADD V0.4S, V1.4S, V2.4S", EncodeVecFADD(4, 0, 1, 2), 0x4E22D420},
		{"FSUB V0.4S, V1.4S, V2.4S", EncodeVecFSUB(4, 0, 1, 2), 0x4EA2D420},
		{"FMUL V0.4S, V1.4S, V2.4S", EncodeVecFMUL(4, 0, 1, 2), 0x6E22DC20},
		{"FDIV V0.4S, V1.4S, V2.4S", EncodeVecFDIV(4, 0, 1, 2), 0x6E22FC20},
		{"FMAX V0.4S, V1.4S, V2.4S", EncodeVecFMAX(4, 0, 1, 2), 0x4E22F420},
		{"FMIN V0.4S, V1.4S, V2.4S", EncodeVecFMIN(4, 0, 1, 2), 0x4EA2F420},
		{"FADD V0.2D, V1.2D, V2.2D", EncodeVecFADD(8, 0, 1, 2), 0x4E62D420},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("%s: got %08X, want %08X", tc.name, tc.got, tc.want)
		}
	}
}
