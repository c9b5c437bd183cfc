package ir

import (
	"bytes"
	"testing"
)

func buildSampleBlock() *Block {
	b := NewBlock(0x401000, FingerprintTSO)
	b.EndRIP = 0x401010
	b.GuestHash = 0xDEADBEEFCAFEF00D

	v := b.EmitConst(42, 8, ClassGPR)
	reg := b.Emit(Node{Op: OpLoadReg, ElemSize: 8, NumElem: 1, Class: ClassGPR, Aux: 3, PhysReg: -1})
	sum := b.Emit(Node{Op: OpAdd, ElemSize: 8, NumElem: 1, Class: ClassGPR, Args: [3]Ref{v, reg}, PhysReg: -1})
	b.Emit(Node{Op: OpStoreReg, ElemSize: 8, NumElem: 1, Class: ClassGPR, Aux: 3, Args: [3]Ref{sum}, PhysReg: -1})
	b.Exit = BlockExit{Kind: ExitUnconditional, Target: 0x402000}
	return b
}

func TestSerializeRoundTrip(t *testing.T) {
	// Spec §8 round-trip invariant: the deserialized graph must be
	// structurally identical, which re-serialization proves bytewise.
	b := buildSampleBlock()
	blob := Serialize(b)

	b2, err := Deserialize(blob)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if b2.StartRIP != b.StartRIP || b2.EndRIP != b.EndRIP || b2.GuestHash != b.GuestHash || b2.Config != b.Config {
		t.Fatalf("header mismatch: %+v vs %+v", b2, b)
	}
	if len(b2.Nodes) != len(b.Nodes) || len(b2.Consts) != len(b.Consts) {
		t.Fatalf("arena sizes differ: %d/%d nodes, %d/%d consts",
			len(b2.Nodes), len(b.Nodes), len(b2.Consts), len(b.Consts))
	}
	if b2.Exit != b.Exit {
		t.Fatalf("exit mismatch: %+v vs %+v", b2.Exit, b.Exit)
	}

	blob2 := Serialize(b2)
	if !bytes.Equal(blob, blob2) {
		t.Fatal("re-serialization is not byte-identical")
	}
}

func TestDeserializeTruncated(t *testing.T) {
	blob := Serialize(buildSampleBlock())
	for _, cut := range []int{0, 4, 20, len(blob) / 2} {
		if _, err := Deserialize(blob[:cut]); err == nil {
			t.Errorf("truncation at %d bytes not detected", cut)
		}
	}
}

func TestEmitConstInterning(t *testing.T) {
	b := NewBlock(0, 0)
	r := b.EmitConst(7, 4, ClassGPR)
	n := b.Node(r)
	if n.Op != OpConst || b.ConstValue(n) != 7 {
		t.Fatalf("const node wrong: %+v value %d", n, b.ConstValue(n))
	}
	if r == InvalidRef {
		t.Fatal("EmitConst returned the reserved sentinel ref")
	}
}

func TestWalkSkipsDead(t *testing.T) {
	b := buildSampleBlock()
	b.MarkDead(1)
	var visited int
	b.Walk(func(r Ref, n *Node) { visited++ })
	if visited != len(b.Nodes)-2 { // minus sentinel, minus dead node
		t.Fatalf("walk visited %d nodes, want %d", visited, len(b.Nodes)-2)
	}
}
