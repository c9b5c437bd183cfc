package ir

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Serialize encodes a Block's arena and constant table into a byte
// blob suitable for storage in the AOT cache (spec §4.G "ir_blob").
// Grounded on the assembler's fixed-width instruction encoding
// discipline (assembler/ie64asm.go's 8-byte little-endian instruction
// words) — each Node here serializes to one fixed-size record for the
// same reason: cheap random access and no per-field length prefixes.
func Serialize(b *Block) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint64(b.StartRIP))
	binary.Write(&buf, binary.LittleEndian, uint64(b.EndRIP))
	binary.Write(&buf, binary.LittleEndian, uint8(b.Config))
	binary.Write(&buf, binary.LittleEndian, boolByte(b.Multiblock))
	binary.Write(&buf, binary.LittleEndian, uint64(b.GuestHash))

	binary.Write(&buf, binary.LittleEndian, uint32(len(b.Consts)))
	for _, c := range b.Consts {
		binary.Write(&buf, binary.LittleEndian, c)
	}

	binary.Write(&buf, binary.LittleEndian, uint32(len(b.Nodes)))
	for _, n := range b.Nodes {
		binary.Write(&buf, binary.LittleEndian, uint16(n.Op))
		binary.Write(&buf, binary.LittleEndian, n.ElemSize)
		binary.Write(&buf, binary.LittleEndian, n.NumElem)
		binary.Write(&buf, binary.LittleEndian, uint8(n.Class))
		binary.Write(&buf, binary.LittleEndian, boolByte(n.Signed))
		binary.Write(&buf, binary.LittleEndian, boolByte(n.Saturating))
		binary.Write(&buf, binary.LittleEndian, n.Aux)
		binary.Write(&buf, binary.LittleEndian, uint32(n.Args[0]))
		binary.Write(&buf, binary.LittleEndian, uint32(n.Args[1]))
		binary.Write(&buf, binary.LittleEndian, uint32(n.Args[2]))
		binary.Write(&buf, binary.LittleEndian, n.ConstIdx)
	}

	binary.Write(&buf, binary.LittleEndian, uint8(b.Exit.Kind))
	binary.Write(&buf, binary.LittleEndian, b.Exit.Target)
	binary.Write(&buf, binary.LittleEndian, b.Exit.Fallthrough)
	binary.Write(&buf, binary.LittleEndian, uint32(b.Exit.CondNode))
	binary.Write(&buf, binary.LittleEndian, uint32(b.Exit.TargetNode))

	return buf.Bytes()
}

func boolByte(v bool) uint8 {
	if v {
		return 1
	}
	return 0
}

// Deserialize reverses Serialize. The spec's round-trip invariant (§8:
// "serialize(ir) → bytes → deserialize(bytes) → ir' produces an IR
// graph that generates byte-identical host code") only holds if every
// field Serialize writes is read back here in the same order.
func Deserialize(data []byte) (*Block, error) {
	r := bytes.NewReader(data)
	b := &Block{}

	var startRIP, endRIP uint64
	var cfg, multi uint8
	if err := binary.Read(r, binary.LittleEndian, &startRIP); err != nil {
		return nil, fmt.Errorf("ir deserialize: start rip: %w", err)
	}
	binary.Read(r, binary.LittleEndian, &endRIP)
	binary.Read(r, binary.LittleEndian, &cfg)
	binary.Read(r, binary.LittleEndian, &multi)
	b.StartRIP = startRIP
	b.EndRIP = endRIP
	b.Config = Fingerprint(cfg)
	b.Multiblock = multi != 0
	binary.Read(r, binary.LittleEndian, &b.GuestHash)

	var numConsts uint32
	if err := binary.Read(r, binary.LittleEndian, &numConsts); err != nil {
		return nil, fmt.Errorf("ir deserialize: const count: %w", err)
	}
	b.Consts = make([]uint64, numConsts)
	for i := range b.Consts {
		if err := binary.Read(r, binary.LittleEndian, &b.Consts[i]); err != nil {
			return nil, fmt.Errorf("ir deserialize: const %d: %w", i, err)
		}
	}

	var numNodes uint32
	if err := binary.Read(r, binary.LittleEndian, &numNodes); err != nil {
		return nil, fmt.Errorf("ir deserialize: node count: %w", err)
	}
	b.Nodes = make([]Node, numNodes)
	for i := range b.Nodes {
		n := &b.Nodes[i]
		var op uint16
		var class, signed, saturating uint8
		var a0, a1, a2 uint32
		if err := binary.Read(r, binary.LittleEndian, &op); err != nil {
			return nil, fmt.Errorf("ir deserialize: node %d op: %w", i, err)
		}
		binary.Read(r, binary.LittleEndian, &n.ElemSize)
		binary.Read(r, binary.LittleEndian, &n.NumElem)
		binary.Read(r, binary.LittleEndian, &class)
		binary.Read(r, binary.LittleEndian, &signed)
		binary.Read(r, binary.LittleEndian, &saturating)
		binary.Read(r, binary.LittleEndian, &n.Aux)
		binary.Read(r, binary.LittleEndian, &a0)
		binary.Read(r, binary.LittleEndian, &a1)
		binary.Read(r, binary.LittleEndian, &a2)
		binary.Read(r, binary.LittleEndian, &n.ConstIdx)

		n.Op = Op(op)
		n.Class = RegClass(class)
		n.Signed = signed != 0
		n.Saturating = saturating != 0
		n.Args = [3]Ref{Ref(a0), Ref(a1), Ref(a2)}
		n.PhysReg = -1
	}

	var exitKind uint8
	if err := binary.Read(r, binary.LittleEndian, &exitKind); err != nil {
		return nil, fmt.Errorf("ir deserialize: exit kind: %w", err)
	}
	var target, fallthroughAddr uint64
	var condNode, targetNode uint32
	binary.Read(r, binary.LittleEndian, &target)
	binary.Read(r, binary.LittleEndian, &fallthroughAddr)
	binary.Read(r, binary.LittleEndian, &condNode)
	binary.Read(r, binary.LittleEndian, &targetNode)
	b.Exit = BlockExit{Kind: ExitKind(exitKind), Target: target, Fallthrough: fallthroughAddr, CondNode: Ref(condNode), TargetNode: Ref(targetNode)}

	return b, nil
}
