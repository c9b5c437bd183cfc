package decode

import "testing"

// flatMem is a MemReader backed by a single byte slice starting at
// guest address 0, used across decode's table-driven tests.
type flatMem struct{ b []byte }

func (m flatMem) ReadGuestBytes(addr uint64, buf []byte) error {
	for i := range buf {
		if addr+uint64(i) >= uint64(len(m.b)) {
			buf[i] = 0
			continue
		}
		buf[i] = m.b[addr+uint64(i)]
	}
	return nil
}

func TestDecodeNopHlt(t *testing.T) {
	d := NewDecoder(flatMem{[]byte{0x90, 0xF4}}, true)

	op, err := d.Decode(0)
	if err != nil {
		t.Fatalf("decode NOP: %v", err)
	}
	if op.OpcodeID != OpNop || op.Length != 1 || op.NextIP != 1 {
		t.Fatalf("unexpected NOP decode: %+v", op)
	}

	op, err = d.Decode(1)
	if err != nil {
		t.Fatalf("decode HLT: %v", err)
	}
	if op.OpcodeID != OpHlt || op.Length != 1 || op.NextIP != 2 {
		t.Fatalf("unexpected HLT decode: %+v", op)
	}
}

func TestDecodeMovRegImmSyscallSequence(t *testing.T) {
	// MOV RAX,1 ; MOV RDI,1 ; MOV RSI,0x1F ; MOV RDX,1 ; SYSCALL ; HLT
	// (spec §8 scenario 2). Every MOV uses the REX.W + B8+r form, which
	// carries a full 8-byte imm64.
	code := []byte{
		0x48, 0xB8, 1, 0, 0, 0, 0, 0, 0, 0, // MOV RAX, 1 (imm64 form)
		0x48, 0xBF, 1, 0, 0, 0, 0, 0, 0, 0, // MOV RDI, 1
		0x48, 0xBE, 0x1F, 0, 0, 0, 0, 0, 0, 0, // MOV RSI, 0x1F
		0x48, 0xBA, 1, 0, 0, 0, 0, 0, 0, 0, // MOV RDX, 1
		0x0F, 0x05, // SYSCALL
		0xF4, // HLT
	}
	d := NewDecoder(flatMem{code}, true)

	addr := uint64(0)
	wantImms := []int64{1, 1, 0x1F, 1}
	for i, want := range wantImms {
		op, err := d.Decode(addr)
		if err != nil {
			t.Fatalf("decode MOV #%d: %v", i, err)
		}
		if op.OpcodeID != OpMovRegImm || op.Imm != want {
			t.Fatalf("MOV #%d: got opcode=%v imm=%d, want imm=%d", i, op.OpcodeID, op.Imm, want)
		}
		if op.OperandSize != 64 {
			t.Fatalf("MOV #%d: operand size = %d, want 64 (REX.W)", i, op.OperandSize)
		}
		addr = op.NextIP
	}

	op, err := d.Decode(addr)
	if err != nil {
		t.Fatalf("decode SYSCALL: %v", err)
	}
	if op.OpcodeID != OpSyscall {
		t.Fatalf("expected SYSCALL, got %v", op.OpcodeID)
	}
	addr = op.NextIP

	op, err = d.Decode(addr)
	if err != nil {
		t.Fatalf("decode HLT: %v", err)
	}
	if op.OpcodeID != OpHlt {
		t.Fatalf("expected HLT, got %v", op.OpcodeID)
	}
}

func TestDecodeModRMRegReg(t *testing.T) {
	// ADD EAX, EBX -> 01 D8 (opcode 0x01 = ALU ADD, RM<-reg, reg=EBX(3), rm=EAX(0), mod=11)
	d := NewDecoder(flatMem{[]byte{0x01, 0xD8}}, true)
	op, err := d.Decode(0)
	if err != nil {
		t.Fatalf("decode ADD: %v", err)
	}
	if op.OpcodeID != OpAluRMReg || AluOp(op.Aux) != AluAdd {
		t.Fatalf("unexpected decode: %+v", op)
	}
	if op.Operands[0].Kind != OperandReg || op.Operands[0].Reg != 0 {
		t.Fatalf("dst operand wrong: %+v", op.Operands[0])
	}
	if op.Operands[1].Kind != OperandReg || op.Operands[1].Reg != 3 {
		t.Fatalf("src operand wrong: %+v", op.Operands[1])
	}
}

func TestDecodeModRMMemoryDisp8(t *testing.T) {
	// MOV [EAX+0x10], ECX -> 89 48 10 (mod=01, reg=ECX(1), rm=EAX(0), disp8=0x10)
	d := NewDecoder(flatMem{[]byte{0x89, 0x48, 0x10}}, true)
	op, err := d.Decode(0)
	if err != nil {
		t.Fatalf("decode MOV: %v", err)
	}
	if op.Operands[0].Kind != OperandMem || op.Operands[0].Base != 0 || op.Operands[0].Disp != 0x10 {
		t.Fatalf("unexpected mem operand: %+v", op.Operands[0])
	}
	if op.Operands[1].Reg != 1 {
		t.Fatalf("unexpected reg operand: %+v", op.Operands[1])
	}
}

func TestDecodeVexThreeOperand(t *testing.T) {
	// VADDPS xmm0, xmm1, xmm2 = C5 F0 58 C2: vvvv names xmm1 as the
	// first source, materialized as a third operand.
	d := NewDecoder(flatMem{[]byte{0xC5, 0xF0, 0x58, 0xC2}}, true)
	op, err := d.Decode(0)
	if err != nil {
		t.Fatalf("decode VADDPS: %v", err)
	}
	if op.OpcodeID != OpAddpsScalarOrPacked || !op.Prefixes.VEX.Present {
		t.Fatalf("unexpected decode: %+v", op)
	}
	if op.NumOperands != 3 {
		t.Fatalf("NumOperands = %d, want 3 (vvvv source)", op.NumOperands)
	}
	if op.Operands[2].Kind != OperandReg || op.Operands[2].Class != RegVec || op.Operands[2].Reg != 1 {
		t.Fatalf("vvvv operand = %+v, want xmm1", op.Operands[2])
	}
	if op.Operands[1].Reg != 0 || op.Operands[0].Reg != 2 {
		t.Fatalf("dst/rm = %d/%d, want 0/2", op.Operands[1].Reg, op.Operands[0].Reg)
	}
}

func TestDecodeVexUnusedVVVVMustBeOnes(t *testing.T) {
	// VMOVAPS does not use vvvv: a raw field other than 1111b is an
	// illegal encoding. C5 C8 28 C1 carries vvvv=1001b (register 6).
	d := NewDecoder(flatMem{[]byte{0xC5, 0xC8, 0x28, 0xC1}}, true)
	if _, err := d.Decode(0); err == nil {
		t.Fatal("VEX.vvvv != 1111b on a no-vvvv opcode decoded successfully")
	}

	// The compliant encoding (vvvv = 1111b) decodes fine.
	d = NewDecoder(flatMem{[]byte{0xC5, 0xF8, 0x28, 0xC1}}, true)
	op, err := d.Decode(0)
	if err != nil {
		t.Fatalf("decode VMOVAPS: %v", err)
	}
	if op.OpcodeID != OpMovaps || op.NumOperands != 2 {
		t.Fatalf("unexpected decode: %+v", op)
	}
}

func TestDecodeVex256Rejected(t *testing.T) {
	// VADDPS ymm0, ymm1, ymm2 (VEX.L=1) is outside the 128-bit
	// coverage and must surface as unsupported, not mis-decode.
	d := NewDecoder(flatMem{[]byte{0xC5, 0xF4, 0x58, 0xC2}}, true)
	_, err := d.Decode(0)
	if _, ok := err.(*UnsupportedOpcodeError); !ok {
		t.Fatalf("err = %v (%T), want UnsupportedOpcodeError", err, err)
	}
}

func TestIllegalLegacyPrefixBeforeVex(t *testing.T) {
	// 66 before a VEX prefix is an illegal combination (spec §4.B).
	d := NewDecoder(flatMem{[]byte{0x66, 0xC5, 0xF8, 0x28, 0xC1}}, true)
	_, err := d.Decode(0)
	if _, ok := err.(*DecodeError); !ok {
		t.Fatalf("err = %v (%T), want DecodeError", err, err)
	}
}

func TestUnsupportedOpcode(t *testing.T) {
	d := NewDecoder(flatMem{[]byte{0xF1}}, true) // ICEBP, not in our tables
	_, err := d.Decode(0)
	if _, ok := err.(*UnsupportedOpcodeError); !ok {
		t.Fatalf("expected UnsupportedOpcodeError, got %v (%T)", err, err)
	}
}
