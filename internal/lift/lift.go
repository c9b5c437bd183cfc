// Package lift implements the OpDispatcher: it turns a stream of
// decode.DecodedOp into an ir.Block (SPEC_FULL.md's "IR Lifter"
// component). One Lifter instance lifts one Block; it is not reused
// across blocks because it carries per-block lifting state (the
// pending deferred-flags node, the running instruction count).
//
// Grounded on cpu_x86_ops.go/cpu_x86_grp.go's per-opcode handler
// functions (func(*CPU_X86) bodies that read operands, mutate the CPU,
// and update flags in one pass) — kept as the template for "one
// function per opcode" but retargeted to emit ir.Node values into a
// Block instead of mutating a live register file.
package lift

import (
	"fmt"

	"github.com/otterjit/otterjit/internal/decode"
	"github.com/otterjit/otterjit/internal/ir"
)

// MaxBlockInstructions bounds how many instructions a single Block may
// contain: a run of that many instructions with no block-ending one
// among them fails with BlockTooLongError rather than producing a
// Block. Unbounded blocks would make the BlockCache's eviction cost
// unpredictable.
const MaxBlockInstructions = 256

// BlockTooLongError is returned when MaxBlockInstructions is exceeded
// without reaching a natural block-ending instruction.
type BlockTooLongError struct {
	StartRIP uint64
	Count    int
}

func (e *BlockTooLongError) Error() string {
	return fmt.Sprintf("block at 0x%x exceeded %d instructions", e.StartRIP, e.Count)
}

// Lifter lifts one Block at a time from a decode.Decoder positioned
// over guest memory.
type Lifter struct {
	dec     *decode.Decoder
	is64Bit bool

	b *ir.Block

	// lastFlags is the most recent OpDeferredFlags node emitted; a
	// subsequent OpMaterializeFlag references it lazily (spec §4.C
	// "Flag lowering"). Reset to ir.InvalidRef at the start of each
	// block since a record is a node of its own block; a flag read in a
	// later block finds no record here and uses the flag state the
	// earlier block left in GuestCpuState.
	lastFlags ir.Ref
}

// NewLifter creates a Lifter reading guest code through mem.
func NewLifter(mem decode.MemReader, is64Bit bool) *Lifter {
	return &Lifter{dec: decode.NewDecoder(mem, is64Bit), is64Bit: is64Bit}
}

// LiftBlock decodes and lifts instructions starting at startRIP until
// a block-ending instruction, a decode error, or MaxBlockInstructions
// is reached, returning the resulting IR Block.
func (l *Lifter) LiftBlock(startRIP uint64, cfg ir.Fingerprint) (*ir.Block, error) {
	l.b = ir.NewBlock(startRIP, cfg)
	l.lastFlags = ir.InvalidRef
	l.b.Config |= ir.FingerprintTSO // TSO-only model

	addr := startRIP
	for n := 0; ; n++ {
		if n >= MaxBlockInstructions {
			return nil, &BlockTooLongError{StartRIP: startRIP, Count: n}
		}

		op, err := l.dec.Decode(addr)
		if err != nil {
			return nil, err
		}

		terminal, err := l.liftOne(op)
		if err != nil {
			return nil, fmt.Errorf("lift 0x%x: %w", op.StartIP, err)
		}

		if terminal {
			l.b.EndRIP = op.NextIP
			return l.b, nil
		}
		addr = op.NextIP
	}
}

// liftOne lifts a single decoded instruction, returning true if it
// terminates the block (sets l.b.Exit).
func (l *Lifter) liftOne(op *decode.DecodedOp) (bool, error) {
	h, ok := handlers[op.OpcodeID]
	if !ok {
		return false, &UnhandledOpcodeError{Opcode: op.OpcodeID, Addr: op.StartIP}
	}
	return h(l, op)
}

// UnhandledOpcodeError is raised when the decoder produced an
// OpcodeID this lifter's table has no handler for. Distinct from
// decode.UnsupportedOpcodeError (decode never recognized the byte at
// all) — this one decoded fine but lift's opcode coverage stops short
// of it (SPEC_FULL.md's opcode-coverage note).
type UnhandledOpcodeError struct {
	Opcode decode.OpcodeID
	Addr   uint64
}

func (e *UnhandledOpcodeError) Error() string {
	return fmt.Sprintf("lift: no handler for opcode %d at 0x%x", e.Opcode, e.Addr)
}

// handler lifts one decoded instruction into l.b, returning true if
// it ends the block.
type handler func(l *Lifter, op *decode.DecodedOp) (bool, error)

func (l *Lifter) emit(n ir.Node) ir.Ref { return l.b.Emit(n) }

func (l *Lifter) constU64(v uint64, size uint8) ir.Ref {
	return l.b.EmitConst(v, size, ir.ClassGPR)
}

func (l *Lifter) regWidthBytes(op *decode.DecodedOp) uint8 {
	return uint8(op.OperandSize / 8)
}
