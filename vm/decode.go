package vm

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/nijnstein/blast/pkg/bytecode"
)

func u16(code []byte, pos int) int {
	return int(code[pos])<<8 | int(code[pos+1])
}

// jumpAt decodes the jump or back reference at pos. It returns the position
// after the offset bytes, which distances are measured from, and the target.
func jumpAt(code []byte, pos int) (after, target int) {
	op := bytecode.Opcode(code[pos])
	var off int
	if op.OffsetLen() == 2 {
		off, after = u16(code, pos+1), pos+3
	} else {
		off, after = int(code[pos+1]), pos+2
	}
	if op.IsBackward() {
		return after, after - off
	}
	return after, after + off
}

// inlineConstant decodes constant_f32 or constant_f32h at pos.
func inlineConstant(code []byte, pos int) (float32, int, bool) {
	switch bytecode.Opcode(code[pos]) {
	case bytecode.OpConstantF32:
		return math.Float32frombits(binary.BigEndian.Uint32(code[pos+1:])), pos + 5, true
	case bytecode.OpConstantF32H:
		return math.Float32frombits(uint32(binary.BigEndian.Uint16(code[pos+1:])) << 16), pos + 3, true
	}
	return 0, pos, false
}

// constantAt decodes the constant at pos, following back references, and
// returns the position after it.
func (c *Context) constantAt(code []byte, pos int) (float32, int, error) {
	op := bytecode.Opcode(code[pos])
	switch op {
	case bytecode.OpConstantF32, bytecode.OpConstantF32H:
		v, next, _ := inlineConstant(code, pos)
		return v, next, nil
	case bytecode.OpConstantShortRef, bytecode.OpConstantLongRef:
		after, target := jumpAt(code, pos)
		if target < 0 {
			return 0, after, fmt.Errorf("%w: reference before the stream start", ErrInvalidOpcode)
		}
		v, _, ok := inlineConstant(code, target)
		if !ok {
			return 0, after, fmt.Errorf("%w: reference to %s at %d", ErrInvalidOpcode, bytecode.Opcode(code[target]), target)
		}
		return v, after, nil
	}
	if op.IsNamedValue() {
		return c.values[op], pos + 1, nil
	}
	return 0, pos, fmt.Errorf("%w: %s is not a constant", ErrInvalidOpcode, op)
}

// cdataAt decodes the cdata reference at pos.
func cdataAt(code []byte, pos int) (bytecode.CData, int, error) {
	after, target := jumpAt(code, pos)
	c, err := bytecode.CDataAt(code, target)
	if err != nil {
		return c, after, fmt.Errorf("%w: %v", ErrInvalidOpcode, err)
	}
	return c, after, nil
}

// directTarget splits the target byte of a direct assignment.
func directTarget(b byte) (offset int, negate bool, ok bool) {
	if b < bytecode.IDOffset {
		return 0, false, false
	}
	return int(b & (bytecode.DirectNegateBit - 1)), b&bytecode.DirectNegateBit != 0, true
}

// indexOf converts an index operand to a component or element index, or -1.
func indexOf(f float32) int {
	if !(f >= 0 && f < math.MaxInt32) {
		return -1
	}
	return int(f)
}
