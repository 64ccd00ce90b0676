package bytecode

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Disassemble returns an approximate listing of a code stream. names may be
// nil; when set it supplies variable names for data offsets.
//
// The stream carries no instruction boundaries, so bytes are decoded greedily:
// every opcode is printed with its fixed operand bytes and data references are
// printed one per line.
func Disassemble(code []byte, names func(offset int) string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("; blast bytecode, %d bytes\n", len(code)))

	offset := 0
	for offset < len(code) {
		line, n := disassembleInstruction(code, offset, names)
		sb.WriteString(fmt.Sprintf("%04X  %s\n", offset, line))
		offset += n
	}
	return sb.String()
}

// disassembleInstruction decodes the instruction at offset.
// Returns the formatted string and the instruction length.
func disassembleInstruction(code []byte, offset int, names func(int) string) (string, int) {
	op := Opcode(code[offset])
	remaining := len(code) - offset - 1

	if op.IsID() {
		id := op.DataOffset()
		if names != nil {
			if name := names(id); name != "" {
				return fmt.Sprintf("id:%d ; %s", id, name), 1
			}
		}
		return fmt.Sprintf("id:%d", id), 1
	}

	switch {
	case op.IsJump():
		n := op.OffsetLen()
		if remaining < n {
			return fmt.Sprintf("%s <truncated>", op), 1 + remaining
		}
		d := readOffset(code[offset+1:], n)
		after := offset + 1 + n
		target := after + d
		if op.IsBackward() {
			target = after - d
		}
		return fmt.Sprintf("%s %d -> %04X", op, d, target), 1 + n

	case op == OpConstantF32:
		if remaining < 4 {
			return "constant_f32 <truncated>", 1 + remaining
		}
		f := math.Float32frombits(binary.BigEndian.Uint32(code[offset+1:]))
		return fmt.Sprintf("constant_f32 %g", f), 5

	case op == OpConstantF32H:
		if remaining < 2 {
			return "constant_f32h <truncated>", 1 + remaining
		}
		f := math.Float32frombits(uint32(binary.BigEndian.Uint16(code[offset+1:])) << 16)
		return fmt.Sprintf("constant_f32h %g", f), 3

	case op == OpConstantShortRef, op == OpConstantLongRef, op == OpCDataRef:
		n := op.OffsetLen()
		if remaining < n {
			return fmt.Sprintf("%s <truncated>", op), 1 + remaining
		}
		d := readOffset(code[offset+1:], n)
		return fmt.Sprintf("%s %d -> %04X", op, d, offset+1+n-d), 1 + n

	case op == OpCData:
		c, err := CDataAt(code, offset)
		if err != nil {
			return "cdata <truncated>", 1 + remaining
		}
		return fmt.Sprintf("cdata %s [%d bytes]", c.Encoding, len(c.Payload)), c.Size()

	case op == OpEx:
		if remaining < 1 {
			return "ex_op <truncated>", 1
		}
		e := ExtendedOpcode(code[offset+1])
		if e == ExCall {
			if remaining < 3 {
				return "ex_op call <truncated>", 1 + remaining
			}
			return fmt.Sprintf("ex_op call %d", binary.BigEndian.Uint16(code[offset+2:])), 4
		}
		return fmt.Sprintf("ex_op %s", e), 2

	case op == OpAssignFE || op == OpAssignFEN:
		if remaining < 3 {
			return fmt.Sprintf("%s <truncated>", op), 1 + remaining
		}
		target := Opcode(code[offset+1])
		id := binary.BigEndian.Uint16(code[offset+2:])
		return fmt.Sprintf("%s %s call %d", op, target, id), 4

	case op == OpPushV, op == OpMin, op == OpMax, op == OpRandom:
		if remaining < 1 {
			return fmt.Sprintf("%s <truncated>", op), 1
		}
		return fmt.Sprintf("%s [%d]", op, code[offset+1]), 2
	}

	return op.String(), 1
}

func readOffset(b []byte, n int) int {
	if n == 2 {
		return int(binary.BigEndian.Uint16(b))
	}
	return int(b[0])
}
