package compiler

import (
	"fmt"
	"math"

	"github.com/nijnstein/blast/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Constant and cdata encoding
// ---------------------------------------------------------------------------

// foldConstant applies operand prefixes to a constant value.
func foldConstant(value float32, negate, not bool) float32 {
	if negate {
		value = -value
	}
	if not {
		if value == 0 {
			value = 1
		} else {
			value = 0
		}
	}
	return value
}

// constantKey is the pooling key of an inline constant.
func constantKey(value float32) string {
	return fmt.Sprintf("%08x", math.Float32bits(value))
}

// emitInlineConstant appends a value as constant_f32h when its low 16 bits
// are zero and as constant_f32 otherwise. The opcode slot is marked as a
// pooling candidate.
func emitInlineConstant(l *IList, value float32) {
	bits := math.Float32bits(value)
	var at int
	if bits&0xFFFF == 0 {
		at = l.Emit(bytecode.OpConstantF32H)
		l.EmitOperand(byte(bits>>24), byte(bits>>16))
	} else {
		at = l.Emit(bytecode.OpConstantF32)
		l.EmitOperand(byte(bits>>24), byte(bits>>16), byte(bits>>8), byte(bits))
	}
	l.Mark(at, Label{Kind: LabelInlineConstant, ID: constantKey(value)})
}

// inlineConstantLen returns the stream size of an inline constant opcode.
func inlineConstantLen(op bytecode.Opcode) int {
	switch op {
	case bytecode.OpConstantF32:
		return 5
	case bytecode.OpConstantF32H:
		return 3
	}
	return 1
}

// emitConstant appends the cheapest encoding of a value: a named value, an
// inline constant, or the data slot of the constant variable v. It reports
// false when the value has no encoding under the options.
func (e *emitter) emitConstant(v *Variable, value float32) bool {
	if op, ok := bytecode.ValueOpcode(value); ok {
		e.list.Emit(op)
		return true
	}
	if e.opts.InlineConstantData {
		emitInlineConstant(e.list, value)
		return true
	}
	if v != nil && v.Offset >= 0 && math.Float32bits(v.Constant) == math.Float32bits(value) {
		e.list.EmitID(v.Offset)
		return true
	}
	return false
}

// cdataLabel is the definition label of a cdata block.
func cdataLabel(v *Variable) string {
	return fmt.Sprintf("cdata:%d", v.ID)
}

// cdataHeader builds the cdata section placed at the start of the stream: a
// jump over every referenced block, the blocks, and the landing anchor.
// Unreferenced blocks are dropped.
func cdataHeader(tree *Tree, diag *Diagnostics) *IList {
	var blocks []*Variable
	for _, v := range tree.Variables {
		if v.DataType != bytecode.CDataType {
			continue
		}
		if v.CData == nil {
			diag.Errorf(InvalidConstant, nil, "cdata %s has no data", v.Name)
			continue
		}
		if v.RefCount == 0 {
			diag.Warnf(nil, "cdata %s is never referenced and is dropped", v.Name)
			log.Warningf("dropping unreferenced cdata %s", v.Name)
			continue
		}
		blocks = append(blocks, v)
	}

	l := NewIList("hdr:")
	if len(blocks) == 0 {
		return l
	}
	end := l.NewLabel("end")
	l.EmitJump(bytecode.OpJump, end)
	for _, v := range blocks {
		l.Define(cdataLabel(v))
		b := v.CData.Bytes()
		l.Emit(bytecode.OpCData)
		l.EmitOperand(b[1:]...)
	}
	l.Define(end)
	return l
}
