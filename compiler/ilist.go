package compiler

import (
	"fmt"
	"strings"

	"github.com/nijnstein/blast/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Instruction list: code bytes with symbolic labels, before resolution
// ---------------------------------------------------------------------------

// LabelKind identifies the role of a label on a slot.
type LabelKind uint8

const (
	// LabelDefinition marks the slot a jump or reference targets.
	LabelDefinition LabelKind = iota

	// LabelJumpOffset marks the first offset byte of a jump.
	LabelJumpOffset

	// LabelConstantRef marks the first offset byte of a constant back reference.
	LabelConstantRef

	// LabelCDataRef marks the first offset byte of a cdata reference.
	LabelCDataRef

	// LabelSkip marks a filler byte removed when its offset fits one byte.
	LabelSkip

	// LabelInlineConstant marks an inline constant opcode as a pooling
	// candidate. The id is the constant's bit pattern; pooling consumes it.
	LabelInlineConstant
)

var labelKindNames = [...]string{"def", "jump", "cref", "dref", "skip", "const"}

func (k LabelKind) String() string {
	if int(k) < len(labelKindNames) {
		return labelKindNames[k]
	}
	return fmt.Sprintf("LabelKind(%d)", k)
}

// IsSite reports whether the label marks offset bytes to resolve.
func (k LabelKind) IsSite() bool {
	return k == LabelJumpOffset || k == LabelConstantRef || k == LabelCDataRef
}

// Label is a symbolic marker on a slot.
type Label struct {
	Kind LabelKind
	ID   string
}

// SlotKind tells opcode slots from operand slots, so that a zero operand
// byte is never taken for a nop.
type SlotKind uint8

const (
	SlotOp SlotKind = iota
	SlotOperand
)

// Slot is one byte of the instruction list.
type Slot struct {
	Code   byte
	Kind   SlotKind
	Anchor bool // nop placed only to carry definitions
	Labels []Label
}

// Label returns the first label of a kind on the slot.
func (s *Slot) Label(kind LabelKind) (Label, bool) {
	for _, l := range s.Labels {
		if l.Kind == kind {
			return l, true
		}
	}
	return Label{}, false
}

// Site returns the site label on the slot, if any.
func (s *Slot) Site() (Label, bool) {
	for _, l := range s.Labels {
		if l.Kind.IsSite() {
			return l, true
		}
	}
	return Label{}, false
}

// IList is an instruction list under construction.
type IList struct {
	Slots []Slot

	prefix string
	next   int
}

// NewIList returns an empty list whose generated label ids start with prefix.
func NewIList(prefix string) *IList {
	return &IList{prefix: prefix}
}

// Len returns the number of slots.
func (l *IList) Len() int {
	return len(l.Slots)
}

// NewLabel returns a fresh label id.
func (l *IList) NewLabel(hint string) string {
	l.next++
	return fmt.Sprintf("%s%s%d", l.prefix, hint, l.next)
}

// Emit appends an opcode and returns its slot index.
func (l *IList) Emit(op bytecode.Opcode) int {
	l.Slots = append(l.Slots, Slot{Code: byte(op), Kind: SlotOp})
	return len(l.Slots) - 1
}

// EmitOperand appends operand bytes.
func (l *IList) EmitOperand(bs ...byte) {
	for _, b := range bs {
		l.Slots = append(l.Slots, Slot{Code: b, Kind: SlotOperand})
	}
}

// EmitID appends a data reference for an offset.
func (l *IList) EmitID(offset int) {
	l.Slots = append(l.Slots, Slot{Code: byte(bytecode.ID(offset)), Kind: SlotOp})
}

// EmitTarget appends the target byte of a direct assignment.
func (l *IList) EmitTarget(offset int, negate bool) {
	b := byte(bytecode.IDOffset | offset)
	if negate {
		b |= bytecode.DirectNegateBit
	}
	l.Slots = append(l.Slots, Slot{Code: b, Kind: SlotOperand})
}

// EmitJump appends a jump to a label: the opcode, a site byte and a filler
// byte. The resolver writes the offset and removes the filler if the
// distance fits a byte.
func (l *IList) EmitJump(op bytecode.Opcode, label string) {
	l.Emit(op)
	l.emitSite(LabelJumpOffset, label, true)
}

// EmitConstantRef appends a back reference to an inline constant.
func (l *IList) EmitConstantRef(label string) {
	l.Emit(bytecode.OpConstantShortRef)
	l.emitSite(LabelConstantRef, label, true)
}

// EmitCDataRef appends a reference to a cdata block; it is always long.
func (l *IList) EmitCDataRef(label string) {
	l.Emit(bytecode.OpCDataRef)
	l.emitSite(LabelCDataRef, label, false)
}

func (l *IList) emitSite(kind LabelKind, label string, shrinkable bool) {
	l.Slots = append(l.Slots, Slot{Kind: SlotOperand, Labels: []Label{{Kind: kind, ID: label}}})
	filler := Slot{Kind: SlotOperand}
	if shrinkable {
		filler.Labels = []Label{{Kind: LabelSkip, ID: label}}
	}
	l.Slots = append(l.Slots, filler)
}

// Define appends an anchor nop carrying a definition. The resolver moves the
// definition to the next instruction.
func (l *IList) Define(label string) {
	l.Slots = append(l.Slots, Slot{
		Code:   byte(bytecode.OpNop),
		Kind:   SlotOp,
		Anchor: true,
		Labels: []Label{{Kind: LabelDefinition, ID: label}},
	})
}

// Mark adds a label to an existing slot.
func (l *IList) Mark(slot int, label Label) {
	l.Slots[slot].Labels = append(l.Slots[slot].Labels, label)
}

// Append moves the slots of other to the end of l.
func (l *IList) Append(other *IList) {
	l.Slots = append(l.Slots, other.Slots...)
}

// Bytes returns the code bytes.
func (l *IList) Bytes() []byte {
	b := make([]byte, len(l.Slots))
	for i, s := range l.Slots {
		b[i] = s.Code
	}
	return b
}

// Clone returns a deep copy.
func (l *IList) Clone() *IList {
	c := &IList{Slots: make([]Slot, len(l.Slots)), prefix: l.prefix, next: l.next}
	for i, s := range l.Slots {
		c.Slots[i] = s
		c.Slots[i].Labels = append([]Label(nil), s.Labels...)
	}
	return c
}

// String lists slots with their labels, for debugging.
func (l *IList) String() string {
	var sb strings.Builder
	for i, s := range l.Slots {
		if s.Kind == SlotOp {
			sb.WriteString(fmt.Sprintf("%04d  %-18s", i, bytecode.Opcode(s.Code)))
		} else {
			sb.WriteString(fmt.Sprintf("%04d    0x%02X            ", i, s.Code))
		}
		for _, lb := range s.Labels {
			sb.WriteString(fmt.Sprintf(" %s:%s", lb.Kind, lb.ID))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
