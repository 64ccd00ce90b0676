package compiler

import "github.com/nijnstein/blast/pkg/bytecode"

// poolConstants replaces repeated inline constants of a list with back
// references to their first occurrence. The first occurrence of each value
// gets a definition; the resolver picks the short or long reference form.
// Running it twice changes nothing: the candidate markers are consumed.
//
// Slot distances bound the resolved distances from above, so a value whose
// last definition is out of long reference range is inlined again and
// becomes the definition for the references that follow.
func poolConstants(in *IList) *IList {
	out := &IList{Slots: make([]Slot, 0, len(in.Slots)), prefix: in.prefix, next: in.next}
	defs := make(map[string]pooledConstant)

	for i := 0; i < len(in.Slots); i++ {
		s := in.Slots[i]
		marker, ok := s.Label(LabelInlineConstant)
		if !ok || s.Kind != SlotOp {
			out.Slots = append(out.Slots, s)
			continue
		}
		n := inlineConstantLen(bytecode.Opcode(s.Code))
		labels := withoutKind(s.Labels, LabelInlineConstant)

		if def, seen := defs[marker.ID]; seen && out.Len()+3-def.at <= bytecode.LongJumpMax {
			at := out.Len()
			out.EmitConstantRef(def.label)
			out.Slots[at].Labels = append(labels, out.Slots[at].Labels...)
			i += n - 1
			continue
		}

		def := pooledConstant{label: out.NewLabel("c"), at: out.Len()}
		defs[marker.ID] = def
		s.Labels = append(labels, Label{Kind: LabelDefinition, ID: def.label})
		out.Slots = append(out.Slots, s)
		out.Slots = append(out.Slots, in.Slots[i+1:i+n]...)
		i += n - 1
	}
	return out
}

// pooledConstant is the definition site references are pooled against.
type pooledConstant struct {
	label string
	at    int
}

func withoutKind(labels []Label, kind LabelKind) []Label {
	var out []Label
	for _, lb := range labels {
		if lb.Kind != kind {
			out = append(out, lb)
		}
	}
	return out
}
