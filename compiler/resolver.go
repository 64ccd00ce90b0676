package compiler

import (
	"fmt"
	"sort"

	"github.com/nijnstein/blast/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Jump/label resolver
//
// Pass 1 moves definitions off anchor nops onto the next instruction.
// Pass 2 lays every site out long (opcode, offset byte, filler byte),
// computes distances and then relaxes: each round marks the sites whose
// distance fits one byte, removes their fillers, adjusts the distance of
// every site whose span covers a removed byte and compacts the list. Rounds
// repeat until nothing shrinks. Survivors are promoted to their long opcode.
// ---------------------------------------------------------------------------

type site struct {
	slot   int // first offset byte
	def    int // slot holding the definition
	kind   LabelKind
	id     string
	d      int // signed distance from the byte after the offset bytes
	width  int // offset bytes present in the layout
	short  bool
	remove bool // filler removed in the current round
}

func (s *site) after() int {
	return s.slot + s.width
}

// shortDistance is the magnitude the site would store in short form.
// Backward sites get one byte closer to their target when the filler goes.
func (s *site) shortDistance() int {
	if s.d < 0 {
		return -s.d - 1
	}
	return s.d
}

// normalizeLabels is pass 1.
func normalizeLabels(slots []Slot) []Slot {
	out := make([]Slot, 0, len(slots))
	var carry []Label
	for _, s := range slots {
		if s.Anchor && s.Kind == SlotOp && s.Code == byte(bytecode.OpNop) {
			carry = append(carry, s.Labels...)
			continue
		}
		if len(carry) > 0 {
			s.Labels = append(carry, s.Labels...)
			carry = nil
		}
		out = append(out, s)
	}
	if len(carry) > 0 {
		// Nothing follows; the nop stays so the definitions have a home.
		out = append(out, Slot{Code: byte(bytecode.OpNop), Kind: SlotOp, Anchor: true, Labels: carry})
	}
	return out
}

// collectSites indexes definitions and sites and validates distances. When
// deferCData is set, cdata references without a definition in this list are
// left for a later pass.
func collectSites(slots []Slot, diag *Diagnostics, deferCData bool) (map[string]int, []site) {
	defs := make(map[string]int)
	for i := range slots {
		for _, lb := range slots[i].Labels {
			if lb.Kind != LabelDefinition {
				continue
			}
			if _, dup := defs[lb.ID]; dup {
				diag.Errorf(DuplicateLabel, nil, "label %s defined twice", lb.ID)
				continue
			}
			defs[lb.ID] = i
		}
	}

	var sites []site
	for i := range slots {
		lb, ok := slots[i].Site()
		if !ok {
			continue
		}
		def, found := defs[lb.ID]
		if !found {
			switch {
			case lb.Kind == LabelCDataRef && deferCData:
				continue
			case lb.Kind == LabelCDataRef:
				diag.Errorf(CDataLabelMissing, nil, "cdata reference %s has no cdata block", lb.ID)
			default:
				diag.Errorf(UnresolvedLabel, nil, "label %s is never defined", lb.ID)
			}
			continue
		}
		if i == 0 || slots[i-1].Kind != SlotOp {
			diag.Errorf(UnresolvedLabel, nil, "site %s does not follow an opcode", lb.ID)
			continue
		}
		s := site{slot: i, def: def, kind: lb.Kind, id: lb.ID, width: 2}
		s.d = def - s.after()
		op := bytecode.Opcode(slots[i-1].Code)

		if s.d >= -1 && s.d <= 1 {
			diag.Errorf(InvalidJumpSize, nil, "%s to %s spans %d bytes", op, lb.ID, s.d)
			continue
		}
		if op.IsBackward() != (s.d < 0) {
			diag.Errorf(InvalidJumpDirection, nil, "%s to %s has distance %d", op, lb.ID, s.d)
			continue
		}
		sites = append(sites, s)
	}
	return defs, sites
}

// resolve resolves the sites of a list and returns the compacted list. Labels
// that were resolved are dropped; deferred cdata sites and definitions no site
// here referenced are kept.
func resolve(in *IList, diag *Diagnostics, deferCData bool) *IList {
	slots := normalizeLabels(in.Clone().Slots)

	errorsBefore := len(diag.Errors())
	defs, sites := collectSites(slots, diag, deferCData)
	if len(diag.Errors()) > errorsBefore {
		return nil
	}

	for {
		var removed []int
		for i := range sites {
			s := &sites[i]
			if s.short || s.kind == LabelCDataRef {
				continue
			}
			if s.shortDistance() <= bytecode.ShortJumpMax {
				s.short = true
				s.remove = true
				removed = append(removed, s.slot+1)
			}
		}
		if len(removed) == 0 {
			break
		}
		sort.Ints(removed)

		// Adjust every span covering a removed byte.
		for i := range sites {
			s := &sites[i]
			lo, hi := s.after(), s.def
			if lo > hi {
				lo, hi = hi, lo
			}
			n := countIn(removed, lo, hi)
			if s.d > 0 {
				s.d -= n
			} else {
				s.d += n
			}
		}

		// Compact.
		shift := func(idx int) int { return idx - countIn(removed, 0, idx) }
		for i := range sites {
			s := &sites[i]
			s.slot = shift(s.slot)
			s.def = shift(s.def)
			if s.remove {
				s.width = 1
				s.remove = false
			}
		}
		for id, idx := range defs {
			defs[id] = shift(idx)
		}
		slots = compact(slots, removed)
	}

	referenced := make(map[string]bool, len(sites))
	for _, s := range sites {
		referenced[s.id] = true
		op := bytecode.Opcode(slots[s.slot-1].Code)
		mag := s.d
		if mag < 0 {
			mag = -mag
		}
		switch {
		case s.short:
			slots[s.slot-1].Code = byte(op.Short())
			slots[s.slot].Code = byte(mag)
		case mag > bytecode.LongJumpMax:
			diag.Errorf(JumpTooFar, nil, "%s to %s spans %d bytes", op, s.id, mag)
			continue
		default:
			slots[s.slot-1].Code = byte(op.Long())
			slots[s.slot].Code = byte(mag >> 8)
			slots[s.slot+1].Code = byte(mag)
			slots[s.slot+1].Labels = nil
		}
		slots[s.slot].Labels = nil
	}

	for i := range slots {
		slots[i].Labels = keepLabels(slots[i].Labels, referenced)
		if slots[i].Anchor && len(slots[i].Labels) == 0 {
			slots[i].Anchor = false
		}
	}
	return &IList{Slots: slots, prefix: in.prefix, next: in.next}
}

// keepLabels drops definitions resolved in this pass.
func keepLabels(labels []Label, referenced map[string]bool) []Label {
	var out []Label
	for _, lb := range labels {
		if lb.Kind == LabelDefinition && referenced[lb.ID] {
			continue
		}
		out = append(out, lb)
	}
	return out
}

// countIn counts sorted positions p with lo <= p < hi.
func countIn(sorted []int, lo, hi int) int {
	if hi <= lo {
		return 0
	}
	return sort.SearchInts(sorted, hi) - sort.SearchInts(sorted, lo)
}

func compact(slots []Slot, removed []int) []Slot {
	out := slots[:0]
	j := 0
	for i, s := range slots {
		if j < len(removed) && removed[j] == i {
			j++
			continue
		}
		out = append(out, s)
	}
	return out
}

// resolveReference lays out a list from scratch each round instead of
// adjusting distances in place. It exists to verify resolve.
func resolveReference(in *IList, deferCData bool) ([]byte, error) {
	slots := normalizeLabels(in.Clone().Slots)
	diag := NewDiagnostics()
	_, sites := collectSites(slots, diag, deferCData)
	if err := diag.Err(); err != nil {
		return nil, err
	}

	filler := make(map[int]*site, len(sites))
	for i := range sites {
		filler[sites[i].slot+1] = &sites[i]
	}

	pos := make([]int, len(slots)+1)
	layout := func() {
		p := 0
		for i := range slots {
			pos[i] = p
			if s, ok := filler[i]; ok && s.short {
				continue
			}
			p++
		}
		pos[len(slots)] = p
	}
	distance := func(s *site) int {
		width := 2
		if s.short {
			width = 1
		}
		return pos[s.def] - (pos[s.slot] + width)
	}

	for {
		layout()
		changed := false
		for i := range sites {
			s := &sites[i]
			if s.short || s.kind == LabelCDataRef {
				continue
			}
			s.d = distance(s)
			if s.shortDistance() <= bytecode.ShortJumpMax {
				s.short = true
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	code := make([]byte, 0, pos[len(slots)])
	for i := range slots {
		if s, ok := filler[i]; ok && s.short {
			continue
		}
		code = append(code, slots[i].Code)
	}
	for i := range sites {
		s := &sites[i]
		d := distance(s)
		if d < 0 {
			d = -d
		}
		at := pos[s.slot]
		op := bytecode.Opcode(code[at-1])
		if s.short {
			code[at-1] = byte(op.Short())
			code[at] = byte(d)
			continue
		}
		if d > bytecode.LongJumpMax {
			return nil, fmt.Errorf("%s to %s spans %d bytes", op, s.id, d)
		}
		code[at-1] = byte(op.Long())
		code[at] = byte(d >> 8)
		code[at+1] = byte(d)
	}
	return code, nil
}
