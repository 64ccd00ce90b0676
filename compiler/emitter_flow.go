package compiler

import (
	"github.com/nijnstein/blast/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Bytecode emitter: control flow
//
//	if:     jz L_else cond; then; jump L_end; L_else: else; L_end:
//	while:  L_s: jz L_e cond; body; jump_back L_s; L_e:
//	for:    init; L_s: jz L_e cond; body; step; jump_back L_s; L_e:
//	switch: jnz L_c1 cond1 ... jnz L_cn condn; default; jump L_end;
//	        L_c1: body1; jump L_end ... L_cn: bodyn; L_end:
//
// A jump must span more than one byte, so the body between an unconditional
// jump and its label is padded with nops to two bytes.
// ---------------------------------------------------------------------------

// conditionSequence returns the sequence of a condition node.
func conditionSequence(cond *Node) []*Node {
	if cond == nil {
		return nil
	}
	if cond.Kind != NodeCondition {
		return []*Node{cond}
	}
	seq := cond.Children
	if len(seq) == 1 && seq[0].Kind == NodeCompound && !seq[0].Negate && !seq[0].Not {
		seq = seq[0].Children
	}
	return seq
}

// constantTruth reports the value of a condition that is a lone constant.
func constantTruth(cond *Node) (truth bool, ok bool) {
	seq := conditionSequence(cond)
	if len(seq) != 1 || !seq[0].IsConstant() || seq[0].Variable.DataType == bytecode.CDataType {
		return false, false
	}
	c := seq[0]
	return foldConstant(c.Variable.Constant, c.Negate, c.Not) != 0, true
}

// emitConditionalJump emits jz or jnz to label on a condition. A jz on a
// single flat operand uses cjz.
func (e *emitter) emitConditionalJump(op bytecode.Opcode, label string, cond *Node) {
	seq := conditionSequence(cond)
	if !e.checkSequence(cond, seq) {
		return
	}
	if op == bytecode.OpJz && len(seq) == 1 && isFlatOperand(seq[0]) {
		e.list.EmitJump(bytecode.OpCJz, label)
		e.compileOperand(seq[0])
		return
	}
	e.list.EmitJump(op, label)
	e.list.Emit(bytecode.OpBegin)
	e.compileSequence(seq)
	e.list.Emit(bytecode.OpEnd)
}

// compileBody compiles statements and pads the result to two bytes.
func (e *emitter) compileBody(n *Node, pad bool) {
	start := e.list.Len()
	if n != nil {
		e.compileStatements(n.Children)
	}
	for pad && e.list.Len()-start < 2 {
		e.list.Emit(bytecode.OpNop)
	}
}

func isEmpty(n *Node) bool {
	return n == nil || len(n.Children) == 0
}

func (e *emitter) compileIf(n *Node) {
	cond := n.First(NodeCondition)
	then := n.First(NodeThen)
	els := n.First(NodeElse)

	if cond == nil {
		e.diag.Errorf(UnsupportedNode, n, "if without a condition")
		return
	}
	if isEmpty(then) && isEmpty(els) {
		e.diag.Warnf(n, "if statement without then or else is dropped")
		return
	}
	if truth, ok := constantTruth(cond); ok {
		e.diag.Warnf(n, "condition is constant %v", truth)
		if truth {
			e.compileBody(then, false)
		} else {
			e.compileBody(els, false)
		}
		return
	}

	if isEmpty(then) {
		end := e.list.NewLabel("endif")
		e.emitConditionalJump(bytecode.OpJnz, end, cond)
		e.compileBody(els, false)
		e.list.Define(end)
		return
	}

	elseLabel := e.list.NewLabel("else")
	e.emitConditionalJump(bytecode.OpJz, elseLabel, cond)
	if isEmpty(els) {
		e.compileBody(then, false)
		e.list.Define(elseLabel)
		return
	}
	end := e.list.NewLabel("endif")
	e.compileBody(then, false)
	e.list.EmitJump(bytecode.OpJump, end)
	e.list.Define(elseLabel)
	e.compileBody(els, true)
	e.list.Define(end)
}

func (e *emitter) compileWhile(n *Node) {
	cond := n.First(NodeCondition)
	body := n.First(NodeBlock)
	if cond == nil {
		e.diag.Errorf(UnsupportedNode, n, "while without a condition")
		return
	}
	e.compileLoop(n, cond, body, nil)
}

func (e *emitter) compileFor(n *Node) {
	if len(n.Children) != 4 {
		e.diag.Errorf(UnsupportedNode, n, "for loop has %d parts, want 4", len(n.Children))
		return
	}
	init, cond, step, body := n.Children[0], n.Children[1], n.Children[2], n.Children[3]
	e.compileBody(init, false)
	e.compileLoop(n, cond, body, step)
}

// compileLoop emits the loop shared by while and for; step may be nil.
func (e *emitter) compileLoop(n, cond, body, step *Node) {
	truth, constant := constantTruth(cond)
	if constant && !truth {
		e.diag.Warnf(n, "loop condition is always false, loop dropped")
		return
	}
	start := e.list.NewLabel("loop")
	end := e.list.NewLabel("endloop")
	e.list.Define(start)
	if !constant {
		e.emitConditionalJump(bytecode.OpJz, end, cond)
	}
	e.compileBody(body, false)
	e.compileBody(step, false)
	e.list.EmitJump(bytecode.OpJumpBack, start)
	e.list.Define(end)
}

func (e *emitter) compileSwitch(n *Node) {
	var cases []*Node
	var def *Node
	for _, c := range n.Children {
		switch c.Kind {
		case NodeCase:
			cases = append(cases, c)
		case NodeDefault:
			if def != nil {
				e.diag.Errorf(UnsupportedNode, c, "switch has more than one default")
				return
			}
			def = c
		default:
			e.diag.Errorf(UnsupportedNode, c, "%s inside switch", c.Kind)
			return
		}
	}

	end := e.list.NewLabel("endswitch")
	labels := make([]string, len(cases))
	for i, c := range cases {
		if len(c.Children) == 0 {
			e.diag.Errorf(UnsupportedNode, c, "case without a condition")
			return
		}
		labels[i] = e.list.NewLabel("case")
		e.emitConditionalJump(bytecode.OpJnz, labels[i], c.Children[0])
	}
	if def != nil {
		e.compileBody(def.First(NodeBlock), false)
	}
	if len(cases) > 0 {
		e.list.EmitJump(bytecode.OpJump, end)
	}
	for i, c := range cases {
		e.list.Define(labels[i])
		last := i == len(cases)-1
		e.compileBody(c.First(NodeBlock), last)
		if !last {
			e.list.EmitJump(bytecode.OpJump, end)
		}
	}
	e.list.Define(end)
}
