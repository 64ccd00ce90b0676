package compiler

import (
	"github.com/nijnstein/blast/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Bytecode emitter: statements and assignments
// ---------------------------------------------------------------------------

// emitter lowers statements into one instruction list. The tree and options
// are only read, so emitters for different statements may run concurrently.
type emitter struct {
	opts Options
	tree *Tree
	diag *Diagnostics
	list *IList
}

func newEmitter(tree *Tree, opts Options, diag *Diagnostics, prefix string) *emitter {
	return &emitter{opts: opts, tree: tree, diag: diag, list: NewIList(prefix)}
}

// compileStatements compiles statements in order.
func (e *emitter) compileStatements(stmts []*Node) {
	for _, s := range stmts {
		e.compileStatement(s)
	}
}

// compileStatement dispatches on the statement kind.
func (e *emitter) compileStatement(n *Node) {
	switch n.Kind {
	case NodeAssignment:
		e.compileAssignment(n)
	case NodeIfThenElse:
		e.compileIf(n)
	case NodeWhile:
		e.compileWhile(n)
	case NodeFor:
		e.compileFor(n)
	case NodeSwitch:
		e.compileSwitch(n)
	case NodeBlock, NodeThen, NodeElse, NodeSegment:
		e.compileStatements(n.Children)
	case NodeYield:
		e.list.Emit(bytecode.OpYield)
	case NodeReturn:
		e.list.Emit(bytecode.OpRet)
	case NodePush:
		e.compilePush(n)
	case NodePop:
		e.compilePopStatement(n)
	case NodeFunction:
		// Called for its effect; the interpreter discards the result.
		e.compileCall(n, false)
	default:
		e.diag.Errorf(UnsupportedNode, n, "%s is not a statement", n.Kind)
	}
}

// checkTarget validates an assignment target.
func (e *emitter) checkTarget(n *Node, v *Variable) bool {
	switch {
	case v == nil:
		e.diag.Errorf(InvalidTarget, n, "assignment has no target")
	case v.DataType == bytecode.CDataType:
		e.diag.Errorf(InvalidTarget, n, "cannot assign to cdata %s", v.Name)
	case v.IsConstant:
		e.diag.Errorf(InvalidTarget, n, "cannot assign to constant %s", v)
	case v.Offset < 0:
		e.diag.Errorf(InvalidTarget, n, "variable %s has no data slot", v.Name)
	default:
		return true
	}
	return false
}

// expression returns the sequence of an assignment-like node, unwrapping a
// lone compound child.
func (e *emitter) expression(n *Node) []*Node {
	seq := n.Children
	if len(seq) == 1 && seq[0].Kind == NodeCompound && !seq[0].Negate && !seq[0].Not {
		seq = seq[0].Children
	}
	return seq
}

// checkSequence validates the operand (operation operand)* shape.
func (e *emitter) checkSequence(n *Node, seq []*Node) bool {
	if len(seq) == 0 {
		e.diag.Errorf(UnsupportedNode, n, "empty expression")
		return false
	}
	if len(seq)%2 == 0 {
		e.diag.Errorf(UnsupportedNode, n, "expression ends with an operation")
		return false
	}
	for i, c := range seq {
		if i%2 == 1 {
			if c.Kind != NodeOperation {
				e.diag.Errorf(UnsupportedNode, c, "expected an operation, found %s", c.Kind)
				return false
			}
			continue
		}
		if !c.IsOperand() {
			e.diag.Errorf(UnsupportedNode, c, "expected an operand, found %s", c.Kind)
			return false
		}
	}
	return true
}

// isVectorLiteral reports whether seq lists the components of a vector.
func isVectorLiteral(seq []*Node) bool {
	if len(seq) < 2 {
		return false
	}
	for _, c := range seq {
		if c.Kind == NodeOperation || c.Kind == NodeCompound || c.Kind == NodeFunction {
			return false
		}
	}
	return true
}

// compileAssignment picks the cheapest encoding for an assignment.
func (e *emitter) compileAssignment(n *Node) {
	v := n.Variable
	if !e.checkTarget(n, v) {
		return
	}
	seq := e.expression(n)

	if isVectorLiteral(seq) {
		e.compileVectorAssignment(n, v, seq)
		e.repairType(n, v, bytecode.Numeric)
		return
	}
	if !e.checkSequence(n, seq) {
		return
	}
	if n.IsIndexed() {
		e.compileIndexedAssignment(n, v, seq)
		return
	}

	if len(seq) == 1 {
		src := seq[0]
		switch {
		case e.tryDirectConstant(v, src):
		case e.tryDirectID(v, src):
		case src.Kind == NodeParameter || src.Kind == NodePop || src.Kind == NodePeek:
			e.list.Emit(bytecode.OpAssignS)
			e.list.EmitID(v.Offset)
			e.compileOperand(src)
		case src.Kind == NodeFunction && !src.Not:
			e.compileFunctionAssignment(v, src)
		default:
			e.compileGeneralAssignment(v, seq)
		}
	} else {
		e.compileGeneralAssignment(v, seq)
	}
	e.repairType(n, v, e.typeOf(seq))
}

// tryDirectConstant emits [constant][target] for a lone constant.
func (e *emitter) tryDirectConstant(v *Variable, src *Node) bool {
	if !src.IsConstant() || src.Variable.DataType == bytecode.CDataType || v.Offset >= bytecode.DirectTargetLimit {
		return false
	}
	value := foldConstant(src.Variable.Constant, src.Negate, src.Not)
	if _, named := bytecode.ValueOpcode(value); !named && !e.opts.InlineConstantData {
		// Constants live in data slots; this is a direct id assignment.
		return false
	}
	e.emitConstant(src.Variable, value)
	e.list.EmitTarget(v.Offset, false)
	return true
}

// tryDirectID emits [source id][target|neg] for a lone variable.
func (e *emitter) tryDirectID(v *Variable, src *Node) bool {
	if src.Kind != NodeParameter || src.Not || src.IsIndexed() || src.Variable == nil {
		return false
	}
	s := src.Variable
	if s.Offset < 0 || s.DataType == bytecode.CDataType || v.Offset >= bytecode.DirectTargetLimit {
		return false
	}
	if s.DataType != v.DataType || (s.VectorSize != v.VectorSize && s.VectorSize != 1) {
		return false
	}
	e.list.EmitID(s.Offset)
	e.list.EmitTarget(v.Offset, src.Negate)
	return true
}

// compileFunctionAssignment emits assignf/assignfn, or assignfe/assignfen
// for external functions.
func (e *emitter) compileFunctionAssignment(v *Variable, fn *Node) {
	f := fn.Function
	params, ok := e.checkCall(fn)
	if !ok {
		return
	}
	if f.IsExternal() {
		op := bytecode.OpAssignFE
		if fn.Negate {
			op = bytecode.OpAssignFEN
		}
		e.list.Emit(op)
		e.list.EmitID(v.Offset)
		e.list.EmitOperand(byte(f.ID>>8), byte(f.ID))
		e.emitParams(f, params)
		return
	}
	op := bytecode.OpAssignF
	if fn.Negate {
		op = bytecode.OpAssignFN
	}
	e.list.Emit(op)
	e.list.EmitID(v.Offset)
	e.emitCallBody(f, params)
}

// compileVectorAssignment emits assignv with one operand per component.
func (e *emitter) compileVectorAssignment(n *Node, v *Variable, seq []*Node) {
	if n.IsIndexed() {
		e.diag.Errorf(VectorSizeMismatch, n, "cannot assign %d components to one element of %s", len(seq), v.Name)
		return
	}
	if len(seq) != v.VectorSize {
		e.diag.Errorf(VectorSizeMismatch, n, "%s has %d components, got %d", v.Name, v.VectorSize, len(seq))
		return
	}
	for _, c := range seq {
		if w := e.widthOf(c); w != 1 {
			e.diag.Errorf(VectorSizeMismatch, c, "vector component has width %d", w)
			return
		}
	}
	e.list.Emit(bytecode.OpAssignV)
	e.list.EmitID(v.Offset)
	for _, c := range seq {
		e.compileOperand(c)
	}
}

// compileGeneralAssignment emits assign target <sequence> nop.
func (e *emitter) compileGeneralAssignment(v *Variable, seq []*Node) {
	e.list.Emit(bytecode.OpAssign)
	e.list.EmitID(v.Offset)
	e.compileSequence(seq)
	e.list.Emit(bytecode.OpNop)
}

// compileIndexedAssignment writes one component. In normal packages the
// index opcode starts the statement; in ssmd packages it follows assign.
func (e *emitter) compileIndexedAssignment(n *Node, v *Variable, seq []*Node) {
	if n.Indexer != bytecode.OpIndexN && n.Indexer.IndexComponent() >= v.VectorSize {
		e.diag.Errorf(InvalidTarget, n, "%s has no component %d", v.Name, n.Indexer.IndexComponent())
		return
	}
	if n.Indexer == bytecode.OpIndexN && n.Index == nil {
		e.diag.Errorf(InvalidTarget, n, "index_n target without an index")
		return
	}
	if e.opts.Mode == bytecode.ModeSSMD {
		e.list.Emit(bytecode.OpAssign)
	}
	e.list.Emit(n.Indexer)
	e.list.EmitID(v.Offset)
	if n.Indexer == bytecode.OpIndexN {
		e.compileOperand(n.Index)
	}
	e.compileSequence(seq)
	e.list.Emit(bytecode.OpNop)
}

// repairType appends a bit pattern reinterpretation when the value written
// has a different data type than the target.
func (e *emitter) repairType(n *Node, v *Variable, got bytecode.DataType) {
	if got == v.DataType || v.DataType == bytecode.CDataType || got == bytecode.CDataType {
		return
	}
	ex := bytecode.ExReinterpretF32
	if v.DataType == bytecode.Bool32 {
		ex = bytecode.ExReinterpretBool32
	}
	e.list.Emit(bytecode.OpAssignF)
	e.list.EmitID(v.Offset)
	e.list.Emit(bytecode.OpEx)
	e.list.EmitOperand(byte(ex))
	e.list.EmitID(v.Offset)
}

// compilePush emits push, pushv, pushf or pushc.
func (e *emitter) compilePush(n *Node) {
	seq := e.expression(n)
	if n.VectorSize > 1 && isVectorLiteral(seq) {
		if len(seq) != n.VectorSize {
			e.diag.Errorf(VectorSizeMismatch, n, "push of %d components lists %d", n.VectorSize, len(seq))
			return
		}
		e.list.Emit(bytecode.OpPushV)
		e.list.EmitOperand(byte(len(seq)))
		for _, c := range seq {
			e.compileOperand(c)
		}
		return
	}
	if !e.checkSequence(n, seq) {
		return
	}
	if len(seq) == 1 {
		switch src := seq[0]; {
		case src.Kind == NodeFunction && !src.Negate && !src.Not:
			e.list.Emit(bytecode.OpPushF)
			e.compileCall(src, false)
			return
		case src.Kind == NodeParameter || src.Kind == NodePeek:
			e.list.Emit(bytecode.OpPush)
			e.compileOperand(src)
			return
		}
	}
	e.list.Emit(bytecode.OpPushC)
	e.list.Emit(bytecode.OpBegin)
	e.compileSequence(seq)
	e.list.Emit(bytecode.OpEnd)
}

// compilePopStatement assigns the stack top to a variable or discards it.
func (e *emitter) compilePopStatement(n *Node) {
	if n.Variable == nil {
		e.list.Emit(bytecode.OpPop)
		return
	}
	if !e.checkTarget(n, n.Variable) {
		return
	}
	e.list.Emit(bytecode.OpAssignS)
	e.list.EmitID(n.Variable.Offset)
	e.list.Emit(bytecode.OpPop)
}
