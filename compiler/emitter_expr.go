package compiler

import (
	"github.com/nijnstein/blast/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Bytecode emitter: sequences, operands and calls
// ---------------------------------------------------------------------------

// compileSequence emits operand (operation operand)*.
func (e *emitter) compileSequence(seq []*Node) {
	for i, c := range seq {
		if i%2 == 1 {
			op, ok := c.Token.Opcode()
			if !ok {
				e.diag.Errorf(UnmappedToken, c, "token %s has no opcode", c.Token)
				continue
			}
			e.list.Emit(op)
			continue
		}
		e.compileOperand(c)
	}
}

// emitPrefixes emits the negate and not flags of an operand.
func (e *emitter) emitPrefixes(n *Node) {
	if n.Not {
		e.list.Emit(bytecode.OpNot)
	}
	if n.Negate {
		e.list.Emit(bytecode.OpSubstract)
	}
}

// compileOperand emits one operand with its prefixes.
func (e *emitter) compileOperand(n *Node) {
	switch n.Kind {
	case NodeParameter:
		e.compileParameter(n)
	case NodeFunction:
		e.emitPrefixes(n)
		e.compileCall(n, true)
	case NodeCompound:
		e.emitPrefixes(n)
		seq := n.Children
		if !e.checkSequence(n, seq) {
			return
		}
		e.list.Emit(bytecode.OpBegin)
		e.compileSequence(seq)
		e.list.Emit(bytecode.OpEnd)
	case NodePop:
		e.emitPrefixes(n)
		e.list.Emit(bytecode.OpPop)
	case NodePeek:
		e.emitPrefixes(n)
		e.list.Emit(bytecode.OpPeek)
	default:
		e.diag.Errorf(UnsupportedNode, n, "%s is not an operand", n.Kind)
	}
}

// compileParameter emits a constant, variable or cdata reference.
func (e *emitter) compileParameter(n *Node) {
	v := n.Variable
	if v == nil {
		e.diag.Errorf(UnsupportedNode, n, "parameter without a variable")
		return
	}

	if n.IsConstant() && v.DataType != bytecode.CDataType {
		if e.emitConstant(v, foldConstant(v.Constant, n.Negate, n.Not)) {
			return
		}
		e.emitPrefixes(n)
		if !e.emitConstant(v, v.Constant) {
			e.diag.Errorf(InvalidConstant, n, "constant %s has no encoding", v)
		}
		return
	}

	if v.DataType == bytecode.CDataType {
		e.compileCDataOperand(n, v)
		return
	}

	if v.Offset < 0 {
		e.diag.Errorf(InvalidTarget, n, "variable %s has no data slot", v.Name)
		return
	}
	e.emitPrefixes(n)
	if !n.IsIndexed() {
		e.list.EmitID(v.Offset)
		return
	}
	if e.opts.Mode != bytecode.ModeSSMD {
		e.diag.Errorf(IndexerNotSupported, n, "%s on %s needs an ssmd package", n.Indexer, v.Name)
		return
	}
	if n.Indexer == bytecode.OpIndexN {
		if n.Index == nil {
			e.diag.Errorf(UnsupportedNode, n, "index_n without an index")
			return
		}
		e.list.Emit(bytecode.OpIndexN)
		e.list.EmitID(v.Offset)
		e.compileOperand(n.Index)
		return
	}
	if c := n.Indexer.IndexComponent(); c >= v.VectorSize {
		e.diag.Errorf(VectorSizeMismatch, n, "%s has no component %d", v.Name, c)
		return
	}
	e.list.Emit(n.Indexer)
	e.list.EmitID(v.Offset)
}

// compileCDataOperand reads element 0 of a block, or the indexed element.
func (e *emitter) compileCDataOperand(n *Node, v *Variable) {
	e.emitPrefixes(n)
	switch {
	case !n.IsIndexed():
		e.list.EmitCDataRef(cdataLabel(v))
	case n.Indexer == bytecode.OpIndexN && n.Index != nil:
		e.list.Emit(bytecode.OpIndexN)
		e.list.EmitCDataRef(cdataLabel(v))
		e.compileOperand(n.Index)
	default:
		e.diag.Errorf(IndexerNotSupported, n, "%s on cdata %s", n.Indexer, v.Name)
	}
}

// compileCall emits a function call: the opcode, the count byte of
// variadic functions and the parameters.
func (e *emitter) compileCall(n *Node, asOperand bool) {
	params, ok := e.checkCall(n)
	if !ok {
		return
	}
	if !asOperand && (n.Negate || n.Not) {
		e.diag.Warnf(n, "prefix on a discarded call result has no effect")
	}
	e.emitCallBody(n.Function, params)
}

func (e *emitter) emitCallBody(f *bytecode.Function, params []*Node) {
	switch {
	case f.IsExternal():
		e.list.Emit(bytecode.OpEx)
		e.list.EmitOperand(byte(bytecode.ExCall), byte(f.ID>>8), byte(f.ID))
	case f.Op == bytecode.OpEx:
		e.list.Emit(bytecode.OpEx)
		e.list.EmitOperand(byte(f.ExtendedOp))
	default:
		e.list.Emit(f.Op)
	}
	e.emitParams(f, params)
}

func (e *emitter) emitParams(f *bytecode.Function, params []*Node) {
	if f.VariableParams {
		e.list.EmitOperand(byte(len(params)))
	}
	for _, p := range params {
		e.compileOperand(p)
	}
}

// checkCall validates a call and returns its flattened parameter list. The
// tree is not modified.
func (e *emitter) checkCall(n *Node) ([]*Node, bool) {
	f := n.Function
	if f == nil || f.ID < 0 {
		name := "?"
		if f != nil {
			name = f.Name
		}
		e.diag.Errorf(MissingFunction, n, "function %s is not defined", name)
		return nil, false
	}

	params := n.Children
	if len(params) == 1 && params[0].Kind == NodeCompound && !params[0].Negate && !params[0].Not && len(params[0].Children) > 1 && allFlatOperands(params[0].Children) {
		e.diag.Warnf(n, "parameter list of %s was wrapped in a compound", f.Name)
		params = params[0].Children
	}

	flat := make([]*Node, 0, len(params))
	for _, p := range params {
		switch {
		case p.Kind == NodeCompound && len(p.Children) == 1 && isFlatOperand(p.Children[0]):
			e.diag.Warnf(p, "single operand compound promoted to parameter of %s", f.Name)
			flat = append(flat, promote(p))
		case isFlatOperand(p):
			flat = append(flat, p)
		default:
			e.diag.Errorf(NestedParameter, p, "parameter of %s must be a variable, constant or stack value", f.Name)
			return nil, false
		}
	}

	if err := f.CheckArity(len(flat)); err != nil {
		e.diag.Errorf(ParameterCount, n, "%s", err)
		return nil, false
	}
	if f.VariableParams && len(flat) > 1 {
		w, t := e.widthOf(flat[0]), e.typeOfOperand(flat[0])
		for _, p := range flat[1:] {
			if pw := e.widthOf(p); pw != w {
				e.diag.Errorf(VectorSizeMismatch, p, "%s parameters differ in width: %d and %d", f.Name, w, pw)
				return nil, false
			}
			if pt := e.typeOfOperand(p); pt != t {
				e.diag.Errorf(DataTypeMismatch, p, "%s parameters differ in type: %s and %s", f.Name, t, pt)
				return nil, false
			}
		}
	}
	return flat, true
}

func isFlatOperand(n *Node) bool {
	switch n.Kind {
	case NodeParameter:
		return n.Index == nil || isFlatOperand(n.Index)
	case NodePop, NodePeek:
		return true
	}
	return false
}

func allFlatOperands(nodes []*Node) bool {
	for _, n := range nodes {
		if !isFlatOperand(n) {
			return false
		}
	}
	return true
}

// promote returns a copy of the single child of a compound carrying the
// compound's prefixes.
func promote(c *Node) *Node {
	p := *c.Children[0]
	p.Negate = p.Negate != c.Negate
	p.Not = p.Not != c.Not
	return &p
}

// ---------------------------------------------------------------------------
// Width and type inference
// ---------------------------------------------------------------------------

// widthOf returns the width of the value an operand produces.
func (e *emitter) widthOf(n *Node) int {
	switch n.Kind {
	case NodeParameter:
		if n.IsIndexed() || n.Variable == nil || n.Variable.DataType == bytecode.CDataType {
			return 1
		}
		return n.Variable.VectorSize
	case NodeFunction:
		in := 1
		if len(n.Children) > 0 {
			in = e.widthOf(n.Children[0])
		}
		if n.Function == nil {
			return in
		}
		return n.Function.ResultSize(in)
	case NodeCompound:
		return e.widthOfSequence(n.Children)
	case NodePop, NodePeek:
		if n.VectorSize > 0 {
			return n.VectorSize
		}
	}
	return 1
}

func (e *emitter) widthOfSequence(seq []*Node) int {
	if len(seq) == 0 {
		return 1
	}
	w := e.widthOf(seq[0])
	t := e.typeOfOperand(seq[0])
	for i := 1; i+1 < len(seq); i += 2 {
		op, _ := seq[i].Token.Opcode()
		rw, rt := e.widthOf(seq[i+1]), e.typeOfOperand(seq[i+1])
		switch {
		case op.IsLogical() && !(t == bytecode.Bool32 && rt == bytecode.Bool32):
			w = 1
		case rw > w:
			w = rw
		}
		t = combineTypes(op, t, rt)
	}
	return w
}

// typeOf returns the data type a sequence produces.
func (e *emitter) typeOf(seq []*Node) bytecode.DataType {
	if len(seq) == 0 {
		return bytecode.Numeric
	}
	t := e.typeOfOperand(seq[0])
	for i := 1; i+1 < len(seq); i += 2 {
		op, _ := seq[i].Token.Opcode()
		t = combineTypes(op, t, e.typeOfOperand(seq[i+1]))
	}
	return t
}

func (e *emitter) typeOfOperand(n *Node) bytecode.DataType {
	switch n.Kind {
	case NodeParameter:
		if n.Variable == nil || n.Variable.DataType == bytecode.CDataType {
			return bytecode.Numeric
		}
		return n.Variable.DataType
	case NodeFunction:
		if n.Function != nil {
			return n.Function.OutputType
		}
	case NodeCompound:
		return e.typeOf(n.Children)
	}
	return bytecode.Numeric
}

// combineTypes keeps bool32 only for logical operations on two bool32 values.
func combineTypes(op bytecode.Opcode, a, b bytecode.DataType) bytecode.DataType {
	if op.IsLogical() && a == bytecode.Bool32 && b == bytecode.Bool32 {
		return bytecode.Bool32
	}
	return bytecode.Numeric
}
