package compiler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nijnstein/blast/pkg/bytecode"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// YAML tree documents
//
//	variables:
//	  - {name: a, size: 1}
//	  - {name: flags, type: bool32}
//	  - {name: table, encoding: f32, values: [1, 2, 3]}
//	statements:
//	  - {assign: a, value: 1}
//	  - {assign: b, value: [a, "+", 2]}
//	  - {assign: c, value: "-b"}
//	  - if: [a, ">", 1]
//	    then: [{assign: a, value: 0}]
//	  - yield
//
// Expressions are a scalar operand or a list alternating operands and
// operators; a nested list is a compound. Operands may carry "-" and "!"
// prefixes and a .x/.y/.z/.w suffix.
// ---------------------------------------------------------------------------

// ErrDocument wraps every error of a malformed tree document.
var ErrDocument = errors.New("tree document")

// VariableDoc declares a variable or cdata block.
type VariableDoc struct {
	Name   string `yaml:"name"`
	Size   int    `yaml:"size,omitempty"`
	Type   string `yaml:"type,omitempty"`
	Input  bool   `yaml:"input,omitempty"`
	Output bool   `yaml:"output,omitempty"`

	// Encoding makes the variable a cdata block of Values or Text.
	Encoding string    `yaml:"encoding,omitempty"`
	Values   []float32 `yaml:"values,omitempty"`
	Text     string    `yaml:"text,omitempty"`
}

// Document is the YAML form of a tree.
type Document struct {
	Variables  []VariableDoc `yaml:"variables"`
	Statements yaml.Node     `yaml:"statements"`
}

// LoadTree parses a tree document. Calls resolve against ft, or the builtin
// table when ft is nil.
func LoadTree(data []byte, ft *bytecode.FunctionTable) (*Tree, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDocument, err)
	}
	if ft == nil {
		ft = bytecode.NewFunctionTable()
	}
	r := &docReader{tree: NewTreeWithFunctions(ft)}
	if err := r.declare(doc.Variables); err != nil {
		return nil, err
	}
	stmts, err := r.statements(&doc.Statements)
	if err != nil {
		return nil, err
	}
	r.tree.Add(stmts...)
	return r.tree, nil
}

type docReader struct {
	tree *Tree
}

func docError(n *yaml.Node, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	if n != nil && n.Line > 0 {
		return fmt.Errorf("%w: line %d: %s", ErrDocument, n.Line, msg)
	}
	return fmt.Errorf("%w: %s", ErrDocument, msg)
}

func (r *docReader) declare(vars []VariableDoc) error {
	for _, vd := range vars {
		if vd.Name == "" {
			return docError(nil, "variable without a name")
		}
		if _, dup := r.tree.Lookup(vd.Name); dup {
			return docError(nil, "variable %s declared twice", vd.Name)
		}
		if vd.Encoding != "" {
			if err := r.declareCData(vd); err != nil {
				return err
			}
			continue
		}

		var v *Variable
		switch vd.Type {
		case "", "numeric":
			size := vd.Size
			if size == 0 {
				size = 1
			}
			v = r.tree.Var(vd.Name, size)
		case "bool32":
			v = r.tree.Bool32(vd.Name)
		default:
			return docError(nil, "variable %s has unknown type %q", vd.Name, vd.Type)
		}
		v.IsInput, v.IsOutput = vd.Input, vd.Output
	}
	return nil
}

func (r *docReader) declareCData(vd VariableDoc) error {
	enc, err := bytecode.ParseEncoding(vd.Encoding)
	if err != nil {
		return docError(nil, "cdata %s: %s", vd.Name, err)
	}
	var c *bytecode.CData
	if enc == bytecode.EncodingASCII {
		c, err = bytecode.EncodeASCII(vd.Text)
	} else {
		c, err = bytecode.EncodeCData(enc, vd.Values)
	}
	if err != nil {
		return docError(nil, "cdata %s: %s", vd.Name, err)
	}
	r.tree.CData(vd.Name, c)
	return nil
}

// variable finds a declared variable or cdata block by name.
func (r *docReader) variable(n *yaml.Node, name string) (*Variable, error) {
	for _, v := range r.tree.Variables {
		if v.Name == name {
			return v, nil
		}
	}
	return nil, docError(n, "undeclared variable %q", name)
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (r *docReader) statements(n *yaml.Node) ([]*Node, error) {
	if n == nil || n.Kind == 0 {
		return nil, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, docError(n, "expected a list of statements")
	}
	out := make([]*Node, 0, len(n.Content))
	for _, c := range n.Content {
		s, err := r.statement(c)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// fields indexes the values of a mapping node by key.
func fields(n *yaml.Node) map[string]*yaml.Node {
	m := make(map[string]*yaml.Node, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		m[n.Content[i].Value] = n.Content[i+1]
	}
	return m
}

func (r *docReader) statement(n *yaml.Node) (*Node, error) {
	if n.Kind == yaml.ScalarNode {
		switch n.Value {
		case "yield":
			return Yield(), nil
		case "return":
			return Return(), nil
		case "pop":
			return Pop(nil, 1), nil
		}
		return nil, docError(n, "unknown statement %q", n.Value)
	}
	if n.Kind != yaml.MappingNode {
		return nil, docError(n, "expected a statement")
	}

	f := fields(n)
	switch {
	case f["assign"] != nil:
		return r.assignment(n, f)
	case f["if"] != nil:
		return r.ifStatement(f)
	case f["while"] != nil:
		cond, err := r.condition(f["while"])
		if err != nil {
			return nil, err
		}
		body, err := r.statements(f["do"])
		if err != nil {
			return nil, err
		}
		return While(cond, body...), nil
	case f["for"] != nil:
		return r.forStatement(f)
	case f["switch"] != nil:
		return r.switchStatement(f["switch"])
	case f["push"] != nil:
		seq, err := r.expression(f["push"])
		if err != nil {
			return nil, err
		}
		return Push(seq...), nil
	case f["pushv"] != nil:
		seq, err := r.expression(f["pushv"])
		if err != nil {
			return nil, err
		}
		return PushVector(seq...), nil
	case f["pop"] != nil:
		v, err := r.variable(f["pop"], f["pop"].Value)
		if err != nil {
			return nil, err
		}
		return Pop(v, v.VectorSize), nil
	case f["call"] != nil:
		return r.call(f)
	case f["segment"] != nil:
		body, err := r.statements(f["segment"])
		if err != nil {
			return nil, err
		}
		return Segment(body...), nil
	}
	return nil, docError(n, "unknown statement")
}

func (r *docReader) assignment(n *yaml.Node, f map[string]*yaml.Node) (*Node, error) {
	if f["value"] == nil {
		return nil, docError(n, "assignment without a value")
	}
	seq, err := r.expression(f["value"])
	if err != nil {
		return nil, err
	}
	name, component := splitComponent(f["assign"].Value)
	v, err := r.variable(f["assign"], name)
	if err != nil {
		return nil, err
	}
	switch {
	case f["at"] != nil:
		idx, err := r.operand(f["at"])
		if err != nil {
			return nil, err
		}
		return AssignElement(v, idx, seq...), nil
	case component >= 0:
		return AssignComponent(v, component, seq...), nil
	}
	return Assign(v, seq...), nil
}

func (r *docReader) condition(n *yaml.Node) (*Node, error) {
	seq, err := r.expression(n)
	if err != nil {
		return nil, err
	}
	return Cond(seq...), nil
}

func (r *docReader) ifStatement(f map[string]*yaml.Node) (*Node, error) {
	cond, err := r.condition(f["if"])
	if err != nil {
		return nil, err
	}
	then, err := r.statements(f["then"])
	if err != nil {
		return nil, err
	}
	var els []*Node
	if f["else"] != nil {
		if els, err = r.statements(f["else"]); err != nil {
			return nil, err
		}
	}
	return If(cond, then, els), nil
}

func (r *docReader) forStatement(f map[string]*yaml.Node) (*Node, error) {
	loop := f["for"]
	if loop.Kind != yaml.MappingNode {
		return nil, docError(loop, "for expects init, while and step")
	}
	parts := fields(loop)
	var init, step *Node
	var err error
	if parts["init"] != nil {
		if init, err = r.statement(parts["init"]); err != nil {
			return nil, err
		}
	}
	if parts["step"] != nil {
		if step, err = r.statement(parts["step"]); err != nil {
			return nil, err
		}
	}
	if parts["while"] == nil {
		return nil, docError(loop, "for without a while condition")
	}
	cond, err := r.condition(parts["while"])
	if err != nil {
		return nil, err
	}
	body, err := r.statements(f["do"])
	if err != nil {
		return nil, err
	}
	return For(init, cond, step, body...), nil
}

func (r *docReader) switchStatement(n *yaml.Node) (*Node, error) {
	if n.Kind != yaml.SequenceNode {
		return nil, docError(n, "switch expects a list of cases")
	}
	sw := Switch()
	for _, c := range n.Content {
		if c.Kind != yaml.MappingNode {
			return nil, docError(c, "expected a case or default")
		}
		f := fields(c)
		switch {
		case f["case"] != nil:
			cond, err := r.condition(f["case"])
			if err != nil {
				return nil, err
			}
			body, err := r.statements(f["do"])
			if err != nil {
				return nil, err
			}
			sw.Add(Case(cond, body...))
		case f["default"] != nil:
			body, err := r.statements(f["default"])
			if err != nil {
				return nil, err
			}
			sw.Add(Default(body...))
		default:
			return nil, docError(c, "expected a case or default")
		}
	}
	return sw, nil
}

func (r *docReader) call(f map[string]*yaml.Node) (*Node, error) {
	var params []*Node
	if args := f["args"]; args != nil {
		if args.Kind != yaml.SequenceNode {
			return nil, docError(args, "args must be a list")
		}
		for _, a := range args.Content {
			p, err := r.operand(a)
			if err != nil {
				return nil, err
			}
			params = append(params, p)
		}
	}
	return r.tree.Call(f["call"].Value, params...), nil
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// expression returns the sequence of an expression node.
func (r *docReader) expression(n *yaml.Node) ([]*Node, error) {
	if n.Kind != yaml.SequenceNode {
		op, err := r.operand(n)
		if err != nil {
			return nil, err
		}
		return []*Node{op}, nil
	}
	seq := make([]*Node, 0, len(n.Content))
	for i, c := range n.Content {
		// Lists without operators are vector literals.
		if i%2 == 1 && isOperator(c) {
			seq = append(seq, Op(ParseToken(c.Value)))
			continue
		}
		op, err := r.operand(c)
		if err != nil {
			return nil, err
		}
		seq = append(seq, op)
	}
	return seq, nil
}

func (r *docReader) operand(n *yaml.Node) (*Node, error) {
	switch n.Kind {
	case yaml.SequenceNode:
		seq, err := r.expression(n)
		if err != nil {
			return nil, err
		}
		return Compound(seq...), nil
	case yaml.MappingNode:
		f := fields(n)
		switch {
		case f["call"] != nil:
			return r.call(f)
		case f["element"] != nil && f["at"] != nil:
			v, err := r.variable(f["element"], f["element"].Value)
			if err != nil {
				return nil, err
			}
			idx, err := r.operand(f["at"])
			if err != nil {
				return nil, err
			}
			return Element(v, idx), nil
		}
		return nil, docError(n, "expected a call or element operand")
	case yaml.ScalarNode:
		return r.scalarOperand(n)
	}
	return nil, docError(n, "expected an operand")
}

func (r *docReader) scalarOperand(n *yaml.Node) (*Node, error) {
	s := strings.TrimSpace(n.Value)
	if f, err := strconv.ParseFloat(s, 32); err == nil {
		return r.tree.Value(float32(f)), nil
	}

	var negate, not bool
	for len(s) > 1 && (s[0] == '-' || s[0] == '!') {
		if s[0] == '-' {
			negate = !negate
		} else {
			not = !not
		}
		s = s[1:]
	}

	var op *Node
	switch s {
	case "pop":
		op = Pop(nil, 1)
	case "peek":
		op = Peek(1)
	default:
		if f, err := strconv.ParseFloat(s, 32); err == nil {
			op = r.tree.Value(float32(f))
			break
		}
		if vop, ok := bytecode.ValueByName(s); ok {
			value, _ := bytecode.ValueOf(vop)
			op = r.tree.Value(value)
			break
		}
		name, component := splitComponent(s)
		v, err := r.variable(n, name)
		if err != nil {
			return nil, err
		}
		if component >= 0 {
			op = Component(v, component)
		} else {
			op = Ref(v)
		}
	}
	op.Negate, op.Not = negate, not
	return op, nil
}

func isOperator(n *yaml.Node) bool {
	if n.Kind != yaml.ScalarNode {
		return false
	}
	t := ParseToken(n.Value)
	return t != TokenUnknown && t != TokenNot
}

// splitComponent splits "v.x" into "v" and 0; -1 when there is no suffix.
func splitComponent(s string) (string, int) {
	i := strings.LastIndexByte(s, '.')
	if i < 0 {
		return s, -1
	}
	switch s[i+1:] {
	case "x":
		return s[:i], 0
	case "y":
		return s[:i], 1
	case "z":
		return s[:i], 2
	case "w":
		return s[:i], 3
	}
	return s, -1
}
