package compiler

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nijnstein/blast/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// AST: the validated tree the emitter consumes
// ---------------------------------------------------------------------------

// NodeKind identifies the role of a node.
type NodeKind int

const (
	NodeNone NodeKind = iota
	NodeRoot
	NodeSegment
	NodeAssignment
	NodeCompound
	NodeOperation
	NodeParameter
	NodeFunction
	NodeIfThenElse
	NodeCondition
	NodeThen
	NodeElse
	NodeWhile
	NodeFor
	NodeBlock
	NodeSwitch
	NodeCase
	NodeDefault
	NodeYield
	NodePush
	NodePop
	NodePeek
	NodeReturn
)

var nodeKindNames = map[NodeKind]string{
	NodeNone:       "none",
	NodeRoot:       "root",
	NodeSegment:    "segment",
	NodeAssignment: "assignment",
	NodeCompound:   "compound",
	NodeOperation:  "operation",
	NodeParameter:  "parameter",
	NodeFunction:   "function",
	NodeIfThenElse: "ifthenelse",
	NodeCondition:  "condition",
	NodeThen:       "then",
	NodeElse:       "else",
	NodeWhile:      "while",
	NodeFor:        "for",
	NodeBlock:      "block",
	NodeSwitch:     "switch",
	NodeCase:       "case",
	NodeDefault:    "default",
	NodeYield:      "yield",
	NodePush:       "push",
	NodePop:        "pop",
	NodePeek:       "peek",
	NodeReturn:     "return",
}

func (k NodeKind) String() string {
	if name, ok := nodeKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("NodeKind(%d)", k)
}

// Variable is a data slot of a script: a named variable, a folded constant or
// a constant data block.
type Variable struct {
	ID         int
	Name       string
	DataType   bytecode.DataType
	VectorSize int
	RefCount   int
	IsConstant bool
	Constant   float32
	CData      *bytecode.CData
	Offset     int // float offset in the data segment, -1 until laid out
	IsInput    bool
	IsOutput   bool
}

func (v *Variable) String() string {
	if v.IsConstant && v.Name == "" {
		return strconv.FormatFloat(float64(v.Constant), 'g', -1, 32)
	}
	return v.Name
}

// Node is one element of the tree.
//
// Sequences (the children of an assignment, condition, compound or push) are
// written infix: operand (operation operand)*. Operands are parameters,
// functions, compounds, pop and peek nodes.
type Node struct {
	Kind     NodeKind
	Parent   *Node
	Children []*Node

	Token    TokenType          // operator of a NodeOperation
	Variable *Variable          // parameter source or assignment target
	Function *bytecode.Function // NodeFunction
	Indexer  bytecode.Opcode    // index_x..index_n on a parameter or target, 0 if none
	Index    *Node              // index operand of index_n

	Negate bool
	Not    bool

	// VectorSize is the width of the value a node produces, 0 if unknown.
	VectorSize int
}

// IsIndexed reports whether the node carries an indexer.
func (n *Node) IsIndexed() bool {
	return n.Indexer.IsIndex()
}

// IsOperand reports whether the node can stand as an operand of a sequence.
func (n *Node) IsOperand() bool {
	switch n.Kind {
	case NodeParameter, NodeFunction, NodeCompound, NodePop, NodePeek:
		return true
	}
	return false
}

// IsConstant reports whether the node is a constant parameter.
func (n *Node) IsConstant() bool {
	return n.Kind == NodeParameter && n.Variable != nil && n.Variable.IsConstant && n.Index == nil && !n.IsIndexed()
}

// IsFlat reports whether none of the children are compounds.
func (n *Node) IsFlat() bool {
	for _, c := range n.Children {
		if c.Kind == NodeCompound {
			return false
		}
	}
	return true
}

// Add appends children and sets their parent.
func (n *Node) Add(children ...*Node) *Node {
	for _, c := range children {
		if c == nil {
			continue
		}
		c.Parent = n
		n.Children = append(n.Children, c)
	}
	return n
}

// First returns the first child of a kind, nil if none.
func (n *Node) First(kind NodeKind) *Node {
	for _, c := range n.Children {
		if c.Kind == kind {
			return c
		}
	}
	return nil
}

// Path returns the position of the node in the tree, e.g.
// root/2/assignment(a)/compound.
func (n *Node) Path() string {
	var parts []string
	for c := n; c != nil; c = c.Parent {
		parts = append(parts, c.label())
		if c.Parent != nil && c.Parent.Kind == NodeRoot {
			for i, s := range c.Parent.Children {
				if s == c {
					parts = append(parts, strconv.Itoa(i))
				}
			}
		}
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/")
}

func (n *Node) label() string {
	switch {
	case n.Variable != nil && n.Kind != NodeRoot:
		return fmt.Sprintf("%s(%s)", n.Kind, n.Variable)
	case n.Function != nil:
		return fmt.Sprintf("%s(%s)", n.Kind, n.Function.Name)
	case n.Kind == NodeOperation:
		return fmt.Sprintf("%s(%s)", n.Kind, n.Token)
	}
	return n.Kind.String()
}

// ---------------------------------------------------------------------------
// Tree and builders
// ---------------------------------------------------------------------------

// Tree is a script ready for compilation: the statement tree and the
// variables it references.
type Tree struct {
	Root      *Node
	Variables []*Variable
	Functions *bytecode.FunctionTable

	constants map[uint32]*Variable
}

// NewTree returns an empty tree using the builtin function table.
func NewTree() *Tree {
	return NewTreeWithFunctions(bytecode.NewFunctionTable())
}

// NewTreeWithFunctions returns an empty tree resolving calls against ft.
func NewTreeWithFunctions(ft *bytecode.FunctionTable) *Tree {
	return &Tree{
		Root:      &Node{Kind: NodeRoot},
		Functions: ft,
		constants: make(map[uint32]*Variable),
	}
}

// Add appends top-level statements.
func (t *Tree) Add(stmts ...*Node) *Tree {
	t.Root.Add(stmts...)
	return t
}

func (t *Tree) newVariable(v *Variable) *Variable {
	v.ID = len(t.Variables)
	v.Offset = -1
	t.Variables = append(t.Variables, v)
	return v
}

// Var declares a numeric variable of a width.
func (t *Tree) Var(name string, size int) *Variable {
	return t.newVariable(&Variable{Name: name, VectorSize: size, DataType: bytecode.Numeric})
}

// Bool32 declares a 32-bit bit pattern variable.
func (t *Tree) Bool32(name string) *Variable {
	return t.newVariable(&Variable{Name: name, VectorSize: 1, DataType: bytecode.Bool32})
}

// Lookup returns a named variable.
func (t *Tree) Lookup(name string) (*Variable, bool) {
	for _, v := range t.Variables {
		if v.Name == name && !v.IsConstant {
			return v, true
		}
	}
	return nil, false
}

// Const returns the constant variable for a value, creating it on first use.
func (t *Tree) Const(value float32) *Variable {
	bits := math.Float32bits(value)
	if v, ok := t.constants[bits]; ok {
		return v
	}
	v := t.newVariable(&Variable{
		VectorSize: 1,
		DataType:   bytecode.Numeric,
		IsConstant: true,
		Constant:   value,
	})
	t.constants[bits] = v
	return v
}

// CData declares a constant data block.
func (t *Tree) CData(name string, c *bytecode.CData) *Variable {
	return t.newVariable(&Variable{
		Name:       name,
		DataType:   bytecode.CDataType,
		VectorSize: 1,
		IsConstant: true,
		CData:      c,
	})
}

// Ref references a variable as an operand.
func Ref(v *Variable) *Node {
	v.RefCount++
	return &Node{Kind: NodeParameter, Variable: v, VectorSize: v.VectorSize}
}

// Value references a constant as an operand.
func (t *Tree) Value(f float32) *Node {
	return Ref(t.Const(f))
}

// Neg marks an operand as negated.
func Neg(n *Node) *Node {
	n.Negate = !n.Negate
	return n
}

// Not marks an operand as logically complemented.
func Not(n *Node) *Node {
	n.Not = !n.Not
	return n
}

// Component references one component of a vector variable.
func Component(v *Variable, component int) *Node {
	n := Ref(v)
	n.Indexer = bytecode.IndexOp(component)
	n.VectorSize = 1
	return n
}

// Element references element idx of a vector variable or constant data block.
func Element(v *Variable, idx *Node) *Node {
	n := Ref(v)
	n.Indexer = bytecode.OpIndexN
	n.Index = idx
	n.VectorSize = 1
	if idx != nil {
		idx.Parent = n
	}
	return n
}

// Op is an operator between two operands.
func Op(t TokenType) *Node {
	return &Node{Kind: NodeOperation, Token: t}
}

// Compound groups a sequence.
func Compound(seq ...*Node) *Node {
	return (&Node{Kind: NodeCompound}).Add(seq...)
}

// Call invokes a function from the tree's function table.
func (t *Tree) Call(name string, params ...*Node) *Node {
	f, _ := t.Functions.ByName(name)
	n := &Node{Kind: NodeFunction, Function: f}
	if f == nil {
		// Keep the name for the missing-function diagnostic.
		n.Function = &bytecode.Function{Name: name, ID: -1}
	}
	return n.Add(params...)
}

// Assign assigns a sequence to a variable.
func Assign(v *Variable, seq ...*Node) *Node {
	return (&Node{Kind: NodeAssignment, Variable: v, VectorSize: v.VectorSize}).Add(seq...)
}

// AssignComponent assigns a sequence to one component of a vector variable.
func AssignComponent(v *Variable, component int, seq ...*Node) *Node {
	n := Assign(v, seq...)
	n.Indexer = bytecode.IndexOp(component)
	n.VectorSize = 1
	return n
}

// AssignElement assigns a sequence to element idx of a vector variable.
func AssignElement(v *Variable, idx *Node, seq ...*Node) *Node {
	n := Assign(v, seq...)
	n.Indexer = bytecode.OpIndexN
	n.Index = idx
	n.VectorSize = 1
	if idx != nil {
		idx.Parent = n
	}
	return n
}

// Cond wraps a condition sequence.
func Cond(seq ...*Node) *Node {
	return (&Node{Kind: NodeCondition}).Add(seq...)
}

// If builds an if/then/else; els may be nil.
func If(cond *Node, then []*Node, els []*Node) *Node {
	n := (&Node{Kind: NodeIfThenElse}).Add(cond, (&Node{Kind: NodeThen}).Add(then...))
	if els != nil {
		n.Add((&Node{Kind: NodeElse}).Add(els...))
	}
	return n
}

// While builds a while loop.
func While(cond *Node, body ...*Node) *Node {
	return (&Node{Kind: NodeWhile}).Add(cond, (&Node{Kind: NodeBlock}).Add(body...))
}

// For builds a for loop: init, then while cond run body and step.
func For(init *Node, cond *Node, step *Node, body ...*Node) *Node {
	return (&Node{Kind: NodeFor}).Add(
		(&Node{Kind: NodeBlock}).Add(init),
		cond,
		(&Node{Kind: NodeBlock}).Add(step),
		(&Node{Kind: NodeBlock}).Add(body...),
	)
}

// Switch builds a switch from case and default nodes.
func Switch(cases ...*Node) *Node {
	return (&Node{Kind: NodeSwitch}).Add(cases...)
}

// Case builds a switch case.
func Case(cond *Node, body ...*Node) *Node {
	return (&Node{Kind: NodeCase}).Add(cond, (&Node{Kind: NodeBlock}).Add(body...))
}

// Default builds the default branch of a switch.
func Default(body ...*Node) *Node {
	return (&Node{Kind: NodeDefault}).Add((&Node{Kind: NodeBlock}).Add(body...))
}

// Yield suspends the script.
func Yield() *Node { return &Node{Kind: NodeYield} }

// Return ends the script.
func Return() *Node { return &Node{Kind: NodeReturn} }

// Push pushes the value of a sequence.
func Push(seq ...*Node) *Node {
	return (&Node{Kind: NodePush}).Add(seq...)
}

// PushVector pushes the components as one vector.
func PushVector(components ...*Node) *Node {
	n := Push(components...)
	n.VectorSize = len(components)
	return n
}

// Pop pops a value; as a statement with a variable it assigns the value,
// without one it discards it. size is the width of the popped value.
func Pop(v *Variable, size int) *Node {
	return &Node{Kind: NodePop, Variable: v, VectorSize: size}
}

// Peek reads the top of the stack without popping.
func Peek(size int) *Node {
	return &Node{Kind: NodePeek, VectorSize: size}
}

// Segment groups statements into an independently resolved code segment.
func Segment(stmts ...*Node) *Node {
	return (&Node{Kind: NodeSegment}).Add(stmts...)
}
