package compiler

import (
	"bytes"
	"strings"
	"testing"

	"github.com/nijnstein/blast/pkg/bytecode"
)

func op(o bytecode.Opcode) byte { return byte(o) }

func id(offset int) byte { return byte(bytecode.ID(offset)) }

func compileCode(t *testing.T, tree *Tree, opts Options) []byte {
	t.Helper()
	pkg, diag, err := Compile(tree, opts)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if diag.HasErrors() {
		t.Fatalf("diagnostics: %v", diag.Err())
	}
	return pkg.Code
}

// scenario builds a = 1; b = a + 2; c = -b.
func scenario() *Tree {
	tree := NewTree()
	a, b, c := tree.Var("a", 1), tree.Var("b", 1), tree.Var("c", 1)
	tree.Add(
		Assign(a, tree.Value(1)),
		Assign(b, Ref(a), Op(TokenAdd), tree.Value(2)),
		Assign(c, Neg(Ref(b))),
	)
	return tree
}

func TestCompileScenario(t *testing.T) {
	pkg, _, err := Compile(scenario(), DefaultOptions())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	want := []byte{
		op(bytecode.OpValue1), 0x80,
		op(bytecode.OpAssign), id(1), id(0), op(bytecode.OpAdd), op(bytecode.OpValue2), op(bytecode.OpNop),
		id(1), 0x80 | 0x40 | 2,
	}
	if !bytes.Equal(pkg.Code, want) {
		t.Errorf("code = % X, want % X", pkg.Code, want)
	}
	if pkg.DataSize != 3 {
		t.Errorf("DataSize = %d, want 3", pkg.DataSize)
	}
	if len(pkg.Segments) != 1 || pkg.Segments[0] != 0 {
		t.Errorf("Segments = %v, want [0]", pkg.Segments)
	}
	if err := pkg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestCompileAssignmentEncodings(t *testing.T) {
	tests := []struct {
		name   string
		inline bool
		build  func(tree *Tree, a, b, v, f *Variable) *Node
		want   []byte
	}{
		{"named value", true, func(tree *Tree, a, b, v, f *Variable) *Node {
			return Assign(a, tree.Value(1))
		}, []byte{op(bytecode.OpValue1), 0x80}},
		{"half constant", true, func(tree *Tree, a, b, v, f *Variable) *Node {
			return Assign(a, tree.Value(3.5))
		}, []byte{op(bytecode.OpConstantF32H), 0x40, 0x60, 0x80}},
		{"full constant", true, func(tree *Tree, a, b, v, f *Variable) *Node {
			return Assign(a, tree.Value(0.3))
		}, []byte{op(bytecode.OpConstantF32), 0x3E, 0x99, 0x99, 0x9A, 0x80}},
		{"folded negation", true, func(tree *Tree, a, b, v, f *Variable) *Node {
			return Assign(a, Neg(tree.Value(1)))
		}, []byte{op(bytecode.OpConstantF32H), 0xBF, 0x80, 0x80}},
		{"data constant", false, func(tree *Tree, a, b, v, f *Variable) *Node {
			return Assign(a, tree.Value(3.5))
		}, []byte{id(6), 0x80}},
		{"data constant negated", false, func(tree *Tree, a, b, v, f *Variable) *Node {
			return Assign(a, Neg(tree.Value(3.5)))
		}, []byte{id(6), 0x80 | 0x40}},
		{"direct id", true, func(tree *Tree, a, b, v, f *Variable) *Node {
			return Assign(a, Ref(b))
		}, []byte{id(1), 0x80}},
		{"direct id negated", true, func(tree *Tree, a, b, v, f *Variable) *Node {
			return Assign(a, Neg(Ref(b)))
		}, []byte{id(1), 0x80 | 0x40}},
		{"broadcast into vector", true, func(tree *Tree, a, b, v, f *Variable) *Node {
			return Assign(v, Ref(a))
		}, []byte{id(0), 0x80 | 2}},
		{"not is a single operand", true, func(tree *Tree, a, b, v, f *Variable) *Node {
			return Assign(a, Not(Ref(b)))
		}, []byte{op(bytecode.OpAssignS), id(0), op(bytecode.OpNot), id(1)}},
		{"vector literal", true, func(tree *Tree, a, b, v, f *Variable) *Node {
			return Assign(v, tree.Value(1), tree.Value(2), Ref(a))
		}, []byte{op(bytecode.OpAssignV), id(2), op(bytecode.OpValue1), op(bytecode.OpValue2), id(0)}},
		{"function", true, func(tree *Tree, a, b, v, f *Variable) *Node {
			return Assign(a, tree.Call("abs", Ref(b)))
		}, []byte{op(bytecode.OpAssignF), id(0), op(bytecode.OpAbs), id(1)}},
		{"negated function", true, func(tree *Tree, a, b, v, f *Variable) *Node {
			return Assign(a, Neg(tree.Call("abs", Ref(b))))
		}, []byte{op(bytecode.OpAssignFN), id(0), op(bytecode.OpAbs), id(1)}},
		{"variadic function", true, func(tree *Tree, a, b, v, f *Variable) *Node {
			return Assign(a, tree.Call("max", Ref(b), tree.Value(2), tree.Value(3)))
		}, []byte{op(bytecode.OpAssignF), id(0), op(bytecode.OpMax), 3, id(1), op(bytecode.OpValue2), op(bytecode.OpValue3)}},
		{"extended function", true, func(tree *Tree, a, b, v, f *Variable) *Node {
			return Assign(a, tree.Call("length", Ref(v)))
		}, []byte{op(bytecode.OpAssignF), id(0), op(bytecode.OpEx), byte(bytecode.ExLength), id(2)}},
		{"component", true, func(tree *Tree, a, b, v, f *Variable) *Node {
			return AssignComponent(v, 1, Ref(a), Op(TokenMultiply), tree.Value(2))
		}, []byte{op(bytecode.OpAssign), op(bytecode.OpIndexY), id(2), id(0), op(bytecode.OpMultiply), op(bytecode.OpValue2), op(bytecode.OpNop)}},
		{"type repair", true, func(tree *Tree, a, b, v, f *Variable) *Node {
			return Assign(f, Ref(a))
		}, []byte{
			op(bytecode.OpAssignS), id(5), id(0),
			op(bytecode.OpAssignF), id(5), op(bytecode.OpEx), byte(bytecode.ExReinterpretBool32), id(5),
		}},
		{"push", true, func(tree *Tree, a, b, v, f *Variable) *Node {
			return Push(Ref(a))
		}, []byte{op(bytecode.OpPush), id(0)}},
		{"push compound", true, func(tree *Tree, a, b, v, f *Variable) *Node {
			return Push(Ref(a), Op(TokenAdd), Ref(b))
		}, []byte{op(bytecode.OpPushC), op(bytecode.OpBegin), id(0), op(bytecode.OpAdd), id(1), op(bytecode.OpEnd)}},
		{"push vector", true, func(tree *Tree, a, b, v, f *Variable) *Node {
			return PushVector(Ref(a), Ref(b), tree.Value(1))
		}, []byte{op(bytecode.OpPushV), 3, id(0), id(1), op(bytecode.OpValue1)}},
		{"pop into", true, func(tree *Tree, a, b, v, f *Variable) *Node {
			return Pop(b, 1)
		}, []byte{op(bytecode.OpAssignS), id(1), op(bytecode.OpPop)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := NewTree()
			a, b := tree.Var("a", 1), tree.Var("b", 1)
			v := tree.Var("v", 3)
			f := tree.Bool32("f")
			tree.Add(tt.build(tree, a, b, v, f))

			opts := DefaultOptions()
			opts.InlineConstantData = tt.inline
			code := compileCode(t, tree, opts)
			if !bytes.Equal(code, tt.want) {
				t.Errorf("code = % X, want % X", code, tt.want)
			}
		})
	}
}

func TestCompileIndexedAssignmentNormalMode(t *testing.T) {
	tree := NewTree()
	v := tree.Var("v", 2)
	tree.Add(AssignComponent(v, 0, tree.Value(2)))

	opts := DefaultOptions()
	opts.Mode = bytecode.ModeNormal
	code := compileCode(t, tree, opts)
	want := []byte{op(bytecode.OpIndexX), id(0), op(bytecode.OpValue2), op(bytecode.OpNop)}
	if !bytes.Equal(code, want) {
		t.Errorf("code = % X, want % X", code, want)
	}
}

func TestCompileControlFlow(t *testing.T) {
	tests := []struct {
		name  string
		build func(tree *Tree, a *Variable) *Node
		want  []byte
	}{
		{"if", func(tree *Tree, a *Variable) *Node {
			return If(Cond(Ref(a), Op(TokenGreater), tree.Value(1)), []*Node{Assign(a, tree.Value(0))}, nil)
		}, []byte{
			op(bytecode.OpJz), 7, op(bytecode.OpBegin), id(0), op(bytecode.OpGreater), op(bytecode.OpValue1), op(bytecode.OpEnd),
			op(bytecode.OpValue0), 0x80,
			op(bytecode.OpNop),
		}},
		{"if on operand", func(tree *Tree, a *Variable) *Node {
			return If(Cond(Ref(a)), []*Node{Assign(a, tree.Value(0))}, nil)
		}, []byte{
			op(bytecode.OpCJz), 3, id(0),
			op(bytecode.OpValue0), 0x80,
			op(bytecode.OpNop),
		}},
		{"if else", func(tree *Tree, a *Variable) *Node {
			return If(Cond(Ref(a)), []*Node{Assign(a, tree.Value(0))}, []*Node{Assign(a, tree.Value(1))})
		}, []byte{
			op(bytecode.OpCJz), 5, id(0),
			op(bytecode.OpValue0), 0x80,
			op(bytecode.OpJump), 2,
			op(bytecode.OpValue1), 0x80,
			op(bytecode.OpNop),
		}},
		{"while", func(tree *Tree, a *Variable) *Node {
			return While(Cond(Ref(a), Op(TokenSmaller), tree.Value(3)),
				Assign(a, Ref(a), Op(TokenAdd), tree.Value(1)))
		}, []byte{
			op(bytecode.OpJz), 13, op(bytecode.OpBegin), id(0), op(bytecode.OpSmaller), op(bytecode.OpValue3), op(bytecode.OpEnd),
			op(bytecode.OpAssign), id(0), id(0), op(bytecode.OpAdd), op(bytecode.OpValue1), op(bytecode.OpNop),
			op(bytecode.OpJumpBack), 15,
			op(bytecode.OpNop),
		}},
		{"constant condition", func(tree *Tree, a *Variable) *Node {
			return If(Cond(tree.Value(1)), []*Node{Assign(a, tree.Value(0))}, []*Node{Assign(a, tree.Value(1))})
		}, []byte{op(bytecode.OpValue0), 0x80}},
		{"empty then", func(tree *Tree, a *Variable) *Node {
			return If(Cond(Ref(a)), nil, []*Node{Yield()})
		}, []byte{
			op(bytecode.OpJnz), 4, op(bytecode.OpBegin), id(0), op(bytecode.OpEnd),
			op(bytecode.OpYield),
			op(bytecode.OpNop),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := NewTree()
			a := tree.Var("a", 1)
			tree.Add(tt.build(tree, a))
			opts := DefaultOptions()
			opts.VerifyResolve = true
			code := compileCode(t, tree, opts)
			if !bytes.Equal(code, tt.want) {
				t.Errorf("code = % X, want % X", code, tt.want)
			}
		})
	}
}

func TestCompileSwitch(t *testing.T) {
	tree := NewTree()
	a, b := tree.Var("a", 1), tree.Var("b", 1)
	tree.Add(Switch(
		Case(Cond(Ref(a), Op(TokenEquals), tree.Value(1)), Assign(b, tree.Value(10))),
		Case(Cond(Ref(a), Op(TokenEquals), tree.Value(2)), Assign(b, tree.Value(20))),
		Default(Assign(b, tree.Value(0))),
	))
	opts := DefaultOptions()
	opts.VerifyResolve = true
	code := compileCode(t, tree, opts)

	// Both case conditions, the default body, then the case bodies.
	if code[0] != op(bytecode.OpJnz) {
		t.Fatalf("first op = %s, want jnz", bytecode.Opcode(code[0]))
	}
	dis := bytecode.Disassemble(code, nil)
	for _, want := range []string{"jnz", "value_10", "value_0", "jump"} {
		if !bytes.Contains([]byte(dis), []byte(want)) {
			t.Errorf("listing lacks %q:\n%s", want, dis)
		}
	}
}

func TestCompileConstantPooling(t *testing.T) {
	tree := NewTree()
	a, b := tree.Var("a", 1), tree.Var("b", 1)
	tree.Add(Assign(a, tree.Value(0.3)), Assign(b, tree.Value(0.3)))

	code := compileCode(t, tree, DefaultOptions())
	want := []byte{
		op(bytecode.OpConstantF32), 0x3E, 0x99, 0x99, 0x9A, 0x80,
		op(bytecode.OpConstantShortRef), 8, 0x81,
	}
	if !bytes.Equal(code, want) {
		t.Errorf("code = % X, want % X", code, want)
	}
}

// constantUses lists the offsets of inline definitions of value and the
// targets of every constant reference in a listing.
func constantUses(code []byte, value string) (defs []string, refs []string) {
	for _, line := range strings.Split(bytecode.Disassemble(code, nil), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		switch fields[1] {
		case "constant_f32":
			if fields[2] == value {
				defs = append(defs, fields[0])
			}
		case "constant_short_ref", "constant_long_ref":
			refs = append(refs, fields[len(fields)-1])
		}
	}
	return defs, refs
}

func TestCompileConstantPoolingOrder(t *testing.T) {
	tests := []struct {
		name  string
		build func(tree *Tree, a, b, c *Variable) []*Node
		refs  int
	}{
		{"statements", func(tree *Tree, a, b, c *Variable) []*Node {
			return []*Node{
				Assign(a, tree.Value(0.3)),
				Assign(b, tree.Value(0.3)),
				Assign(c, Ref(a), Op(TokenAdd), tree.Value(0.3)),
			}
		}, 2},
		{"first in a compound", func(tree *Tree, a, b, c *Variable) []*Node {
			return []*Node{
				Assign(a, Compound(Ref(b), Op(TokenAdd), tree.Value(0.3)), Op(TokenMultiply), Ref(c)),
				Assign(b, tree.Value(0.3)),
			}
		}, 1},
		{"first in a branch", func(tree *Tree, a, b, c *Variable) []*Node {
			return []*Node{
				If(Cond(Ref(a)), []*Node{Assign(b, Ref(c), Op(TokenMultiply), tree.Value(0.3))}, nil),
				Assign(c, Ref(a), Op(TokenAdd), tree.Value(0.3)),
			}
		}, 1},
		{"first in a condition", func(tree *Tree, a, b, c *Variable) []*Node {
			return []*Node{
				While(Cond(Ref(a), Op(TokenSmaller), tree.Value(0.3)),
					Assign(a, Ref(a), Op(TokenAdd), tree.Value(0.3)),
				),
				Assign(b, tree.Value(0.3)),
			}
		}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := NewTree()
			a, b, c := tree.Var("a", 1), tree.Var("b", 1), tree.Var("c", 1)
			tree.Add(tt.build(tree, a, b, c)...)

			code := compileCode(t, tree, DefaultOptions())
			defs, refs := constantUses(code, "0.3")
			if len(defs) != 1 {
				t.Fatalf("definitions = %v, want one\n%s", defs, bytecode.Disassemble(code, nil))
			}
			if len(refs) != tt.refs {
				t.Errorf("references = %d, want %d\n%s", len(refs), tt.refs, bytecode.Disassemble(code, nil))
			}
			for _, r := range refs {
				if r != defs[0] {
					t.Errorf("reference to %s, want %s", r, defs[0])
				}
			}
		})
	}
}

func TestPoolConstantsReinlinesOutOfRange(t *testing.T) {
	l := NewIList("p:")
	emitInlineConstant(l, 0.3)
	l.EmitTarget(0, false)
	nops(l, bytecode.LongJumpMax)
	for i := 1; i < 3; i++ {
		emitInlineConstant(l, 0.3)
		l.EmitTarget(i, false)
	}

	diag := NewDiagnostics()
	out := resolve(poolConstants(l), diag, false)
	if diag.HasErrors() {
		t.Fatalf("resolve: %v", diag.Err())
	}
	code := out.Bytes()
	if got := bytes.Count(code, []byte{op(bytecode.OpConstantF32)}); got != 2 {
		t.Errorf("inline constants = %d, want 2", got)
	}
	tail := code[len(code)-9:]
	want := []byte{
		op(bytecode.OpConstantF32), 0x3E, 0x99, 0x99, 0x9A, byte(bytecode.IDOffset | 1),
		op(bytecode.OpConstantShortRef), 8, byte(bytecode.IDOffset | 2),
	}
	if !bytes.Equal(tail, want) {
		t.Errorf("tail = % X, want % X", tail, want)
	}
}

func TestPoolConstantsIdempotent(t *testing.T) {
	l := NewIList("p:")
	for i := 0; i < 3; i++ {
		emitInlineConstant(l, 0.3)
		l.EmitTarget(i, false)
	}
	once := poolConstants(l)
	twice := poolConstants(once)

	a := resolve(once, NewDiagnostics(), false)
	b := resolve(twice, NewDiagnostics(), false)
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Errorf("pooling twice changed the code:\n% X\n% X", a.Bytes(), b.Bytes())
	}
	if got := bytes.Count(a.Bytes(), []byte{op(bytecode.OpConstantF32)}); got != 1 {
		t.Errorf("inline constants = %d, want 1", got)
	}
}

func TestCompileCData(t *testing.T) {
	tree := NewTree()
	a := tree.Var("a", 1)
	c, err := bytecode.EncodeCData(bytecode.EncodingF32, []float32{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	table := tree.CData("table", c)
	tree.Add(Assign(a, tree.Call("size", Ref(table))))

	code := compileCode(t, tree, DefaultOptions())
	want := append([]byte{op(bytecode.OpJump), 16}, c.Bytes()...)
	want = append(want,
		op(bytecode.OpAssignF), id(0), op(bytecode.OpEx), byte(bytecode.ExSize),
		op(bytecode.OpCDataRef), 0, 23,
	)
	if !bytes.Equal(code, want) {
		t.Errorf("code = % X, want % X", code, want)
	}

	block, err := bytecode.CDataAt(code, 25-23)
	if err != nil {
		t.Fatalf("CDataAt: %v", err)
	}
	if block.Len() != 3 || block.At(2) != 3 {
		t.Errorf("block = %d elements, last %v", block.Len(), block.At(2))
	}
}

func TestCompileDropsUnreferencedCData(t *testing.T) {
	tree := NewTree()
	a := tree.Var("a", 1)
	c, _ := bytecode.EncodeCData(bytecode.EncodingU8FP, []float32{0.5})
	tree.CData("unused", c)
	tree.Add(Assign(a, tree.Value(1)))

	pkg, diag, err := Compile(tree, DefaultOptions())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(pkg.Code) != 2 {
		t.Errorf("code = % X, want no cdata header", pkg.Code)
	}
	if len(diag.Warnings()) != 1 {
		t.Errorf("warnings = %v, want 1", diag.Warnings())
	}
}

func TestCompileSegments(t *testing.T) {
	tree := NewTree()
	a, b := tree.Var("a", 1), tree.Var("b", 1)
	tree.Add(
		Segment(Assign(a, tree.Value(1))),
		Segment(Assign(b, tree.Value(2)), Yield()),
	)
	pkg, _, err := Compile(tree, DefaultOptions())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(pkg.Segments) != 2 || pkg.Segments[0] != 0 || pkg.Segments[1] != 2 {
		t.Errorf("Segments = %v, want [0 2]", pkg.Segments)
	}
}

func TestCompileParallelMatchesSequential(t *testing.T) {
	build := func() *Tree {
		tree := NewTree()
		a, b, c := tree.Var("a", 1), tree.Var("b", 1), tree.Var("c", 4)
		tree.Add(
			Assign(a, tree.Value(0.75)),
			Assign(b, tree.Value(0.3), Op(TokenMultiply), Ref(a)),
			While(Cond(Ref(a), Op(TokenSmaller), tree.Value(10)),
				Assign(a, Ref(a), Op(TokenAdd), tree.Value(0.3)),
				If(Cond(Ref(b)), []*Node{Assign(c, Ref(b))}, []*Node{Yield()}),
			),
			Segment(Assign(b, tree.Value(0.3)), Assign(c, tree.Call("max", Ref(c), Ref(c)))),
		)
		return tree
	}

	seq := compileCode(t, build(), DefaultOptions())

	opts := DefaultOptions()
	opts.ParallelCompile = true
	opts.ParallelResolve = true
	opts.VerifyResolve = true
	opts.Workers = 4
	par := compileCode(t, build(), opts)

	if !bytes.Equal(seq, par) {
		t.Errorf("parallel code differs:\n% X\n% X", seq, par)
	}
}

func TestCompileParallelCollectsDiagnostics(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		tree := NewTree()
		a, b := tree.Var("a", 1), tree.Var("b", 1)
		tree.Add(
			Assign(a, tree.Call("nosuch", Ref(b))),
			Assign(b, tree.Value(1)),
			Assign(b, tree.Call("missing", Ref(a))),
		)
		opts := DefaultOptions()
		opts.ParallelCompile = parallel
		opts.Workers = 2

		_, diag, err := Compile(tree, opts)
		if err == nil {
			t.Fatalf("parallel %t: Compile succeeded", parallel)
		}
		if !diag.Has(MissingFunction) {
			t.Errorf("parallel %t: diagnostics = %v, want %s", parallel, err, MissingFunction)
		}
		for _, name := range []string{"nosuch", "missing"} {
			if !strings.Contains(err.Error(), name) {
				t.Errorf("parallel %t: error %q does not name %s", parallel, err, name)
			}
		}
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name  string
		mode  bytecode.PackageMode
		build func(tree *Tree)
		code  ErrorCode
	}{
		{"parameter count", bytecode.ModeSSMD, func(tree *Tree) {
			a := tree.Var("a", 1)
			tree.Add(Assign(a, tree.Call("abs", Ref(a), Ref(a))))
		}, ParameterCount},
		{"missing function", bytecode.ModeSSMD, func(tree *Tree) {
			a := tree.Var("a", 1)
			tree.Add(Assign(a, tree.Call("nope", Ref(a))))
		}, MissingFunction},
		{"nested parameter", bytecode.ModeSSMD, func(tree *Tree) {
			a := tree.Var("a", 1)
			tree.Add(Assign(a, tree.Call("abs", tree.Call("abs", Ref(a)))))
		}, NestedParameter},
		{"vector size", bytecode.ModeSSMD, func(tree *Tree) {
			v := tree.Var("v", 3)
			tree.Add(Assign(v, tree.Value(1), tree.Value(2)))
		}, VectorSizeMismatch},
		{"variadic width", bytecode.ModeSSMD, func(tree *Tree) {
			a, v := tree.Var("a", 1), tree.Var("v", 3)
			tree.Add(Assign(a, tree.Call("max", Ref(a), Ref(v))))
		}, VectorSizeMismatch},
		{"variadic type", bytecode.ModeSSMD, func(tree *Tree) {
			a, f := tree.Var("a", 1), tree.Bool32("f")
			tree.Add(Assign(a, tree.Call("min", Ref(a), Ref(f))))
		}, DataTypeMismatch},
		{"constant target", bytecode.ModeSSMD, func(tree *Tree) {
			tree.Add(Assign(tree.Const(2), tree.Value(1)))
		}, InvalidTarget},
		{"component target", bytecode.ModeSSMD, func(tree *Tree) {
			v := tree.Var("v", 2)
			tree.Add(AssignComponent(v, 3, tree.Value(1)))
		}, InvalidTarget},
		{"indexer in normal mode", bytecode.ModeNormal, func(tree *Tree) {
			a, v := tree.Var("a", 1), tree.Var("v", 2)
			tree.Add(Assign(a, Component(v, 1), Op(TokenAdd), tree.Value(1)))
		}, IndexerNotSupported},
		{"data overflow", bytecode.ModeSSMD, func(tree *Tree) {
			for i := 0; i < 33; i++ {
				tree.Var("v", 4)
			}
		}, DataSegmentOverflow},
		{"dangling operation", bytecode.ModeSSMD, func(tree *Tree) {
			a := tree.Var("a", 1)
			tree.Add(Assign(a, Ref(a), Op(TokenAdd)))
		}, UnsupportedNode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := NewTree()
			tt.build(tree)
			opts := DefaultOptions()
			opts.Mode = tt.mode
			_, diag, err := Compile(tree, opts)
			if err == nil {
				t.Fatalf("Compile succeeded, want %s", tt.code)
			}
			if !diag.Has(tt.code) {
				t.Errorf("diagnostics = %v, want %s", err, tt.code)
			}
		})
	}
}

func TestCompilePromotesWrappedParameters(t *testing.T) {
	tree := NewTree()
	a, b := tree.Var("a", 1), tree.Var("b", 1)
	call := tree.Call("max", Compound(Ref(a), Ref(b)))
	tree.Add(Assign(a, call))

	pkg, diag, err := Compile(tree, DefaultOptions())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	want := []byte{op(bytecode.OpAssignF), id(0), op(bytecode.OpMax), 2, id(0), id(1)}
	if !bytes.Equal(pkg.Code, want) {
		t.Errorf("code = % X, want % X", pkg.Code, want)
	}
	if len(diag.Warnings()) != 1 {
		t.Errorf("warnings = %d, want 1", len(diag.Warnings()))
	}
	if len(call.Children) != 1 {
		t.Errorf("tree was modified: %d children", len(call.Children))
	}
}

func TestCompileNoTree(t *testing.T) {
	if _, _, err := Compile(nil, DefaultOptions()); err != ErrNoTree {
		t.Errorf("err = %v, want ErrNoTree", err)
	}
}
