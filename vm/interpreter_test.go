package vm

import (
	"errors"
	"math"
	"testing"

	"github.com/nijnstein/blast/compiler"
	"github.com/nijnstein/blast/pkg/bytecode"
)

func op(o bytecode.Opcode) byte { return byte(o) }

func id(offset int) byte { return byte(bytecode.ID(offset)) }

func compile(t testing.TB, tree *compiler.Tree, opts compiler.Options) *bytecode.Package {
	t.Helper()
	pkg, diag, err := compiler.Compile(tree, opts)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if diag.HasErrors() {
		t.Fatalf("diagnostics: %v", diag.Err())
	}
	return pkg
}

// assemble builds a package around hand written code. widths lists the
// variables of the data segment in order.
func assemble(mode bytecode.PackageMode, widths []int, code ...byte) *bytecode.Package {
	pkg := bytecode.NewPackage(mode)
	pkg.Code = code
	for _, w := range widths {
		for c := 0; c < w; c++ {
			pkg.Data = append(pkg.Data, 0)
			pkg.Metadata = append(pkg.Metadata, bytecode.EncodeMetadata(w, bytecode.Numeric))
		}
		pkg.DataSize += w
	}
	pkg.StackSize = 16
	return pkg
}

// scenario builds a = 1; b = a + 2; c = -b.
func scenario() *compiler.Tree {
	tree := compiler.NewTree()
	a, b, c := tree.Var("a", 1), tree.Var("b", 1), tree.Var("c", 1)
	tree.Add(
		compiler.Assign(a, tree.Value(1)),
		compiler.Assign(b, compiler.Ref(a), compiler.Op(compiler.TokenAdd), tree.Value(2)),
		compiler.Assign(c, compiler.Neg(compiler.Ref(b))),
	)
	return tree
}

func get(t *testing.T, pkg *bytecode.Package, rec []float32, name string) []float32 {
	t.Helper()
	v, err := pkg.Get(rec, name)
	if err != nil {
		t.Fatalf("Get(%s): %v", name, err)
	}
	return v
}

func same(a, b float32) bool {
	return math.Float32bits(a) == math.Float32bits(b) || (a != a && b != b)
}

func TestInterpreterScenario(t *testing.T) {
	for _, mode := range []bytecode.PackageMode{bytecode.ModeNormal, bytecode.ModeSSMD} {
		t.Run(mode.String(), func(t *testing.T) {
			opts := compiler.DefaultOptions()
			opts.Mode = mode
			pkg := compile(t, scenario(), opts)

			rec := pkg.NewRecord()
			status, err := NewInterpreter().Execute(NewContext(1), pkg, rec)
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if status != Done {
				t.Errorf("status = %s, want done", status)
			}
			for name, want := range map[string]float32{"a": 1, "b": 3, "c": -3} {
				if got := get(t, pkg, rec, name)[0]; got != want {
					t.Errorf("%s = %v, want %v", name, got, want)
				}
			}
		})
	}
}

func TestInterpreterYield(t *testing.T) {
	tree := compiler.NewTree()
	a, b := tree.Var("a", 1), tree.Var("b", 1)
	tree.Add(
		compiler.Assign(a, tree.Value(1)),
		compiler.Yield(),
		compiler.Assign(b, tree.Value(2)),
	)
	pkg := compile(t, tree, compiler.DefaultOptions())

	rec := pkg.NewRecord()
	status, err := NewInterpreter().Execute(NewContext(1), pkg, rec)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if status != Yield {
		t.Errorf("status = %s, want yield", status)
	}
	if got := get(t, pkg, rec, "a")[0]; got != 1 {
		t.Errorf("a = %v, want 1", got)
	}
	if got := get(t, pkg, rec, "b")[0]; got != 0 {
		t.Errorf("b = %v, want 0", got)
	}
}

func TestConstantSlotsRefreshed(t *testing.T) {
	tree := compiler.NewTree()
	a, b := tree.Var("a", 1), tree.Var("b", 1)
	tree.Add(
		compiler.Assign(a, tree.Value(3.5)),
		compiler.Assign(b, compiler.Ref(a), compiler.Op(compiler.TokenAdd), tree.Value(0.375)),
	)
	opts := compiler.DefaultOptions()
	opts.InlineConstantData = false
	pkg := compile(t, tree, opts)

	// A zeroed record has no constants until the run fills them in.
	rec := make([]float32, pkg.DataSize)
	if _, err := NewInterpreter().Execute(NewContext(1), pkg, rec); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := get(t, pkg, rec, "b")[0]; got != 3.875 {
		t.Errorf("b = %v, want 3.875", got)
	}
}

func TestPooledConstants(t *testing.T) {
	third := float32(0.3)
	for _, mode := range []bytecode.PackageMode{bytecode.ModeNormal, bytecode.ModeSSMD} {
		t.Run(mode.String(), func(t *testing.T) {
			tree := compiler.NewTree()
			a, b, c := tree.Var("a", 1), tree.Var("b", 1), tree.Var("c", 1)
			tree.Add(
				compiler.Assign(a, tree.Value(0.3)),
				compiler.Assign(b, tree.Value(0.3)),
				compiler.Assign(c, compiler.Ref(a), compiler.Op(compiler.TokenAdd), tree.Value(0.3)),
			)
			opts := compiler.DefaultOptions()
			opts.Mode = mode
			pkg := compile(t, tree, opts)

			rec := pkg.NewRecord()
			if _, err := NewInterpreter().Execute(NewContext(1), pkg, rec); err != nil {
				t.Fatalf("Execute: %v", err)
			}
			for name, want := range map[string]float32{"a": third, "b": third, "c": third + third} {
				if got := get(t, pkg, rec, name)[0]; got != want {
					t.Errorf("%s = %v, want %v", name, got, want)
				}
			}
		})
	}
}

func TestInterpreterWidthGap(t *testing.T) {
	// x has width 2, y width 3: no handler exists, the result is NaN.
	pkg := assemble(bytecode.ModeSSMD, []int{2, 3, 2},
		op(bytecode.OpAssign), id(5), id(0), op(bytecode.OpAdd), id(2), op(bytecode.OpNop))

	rec := []float32{1, 2, 3, 4, 5, 9, 9}
	if _, err := NewInterpreter().Execute(NewContext(1), pkg, rec); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for c := 5; c < 7; c++ {
		if !math.IsNaN(float64(rec[c])) {
			t.Errorf("r[%d] = %v, want NaN", c-5, rec[c])
		}
	}

	batch := [][]float32{{1, 2, 3, 4, 5, 9, 9}, {0, 0, 0, 0, 0, 9, 9}}
	if _, err := NewBatchInterpreter().Execute(NewContext(1), pkg, batch); err != nil {
		t.Fatalf("batch Execute: %v", err)
	}
	for k, row := range batch {
		if !math.IsNaN(float64(row[5])) || !math.IsNaN(float64(row[6])) {
			t.Errorf("record %d: r = %v, want NaN", k, row[5:])
		}
	}
}

func TestInterpreterStack(t *testing.T) {
	// push x; push 2; b = pop * pop; pop into nothing fails.
	pkg := assemble(bytecode.ModeSSMD, []int{2, 2},
		op(bytecode.OpPush), id(0),
		op(bytecode.OpPush), op(bytecode.OpValue2),
		op(bytecode.OpAssign), id(2), op(bytecode.OpPop), op(bytecode.OpMultiply), op(bytecode.OpPop), op(bytecode.OpNop),
	)
	rec := []float32{3, 4, 0, 0}
	if _, err := NewInterpreter().Execute(NewContext(1), pkg, rec); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if rec[2] != 6 || rec[3] != 8 {
		t.Errorf("b = %v, want [6 8]", rec[2:])
	}
}

func TestExecuteErrors(t *testing.T) {
	scen := compile(t, scenario(), compiler.DefaultOptions())
	normal := compile(t, scenario(), compiler.Options{Mode: bytecode.ModeNormal, InlineConstantData: true})
	tiny := assemble(bytecode.ModeSSMD, []int{2}, op(bytecode.OpPush), id(0))
	tiny.StackSize = 1

	tests := []struct {
		name   string
		ctx    *Context
		pkg    *bytecode.Package
		rec    []float32
		want   error
		scalar bool
	}{
		{"nil package", NewContext(1), nil, make([]float32, 3), ErrPackageNotAllocated, true},
		{"no code", NewContext(1), &bytecode.Package{Mode: bytecode.ModeSSMD}, nil, ErrPackageNotAllocated, true},
		{"nil context", nil, scen, make([]float32, 3), ErrNotInitialized, true},
		{"zero context", &Context{}, scen, make([]float32, 3), ErrNotInitialized, true},
		{"short record", NewContext(1), scen, make([]float32, 2), ErrDataSegment, true},
		{"normal package in batch", NewContext(1), normal, make([]float32, 3), ErrUnsupportedMode, false},
		{"stack overflow", NewContext(1), tiny, make([]float32, 2), ErrStackOverflow, true},
		{"stack underflow", NewContext(1), assemble(bytecode.ModeSSMD, []int{1}, op(bytecode.OpPop)), make([]float32, 1), ErrStackUnderflow, true},
		{"stray begin", NewContext(1), assemble(bytecode.ModeSSMD, []int{1}, op(bytecode.OpBegin)), make([]float32, 1), ErrInvalidOpcode, true},
		{"truncated", NewContext(1), assemble(bytecode.ModeSSMD, []int{1}, op(bytecode.OpAssign)), make([]float32, 1), ErrInvalidOpcode, true},
		{"unknown mode", NewContext(1), assemble(bytecode.PackageMode(7), []int{1}, op(bytecode.OpNop)), make([]float32, 1), ErrUnsupportedMode, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.scalar {
				_, err := NewInterpreter().Execute(tt.ctx, tt.pkg, append([]float32(nil), tt.rec...))
				if !errors.Is(err, tt.want) {
					t.Errorf("Execute error = %v, want %v", err, tt.want)
				}
			}
			_, err := NewBatchInterpreter().Execute(tt.ctx, tt.pkg, [][]float32{append([]float32(nil), tt.rec...)})
			if !errors.Is(err, tt.want) {
				t.Errorf("batch Execute error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestExecErrorPosition(t *testing.T) {
	pkg := assemble(bytecode.ModeSSMD, []int{1}, op(bytecode.OpNop), op(bytecode.OpPop))
	_, err := NewInterpreter().Execute(NewContext(1), pkg, make([]float32, 1))
	var ee *ExecError
	if !errors.As(err, &ee) {
		t.Fatalf("error = %v, want *ExecError", err)
	}
	if ee.Op != bytecode.OpPop {
		t.Errorf("Op = %s, want pop", ee.Op)
	}
}

func TestContextValues(t *testing.T) {
	ctx := NewContext(1)
	if err := ctx.SetValue(bytecode.OpValue2, 7); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	if err := ctx.SetValue(bytecode.OpAdd, 1); err == nil {
		t.Errorf("SetValue(add) succeeded, want an error")
	}
	if got := ctx.Value(bytecode.OpValue2); got != 7 {
		t.Errorf("Value(value_2) = %v, want 7", got)
	}

	pkg := compile(t, scenario(), compiler.DefaultOptions())
	rec := pkg.NewRecord()
	if _, err := NewInterpreter().Execute(ctx, pkg, rec); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := get(t, pkg, rec, "b")[0]; got != 8 {
		t.Errorf("b = %v, want 8", got)
	}

	batch := [][]float32{pkg.NewRecord()}
	if _, err := NewBatchInterpreter().Execute(ctx, pkg, batch); err != nil {
		t.Fatalf("batch Execute: %v", err)
	}
	if got := get(t, pkg, batch[0], "b")[0]; got != 8 {
		t.Errorf("batch b = %v, want 8", got)
	}
}

func TestContextFork(t *testing.T) {
	base := NewContext(3)
	base.Time = 2.5
	f := base.Fork(9)
	if f.Seed() != 9 || base.Seed() != 3 {
		t.Errorf("seeds = %d, %d, want 9, 3", f.Seed(), base.Seed())
	}
	if f.Time != 2.5 {
		t.Errorf("fork Time = %v, want 2.5", f.Time)
	}
	ref := NewContext(9)
	for i := 0; i < 8; i++ {
		if a, b := f.rng.Float32(), ref.rng.Float32(); a != b {
			t.Fatalf("draw %d: fork %v, fresh %v", i, a, b)
		}
	}
}

func TestFunctions(t *testing.T) {
	tree := compiler.NewTree()
	a, b := tree.Var("a", 3), tree.Var("b", 3)
	cr, d, l := tree.Var("cr", 3), tree.Var("d", 1), tree.Var("l", 1)
	m := tree.Var("m", 1)
	tree.Add(
		compiler.Assign(cr, tree.Call("cross", compiler.Ref(a), compiler.Ref(b))),
		compiler.Assign(d, tree.Call("dot", compiler.Ref(a), compiler.Ref(b))),
		compiler.Assign(l, tree.Call("length", compiler.Ref(b))),
		compiler.Assign(m, tree.Call("max", tree.Value(4), compiler.Ref(d), tree.Value(-1))),
	)
	pkg := compile(t, tree, compiler.DefaultOptions())

	rec := pkg.NewRecord()
	if err := pkg.Set(rec, "a", 1, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := pkg.Set(rec, "b", 0, 3, 4); err != nil {
		t.Fatal(err)
	}
	batch := [][]float32{append([]float32(nil), rec...)}

	if _, err := NewInterpreter().Execute(NewContext(1), pkg, rec); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, err := NewBatchInterpreter().Execute(NewContext(1), pkg, batch); err != nil {
		t.Fatalf("batch Execute: %v", err)
	}

	want := map[string][]float32{
		"cr": {0, -4, 3},
		"d":  {0},
		"l":  {5},
		"m":  {4},
	}
	for name, w := range want {
		for _, r := range [][]float32{rec, batch[0]} {
			got := get(t, pkg, r, name)
			for c := range w {
				if got[c] != w[c] {
					t.Errorf("%s = %v, want %v", name, got, w)
					break
				}
			}
		}
	}
}

func TestBitFunctions(t *testing.T) {
	bits := func(b uint32) value { return fromBits(b) }
	tests := []struct {
		name string
		ex   bytecode.ExtendedOpcode
		args []value
		want uint32
		num  float32 // numeric result when the function returns a count
		isN  bool
	}{
		{"set_bit", bytecode.ExSetBit, []value{bits(0), scalar(3), scalar(1)}, 8, 0, false},
		{"clear_bit", bytecode.ExSetBit, []value{bits(0xF), scalar(0), scalar(0)}, 0xE, 0, false},
		{"get_bit", bytecode.ExGetBit, []value{bits(8), scalar(3)}, 0, 1, true},
		{"set_bits", bytecode.ExSetBits, []value{bits(1), bits(6), scalar(1)}, 7, 0, false},
		{"get_bits", bytecode.ExGetBits, []value{bits(0xFF), bits(0x0F)}, 0x0F, 0, false},
		{"count_bits", bytecode.ExCountBits, []value{bits(0xF0F0)}, 0, 8, true},
		{"lzcnt", bytecode.ExLzcnt, []value{bits(1)}, 0, 31, true},
		{"tzcnt", bytecode.ExTzcnt, []value{bits(8)}, 0, 3, true},
		{"reverse", bytecode.ExReverseBits, []value{bits(1)}, 0x80000000, 0, false},
		{"rol", bytecode.ExRol, []value{bits(0x80000001), scalar(1)}, 3, 0, false},
		{"ror", bytecode.ExRor, []value{bits(3), scalar(1)}, 0x80000001, 0, false},
		{"shl", bytecode.ExShl, []value{bits(1), scalar(4)}, 16, 0, false},
		{"shr", bytecode.ExShr, []value{bits(16), scalar(4)}, 1, 0, false},
		{"numeric source", bytecode.ExShl, []value{scalar(3), scalar(1)}, 6, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := bitFunction(tt.ex, tt.args)
			if !ok {
				t.Fatalf("bitFunction(%s) not handled", tt.ex)
			}
			if tt.isN {
				if v.t != bytecode.Numeric || v.c[0] != tt.num {
					t.Errorf("result = %v, want %v", v, tt.num)
				}
				return
			}
			if v.t != bytecode.Bool32 {
				t.Errorf("type = %s, want bool32", v.t)
			}
			if got := math.Float32bits(v.c[0]); got != tt.want {
				t.Errorf("bits = %08x, want %08x", got, tt.want)
			}
		})
	}
}

func TestBinaryValue(t *testing.T) {
	vec := func(cs ...float32) value {
		v := value{n: len(cs)}
		copy(v.c[:], cs)
		return v
	}
	tests := []struct {
		name string
		op   bytecode.Opcode
		l, r value
		want value
		ok   bool
	}{
		{"11", bytecode.OpAdd, scalar(1), scalar(2), scalar(3), true},
		{"NN", bytecode.OpMultiply, vec(1, 2, 3), vec(2, 2, 2), vec(2, 4, 6), true},
		{"N1", bytecode.OpSubstract, vec(5, 6), scalar(1), vec(4, 5), true},
		{"1N", bytecode.OpDivide, scalar(12), vec(3, 4, 6, 12), vec(4, 3, 2, 1), true},
		{"compare", bytecode.OpGreater, vec(1, 5), vec(3, 3), vec(0, 1), true},
		{"logical reduces", bytecode.OpAnd, vec(0, 2), scalar(1), scalar(1), true},
		{"xor", bytecode.OpXor, scalar(1), scalar(1), scalar(0), true},
		{"gap", bytecode.OpAdd, vec(1, 2), vec(1, 2, 3), nanValue(2), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := binaryValue(tt.op, tt.l, tt.r)
			if ok != tt.ok {
				t.Errorf("ok = %v, want %v", ok, tt.ok)
			}
			if got.n != tt.want.n {
				t.Fatalf("width = %d, want %d", got.n, tt.want.n)
			}
			for c := 0; c < got.n; c++ {
				if !same(got.c[c], tt.want.c[c]) {
					t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
					break
				}
			}
		})
	}
}

func TestFit(t *testing.T) {
	tests := []struct {
		name string
		v    value
		w    int
		want []float32
	}{
		{"broadcast", scalar(2), 3, []float32{2, 2, 2}},
		{"cut", value{c: [4]float32{1, 2, 3, 4}, n: 4}, 2, []float32{1, 2}},
		{"pad", value{c: [4]float32{1, 2}, n: 2}, 4, []float32{1, 2, nan, nan}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fit(tt.v, tt.w)
			if got.n != tt.w {
				t.Fatalf("width = %d, want %d", got.n, tt.w)
			}
			for c, w := range tt.want {
				if !same(got.c[c], w) {
					t.Errorf("fit = %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}
