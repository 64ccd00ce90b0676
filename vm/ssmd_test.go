package vm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/nijnstein/blast/compiler"
	"github.com/nijnstein/blast/pkg/bytecode"
)

// runBoth runs pkg over copies of records in both interpreters and fails
// when any record differs. It returns the batch results.
func runBoth(t *testing.T, pkg *bytecode.Package, records [][]float32) [][]float32 {
	t.Helper()
	scalar := make([][]float32, len(records))
	batch := make([][]float32, len(records))
	in := NewInterpreter()
	for k, r := range records {
		scalar[k] = append([]float32(nil), r...)
		batch[k] = append([]float32(nil), r...)
		if _, err := in.Execute(NewContext(1), pkg, scalar[k]); err != nil {
			t.Fatalf("record %d: Execute: %v", k, err)
		}
	}
	if _, err := NewBatchInterpreter().Execute(NewContext(1), pkg, batch); err != nil {
		t.Fatalf("batch Execute: %v", err)
	}
	for k := range records {
		for c := range scalar[k] {
			if !same(scalar[k][c], batch[k][c]) {
				t.Fatalf("record %d slot %d: scalar %v, batch %v", k, c, scalar[k], batch[k])
			}
		}
	}
	return batch
}

func TestBatchScenario(t *testing.T) {
	pkg := compile(t, scenario(), compiler.DefaultOptions())
	const n = 1000

	records := make([][]float32, n)
	for k := range records {
		records[k] = pkg.NewRecord()
	}
	status, err := NewBatchInterpreter().Execute(NewContext(1), pkg, records)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if status != Done {
		t.Errorf("status = %s, want done", status)
	}

	flat := make([]float32, n*pkg.DataSize)
	if _, err := NewBatchInterpreter().ExecuteContiguous(NewContext(1), pkg, flat, pkg.DataSize); err != nil {
		t.Fatalf("ExecuteContiguous: %v", err)
	}

	for k := 0; k < n; k++ {
		rec := records[k]
		row := flat[k*pkg.DataSize : (k+1)*pkg.DataSize]
		for _, name := range []string{"a", "b", "c"} {
			want := map[string]float32{"a": 1, "b": 3, "c": -3}[name]
			if got := get(t, pkg, rec, name)[0]; got != want {
				t.Fatalf("record %d: %s = %v, want %v", k, name, got, want)
			}
			if got := get(t, pkg, row, name)[0]; got != want {
				t.Fatalf("contiguous record %d: %s = %v, want %v", k, name, got, want)
			}
		}
	}
}

func TestBatchContiguousStride(t *testing.T) {
	pkg := compile(t, scenario(), compiler.DefaultOptions())
	tests := []struct {
		name   string
		floats int
		stride int
	}{
		{"zero stride", 6, 0},
		{"stride below data size", 6, 2},
		{"ragged", 7, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBatchInterpreter().ExecuteContiguous(NewContext(1), pkg, make([]float32, tt.floats), tt.stride)
			if !errors.Is(err, ErrDataSegment) {
				t.Errorf("error = %v, want %v", err, ErrDataSegment)
			}
		})
	}

	// Padding between records is left alone.
	flat := make([]float32, 2*5)
	flat[3], flat[4] = 42, 43
	if _, err := NewBatchInterpreter().ExecuteContiguous(NewContext(1), pkg, flat, 5); err != nil {
		t.Fatalf("ExecuteContiguous: %v", err)
	}
	if flat[3] != 42 || flat[4] != 43 || flat[5+2] != -3 {
		t.Errorf("flat = %v", flat)
	}
}

func TestBatchNegationWidths(t *testing.T) {
	ops := []compiler.TokenType{
		compiler.TokenAdd, compiler.TokenSubstract, compiler.TokenMultiply, compiler.TokenDivide,
		compiler.TokenGreater, compiler.TokenSmaller, compiler.TokenEquals, compiler.TokenNotEquals,
	}
	kernels := map[compiler.TokenType]kernel{
		compiler.TokenAdd:       add,
		compiler.TokenSubstract: substract,
		compiler.TokenMultiply:  multiply,
		compiler.TokenDivide:    divide,
		compiler.TokenGreater:   greater,
		compiler.TokenSmaller:   smaller,
		compiler.TokenEquals:    equals,
		compiler.TokenNotEquals: notEquals,
	}
	for w := 1; w <= 4; w++ {
		for _, tok := range ops {
			for _, negRight := range []bool{false, true} {
				t.Run(fmt.Sprintf("w%d %s neg right %v", w, tok, negRight), func(t *testing.T) {
					tree := compiler.NewTree()
					x, y, r := tree.Var("x", w), tree.Var("y", w), tree.Var("r", w)
					right := compiler.Ref(y)
					if negRight {
						right = compiler.Neg(right)
					}
					tree.Add(compiler.Assign(r, compiler.Neg(compiler.Ref(x)), compiler.Op(tok), right))
					pkg := compile(t, tree, compiler.DefaultOptions())

					records := make([][]float32, 37)
					for k := range records {
						rec := pkg.NewRecord()
						xs, ys := get(t, pkg, rec, "x"), get(t, pkg, rec, "y")
						for c := 0; c < w; c++ {
							xs[c] = float32(k+c) + 1.5
							ys[c] = float32((k*3+c)%7) - 3.25
							if k%5 == 0 {
								ys[c] = -xs[c]
							}
						}
						records[k] = rec
					}
					out := runBoth(t, pkg, records)

					k := kernels[tok]
					for i, rec := range records {
						xs, ys := get(t, pkg, rec, "x"), get(t, pkg, rec, "y")
						rs := get(t, pkg, out[i], "r")
						for c := 0; c < w; c++ {
							yv := ys[c]
							if negRight {
								yv = -yv
							}
							if want := k(-xs[c], yv); !same(rs[c], want) {
								t.Fatalf("record %d: r[%d] = %v, want %v", i, c, rs[c], want)
							}
						}
					}
				})
			}
		}
	}
}

func TestBatchDivergence(t *testing.T) {
	tree := compiler.NewTree()
	i, n, flag := tree.Var("i", 1), tree.Var("n", 1), tree.Var("flag", 1)
	tree.Add(
		compiler.While(compiler.Cond(compiler.Ref(i), compiler.Op(compiler.TokenSmaller), compiler.Ref(n)),
			compiler.Assign(i, compiler.Ref(i), compiler.Op(compiler.TokenAdd), tree.Value(1)),
		),
		compiler.If(compiler.Cond(compiler.Ref(n), compiler.Op(compiler.TokenGreater), tree.Value(5)),
			[]*compiler.Node{compiler.Assign(flag, tree.Value(1))},
			[]*compiler.Node{compiler.Assign(flag, tree.Value(2))},
		),
	)
	pkg := compile(t, tree, compiler.DefaultOptions())

	records := make([][]float32, 100)
	for k := range records {
		records[k] = pkg.NewRecord()
		if err := pkg.Set(records[k], "n", float32(k%10)); err != nil {
			t.Fatal(err)
		}
	}
	out := runBoth(t, pkg, records)
	for k, rec := range out {
		nv := float32(k % 10)
		if got := get(t, pkg, rec, "i")[0]; got != nv {
			t.Errorf("record %d: i = %v, want %v", k, got, nv)
		}
		want := float32(2)
		if nv > 5 {
			want = 1
		}
		if got := get(t, pkg, rec, "flag")[0]; got != want {
			t.Errorf("record %d: flag = %v, want %v", k, got, want)
		}
	}
}

func TestBatchReconvergence(t *testing.T) {
	tree := compiler.NewTree()
	i, n, flag, d := tree.Var("i", 1), tree.Var("n", 1), tree.Var("flag", 1), tree.Var("d", 1)
	tree.Add(
		compiler.While(compiler.Cond(compiler.Ref(i), compiler.Op(compiler.TokenSmaller), compiler.Ref(n)),
			compiler.Assign(i, compiler.Ref(i), compiler.Op(compiler.TokenAdd), tree.Value(1)),
		),
		compiler.If(compiler.Cond(compiler.Ref(n), compiler.Op(compiler.TokenGreater), tree.Value(5)),
			[]*compiler.Node{compiler.Assign(flag, tree.Value(1))},
			[]*compiler.Node{compiler.Assign(flag, tree.Value(2))},
		),
		compiler.Assign(d, compiler.Ref(i), compiler.Op(compiler.TokenMultiply), compiler.Ref(flag)),
	)
	pkg := compile(t, tree, compiler.DefaultOptions())

	records := make([][]float32, 100)
	for k := range records {
		records[k] = pkg.NewRecord()
		if err := pkg.Set(records[k], "n", float32(k%10)); err != nil {
			t.Fatal(err)
		}
	}
	runBoth(t, pkg, records)

	x := NewBatchInterpreter()
	if _, err := x.Execute(NewContext(1), pkg, records); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	// The last statement ran once for all records.
	if x.g.n != len(records) {
		t.Errorf("final group = %d records, want %d", x.g.n, len(records))
	}
	if len(x.pending) != 0 {
		t.Errorf("pending groups = %d, want 0", len(x.pending))
	}
	for k, rec := range records {
		nv := float32(k % 10)
		want := nv * 2
		if nv > 5 {
			want = nv
		}
		if got := get(t, pkg, rec, "d")[0]; got != want {
			t.Errorf("record %d: d = %v, want %v", k, got, want)
		}
	}
}

func TestBatchReconvergenceContiguous(t *testing.T) {
	tree := compiler.NewTree()
	a, b := tree.Var("a", 1), tree.Var("b", 1)
	tree.Add(
		compiler.If(compiler.Cond(compiler.Ref(a), compiler.Op(compiler.TokenGreater), tree.Value(0)),
			[]*compiler.Node{compiler.Assign(b, tree.Value(1))},
			[]*compiler.Node{compiler.Assign(b, tree.Value(-1))},
		),
		compiler.Assign(b, compiler.Ref(b), compiler.Op(compiler.TokenMultiply), tree.Value(3)),
	)
	pkg := compile(t, tree, compiler.DefaultOptions())

	const n = 9
	flat := make([]float32, n*pkg.DataSize)
	for k := 0; k < n; k++ {
		if err := pkg.Set(flat[k*pkg.DataSize:(k+1)*pkg.DataSize], "a", float32(k%3-1)); err != nil {
			t.Fatal(err)
		}
	}
	x := NewBatchInterpreter()
	if _, err := x.ExecuteContiguous(NewContext(1), pkg, flat, pkg.DataSize); err != nil {
		t.Fatalf("ExecuteContiguous: %v", err)
	}
	if x.g.n != n {
		t.Errorf("final group = %d records, want %d", x.g.n, n)
	}
	for k := 0; k < n; k++ {
		want := float32(-3)
		if k%3-1 > 0 {
			want = 3
		}
		if got := get(t, pkg, flat[k*pkg.DataSize:(k+1)*pkg.DataSize], "b")[0]; got != want {
			t.Errorf("record %d: b = %v, want %v", k, got, want)
		}
	}
}

func TestBatchYieldAfterDivergence(t *testing.T) {
	tree := compiler.NewTree()
	n, a := tree.Var("n", 1), tree.Var("a", 1)
	tree.Add(
		compiler.If(compiler.Cond(compiler.Ref(n), compiler.Op(compiler.TokenGreater), tree.Value(0)),
			[]*compiler.Node{compiler.Yield()}, nil),
		compiler.Assign(a, tree.Value(1)),
	)
	pkg := compile(t, tree, compiler.DefaultOptions())

	records := [][]float32{pkg.NewRecord(), pkg.NewRecord()}
	if err := pkg.Set(records[1], "n", 1); err != nil {
		t.Fatal(err)
	}
	status, err := NewBatchInterpreter().Execute(NewContext(1), pkg, records)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if status != Yield {
		t.Errorf("status = %s, want yield", status)
	}
	if got := get(t, pkg, records[0], "a")[0]; got != 1 {
		t.Errorf("record 0: a = %v, want 1", got)
	}
	if got := get(t, pkg, records[1], "a")[0]; got != 0 {
		t.Errorf("record 1: a = %v, want 0", got)
	}
}

func TestBatchMatchesScalarForFunctions(t *testing.T) {
	tree := compiler.NewTree()
	v, s := tree.Var("v", 3), tree.Var("s", 1)
	r1, r2, r3 := tree.Var("r1", 3), tree.Var("r2", 1), tree.Var("r3", 3)
	tree.Add(
		compiler.Assign(r1, tree.Call("abs", compiler.Ref(v))),
		compiler.Assign(r2, tree.Call("csum", compiler.Ref(v)), compiler.Op(compiler.TokenMultiply), compiler.Ref(s)),
		compiler.Assign(r3, tree.Call("clamp", compiler.Ref(v), tree.Value(-1), compiler.Ref(s))),
		compiler.Assign(s, compiler.Neg(tree.Call("sqrt", compiler.Ref(s)))),
	)
	pkg := compile(t, tree, compiler.DefaultOptions())

	records := make([][]float32, 20)
	for k := range records {
		records[k] = pkg.NewRecord()
		if err := pkg.Set(records[k], "v", float32(k)-10, float32(k)*0.5, -2); err != nil {
			t.Fatal(err)
		}
		if err := pkg.Set(records[k], "s", float32(k)); err != nil {
			t.Fatal(err)
		}
	}
	runBoth(t, pkg, records)
}

func TestDataRecValidate(t *testing.T) {
	tests := []struct {
		name  string
		d     DataRec
		n, w  int
		valid bool
	}{
		{"rows", DataRec{Rows: [][]float32{make([]float32, 3), make([]float32, 3)}}, 2, 3, true},
		{"short row", DataRec{Rows: [][]float32{make([]float32, 3), make([]float32, 2)}}, 2, 3, false},
		{"missing row", DataRec{Rows: [][]float32{make([]float32, 3)}}, 2, 3, false},
		{"index past end", DataRec{Rows: [][]float32{make([]float32, 3)}, Index: 2}, 1, 2, false},
		{"aligned", DataRec{Rows: [][]float32{make([]float32, 8)}, Stride: 4, Aligned: true}, 2, 4, true},
		{"aligned short", DataRec{Rows: [][]float32{make([]float32, 7)}, Stride: 4, Aligned: true}, 2, 4, false},
		{"aligned two bases", DataRec{Rows: [][]float32{nil, nil}, Stride: 4, Aligned: true}, 1, 1, false},
		{"broadcast", DataRec{Rows: [][]float32{make([]float32, 2)}, Aligned: true}, 100, 2, true},
		{"negative index", DataRec{Rows: [][]float32{make([]float32, 2)}, Index: -1}, 1, 1, false},
		{"empty", DataRec{}, 0, 4, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.d.Validate(tt.n, tt.w)
			if (err == nil) != tt.valid {
				t.Errorf("Validate = %v, want valid %v", err, tt.valid)
			}
			if err != nil && !errors.Is(err, ErrDataSegment) {
				t.Errorf("error = %v, want %v", err, ErrDataSegment)
			}
		})
	}
}

func TestDataRecAccess(t *testing.T) {
	rows := DataRec{Rows: [][]float32{{1, 2, 3}, {4, 5, 6}}, Index: 1}
	aligned := DataRec{Rows: [][]float32{{1, 2, 3, 4, 5, 6}}, Stride: 3, Index: 1, Aligned: true}
	for _, d := range []*DataRec{&rows, &aligned} {
		if got := d.At(1, 1); got != 6 {
			t.Errorf("At(1, 1) = %v, want 6", got)
		}
		d.Set(0, 0, 9)
		if got := d.At(0, 0); got != 9 {
			t.Errorf("At(0, 0) after Set = %v, want 9", got)
		}
	}
}

func BenchmarkBatchScenario(b *testing.B) {
	pkg := compile(b, scenario(), compiler.DefaultOptions())
	flat := make([]float32, 1024*pkg.DataSize)
	x, ctx := NewBatchInterpreter(), NewContext(1)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := x.ExecuteContiguous(ctx, pkg, flat, pkg.DataSize); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkInterpreterScenario(b *testing.B) {
	pkg := compile(b, scenario(), compiler.DefaultOptions())
	rec := pkg.NewRecord()
	in, ctx := NewInterpreter(), NewContext(1)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for k := 0; k < 1024; k++ {
			if _, err := in.Execute(ctx, pkg, rec); err != nil {
				b.Fatal(err)
			}
		}
	}
}
