package bytecode

import "testing"

func TestFunctionTableLookups(t *testing.T) {
	ft := NewFunctionTable()

	f, ok := ft.ByName("sqrt")
	if !ok {
		t.Fatal("sqrt not found")
	}
	if f.Op != OpSqrt || f.MinParams != 1 || f.MaxParams != 1 {
		t.Errorf("sqrt = %+v", f)
	}

	byID, ok := ft.ByID(f.ID)
	if !ok || byID != f {
		t.Errorf("ByID(%d) = %v, want sqrt", f.ID, byID)
	}

	byOp, ok := ft.ByOp(OpEx, ExAtan2)
	if !ok || byOp.Name != "atan2" {
		t.Errorf("ByOp(ex_op, atan2) = %v", byOp)
	}

	// The table is sorted by name, so indices and ids differ.
	differs := false
	for i := 0; i < ft.Len(); i++ {
		e, _ := ft.ByIndex(i)
		if e.ID != i {
			differs = true
		}
		if i > 0 {
			prev, _ := ft.ByIndex(i - 1)
			if prev.Name > e.Name {
				t.Errorf("table not sorted at %d: %s > %s", i, prev.Name, e.Name)
			}
		}
	}
	if !differs {
		t.Error("indices and ids coincide")
	}
	if _, ok := ft.ByIndex(ft.Len()); ok {
		t.Error("ByIndex past the end should fail")
	}
}

func TestFunctionArity(t *testing.T) {
	ft := NewFunctionTable()
	tests := []struct {
		name string
		n    int
		ok   bool
	}{
		{"abs", 1, true},
		{"abs", 2, false},
		{"min", 2, true},
		{"min", 1, false},
		{"max", MaxVariadicParams, true},
		{"random", 0, true},
		{"random", 3, false},
		{"fma", 3, true},
	}
	for _, tt := range tests {
		f, _ := ft.ByName(tt.name)
		err := f.CheckArity(tt.n)
		if (err == nil) != tt.ok {
			t.Errorf("%s.CheckArity(%d) = %v, want ok=%v", tt.name, tt.n, err, tt.ok)
		}
	}
}

func TestFunctionResultSize(t *testing.T) {
	ft := NewFunctionTable()
	for _, tt := range []struct {
		name  string
		input int
		want  int
	}{
		{"abs", 3, 3},
		{"csum", 4, 1},
		{"dot", 3, 1},
		{"cross", 3, 3},
	} {
		f, _ := ft.ByName(tt.name)
		if got := f.ResultSize(tt.input); got != tt.want {
			t.Errorf("%s.ResultSize(%d) = %d, want %d", tt.name, tt.input, got, tt.want)
		}
	}
}

func TestRegisterExternal(t *testing.T) {
	ft := NewFunctionTable()
	clone := ft.Clone()

	f, err := ft.RegisterExternal("twice", 1, 1, func(args []float32) float32 { return 2 * args[0] })
	if err != nil {
		t.Fatalf("RegisterExternal error: %v", err)
	}
	if f.ID != ExternalIDBase || !f.IsExternal() || f.ExtendedOp != ExCall {
		t.Errorf("external = %+v", f)
	}
	if got := f.Extern([]float32{4}); got != 8 {
		t.Errorf("twice(4) = %g, want 8", got)
	}

	second, _ := ft.RegisterExternal("sum", 1, 4, func(args []float32) float32 { return 0 })
	if second.ID != ExternalIDBase+1 || !second.VariableParams {
		t.Errorf("second external = %+v", second)
	}

	if _, err := ft.RegisterExternal("twice", 1, 1, f.Extern); err == nil {
		t.Error("duplicate registration should fail")
	}
	if _, err := ft.RegisterExternal("bad", 2, 1, f.Extern); err == nil {
		t.Error("inverted parameter range should fail")
	}
	if _, ok := clone.ByName("twice"); ok {
		t.Error("registration leaked into a clone")
	}
	if _, ok := ft.ByOp(OpEx, ExCall); ok {
		t.Error("ByOp must not return external functions")
	}
}
