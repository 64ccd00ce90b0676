package bytecode

import (
	"fmt"
	"sort"
	"strings"
)

// DataType describes how the bits of a value are interpreted.
type DataType byte

const (
	Numeric DataType = iota // float32 components
	Bool32                  // 32-bit bit pattern stored in a float slot
	CDataType               // constant data block
)

func (t DataType) String() string {
	switch t {
	case Numeric:
		return "numeric"
	case Bool32:
		return "bool32"
	case CDataType:
		return "cdata"
	}
	return fmt.Sprintf("datatype(%d)", byte(t))
}

// ExternFunc is the callable behind an externally registered function.
// Parameters arrive as scalars; the result is a scalar.
type ExternFunc func(args []float32) float32

// Function describes one callable entry of the function table.
type Function struct {
	ID             int
	Name           string
	Op             Opcode         // OpEx for extended and external functions
	ExtendedOp     ExtendedOpcode // ExNop unless Op is OpEx
	MinParams      int
	MaxParams      int
	VariableParams bool // parameter count is encoded after the opcode
	OutputSize     int  // 0: matches the width of the first parameter
	OutputType     DataType
	Extern         ExternFunc
}

// IsExternal reports whether the function is called through ex_op call.
func (f *Function) IsExternal() bool {
	return f.Extern != nil
}

// CheckArity returns an error when n parameters are not accepted.
func (f *Function) CheckArity(n int) error {
	if n < f.MinParams || n > f.MaxParams {
		if f.MinParams == f.MaxParams {
			return fmt.Errorf("%s expects %d parameters, got %d", f.Name, f.MinParams, n)
		}
		return fmt.Errorf("%s expects %d to %d parameters, got %d", f.Name, f.MinParams, f.MaxParams, n)
	}
	return nil
}

// ResultSize returns the output width of a call whose first parameter has width inputSize.
func (f *Function) ResultSize(inputSize int) int {
	if f.OutputSize == 0 {
		return inputSize
	}
	return f.OutputSize
}

// ExternalIDBase is the first id handed out to external functions.
const ExternalIDBase = 1024

// MaxVariadicParams bounds the count byte of variadic calls.
const MaxVariadicParams = 63

func builtin(name string, o Opcode, min, max, out int) Function {
	return Function{Name: name, Op: o, MinParams: min, MaxParams: max, OutputSize: out}
}

func extended(name string, e ExtendedOpcode, min, max, out int) Function {
	return Function{Name: name, Op: OpEx, ExtendedOp: e, MinParams: min, MaxParams: max, OutputSize: out}
}

// builtins in id order; ids start at 1.
var builtins = []Function{
	builtin("abs", OpAbs, 1, 1, 0),
	builtin("trunc", OpTrunc, 1, 1, 0),
	builtin("sqrt", OpSqrt, 1, 1, 0),
	builtin("rsqrt", OpRSqrt, 1, 1, 0),
	builtin("sin", OpSin, 1, 1, 0),
	builtin("cos", OpCos, 1, 1, 0),
	builtin("tan", OpTan, 1, 1, 0),
	builtin("atan", OpAtan, 1, 1, 0),
	builtin("log2", OpLog2, 1, 1, 0),
	builtin("ln", OpLn, 1, 1, 0),
	builtin("exp", OpExp, 1, 1, 0),
	builtin("ceil", OpCeil, 1, 1, 0),
	builtin("floor", OpFloor, 1, 1, 0),
	builtin("frac", OpFrac, 1, 1, 0),
	builtin("normalize", OpNormalize, 1, 1, 0),
	builtin("saturate", OpSaturate, 1, 1, 0),
	{Name: "min", Op: OpMin, MinParams: 2, MaxParams: MaxVariadicParams, VariableParams: true},
	{Name: "max", Op: OpMax, MinParams: 2, MaxParams: MaxVariadicParams, VariableParams: true},
	builtin("mina", OpMinA, 1, 1, 1),
	builtin("maxa", OpMaxA, 1, 1, 1),
	builtin("csum", OpCSum, 1, 1, 1),
	builtin("fma", OpFma, 3, 3, 0),
	builtin("lerp", OpLerp, 3, 3, 0),
	builtin("clamp", OpClamp, 3, 3, 0),
	builtin("select", OpSelect, 3, 3, 0),
	builtin("pow", OpPow, 2, 2, 0),
	{Name: "random", Op: OpRandom, MinParams: 0, MaxParams: 2, VariableParams: true, OutputSize: 0},
	builtin("sign", OpSign, 1, 1, 0),

	extended("sinh", ExSinh, 1, 1, 0),
	extended("cosh", ExCosh, 1, 1, 0),
	extended("tanh", ExTanh, 1, 1, 0),
	extended("asin", ExAsin, 1, 1, 0),
	extended("acos", ExAcos, 1, 1, 0),
	extended("atan2", ExAtan2, 2, 2, 0),
	extended("log10", ExLog10, 1, 1, 0),
	extended("exp10", ExExp10, 1, 1, 0),
	extended("exp2", ExExp2, 1, 1, 0),
	extended("round", ExRound, 1, 1, 0),
	extended("fmod", ExFmod, 2, 2, 0),
	extended("degrees", ExDegrees, 1, 1, 0),
	extended("radians", ExRadians, 1, 1, 0),
	extended("length", ExLength, 1, 1, 1),
	extended("lengthsq", ExLengthSq, 1, 1, 1),
	extended("distance", ExDistance, 2, 2, 1),
	extended("distancesq", ExDistanceSq, 2, 2, 1),
	extended("dot", ExDot, 2, 2, 1),
	extended("cross", ExCross, 2, 2, 3),
	{Name: "reinterpret_bool32", Op: OpEx, ExtendedOp: ExReinterpretBool32, MinParams: 1, MaxParams: 1, OutputSize: 1, OutputType: Bool32},
	extended("reinterpret_f32", ExReinterpretF32, 1, 1, 1),
	{Name: "set_bit", Op: OpEx, ExtendedOp: ExSetBit, MinParams: 3, MaxParams: 3, OutputSize: 1, OutputType: Bool32},
	extended("get_bit", ExGetBit, 2, 2, 1),
	{Name: "set_bits", Op: OpEx, ExtendedOp: ExSetBits, MinParams: 3, MaxParams: 3, OutputSize: 1, OutputType: Bool32},
	{Name: "get_bits", Op: OpEx, ExtendedOp: ExGetBits, MinParams: 2, MaxParams: 2, OutputSize: 1, OutputType: Bool32},
	extended("count_bits", ExCountBits, 1, 1, 1),
	extended("lzcnt", ExLzcnt, 1, 1, 1),
	extended("tzcnt", ExTzcnt, 1, 1, 1),
	{Name: "reverse_bits", Op: OpEx, ExtendedOp: ExReverseBits, MinParams: 1, MaxParams: 1, OutputSize: 1, OutputType: Bool32},
	{Name: "rol", Op: OpEx, ExtendedOp: ExRol, MinParams: 2, MaxParams: 2, OutputSize: 1, OutputType: Bool32},
	{Name: "ror", Op: OpEx, ExtendedOp: ExRor, MinParams: 2, MaxParams: 2, OutputSize: 1, OutputType: Bool32},
	{Name: "shl", Op: OpEx, ExtendedOp: ExShl, MinParams: 2, MaxParams: 2, OutputSize: 1, OutputType: Bool32},
	{Name: "shr", Op: OpEx, ExtendedOp: ExShr, MinParams: 2, MaxParams: 2, OutputSize: 1, OutputType: Bool32},
	extended("size", ExSize, 1, 1, 1),
	extended("debug", ExDebug, 1, 1, 0),
	extended("debugstack", ExDebugStack, 0, 0, 1),
	extended("time", ExTime, 0, 0, 1),
	extended("deltatime", ExDeltaTime, 0, 0, 1),
	extended("fixeddeltatime", ExFixedDeltaTime, 0, 0, 1),
	extended("framecount", ExFrameCount, 0, 0, 1),
}

// FunctionTable holds the functions a package may call. Entries are kept
// sorted by name, so the index of an entry is not its id.
type FunctionTable struct {
	funcs  []*Function
	byID   map[int]*Function
	byName map[string]*Function
	nextID int
}

// NewFunctionTable returns a table holding the builtin functions.
func NewFunctionTable() *FunctionTable {
	t := &FunctionTable{
		byID:   make(map[int]*Function, len(builtins)),
		byName: make(map[string]*Function, len(builtins)),
		nextID: ExternalIDBase,
	}
	for i := range builtins {
		f := builtins[i]
		f.ID = i + 1
		t.add(&f)
	}
	return t
}

func (t *FunctionTable) add(f *Function) {
	t.funcs = append(t.funcs, f)
	sort.Slice(t.funcs, func(i, j int) bool { return t.funcs[i].Name < t.funcs[j].Name })
	t.byID[f.ID] = f
	t.byName[f.Name] = f
}

// Len returns the number of entries.
func (t *FunctionTable) Len() int {
	return len(t.funcs)
}

// ByIndex returns the entry at a linear index.
func (t *FunctionTable) ByIndex(i int) (*Function, bool) {
	if i < 0 || i >= len(t.funcs) {
		return nil, false
	}
	return t.funcs[i], true
}

// ByID returns the entry with a function id.
func (t *FunctionTable) ByID(id int) (*Function, bool) {
	f, ok := t.byID[id]
	return f, ok
}

// ByName returns the entry with a name, case-insensitively.
func (t *FunctionTable) ByName(name string) (*Function, bool) {
	if f, ok := t.byName[name]; ok {
		return f, true
	}
	f, ok := t.byName[strings.ToLower(name)]
	return f, ok
}

// ByOp returns the builtin entry for an opcode, or for ex_op and an extended opcode.
func (t *FunctionTable) ByOp(o Opcode, e ExtendedOpcode) (*Function, bool) {
	for _, f := range t.funcs {
		if f.Extern != nil {
			continue
		}
		if f.Op == o && (o != OpEx || f.ExtendedOp == e) {
			return f, true
		}
	}
	return nil, false
}

// RegisterExternal adds an external function and returns its entry.
func (t *FunctionTable) RegisterExternal(name string, minParams, maxParams int, fn ExternFunc) (*Function, error) {
	if fn == nil {
		return nil, fmt.Errorf("register %q: nil function", name)
	}
	if _, exists := t.byName[name]; exists {
		return nil, fmt.Errorf("register %q: name already in use", name)
	}
	if minParams < 0 || maxParams < minParams || maxParams > MaxVariadicParams {
		return nil, fmt.Errorf("register %q: invalid parameter range %d..%d", name, minParams, maxParams)
	}
	f := &Function{
		ID:             t.nextID,
		Name:           name,
		Op:             OpEx,
		ExtendedOp:     ExCall,
		MinParams:      minParams,
		MaxParams:      maxParams,
		VariableParams: minParams != maxParams,
		OutputSize:     1,
		Extern:         fn,
	}
	t.nextID++
	t.add(f)
	return f, nil
}

// Clone returns a copy whose registrations do not affect t.
func (t *FunctionTable) Clone() *FunctionTable {
	c := &FunctionTable{
		funcs:  append([]*Function(nil), t.funcs...),
		byID:   make(map[int]*Function, len(t.byID)),
		byName: make(map[string]*Function, len(t.byName)),
		nextID: t.nextID,
	}
	for k, v := range t.byID {
		c.byID[k] = v
	}
	for k, v := range t.byName {
		c.byName[k] = v
	}
	return c
}
