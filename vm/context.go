package vm

import (
	"fmt"
	"math/rand/v2"

	"github.com/nijnstein/blast/pkg/bytecode"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("blast.vm")

// Context is the state one worker runs packages with. A Context is not safe
// for concurrent use; give each goroutine its own through Fork.
type Context struct {
	// Functions resolves external function ids. Nil means the builtins only.
	Functions *bytecode.FunctionTable

	// Values read by the time, deltatime, fixeddeltatime and framecount ops.
	Time           float32
	DeltaTime      float32
	FixedDeltaTime float32
	FrameCount     int

	seed   uint64
	rng    *rand.Rand
	values [128]float32
}

// NewContext returns a context with the builtin function table and a random
// source seeded with seed.
func NewContext(seed uint64) *Context {
	return &Context{
		Functions: defaultFunctions,
		seed:      seed,
		rng:       newRand(seed),
		values:    bytecode.ValueTable(),
	}
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15))
}

// Fork returns a copy of c with its own random source. The function table
// is shared and must not be modified while forks run.
func (c *Context) Fork(seed uint64) *Context {
	f := *c
	f.seed = seed
	f.rng = newRand(seed)
	return &f
}

// Seed returns the seed of the random source.
func (c *Context) Seed() uint64 {
	return c.seed
}

// SetValue overrides what a named value opcode evaluates to in this context.
func (c *Context) SetValue(op bytecode.Opcode, v float32) error {
	if !op.IsNamedValue() {
		return fmt.Errorf("vm: %s is not a named value", op)
	}
	c.values[op] = v
	return nil
}

// Value returns what a named value opcode evaluates to in this context.
func (c *Context) Value(op bytecode.Opcode) float32 {
	if !op.IsNamedValue() {
		return 0
	}
	return c.values[op]
}

func (c *Context) overlay(e bytecode.ExtendedOpcode) float32 {
	switch e {
	case bytecode.ExTime:
		return c.Time
	case bytecode.ExDeltaTime:
		return c.DeltaTime
	case bytecode.ExFixedDeltaTime:
		return c.FixedDeltaTime
	case bytecode.ExFrameCount:
		return float32(c.FrameCount)
	}
	return 0
}

func (c *Context) functions() *bytecode.FunctionTable {
	if c.Functions == nil {
		return defaultFunctions
	}
	return c.Functions
}

// ---------------------------------------------------------------------------
// Function lookup
// ---------------------------------------------------------------------------

var defaultFunctions = bytecode.NewFunctionTable()

// Builtins by opcode and by extended opcode, so calls never search the table.
var (
	opFunctions [256]*bytecode.Function
	exFunctions [256]*bytecode.Function
)

func init() {
	for i := 0; i < defaultFunctions.Len(); i++ {
		f, _ := defaultFunctions.ByIndex(i)
		if f.Op == bytecode.OpEx {
			exFunctions[f.ExtendedOp] = f
		} else {
			opFunctions[f.Op] = f
		}
	}
}

// functionAt decodes the function called at pos: a builtin opcode, ex_op
// and an extended opcode, or ex_op call and an external id.
func (c *Context) functionAt(code []byte, pos int) (*bytecode.Function, int, error) {
	op := bytecode.Opcode(code[pos])
	if op != bytecode.OpEx {
		if f := opFunctions[op]; f != nil {
			return f, pos + 1, nil
		}
		return nil, pos, fmt.Errorf("%w: %s", ErrUnknownFunction, op)
	}
	ex := bytecode.ExtendedOpcode(code[pos+1])
	if ex != bytecode.ExCall {
		if f := exFunctions[ex]; f != nil {
			return f, pos + 2, nil
		}
		return nil, pos, fmt.Errorf("%w: %s", ErrUnknownFunction, ex)
	}
	id := u16(code, pos+2)
	f, err := c.external(id)
	return f, pos + 4, err
}

func (c *Context) external(id int) (*bytecode.Function, error) {
	f, ok := c.functions().ByID(id)
	if !ok || f.Extern == nil {
		return nil, fmt.Errorf("%w: external %d is not registered", ErrUnknownFunction, id)
	}
	return f, nil
}

// ---------------------------------------------------------------------------
// Data segment
// ---------------------------------------------------------------------------

// constantSlots returns the data offsets holding constants. Their values are
// written into every record before a run, so records only need to carry
// variables.
func constantSlots(pkg *bytecode.Package) []int {
	var slots []int
	for _, v := range pkg.Variables {
		if !v.IsConstant || v.Offset < 0 {
			continue
		}
		for i := 0; i < v.VectorSize; i++ {
			slots = append(slots, v.Offset+i)
		}
	}
	return slots
}
