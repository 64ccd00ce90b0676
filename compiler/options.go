package compiler

import (
	"fmt"

	"github.com/nijnstein/blast/pkg/bytecode"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("blast.compiler")

// DefaultStackSize is the stack depth, in floats, reserved per record.
const DefaultStackSize = 16

// Options control compilation.
type Options struct {
	// Mode selects the package format.
	Mode bytecode.PackageMode

	// InlineConstantData encodes constants in the code stream and pools
	// repeated ones as back references. Without it constants get data slots.
	InlineConstantData bool

	// ParallelCompile compiles sibling top-level statements concurrently.
	ParallelCompile bool

	// ParallelResolve resolves independent code segments concurrently.
	ParallelResolve bool

	// VerifyResolve cross-checks the iterative resolver against a
	// from-scratch layout and fails compilation on disagreement.
	VerifyResolve bool

	// StackSize is the number of floats of stack a record may use.
	StackSize int

	// Workers bounds the goroutines of parallel compilation; 0 means GOMAXPROCS.
	Workers int
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		Mode:               bytecode.ModeSSMD,
		InlineConstantData: true,
		StackSize:          DefaultStackSize,
	}
}

func (o Options) validate() error {
	if o.Mode != bytecode.ModeNormal && o.Mode != bytecode.ModeSSMD {
		return fmt.Errorf("compiler: unknown mode %d", o.Mode)
	}
	if o.StackSize < 0 {
		return fmt.Errorf("compiler: negative stack size %d", o.StackSize)
	}
	return nil
}
