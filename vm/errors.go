package vm

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/nijnstein/blast/pkg/bytecode"
)

// Status is the outcome of a run that did not fail.
type Status int

const (
	// Done means the code ran to ret or to the end of the stream.
	Done Status = iota

	// Yield means the script asked to be suspended. Resuming is up to the caller.
	Yield
)

func (s Status) String() string {
	switch s {
	case Done:
		return "done"
	case Yield:
		return "yield"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

var (
	// ErrPackageNotAllocated is returned for a nil package or one without code.
	ErrPackageNotAllocated = bytecode.ErrPackageNotAllocated

	ErrNotInitialized  = errors.New("vm: context not initialized")
	ErrUnsupportedMode = errors.New("vm: unsupported package mode")
	ErrDataSegment     = errors.New("vm: record does not hold the data segment")
	ErrStackOverflow   = errors.New("vm: stack overflow")
	ErrStackUnderflow  = errors.New("vm: stack underflow")
	ErrInvalidOpcode   = errors.New("vm: invalid opcode")
	ErrUnknownFunction = errors.New("vm: unknown function")
)

// ExecError is a runtime failure at a code position.
type ExecError struct {
	Pos int
	Op  bytecode.Opcode
	Err error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("at %d (%s): %v", e.Pos, e.Op, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// fault carries an error out of the interpreter loops. Execute recovers it.
type fault struct {
	err error
}

func raise(code []byte, pos int, err error) {
	var op bytecode.Opcode
	if pos >= 0 && pos < len(code) {
		op = bytecode.Opcode(code[pos])
	}
	panic(fault{&ExecError{Pos: pos, Op: op, Err: err}})
}

// recovered turns a recovered panic into an error. Reads past the end of a
// truncated stream surface as runtime errors and are reported as invalid
// code; anything else is not ours and keeps unwinding.
func recovered(r any, code []byte, pos int) error {
	switch e := r.(type) {
	case fault:
		return e.err
	case runtime.Error:
		var op bytecode.Opcode
		if pos >= 0 && pos < len(code) {
			op = bytecode.Opcode(code[pos])
		}
		return &ExecError{Pos: pos, Op: op, Err: fmt.Errorf("%w: %v", ErrInvalidOpcode, e)}
	}
	panic(r)
}

// checkRun validates the arguments shared by every entry point.
func checkRun(ctx *Context, pkg *bytecode.Package) error {
	if pkg == nil || pkg.Code == nil {
		return ErrPackageNotAllocated
	}
	if ctx == nil || ctx.rng == nil {
		return ErrNotInitialized
	}
	if err := pkg.Validate(); err != nil {
		return err
	}
	if pkg.Mode != bytecode.ModeNormal && pkg.Mode != bytecode.ModeSSMD {
		return fmt.Errorf("%w: %s", ErrUnsupportedMode, pkg.Mode)
	}
	return nil
}
