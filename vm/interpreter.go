package vm

import (
	"fmt"

	"github.com/nijnstein/blast/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Interpreter: one record at a time
// ---------------------------------------------------------------------------

// Interpreter executes a package against a single record. It runs normal and
// ssmd packages. An Interpreter may be reused but not shared between
// goroutines.
type Interpreter struct {
	ctx  *Context
	pkg  *bytecode.Package
	code []byte
	pc   int
	data []float32

	stack []float32
	smeta []byte
	sp    int

	consts    []int
	constsFor *bytecode.Package
}

// NewInterpreter creates an interpreter.
func NewInterpreter() *Interpreter {
	return &Interpreter{}
}

// Execute runs pkg against data, which must hold at least pkg.DataSize floats.
// Constant slots of the data segment are refreshed before the run.
func (i *Interpreter) Execute(ctx *Context, pkg *bytecode.Package, data []float32) (status Status, err error) {
	if err := checkRun(ctx, pkg); err != nil {
		return Done, err
	}
	if len(data) < pkg.DataSize {
		return Done, fmt.Errorf("%w: %d floats, want %d", ErrDataSegment, len(data), pkg.DataSize)
	}

	i.ctx, i.pkg, i.code, i.data = ctx, pkg, pkg.Code, data
	i.pc, i.sp = 0, 0
	if cap(i.stack) < pkg.StackSize {
		i.stack = make([]float32, pkg.StackSize)
		i.smeta = make([]byte, pkg.StackSize)
	}
	i.stack, i.smeta = i.stack[:pkg.StackSize], i.smeta[:pkg.StackSize]
	if i.constsFor != pkg {
		i.consts, i.constsFor = constantSlots(pkg), pkg
	}
	for _, off := range i.consts {
		data[off] = pkg.Data[off]
	}

	defer func() {
		if r := recover(); r != nil {
			status, err = Done, recovered(r, i.code, i.pc)
		}
	}()
	return i.run(), nil
}

func (i *Interpreter) fail(pos int, err error) {
	raise(i.code, pos, err)
}

func (i *Interpreter) next() bytecode.Opcode {
	op := bytecode.Opcode(i.code[i.pc])
	i.pc++
	return op
}

func (i *Interpreter) peekOp() bytecode.Opcode {
	return bytecode.Opcode(i.code[i.pc])
}

func (i *Interpreter) expect(op bytecode.Opcode) {
	if got := i.next(); got != op {
		i.fail(i.pc-1, fmt.Errorf("%w: expected %s", ErrInvalidOpcode, op))
	}
}

func (i *Interpreter) run() Status {
	for i.pc < len(i.code) {
		start := i.pc
		op := i.peekOp()
		switch {
		case op.IsID():
			i.directID()
			continue
		case op.IsConstant():
			i.directConstant()
			continue
		case op.IsFunction(), op == bytecode.OpEx:
			// Called for its effect.
			i.call()
			continue
		case op.IsIndex():
			// Normal packages start indexed assignments with the index.
			i.pc++
			i.assignIndexed(op)
			continue
		}

		i.pc++
		switch op {
		case bytecode.OpNop:
		case bytecode.OpAssign:
			if next := i.peekOp(); next.IsIndex() {
				i.pc++
				i.assignIndexed(next)
				break
			}
			t := i.target()
			i.store(t, i.sequence())
		case bytecode.OpAssignS:
			t := i.target()
			i.store(t, i.operand())
		case bytecode.OpAssignF, bytecode.OpAssignFN:
			t := i.target()
			v := i.call()
			if op == bytecode.OpAssignFN {
				v = v.negate()
			}
			i.store(t, v)
		case bytecode.OpAssignFE, bytecode.OpAssignFEN:
			t := i.target()
			f, err := i.ctx.external(u16(i.code, i.pc))
			if err != nil {
				i.fail(start, err)
			}
			i.pc += 2
			v := i.invoke(f)
			if op == bytecode.OpAssignFEN {
				v = v.negate()
			}
			i.store(t, v)
		case bytecode.OpAssignV:
			t := i.target()
			w, dt := i.slot(t)
			v := value{n: w, t: dt}
			for c := 0; c < w; c++ {
				v.c[c] = i.operand().c[0]
			}
			i.store(t, v)
		case bytecode.OpPush:
			i.push(i.operand())
		case bytecode.OpPushV:
			n := int(i.next())
			if n < 1 || n > 4 {
				i.fail(start, fmt.Errorf("%w: pushv of %d components", ErrInvalidOpcode, n))
			}
			v := value{n: n}
			for c := 0; c < n; c++ {
				v.c[c] = i.operand().c[0]
			}
			i.push(v)
		case bytecode.OpPushF:
			i.push(i.call())
		case bytecode.OpPushC:
			i.expect(bytecode.OpBegin)
			i.push(i.sequence())
		case bytecode.OpPop:
			i.pop()
		case bytecode.OpRet:
			return Done
		case bytecode.OpYield:
			return Yield
		case bytecode.OpJump, bytecode.OpLongJump, bytecode.OpJumpBack, bytecode.OpLongJumpBack:
			_, i.pc = jumpAt(i.code, start)
		case bytecode.OpJz, bytecode.OpLongJz, bytecode.OpJnz, bytecode.OpLongJnz, bytecode.OpCJz, bytecode.OpLongCJz:
			i.branch(start, op)
		case bytecode.OpCData:
			i.pc = start + bytecode.CDataHeaderSize + u16(i.code, start+2)
		default:
			i.fail(start, ErrInvalidOpcode)
		}
	}
	return Done
}

// branch evaluates the condition of a conditional jump at start.
func (i *Interpreter) branch(start int, op bytecode.Opcode) {
	after, target := jumpAt(i.code, start)
	i.pc = after
	var cond value
	if op == bytecode.OpCJz || op == bytecode.OpLongCJz {
		cond = i.operand()
	} else {
		i.expect(bytecode.OpBegin)
		cond = i.sequence()
	}
	jnz := op == bytecode.OpJnz || op == bytecode.OpLongJnz
	if cond.truth() == jnz {
		i.pc = target
	}
}

// ---------------------------------------------------------------------------
// Assignments
// ---------------------------------------------------------------------------

func (i *Interpreter) target() int {
	op := i.next()
	if !op.IsID() || op.DataOffset() >= i.pkg.DataSize {
		i.fail(i.pc-1, fmt.Errorf("%w: assignment target", ErrInvalidOpcode))
	}
	return op.DataOffset()
}

// slot returns the width and type of the variable at a data offset.
func (i *Interpreter) slot(off int) (int, bytecode.DataType) {
	w, t := i.pkg.SlotInfo(off)
	if w < 1 || w > 4 || off+w > i.pkg.DataSize {
		i.fail(i.pc-1, fmt.Errorf("%w: no variable at offset %d", ErrInvalidOpcode, off))
	}
	return w, t
}

func (i *Interpreter) read(off int) value {
	w, t := i.slot(off)
	v := value{n: w, t: t}
	copy(v.c[:w], i.data[off:off+w])
	return v
}

func (i *Interpreter) store(off int, v value) {
	w, _ := i.slot(off)
	if v.n != w && v.n != 1 {
		log.Debugf("storing width %d into width %d at offset %d", v.n, w, off)
	}
	v = fit(v, w)
	copy(i.data[off:off+w], v.c[:w])
}

// directID handles [id][target|neg].
func (i *Interpreter) directID() {
	start := i.pc
	src := i.next().DataOffset()
	t, neg, ok := directTarget(i.code[i.pc])
	if !ok {
		i.fail(start, fmt.Errorf("%w: statement starts with a variable", ErrInvalidOpcode))
	}
	i.pc++
	v := i.read(src)
	if neg {
		v = v.negate()
	}
	i.store(t, v)
}

// directConstant handles [constant][target|neg].
func (i *Interpreter) directConstant() {
	start := i.pc
	f, next, err := i.ctx.constantAt(i.code, i.pc)
	if err != nil {
		i.fail(start, err)
	}
	i.pc = next
	t, neg, ok := directTarget(i.code[i.pc])
	if !ok {
		i.fail(start, fmt.Errorf("%w: statement starts with a constant", ErrInvalidOpcode))
	}
	i.pc++
	if neg {
		f = -f
	}
	i.store(t, scalar(f))
}

// assignIndexed writes one component: index_c target [index] <sequence> nop.
func (i *Interpreter) assignIndexed(op bytecode.Opcode) {
	start := i.pc - 1
	t := i.target()
	w, _ := i.slot(t)
	c := op.IndexComponent()
	if op == bytecode.OpIndexN {
		c = indexOf(i.operand().c[0])
	}
	v := i.sequence()
	if c < 0 || c >= w {
		log.Debugf("component %d of width %d at %d ignored", c, w, start)
		return
	}
	i.data[t+c] = v.c[0]
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// sequence evaluates operand (op operand)* and consumes the closing nop or end.
func (i *Interpreter) sequence() value {
	v := i.operand()
	for {
		op := i.next()
		switch {
		case op == bytecode.OpNop, op == bytecode.OpEnd:
			return v
		case op.IsBinaryOp():
			r := i.operand()
			out, ok := binaryValue(op, v, r)
			if !ok {
				log.Debugf("no %s for widths %d and %d at %d", op, v.n, r.n, i.pc)
			}
			v = out
		default:
			i.fail(i.pc-1, fmt.Errorf("%w: %s in a sequence", ErrInvalidOpcode, op))
		}
	}
}

// operand evaluates one operand with its not and substract prefixes.
// Negation applies before not.
func (i *Interpreter) operand() value {
	neg, not := false, false
prefixes:
	for {
		switch i.peekOp() {
		case bytecode.OpNot:
			not = !not
		case bytecode.OpSubstract:
			neg = !neg
		default:
			break prefixes
		}
		i.pc++
	}
	v := i.load()
	if neg {
		v = v.negate()
	}
	if not {
		v = v.not()
	}
	return v
}

func (i *Interpreter) load() value {
	start := i.pc
	op := i.peekOp()
	switch {
	case op.IsID():
		i.pc++
		return i.read(op.DataOffset())
	case op.IsConstant():
		f, next, err := i.ctx.constantAt(i.code, i.pc)
		if err != nil {
			i.fail(start, err)
		}
		i.pc = next
		return scalar(f)
	case op.IsFunction(), op == bytecode.OpEx:
		return i.call()
	}

	i.pc++
	switch op {
	case bytecode.OpBegin:
		return i.sequence()
	case bytecode.OpPop:
		return i.pop()
	case bytecode.OpPeek:
		return i.peek()
	case bytecode.OpCDataRef:
		c := i.cdata(start)
		return scalar(c.At(0))
	case bytecode.OpIndexX, bytecode.OpIndexY, bytecode.OpIndexZ, bytecode.OpIndexW:
		src := i.operandID()
		c := op.IndexComponent()
		if c >= src.n {
			return nanValue(1)
		}
		return value{c: [4]float32{src.c[c]}, n: 1, t: src.t}
	case bytecode.OpIndexN:
		if i.peekOp() == bytecode.OpCDataRef {
			c := i.cdata(i.pc)
			return scalar(c.At(indexOf(i.operand().c[0])))
		}
		src := i.operandID()
		c := indexOf(i.operand().c[0])
		if c < 0 || c >= src.n {
			return nanValue(1)
		}
		return value{c: [4]float32{src.c[c]}, n: 1, t: src.t}
	}
	i.fail(start, ErrInvalidOpcode)
	return value{}
}

func (i *Interpreter) operandID() value {
	op := i.next()
	if !op.IsID() {
		i.fail(i.pc-1, fmt.Errorf("%w: index source", ErrInvalidOpcode))
	}
	return i.read(op.DataOffset())
}

// cdata decodes the cdata reference at pos and moves past it.
func (i *Interpreter) cdata(pos int) bytecode.CData {
	c, next, err := cdataAt(i.code, pos)
	if err != nil {
		i.fail(pos, err)
	}
	i.pc = next
	return c
}

// call decodes and evaluates a function call.
func (i *Interpreter) call() value {
	start := i.pc
	f, next, err := i.ctx.functionAt(i.code, i.pc)
	if err != nil {
		i.fail(start, err)
	}
	i.pc = next
	return i.invoke(f)
}

// invoke reads the parameters of f and evaluates it.
func (i *Interpreter) invoke(f *bytecode.Function) value {
	n := f.MinParams
	if f.VariableParams {
		n = int(i.next())
	}
	if f.Op == bytecode.OpEx {
		switch {
		case f.ExtendedOp == bytecode.ExSize && n == 1 && i.peekOp() == bytecode.OpCDataRef:
			c := i.cdata(i.pc)
			return scalar(float32(c.Len()))
		case f.ExtendedOp == bytecode.ExDebugStack:
			log.Infof("stack: %v", i.stack[:i.sp])
			return scalar(float32(i.sp))
		}
	}
	var buf [4]value
	args := buf[:0]
	for k := 0; k < n; k++ {
		args = append(args, i.operand())
	}
	return i.ctx.evalFunction(f, args)
}

// ---------------------------------------------------------------------------
// Stack
//
// Values are pushed component by component. The top float of every value
// has its width and type in the stack metadata.
// ---------------------------------------------------------------------------

func (i *Interpreter) push(v value) {
	if i.sp+v.n > len(i.stack) {
		i.fail(i.pc-1, ErrStackOverflow)
	}
	copy(i.stack[i.sp:], v.c[:v.n])
	i.sp += v.n
	i.smeta[i.sp-1] = bytecode.EncodeMetadata(v.n, v.t)
}

func (i *Interpreter) peek() value {
	if i.sp == 0 {
		i.fail(i.pc-1, ErrStackUnderflow)
	}
	n, t := bytecode.DecodeMetadata(i.smeta[i.sp-1])
	if n < 1 || n > 4 || n > i.sp {
		i.fail(i.pc-1, ErrStackUnderflow)
	}
	v := value{n: n, t: t}
	copy(v.c[:n], i.stack[i.sp-n:i.sp])
	return v
}

func (i *Interpreter) pop() value {
	v := i.peek()
	i.sp -= v.n
	return v
}
