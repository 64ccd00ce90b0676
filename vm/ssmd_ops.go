package vm

import (
	"fmt"
	"math"

	"github.com/nijnstein/blast/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Operands
// ---------------------------------------------------------------------------

// operand is a value of every record of a group, read through a view. The
// negate and not prefixes are not applied to the view; readers apply them
// while they load, negation first.
type operand struct {
	rec DataRec
	n   int
	t   bytecode.DataType
	neg bool
	not bool
}

func (o *operand) get(k, c int) float32 {
	v := o.rec.At(k, c)
	if o.neg {
		v = -v
	}
	if o.not {
		v = complement(v, o.t)
	}
	return v
}

func (o *operand) value(k int) value {
	v := value{n: o.n, t: o.t}
	for c := 0; c < o.n; c++ {
		v.c[c] = o.get(k, c)
	}
	return v
}

func (o *operand) truth(k int) bool {
	for c := 0; c < o.n; c++ {
		if isTrue(o.get(k, c), o.t) {
			return true
		}
	}
	return false
}

func (o *operand) plain() bool {
	return !o.neg && !o.not
}

// operand evaluates one operand with its not and substract prefixes.
func (x *BatchInterpreter) operand() operand {
	neg, not := false, false
prefixes:
	for {
		switch x.peekOp() {
		case bytecode.OpNot:
			not = !not
		case bytecode.OpSubstract:
			neg = !neg
		default:
			break prefixes
		}
		x.pc++
	}
	o := x.load()
	if !neg && !not {
		return o
	}
	if !o.plain() {
		// Prefixes on a prefixed value do not fold into two flags.
		o = x.materialize(&o)
	}
	o.neg, o.not = neg, not
	return o
}

func (x *BatchInterpreter) load() operand {
	start := x.pc
	op := x.peekOp()
	switch {
	case op.IsID():
		x.pc++
		return x.variable(op.DataOffset())
	case op.IsConstant():
		f, next, err := x.ctx.constantAt(x.code, x.pc)
		if err != nil {
			x.fail(start, err)
		}
		x.pc = next
		return x.constant(f)
	case op.IsFunction(), op == bytecode.OpEx:
		o, _ := x.call(nil, 0)
		return o
	}

	x.pc++
	switch op {
	case bytecode.OpBegin:
		o, _ := x.sequence(nil, 0)
		return o
	case bytecode.OpPop:
		return x.pop()
	case bytecode.OpPeek:
		return x.peek()
	case bytecode.OpCDataRef:
		c := x.cdata(start)
		return x.constant(c.At(0))
	case bytecode.OpIndexX, bytecode.OpIndexY, bytecode.OpIndexZ, bytecode.OpIndexW:
		src := x.indexSource()
		return x.handleSingleOpFn(op, bytecode.ExNop, &src, DataRec{})
	case bytecode.OpIndexN:
		return x.indexN()
	}
	x.fail(start, ErrInvalidOpcode)
	return operand{}
}

// variable returns the view of the variable at a data offset.
func (x *BatchInterpreter) variable(off int) operand {
	w, t := x.slot(off)
	return operand{rec: x.g.data.offset(off), n: w, t: t}
}

// constant returns a view showing vs to every record.
func (x *BatchInterpreter) constant(vs ...float32) operand {
	at := len(x.consts)
	x.consts = append(x.consts, vs...)
	return operand{rec: constantRec(x.consts[at : at+len(vs) : at+len(vs)]), n: len(vs)}
}

func (x *BatchInterpreter) cdata(pos int) bytecode.CData {
	c, next, err := cdataAt(x.code, pos)
	if err != nil {
		x.fail(pos, err)
	}
	x.pc = next
	return c
}

func (x *BatchInterpreter) indexSource() operand {
	op := x.next()
	if !op.IsID() {
		x.fail(x.pc-1, fmt.Errorf("%w: index source", ErrInvalidOpcode))
	}
	return x.variable(op.DataOffset())
}

// indexN reads the element selected by a per record index into a register.
func (x *BatchInterpreter) indexN() operand {
	out := x.regs.acquire()
	mark := x.regs.mark()
	defer x.regs.release(mark)

	if x.peekOp() == bytecode.OpCDataRef {
		c := x.cdata(x.pc)
		idx := x.operand()
		for k := 0; k < x.g.n; k++ {
			out.Set(k, 0, c.At(indexOf(idx.get(k, 0))))
		}
		return operand{rec: out, n: 1}
	}

	src := x.indexSource()
	idx := x.operand()
	for k := 0; k < x.g.n; k++ {
		v := nan
		if c := indexOf(idx.get(k, 0)); c >= 0 && c < src.n {
			v = src.get(k, c)
		}
		out.Set(k, 0, v)
	}
	return operand{rec: out, n: 1, t: src.t}
}

// materialize copies an operand into a register with its prefixes applied.
func (x *BatchInterpreter) materialize(o *operand) operand {
	bank := x.regs.acquire()
	x.move(bank, o.n, o)
	return operand{rec: bank, n: o.n, t: o.t}
}

// move writes an operand into a view of width w for every record. Scalars
// broadcast, wider values are cut and narrower vectors are padded with NaN.
// Every component of a record is read before any is written, so source and
// destination may overlap.
func (x *BatchInterpreter) move(dst DataRec, w int, o *operand) {
	rows := x.g.n
	var buf [4]float32
	switch {
	case o.n == 1:
		for k := 0; k < rows; k++ {
			v := o.get(k, 0)
			for c := 0; c < w; c++ {
				buf[c] = v
			}
			dst.store(k, buf[:w])
		}
	case o.n >= w:
		for k := 0; k < rows; k++ {
			for c := 0; c < w; c++ {
				buf[c] = o.get(k, c)
			}
			dst.store(k, buf[:w])
		}
	default:
		log.Debugf("storing width %d into width %d", o.n, w)
		for k := 0; k < rows; k++ {
			for c := 0; c < w; c++ {
				buf[c] = nan
				if c < o.n {
					buf[c] = o.get(k, c)
				}
			}
			dst.store(k, buf[:w])
		}
	}
}

// ---------------------------------------------------------------------------
// Sequences and binary operations
// ---------------------------------------------------------------------------

// sequence evaluates operand (op operand)* and consumes the closing nop or
// end. When dst is given and the last operation produces width w, that
// operation writes straight into dst and written is set.
func (x *BatchInterpreter) sequence(dst *DataRec, w int) (result operand, written bool) {
	left := x.operand()
	var acc DataRec
	haveAcc := false
	for {
		op := x.next()
		switch {
		case op == bytecode.OpNop, op == bytecode.OpEnd:
			return left, written
		case !op.IsBinaryOp():
			x.fail(x.pc-1, fmt.Errorf("%w: %s in a sequence", ErrInvalidOpcode, op))
		}
		if !haveAcc {
			acc, haveAcc = x.regs.acquire(), true
		}
		mark := x.regs.mark()
		right := x.operand()

		out := acc
		written = false
		if dst != nil {
			if next := x.peekOp(); (next == bytecode.OpNop || next == bytecode.OpEnd) && resultWidth(op, &left, &right) == w {
				out, written = *dst, true
			}
		}
		left = x.binary(op, &left, &right, out)
		x.regs.release(mark)
	}
}

// resultWidth returns the width binary writes for a and b.
func resultWidth(op bytecode.Opcode, a, b *operand) int {
	if op.IsLogical() && (a.t != bytecode.Bool32 || b.t != bytecode.Bool32) {
		return 1
	}
	n, _ := broadcastWidth(a.n, b.n)
	return n
}

// shape classifies the widths of a binary operation.
type shape uint8

const (
	shapeGap shape = iota // no handler
	shape11               // scalar, scalar
	shapeNN               // equal vectors
	shapeN1               // vector, scalar
	shape1N               // scalar, vector
)

func shapeOf(a, b int) shape {
	switch {
	case a == 1 && b == 1:
		return shape11
	case a == b && a <= 4:
		return shapeNN
	case b == 1 && a <= 4:
		return shapeN1
	case a == 1 && b <= 4:
		return shape1N
	}
	return shapeGap
}

// binary applies op to every record and writes the result into dst. The
// operation and the shape are chosen once; the row loops only run kernels.
func (x *BatchInterpreter) binary(op bytecode.Opcode, a, b *operand, dst DataRec) operand {
	rows := x.g.n
	if op.IsLogical() {
		if a.t == bytecode.Bool32 && b.t == bytecode.Bool32 {
			return x.bitwiseRows(op, a, b, dst)
		}
		for k := 0; k < rows; k++ {
			dst.Set(k, 0, boolf(logical(op, a.truth(k), b.truth(k))))
		}
		return operand{rec: dst, n: 1}
	}

	k := binaryKernel(op)
	s := shapeOf(a.n, b.n)
	if k == nil || s == shapeGap {
		x.gap(op, a, b, dst)
		return operand{rec: dst, n: a.n}
	}
	switch s {
	case shape11:
		binary11(k, a, b, dst, rows)
		return operand{rec: dst, n: 1}
	case shapeNN:
		binaryNN(k, a, b, dst, rows, a.n)
	case shapeN1:
		binaryN1(k, a, b, dst, rows, a.n)
	case shape1N:
		binary1N(k, a, b, dst, rows, b.n)
	}
	return operand{rec: dst, n: max(a.n, b.n)}
}

// gap fills dst with NaN where no handler exists for op and the widths.
func (x *BatchInterpreter) gap(op bytecode.Opcode, a, b *operand, dst DataRec) {
	log.Debugf("no %s handler for widths %d and %d at %d", op, a.n, b.n, x.pc)
	n := min(max(a.n, 1), 4)
	var buf [4]float32
	for c := range buf {
		buf[c] = float32(math.NaN())
	}
	for k := 0; k < x.g.n; k++ {
		dst.store(k, buf[:n])
	}
}

func binary11(k kernel, a, b *operand, dst DataRec, rows int) {
	for r := 0; r < rows; r++ {
		dst.Set(r, 0, k(a.get(r, 0), b.get(r, 0)))
	}
}

func binaryNN(k kernel, a, b *operand, dst DataRec, rows, n int) {
	var out [4]float32
	for r := 0; r < rows; r++ {
		for c := 0; c < n; c++ {
			out[c] = k(a.get(r, c), b.get(r, c))
		}
		dst.store(r, out[:n])
	}
}

func binaryN1(k kernel, a, b *operand, dst DataRec, rows, n int) {
	var out [4]float32
	for r := 0; r < rows; r++ {
		y := b.get(r, 0)
		for c := 0; c < n; c++ {
			out[c] = k(a.get(r, c), y)
		}
		dst.store(r, out[:n])
	}
}

func binary1N(k kernel, a, b *operand, dst DataRec, rows, n int) {
	var out [4]float32
	for r := 0; r < rows; r++ {
		v := a.get(r, 0)
		for c := 0; c < n; c++ {
			out[c] = k(v, b.get(r, c))
		}
		dst.store(r, out[:n])
	}
}

// bitwiseRows combines two bool32 operands bit by bit.
func (x *BatchInterpreter) bitwiseRows(op bytecode.Opcode, a, b *operand, dst DataRec) operand {
	n, ok := broadcastWidth(a.n, b.n)
	if !ok {
		x.gap(op, a, b, dst)
		return operand{rec: dst, n: a.n}
	}
	var out [4]float32
	for r := 0; r < x.g.n; r++ {
		for c := 0; c < n; c++ {
			ca, cb := c, c
			if a.n == 1 {
				ca = 0
			}
			if b.n == 1 {
				cb = 0
			}
			out[c] = math.Float32frombits(bitwise(op, math.Float32bits(a.get(r, ca)), math.Float32bits(b.get(r, cb))))
		}
		dst.store(r, out[:n])
	}
	return operand{rec: dst, n: n, t: bytecode.Bool32}
}
