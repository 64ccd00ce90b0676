package vm

import (
	"github.com/nijnstein/blast/pkg/bytecode"
)

// handleSingleOpFn applies a single operand operation to every record of the
// group. Index opcodes narrow the operand to one component by moving its
// view; nothing is copied. Component wise functions switch on the width once
// and write into dst.
func (x *BatchInterpreter) handleSingleOpFn(op bytecode.Opcode, ex bytecode.ExtendedOpcode, src *operand, dst DataRec) operand {
	if op.IsIndex() && op != bytecode.OpIndexN {
		c := op.IndexComponent()
		if c >= src.n {
			log.Debugf("%s on width %d at %d", op, src.n, x.pc)
			return x.constant(nan)
		}
		o := *src
		o.rec = o.rec.offset(c)
		o.n = 1
		return o
	}

	k := unaryKernelOf(op, ex)
	if k == nil {
		log.Debugf("no single operand handler for %s %s", op, ex)
		x.gap(op, src, src, dst)
		return operand{rec: dst, n: src.n}
	}

	rows := x.g.n
	switch src.n {
	case 1:
		for r := 0; r < rows; r++ {
			dst.Set(r, 0, k(src.get(r, 0)))
		}
	case 2:
		for r := 0; r < rows; r++ {
			a, b := src.get(r, 0), src.get(r, 1)
			dst.store(r, []float32{k(a), k(b)})
		}
	case 3:
		for r := 0; r < rows; r++ {
			a, b, c := src.get(r, 0), src.get(r, 1), src.get(r, 2)
			dst.store(r, []float32{k(a), k(b), k(c)})
		}
	case 4:
		for r := 0; r < rows; r++ {
			a, b, c, d := src.get(r, 0), src.get(r, 1), src.get(r, 2), src.get(r, 3)
			dst.store(r, []float32{k(a), k(b), k(c), k(d)})
		}
	default:
		x.gap(op, src, src, dst)
	}
	return operand{rec: dst, n: src.n}
}

// call decodes a function call and evaluates it for every record. With dst
// given, a result of width w is written straight into it.
func (x *BatchInterpreter) call(dst *DataRec, w int) (operand, bool) {
	start := x.pc
	f, next, err := x.ctx.functionAt(x.code, x.pc)
	if err != nil {
		x.fail(start, err)
	}
	x.pc = next
	return x.invoke(f, dst, w)
}

// invoke reads the parameters of f and evaluates it.
func (x *BatchInterpreter) invoke(f *bytecode.Function, dst *DataRec, w int) (operand, bool) {
	n := f.MinParams
	if f.VariableParams {
		n = int(x.next())
	}
	if f.Op == bytecode.OpEx {
		switch ex := f.ExtendedOp; {
		case ex == bytecode.ExSize && n == 1 && x.peekOp() == bytecode.OpCDataRef:
			c := x.cdata(x.pc)
			return x.constant(float32(c.Len())), false
		case ex.IsOverlayValue():
			return x.constant(x.ctx.overlay(ex)), false
		case ex == bytecode.ExDebugStack:
			log.Infof("stack: %d floats in use for %d records", x.g.sp, x.g.n)
			return x.constant(float32(x.g.sp)), false
		}
	}

	out := x.regs.acquire()
	mark := x.regs.mark()
	defer x.regs.release(mark)

	if n == 1 && f.Extern == nil {
		if k := unaryKernelOf(f.Op, f.ExtendedOp); k != nil {
			src := x.operand()
			if dst != nil && src.n == w {
				return x.handleSingleOpFn(f.Op, f.ExtendedOp, &src, *dst), true
			}
			return x.handleSingleOpFn(f.Op, f.ExtendedOp, &src, out), false
		}
	}

	var pbuf [4]operand
	params := pbuf[:0]
	for i := 0; i < n; i++ {
		params = append(params, x.operand())
	}
	args := make([]value, n)
	res := operand{rec: out}
	written := false
	for k := 0; k < x.g.n; k++ {
		for i := range params {
			args[i] = params[i].value(k)
		}
		v := x.ctx.evalFunction(f, args)
		if k == 0 {
			res.n, res.t = v.n, v.t
			if dst != nil && v.n == w {
				res.rec, written = *dst, true
			}
		}
		res.rec.store(k, v.c[:res.n])
	}
	return res, written
}
