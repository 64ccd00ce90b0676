package vm

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/nijnstein/blast/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// BatchInterpreter: one instruction, many records
// ---------------------------------------------------------------------------

// BatchInterpreter executes ssmd packages against many records at once.
// Every instruction is decoded once for a group of records and then applied
// to each of them. Records that disagree on a conditional jump are split
// into groups, so each record follows exactly the path the scalar
// interpreter would take. The group furthest behind in the code runs first,
// and groups that meet at the same position run on as one.
//
// A BatchInterpreter may be reused but not shared between goroutines.
type BatchInterpreter struct {
	ctx  *Context
	pkg  *bytecode.Package
	code []byte
	pc   int
	g    *group

	// Record storage, for building the views of split groups.
	records  [][]float32
	flat     []float32
	stride   int
	stackMem []float32
	stacks   [][]float32

	regs    registers
	consts  []float32
	pending []*group
}

// group is a set of records at the same code position. All records of a
// group have the same stack layout.
type group struct {
	idx   []int // record numbers; nil for all records in order
	n     int
	data  DataRec
	stack DataRec
	pc    int
	sp    int
	smeta []byte
}

func (g *group) record(k int) int {
	if g.idx == nil {
		return k
	}
	return g.idx[k]
}

// NewBatchInterpreter creates a batch interpreter.
func NewBatchInterpreter() *BatchInterpreter {
	return &BatchInterpreter{}
}

// Execute runs pkg once for every record. Each record must hold the data
// segment of the package.
func (x *BatchInterpreter) Execute(ctx *Context, pkg *bytecode.Package, records [][]float32) (Status, error) {
	if err := x.prepare(ctx, pkg); err != nil {
		return Done, err
	}
	x.records, x.flat, x.stride = records, nil, 0
	return x.execute(DataRec{Rows: records}, len(records))
}

// ExecuteContiguous runs pkg for every record of flat, which holds records
// back to back, stride floats apart.
func (x *BatchInterpreter) ExecuteContiguous(ctx *Context, pkg *bytecode.Package, flat []float32, stride int) (Status, error) {
	if err := x.prepare(ctx, pkg); err != nil {
		return Done, err
	}
	if stride <= 0 || stride < pkg.DataSize || len(flat)%stride != 0 {
		return Done, fmt.Errorf("%w: %d floats with stride %d, data segment %d", ErrDataSegment, len(flat), stride, pkg.DataSize)
	}
	x.records, x.flat, x.stride = nil, flat, stride
	return x.execute(DataRec{Rows: [][]float32{flat}, Stride: stride, Aligned: true}, len(flat)/stride)
}

func (x *BatchInterpreter) prepare(ctx *Context, pkg *bytecode.Package) error {
	if err := checkRun(ctx, pkg); err != nil {
		return err
	}
	if pkg.Mode != bytecode.ModeSSMD {
		return fmt.Errorf("%w: batch execution needs an ssmd package, got %s", ErrUnsupportedMode, pkg.Mode)
	}
	x.ctx, x.pkg, x.code = ctx, pkg, pkg.Code
	return nil
}

func (x *BatchInterpreter) execute(data DataRec, n int) (status Status, err error) {
	if n == 0 {
		return Done, nil
	}
	if err := data.Validate(n, x.pkg.DataSize); err != nil {
		return Done, err
	}
	for _, off := range constantSlots(x.pkg) {
		v := x.pkg.Data[off]
		for k := 0; k < n; k++ {
			data.Set(k, off, v)
		}
	}

	size := x.pkg.StackSize
	if cap(x.stackMem) < n*size {
		x.stackMem = make([]float32, n*size)
	}
	x.stackMem, x.stacks = x.stackMem[:n*size], nil
	x.regs.reset(n)
	x.pending = append(x.pending[:0], &group{
		n:     n,
		data:  data,
		stack: DataRec{Rows: [][]float32{x.stackMem}, Stride: size, Aligned: true},
		smeta: make([]byte, size),
	})

	defer func() {
		if r := recover(); r != nil {
			status, err = Done, recovered(r, x.code, x.pc)
		}
	}()

	status = Done
	for len(x.pending) > 0 {
		if x.runGroup(x.takeLowest()) == Yield {
			status = Yield
		}
	}
	return status, nil
}

// runGroup runs a group until it returns, yields, ends or is parked behind
// another group. Groups split off on the way are queued.
func (x *BatchInterpreter) runGroup(g *group) Status {
	x.g, x.pc = g, g.pc
	for x.pc < len(x.code) {
		if x.reconverge() {
			return Done
		}
		x.regs.release(0)
		x.consts = x.consts[:0]
		if status, done := x.statement(); done {
			return status
		}
	}
	return Done
}

// ---------------------------------------------------------------------------
// Group splitting
// ---------------------------------------------------------------------------

func (x *BatchInterpreter) recordRows() [][]float32 {
	if x.records == nil {
		n := len(x.flat) / x.stride
		x.records = make([][]float32, n)
		for k := range x.records {
			x.records[k] = x.flat[k*x.stride : (k+1)*x.stride : (k+1)*x.stride]
		}
	}
	return x.records
}

func (x *BatchInterpreter) stackRows() [][]float32 {
	if x.stacks == nil {
		size := x.pkg.StackSize
		n := len(x.stackMem) / max(size, 1)
		x.stacks = make([][]float32, n)
		for k := range x.stacks {
			x.stacks[k] = x.stackMem[k*size : (k+1)*size : (k+1)*size]
		}
	}
	return x.stacks
}

// split returns a group of the records at positions pos of the running group.
func (x *BatchInterpreter) split(pos []int, pc int) *group {
	g := x.g
	recs, stacks := x.recordRows(), x.stackRows()
	out := &group{
		idx:   make([]int, len(pos)),
		n:     len(pos),
		data:  DataRec{Rows: make([][]float32, len(pos))},
		stack: DataRec{Rows: make([][]float32, len(pos))},
		pc:    pc,
		sp:    g.sp,
		smeta: append([]byte(nil), g.smeta...),
	}
	for j, p := range pos {
		r := g.record(p)
		out.idx[j] = r
		out.data.Rows[j] = recs[r]
		out.stack.Rows[j] = stacks[r]
	}
	return out
}

// diverge moves the records for which jump is set to target. The rest of
// the group continues at the current position.
func (x *BatchInterpreter) diverge(at int, target int, jump func(k int) bool) {
	g := x.g
	taken := 0
	for k := 0; k < g.n; k++ {
		if jump(k) {
			taken++
		}
	}
	switch taken {
	case 0:
		return
	case g.n:
		x.pc = target
		return
	}

	log.Debugf("records diverge at %d: %d of %d jump", at, taken, g.n)
	jumped := make([]int, 0, taken)
	stay := make([]int, 0, g.n-taken)
	for k := 0; k < g.n; k++ {
		if jump(k) {
			jumped = append(jumped, k)
		} else {
			stay = append(stay, k)
		}
	}
	x.pending = append(x.pending, x.split(jumped, target))
	x.g = x.split(stay, x.pc)
}

// takeLowest removes and returns the pending group with the lowest position.
func (x *BatchInterpreter) takeLowest() *group {
	lo := 0
	for i, g := range x.pending {
		if g.pc < x.pending[lo].pc {
			lo = i
		}
	}
	g := x.pending[lo]
	last := len(x.pending) - 1
	x.pending[lo] = x.pending[last]
	x.pending = x.pending[:last]
	return g
}

// reconverge runs before every statement. Pending groups waiting at the
// current position join the running group; when a pending group is behind
// it, the running group is parked and reconverge reports true.
func (x *BatchInterpreter) reconverge() bool {
	if len(x.pending) == 0 {
		return false
	}
	parked := false
	kept := x.pending[:0]
	for _, p := range x.pending {
		if p.pc == x.pc && x.g.sameStack(p) {
			x.g = x.merge(x.g, p)
			continue
		}
		if p.pc < x.pc {
			parked = true
		}
		kept = append(kept, p)
	}
	x.pending = kept
	if parked {
		x.g.pc = x.pc
		x.pending = append(x.pending, x.g)
	}
	return parked
}

func (g *group) sameStack(o *group) bool {
	return g.sp == o.sp && bytes.Equal(g.smeta[:g.sp], o.smeta[:o.sp])
}

// merge joins two groups at the current position into one, records in order.
func (x *BatchInterpreter) merge(a, b *group) *group {
	idx := make([]int, 0, a.n+b.n)
	for k := 0; k < a.n; k++ {
		idx = append(idx, a.record(k))
	}
	for k := 0; k < b.n; k++ {
		idx = append(idx, b.record(k))
	}
	slices.Sort(idx)

	recs, stacks := x.recordRows(), x.stackRows()
	out := &group{
		idx:   idx,
		n:     len(idx),
		data:  DataRec{Rows: make([][]float32, len(idx))},
		stack: DataRec{Rows: make([][]float32, len(idx))},
		pc:    x.pc,
		sp:    a.sp,
		smeta: a.smeta,
	}
	for j, r := range idx {
		out.data.Rows[j] = recs[r]
		out.stack.Rows[j] = stacks[r]
	}
	log.Debugf("records reconverge at %d: %d and %d", x.pc, a.n, b.n)
	return out
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (x *BatchInterpreter) fail(pos int, err error) {
	raise(x.code, pos, err)
}

func (x *BatchInterpreter) next() bytecode.Opcode {
	op := bytecode.Opcode(x.code[x.pc])
	x.pc++
	return op
}

func (x *BatchInterpreter) peekOp() bytecode.Opcode {
	return bytecode.Opcode(x.code[x.pc])
}

func (x *BatchInterpreter) expect(op bytecode.Opcode) {
	if got := x.next(); got != op {
		x.fail(x.pc-1, fmt.Errorf("%w: expected %s", ErrInvalidOpcode, op))
	}
}

// statement executes one statement for every record of the group. done is
// set when the group stops.
func (x *BatchInterpreter) statement() (status Status, done bool) {
	start := x.pc
	op := x.peekOp()
	switch {
	case op.IsID():
		x.directID()
		return Done, false
	case op.IsConstant():
		x.directConstant()
		return Done, false
	case op.IsFunction(), op == bytecode.OpEx:
		x.call(nil, 0)
		return Done, false
	}

	x.pc++
	switch op {
	case bytecode.OpNop:
	case bytecode.OpAssign:
		if next := x.peekOp(); next.IsIndex() {
			x.pc++
			x.assignIndexed(next)
			break
		}
		dst, w := x.target()
		o, written := x.sequence(&dst, w)
		if !written {
			x.move(dst, w, &o)
		}
	case bytecode.OpAssignS:
		dst, w := x.target()
		o := x.operand()
		x.move(dst, w, &o)
	case bytecode.OpAssignF, bytecode.OpAssignFN:
		dst, w := x.target()
		if op == bytecode.OpAssignF {
			if o, written := x.call(&dst, w); !written {
				x.move(dst, w, &o)
			}
			break
		}
		o, _ := x.call(nil, 0)
		o.neg = !o.neg
		x.move(dst, w, &o)
	case bytecode.OpAssignFE, bytecode.OpAssignFEN:
		dst, w := x.target()
		f, err := x.ctx.external(u16(x.code, x.pc))
		if err != nil {
			x.fail(start, err)
		}
		x.pc += 2
		o, _ := x.invoke(f, nil, 0)
		o.neg = op == bytecode.OpAssignFEN
		x.move(dst, w, &o)
	case bytecode.OpAssignV:
		x.assignVector()
	case bytecode.OpPush:
		o := x.operand()
		x.push(&o)
	case bytecode.OpPushV:
		x.pushVector(start)
	case bytecode.OpPushF:
		o, _ := x.call(nil, 0)
		x.push(&o)
	case bytecode.OpPushC:
		x.expect(bytecode.OpBegin)
		o, _ := x.sequence(nil, 0)
		x.push(&o)
	case bytecode.OpPop:
		x.pop()
	case bytecode.OpRet:
		return Done, true
	case bytecode.OpYield:
		return Yield, true
	case bytecode.OpJump, bytecode.OpLongJump, bytecode.OpJumpBack, bytecode.OpLongJumpBack:
		_, x.pc = jumpAt(x.code, start)
	case bytecode.OpJz, bytecode.OpLongJz, bytecode.OpJnz, bytecode.OpLongJnz, bytecode.OpCJz, bytecode.OpLongCJz:
		x.branch(start, op)
	case bytecode.OpCData:
		x.pc = start + bytecode.CDataHeaderSize + u16(x.code, start+2)
	default:
		x.fail(start, ErrInvalidOpcode)
	}
	return Done, false
}

// branch evaluates the condition of a conditional jump for every record.
func (x *BatchInterpreter) branch(start int, op bytecode.Opcode) {
	after, target := jumpAt(x.code, start)
	x.pc = after
	var cond operand
	if op == bytecode.OpCJz || op == bytecode.OpLongCJz {
		cond = x.operand()
	} else {
		x.expect(bytecode.OpBegin)
		cond, _ = x.sequence(nil, 0)
	}
	jnz := op == bytecode.OpJnz || op == bytecode.OpLongJnz
	x.diverge(start, target, func(k int) bool { return cond.truth(k) == jnz })
}

// target decodes an assignment target and returns its view and width.
func (x *BatchInterpreter) target() (DataRec, int) {
	op := x.next()
	if !op.IsID() || op.DataOffset() >= x.pkg.DataSize {
		x.fail(x.pc-1, fmt.Errorf("%w: assignment target", ErrInvalidOpcode))
	}
	w, _ := x.slot(op.DataOffset())
	return x.g.data.offset(op.DataOffset()), w
}

func (x *BatchInterpreter) slot(off int) (int, bytecode.DataType) {
	w, t := x.pkg.SlotInfo(off)
	if w < 1 || w > 4 || off+w > x.pkg.DataSize {
		x.fail(x.pc-1, fmt.Errorf("%w: no variable at offset %d", ErrInvalidOpcode, off))
	}
	return w, t
}

func (x *BatchInterpreter) directID() {
	start := x.pc
	src := x.next().DataOffset()
	off, neg, ok := directTarget(x.code[x.pc])
	if !ok {
		x.fail(start, fmt.Errorf("%w: statement starts with a variable", ErrInvalidOpcode))
	}
	x.pc++
	o := x.variable(src)
	o.neg = neg
	w, _ := x.slot(off)
	x.move(x.g.data.offset(off), w, &o)
}

func (x *BatchInterpreter) directConstant() {
	start := x.pc
	f, next, err := x.ctx.constantAt(x.code, x.pc)
	if err != nil {
		x.fail(start, err)
	}
	x.pc = next
	off, neg, ok := directTarget(x.code[x.pc])
	if !ok {
		x.fail(start, fmt.Errorf("%w: statement starts with a constant", ErrInvalidOpcode))
	}
	x.pc++
	if neg {
		f = -f
	}
	o := x.constant(f)
	w, _ := x.slot(off)
	x.move(x.g.data.offset(off), w, &o)
}

// assignIndexed writes one component: assign index_c target [index] <sequence> nop.
func (x *BatchInterpreter) assignIndexed(op bytecode.Opcode) {
	start := x.pc - 1
	dst, w := x.target()
	if op != bytecode.OpIndexN {
		c := op.IndexComponent()
		if c >= w {
			log.Debugf("component %d of width %d at %d ignored", c, w, start)
			x.sequence(nil, 0)
			return
		}
		elem := dst.offset(c)
		if o, written := x.sequence(&elem, 1); !written {
			x.move(elem, 1, &o)
		}
		return
	}

	// The index may differ per record; keep it in a register while the
	// value is computed.
	idx := x.operand()
	bank := x.regs.acquire()
	x.move(bank, 1, &idx)
	o, _ := x.sequence(nil, 0)
	for k := 0; k < x.g.n; k++ {
		c := indexOf(bank.At(k, 0))
		if c < 0 || c >= w {
			continue
		}
		dst.Set(k, c, o.get(k, 0))
	}
}

// assignVector evaluates every component before any is written, so
// components may read the target.
func (x *BatchInterpreter) assignVector() {
	dst, w := x.target()
	bank := x.regs.acquire()
	for c := 0; c < w; c++ {
		o := x.operand()
		x.move(bank.offset(c), 1, &o)
	}
	o := operand{rec: bank, n: w}
	x.move(dst, w, &o)
}

// ---------------------------------------------------------------------------
// Stack
// ---------------------------------------------------------------------------

func (x *BatchInterpreter) push(o *operand) {
	g := x.g
	if g.sp+o.n > x.pkg.StackSize {
		x.fail(x.pc-1, ErrStackOverflow)
	}
	x.move(g.stack.offset(g.sp), o.n, o)
	g.sp += o.n
	g.smeta[g.sp-1] = bytecode.EncodeMetadata(o.n, o.t)
}

func (x *BatchInterpreter) pushVector(start int) {
	n := int(x.next())
	if n < 1 || n > 4 {
		x.fail(start, fmt.Errorf("%w: pushv of %d components", ErrInvalidOpcode, n))
	}
	bank := x.regs.acquire()
	for c := 0; c < n; c++ {
		o := x.operand()
		x.move(bank.offset(c), 1, &o)
	}
	o := operand{rec: bank, n: n}
	x.push(&o)
}

func (x *BatchInterpreter) peek() operand {
	g := x.g
	if g.sp == 0 {
		x.fail(x.pc-1, ErrStackUnderflow)
	}
	n, t := bytecode.DecodeMetadata(g.smeta[g.sp-1])
	if n < 1 || n > 4 || n > g.sp {
		x.fail(x.pc-1, ErrStackUnderflow)
	}
	return operand{rec: g.stack.offset(g.sp - n), n: n, t: t}
}

func (x *BatchInterpreter) pop() operand {
	o := x.peek()
	x.g.sp -= o.n
	return o
}
