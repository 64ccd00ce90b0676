package vm

import (
	"math"

	"github.com/nijnstein/blast/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Component kernels
//
// Products are converted to float32 before they are summed so the compiler
// cannot fuse them into FMA instructions on some platforms and not others.
// ---------------------------------------------------------------------------

type kernel func(a, b float32) float32

type unaryKernel func(x float32) float32

func add(a, b float32) float32      { return a + b }
func substract(a, b float32) float32 { return a - b }
func multiply(a, b float32) float32  { return a * b }
func divide(a, b float32) float32    { return a / b }
func greater(a, b float32) float32   { return boolf(a > b) }
func greaterEq(a, b float32) float32 { return boolf(a >= b) }
func smaller(a, b float32) float32   { return boolf(a < b) }
func smallerEq(a, b float32) float32 { return boolf(a <= b) }
func equals(a, b float32) float32    { return boolf(a == b) }
func notEquals(a, b float32) float32 { return boolf(a != b) }
func minf(a, b float32) float32      { return min(a, b) }
func maxf(a, b float32) float32      { return max(a, b) }

func powf(a, b float32) float32 {
	return float32(math.Pow(float64(a), float64(b)))
}

func atan2f(a, b float32) float32 {
	return float32(math.Atan2(float64(a), float64(b)))
}

func fmodf(a, b float32) float32 {
	return float32(math.Mod(float64(a), float64(b)))
}

// binaryKernel returns the kernel of an arithmetic or comparison opcode.
func binaryKernel(op bytecode.Opcode) kernel {
	switch op {
	case bytecode.OpAdd:
		return add
	case bytecode.OpSubstract:
		return substract
	case bytecode.OpMultiply:
		return multiply
	case bytecode.OpDivide:
		return divide
	case bytecode.OpGreater:
		return greater
	case bytecode.OpGreaterEquals:
		return greaterEq
	case bytecode.OpSmaller:
		return smaller
	case bytecode.OpSmallerEquals:
		return smallerEq
	case bytecode.OpEquals:
		return equals
	case bytecode.OpNotEquals:
		return notEquals
	}
	return nil
}

func logical(op bytecode.Opcode, a, b bool) bool {
	switch op {
	case bytecode.OpAnd:
		return a && b
	case bytecode.OpOr:
		return a || b
	}
	return a != b
}

func bitwise(op bytecode.Opcode, a, b uint32) uint32 {
	switch op {
	case bytecode.OpAnd:
		return a & b
	case bytecode.OpOr:
		return a | b
	}
	return a ^ b
}

// binaryValue combines two operands. Scalars broadcast against vectors.
// Logical operations reduce each side to its truth unless both sides are
// bool32, which combine bit by bit. The second result is false for a width
// pair with no handler; the value is then NaN at the left width.
func binaryValue(op bytecode.Opcode, l, r value) (value, bool) {
	if op.IsLogical() {
		if l.t != bytecode.Bool32 || r.t != bytecode.Bool32 {
			return scalar(boolf(logical(op, l.truth(), r.truth()))), true
		}
		n, ok := broadcastWidth(l.n, r.n)
		if !ok {
			return nanValue(l.n), false
		}
		out := value{n: n, t: bytecode.Bool32}
		for i := 0; i < n; i++ {
			out.c[i] = math.Float32frombits(bitwise(op, math.Float32bits(l.lane(i)), math.Float32bits(r.lane(i))))
		}
		return out, true
	}

	k := binaryKernel(op)
	if k == nil {
		return nanValue(l.n), false
	}
	return zip(l, r, k)
}

// zip applies k component wise with scalar broadcast.
func zip(a, b value, k kernel) (value, bool) {
	n, ok := broadcastWidth(a.n, b.n)
	if !ok {
		return nanValue(a.n), false
	}
	out := value{n: n}
	for i := 0; i < n; i++ {
		out.c[i] = k(a.lane(i), b.lane(i))
	}
	return out, true
}

func f64(x float32) float64 { return float64(x) }

// unaryKernelOf returns the kernel of a component wise single parameter
// function, or nil.
func unaryKernelOf(op bytecode.Opcode, ex bytecode.ExtendedOpcode) unaryKernel {
	switch op {
	case bytecode.OpAbs:
		return func(x float32) float32 { return float32(math.Abs(f64(x))) }
	case bytecode.OpTrunc:
		return func(x float32) float32 { return float32(math.Trunc(f64(x))) }
	case bytecode.OpSqrt:
		return func(x float32) float32 { return float32(math.Sqrt(f64(x))) }
	case bytecode.OpRSqrt:
		return func(x float32) float32 { return float32(1 / math.Sqrt(f64(x))) }
	case bytecode.OpSin:
		return func(x float32) float32 { return float32(math.Sin(f64(x))) }
	case bytecode.OpCos:
		return func(x float32) float32 { return float32(math.Cos(f64(x))) }
	case bytecode.OpTan:
		return func(x float32) float32 { return float32(math.Tan(f64(x))) }
	case bytecode.OpAtan:
		return func(x float32) float32 { return float32(math.Atan(f64(x))) }
	case bytecode.OpLog2:
		return func(x float32) float32 { return float32(math.Log2(f64(x))) }
	case bytecode.OpLn:
		return func(x float32) float32 { return float32(math.Log(f64(x))) }
	case bytecode.OpExp:
		return func(x float32) float32 { return float32(math.Exp(f64(x))) }
	case bytecode.OpCeil:
		return func(x float32) float32 { return float32(math.Ceil(f64(x))) }
	case bytecode.OpFloor:
		return func(x float32) float32 { return float32(math.Floor(f64(x))) }
	case bytecode.OpFrac:
		return func(x float32) float32 { return x - float32(math.Floor(f64(x))) }
	case bytecode.OpSaturate:
		return func(x float32) float32 { return min(max(x, 0), 1) }
	case bytecode.OpSign:
		return signf
	case bytecode.OpEx:
		return extendedKernel(ex)
	}
	return nil
}

func extendedKernel(ex bytecode.ExtendedOpcode) unaryKernel {
	switch ex {
	case bytecode.ExSinh:
		return func(x float32) float32 { return float32(math.Sinh(f64(x))) }
	case bytecode.ExCosh:
		return func(x float32) float32 { return float32(math.Cosh(f64(x))) }
	case bytecode.ExTanh:
		return func(x float32) float32 { return float32(math.Tanh(f64(x))) }
	case bytecode.ExAsin:
		return func(x float32) float32 { return float32(math.Asin(f64(x))) }
	case bytecode.ExAcos:
		return func(x float32) float32 { return float32(math.Acos(f64(x))) }
	case bytecode.ExLog10:
		return func(x float32) float32 { return float32(math.Log10(f64(x))) }
	case bytecode.ExExp10:
		return func(x float32) float32 { return float32(math.Pow(10, f64(x))) }
	case bytecode.ExExp2:
		return func(x float32) float32 { return float32(math.Exp2(f64(x))) }
	case bytecode.ExRound:
		return func(x float32) float32 { return float32(math.RoundToEven(f64(x))) }
	case bytecode.ExDegrees:
		return func(x float32) float32 { return float32(f64(x) * 180 / math.Pi) }
	case bytecode.ExRadians:
		return func(x float32) float32 { return float32(f64(x) * math.Pi / 180) }
	}
	return nil
}

func signf(x float32) float32 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return x
}

func mapValue(v value, k unaryKernel) value {
	out := value{n: v.n}
	for i := 0; i < v.n; i++ {
		out.c[i] = k(v.c[i])
	}
	return out
}
